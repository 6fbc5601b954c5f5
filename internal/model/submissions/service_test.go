package submissions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"max.ks1230/grants-portal/internal/clients/documents"
	"max.ks1230/grants-portal/internal/entity/grant"
	"max.ks1230/grants-portal/internal/entity/submission"
	"max.ks1230/grants-portal/internal/model/accounting"
	"max.ks1230/grants-portal/internal/model/customerr"
	"max.ks1230/grants-portal/internal/model/locker"
	"max.ks1230/grants-portal/internal/model/storage"
	"max.ks1230/grants-portal/internal/model/validator"
)

const email = "staff@uni.edu"

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type retryConfig struct{}

func (retryConfig) SubmitAttempts() int          { return 3 }
func (retryConfig) SubmitBackoff() time.Duration { return time.Millisecond }

type cacheMock struct{ mock.Mock }

func (m *cacheMock) GetSubmissions(email string) ([]submission.Submission, uint64, error) {
	args := m.Called(email)
	subs, _ := args.Get(0).([]submission.Submission)
	return subs, args.Get(1).(uint64), args.Error(2)
}

func (m *cacheMock) CacheSubmissions(email string, generation uint64, subs []submission.Submission) error {
	return m.Called(email, generation, subs).Error(0)
}

// genCache keeps one list per user tagged with the generation it was read
// under, like the memcache client.
type genCache struct {
	mu         sync.Mutex
	generation map[string]uint64
	lists      map[string]cachedList
}

type cachedList struct {
	generation uint64
	subs       []submission.Submission
}

func newGenCache() *genCache {
	return &genCache{generation: make(map[string]uint64), lists: make(map[string]cachedList)}
}

func (c *genCache) GetSubmissions(email string) ([]submission.Submission, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen, ok := c.generation[email]
	if !ok {
		gen = 1
		c.generation[email] = gen
	}
	list, ok := c.lists[email]
	if !ok || list.generation != gen {
		return nil, gen, errors.New("cache miss")
	}
	return list.subs, gen, nil
}

func (c *genCache) CacheSubmissions(email string, generation uint64, subs []submission.Submission) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[email] = cachedList{generation: generation, subs: subs}
	return nil
}

func (c *genCache) InvalidateSubmissions(email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.generation[email]; ok {
		c.generation[email]++
	}
	delete(c.lists, email)
	return nil
}

// pausingStorage holds the first ListByUser call after it has read the rows
// until resume is closed.
type pausingStorage struct {
	*storage.InMemStorage
	once   sync.Once
	listed chan struct{}
	resume chan struct{}
}

func (p *pausingStorage) ListByUser(ctx context.Context, email string) ([]submission.Submission, error) {
	subs, err := p.InMemStorage.ListByUser(ctx, email)
	p.once.Do(func() {
		close(p.listed)
		<-p.resume
	})
	return subs, err
}

func (m *cacheMock) InvalidateSubmissions(email string) error {
	return m.Called(email).Error(0)
}

type publisherMock struct{ mock.Mock }

func (m *publisherMock) PublishAccepted(ctx context.Context, event submission.AcceptedEvent) error {
	return m.Called(ctx, event).Error(0)
}

// flakyStorage fails the first n commits. When apply is set the failing
// commits still reach the underlying store.
type flakyStorage struct {
	*storage.InMemStorage
	mu      sync.Mutex
	failing int
	apply   bool
	commits int
}

func (f *flakyStorage) CommitSubmission(ctx context.Context, sub submission.Submission, year int) error {
	f.mu.Lock()
	f.commits++
	fail := f.failing > 0
	if fail {
		f.failing--
	}
	f.mu.Unlock()

	if !fail {
		return f.InMemStorage.CommitSubmission(ctx, sub, year)
	}
	if f.apply {
		if err := f.InMemStorage.CommitSubmission(ctx, sub, year); err != nil {
			return err
		}
	}
	return customerr.Wrap(customerr.PersistenceFailure, errors.New("connection reset"), "commit submission")
}

type fixture struct {
	service *Service
	storage *storage.InMemStorage
	docs    *documents.InMemStore
}

func newFixture(t *testing.T, defaults grant.Defaults, st submissionStorage, mem *storage.InMemStorage, opts ...Option) fixture {
	t.Helper()
	clock := fixedClock{t: time.Date(2024, time.May, 10, 9, 0, 0, 0, time.UTC)}
	require.NoError(t, mem.CreateUser(context.Background(),
		grant.Profile{Email: email, Name: "Dr. Staff"},
		grant.NewRecord(email, defaults, 2024)))

	engine := accounting.NewEngine(mem, clock, defaults)
	docs := documents.NewInMemStore()
	if st == nil {
		st = mem
	}
	service := NewService(engine, st, validator.New(), docs, locker.NewKeyedLocker(time.Second), retryConfig{}, opts...)
	return fixture{service: service, storage: mem, docs: docs}
}

func researchClaim(fee, travel, lodging, total string) submission.Claim {
	c := submission.NewResearchClaim(email, submission.Event{
		Name:  "International Conference on Software Engineering",
		Date:  time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC),
		Venue: "Lisbon",
	})
	c.Title = "Typed claims in practice"
	c.Applicant = submission.Applicant{Name: "Dr. Staff", Phone: "+100200300"}
	c.Bank = submission.BankInfo{AccountName: "Dr. Staff", AccountNumber: "001122", RoutingCode: "RT-9"}
	c.DeclarationAccepted = true
	c.Charges = submission.Charges{
		RegistrationFee: decimal.RequireFromString(fee),
		Travel:          decimal.RequireFromString(travel),
		Lodging:         decimal.RequireFromString(lodging),
		Total:           decimal.RequireFromString(total),
	}
	c.Receipt = &submission.Document{FileName: "receipt.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")}
	return c
}

func remaining(t *testing.T, st *storage.InMemStorage, c grant.Category) decimal.Decimal {
	t.Helper()
	rec, err := st.GetGrantRecord(context.Background(), email)
	require.NoError(t, err)
	return rec.Remaining(c)
}

func Test_Submit_AcceptThenRejectOverBalance(t *testing.T) {
	f := newFixture(t, grant.DefaultAllowances(), nil, storage.NewInMemStorage())
	ctx := context.Background()

	res, err := f.service.Submit(ctx, researchClaim("4000", "5000", "1000", "10000"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.SubmissionID)
	assert.True(t, res.RemainingBalanceAfter.Equal(decimal.NewFromInt(10000)))

	_, err = f.service.Submit(ctx, researchClaim("5000", "5000", "5000", "15000"))
	assert.True(t, customerr.Is(err, customerr.InsufficientBalance))
	assert.Equal(t, "requested amount 15000.00 exceeds your remaining research grant of 10000.00", customerr.Reason(err))

	assert.True(t, remaining(t, f.storage, grant.Research).Equal(decimal.NewFromInt(10000)))
	assert.True(t, remaining(t, f.storage, grant.Journal).Equal(decimal.NewFromInt(30000)))
	assert.Equal(t, 1, f.docs.Len())
}

func Test_Submit_ChargeMismatchLeavesNoTrace(t *testing.T) {
	f := newFixture(t, grant.DefaultAllowances(), nil, storage.NewInMemStorage())

	_, err := f.service.Submit(context.Background(), researchClaim("100", "200", "0", "250"))

	assert.True(t, customerr.Is(err, customerr.ChargeMismatch))
	assert.Equal(t, "total amount 250.00 doesn't match sum of individual charges 300.00", customerr.Reason(err))
	assert.True(t, remaining(t, f.storage, grant.Research).Equal(decimal.NewFromInt(20000)))
	assert.Equal(t, 0, f.docs.Len())

	subs, err := f.service.ListSubmissions(context.Background(), email)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func Test_Submit_AcceptsWithinTolerance(t *testing.T) {
	f := newFixture(t, grant.DefaultAllowances(), nil, storage.NewInMemStorage())

	res, err := f.service.Submit(context.Background(), researchClaim("100.00", "200.00", "0.005", "300.00"))

	require.NoError(t, err)
	assert.True(t, res.RemainingBalanceAfter.Equal(decimal.NewFromInt(19700)))
}

func Test_Submit_RejectsUnrecognizedReceipt(t *testing.T) {
	f := newFixture(t, grant.DefaultAllowances(), nil, storage.NewInMemStorage())
	claim := researchClaim("100", "0", "0", "100")
	claim.Receipt = &submission.Document{FileName: "receipt.docx", ContentType: "application/msword", Data: []byte("doc")}

	_, err := f.service.Submit(context.Background(), claim)

	assert.True(t, customerr.Is(err, customerr.UploadRejected))
	assert.True(t, remaining(t, f.storage, grant.Research).Equal(decimal.NewFromInt(20000)))
}

func Test_Submit_MissingDetails(t *testing.T) {
	f := newFixture(t, grant.DefaultAllowances(), nil, storage.NewInMemStorage())
	claim := researchClaim("100", "0", "0", "100")
	claim.Details = nil

	_, err := f.service.Submit(context.Background(), claim)

	assert.True(t, customerr.Is(err, customerr.MissingField))
}

func Test_Submit_UnknownUser(t *testing.T) {
	f := newFixture(t, grant.DefaultAllowances(), nil, storage.NewInMemStorage())
	claim := researchClaim("100", "0", "0", "100")
	claim.Submitter = "ghost@uni.edu"

	_, err := f.service.Submit(context.Background(), claim)

	assert.True(t, customerr.Is(err, customerr.UserNotFound))
	assert.Equal(t, 0, f.docs.Len())
}

func Test_Submit_ConcurrentClaimsNeverOverspend(t *testing.T) {
	defaults := grant.Defaults{Research: decimal.NewFromInt(100), Journal: decimal.NewFromInt(100)}
	f := newFixture(t, defaults, nil, storage.NewInMemStorage())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.service.Submit(context.Background(), researchClaim("60", "0", "0", "60"))
		}(i)
	}
	wg.Wait()

	accepted, rejected := 0, 0
	for _, err := range errs {
		if err == nil {
			accepted++
		} else if customerr.Is(err, customerr.InsufficientBalance) {
			rejected++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, rejected)
	assert.True(t, remaining(t, f.storage, grant.Research).Equal(decimal.NewFromInt(40)))
}

func Test_Submit_ConservesBalance(t *testing.T) {
	f := newFixture(t, grant.DefaultAllowances(), nil, storage.NewInMemStorage())
	ctx := context.Background()
	totals := []string{"1500", "2500.50", "99.99", "20000", "7000"}

	for _, total := range totals {
		_, _ = f.service.Submit(ctx, researchClaim(total, "0", "0", total))
	}

	subs, err := f.service.ListSubmissions(ctx, email)
	require.NoError(t, err)
	spent := decimal.Zero
	for _, s := range subs {
		spent = spent.Add(s.Charges.Total)
	}
	left := remaining(t, f.storage, grant.Research)
	assert.True(t, left.Add(spent).Equal(decimal.NewFromInt(20000)))
	assert.False(t, left.IsNegative())
	assert.Len(t, subs, 4)
}

func Test_Submit_RetriesPersistenceFailure(t *testing.T) {
	mem := storage.NewInMemStorage()
	flaky := &flakyStorage{InMemStorage: mem, failing: 1}
	f := newFixture(t, grant.DefaultAllowances(), flaky, mem)

	res, err := f.service.Submit(context.Background(), researchClaim("500", "0", "0", "500"))

	require.NoError(t, err)
	assert.Equal(t, 2, flaky.commits)
	assert.True(t, res.RemainingBalanceAfter.Equal(decimal.NewFromInt(19500)))
	assert.True(t, remaining(t, mem, grant.Research).Equal(decimal.NewFromInt(19500)))
}

func Test_Submit_ResolvesAmbiguousCommit(t *testing.T) {
	mem := storage.NewInMemStorage()
	flaky := &flakyStorage{InMemStorage: mem, failing: 1, apply: true}
	f := newFixture(t, grant.DefaultAllowances(), flaky, mem)

	res, err := f.service.Submit(context.Background(), researchClaim("500", "0", "0", "500"))

	require.NoError(t, err)
	assert.Equal(t, 1, flaky.commits)
	assert.True(t, res.RemainingBalanceAfter.Equal(decimal.NewFromInt(19500)))
	assert.True(t, remaining(t, mem, grant.Research).Equal(decimal.NewFromInt(19500)))
}

func Test_Submit_GivesUpAfterAttempts(t *testing.T) {
	mem := storage.NewInMemStorage()
	flaky := &flakyStorage{InMemStorage: mem, failing: 10}
	f := newFixture(t, grant.DefaultAllowances(), flaky, mem)

	_, err := f.service.Submit(context.Background(), researchClaim("500", "0", "0", "500"))

	assert.True(t, customerr.Is(err, customerr.PersistenceFailure))
	assert.Equal(t, 3, flaky.commits)
	assert.True(t, remaining(t, mem, grant.Research).Equal(decimal.NewFromInt(20000)))
}

func Test_Submit_InvalidatesCacheAndPublishes(t *testing.T) {
	cache := &cacheMock{}
	publisher := &publisherMock{}
	cache.On("InvalidateSubmissions", email).Return(nil).Once()
	publisher.On("PublishAccepted", mock.Anything, mock.MatchedBy(func(e submission.AcceptedEvent) bool {
		return e.Submitter == email && e.Category == grant.Journal && e.Total.Equal(decimal.NewFromInt(700))
	})).Return(errors.New("broker down")).Once()

	f := newFixture(t, grant.DefaultAllowances(), nil, storage.NewInMemStorage(),
		WithCache(cache), WithPublisher(publisher), WithIDGenerator(func() string { return "sub-1" }))

	claim := researchClaim("700", "0", "0", "700")
	claim.Details = submission.JournalDetails{Journal: claim.Event(), ISSN: "1234-5678"}

	res, err := f.service.Submit(context.Background(), claim)

	require.NoError(t, err)
	assert.Equal(t, "sub-1", res.SubmissionID)
	assert.True(t, res.RemainingBalanceAfter.Equal(decimal.NewFromInt(29300)))
	cache.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func Test_ListSubmissions_ReadThroughCache(t *testing.T) {
	cache := &cacheMock{}
	f := newFixture(t, grant.DefaultAllowances(), nil, storage.NewInMemStorage(), WithCache(cache))
	ctx := context.Background()

	cache.On("InvalidateSubmissions", email).Return(nil)
	_, err := f.service.Submit(ctx, researchClaim("10", "0", "0", "10"))
	require.NoError(t, err)

	cache.On("GetSubmissions", email).Return(nil, uint64(7), errors.New("cache miss")).Once()
	cache.On("CacheSubmissions", email, uint64(7), mock.Anything).Return(nil).Once()
	subs, err := f.service.ListSubmissions(ctx, email)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	cache.On("GetSubmissions", email).Return(subs, uint64(7), nil).Once()
	cached, err := f.service.ListSubmissions(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, subs, cached)
	cache.AssertExpectations(t)
}

func Test_Receipt_OnlyForOwner(t *testing.T) {
	f := newFixture(t, grant.DefaultAllowances(), nil, storage.NewInMemStorage())
	ctx := context.Background()
	res, err := f.service.Submit(ctx, researchClaim("10", "0", "0", "10"))
	require.NoError(t, err)

	sub, data, err := f.service.Receipt(ctx, email, res.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, res.SubmissionID, sub.ID)
	assert.Equal(t, []byte("%PDF-1.4"), data)

	_, _, err = f.service.Receipt(ctx, "other@uni.edu", res.SubmissionID)
	assert.True(t, customerr.Is(err, customerr.NotFound))

	_, _, err = f.service.Receipt(ctx, email, "missing")
	assert.True(t, customerr.Is(err, customerr.NotFound))
}

func Test_ListSubmissions_SubmitDuringLoadIsNotHidden(t *testing.T) {
	mem := storage.NewInMemStorage()
	paused := &pausingStorage{InMemStorage: mem, listed: make(chan struct{}), resume: make(chan struct{})}
	f := newFixture(t, grant.DefaultAllowances(), paused, mem, WithCache(newGenCache()))
	ctx := context.Background()

	done := make(chan []submission.Submission)
	go func() {
		subs, err := f.service.ListSubmissions(ctx, email)
		assert.NoError(t, err)
		done <- subs
	}()

	<-paused.listed
	res, err := f.service.Submit(ctx, researchClaim("10", "0", "0", "10"))
	require.NoError(t, err)
	close(paused.resume)
	assert.Empty(t, <-done)

	subs, err := f.service.ListSubmissions(ctx, email)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, res.SubmissionID, subs[0].ID)
}

func Test_ListSubmissions_SkipsCacheWithoutGeneration(t *testing.T) {
	cache := &cacheMock{}
	f := newFixture(t, grant.DefaultAllowances(), nil, storage.NewInMemStorage(), WithCache(cache))

	cache.On("GetSubmissions", email).Return(nil, uint64(0), errors.New("memcache down")).Once()
	subs, err := f.service.ListSubmissions(context.Background(), email)

	require.NoError(t, err)
	assert.Empty(t, subs)
	cache.AssertNotCalled(t, "CacheSubmissions", mock.Anything, mock.Anything, mock.Anything)
}
