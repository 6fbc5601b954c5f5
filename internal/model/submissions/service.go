package submissions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"max.ks1230/grants-portal/internal/entity/grant"
	"max.ks1230/grants-portal/internal/entity/submission"
	"max.ks1230/grants-portal/internal/logger"
	"max.ks1230/grants-portal/internal/model/accounting"
	"max.ks1230/grants-portal/internal/model/customerr"
	"max.ks1230/grants-portal/internal/model/locker"
	"max.ks1230/grants-portal/internal/model/storage"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 50 * time.Millisecond
)

type balanceEngine interface {
	GetCurrentBalance(ctx context.Context, email string, c grant.Category) (accounting.Balance, error)
	Summary(ctx context.Context, email string) (accounting.Summary, error)
	Now() time.Time
}

type submissionStorage interface {
	CommitSubmission(ctx context.Context, sub submission.Submission, year int) error
	GetSubmission(ctx context.Context, id string) (submission.Submission, error)
	ListByUser(ctx context.Context, email string) ([]submission.Submission, error)
}

type claimValidator interface {
	Validate(claim submission.Claim, balance decimal.Decimal) error
}

type documentStore interface {
	Put(ctx context.Context, email string, doc *submission.Document) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

type grantLocker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

type submissionCache interface {
	GetSubmissions(email string) ([]submission.Submission, uint64, error)
	CacheSubmissions(email string, generation uint64, subs []submission.Submission) error
	InvalidateSubmissions(email string) error
}

type eventPublisher interface {
	PublishAccepted(ctx context.Context, event submission.AcceptedEvent) error
}

type config interface {
	SubmitAttempts() int
	SubmitBackoff() time.Duration
}

// Accepted is returned to the submitter once the debit is durable.
type Accepted struct {
	SubmissionID          string          `json:"submissionId"`
	RemainingBalanceAfter decimal.Decimal `json:"remainingBalance"`
}

type Option func(*Service)

func WithCache(cache submissionCache) Option {
	return func(s *Service) { s.cache = cache }
}

func WithPublisher(publisher eventPublisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// Service turns claims into accepted submissions. Per (user, category) the
// check and the debit run under one lock, and the debit itself is a
// conditional write, so concurrent claims never overspend.
type Service struct {
	engine    balanceEngine
	storage   submissionStorage
	validator claimValidator
	documents documentStore
	locker    grantLocker
	cache     submissionCache
	publisher eventPublisher
	newID     func() string
	attempts  int
	backoff   time.Duration
}

func NewService(
	engine balanceEngine,
	storage submissionStorage,
	validator claimValidator,
	documents documentStore,
	locker grantLocker,
	config config,
	opts ...Option,
) *Service {
	s := &Service{
		engine:    engine,
		storage:   storage,
		validator: validator,
		documents: documents,
		locker:    locker,
		newID:     uuid.NewString,
		attempts:  config.SubmitAttempts(),
		backoff:   config.SubmitBackoff(),
	}
	if s.attempts <= 0 {
		s.attempts = defaultAttempts
	}
	if s.backoff <= 0 {
		s.backoff = defaultBackoff
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Submit(ctx context.Context, claim submission.Claim) (Accepted, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "submit")
	defer span.Finish()
	span.SetTag("category", string(claim.Category()))

	start := time.Now()
	res, err := s.submit(ctx, claim)
	observeSubmit(time.Since(start), err)

	if err != nil {
		if !customerr.IsClientError(err) {
			ext.Error.Set(span, true)
		}
		logger.Info("submission rejected",
			zap.String("email", claim.Submitter),
			zap.String("category", string(claim.Category())),
			zap.String("kind", string(customerr.KindOf(err))),
			zap.Error(err))
		return Accepted{}, err
	}
	return res, nil
}

func (s *Service) submit(ctx context.Context, claim submission.Claim) (Accepted, error) {
	if claim.Details == nil {
		return Accepted{}, s.validator.Validate(claim, decimal.Zero)
	}
	c := claim.Category()

	// Early rejection before anything is uploaded.
	bal, err := s.engine.GetCurrentBalance(ctx, claim.Submitter, c)
	if err != nil {
		return Accepted{}, err
	}
	if err = s.validator.Validate(claim, bal.Amount); err != nil {
		return Accepted{}, err
	}

	ref, err := s.documents.Put(ctx, claim.Submitter, claim.Receipt)
	if err != nil {
		return Accepted{}, err
	}

	id := s.newID()
	var sub submission.Submission
	for attempt := 1; ; attempt++ {
		sub, err = s.commit(ctx, id, claim, ref, attempt > 1)
		if err == nil {
			break
		}
		if !customerr.IsRetryable(err) || attempt >= s.attempts {
			// TODO: delete the orphaned receipt once the document store supports removal.
			return Accepted{}, err
		}
		retriesTotal.Inc()
		logger.Warn("retrying submission commit",
			zap.String("id", id),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if werr := s.sleep(ctx, attempt); werr != nil {
			return Accepted{}, customerr.Wrap(customerr.PersistenceFailure, werr, "submission was not recorded")
		}
	}

	s.afterAccept(ctx, sub)
	return Accepted{
		SubmissionID:          sub.ID,
		RemainingBalanceAfter: sub.RemainingBalanceAfter,
	}, nil
}

// commit runs one locked read-check-write round. When a previous round may
// have been applied, the stored submission is looked up first so the debit
// is never repeated.
func (s *Service) commit(ctx context.Context, id string, claim submission.Claim, ref string, recheck bool) (submission.Submission, error) {
	release, err := s.locker.Acquire(ctx, locker.Key(claim.Submitter, claim.Category()))
	if err != nil {
		return submission.Submission{}, err
	}
	defer release()

	if recheck {
		if stored, ok := s.lookup(ctx, id); ok {
			return stored, nil
		}
	}

	bal, err := s.engine.GetCurrentBalance(ctx, claim.Submitter, claim.Category())
	if err != nil {
		return submission.Submission{}, err
	}
	if err = s.validator.Validate(claim, bal.Amount); err != nil {
		return submission.Submission{}, err
	}

	sub := submission.FromClaim(id, claim, ref, bal.Amount.Sub(claim.Charges.Total), s.engine.Now())
	err = s.storage.CommitSubmission(ctx, sub, bal.Year)
	if err == nil {
		return sub, nil
	}
	if customerr.Is(err, customerr.PersistenceFailure) {
		if stored, ok := s.lookup(ctx, id); ok {
			logger.Info("commit reported failure but submission is stored", zap.String("id", id))
			return stored, nil
		}
	}
	return submission.Submission{}, err
}

func (s *Service) lookup(ctx context.Context, id string) (submission.Submission, bool) {
	stored, err := s.storage.GetSubmission(ctx, id)
	if err != nil {
		return submission.Submission{}, false
	}
	return stored, true
}

func (s *Service) sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(s.backoff * time.Duration(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Service) afterAccept(ctx context.Context, sub submission.Submission) {
	logger.Info("submission accepted",
		zap.String("id", sub.ID),
		zap.String("email", sub.Submitter),
		zap.String("category", string(sub.Category)),
		zap.String("total", sub.Charges.Total.StringFixed(2)),
		zap.String("remaining", sub.RemainingBalanceAfter.StringFixed(2)))

	if s.cache != nil {
		if err := s.cache.InvalidateSubmissions(sub.Submitter); err != nil {
			logger.Warn("failed to invalidate submissions cache", zap.String("email", sub.Submitter), zap.Error(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishAccepted(ctx, sub.AcceptedEvent()); err != nil {
			logger.Warn("failed to publish accepted submission", zap.String("id", sub.ID), zap.Error(err))
		}
	}
}

// ListSubmissions returns the user's submissions, newest first.
// A list is cached under the generation read before loading it, so a
// submission accepted in between invalidates it.
func (s *Service) ListSubmissions(ctx context.Context, email string) ([]submission.Submission, error) {
	var generation uint64
	if s.cache != nil {
		subs, gen, err := s.cache.GetSubmissions(email)
		if err == nil {
			return subs, nil
		}
		generation = gen
		logger.Debug("submissions cache miss", zap.String("email", email), zap.Error(err))
	}

	subs, err := s.storage.ListByUser(ctx, email)
	if err != nil {
		return nil, errors.Wrap(err, "list submissions")
	}

	if s.cache != nil && generation != 0 {
		if err = s.cache.CacheSubmissions(email, generation, subs); err != nil {
			logger.Warn("failed to cache submissions", zap.String("email", email), zap.Error(err))
		}
	}
	return subs, nil
}

// Receipt returns a stored submission together with its receipt bytes.
// Submissions of other users are reported as not found.
func (s *Service) Receipt(ctx context.Context, email, id string) (submission.Submission, []byte, error) {
	sub, err := s.storage.GetSubmission(ctx, id)
	if err != nil {
		return submission.Submission{}, nil, errors.Wrap(err, "get receipt")
	}
	if sub.Submitter != email {
		return submission.Submission{}, nil, storage.ErrSubmissionNotFound
	}
	data, err := s.documents.Get(ctx, sub.ReceiptRef)
	if err != nil {
		return submission.Submission{}, nil, errors.Wrap(err, "get receipt")
	}
	return sub, data, nil
}

func (s *Service) GetCurrentBalance(ctx context.Context, email string, c grant.Category) (accounting.Balance, error) {
	return s.engine.GetCurrentBalance(ctx, email, c)
}

func (s *Service) Summary(ctx context.Context, email string) (accounting.Summary, error) {
	return s.engine.Summary(ctx, email)
}
