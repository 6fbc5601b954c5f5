package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"max.ks1230/grants-portal/internal/entity/grant"
	"max.ks1230/grants-portal/internal/entity/submission"
	"max.ks1230/grants-portal/internal/model/customerr"
)

type userRow struct {
	profile grant.Profile
	record  grant.Record
}

// InMemStorage keeps users and submissions in process memory. It follows the
// same conditional update rules as PostgresStorage.
type InMemStorage struct {
	mu          sync.RWMutex
	users       map[string]userRow
	submissions map[string]submission.Submission
	byUser      map[string][]string
}

func NewInMemStorage() *InMemStorage {
	return &InMemStorage{
		users:       make(map[string]userRow),
		submissions: make(map[string]submission.Submission),
		byUser:      make(map[string][]string),
	}
}

func (s *InMemStorage) CreateUser(ctx context.Context, p grant.Profile, rec grant.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[p.Email]; ok {
		return customerr.Newf(customerr.AlreadyExists, "user %s already exists", p.Email)
	}
	rec.Email = p.Email
	s.users[p.Email] = userRow{profile: p, record: rec}
	return ctx.Err()
}

func (s *InMemStorage) GetUser(_ context.Context, email string) (grant.Profile, grant.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[email]
	if !ok {
		return grant.Profile{}, grant.Record{}, userNotFound(email)
	}
	return u.profile, u.record, nil
}

func (s *InMemStorage) SetProfilePicture(_ context.Context, email, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[email]
	if !ok {
		return userNotFound(email)
	}
	u.profile.PictureRef = ref
	s.users[email] = u
	return nil
}

func (s *InMemStorage) GetGrantRecord(_ context.Context, email string) (grant.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[email]
	if !ok {
		return grant.Record{}, userNotFound(email)
	}
	return u.record, nil
}

func (s *InMemStorage) ResetIfNewYear(_ context.Context, email string, year int, defaults grant.Defaults) (grant.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[email]
	if !ok {
		return grant.Record{}, false, userNotFound(email)
	}
	if !u.record.NeedsReset(year) {
		return u.record, false, nil
	}
	u.record = u.record.Reset(defaults, year)
	s.users[email] = u
	return u.record, true, nil
}

func (s *InMemStorage) ResetAllStale(_ context.Context, year int, defaults grant.Defaults) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for email, u := range s.users {
		if u.record.NeedsReset(year) {
			u.record = u.record.Reset(defaults, year)
			s.users[email] = u
			n++
		}
	}
	return n, nil
}

func (s *InMemStorage) CommitSubmission(ctx context.Context, sub submission.Submission, year int) error {
	if err := ctx.Err(); err != nil {
		return customerr.Wrap(customerr.PersistenceFailure, err, "commit submission")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[sub.Submitter]
	if !ok {
		return userNotFound(sub.Submitter)
	}
	if u.record.NeedsReset(year) {
		return customerr.Newf(customerr.ConcurrencyConflict,
			"grant year changed from %d to %d", year, u.record.LastGrantYear)
	}
	remaining := u.record.Remaining(sub.Category)
	if remaining.LessThan(sub.Charges.Total) {
		return customerr.Newf(customerr.InsufficientBalance,
			"requested amount %s exceeds your remaining %s grant of %s",
			sub.Charges.Total.StringFixed(2), sub.Category, remaining.StringFixed(2))
	}
	if !remaining.Equal(sub.RemainingBalanceAfter.Add(sub.Charges.Total)) {
		return customerr.New(customerr.ConcurrencyConflict, "balance changed since it was read")
	}
	if _, dup := s.submissions[sub.ID]; dup {
		return customerr.Newf(customerr.PersistenceFailure, "submission %s already stored", sub.ID)
	}

	u.record = u.record.WithRemaining(sub.Category, remaining.Sub(sub.Charges.Total))
	s.users[sub.Submitter] = u
	s.submissions[sub.ID] = sub
	s.byUser[sub.Submitter] = append(s.byUser[sub.Submitter], sub.ID)
	return nil
}

func (s *InMemStorage) GetSubmission(_ context.Context, id string) (submission.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.submissions[id]
	if !ok {
		return submission.Submission{}, ErrSubmissionNotFound
	}
	return sub, nil
}

func (s *InMemStorage) ListByUser(_ context.Context, email string) ([]submission.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUser[email]
	res := make([]submission.Submission, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		res = append(res, s.submissions[ids[i]])
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

func (s *InMemStorage) SpentBetween(_ context.Context, email string, c grant.Category, from, to time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spent := decimal.Zero
	for _, id := range s.byUser[email] {
		sub := s.submissions[id]
		if sub.Category != c || sub.Status == submission.StatusRejected {
			continue
		}
		if sub.CreatedAt.Before(from) || !sub.CreatedAt.Before(to) {
			continue
		}
		spent = spent.Add(sub.Charges.Total)
	}
	return spent, nil
}
