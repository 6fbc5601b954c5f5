package accounting

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"max.ks1230/grants-portal/internal/entity/grant"
	"max.ks1230/grants-portal/internal/entity/submission"
	"max.ks1230/grants-portal/internal/model/customerr"
	"max.ks1230/grants-portal/internal/model/storage"
)

const email = "staff@uni.edu"

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 12, 0, 0, 0, time.UTC)
}

func newEngine(t *testing.T, clock *fakeClock, rec grant.Record) (*Engine, *storage.InMemStorage) {
	t.Helper()
	st := storage.NewInMemStorage()
	require.NoError(t, st.CreateUser(context.Background(), grant.Profile{Email: email}, rec))
	return NewEngine(st, clock, grant.DefaultAllowances()), st
}

func Test_GetCurrentBalance_SameYearUnchanged(t *testing.T) {
	clock := &fakeClock{t: date(2024, time.June, 1)}
	rec := grant.Record{
		RemainingResearch: decimal.NewFromInt(5000),
		RemainingJournal:  decimal.NewFromInt(30000),
		LastGrantYear:     2024,
	}
	engine, _ := newEngine(t, clock, rec)

	bal, err := engine.GetCurrentBalance(context.Background(), email, grant.Research)

	require.NoError(t, err)
	assert.True(t, bal.Amount.Equal(decimal.NewFromInt(5000)))
	assert.False(t, bal.YearReset)
	assert.Equal(t, 2024, bal.Year)
}

func Test_GetCurrentBalance_NewYearResetsBothCategories(t *testing.T) {
	clock := &fakeClock{t: date(2025, time.January, 2)}
	rec := grant.Record{
		RemainingResearch: decimal.NewFromInt(5000),
		RemainingJournal:  decimal.NewFromInt(100),
		LastGrantYear:     2024,
	}
	engine, st := newEngine(t, clock, rec)

	bal, err := engine.GetCurrentBalance(context.Background(), email, grant.Research)
	require.NoError(t, err)
	assert.True(t, bal.Amount.Equal(decimal.NewFromInt(20000)))
	assert.True(t, bal.YearReset)

	stored, err := st.GetGrantRecord(context.Background(), email)
	require.NoError(t, err)
	assert.Equal(t, 2025, stored.LastGrantYear)
	assert.True(t, stored.RemainingJournal.Equal(decimal.NewFromInt(30000)))
}

func Test_GetCurrentBalance_ResetIsIdempotent(t *testing.T) {
	clock := &fakeClock{t: date(2025, time.March, 1)}
	rec := grant.Record{
		RemainingResearch: decimal.NewFromInt(1),
		RemainingJournal:  decimal.NewFromInt(1),
		LastGrantYear:     2024,
	}
	engine, st := newEngine(t, clock, rec)
	ctx := context.Background()

	first, err := engine.GetCurrentBalance(ctx, email, grant.Research)
	require.NoError(t, err)
	assert.True(t, first.YearReset)

	spent := submission.Submission{
		ID:                    "s-1",
		Submitter:             email,
		Category:              grant.Research,
		Charges:               submission.Charges{Total: decimal.NewFromInt(500)},
		RemainingBalanceAfter: decimal.NewFromInt(19500),
		CreatedAt:             clock.t,
	}
	require.NoError(t, st.CommitSubmission(ctx, spent, 2025))

	second, err := engine.GetCurrentBalance(ctx, email, grant.Research)
	require.NoError(t, err)
	assert.False(t, second.YearReset)
	assert.True(t, second.Amount.Equal(decimal.NewFromInt(19500)))
}

func Test_GetCurrentBalance_UnknownUser(t *testing.T) {
	clock := &fakeClock{t: date(2024, time.June, 1)}
	engine := NewEngine(storage.NewInMemStorage(), clock, grant.DefaultAllowances())

	_, err := engine.GetCurrentBalance(context.Background(), "ghost@uni.edu", grant.Journal)

	assert.True(t, customerr.Is(err, customerr.UserNotFound))
}

func Test_GetCurrentBalance_UnknownCategory(t *testing.T) {
	clock := &fakeClock{t: date(2024, time.June, 1)}
	engine, _ := newEngine(t, clock, grant.NewRecord(email, grant.DefaultAllowances(), 2024))

	_, err := engine.GetCurrentBalance(context.Background(), email, grant.Category("travel"))

	assert.Error(t, err)
}

func Test_Summary_CountsOnlyCurrentYear(t *testing.T) {
	clock := &fakeClock{t: date(2024, time.December, 30)}
	engine, st := newEngine(t, clock, grant.NewRecord(email, grant.DefaultAllowances(), 2024))
	ctx := context.Background()

	require.NoError(t, st.CommitSubmission(ctx, submission.Submission{
		ID:                    "s-1",
		Submitter:             email,
		Category:              grant.Journal,
		Charges:               submission.Charges{Total: decimal.NewFromInt(1200)},
		RemainingBalanceAfter: decimal.NewFromInt(28800),
		CreatedAt:             clock.t,
	}, 2024))

	summary, err := engine.Summary(ctx, email)
	require.NoError(t, err)
	require.Len(t, summary.Categories, 2)
	journal := summary.Categories[1]
	assert.Equal(t, grant.Journal, journal.Category)
	assert.True(t, journal.Spent.Equal(decimal.NewFromInt(1200)))
	assert.True(t, journal.Remaining.Equal(decimal.NewFromInt(28800)))

	clock.t = date(2025, time.January, 1)
	summary, err = engine.Summary(ctx, email)
	require.NoError(t, err)
	journal = summary.Categories[1]
	assert.True(t, journal.Spent.IsZero())
	assert.True(t, journal.Remaining.Equal(decimal.NewFromInt(30000)))
}

func Test_ResetStale(t *testing.T) {
	clock := &fakeClock{t: date(2025, time.January, 1)}
	engine, st := newEngine(t, clock, grant.NewRecord(email, grant.DefaultAllowances(), 2024))
	require.NoError(t, st.CreateUser(context.Background(),
		grant.Profile{Email: "fresh@uni.edu"},
		grant.NewRecord("fresh@uni.edu", grant.DefaultAllowances(), 2025)))

	n, err := engine.ResetStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = engine.ResetStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
