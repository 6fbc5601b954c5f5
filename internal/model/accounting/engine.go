package accounting

import (
	"context"
	"time"

	"github.com/jinzhu/now"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"max.ks1230/grants-portal/internal/entity/grant"
	"max.ks1230/grants-portal/internal/logger"
)

var yearResets = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "grants",
		Subsystem: "accounting",
		Name:      "year_resets_total",
	},
	[]string{"source"},
)

type grantStorage interface {
	GetGrantRecord(ctx context.Context, email string) (grant.Record, error)
	ResetIfNewYear(ctx context.Context, email string, year int, defaults grant.Defaults) (grant.Record, bool, error)
	ResetAllStale(ctx context.Context, year int, defaults grant.Defaults) (int64, error)
	SpentBetween(ctx context.Context, email string, c grant.Category, from, to time.Time) (decimal.Decimal, error)
}

type Balance struct {
	Category  grant.Category  `json:"category"`
	Amount    decimal.Decimal `json:"balance"`
	Year      int             `json:"year"`
	YearReset bool            `json:"yearReset"`
}

type CategorySummary struct {
	Category  grant.Category  `json:"category"`
	Default   decimal.Decimal `json:"default"`
	Remaining decimal.Decimal `json:"remaining"`
	Spent     decimal.Decimal `json:"spent"`
}

type Summary struct {
	Email      string            `json:"email"`
	Year       int               `json:"year"`
	Categories []CategorySummary `json:"categories"`
}

// Engine owns the yearly reset rule. It is the only component that restores
// balances.
type Engine struct {
	storage  grantStorage
	clock    Clock
	defaults grant.Defaults
}

func NewEngine(storage grantStorage, clock Clock, defaults grant.Defaults) *Engine {
	return &Engine{
		storage:  storage,
		clock:    clock,
		defaults: defaults,
	}
}

func (e *Engine) Defaults() grant.Defaults {
	return e.defaults
}

func (e *Engine) CurrentYear() int {
	return CurrentYear(e.clock)
}

func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// GetCurrentBalance returns the remaining allowance of category c, resetting
// the record first when it still belongs to a previous year.
func (e *Engine) GetCurrentBalance(ctx context.Context, email string, c grant.Category) (Balance, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "getCurrentBalance")
	defer span.Finish()
	span.SetTag("category", string(c))

	if _, err := grant.ParseCategory(string(c)); err != nil {
		return Balance{}, err
	}

	year := e.CurrentYear()
	rec, err := e.storage.GetGrantRecord(ctx, email)
	if err != nil {
		ext.Error.Set(span, true)
		return Balance{}, errors.Wrap(err, "get current balance")
	}

	reset := false
	if rec.NeedsReset(year) {
		rec, reset, err = e.storage.ResetIfNewYear(ctx, email, year, e.defaults)
		if err != nil {
			ext.Error.Set(span, true)
			return Balance{}, errors.Wrap(err, "get current balance")
		}
		if reset {
			yearResets.WithLabelValues("lazy").Inc()
			logger.Info("grant year reset",
				zap.String("email", email),
				zap.Int("year", year))
		}
	}

	return Balance{
		Category:  c,
		Amount:    rec.Remaining(c),
		Year:      year,
		YearReset: reset,
	}, nil
}

// Summary reports the default, remaining and spent amount per category for
// the current grant year.
func (e *Engine) Summary(ctx context.Context, email string) (Summary, error) {
	t := e.clock.Now()
	from := now.With(t).BeginningOfYear()
	to := from.AddDate(1, 0, 0)

	res := Summary{Email: email, Year: t.Year()}
	for _, c := range grant.Categories() {
		bal, err := e.GetCurrentBalance(ctx, email, c)
		if err != nil {
			return Summary{}, errors.Wrap(err, "summary")
		}
		spent, err := e.storage.SpentBetween(ctx, email, c, from, to)
		if err != nil {
			return Summary{}, errors.Wrap(err, "summary")
		}
		res.Categories = append(res.Categories, CategorySummary{
			Category:  c,
			Default:   e.defaults.For(c),
			Remaining: bal.Amount,
			Spent:     spent,
		})
	}
	return res, nil
}

// ResetStale resets every record that still carries a previous year.
func (e *Engine) ResetStale(ctx context.Context) (int64, error) {
	year := e.CurrentYear()
	n, err := e.storage.ResetAllStale(ctx, year, e.defaults)
	if err != nil {
		return 0, errors.Wrap(err, "reset stale grants")
	}
	yearResets.WithLabelValues("sweep").Add(float64(n))
	return n, nil
}
