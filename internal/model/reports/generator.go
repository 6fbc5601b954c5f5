package reports

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jinzhu/now"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"max.ks1230/grants-portal/internal/entity/grant"
	"max.ks1230/grants-portal/internal/entity/submission"
	"max.ks1230/grants-portal/internal/logger"
	"max.ks1230/grants-portal/internal/model/customerr"
)

var reportFilters = map[string]func(t time.Time) time.Time{
	"":      func(time.Time) time.Time { return time.Time{} },
	"week":  func(t time.Time) time.Time { return now.With(t).BeginningOfWeek() },
	"month": func(t time.Time) time.Time { return now.With(t).BeginningOfMonth() },
	"year":  func(t time.Time) time.Time { return now.With(t).BeginningOfYear() },
}

type submissionStorage interface {
	ListByUser(ctx context.Context, email string) ([]submission.Submission, error)
}

type clock interface {
	Now() time.Time
}

type Record struct {
	Category grant.Category  `json:"category"`
	Count    int             `json:"count"`
	Amount   decimal.Decimal `json:"amount"`
}

type Report struct {
	Email       string          `json:"email"`
	Period      string          `json:"period"`
	Since       time.Time       `json:"since"`
	Records     []Record        `json:"records"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// Generator summarizes what a user claimed over a period. Rejected
// submissions are left out.
type Generator struct {
	storage submissionStorage
	clock   clock
}

func NewGenerator(storage submissionStorage, clock clock) *Generator {
	return &Generator{
		storage: storage,
		clock:   clock,
	}
}

func (g *Generator) GenerateReport(ctx context.Context, email, period string) (Report, error) {
	logger.Info("GenerateReport - start", zap.String("email", email), zap.String("period", period))
	defer logger.Info("GenerateReport - end")

	filter, ok := reportFilters[period]
	if !ok {
		return Report{}, customerr.Newf(customerr.MissingField, "report period %s is not supported", period)
	}
	since := filter(g.clock.Now())

	subs, err := g.storage.ListByUser(ctx, email)
	if err != nil {
		return Report{}, errors.Wrap(err, "generate report")
	}

	report := groupSubmissions(filterSubmissionsSince(subs, since))
	report.Email = email
	report.Period = period
	report.Since = since
	return report, nil
}

func filterSubmissionsSince(subs []submission.Submission, since time.Time) []submission.Submission {
	res := make([]submission.Submission, 0, len(subs))
	for _, sub := range subs {
		if sub.Status == submission.StatusRejected {
			continue
		}
		if !sub.CreatedAt.Before(since) {
			res = append(res, sub)
		}
	}
	return res
}

func groupSubmissions(subs []submission.Submission) Report {
	byCategory := make(map[grant.Category]*Record)
	total := decimal.Zero
	for _, sub := range subs {
		rec, ok := byCategory[sub.Category]
		if !ok {
			rec = &Record{Category: sub.Category, Amount: decimal.Zero}
			byCategory[sub.Category] = rec
		}
		rec.Count++
		rec.Amount = rec.Amount.Add(sub.Charges.Total)
		total = total.Add(sub.Charges.Total)
	}

	records := make([]Record, 0, len(byCategory))
	for _, rec := range byCategory {
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Amount.Equal(records[j].Amount) {
			return records[i].Category < records[j].Category
		}
		return records[i].Amount.GreaterThan(records[j].Amount)
	})
	return Report{Records: records, TotalAmount: total}
}

// Text renders the report as plain text.
func (r Report) Text() string {
	if len(r.Records) == 0 {
		return fmt.Sprintf("No claims for %s", periodTitle(r.Period))
	}
	text := fmt.Sprintf("Claims for %s:\n", periodTitle(r.Period))
	for _, rec := range r.Records {
		text += fmt.Sprintf("%s: %s (%d)\n", rec.Category.Title(), rec.Amount.StringFixed(2), rec.Count)
	}
	return text + fmt.Sprintf("Total: %s", r.TotalAmount.StringFixed(2))
}

func periodTitle(period string) string {
	if period == "" {
		return "all time"
	}
	return "this " + period
}
