package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	// postgres driver
	_ "github.com/lib/pq"
	"max.ks1230/grants-portal/internal/entity/grant"
	"max.ks1230/grants-portal/internal/entity/submission"
	"max.ks1230/grants-portal/internal/logger"
	"max.ks1230/grants-portal/internal/model/customerr"
)

const dsnTemplate = "user=%s password=%s host=%s port=%d dbname=%s sslmode=%s"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var userColumns = []string{
	"email", "name", "role", "designation", "phone", "password_hash", "profile_picture",
	"remaining_research_grant", "remaining_journal_grant", "last_grant_year",
}

var submissionColumns = []string{
	"id", "submitter", "applicant_name", "applicant_phone", "category", "title",
	"event_name", "event_date", "event_venue", "event_deadline", "issn",
	"bank_account_name", "bank_account_number", "bank_routing_code",
	"registration_fee", "travel", "lodging", "total",
	"co_author_count", "receipt_ref", "declaration_accepted", "status",
	"remaining_balance_after", "created_at",
}

type config interface {
	Host() string
	Port() int
	Username() string
	Password() string
	Database() string
	SSLMode() string
	MaxOpenConns() int
}

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(config config) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", DSN(config))
	if err != nil {
		return nil, errors.Wrap(err, "cannot connect to database")
	}
	if config.MaxOpenConns() > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns())
	}
	if err = db.Ping(); err != nil {
		return nil, errors.Wrap(err, "cannot connect to database")
	}
	return &PostgresStorage{db}, nil
}

// NewPostgresStorageFromDB wraps an already opened handle.
func NewPostgresStorageFromDB(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db}
}

func DSN(config config) string {
	return fmt.Sprintf(dsnTemplate,
		config.Username(),
		config.Password(),
		config.Host(),
		config.Port(),
		config.Database(),
		config.SSLMode())
}

func (s *PostgresStorage) DB() *sql.DB {
	return s.db
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func balanceColumn(c grant.Category) string {
	if c == grant.Journal {
		return "remaining_journal_grant"
	}
	return "remaining_research_grant"
}

func persistence(err error, op string) error {
	return customerr.Wrap(customerr.PersistenceFailure, err, op)
}

func (s *PostgresStorage) CreateUser(ctx context.Context, p grant.Profile, rec grant.Record) error {
	query := psql.Insert("users").
		Columns(append(userColumns, "created_at", "updated_at")...).
		Values(p.Email, p.Name, p.Role, p.Designation, p.Phone, p.PasswordHash, p.PictureRef,
			rec.RemainingResearch, rec.RemainingJournal, rec.LastGrantYear, time.Now(), time.Now()).
		Suffix("ON CONFLICT (email) DO NOTHING")

	res, err := query.RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return persistence(err, "create user")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistence(err, "create user")
	}
	if n == 0 {
		return customerr.Newf(customerr.AlreadyExists, "user %s already exists", p.Email)
	}
	return nil
}

func (s *PostgresStorage) GetUser(ctx context.Context, email string) (grant.Profile, grant.Record, error) {
	query := psql.Select(userColumns...).
		From("users").
		Where(sq.Eq{"email": email})

	var p grant.Profile
	var rec grant.Record
	err := query.RunWith(s.db).QueryRowContext(ctx).Scan(
		&p.Email, &p.Name, &p.Role, &p.Designation, &p.Phone, &p.PasswordHash, &p.PictureRef,
		&rec.RemainingResearch, &rec.RemainingJournal, &rec.LastGrantYear)
	if errors.Is(err, sql.ErrNoRows) {
		return grant.Profile{}, grant.Record{}, userNotFound(email)
	}
	if err != nil {
		return grant.Profile{}, grant.Record{}, persistence(err, "get user")
	}
	rec.Email = p.Email
	return p, rec, nil
}

// SetProfilePicture points the user's profile at ref.
func (s *PostgresStorage) SetProfilePicture(ctx context.Context, email, ref string) error {
	query := psql.Update("users").
		Set("profile_picture", ref).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"email": email})

	res, err := query.RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return persistence(err, "set profile picture")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistence(err, "set profile picture")
	}
	if n == 0 {
		return userNotFound(email)
	}
	return nil
}

func (s *PostgresStorage) GetGrantRecord(ctx context.Context, email string) (grant.Record, error) {
	return getGrantRecord(ctx, s.db, email, "")
}

func getGrantRecord(ctx context.Context, runner sq.BaseRunner, email, suffix string) (grant.Record, error) {
	query := psql.Select("email", "remaining_research_grant", "remaining_journal_grant", "last_grant_year").
		From("users").
		Where(sq.Eq{"email": email})
	if suffix != "" {
		query = query.Suffix(suffix)
	}

	var rec grant.Record
	err := query.RunWith(runner).QueryRowContext(ctx).
		Scan(&rec.Email, &rec.RemainingResearch, &rec.RemainingJournal, &rec.LastGrantYear)
	if errors.Is(err, sql.ErrNoRows) {
		return grant.Record{}, userNotFound(email)
	}
	if err != nil {
		return grant.Record{}, persistence(err, "get grant record")
	}
	return rec, nil
}

// ResetIfNewYear restores the defaults when the stored year differs from year.
// The condition is evaluated by the database, so concurrent callers reset at
// most once per year.
func (s *PostgresStorage) ResetIfNewYear(ctx context.Context, email string, year int, defaults grant.Defaults) (grant.Record, bool, error) {
	query := resetQuery(year, defaults).Where(sq.Eq{"email": email})

	res, err := query.RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return grant.Record{}, false, persistence(err, "reset grant year")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return grant.Record{}, false, persistence(err, "reset grant year")
	}

	rec, err := s.GetGrantRecord(ctx, email)
	if err != nil {
		return grant.Record{}, false, err
	}
	return rec, n > 0, nil
}

func (s *PostgresStorage) ResetAllStale(ctx context.Context, year int, defaults grant.Defaults) (int64, error) {
	res, err := resetQuery(year, defaults).RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return 0, persistence(err, "reset stale grants")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistence(err, "reset stale grants")
	}
	return n, nil
}

func resetQuery(year int, defaults grant.Defaults) sq.UpdateBuilder {
	return psql.Update("users").
		Set("remaining_research_grant", defaults.Research).
		Set("remaining_journal_grant", defaults.Journal).
		Set("last_grant_year", year).
		Set("updated_at", time.Now()).
		Where(sq.NotEq{"last_grant_year": year})
}

// CommitSubmission debits the submitter's balance and records the submission
// in one transaction. The debit only applies when the stored balance still
// equals RemainingBalanceAfter+Total for the given grant year.
func (s *PostgresStorage) CommitSubmission(ctx context.Context, sub submission.Submission, year int) (err error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "commitSubmission")
	defer span.Finish()
	defer func() {
		if err != nil {
			ext.Error.Set(span, true)
		}
	}()

	column := balanceColumn(sub.Category)
	before := sub.RemainingBalanceAfter.Add(sub.Charges.Total)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence(err, "begin transaction")
	}
	defer func() {
		txErr := tx.Rollback()
		if txErr != nil && !errors.Is(txErr, sql.ErrTxDone) {
			logger.Error("error when transaction rollback", zap.Error(txErr))
		}
	}()

	var after decimal.Decimal
	err = psql.Update("users").
		Set(column, sq.Expr(column+" - ?", sub.Charges.Total)).
		Set("updated_at", sub.CreatedAt).
		Where(sq.Eq{"email": sub.Submitter, "last_grant_year": year, column: before}).
		Suffix("RETURNING "+column).
		RunWith(tx).QueryRowContext(ctx).Scan(&after)
	if errors.Is(err, sql.ErrNoRows) {
		return classifyRejectedDebit(ctx, tx, sub, year)
	}
	if err != nil {
		return persistence(err, "debit balance")
	}
	if !after.Equal(sub.RemainingBalanceAfter) {
		return customerr.Newf(customerr.ConcurrencyConflict,
			"balance after debit is %s, expected %s", after, sub.RemainingBalanceAfter)
	}

	_, err = psql.Insert("submissions").
		Columns(submissionColumns...).
		Values(submissionValues(sub)...).
		RunWith(tx).ExecContext(ctx)
	if err != nil {
		return persistence(err, "insert submission")
	}

	if err = tx.Commit(); err != nil {
		return persistence(err, "commit submission")
	}
	return nil
}

func classifyRejectedDebit(ctx context.Context, tx *sql.Tx, sub submission.Submission, year int) error {
	rec, err := getGrantRecord(ctx, tx, sub.Submitter, "FOR UPDATE")
	if err != nil {
		return err
	}
	if rec.NeedsReset(year) {
		return customerr.Newf(customerr.ConcurrencyConflict,
			"grant year changed from %d to %d", year, rec.LastGrantYear)
	}
	remaining := rec.Remaining(sub.Category)
	if remaining.LessThan(sub.Charges.Total) {
		return customerr.Newf(customerr.InsufficientBalance,
			"requested amount %s exceeds your remaining %s grant of %s",
			sub.Charges.Total.StringFixed(2), sub.Category, remaining.StringFixed(2))
	}
	return customerr.New(customerr.ConcurrencyConflict, "balance changed since it was read")
}

func submissionValues(sub submission.Submission) []interface{} {
	return []interface{}{
		sub.ID, sub.Submitter, sub.Applicant.Name, sub.Applicant.Phone, string(sub.Category), sub.Title,
		sub.Event.Name, nullTime(sub.Event.Date), sub.Event.Venue, nullTime(sub.Event.Deadline), sub.ISSN,
		sub.Bank.AccountName, sub.Bank.AccountNumber, sub.Bank.RoutingCode,
		sub.Charges.RegistrationFee, sub.Charges.Travel, sub.Charges.Lodging, sub.Charges.Total,
		sub.CoAuthorCount, sub.ReceiptRef, sub.DeclarationAccepted, string(sub.Status),
		sub.RemainingBalanceAfter, sub.CreatedAt,
	}
}

func (s *PostgresStorage) GetSubmission(ctx context.Context, id string) (submission.Submission, error) {
	rows, err := psql.Select(submissionColumns...).
		From("submissions").
		Where(sq.Eq{"id": id}).
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return submission.Submission{}, persistence(err, "get submission")
	}
	subs, err := scanSubmissions(rows)
	if err != nil {
		return submission.Submission{}, err
	}
	if len(subs) == 0 {
		return submission.Submission{}, ErrSubmissionNotFound
	}
	return subs[0], nil
}

// ListByUser returns the user's submissions, newest first.
func (s *PostgresStorage) ListByUser(ctx context.Context, email string) ([]submission.Submission, error) {
	rows, err := psql.Select(submissionColumns...).
		From("submissions").
		Where(sq.Eq{"submitter": email}).
		OrderBy("created_at DESC", "id DESC").
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, persistence(err, "list submissions")
	}
	return scanSubmissions(rows)
}

// SpentBetween sums non-rejected submission totals in [from, to).
func (s *PostgresStorage) SpentBetween(ctx context.Context, email string, c grant.Category, from, to time.Time) (decimal.Decimal, error) {
	query := psql.Select("COALESCE(SUM(total), 0)").
		From("submissions").
		Where(sq.Eq{"submitter": email, "category": string(c)}).
		Where(sq.NotEq{"status": string(submission.StatusRejected)}).
		Where(sq.GtOrEq{"created_at": from}).
		Where(sq.Lt{"created_at": to})

	var spent decimal.Decimal
	if err := query.RunWith(s.db).QueryRowContext(ctx).Scan(&spent); err != nil {
		return decimal.Zero, persistence(err, "sum submissions")
	}
	return spent, nil
}

func scanSubmissions(rows *sql.Rows) ([]submission.Submission, error) {
	defer func() {
		rowErr := rows.Close()
		if rowErr != nil {
			logger.Error("error closing rows", zap.Error(rowErr))
		}
	}()

	subs := make([]submission.Submission, 0)
	for rows.Next() {
		var sub submission.Submission
		var category, status string
		var eventDate, deadline sql.NullTime
		var issn sql.NullString
		err := rows.Scan(
			&sub.ID, &sub.Submitter, &sub.Applicant.Name, &sub.Applicant.Phone, &category, &sub.Title,
			&sub.Event.Name, &eventDate, &sub.Event.Venue, &deadline, &issn,
			&sub.Bank.AccountName, &sub.Bank.AccountNumber, &sub.Bank.RoutingCode,
			&sub.Charges.RegistrationFee, &sub.Charges.Travel, &sub.Charges.Lodging, &sub.Charges.Total,
			&sub.CoAuthorCount, &sub.ReceiptRef, &sub.DeclarationAccepted, &status,
			&sub.RemainingBalanceAfter, &sub.CreatedAt,
		)
		if err != nil {
			return nil, persistence(err, "scan submission")
		}
		sub.Category = grant.Category(category)
		sub.Status = submission.Status(status)
		sub.Event.Date = eventDate.Time
		sub.Event.Deadline = deadline.Time
		sub.ISSN = issn.String
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence(err, "scan submission")
	}
	return subs, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
