package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"max.ks1230/grants-portal/internal/entity/grant"
	"max.ks1230/grants-portal/internal/entity/submission"
	"max.ks1230/grants-portal/internal/model/customerr"
)

func newMockStorage(t *testing.T) (*PostgresStorage, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStorageFromDB(db), mock
}

func pendingSubmission() submission.Submission {
	return submission.Submission{
		ID:        "0b8f6a52-3c39-4a4c-9f4e-9d1f3f1f0a01",
		Submitter: "staff@uni.edu",
		Category:  grant.Research,
		Title:     "A study of things",
		Event:     submission.Event{Name: "ICSE", Venue: "Lisbon", Date: time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)},
		Charges: submission.Charges{
			RegistrationFee: decimal.NewFromInt(5000),
			Travel:          decimal.NewFromInt(3000),
			Lodging:         decimal.NewFromInt(2000),
			Total:           decimal.NewFromInt(10000),
		},
		Status:                submission.StatusPending,
		RemainingBalanceAfter: decimal.NewFromInt(10000),
		CreatedAt:             time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func Test_CommitSubmission_DebitsAndInsertsInOneTransaction(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE users SET remaining_research_grant = remaining_research_grant - \$1`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "staff@uni.edu", 2026, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"remaining_research_grant"}).AddRow("10000"))
	mock.ExpectExec(`INSERT INTO submissions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.CommitSubmission(context.Background(), pendingSubmission(), 2026)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_CommitSubmission_ClassifiesInsufficientBalance(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE users SET remaining_research_grant`).
		WillReturnRows(sqlmock.NewRows([]string{"remaining_research_grant"}))
	mock.ExpectQuery(`SELECT email, remaining_research_grant, remaining_journal_grant, last_grant_year FROM users WHERE email = \$1 FOR UPDATE`).
		WithArgs("staff@uni.edu").
		WillReturnRows(sqlmock.NewRows([]string{"email", "remaining_research_grant", "remaining_journal_grant", "last_grant_year"}).
			AddRow("staff@uni.edu", "5000", "30000", 2026))
	mock.ExpectRollback()

	err := s.CommitSubmission(context.Background(), pendingSubmission(), 2026)
	assert.True(t, customerr.Is(err, customerr.InsufficientBalance), err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_CommitSubmission_ClassifiesStaleBalanceAsConflict(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE users SET remaining_research_grant`).
		WillReturnRows(sqlmock.NewRows([]string{"remaining_research_grant"}))
	mock.ExpectQuery(`SELECT email, remaining_research_grant`).
		WillReturnRows(sqlmock.NewRows([]string{"email", "remaining_research_grant", "remaining_journal_grant", "last_grant_year"}).
			AddRow("staff@uni.edu", "15000", "30000", 2026))
	mock.ExpectRollback()

	err := s.CommitSubmission(context.Background(), pendingSubmission(), 2026)
	assert.True(t, customerr.Is(err, customerr.ConcurrencyConflict), err)
	assert.True(t, customerr.IsRetryable(err))
}

func Test_CommitSubmission_InsertFailureRollsBack(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE users SET remaining_research_grant`).
		WillReturnRows(sqlmock.NewRows([]string{"remaining_research_grant"}).AddRow("10000"))
	mock.ExpectExec(`INSERT INTO submissions`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := s.CommitSubmission(context.Background(), pendingSubmission(), 2026)
	assert.True(t, customerr.Is(err, customerr.PersistenceFailure), err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_ResetIfNewYear_ReportsWhetherItReset(t *testing.T) {
	s, mock := newMockStorage(t)
	recordRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"email", "remaining_research_grant", "remaining_journal_grant", "last_grant_year"}).
			AddRow("staff@uni.edu", "20000", "30000", 2026)
	}

	mock.ExpectExec(`UPDATE users SET remaining_research_grant = \$1, remaining_journal_grant = \$2, last_grant_year = \$3`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 2026, sqlmock.AnyArg(), 2026, "staff@uni.edu").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT email, remaining_research_grant`).WillReturnRows(recordRows())

	mock.ExpectExec(`UPDATE users SET remaining_research_grant`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT email, remaining_research_grant`).WillReturnRows(recordRows())

	ctx := context.Background()
	rec, reset, err := s.ResetIfNewYear(ctx, "staff@uni.edu", 2026, grant.DefaultAllowances())
	require.NoError(t, err)
	assert.True(t, reset)
	assert.True(t, rec.RemainingResearch.Equal(decimal.NewFromInt(20000)))

	rec2, reset, err := s.ResetIfNewYear(ctx, "staff@uni.edu", 2026, grant.DefaultAllowances())
	require.NoError(t, err)
	assert.False(t, reset)
	assert.Equal(t, rec, rec2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_GetGrantRecord_UnknownUser(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectQuery(`SELECT email, remaining_research_grant`).
		WithArgs("ghost@uni.edu").
		WillReturnRows(sqlmock.NewRows([]string{"email", "remaining_research_grant", "remaining_journal_grant", "last_grant_year"}))

	_, err := s.GetGrantRecord(context.Background(), "ghost@uni.edu")
	assert.True(t, customerr.Is(err, customerr.UserNotFound))
}

func Test_CreateUser_Duplicate(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec(`INSERT INTO users .* ON CONFLICT \(email\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.CreateUser(context.Background(),
		grant.Profile{Email: "staff@uni.edu"},
		grant.NewRecord("staff@uni.edu", grant.DefaultAllowances(), 2026))
	assert.True(t, customerr.Is(err, customerr.AlreadyExists))
}

func Test_ListByUser_ScansRows(t *testing.T) {
	s, mock := newMockStorage(t)
	created := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM submissions WHERE submitter = \$1 ORDER BY created_at DESC, id DESC`).
		WithArgs("staff@uni.edu").
		WillReturnRows(sqlmock.NewRows(submissionColumns).AddRow(
			"id-1", "staff@uni.edu", "A. Staff", "555", "journal", "On things",
			"J. Appl. Stuff", nil, "online", nil, "1234-5678",
			"A. Staff", "0001234", "SBIN0000001",
			"100", "0", "0", "100",
			2, "gs://receipts/r.pdf", true, "pending",
			"29900", created,
		))

	subs, err := s.ListByUser(context.Background(), "staff@uni.edu")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, grant.Journal, subs[0].Category)
	assert.Equal(t, "1234-5678", subs[0].ISSN)
	assert.True(t, subs[0].Event.Date.IsZero())
	assert.True(t, subs[0].RemainingBalanceAfter.Equal(decimal.NewFromInt(29900)))
	assert.Equal(t, created, subs[0].CreatedAt)
}

func Test_GetUser_ScansProfilePicture(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectQuery(`SELECT email, name, role, designation, phone, password_hash, profile_picture, .* FROM users WHERE email = \$1`).
		WithArgs("staff@uni.edu").
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(
			"staff@uni.edu", "Dr. Staff", "faculty", "Professor", "555", "hash", "gs://local/profile-pictures/me.png",
			"20000", "30000", 2026,
		))

	p, rec, err := s.GetUser(context.Background(), "staff@uni.edu")
	require.NoError(t, err)
	assert.Equal(t, "gs://local/profile-pictures/me.png", p.PictureRef)
	assert.Equal(t, "staff@uni.edu", rec.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func Test_SetProfilePicture(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec(`UPDATE users SET profile_picture = \$1, updated_at = \$2 WHERE email = \$3`).
		WithArgs("gs://local/p.png", sqlmock.AnyArg(), "staff@uni.edu").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET profile_picture`).
		WithArgs("gs://local/p.png", sqlmock.AnyArg(), "ghost@uni.edu").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.SetProfilePicture(context.Background(), "staff@uni.edu", "gs://local/p.png"))
	err := s.SetProfilePicture(context.Background(), "ghost@uni.edu", "gs://local/p.png")
	assert.True(t, customerr.Is(err, customerr.UserNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
