package pg

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capledger.org/internal/audit"
	"capledger.org/internal/ledger"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(sqlx.NewDb(db, "pgx")), mock
}

var allocationCols = []string{
	"id", "company_id", "shareholder_id", "share_class", "number_of_shares", "nominal_value",
	"amount_paid", "allocation_date", "certificate_number", "status", "transfer_date",
	"transfer_to_shareholder_id", "transferred_from_id", "is_fully_paid", "restrictions",
	"cancellation_reason", "cancelled_at", "version", "created_at", "updated_at",
}

func TestGetCompanyNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("from companies where id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "registration_number", "created_at"}))

	_, err := s.GetCompany(context.Background(), "missing")
	require.ErrorIs(t, err, ledger.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxCommits(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("insert into companies")).
		WithArgs("c1", "Acme", sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(ctx context.Context, repo ledger.Repository) error {
		return repo.InsertCompany(ctx, ledger.Company{ID: "c1", Name: "Acme", CreatedAt: now})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s, mock := newMock(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(context.Context, ledger.Repository) error { return boom })
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUniqueViolationIsValidationError(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("insert into share_allocations")).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "share_allocations_certificate_number_key"})

	err := s.InsertAllocation(context.Background(), ledger.Allocation{
		ID: "a1", CertificateNumber: "CERT001", NominalValue: decimal.NewFromInt(1), Status: ledger.StatusActive, Version: 1,
	})
	require.ErrorIs(t, err, ledger.ErrValidation)
	assert.Contains(t, err.Error(), "certificate number already in use")
}

func TestSerializationFailureIsConflict(t *testing.T) {
	err := mapError(&pgconn.PgError{Code: pgErrSerialization})
	require.ErrorIs(t, err, ledger.ErrConflict)
	err = mapError(&pgconn.PgError{Code: pgErrForeignKeyViolation, Detail: "Key (shareholder_id)=(x) is not present"})
	require.ErrorIs(t, err, ledger.ErrNotFound)

	plain := errors.New("connection reset")
	assert.Equal(t, plain, mapError(plain))
}

func TestNumericOverflowIsValidation(t *testing.T) {
	err := mapError(&pgconn.PgError{Code: pgErrNumericOutOfRange, Message: "numeric field overflow"})
	require.ErrorIs(t, err, ledger.ErrValidation)
	assert.Contains(t, err.Error(), "out of range")
}

func TestLockAllocationSelectsForUpdate(t *testing.T) {
	s, mock := newMock(t)
	alloc := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(allocationCols).AddRow(
		"a1", "c1", "h1", "ORD", int64(1000), "1.0000",
		"250.0000", alloc, "CERT001", "ACTIVE", nil,
		nil, nil, false, nil,
		nil, nil, int64(3), alloc, alloc,
	)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("from share_allocations where id = $1 for update")).
		WithArgs("a1").
		WillReturnRows(rows)
	mock.ExpectCommit()

	var got ledger.Allocation
	err := s.WithTx(context.Background(), func(ctx context.Context, repo ledger.Repository) error {
		var err error
		got, err = repo.LockAllocation(ctx, "a1")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "CERT001", got.CertificateNumber)
	assert.True(t, got.AmountPaid.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, int64(3), got.Version)
	assert.Nil(t, got.TransferDate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAllocationStaleVersion(t *testing.T) {
	s, mock := newMock(t)
	a := ledger.Allocation{ID: "a1", Status: ledger.StatusTransferred, Version: 2, AmountPaid: decimal.Zero}

	mock.ExpectExec(regexp.QuoteMeta("where id = $1 and version = $2 - 1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("select exists(select 1 from share_allocations where id = $1)")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := s.UpdateAllocation(context.Background(), a)
	require.ErrorIs(t, err, ledger.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAllocationMissing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("update share_allocations set")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("select exists")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := s.UpdateAllocation(context.Background(), ledger.Allocation{ID: "nope", Version: 2})
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestListAllocationsBuildsFilter(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(
		"from share_allocations where company_id = $1 and upper(share_class) = upper($2) and status = $3 order by allocation_date, created_at, id")).
		WithArgs("c1", "pref", "ACTIVE").
		WillReturnRows(sqlmock.NewRows(allocationCols))

	list, err := s.ListAllocations(context.Background(), ledger.AllocationFilter{
		CompanyID: "c1", ShareClass: "pref", Status: ledger.StatusActive,
	})
	require.NoError(t, err)
	assert.Empty(t, list)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListShareClassesMapsState(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cols := []string{
		"id", "company_id", "class_code", "class_name", "description", "voting_rights", "votes_per_share",
		"dividend_rights", "dividend_rate", "capital_distribution_rights", "liquidation_preference_multiple",
		"is_transferable", "requires_board_approval", "pre_emptive_rights", "tag_along_rights", "drag_along_rights",
		"par_value", "no_par_value", "is_active", "created_at", "updated_at",
	}
	mock.ExpectQuery(regexp.QuoteMeta("from share_classes")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("s1", "c1", "ORD", "Ordinary", "", "ORDINARY", 1, "ORDINARY", nil, "ORDINARY", nil,
				true, false, true, false, false, nil, false, true, now, now).
			AddRow("s2", "c1", "PREF", "Preference", "", "NONE", 0, "PREFERRED", "8.5000", "PREFERRED", "1.5000",
				true, false, false, false, false, "0.0100", false, false, now, now))

	classes, err := s.ListShareClasses(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, classes, 2)
	assert.Equal(t, ledger.ClassActive, classes[0].State)
	assert.False(t, classes[0].DividendRate.Valid)
	assert.Equal(t, ledger.ClassInactive, classes[1].State)
	assert.True(t, classes[1].DividendRate.Decimal.Equal(decimal.RequireFromString("8.5")))
}

func TestEmitWritesAuditRow(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("insert into audit_events")).
		WithArgs("allocation.cancel", "user-1", "allocation", "a1", sqlmock.AnyArg(),
			[]byte(`{}`), []byte(`{"status":"CANCELLED"}`), sqlmock.AnyArg(), at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Emit(context.Background(), audit.Event{
		Operation:  "allocation.cancel",
		Actor:      "user-1",
		EntityType: "allocation",
		EntityID:   "a1",
		CompanyID:  "c1",
		After:      map[string]string{"status": "CANCELLED"},
		OccurredAt: at,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
