package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"capledger.org/internal/ledger"
	"capledger.org/internal/obs"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrCheckViolation      = "23514"
	pgErrNumericOutOfRange   = "22003"
	pgErrSerialization       = "40001"
	pgErrDeadlock            = "40P01"
	pgErrLockNotAvailable    = "55P03"
)

// Store implements ledger.Store on PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ ledger.Store = (*Store)(nil)

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Open connects through the pgx stdlib driver and verifies the connection.
func Open(ctx context.Context, dsn string, pool PoolConfig) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(orDefault(pool.MaxOpenConns, 50))
	db.SetMaxIdleConns(orDefault(pool.MaxIdleConns, 25))
	db.SetConnMaxLifetime(orDefaultDur(pool.ConnMaxLifetime, 15*time.Minute))
	db.SetConnMaxIdleTime(orDefaultDur(pool.ConnMaxIdleTime, 5*time.Minute))

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db), nil
}

// New wraps an existing connection.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db.DB }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// WithTx runs fn in a READ COMMITTED transaction. Rows fn modifies are locked with
// select ... for update and guarded by their version column.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, repo ledger.Repository) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError(fmt.Errorf("begin transaction: %w", err))
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			obs.Logger().Error().Err(rbErr).Msg("failed to rollback transaction")
		}
	}()

	if err := fn(ctx, &repo{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

func (s *Store) base() *repo { return &repo{q: s.db} }

func (s *Store) InsertCompany(ctx context.Context, c ledger.Company) error {
	return s.base().InsertCompany(ctx, c)
}

func (s *Store) GetCompany(ctx context.Context, id string) (ledger.Company, error) {
	return s.base().GetCompany(ctx, id)
}

func (s *Store) InsertShareholder(ctx context.Context, sh ledger.Shareholder) error {
	return s.base().InsertShareholder(ctx, sh)
}

func (s *Store) GetShareholder(ctx context.Context, id string) (ledger.Shareholder, error) {
	return s.base().GetShareholder(ctx, id)
}

func (s *Store) LinkShareholder(ctx context.Context, companyID, shareholderID string, at time.Time) error {
	return s.base().LinkShareholder(ctx, companyID, shareholderID, at)
}

func (s *Store) LinkedShareholders(ctx context.Context, companyID string) ([]string, error) {
	return s.base().LinkedShareholders(ctx, companyID)
}

func (s *Store) InsertShareClass(ctx context.Context, sc ledger.ShareClass) error {
	return s.base().InsertShareClass(ctx, sc)
}

func (s *Store) UpdateShareClass(ctx context.Context, sc ledger.ShareClass) error {
	return s.base().UpdateShareClass(ctx, sc)
}

func (s *Store) GetShareClass(ctx context.Context, id string) (ledger.ShareClass, error) {
	return s.base().GetShareClass(ctx, id)
}

func (s *Store) ListShareClasses(ctx context.Context, companyID string) ([]ledger.ShareClass, error) {
	return s.base().ListShareClasses(ctx, companyID)
}

func (s *Store) InsertAllocation(ctx context.Context, a ledger.Allocation) error {
	return s.base().InsertAllocation(ctx, a)
}

func (s *Store) UpdateAllocation(ctx context.Context, a ledger.Allocation) error {
	return s.base().UpdateAllocation(ctx, a)
}

func (s *Store) GetAllocation(ctx context.Context, id string) (ledger.Allocation, error) {
	return s.base().GetAllocation(ctx, id)
}

// LockAllocation outside WithTx holds the lock only for its own statement.
func (s *Store) LockAllocation(ctx context.Context, id string) (ledger.Allocation, error) {
	return s.base().LockAllocation(ctx, id)
}

func (s *Store) CertificateInUse(ctx context.Context, certificate string) (bool, error) {
	return s.base().CertificateInUse(ctx, certificate)
}

func (s *Store) ListAllocations(ctx context.Context, f ledger.AllocationFilter) ([]ledger.Allocation, error) {
	return s.base().ListAllocations(ctx, f)
}

// mapError translates driver failures into ledger error kinds. Anything else stays opaque.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	pgErr, ok := maybePgError(err)
	if !ok {
		return err
	}
	switch pgErr.Code {
	case pgErrUniqueViolation:
		return fmt.Errorf("%w: %s", ledger.ErrValidation, uniqueMessage(pgErr))
	case pgErrCheckViolation:
		return fmt.Errorf("%w: constraint %s violated", ledger.ErrValidation, pgErr.ConstraintName)
	case pgErrNumericOutOfRange:
		return fmt.Errorf("%w: numeric value out of range", ledger.ErrValidation)
	case pgErrForeignKeyViolation:
		return fmt.Errorf("%w: %s", ledger.ErrNotFound, pgErr.Detail)
	case pgErrSerialization, pgErrDeadlock, pgErrLockNotAvailable:
		return fmt.Errorf("%w: concurrent update, retry", ledger.ErrConflict)
	}
	return err
}

func uniqueMessage(pgErr *pgconn.PgError) string {
	switch pgErr.ConstraintName {
	case "share_allocations_certificate_number_key":
		return "certificate number already in use"
	case "share_classes_company_code_uidx":
		return "share class code already exists"
	case "share_classes_company_name_uidx":
		return "share class name already exists"
	}
	return "duplicate " + pgErr.ConstraintName
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultDur(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
