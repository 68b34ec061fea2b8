package ledger

import (
	"context"
	"time"
)

// AllocationFilter selects ledger rows. Empty fields match everything.
type AllocationFilter struct {
	CompanyID     string
	ShareholderID string
	ShareClass    string
	Status        AllocationStatus
}

// Repository is the persistence collaborator. Lookups of missing rows return an error
// wrapping ErrNotFound. Entities are stored by opaque id and related by foreign-key
// lookups only.
type Repository interface {
	InsertCompany(ctx context.Context, c Company) error
	GetCompany(ctx context.Context, id string) (Company, error)

	InsertShareholder(ctx context.Context, sh Shareholder) error
	GetShareholder(ctx context.Context, id string) (Shareholder, error)
	// LinkShareholder records that a shareholder is known to a company. Idempotent.
	LinkShareholder(ctx context.Context, companyID, shareholderID string, at time.Time) error
	LinkedShareholders(ctx context.Context, companyID string) ([]string, error)

	InsertShareClass(ctx context.Context, sc ShareClass) error
	UpdateShareClass(ctx context.Context, sc ShareClass) error
	GetShareClass(ctx context.Context, id string) (ShareClass, error)
	// ListShareClasses returns every class of the company, active or not, in creation order.
	ListShareClasses(ctx context.Context, companyID string) ([]ShareClass, error)

	// InsertAllocation fails with ErrValidation when the certificate number is taken.
	InsertAllocation(ctx context.Context, a Allocation) error
	// UpdateAllocation persists a whose Version was bumped by exactly one; a stale
	// version fails with ErrConflict.
	UpdateAllocation(ctx context.Context, a Allocation) error
	GetAllocation(ctx context.Context, id string) (Allocation, error)
	// LockAllocation reads the row and holds it against concurrent writers until the
	// surrounding transaction ends.
	LockAllocation(ctx context.Context, id string) (Allocation, error)
	CertificateInUse(ctx context.Context, certificate string) (bool, error)
	// ListAllocations orders by allocation date, then creation.
	ListAllocations(ctx context.Context, f AllocationFilter) ([]Allocation, error)
}

// Store adds atomic units of work on top of Repository. WithTx commits iff fn returns
// nil; concurrent readers observe either the state before or after the unit, never
// an intermediate one. Calls must not nest.
type Store interface {
	Repository
	WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}

// StatsCache holds company statistics between writes. Entries are keyed by a per-company
// generation: a reader stores under the generation it read before computing, and the
// service advances the generation after every committed mutation of the company, so a
// result computed from an older snapshot is never served.
type StatsCache interface {
	Generation(ctx context.Context, companyID string) (int64, error)
	GetCompanyStatistics(ctx context.Context, companyID string, gen int64) (CompanyShareStatistics, bool, error)
	SetCompanyStatistics(ctx context.Context, gen int64, stats CompanyShareStatistics) error
	Invalidate(ctx context.Context, companyID string) error
}
