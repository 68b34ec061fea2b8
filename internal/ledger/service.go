package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"capledger.org/internal/audit"
	"capledger.org/internal/ids"
	"capledger.org/internal/obs"
)

// Ledger defines the command and query surface of the share ledger.
type Ledger interface {
	RegisterCompany(ctx context.Context, name, registrationNumber string) (Company, error)
	GetCompany(ctx context.Context, id string) (Company, error)
	RegisterShareholder(ctx context.Context, req ShareholderRequest) (Shareholder, error)
	GetShareholder(ctx context.Context, id string) (Shareholder, error)
	GetCompanyShareholders(ctx context.Context, companyID string) ([]Shareholder, error)

	CreateShareClass(ctx context.Context, companyID string, in ShareClassInput) (ShareClass, error)
	UpdateShareClass(ctx context.Context, shareClassID string, upd ShareClassUpdate) (ShareClass, error)
	DeactivateShareClass(ctx context.Context, shareClassID string) (ShareClass, error)
	ReactivateShareClass(ctx context.Context, shareClassID string) (ShareClass, error)
	GetShareClass(ctx context.Context, shareClassID string) (ShareClass, error)
	GetActiveShareClasses(ctx context.Context, companyID string) ([]ShareClass, error)
	GetAllShareClasses(ctx context.Context, companyID string) ([]ShareClass, error)
	GetShareClassStatistics(ctx context.Context, companyID string) ([]ClassStatistics, error)

	AllocateShares(ctx context.Context, req AllocateRequest) (Allocation, error)
	TransferShares(ctx context.Context, req TransferRequest) (Allocation, error)
	UpdatePayment(ctx context.Context, allocationID string, additional decimal.Decimal) (Allocation, error)
	CancelAllocation(ctx context.Context, allocationID, reason string) (Allocation, error)

	GetAllocation(ctx context.Context, id string) (Allocation, error)
	GetAllocationHistory(ctx context.Context, id string) ([]Allocation, error)
	GetActiveAllocationsByCompany(ctx context.Context, companyID string) ([]Allocation, error)
	GetActiveAllocationsByShareholder(ctx context.Context, shareholderID string) ([]Allocation, error)
	GetActiveAllocationsByShareClass(ctx context.Context, companyID, classCode string) ([]Allocation, error)
	GetCompanyShareStatistics(ctx context.Context, companyID string) (CompanyShareStatistics, error)
	GetShareholderPortfolio(ctx context.Context, shareholderID string) (ShareholderPortfolio, error)
	GetCapTable(ctx context.Context, companyID string) (CapTable, error)
}

var _ Ledger = (*Service)(nil)

// Service executes ledger commands against a Store. Every mutation runs in one
// transaction; its audit event is emitted after commit.
type Service struct {
	store Store
	audit audit.Emitter
	cache StatsCache
	now   func() time.Time
}

type Option func(*Service)

// WithAudit sets the audit collaborator. The default writes audit log lines.
func WithAudit(e audit.Emitter) Option {
	return func(s *Service) {
		if e != nil {
			s.audit = e
		}
	}
}

// WithStatsCache enables caching of company statistics.
func WithStatsCache(c StatsCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithClock overrides the clock used for default dates and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		audit: audit.LogEmitter{},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) today() time.Time { return Date(s.now()) }

// finish records metrics and logs for a command, then, on success, publishes its audit
// events and advances the cached statistics generation of the company.
func (s *Service) finish(ctx context.Context, op, companyID string, start time.Time, err error, events ...audit.Event) {
	obs.ObserveCommand(op, outcome(err), time.Since(start))
	rqID := audit.RequestIDFromContext(ctx)
	log := obs.Logger()

	if err != nil {
		ev := log.Warn()
		if outcome(err) == "error" {
			ev = log.Error()
		}
		ev.Err(err).Str("op", op).Str("rqID", rqID).Str("company_id", companyID).Msg("failed")
		return
	}

	for _, e := range events {
		if aerr := s.audit.Emit(ctx, e); aerr != nil {
			// Committed changes stay successful when auditing fails.
			log.Error().Err(aerr).Str("op", op).Str("rqID", rqID).Msg("audit emit failed")
		}
	}
	if s.cache != nil && companyID != "" {
		if cerr := s.cache.Invalidate(ctx, companyID); cerr != nil {
			log.Warn().Err(cerr).Str("company_id", companyID).Msg("stats cache invalidate failed")
		}
	}
	log.Info().Str("op", op).Str("rqID", rqID).Str("company_id", companyID).
		Dur("took", time.Since(start)).Msg("completed")
}

// RegisterCompany creates a company together with its default ORD share class.
func (s *Service) RegisterCompany(ctx context.Context, name, registrationNumber string) (Company, error) {
	const op = "company.register"
	start := time.Now()

	name = strings.TrimSpace(name)
	if name == "" {
		err := invalidf("company name is required")
		s.finish(ctx, op, "", start, err)
		return Company{}, err
	}
	now := s.now().UTC()
	c := Company{
		ID:                 ids.New(),
		Name:               name,
		RegistrationNumber: strings.TrimSpace(registrationNumber),
		CreatedAt:          now,
	}
	ord := defaultShareClass(c.ID, now)

	err := s.store.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.InsertCompany(ctx, c); err != nil {
			return err
		}
		return repo.InsertShareClass(ctx, ord)
	})
	if err != nil {
		s.finish(ctx, op, c.ID, start, err)
		return Company{}, err
	}

	ev := audit.NewEvent(ctx, op, "company", c.ID)
	ev.CompanyID = c.ID
	ev.After = map[string]string{"name": c.Name, "registration_number": c.RegistrationNumber}
	classEv := audit.NewEvent(ctx, "share_class.create", "share_class", ord.ID)
	classEv.CompanyID = c.ID
	classEv.After = classSummary(ord)
	s.finish(ctx, op, c.ID, start, nil, ev, classEv)
	return c, nil
}

func (s *Service) GetCompany(ctx context.Context, id string) (Company, error) {
	return s.store.GetCompany(ctx, id)
}

// ShareholderRequest registers a holder identity. CompanyID is optional: when set, the
// holder is associated with that company straight away.
type ShareholderRequest struct {
	CompanyID string          `json:"company_id,omitempty"`
	FullName  string          `json:"full_name"`
	Kind      ShareholderKind `json:"kind"`
	Address   Address         `json:"address"`
}

func (s *Service) RegisterShareholder(ctx context.Context, req ShareholderRequest) (Shareholder, error) {
	const op = "shareholder.register"
	start := time.Now()

	if req.Kind == "" {
		req.Kind = ShareholderIndividual
	}
	sh := Shareholder{
		ID:        ids.New(),
		FullName:  strings.TrimSpace(req.FullName),
		Kind:      req.Kind,
		Address:   req.Address,
		CreatedAt: s.now().UTC(),
	}

	var err error
	switch {
	case sh.FullName == "":
		err = invalidf("shareholder full name is required")
	case !sh.Kind.Valid():
		err = invalidf("unknown shareholder kind %q", sh.Kind)
	default:
		err = s.store.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			if req.CompanyID != "" {
				if _, err := repo.GetCompany(ctx, req.CompanyID); err != nil {
					return err
				}
			}
			if err := repo.InsertShareholder(ctx, sh); err != nil {
				return err
			}
			if req.CompanyID == "" {
				return nil
			}
			return repo.LinkShareholder(ctx, req.CompanyID, sh.ID, sh.CreatedAt)
		})
	}
	if err != nil {
		s.finish(ctx, op, req.CompanyID, start, err)
		return Shareholder{}, err
	}

	ev := audit.NewEvent(ctx, op, "shareholder", sh.ID)
	ev.CompanyID = req.CompanyID
	ev.After = map[string]string{"full_name": sh.FullName, "kind": string(sh.Kind)}
	s.finish(ctx, op, req.CompanyID, start, nil, ev)
	return sh, nil
}

func (s *Service) GetShareholder(ctx context.Context, id string) (Shareholder, error) {
	return s.store.GetShareholder(ctx, id)
}

// GetCompanyShareholders lists the holders associated with a company, oldest association first.
func (s *Service) GetCompanyShareholders(ctx context.Context, companyID string) ([]Shareholder, error) {
	if _, err := s.store.GetCompany(ctx, companyID); err != nil {
		return nil, err
	}
	idList, err := s.store.LinkedShareholders(ctx, companyID)
	if err != nil {
		return nil, err
	}
	out := make([]Shareholder, 0, len(idList))
	for _, id := range idList {
		sh, err := s.store.GetShareholder(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, nil
}
