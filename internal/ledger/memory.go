package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. Writers are serialized
// and work on a copy of the state that replaces the live one on commit, so readers
// never wait for a writer and never see its uncommitted changes.
//
// Every unit of work copies the whole state, so a write costs O(entities). It is meant
// for tests, demos and small ledgers; use the PostgreSQL store for real volumes.
type InMemory struct {
	writeMu sync.Mutex
	mu      sync.RWMutex // guards state
	state   *memState
}

var _ Store = (*InMemory)(nil)

type memState struct {
	companies    map[string]Company
	shareholders map[string]Shareholder
	links        map[string]map[string]time.Time // company -> shareholder -> linked at
	classes      map[string]ShareClass
	allocs       map[string]Allocation
	certs        map[string]string // certificate -> allocation id
}

// NewInMemory creates an empty ledger store.
func NewInMemory() *InMemory {
	return &InMemory{state: &memState{
		companies:    make(map[string]Company),
		shareholders: make(map[string]Shareholder),
		links:        make(map[string]map[string]time.Time),
		classes:      make(map[string]ShareClass),
		allocs:       make(map[string]Allocation),
		certs:        make(map[string]string),
	}}
}

func (st *memState) clone() *memState {
	out := &memState{
		companies:    make(map[string]Company, len(st.companies)),
		shareholders: make(map[string]Shareholder, len(st.shareholders)),
		links:        make(map[string]map[string]time.Time, len(st.links)),
		classes:      make(map[string]ShareClass, len(st.classes)),
		allocs:       make(map[string]Allocation, len(st.allocs)),
		certs:        make(map[string]string, len(st.certs)),
	}
	for k, v := range st.companies {
		out.companies[k] = v
	}
	for k, v := range st.shareholders {
		out.shareholders[k] = v
	}
	for k, holders := range st.links {
		cp := make(map[string]time.Time, len(holders))
		for h, at := range holders {
			cp[h] = at
		}
		out.links[k] = cp
	}
	for k, v := range st.classes {
		out.classes[k] = v
	}
	for k, v := range st.allocs {
		out.allocs[k] = v
	}
	for k, v := range st.certs {
		out.certs[k] = v
	}
	return out
}

func (s *InMemory) WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	draft := s.view().st.clone()
	if err := fn(ctx, &memRepo{st: draft}); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = draft
	s.mu.Unlock()
	return nil
}

func (s *InMemory) view() *memRepo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// The live state is replaced, never mutated, so a reader can keep using it.
	return &memRepo{st: s.state}
}

func (s *InMemory) write(ctx context.Context, fn func(r Repository) error) error {
	return s.WithTx(ctx, func(_ context.Context, r Repository) error { return fn(r) })
}

func (s *InMemory) InsertCompany(ctx context.Context, c Company) error {
	return s.write(ctx, func(r Repository) error { return r.InsertCompany(ctx, c) })
}

func (s *InMemory) GetCompany(ctx context.Context, id string) (Company, error) {
	return s.view().GetCompany(ctx, id)
}

func (s *InMemory) InsertShareholder(ctx context.Context, sh Shareholder) error {
	return s.write(ctx, func(r Repository) error { return r.InsertShareholder(ctx, sh) })
}

func (s *InMemory) GetShareholder(ctx context.Context, id string) (Shareholder, error) {
	return s.view().GetShareholder(ctx, id)
}

func (s *InMemory) LinkShareholder(ctx context.Context, companyID, shareholderID string, at time.Time) error {
	return s.write(ctx, func(r Repository) error { return r.LinkShareholder(ctx, companyID, shareholderID, at) })
}

func (s *InMemory) LinkedShareholders(ctx context.Context, companyID string) ([]string, error) {
	return s.view().LinkedShareholders(ctx, companyID)
}

func (s *InMemory) InsertShareClass(ctx context.Context, sc ShareClass) error {
	return s.write(ctx, func(r Repository) error { return r.InsertShareClass(ctx, sc) })
}

func (s *InMemory) UpdateShareClass(ctx context.Context, sc ShareClass) error {
	return s.write(ctx, func(r Repository) error { return r.UpdateShareClass(ctx, sc) })
}

func (s *InMemory) GetShareClass(ctx context.Context, id string) (ShareClass, error) {
	return s.view().GetShareClass(ctx, id)
}

func (s *InMemory) ListShareClasses(ctx context.Context, companyID string) ([]ShareClass, error) {
	return s.view().ListShareClasses(ctx, companyID)
}

func (s *InMemory) InsertAllocation(ctx context.Context, a Allocation) error {
	return s.write(ctx, func(r Repository) error { return r.InsertAllocation(ctx, a) })
}

func (s *InMemory) UpdateAllocation(ctx context.Context, a Allocation) error {
	return s.write(ctx, func(r Repository) error { return r.UpdateAllocation(ctx, a) })
}

func (s *InMemory) GetAllocation(ctx context.Context, id string) (Allocation, error) {
	return s.view().GetAllocation(ctx, id)
}

// LockAllocation outside a transaction is a plain read.
func (s *InMemory) LockAllocation(ctx context.Context, id string) (Allocation, error) {
	return s.view().GetAllocation(ctx, id)
}

func (s *InMemory) CertificateInUse(ctx context.Context, certificate string) (bool, error) {
	return s.view().CertificateInUse(ctx, certificate)
}

func (s *InMemory) ListAllocations(ctx context.Context, f AllocationFilter) ([]Allocation, error) {
	return s.view().ListAllocations(ctx, f)
}

// memRepo reads and writes one state snapshot. Inside WithTx the snapshot is a
// private draft and writers are serialized, which is what makes LockAllocation hold.
type memRepo struct {
	st *memState
}

func (r *memRepo) InsertCompany(_ context.Context, c Company) error {
	if _, ok := r.st.companies[c.ID]; ok {
		return conflictf("company %s already exists", c.ID)
	}
	r.st.companies[c.ID] = c
	return nil
}

func (r *memRepo) GetCompany(_ context.Context, id string) (Company, error) {
	c, ok := r.st.companies[id]
	if !ok {
		return Company{}, notFound("company", id)
	}
	return c, nil
}

func (r *memRepo) InsertShareholder(_ context.Context, sh Shareholder) error {
	if _, ok := r.st.shareholders[sh.ID]; ok {
		return conflictf("shareholder %s already exists", sh.ID)
	}
	r.st.shareholders[sh.ID] = sh
	return nil
}

func (r *memRepo) GetShareholder(_ context.Context, id string) (Shareholder, error) {
	sh, ok := r.st.shareholders[id]
	if !ok {
		return Shareholder{}, notFound("shareholder", id)
	}
	return sh, nil
}

func (r *memRepo) LinkShareholder(_ context.Context, companyID, shareholderID string, at time.Time) error {
	holders, ok := r.st.links[companyID]
	if !ok {
		holders = make(map[string]time.Time)
		r.st.links[companyID] = holders
	}
	if _, ok := holders[shareholderID]; !ok {
		holders[shareholderID] = at
	}
	return nil
}

func (r *memRepo) LinkedShareholders(_ context.Context, companyID string) ([]string, error) {
	holders := r.st.links[companyID]
	out := make([]string, 0, len(holders))
	for id := range holders {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := holders[out[i]], holders[out[j]]
		if !ai.Equal(aj) {
			return ai.Before(aj)
		}
		return out[i] < out[j]
	})
	return out, nil
}

func (r *memRepo) InsertShareClass(_ context.Context, sc ShareClass) error {
	if _, ok := r.st.classes[sc.ID]; ok {
		return conflictf("share class %s already exists", sc.ID)
	}
	for _, other := range r.st.classes {
		if other.CompanyID != sc.CompanyID {
			continue
		}
		if strings.EqualFold(other.ClassCode, sc.ClassCode) {
			return invalidf("share class code %q already exists", sc.ClassCode)
		}
		if strings.EqualFold(other.ClassName, sc.ClassName) {
			return invalidf("share class name %q already exists", sc.ClassName)
		}
	}
	r.st.classes[sc.ID] = sc
	return nil
}

func (r *memRepo) UpdateShareClass(_ context.Context, sc ShareClass) error {
	if _, ok := r.st.classes[sc.ID]; !ok {
		return notFound("share class", sc.ID)
	}
	for _, other := range r.st.classes {
		if other.ID == sc.ID || other.CompanyID != sc.CompanyID {
			continue
		}
		if strings.EqualFold(other.ClassName, sc.ClassName) {
			return invalidf("share class name %q already exists", sc.ClassName)
		}
	}
	r.st.classes[sc.ID] = sc
	return nil
}

func (r *memRepo) GetShareClass(_ context.Context, id string) (ShareClass, error) {
	sc, ok := r.st.classes[id]
	if !ok {
		return ShareClass{}, notFound("share class", id)
	}
	return sc, nil
}

func (r *memRepo) ListShareClasses(_ context.Context, companyID string) ([]ShareClass, error) {
	var out []ShareClass
	for _, sc := range r.st.classes {
		if sc.CompanyID == companyID {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memRepo) InsertAllocation(_ context.Context, a Allocation) error {
	if _, ok := r.st.allocs[a.ID]; ok {
		return conflictf("allocation %s already exists", a.ID)
	}
	if a.CertificateNumber != "" {
		if _, taken := r.st.certs[a.CertificateNumber]; taken {
			return invalidf("certificate number %q already in use", a.CertificateNumber)
		}
		r.st.certs[a.CertificateNumber] = a.ID
	}
	r.st.allocs[a.ID] = a
	return nil
}

func (r *memRepo) UpdateAllocation(_ context.Context, a Allocation) error {
	cur, ok := r.st.allocs[a.ID]
	if !ok {
		return notFound("allocation", a.ID)
	}
	if cur.Version != a.Version-1 {
		return conflictf("allocation %s was modified concurrently", a.ID)
	}
	if cur.CertificateNumber != a.CertificateNumber {
		return invalidf("certificate number of allocation %s cannot change", a.ID)
	}
	r.st.allocs[a.ID] = a
	return nil
}

func (r *memRepo) GetAllocation(_ context.Context, id string) (Allocation, error) {
	a, ok := r.st.allocs[id]
	if !ok {
		return Allocation{}, notFound("allocation", id)
	}
	return a, nil
}

func (r *memRepo) LockAllocation(ctx context.Context, id string) (Allocation, error) {
	return r.GetAllocation(ctx, id)
}

func (r *memRepo) CertificateInUse(_ context.Context, certificate string) (bool, error) {
	_, ok := r.st.certs[certificate]
	return ok, nil
}

func (r *memRepo) ListAllocations(_ context.Context, f AllocationFilter) ([]Allocation, error) {
	var out []Allocation
	for _, a := range r.st.allocs {
		if f.CompanyID != "" && a.CompanyID != f.CompanyID {
			continue
		}
		if f.ShareholderID != "" && a.ShareholderID != f.ShareholderID {
			continue
		}
		if f.ShareClass != "" && !strings.EqualFold(a.ShareClass, f.ShareClass) {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	sortAllocations(out)
	return out, nil
}

func sortAllocations(list []Allocation) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.AllocationDate.Equal(b.AllocationDate) {
			return a.AllocationDate.Before(b.AllocationDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
