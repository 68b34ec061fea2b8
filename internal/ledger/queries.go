package ledger

import (
	"context"
	"strings"

	"capledger.org/internal/obs"
)

func (s *Service) GetAllocation(ctx context.Context, id string) (Allocation, error) {
	return s.store.GetAllocation(ctx, id)
}

// GetAllocationHistory returns the chain of allocations ending at id, oldest first,
// following each successor back to the block it was transferred from.
func (s *Service) GetAllocationHistory(ctx context.Context, id string) ([]Allocation, error) {
	var chain []Allocation
	seen := make(map[string]bool)
	for next := id; next != ""; {
		if seen[next] {
			return nil, conflictf("allocation %s has a cyclic transfer history", id)
		}
		seen[next] = true
		a, err := s.store.GetAllocation(ctx, next)
		if err != nil {
			return nil, err
		}
		chain = append(chain, a)
		next = a.TransferredFromID
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func (s *Service) GetActiveAllocationsByCompany(ctx context.Context, companyID string) ([]Allocation, error) {
	if _, err := s.store.GetCompany(ctx, companyID); err != nil {
		return nil, err
	}
	return s.store.ListAllocations(ctx, AllocationFilter{CompanyID: companyID, Status: StatusActive})
}

func (s *Service) GetActiveAllocationsByShareholder(ctx context.Context, shareholderID string) ([]Allocation, error) {
	if _, err := s.store.GetShareholder(ctx, shareholderID); err != nil {
		return nil, err
	}
	return s.store.ListAllocations(ctx, AllocationFilter{ShareholderID: shareholderID, Status: StatusActive})
}

// GetActiveAllocationsByShareClass matches the class code case-insensitively. Inactive
// classes still resolve.
func (s *Service) GetActiveAllocationsByShareClass(ctx context.Context, companyID, classCode string) ([]Allocation, error) {
	classes, err := s.GetAllShareClasses(ctx, companyID)
	if err != nil {
		return nil, err
	}
	sc, ok := findClassByCode(classes, strings.TrimSpace(classCode))
	if !ok {
		return nil, notFound("share class", classCode)
	}
	return s.store.ListAllocations(ctx, AllocationFilter{
		CompanyID:  companyID,
		ShareClass: sc.ClassCode,
		Status:     StatusActive,
	})
}

// GetCompanyShareStatistics computes the company roll-up over ACTIVE allocations. With a
// cache configured, a hit is served until the next committed mutation of the company.
func (s *Service) GetCompanyShareStatistics(ctx context.Context, companyID string) (CompanyShareStatistics, error) {
	if _, err := s.store.GetCompany(ctx, companyID); err != nil {
		return CompanyShareStatistics{}, err
	}
	cached := s.cache != nil
	var gen int64
	if cached {
		var err error
		gen, err = s.cache.Generation(ctx, companyID)
		if err != nil {
			obs.Logger().Warn().Err(err).Str("company_id", companyID).Msg("stats cache generation failed")
			cached = false
		}
	}
	if cached {
		st, ok, err := s.cache.GetCompanyStatistics(ctx, companyID, gen)
		switch {
		case err != nil:
			obs.Logger().Warn().Err(err).Str("company_id", companyID).Msg("stats cache read failed")
		case ok:
			return st, nil
		}
	}

	classes, err := s.store.ListShareClasses(ctx, companyID)
	if err != nil {
		return CompanyShareStatistics{}, err
	}
	allocs, err := s.store.ListAllocations(ctx, AllocationFilter{CompanyID: companyID, Status: StatusActive})
	if err != nil {
		return CompanyShareStatistics{}, err
	}
	st := CompanyStatistics(companyID, classes, allocs)

	if cached {
		// Stored under the generation read before the snapshot; a commit in between
		// has already moved readers to the next generation.
		if err := s.cache.SetCompanyStatistics(ctx, gen, st); err != nil {
			obs.Logger().Warn().Err(err).Str("company_id", companyID).Msg("stats cache write failed")
		}
	}
	return st, nil
}

func (s *Service) GetShareholderPortfolio(ctx context.Context, shareholderID string) (ShareholderPortfolio, error) {
	allocs, err := s.GetActiveAllocationsByShareholder(ctx, shareholderID)
	if err != nil {
		return ShareholderPortfolio{}, err
	}
	companies := make(map[string]Company)
	for _, a := range allocs {
		if _, ok := companies[a.CompanyID]; ok {
			continue
		}
		c, err := s.store.GetCompany(ctx, a.CompanyID)
		if err != nil {
			return ShareholderPortfolio{}, err
		}
		companies[c.ID] = c
	}
	return BuildPortfolio(shareholderID, allocs, companies), nil
}

// GetCapTable lists current holders of the company with their share and voting totals.
func (s *Service) GetCapTable(ctx context.Context, companyID string) (CapTable, error) {
	company, err := s.store.GetCompany(ctx, companyID)
	if err != nil {
		return CapTable{}, err
	}
	classes, err := s.store.ListShareClasses(ctx, companyID)
	if err != nil {
		return CapTable{}, err
	}
	allocs, err := s.store.ListAllocations(ctx, AllocationFilter{CompanyID: companyID, Status: StatusActive})
	if err != nil {
		return CapTable{}, err
	}
	holders := make(map[string]Shareholder)
	for _, a := range allocs {
		if _, ok := holders[a.ShareholderID]; ok {
			continue
		}
		sh, err := s.store.GetShareholder(ctx, a.ShareholderID)
		if err != nil {
			return CapTable{}, err
		}
		holders[sh.ID] = sh
	}
	return BuildCapTable(company, classes, allocs, holders), nil
}
