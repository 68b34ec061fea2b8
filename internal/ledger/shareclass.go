package ledger

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"capledger.org/internal/audit"
	"capledger.org/internal/ids"
)

const (
	DefaultClassCode = "ORD"
	DefaultClassName = "Ordinary"

	maxClassNameLen = 100
	maxDividendRate = 100
)

var classCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,20}$`)

// ShareClassInput carries the rights of a new class. Empty rights kinds default to
// ORDINARY; an ORDINARY voting class without votes gets one vote per share. A class is
// transferable unless IsTransferable is explicitly false.
type ShareClassInput struct {
	ClassCode                     string              `json:"class_code"`
	ClassName                     string              `json:"class_name"`
	Description                   string              `json:"description"`
	VotingRights                  VotingRights        `json:"voting_rights"`
	VotesPerShare                 int                 `json:"votes_per_share"`
	DividendRights                DividendRights      `json:"dividend_rights"`
	DividendRate                  decimal.NullDecimal `json:"dividend_rate"`
	CapitalDistributionRights     CapitalRights       `json:"capital_distribution_rights"`
	LiquidationPreferenceMultiple decimal.NullDecimal `json:"liquidation_preference_multiple"`
	IsTransferable                *bool               `json:"is_transferable"`
	RequiresBoardApproval         bool                `json:"requires_board_approval"`
	PreEmptiveRights              bool                `json:"pre_emptive_rights"`
	TagAlongRights                bool                `json:"tag_along_rights"`
	DragAlongRights               bool                `json:"drag_along_rights"`
	ParValue                      decimal.NullDecimal `json:"par_value"`
	NoParValue                    bool                `json:"no_par_value"`
}

// OptionalDecimal is a nullable decimal that remembers whether it was present at all,
// so an update can tell an explicit null (clear the value) from an absent field.
type OptionalDecimal struct {
	Set   bool
	Value decimal.NullDecimal
}

// SetDecimal returns a present, non-null value.
func SetDecimal(d decimal.Decimal) OptionalDecimal {
	return OptionalDecimal{Set: true, Value: decimal.NewNullDecimal(d)}
}

// ClearDecimal returns a present null.
func ClearDecimal() OptionalDecimal {
	return OptionalDecimal{Set: true}
}

func (o *OptionalDecimal) UnmarshalJSON(b []byte) error {
	o.Set = true
	return o.Value.UnmarshalJSON(b)
}

func (o OptionalDecimal) MarshalJSON() ([]byte, error) {
	return o.Value.MarshalJSON()
}

// ShareClassUpdate changes only the non-nil fields and the decimals that are Set.
// ClassCode, when set, must match the existing code: codes are stable identifiers once
// allocations reference them.
type ShareClassUpdate struct {
	ClassCode                     *string              `json:"class_code,omitempty"`
	ClassName                     *string              `json:"class_name,omitempty"`
	Description                   *string              `json:"description,omitempty"`
	VotingRights                  *VotingRights        `json:"voting_rights,omitempty"`
	VotesPerShare                 *int                 `json:"votes_per_share,omitempty"`
	DividendRights                *DividendRights      `json:"dividend_rights,omitempty"`
	DividendRate                  OptionalDecimal      `json:"dividend_rate"`
	CapitalDistributionRights     *CapitalRights       `json:"capital_distribution_rights,omitempty"`
	LiquidationPreferenceMultiple OptionalDecimal      `json:"liquidation_preference_multiple"`
	IsTransferable                *bool                `json:"is_transferable,omitempty"`
	RequiresBoardApproval         *bool                `json:"requires_board_approval,omitempty"`
	PreEmptiveRights              *bool                `json:"pre_emptive_rights,omitempty"`
	TagAlongRights                *bool                `json:"tag_along_rights,omitempty"`
	DragAlongRights               *bool                `json:"drag_along_rights,omitempty"`
	ParValue                      OptionalDecimal      `json:"par_value"`
	NoParValue                    *bool                `json:"no_par_value,omitempty"`
}

func defaultShareClass(companyID string, now time.Time) ShareClass {
	return ShareClass{
		ID:                        ids.New(),
		CompanyID:                 companyID,
		ClassCode:                 DefaultClassCode,
		ClassName:                 DefaultClassName,
		Description:               "Ordinary shares with full voting, dividend and capital rights",
		VotingRights:              VotingOrdinary,
		VotesPerShare:             1,
		DividendRights:            DividendOrdinary,
		CapitalDistributionRights: CapitalOrdinary,
		IsTransferable:            true,
		PreEmptiveRights:          true,
		State:                     ClassActive,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
}

func (in ShareClassInput) toShareClass(companyID string, now time.Time) ShareClass {
	sc := ShareClass{
		ID:                            ids.New(),
		CompanyID:                     companyID,
		ClassCode:                     strings.ToUpper(strings.TrimSpace(in.ClassCode)),
		ClassName:                     strings.TrimSpace(in.ClassName),
		Description:                   strings.TrimSpace(in.Description),
		VotingRights:                  in.VotingRights,
		VotesPerShare:                 in.VotesPerShare,
		DividendRights:                in.DividendRights,
		DividendRate:                  in.DividendRate,
		CapitalDistributionRights:     in.CapitalDistributionRights,
		LiquidationPreferenceMultiple: in.LiquidationPreferenceMultiple,
		IsTransferable:                in.IsTransferable == nil || *in.IsTransferable,
		RequiresBoardApproval:         in.RequiresBoardApproval,
		PreEmptiveRights:              in.PreEmptiveRights,
		TagAlongRights:                in.TagAlongRights,
		DragAlongRights:               in.DragAlongRights,
		ParValue:                      in.ParValue,
		NoParValue:                    in.NoParValue,
		State:                         ClassActive,
		CreatedAt:                     now,
		UpdatedAt:                     now,
	}
	if sc.VotingRights == "" {
		sc.VotingRights = VotingOrdinary
		if sc.VotesPerShare == 0 {
			sc.VotesPerShare = 1
		}
	}
	if sc.DividendRights == "" {
		sc.DividendRights = DividendOrdinary
	}
	if sc.CapitalDistributionRights == "" {
		sc.CapitalDistributionRights = CapitalOrdinary
	}
	return sc
}

func (u ShareClassUpdate) apply(sc ShareClass) (ShareClass, error) {
	if u.ClassCode != nil && !strings.EqualFold(strings.TrimSpace(*u.ClassCode), sc.ClassCode) {
		return sc, invalidf("share class code %s cannot be changed", sc.ClassCode)
	}
	if u.ClassName != nil {
		sc.ClassName = strings.TrimSpace(*u.ClassName)
	}
	if u.Description != nil {
		sc.Description = strings.TrimSpace(*u.Description)
	}
	if u.VotingRights != nil {
		sc.VotingRights = *u.VotingRights
	}
	if u.VotesPerShare != nil {
		sc.VotesPerShare = *u.VotesPerShare
	}
	if u.DividendRights != nil {
		sc.DividendRights = *u.DividendRights
	}
	if u.DividendRate.Set {
		sc.DividendRate = u.DividendRate.Value
	}
	if u.CapitalDistributionRights != nil {
		sc.CapitalDistributionRights = *u.CapitalDistributionRights
	}
	if u.LiquidationPreferenceMultiple.Set {
		sc.LiquidationPreferenceMultiple = u.LiquidationPreferenceMultiple.Value
	}
	if u.IsTransferable != nil {
		sc.IsTransferable = *u.IsTransferable
	}
	if u.RequiresBoardApproval != nil {
		sc.RequiresBoardApproval = *u.RequiresBoardApproval
	}
	if u.PreEmptiveRights != nil {
		sc.PreEmptiveRights = *u.PreEmptiveRights
	}
	if u.TagAlongRights != nil {
		sc.TagAlongRights = *u.TagAlongRights
	}
	if u.DragAlongRights != nil {
		sc.DragAlongRights = *u.DragAlongRights
	}
	if u.ParValue.Set {
		sc.ParValue = u.ParValue.Value
	}
	if u.NoParValue != nil {
		sc.NoParValue = *u.NoParValue
	}
	return sc, nil
}

// validateShareClass checks the cross-field consistency rules of a class and reports
// every violation at once.
func validateShareClass(sc ShareClass) error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if !classCodePattern.MatchString(sc.ClassCode) {
		add("class code must be 1-20 letters, digits, '-' or '_'")
	}
	switch {
	case sc.ClassName == "":
		add("class name is required")
	case len(sc.ClassName) > maxClassNameLen:
		add("class name must be at most %d characters", maxClassNameLen)
	}

	switch {
	case !sc.VotingRights.Valid():
		add("unknown voting rights %q", sc.VotingRights)
	case sc.VotingRights == VotingNone && sc.VotesPerShare != 0:
		add("votes per share must be 0 for non-voting shares")
	case sc.VotingRights != VotingNone && sc.VotesPerShare <= 0:
		add("votes per share must be positive for %s voting shares", sc.VotingRights)
	}

	switch {
	case !sc.DividendRights.Valid():
		add("unknown dividend rights %q", sc.DividendRights)
	case sc.DividendRights.RequiresRate() && !sc.DividendRate.Valid:
		add("dividend rate is required for %s dividends", sc.DividendRights)
	case !sc.DividendRights.RequiresRate() && sc.DividendRate.Valid:
		add("dividend rate only applies to PREFERRED or CUMULATIVE dividends")
	case sc.DividendRate.Valid && (!sc.DividendRate.Decimal.IsPositive() ||
		sc.DividendRate.Decimal.GreaterThan(decimal.NewFromInt(maxDividendRate))):
		add("dividend rate must be greater than 0 and at most %d", maxDividendRate)
	}

	switch {
	case !sc.CapitalDistributionRights.Valid():
		add("unknown capital distribution rights %q", sc.CapitalDistributionRights)
	case sc.LiquidationPreferenceMultiple.Valid && sc.CapitalDistributionRights != CapitalPreferred:
		add("liquidation preference multiple only applies to PREFERRED capital rights")
	case sc.LiquidationPreferenceMultiple.Valid && !sc.LiquidationPreferenceMultiple.Decimal.IsPositive():
		add("liquidation preference multiple must be positive")
	}

	switch {
	case sc.NoParValue && sc.ParValue.Valid && !sc.ParValue.Decimal.IsZero():
		add("par value cannot be set on a no-par-value class")
	case !sc.NoParValue && sc.ParValue.Valid && !sc.ParValue.Decimal.IsPositive():
		add("par value must be positive")
	}

	for _, f := range []struct {
		name  string
		value decimal.NullDecimal
		limit decimal.Decimal
	}{
		{"dividend rate", sc.DividendRate, maxRatio},
		{"liquidation preference multiple", sc.LiquidationPreferenceMultiple, maxRatio},
		{"par value", sc.ParValue, maxAmount},
	} {
		if !f.value.Valid {
			continue
		}
		if p := decimalProblem(f.name, f.value.Decimal, f.limit); p != "" {
			add("%s", p)
		}
	}

	if sc.RequiresBoardApproval && !sc.IsTransferable {
		add("board approval only applies to transferable classes")
	}

	if len(problems) > 0 {
		return invalidf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// checkUniqueClass enforces case-insensitive uniqueness of code and name within a company.
func checkUniqueClass(existing []ShareClass, sc ShareClass) error {
	for _, other := range existing {
		if other.ID == sc.ID {
			continue
		}
		if strings.EqualFold(other.ClassCode, sc.ClassCode) {
			return invalidf("share class code %q already exists", sc.ClassCode)
		}
		if strings.EqualFold(other.ClassName, sc.ClassName) {
			return invalidf("share class name %q already exists", sc.ClassName)
		}
	}
	return nil
}

func findClassByCode(classes []ShareClass, code string) (ShareClass, bool) {
	for _, sc := range classes {
		if strings.EqualFold(sc.ClassCode, code) {
			return sc, true
		}
	}
	return ShareClass{}, false
}

// CreateShareClass adds a class to the company's registry.
func (s *Service) CreateShareClass(ctx context.Context, companyID string, in ShareClassInput) (ShareClass, error) {
	const op = "share_class.create"
	start := time.Now()
	sc := in.toShareClass(companyID, s.now().UTC())

	err := s.store.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.GetCompany(ctx, companyID); err != nil {
			return err
		}
		if err := validateShareClass(sc); err != nil {
			return err
		}
		existing, err := repo.ListShareClasses(ctx, companyID)
		if err != nil {
			return err
		}
		if err := checkUniqueClass(existing, sc); err != nil {
			return err
		}
		return repo.InsertShareClass(ctx, sc)
	})
	if err != nil {
		s.finish(ctx, op, companyID, start, err)
		return ShareClass{}, err
	}

	ev := audit.NewEvent(ctx, op, "share_class", sc.ID)
	ev.CompanyID = companyID
	ev.After = classSummary(sc)
	s.finish(ctx, op, companyID, start, nil, ev)
	return sc, nil
}

// UpdateShareClass changes rights or naming of a class and re-validates it.
func (s *Service) UpdateShareClass(ctx context.Context, shareClassID string, upd ShareClassUpdate) (ShareClass, error) {
	const op = "share_class.update"
	start := time.Now()
	var before, after ShareClass

	err := s.store.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		cur, err := repo.GetShareClass(ctx, shareClassID)
		if err != nil {
			return err
		}
		before = cur
		next, err := upd.apply(cur)
		if err != nil {
			return err
		}
		if err := validateShareClass(next); err != nil {
			return err
		}
		existing, err := repo.ListShareClasses(ctx, cur.CompanyID)
		if err != nil {
			return err
		}
		if err := checkUniqueClass(existing, next); err != nil {
			return err
		}
		if next.VotesPerShare > cur.VotesPerShare {
			classes := make([]ShareClass, 0, len(existing))
			for _, sc := range existing {
				if sc.ID == next.ID {
					sc = next
				}
				classes = append(classes, sc)
			}
			allocs, err := repo.ListAllocations(ctx, AllocationFilter{CompanyID: cur.CompanyID, Status: StatusActive})
			if err != nil {
				return err
			}
			if err := checkCompanyCapacity(classes, allocs); err != nil {
				return err
			}
		}
		next.UpdatedAt = s.now().UTC()
		after = next
		return repo.UpdateShareClass(ctx, next)
	})
	if err != nil {
		s.finish(ctx, op, before.CompanyID, start, err)
		return ShareClass{}, err
	}

	ev := audit.NewEvent(ctx, op, "share_class", after.ID)
	ev.CompanyID = after.CompanyID
	ev.Before = classSummary(before)
	ev.After = classSummary(after)
	s.finish(ctx, op, after.CompanyID, start, nil, ev)
	return after, nil
}

// DeactivateShareClass marks a class inactive. Existing allocations are untouched and
// stay queryable by class code. Deactivating an inactive class is a no-op.
func (s *Service) DeactivateShareClass(ctx context.Context, shareClassID string) (ShareClass, error) {
	return s.setClassState(ctx, "share_class.deactivate", shareClassID, ClassInactive)
}

// ReactivateShareClass makes an inactive class available for new allocations again.
func (s *Service) ReactivateShareClass(ctx context.Context, shareClassID string) (ShareClass, error) {
	return s.setClassState(ctx, "share_class.reactivate", shareClassID, ClassActive)
}

func (s *Service) setClassState(ctx context.Context, op, shareClassID string, state ClassState) (ShareClass, error) {
	start := time.Now()
	var (
		before, after ShareClass
		changed       bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		cur, err := repo.GetShareClass(ctx, shareClassID)
		if err != nil {
			return err
		}
		before, after = cur, cur
		if cur.State == state {
			return nil
		}
		after.State = state
		after.UpdatedAt = s.now().UTC()
		changed = true
		return repo.UpdateShareClass(ctx, after)
	})
	if err != nil {
		s.finish(ctx, op, "", start, err)
		return ShareClass{}, err
	}
	if !changed {
		s.finish(ctx, op, "", start, nil)
		return after, nil
	}

	ev := audit.NewEvent(ctx, op, "share_class", after.ID)
	ev.CompanyID = after.CompanyID
	ev.Before = map[string]string{"state": string(before.State)}
	ev.After = map[string]string{"state": string(after.State)}
	s.finish(ctx, op, after.CompanyID, start, nil, ev)
	return after, nil
}

func (s *Service) GetShareClass(ctx context.Context, shareClassID string) (ShareClass, error) {
	return s.store.GetShareClass(ctx, shareClassID)
}

// GetActiveShareClasses lists the classes new allocations may use, in creation order.
func (s *Service) GetActiveShareClasses(ctx context.Context, companyID string) ([]ShareClass, error) {
	all, err := s.GetAllShareClasses(ctx, companyID)
	if err != nil {
		return nil, err
	}
	active := make([]ShareClass, 0, len(all))
	for _, sc := range all {
		if sc.IsActive() {
			active = append(active, sc)
		}
	}
	return active, nil
}

// GetAllShareClasses lists every class of the company, inactive ones included, in creation order.
func (s *Service) GetAllShareClasses(ctx context.Context, companyID string) ([]ShareClass, error) {
	if _, err := s.store.GetCompany(ctx, companyID); err != nil {
		return nil, err
	}
	return s.store.ListShareClasses(ctx, companyID)
}

// GetShareClassStatistics reports, per class, the ACTIVE allocations issued under it.
func (s *Service) GetShareClassStatistics(ctx context.Context, companyID string) ([]ClassStatistics, error) {
	classes, err := s.GetAllShareClasses(ctx, companyID)
	if err != nil {
		return nil, err
	}
	allocs, err := s.store.ListAllocations(ctx, AllocationFilter{CompanyID: companyID, Status: StatusActive})
	if err != nil {
		return nil, err
	}
	return ShareClassStatistics(classes, allocs), nil
}

func classSummary(sc ShareClass) map[string]string {
	m := map[string]string{
		"class_code":                  sc.ClassCode,
		"class_name":                  sc.ClassName,
		"voting_rights":               string(sc.VotingRights),
		"votes_per_share":             fmt.Sprint(sc.VotesPerShare),
		"dividend_rights":             string(sc.DividendRights),
		"capital_distribution_rights": string(sc.CapitalDistributionRights),
		"is_transferable":             fmt.Sprint(sc.IsTransferable),
		"requires_board_approval":     fmt.Sprint(sc.RequiresBoardApproval),
		"state":                       string(sc.State),
	}
	if sc.DividendRate.Valid {
		m["dividend_rate"] = sc.DividendRate.Decimal.String()
	}
	if sc.LiquidationPreferenceMultiple.Valid {
		m["liquidation_preference_multiple"] = sc.LiquidationPreferenceMultiple.Decimal.String()
	}
	if sc.ParValue.Valid {
		m["par_value"] = sc.ParValue.Decimal.String()
	}
	if sc.NoParValue {
		m["no_par_value"] = "true"
	}
	return m
}
