package ledger

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ClassStatistics aggregates the ACTIVE allocations of one share class.
type ClassStatistics struct {
	ClassCode       string          `json:"class_code"`
	ClassName       string          `json:"class_name,omitempty"`
	State           ClassState      `json:"state,omitempty"`
	AllocationCount int             `json:"allocation_count"`
	TotalShares     int64           `json:"total_shares"`
	TotalValue      decimal.Decimal `json:"total_value"`
	TotalPaid       decimal.Decimal `json:"total_paid"`
	TotalVotes      int64           `json:"total_votes"`
	Percentage      decimal.Decimal `json:"percentage"`
}

// CompanyShareStatistics is the company-level roll-up of the current cap table.
type CompanyShareStatistics struct {
	CompanyID           string            `json:"company_id"`
	AllocationCount     int               `json:"allocation_count"`
	ShareholderCount    int               `json:"shareholder_count"`
	TotalShares         int64             `json:"total_shares"`
	TotalValue          decimal.Decimal   `json:"total_value"`
	TotalPaid           decimal.Decimal   `json:"total_paid"`
	TotalUnpaid         decimal.Decimal   `json:"total_unpaid"`
	FullyPaidShares     int64             `json:"fully_paid_shares"`
	PartiallyPaidShares int64             `json:"partially_paid_shares"`
	ByClass             []ClassStatistics `json:"by_class"`
}

// HolderSummary is one line of a cap table.
type HolderSummary struct {
	ShareholderID string           `json:"shareholder_id"`
	FullName      string           `json:"full_name,omitempty"`
	Kind          ShareholderKind  `json:"kind,omitempty"`
	TotalShares   int64            `json:"total_shares"`
	TotalValue    decimal.Decimal  `json:"total_value"`
	TotalPaid     decimal.Decimal  `json:"total_paid"`
	TotalVotes    int64            `json:"total_votes"`
	Percentage    decimal.Decimal  `json:"percentage"`
	VotingPercent decimal.Decimal  `json:"voting_percentage"`
	SharesByClass map[string]int64 `json:"shares_by_class"`
}

type CapTable struct {
	CompanyID   string          `json:"company_id"`
	CompanyName string          `json:"company_name,omitempty"`
	TotalShares int64           `json:"total_shares"`
	TotalVotes  int64           `json:"total_votes"`
	Holders     []HolderSummary `json:"holders"`
}

// CompanyHolding is the part of a portfolio held in one company.
type CompanyHolding struct {
	CompanyID       string           `json:"company_id"`
	CompanyName     string           `json:"company_name,omitempty"`
	AllocationCount int              `json:"allocation_count"`
	TotalShares     int64            `json:"total_shares"`
	TotalValue      decimal.Decimal  `json:"total_value"`
	TotalPaid       decimal.Decimal  `json:"total_paid"`
	TotalUnpaid     decimal.Decimal  `json:"total_unpaid"`
	SharesByClass   map[string]int64 `json:"shares_by_class"`
}

type ShareholderPortfolio struct {
	ShareholderID   string           `json:"shareholder_id"`
	AllocationCount int              `json:"allocation_count"`
	TotalShares     int64            `json:"total_shares"`
	TotalValue      decimal.Decimal  `json:"total_value"`
	TotalPaid       decimal.Decimal  `json:"total_paid"`
	TotalUnpaid     decimal.Decimal  `json:"total_unpaid"`
	Companies       []CompanyHolding `json:"companies"`
}

func percentage(part, whole int64) decimal.Decimal {
	if whole == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(part).Mul(hundred).Div(decimal.NewFromInt(whole)).Round(2)
}

var maxTotal = decimal.NewFromInt(math.MaxInt64)

// checkCompanyCapacity rejects ACTIVE allocations whose company share or vote totals
// would not fit the int64 counters of the statistics.
func checkCompanyCapacity(classes []ShareClass, allocs []Allocation) error {
	votes := votesPerShare(classes)
	shares, totalVotes := decimal.Zero, decimal.Zero
	for _, a := range activeOnly(allocs) {
		n := decimal.NewFromInt(a.NumberOfShares)
		shares = shares.Add(n)
		totalVotes = totalVotes.Add(n.Mul(decimal.NewFromInt(votes[a.ShareClass])))
	}
	switch {
	case shares.GreaterThan(maxTotal):
		return invalidf("company share total %s exceeds %s", shares, maxTotal)
	case totalVotes.GreaterThan(maxTotal):
		return invalidf("company vote total %s exceeds %s", totalVotes, maxTotal)
	}
	return nil
}

func activeOnly(allocs []Allocation) []Allocation {
	out := make([]Allocation, 0, len(allocs))
	for _, a := range allocs {
		if a.Status == StatusActive {
			out = append(out, a)
		}
	}
	return out
}

func votesPerShare(classes []ShareClass) map[string]int64 {
	m := make(map[string]int64, len(classes))
	for _, sc := range classes {
		m[sc.ClassCode] = int64(sc.VotesPerShare)
	}
	return m
}

// ShareClassStatistics returns one row per known class, plus any class code found only
// on allocations, ordered by class code. Only ACTIVE allocations count.
func ShareClassStatistics(classes []ShareClass, allocs []Allocation) []ClassStatistics {
	allocs = activeOnly(allocs)
	votes := votesPerShare(classes)

	rows := make(map[string]*ClassStatistics, len(classes))
	for _, sc := range classes {
		rows[sc.ClassCode] = &ClassStatistics{
			ClassCode:  sc.ClassCode,
			ClassName:  sc.ClassName,
			State:      sc.State,
			TotalValue: decimal.Zero,
			TotalPaid:  decimal.Zero,
		}
	}
	var total int64
	for _, a := range allocs {
		row, ok := rows[a.ShareClass]
		if !ok {
			row = &ClassStatistics{ClassCode: a.ShareClass, TotalValue: decimal.Zero, TotalPaid: decimal.Zero}
			rows[a.ShareClass] = row
		}
		row.AllocationCount++
		row.TotalShares += a.NumberOfShares
		row.TotalValue = row.TotalValue.Add(a.TotalValue())
		row.TotalPaid = row.TotalPaid.Add(a.AmountPaid)
		row.TotalVotes += a.NumberOfShares * votes[a.ShareClass]
		total += a.NumberOfShares
	}

	out := make([]ClassStatistics, 0, len(rows))
	for _, row := range rows {
		row.Percentage = percentage(row.TotalShares, total)
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClassCode < out[j].ClassCode })
	return out
}

// CompanyStatistics derives the company roll-up from its allocations. An empty ledger
// yields zero statistics.
func CompanyStatistics(companyID string, classes []ShareClass, allocs []Allocation) CompanyShareStatistics {
	allocs = activeOnly(allocs)
	st := CompanyShareStatistics{
		CompanyID:   companyID,
		TotalValue:  decimal.Zero,
		TotalPaid:   decimal.Zero,
		TotalUnpaid: decimal.Zero,
		ByClass:     ShareClassStatistics(classes, allocs),
	}
	holders := make(map[string]struct{})
	for _, a := range allocs {
		st.AllocationCount++
		st.TotalShares += a.NumberOfShares
		st.TotalValue = st.TotalValue.Add(a.TotalValue())
		st.TotalPaid = st.TotalPaid.Add(a.AmountPaid)
		if a.IsFullyPaid {
			st.FullyPaidShares += a.NumberOfShares
		} else {
			st.PartiallyPaidShares += a.NumberOfShares
		}
		holders[a.ShareholderID] = struct{}{}
	}
	st.TotalUnpaid = st.TotalValue.Sub(st.TotalPaid)
	st.ShareholderCount = len(holders)
	return st
}

// BuildCapTable totals ACTIVE holdings per shareholder, largest holder first. holders
// supplies names; missing entries leave the name blank.
func BuildCapTable(company Company, classes []ShareClass, allocs []Allocation, holders map[string]Shareholder) CapTable {
	allocs = activeOnly(allocs)
	votes := votesPerShare(classes)
	ct := CapTable{CompanyID: company.ID, CompanyName: company.Name}

	lines := make(map[string]*HolderSummary)
	for _, a := range allocs {
		h, ok := lines[a.ShareholderID]
		if !ok {
			h = &HolderSummary{
				ShareholderID: a.ShareholderID,
				TotalValue:    decimal.Zero,
				TotalPaid:     decimal.Zero,
				SharesByClass: make(map[string]int64),
			}
			if sh, found := holders[a.ShareholderID]; found {
				h.FullName = sh.FullName
				h.Kind = sh.Kind
			}
			lines[a.ShareholderID] = h
		}
		v := a.NumberOfShares * votes[a.ShareClass]
		h.TotalShares += a.NumberOfShares
		h.TotalValue = h.TotalValue.Add(a.TotalValue())
		h.TotalPaid = h.TotalPaid.Add(a.AmountPaid)
		h.TotalVotes += v
		h.SharesByClass[a.ShareClass] += a.NumberOfShares
		ct.TotalShares += a.NumberOfShares
		ct.TotalVotes += v
	}

	ct.Holders = make([]HolderSummary, 0, len(lines))
	for _, h := range lines {
		h.Percentage = percentage(h.TotalShares, ct.TotalShares)
		h.VotingPercent = percentage(h.TotalVotes, ct.TotalVotes)
		ct.Holders = append(ct.Holders, *h)
	}
	sort.Slice(ct.Holders, func(i, j int) bool {
		a, b := ct.Holders[i], ct.Holders[j]
		if a.TotalShares != b.TotalShares {
			return a.TotalShares > b.TotalShares
		}
		return a.ShareholderID < b.ShareholderID
	})
	return ct
}

// BuildPortfolio rolls up one shareholder's ACTIVE allocations across companies.
func BuildPortfolio(shareholderID string, allocs []Allocation, companies map[string]Company) ShareholderPortfolio {
	allocs = activeOnly(allocs)
	p := ShareholderPortfolio{
		ShareholderID: shareholderID,
		TotalValue:    decimal.Zero,
		TotalPaid:     decimal.Zero,
		TotalUnpaid:   decimal.Zero,
	}
	byCompany := make(map[string]*CompanyHolding)
	for _, a := range allocs {
		h, ok := byCompany[a.CompanyID]
		if !ok {
			h = &CompanyHolding{
				CompanyID:     a.CompanyID,
				CompanyName:   companies[a.CompanyID].Name,
				TotalValue:    decimal.Zero,
				TotalPaid:     decimal.Zero,
				TotalUnpaid:   decimal.Zero,
				SharesByClass: make(map[string]int64),
			}
			byCompany[a.CompanyID] = h
		}
		h.AllocationCount++
		h.TotalShares += a.NumberOfShares
		h.TotalValue = h.TotalValue.Add(a.TotalValue())
		h.TotalPaid = h.TotalPaid.Add(a.AmountPaid)
		h.TotalUnpaid = h.TotalUnpaid.Add(a.Unpaid())
		h.SharesByClass[a.ShareClass] += a.NumberOfShares

		p.AllocationCount++
		p.TotalShares += a.NumberOfShares
		p.TotalValue = p.TotalValue.Add(a.TotalValue())
		p.TotalPaid = p.TotalPaid.Add(a.AmountPaid)
		p.TotalUnpaid = p.TotalUnpaid.Add(a.Unpaid())
	}
	p.Companies = make([]CompanyHolding, 0, len(byCompany))
	for _, h := range byCompany {
		p.Companies = append(p.Companies, *h)
	}
	sort.Slice(p.Companies, func(i, j int) bool { return p.Companies[i].CompanyID < p.Companies[j].CompanyID })
	return p
}
