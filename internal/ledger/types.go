package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type VotingRights string

const (
	VotingNone       VotingRights = "NONE"
	VotingOrdinary   VotingRights = "ORDINARY"
	VotingWeighted   VotingRights = "WEIGHTED"
	VotingRestricted VotingRights = "RESTRICTED"
)

func (v VotingRights) Valid() bool {
	switch v {
	case VotingNone, VotingOrdinary, VotingWeighted, VotingRestricted:
		return true
	}
	return false
}

type DividendRights string

const (
	DividendNone       DividendRights = "NONE"
	DividendOrdinary   DividendRights = "ORDINARY"
	DividendPreferred  DividendRights = "PREFERRED"
	DividendCumulative DividendRights = "CUMULATIVE"
)

func (d DividendRights) Valid() bool {
	switch d {
	case DividendNone, DividendOrdinary, DividendPreferred, DividendCumulative:
		return true
	}
	return false
}

// RequiresRate reports whether a fixed dividend rate must accompany the kind.
func (d DividendRights) RequiresRate() bool {
	return d == DividendPreferred || d == DividendCumulative
}

type CapitalRights string

const (
	CapitalOrdinary  CapitalRights = "ORDINARY"
	CapitalPreferred CapitalRights = "PREFERRED"
	CapitalNone      CapitalRights = "NONE"
)

func (c CapitalRights) Valid() bool {
	switch c {
	case CapitalOrdinary, CapitalPreferred, CapitalNone:
		return true
	}
	return false
}

// ClassState replaces deletion: an inactive class stays resolvable for historical allocations.
type ClassState string

const (
	ClassActive   ClassState = "ACTIVE"
	ClassInactive ClassState = "INACTIVE"
)

type AllocationStatus string

const (
	StatusActive      AllocationStatus = "ACTIVE"
	StatusTransferred AllocationStatus = "TRANSFERRED"
	StatusCancelled   AllocationStatus = "CANCELLED"
)

// Terminal reports whether no further mutation is permitted.
func (s AllocationStatus) Terminal() bool {
	return s == StatusTransferred || s == StatusCancelled
}

func (s AllocationStatus) Valid() bool {
	return s == StatusActive || s.Terminal()
}

type ShareholderKind string

const (
	ShareholderIndividual ShareholderKind = "INDIVIDUAL"
	ShareholderCorporate  ShareholderKind = "CORPORATE"
)

func (k ShareholderKind) Valid() bool {
	return k == ShareholderIndividual || k == ShareholderCorporate
}

type Company struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	RegistrationNumber string    `json:"registration_number,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Shareholder is an identity record. It is referenced by companies and allocations,
// never owned by them.
type Shareholder struct {
	ID        string          `json:"id"`
	FullName  string          `json:"full_name"`
	Kind      ShareholderKind `json:"kind"`
	Address   Address         `json:"address"`
	CreatedAt time.Time       `json:"created_at"`
}

func (s Shareholder) IsCorporate() bool { return s.Kind == ShareholderCorporate }

type ShareClass struct {
	ID                            string              `json:"id"`
	CompanyID                     string              `json:"company_id"`
	ClassCode                     string              `json:"class_code"`
	ClassName                     string              `json:"class_name"`
	Description                   string              `json:"description,omitempty"`
	VotingRights                  VotingRights        `json:"voting_rights"`
	VotesPerShare                 int                 `json:"votes_per_share"`
	DividendRights                DividendRights      `json:"dividend_rights"`
	DividendRate                  decimal.NullDecimal `json:"dividend_rate"`
	CapitalDistributionRights     CapitalRights       `json:"capital_distribution_rights"`
	LiquidationPreferenceMultiple decimal.NullDecimal `json:"liquidation_preference_multiple"`
	IsTransferable                bool                `json:"is_transferable"`
	RequiresBoardApproval         bool                `json:"requires_board_approval"`
	PreEmptiveRights              bool                `json:"pre_emptive_rights"`
	TagAlongRights                bool                `json:"tag_along_rights"`
	DragAlongRights               bool                `json:"drag_along_rights"`
	ParValue                      decimal.NullDecimal `json:"par_value"`
	NoParValue                    bool                `json:"no_par_value"`
	State                         ClassState          `json:"state"`
	CreatedAt                     time.Time           `json:"created_at"`
	UpdatedAt                     time.Time           `json:"updated_at"`
}

func (sc ShareClass) IsActive() bool { return sc.State == ClassActive }

// Allocation is one ledger row: a block of shares of one class held by one shareholder.
type Allocation struct {
	ID                      string           `json:"id"`
	CompanyID               string           `json:"company_id"`
	ShareholderID           string           `json:"shareholder_id"`
	ShareClass              string           `json:"share_class"`
	NumberOfShares          int64            `json:"number_of_shares"`
	NominalValue            decimal.Decimal  `json:"nominal_value"`
	AmountPaid              decimal.Decimal  `json:"amount_paid"`
	AllocationDate          time.Time        `json:"allocation_date"`
	CertificateNumber       string           `json:"certificate_number,omitempty"`
	Status                  AllocationStatus `json:"status"`
	TransferDate            *time.Time       `json:"transfer_date,omitempty"`
	TransferToShareholderID string           `json:"transfer_to_shareholder_id,omitempty"`
	TransferredFromID       string           `json:"transferred_from_id,omitempty"`
	IsFullyPaid             bool             `json:"is_fully_paid"`
	Restrictions            string           `json:"restrictions,omitempty"`
	CancellationReason      string           `json:"cancellation_reason,omitempty"`
	CancelledAt             *time.Time       `json:"cancelled_at,omitempty"`
	Version                 int64            `json:"version"`
	CreatedAt               time.Time        `json:"created_at"`
	UpdatedAt               time.Time        `json:"updated_at"`
}

// TotalValue is nominal value times number of shares: the amount owed when fully paid.
func (a Allocation) TotalValue() decimal.Decimal {
	return a.NominalValue.Mul(decimal.NewFromInt(a.NumberOfShares))
}

func (a Allocation) Unpaid() decimal.Decimal {
	return a.TotalValue().Sub(a.AmountPaid)
}

// fullyPaid is the single definition of the derived is-fully-paid flag.
func fullyPaid(nominal decimal.Decimal, shares int64, paid decimal.Decimal) bool {
	return paid.Equal(nominal.Mul(decimal.NewFromInt(shares)))
}

// Date truncates t to a civil date at UTC midnight.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
