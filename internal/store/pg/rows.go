package pg

import (
	"database/sql"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"capledger.org/internal/ledger"
)

type companyRow struct {
	ID                 string         `db:"id"`
	Name               string         `db:"name"`
	RegistrationNumber sql.NullString `db:"registration_number"`
	CreatedAt          time.Time      `db:"created_at"`
}

func (r companyRow) toModel() ledger.Company {
	return ledger.Company{
		ID:                 r.ID,
		Name:               r.Name,
		RegistrationNumber: r.RegistrationNumber.String,
		CreatedAt:          r.CreatedAt.UTC(),
	}
}

type shareholderRow struct {
	ID         string    `db:"id"`
	FullName   string    `db:"full_name"`
	Kind       string    `db:"kind"`
	Line1      string    `db:"address_line1"`
	Line2      string    `db:"address_line2"`
	City       string    `db:"city"`
	Region     string    `db:"region"`
	PostalCode string    `db:"postal_code"`
	Country    string    `db:"country"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r shareholderRow) toModel() ledger.Shareholder {
	return ledger.Shareholder{
		ID:       r.ID,
		FullName: r.FullName,
		Kind:     ledger.ShareholderKind(r.Kind),
		Address: ledger.Address{
			Line1:      r.Line1,
			Line2:      r.Line2,
			City:       r.City,
			Region:     r.Region,
			PostalCode: r.PostalCode,
			Country:    r.Country,
		},
		CreatedAt: r.CreatedAt.UTC(),
	}
}

const shareClassColumns = `id, company_id, class_code, class_name, description, voting_rights, votes_per_share,
	dividend_rights, dividend_rate, capital_distribution_rights, liquidation_preference_multiple,
	is_transferable, requires_board_approval, pre_emptive_rights, tag_along_rights, drag_along_rights,
	par_value, no_par_value, is_active, created_at, updated_at`

type shareClassRow struct {
	ID                            string              `db:"id"`
	CompanyID                     string              `db:"company_id"`
	ClassCode                     string              `db:"class_code"`
	ClassName                     string              `db:"class_name"`
	Description                   string              `db:"description"`
	VotingRights                  string              `db:"voting_rights"`
	VotesPerShare                 int                 `db:"votes_per_share"`
	DividendRights                string              `db:"dividend_rights"`
	DividendRate                  decimal.NullDecimal `db:"dividend_rate"`
	CapitalDistributionRights     string              `db:"capital_distribution_rights"`
	LiquidationPreferenceMultiple decimal.NullDecimal `db:"liquidation_preference_multiple"`
	IsTransferable                bool                `db:"is_transferable"`
	RequiresBoardApproval         bool                `db:"requires_board_approval"`
	PreEmptiveRights              bool                `db:"pre_emptive_rights"`
	TagAlongRights                bool                `db:"tag_along_rights"`
	DragAlongRights               bool                `db:"drag_along_rights"`
	ParValue                      decimal.NullDecimal `db:"par_value"`
	NoParValue                    bool                `db:"no_par_value"`
	IsActive                      bool                `db:"is_active"`
	CreatedAt                     time.Time           `db:"created_at"`
	UpdatedAt                     time.Time           `db:"updated_at"`
}

func (r shareClassRow) toModel() ledger.ShareClass {
	state := ledger.ClassInactive
	if r.IsActive {
		state = ledger.ClassActive
	}
	return ledger.ShareClass{
		ID:                            r.ID,
		CompanyID:                     r.CompanyID,
		ClassCode:                     r.ClassCode,
		ClassName:                     r.ClassName,
		Description:                   r.Description,
		VotingRights:                  ledger.VotingRights(r.VotingRights),
		VotesPerShare:                 r.VotesPerShare,
		DividendRights:                ledger.DividendRights(r.DividendRights),
		DividendRate:                  r.DividendRate,
		CapitalDistributionRights:     ledger.CapitalRights(r.CapitalDistributionRights),
		LiquidationPreferenceMultiple: r.LiquidationPreferenceMultiple,
		IsTransferable:                r.IsTransferable,
		RequiresBoardApproval:         r.RequiresBoardApproval,
		PreEmptiveRights:              r.PreEmptiveRights,
		TagAlongRights:                r.TagAlongRights,
		DragAlongRights:               r.DragAlongRights,
		ParValue:                      r.ParValue,
		NoParValue:                    r.NoParValue,
		State:                         state,
		CreatedAt:                     r.CreatedAt.UTC(),
		UpdatedAt:                     r.UpdatedAt.UTC(),
	}
}

const allocationColumns = `id, company_id, shareholder_id, share_class, number_of_shares, nominal_value,
	amount_paid, allocation_date, certificate_number, status, transfer_date, transfer_to_shareholder_id,
	transferred_from_id, is_fully_paid, restrictions, cancellation_reason, cancelled_at, version,
	created_at, updated_at`

type allocationRow struct {
	ID                      string          `db:"id"`
	CompanyID               string          `db:"company_id"`
	ShareholderID           string          `db:"shareholder_id"`
	ShareClass              string          `db:"share_class"`
	NumberOfShares          int64           `db:"number_of_shares"`
	NominalValue            decimal.Decimal `db:"nominal_value"`
	AmountPaid              decimal.Decimal `db:"amount_paid"`
	AllocationDate          time.Time       `db:"allocation_date"`
	CertificateNumber       sql.NullString  `db:"certificate_number"`
	Status                  string          `db:"status"`
	TransferDate            sql.NullTime    `db:"transfer_date"`
	TransferToShareholderID sql.NullString  `db:"transfer_to_shareholder_id"`
	TransferredFromID       sql.NullString  `db:"transferred_from_id"`
	IsFullyPaid             bool            `db:"is_fully_paid"`
	Restrictions            sql.NullString  `db:"restrictions"`
	CancellationReason      sql.NullString  `db:"cancellation_reason"`
	CancelledAt             sql.NullTime    `db:"cancelled_at"`
	Version                 int64           `db:"version"`
	CreatedAt               time.Time       `db:"created_at"`
	UpdatedAt               time.Time       `db:"updated_at"`
}

func (r allocationRow) toModel() ledger.Allocation {
	a := ledger.Allocation{
		ID:                      r.ID,
		CompanyID:               r.CompanyID,
		ShareholderID:           r.ShareholderID,
		ShareClass:              r.ShareClass,
		NumberOfShares:          r.NumberOfShares,
		NominalValue:            r.NominalValue,
		AmountPaid:              r.AmountPaid,
		AllocationDate:          ledger.Date(r.AllocationDate),
		CertificateNumber:       r.CertificateNumber.String,
		Status:                  ledger.AllocationStatus(r.Status),
		TransferToShareholderID: r.TransferToShareholderID.String,
		TransferredFromID:       r.TransferredFromID.String,
		IsFullyPaid:             r.IsFullyPaid,
		Restrictions:            r.Restrictions.String,
		CancellationReason:      r.CancellationReason.String,
		Version:                 r.Version,
		CreatedAt:               r.CreatedAt.UTC(),
		UpdatedAt:               r.UpdatedAt.UTC(),
	}
	if r.TransferDate.Valid {
		d := ledger.Date(r.TransferDate.Time)
		a.TransferDate = &d
	}
	if r.CancelledAt.Valid {
		t := r.CancelledAt.Time.UTC()
		a.CancelledAt = &t
	}
	return a
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
