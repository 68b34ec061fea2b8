package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"capledger.org/internal/ledger"
)

// repo runs the ledger queries on either the pool or an open transaction.
type repo struct {
	q sqlx.ExtContext
}

var _ ledger.Repository = (*repo)(nil)

func notFound(entity, id string) error {
	return fmt.Errorf("%w: %s %s", ledger.ErrNotFound, entity, id)
}

func (r *repo) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	return res, nil
}

func (r *repo) InsertCompany(ctx context.Context, c ledger.Company) error {
	_, err := r.exec(ctx, `
		insert into companies(id, name, registration_number, created_at)
		values ($1, $2, $3, $4)
	`, c.ID, c.Name, nullIfEmpty(c.RegistrationNumber), c.CreatedAt)
	return err
}

func (r *repo) GetCompany(ctx context.Context, id string) (ledger.Company, error) {
	var row companyRow
	err := sqlx.GetContext(ctx, r.q, &row, `
		select id, name, registration_number, created_at from companies where id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Company{}, notFound("company", id)
	}
	if err != nil {
		return ledger.Company{}, mapError(err)
	}
	return row.toModel(), nil
}

func (r *repo) InsertShareholder(ctx context.Context, sh ledger.Shareholder) error {
	_, err := r.exec(ctx, `
		insert into shareholders(id, full_name, kind, address_line1, address_line2, city, region,
			postal_code, country, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, sh.ID, sh.FullName, string(sh.Kind), sh.Address.Line1, sh.Address.Line2, sh.Address.City,
		sh.Address.Region, sh.Address.PostalCode, sh.Address.Country, sh.CreatedAt)
	return err
}

func (r *repo) GetShareholder(ctx context.Context, id string) (ledger.Shareholder, error) {
	var row shareholderRow
	err := sqlx.GetContext(ctx, r.q, &row, `
		select id, full_name, kind, address_line1, address_line2, city, region, postal_code, country, created_at
		from shareholders where id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Shareholder{}, notFound("shareholder", id)
	}
	if err != nil {
		return ledger.Shareholder{}, mapError(err)
	}
	return row.toModel(), nil
}

func (r *repo) LinkShareholder(ctx context.Context, companyID, shareholderID string, at time.Time) error {
	_, err := r.exec(ctx, `
		insert into company_shareholders(company_id, shareholder_id, linked_at)
		values ($1, $2, $3)
		on conflict (company_id, shareholder_id) do nothing
	`, companyID, shareholderID, at)
	return err
}

func (r *repo) LinkedShareholders(ctx context.Context, companyID string) ([]string, error) {
	var out []string
	err := sqlx.SelectContext(ctx, r.q, &out, `
		select shareholder_id from company_shareholders
		where company_id = $1
		order by linked_at, shareholder_id
	`, companyID)
	if err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (r *repo) InsertShareClass(ctx context.Context, sc ledger.ShareClass) error {
	_, err := r.exec(ctx, `
		insert into share_classes(`+shareClassColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, sc.ID, sc.CompanyID, sc.ClassCode, sc.ClassName, sc.Description, string(sc.VotingRights),
		sc.VotesPerShare, string(sc.DividendRights), sc.DividendRate, string(sc.CapitalDistributionRights),
		sc.LiquidationPreferenceMultiple, sc.IsTransferable, sc.RequiresBoardApproval, sc.PreEmptiveRights,
		sc.TagAlongRights, sc.DragAlongRights, sc.ParValue, sc.NoParValue, sc.IsActive(), sc.CreatedAt, sc.UpdatedAt)
	return err
}

// UpdateShareClass rewrites everything except the code and owning company.
func (r *repo) UpdateShareClass(ctx context.Context, sc ledger.ShareClass) error {
	res, err := r.exec(ctx, `
		update share_classes set
			class_name = $2, description = $3, voting_rights = $4, votes_per_share = $5,
			dividend_rights = $6, dividend_rate = $7, capital_distribution_rights = $8,
			liquidation_preference_multiple = $9, is_transferable = $10, requires_board_approval = $11,
			pre_emptive_rights = $12, tag_along_rights = $13, drag_along_rights = $14,
			par_value = $15, no_par_value = $16, is_active = $17, updated_at = $18
		where id = $1
	`, sc.ID, sc.ClassName, sc.Description, string(sc.VotingRights), sc.VotesPerShare,
		string(sc.DividendRights), sc.DividendRate, string(sc.CapitalDistributionRights),
		sc.LiquidationPreferenceMultiple, sc.IsTransferable, sc.RequiresBoardApproval,
		sc.PreEmptiveRights, sc.TagAlongRights, sc.DragAlongRights, sc.ParValue, sc.NoParValue,
		sc.IsActive(), sc.UpdatedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound("share class", sc.ID)
	}
	return nil
}

func (r *repo) GetShareClass(ctx context.Context, id string) (ledger.ShareClass, error) {
	var row shareClassRow
	err := sqlx.GetContext(ctx, r.q, &row, `select `+shareClassColumns+` from share_classes where id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ShareClass{}, notFound("share class", id)
	}
	if err != nil {
		return ledger.ShareClass{}, mapError(err)
	}
	return row.toModel(), nil
}

func (r *repo) ListShareClasses(ctx context.Context, companyID string) ([]ledger.ShareClass, error) {
	rows, err := r.q.QueryxContext(ctx, `
		select `+shareClassColumns+` from share_classes
		where company_id = $1
		order by created_at, id
	`, companyID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []ledger.ShareClass
	for rows.Next() {
		var row shareClassRow
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		out = append(out, row.toModel())
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (r *repo) InsertAllocation(ctx context.Context, a ledger.Allocation) error {
	_, err := r.exec(ctx, `
		insert into share_allocations(`+allocationColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, a.ID, a.CompanyID, a.ShareholderID, a.ShareClass, a.NumberOfShares, a.NominalValue,
		a.AmountPaid, a.AllocationDate, nullIfEmpty(a.CertificateNumber), string(a.Status),
		nullTime(a.TransferDate), nullIfEmpty(a.TransferToShareholderID), nullIfEmpty(a.TransferredFromID),
		a.IsFullyPaid, nullIfEmpty(a.Restrictions), nullIfEmpty(a.CancellationReason),
		nullTime(a.CancelledAt), a.Version, a.CreatedAt, a.UpdatedAt)
	return err
}

// UpdateAllocation writes the mutable columns if the stored version is a.Version-1.
// Certificate, holder, class and amounts issued never change after insert.
func (r *repo) UpdateAllocation(ctx context.Context, a ledger.Allocation) error {
	res, err := r.exec(ctx, `
		update share_allocations set
			amount_paid = $3, is_fully_paid = $4, status = $5, transfer_date = $6,
			transfer_to_shareholder_id = $7, cancellation_reason = $8, cancelled_at = $9,
			version = $2, updated_at = $10
		where id = $1 and version = $2 - 1
	`, a.ID, a.Version, a.AmountPaid, a.IsFullyPaid, string(a.Status), nullTime(a.TransferDate),
		nullIfEmpty(a.TransferToShareholderID), nullIfEmpty(a.CancellationReason),
		nullTime(a.CancelledAt), a.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := sqlx.GetContext(ctx, r.q, &exists, `select exists(select 1 from share_allocations where id = $1)`, a.ID); err != nil {
		return mapError(err)
	}
	if !exists {
		return notFound("allocation", a.ID)
	}
	return fmt.Errorf("%w: allocation %s was modified concurrently", ledger.ErrConflict, a.ID)
}

func (r *repo) getAllocation(ctx context.Context, id, suffix string) (ledger.Allocation, error) {
	var row allocationRow
	err := sqlx.GetContext(ctx, r.q, &row, `select `+allocationColumns+` from share_allocations where id = $1`+suffix, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Allocation{}, notFound("allocation", id)
	}
	if err != nil {
		return ledger.Allocation{}, mapError(err)
	}
	return row.toModel(), nil
}

func (r *repo) GetAllocation(ctx context.Context, id string) (ledger.Allocation, error) {
	return r.getAllocation(ctx, id, "")
}

func (r *repo) LockAllocation(ctx context.Context, id string) (ledger.Allocation, error) {
	return r.getAllocation(ctx, id, " for update")
}

func (r *repo) CertificateInUse(ctx context.Context, certificate string) (bool, error) {
	var used bool
	err := sqlx.GetContext(ctx, r.q, &used,
		`select exists(select 1 from share_allocations where certificate_number = $1)`, certificate)
	if err != nil {
		return false, mapError(err)
	}
	return used, nil
}

func (r *repo) ListAllocations(ctx context.Context, f ledger.AllocationFilter) ([]ledger.Allocation, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.CompanyID != "" {
		add("company_id = $%d", f.CompanyID)
	}
	if f.ShareholderID != "" {
		add("shareholder_id = $%d", f.ShareholderID)
	}
	if f.ShareClass != "" {
		add("upper(share_class) = upper($%d)", f.ShareClass)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}

	query := `select ` + allocationColumns + ` from share_allocations`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	query += ` order by allocation_date, created_at, id`

	rows, err := r.q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []ledger.Allocation
	for rows.Next() {
		var row allocationRow
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		out = append(out, row.toModel())
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}
