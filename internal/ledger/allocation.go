package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"capledger.org/internal/audit"
	"capledger.org/internal/ids"
)

// moneyScale is the number of decimal places stored for monetary amounts.
const moneyScale = 4

// Exclusive bounds of the stored columns: amounts are numeric(20,4), rates and
// multiples numeric(9,4).
var (
	maxAmount = decimal.New(1, 16)
	maxRatio  = decimal.New(1, 5)
)

// AllocateRequest issues a new block of shares. A zero AllocationDate means today.
type AllocateRequest struct {
	CompanyID         string          `json:"company_id"`
	ShareholderID     string          `json:"shareholder_id"`
	ShareClass        string          `json:"share_class"`
	NumberOfShares    int64           `json:"number_of_shares"`
	NominalValue      decimal.Decimal `json:"nominal_value"`
	AmountPaid        decimal.Decimal `json:"amount_paid"`
	AllocationDate    time.Time       `json:"allocation_date"`
	CertificateNumber string          `json:"certificate_number,omitempty"`
	Restrictions      string          `json:"restrictions,omitempty"`
}

// TransferRequest moves an ACTIVE allocation to another holder. A zero TransferDate
// means today. BoardApprovalRef is mandatory for classes that require board approval.
type TransferRequest struct {
	AllocationID      string    `json:"allocation_id"`
	ToShareholderID   string    `json:"to_shareholder_id"`
	TransferDate      time.Time `json:"transfer_date"`
	CertificateNumber string    `json:"certificate_number,omitempty"`
	BoardApprovalRef  string    `json:"board_approval_ref,omitempty"`
}

func decimalProblem(field string, d, limit decimal.Decimal) string {
	switch {
	case !d.Equal(d.Round(moneyScale)):
		return fmt.Sprintf("%s must have at most %d decimal places", field, moneyScale)
	case d.Abs().GreaterThanOrEqual(limit):
		return fmt.Sprintf("%s must be less than %s", field, limit)
	}
	return ""
}

func checkAmount(field string, d decimal.Decimal) error {
	if p := decimalProblem(field, d, maxAmount); p != "" {
		return invalidf("%s", p)
	}
	return nil
}

func (r AllocateRequest) validate() error {
	switch {
	case strings.TrimSpace(r.CompanyID) == "":
		return invalidf("company id is required")
	case strings.TrimSpace(r.ShareholderID) == "":
		return invalidf("shareholder id is required")
	case strings.TrimSpace(r.ShareClass) == "":
		return invalidf("share class is required")
	case r.NumberOfShares <= 0:
		return invalidf("number of shares must be positive")
	case !r.NominalValue.IsPositive():
		return invalidf("nominal value must be positive")
	case r.AmountPaid.IsNegative():
		return invalidf("amount paid cannot be negative")
	}
	if err := checkAmount("nominal value", r.NominalValue); err != nil {
		return err
	}
	if err := checkAmount("amount paid", r.AmountPaid); err != nil {
		return err
	}
	total := r.NominalValue.Mul(decimal.NewFromInt(r.NumberOfShares))
	if total.GreaterThanOrEqual(maxAmount) {
		return invalidf("total nominal value %s must be less than %s", total, maxAmount)
	}
	if r.AmountPaid.GreaterThan(total) {
		return invalidf("amount paid %s exceeds total nominal value %s", r.AmountPaid, total)
	}
	return nil
}

// AllocateShares issues shares of an active class to a shareholder and associates the
// holder with the company if needed.
func (s *Service) AllocateShares(ctx context.Context, req AllocateRequest) (Allocation, error) {
	const op = "allocation.create"
	start := time.Now()

	if err := req.validate(); err != nil {
		s.finish(ctx, op, req.CompanyID, start, err)
		return Allocation{}, err
	}
	now := s.now().UTC()
	date := s.today()
	if !req.AllocationDate.IsZero() {
		date = Date(req.AllocationDate)
	}
	a := Allocation{
		ID:                ids.New(),
		CompanyID:         req.CompanyID,
		ShareholderID:     req.ShareholderID,
		NumberOfShares:    req.NumberOfShares,
		NominalValue:      req.NominalValue,
		AmountPaid:        req.AmountPaid,
		AllocationDate:    date,
		CertificateNumber: strings.TrimSpace(req.CertificateNumber),
		Status:            StatusActive,
		IsFullyPaid:       fullyPaid(req.NominalValue, req.NumberOfShares, req.AmountPaid),
		Restrictions:      strings.TrimSpace(req.Restrictions),
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := s.store.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.GetCompany(ctx, req.CompanyID); err != nil {
			return err
		}
		if _, err := repo.GetShareholder(ctx, req.ShareholderID); err != nil {
			return err
		}
		classes, err := repo.ListShareClasses(ctx, req.CompanyID)
		if err != nil {
			return err
		}
		sc, ok := findClassByCode(classes, strings.TrimSpace(req.ShareClass))
		if !ok {
			return notFound("share class", req.ShareClass)
		}
		if !sc.IsActive() {
			return invalidf("share class %s is inactive", sc.ClassCode)
		}
		a.ShareClass = sc.ClassCode
		active, err := repo.ListAllocations(ctx, AllocationFilter{CompanyID: req.CompanyID, Status: StatusActive})
		if err != nil {
			return err
		}
		if err := checkCompanyCapacity(classes, append(active, a)); err != nil {
			return err
		}
		if err := ensureCertificateFree(ctx, repo, a.CertificateNumber); err != nil {
			return err
		}
		if err := repo.InsertAllocation(ctx, a); err != nil {
			return err
		}
		return repo.LinkShareholder(ctx, a.CompanyID, a.ShareholderID, now)
	})
	if err != nil {
		s.finish(ctx, op, req.CompanyID, start, err)
		return Allocation{}, err
	}

	ev := audit.NewEvent(ctx, op, "allocation", a.ID)
	ev.CompanyID = a.CompanyID
	ev.After = allocationSummary(a)
	s.finish(ctx, op, a.CompanyID, start, nil, ev)
	return a, nil
}

// TransferShares retires the source allocation and creates its successor under the new
// holder in one unit of work. The source row is locked so that only one of several
// concurrent transfers can succeed; the others see it TRANSFERRED and fail with ErrConflict.
func (s *Service) TransferShares(ctx context.Context, req TransferRequest) (Allocation, error) {
	const op = "allocation.transfer"
	start := time.Now()

	switch {
	case strings.TrimSpace(req.AllocationID) == "":
		err := invalidf("allocation id is required")
		s.finish(ctx, op, "", start, err)
		return Allocation{}, err
	case strings.TrimSpace(req.ToShareholderID) == "":
		err := invalidf("target shareholder id is required")
		s.finish(ctx, op, "", start, err)
		return Allocation{}, err
	}

	now := s.now().UTC()
	date := s.today()
	if !req.TransferDate.IsZero() {
		date = Date(req.TransferDate)
	}
	cert := strings.TrimSpace(req.CertificateNumber)
	var source, retired, successor Allocation

	err := s.store.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		src, err := repo.LockAllocation(ctx, req.AllocationID)
		if err != nil {
			return err
		}
		source = src
		if src.Status != StatusActive {
			return conflictf("allocation %s is %s", src.ID, src.Status)
		}
		if src.ShareholderID == req.ToShareholderID {
			return invalidf("Cannot transfer to same shareholder")
		}
		if _, err := repo.GetShareholder(ctx, req.ToShareholderID); err != nil {
			return err
		}
		if date.Before(src.AllocationDate) {
			return invalidf("transfer date %s is before allocation date %s",
				date.Format(time.DateOnly), src.AllocationDate.Format(time.DateOnly))
		}
		classes, err := repo.ListShareClasses(ctx, src.CompanyID)
		if err != nil {
			return err
		}
		sc, ok := findClassByCode(classes, src.ShareClass)
		if !ok {
			return notFound("share class", src.ShareClass)
		}
		if !sc.IsTransferable {
			return invalidf("shares of class %s are not transferable", sc.ClassCode)
		}
		if sc.RequiresBoardApproval && strings.TrimSpace(req.BoardApprovalRef) == "" {
			return invalidf("transfers of class %s require a board approval reference", sc.ClassCode)
		}
		if err := ensureCertificateFree(ctx, repo, cert); err != nil {
			return err
		}

		retired = src
		retired.Status = StatusTransferred
		transferDate := date
		retired.TransferDate = &transferDate
		retired.TransferToShareholderID = req.ToShareholderID
		retired.Version = src.Version + 1
		retired.UpdatedAt = now
		if err := repo.UpdateAllocation(ctx, retired); err != nil {
			return err
		}

		successor = Allocation{
			ID:                ids.New(),
			CompanyID:         src.CompanyID,
			ShareholderID:     req.ToShareholderID,
			ShareClass:        src.ShareClass,
			NumberOfShares:    src.NumberOfShares,
			NominalValue:      src.NominalValue,
			AmountPaid:        src.AmountPaid,
			AllocationDate:    date,
			CertificateNumber: cert,
			Status:            StatusActive,
			TransferredFromID: src.ID,
			IsFullyPaid:       fullyPaid(src.NominalValue, src.NumberOfShares, src.AmountPaid),
			Restrictions:      src.Restrictions,
			Version:           1,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := repo.InsertAllocation(ctx, successor); err != nil {
			return err
		}
		return repo.LinkShareholder(ctx, successor.CompanyID, successor.ShareholderID, now)
	})
	if err != nil {
		s.finish(ctx, op, source.CompanyID, start, err)
		return Allocation{}, err
	}

	ev := audit.NewEvent(ctx, op, "allocation", source.ID)
	ev.CompanyID = source.CompanyID
	ev.Before = allocationSummary(source)
	ev.After = allocationSummary(retired)
	ev.After["successor_id"] = successor.ID
	if ref := strings.TrimSpace(req.BoardApprovalRef); ref != "" {
		ev.After["board_approval_ref"] = ref
	}
	created := audit.NewEvent(ctx, "allocation.create", "allocation", successor.ID)
	created.CompanyID = successor.CompanyID
	created.After = allocationSummary(successor)
	s.finish(ctx, op, source.CompanyID, start, nil, ev, created)
	return successor, nil
}

// UpdatePayment records a further payment against an ACTIVE allocation.
func (s *Service) UpdatePayment(ctx context.Context, allocationID string, additional decimal.Decimal) (Allocation, error) {
	const op = "allocation.payment"
	start := time.Now()

	if !additional.IsPositive() {
		err := invalidf("payment must be positive")
		s.finish(ctx, op, "", start, err)
		return Allocation{}, err
	}
	if err := checkAmount("payment", additional); err != nil {
		s.finish(ctx, op, "", start, err)
		return Allocation{}, err
	}

	var before, after Allocation
	err := s.store.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		cur, err := repo.LockAllocation(ctx, allocationID)
		if err != nil {
			return err
		}
		before = cur
		if cur.Status != StatusActive {
			return conflictf("allocation %s is %s", cur.ID, cur.Status)
		}
		paid := cur.AmountPaid.Add(additional)
		if total := cur.TotalValue(); paid.GreaterThan(total) {
			return invalidf("payment of %s would overpay allocation %s: outstanding %s",
				additional, cur.ID, cur.Unpaid())
		}
		after = cur
		after.AmountPaid = paid
		after.IsFullyPaid = fullyPaid(cur.NominalValue, cur.NumberOfShares, paid)
		after.Version = cur.Version + 1
		after.UpdatedAt = s.now().UTC()
		return repo.UpdateAllocation(ctx, after)
	})
	if err != nil {
		s.finish(ctx, op, before.CompanyID, start, err)
		return Allocation{}, err
	}

	ev := audit.NewEvent(ctx, op, "allocation", after.ID)
	ev.CompanyID = after.CompanyID
	ev.Before = allocationSummary(before)
	ev.After = allocationSummary(after)
	ev.After["payment"] = additional.String()
	s.finish(ctx, op, after.CompanyID, start, nil, ev)
	return after, nil
}

// CancelAllocation retires an ACTIVE allocation permanently.
func (s *Service) CancelAllocation(ctx context.Context, allocationID, reason string) (Allocation, error) {
	const op = "allocation.cancel"
	start := time.Now()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		err := invalidf("cancellation reason is required")
		s.finish(ctx, op, "", start, err)
		return Allocation{}, err
	}

	var before, after Allocation
	err := s.store.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		cur, err := repo.LockAllocation(ctx, allocationID)
		if err != nil {
			return err
		}
		before = cur
		if cur.Status != StatusActive {
			return conflictf("allocation %s is %s", cur.ID, cur.Status)
		}
		now := s.now().UTC()
		after = cur
		after.Status = StatusCancelled
		after.CancellationReason = reason
		after.CancelledAt = &now
		after.Version = cur.Version + 1
		after.UpdatedAt = now
		return repo.UpdateAllocation(ctx, after)
	})
	if err != nil {
		s.finish(ctx, op, before.CompanyID, start, err)
		return Allocation{}, err
	}

	ev := audit.NewEvent(ctx, op, "allocation", after.ID)
	ev.CompanyID = after.CompanyID
	ev.Before = allocationSummary(before)
	ev.After = allocationSummary(after)
	ev.After["reason"] = reason
	s.finish(ctx, op, after.CompanyID, start, nil, ev)
	return after, nil
}

func ensureCertificateFree(ctx context.Context, repo Repository, cert string) error {
	if cert == "" {
		return nil
	}
	used, err := repo.CertificateInUse(ctx, cert)
	if err != nil {
		return err
	}
	if used {
		return invalidf("certificate number %q already in use", cert)
	}
	return nil
}

func allocationSummary(a Allocation) map[string]string {
	m := map[string]string{
		"status":           string(a.Status),
		"shareholder_id":   a.ShareholderID,
		"share_class":      a.ShareClass,
		"number_of_shares": strconv.FormatInt(a.NumberOfShares, 10),
		"nominal_value":    a.NominalValue.String(),
		"amount_paid":      a.AmountPaid.String(),
		"is_fully_paid":    strconv.FormatBool(a.IsFullyPaid),
		"allocation_date":  a.AllocationDate.Format(time.DateOnly),
	}
	if a.CertificateNumber != "" {
		m["certificate_number"] = a.CertificateNumber
	}
	if a.TransferToShareholderID != "" {
		m["transfer_to_shareholder_id"] = a.TransferToShareholderID
	}
	if a.TransferDate != nil {
		m["transfer_date"] = a.TransferDate.Format(time.DateOnly)
	}
	if a.TransferredFromID != "" {
		m["transferred_from_id"] = a.TransferredFromID
	}
	return m
}
