package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"capledger.org/internal/auth"
	"capledger.org/internal/ledger"
	"capledger.org/internal/report"
)

const dateLayout = "2006-01-02"

type registerCompanyRequest struct {
	Name               string `json:"name"`
	RegistrationNumber string `json:"registration_number"`
}

type allocateRequest struct {
	ShareholderID     string          `json:"shareholder_id"`
	ShareClass        string          `json:"share_class"`
	NumberOfShares    int64           `json:"number_of_shares"`
	NominalValue      decimal.Decimal `json:"nominal_value"`
	AmountPaid        decimal.Decimal `json:"amount_paid"`
	AllocationDate    string          `json:"allocation_date"`
	CertificateNumber string          `json:"certificate_number"`
	Restrictions      string          `json:"restrictions"`
}

type transferRequest struct {
	ToShareholderID   string `json:"to_shareholder_id"`
	TransferDate      string `json:"transfer_date"`
	CertificateNumber string `json:"certificate_number"`
	BoardApprovalRef  string `json:"board_approval_ref"`
}

type paymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type transferResponse struct {
	Allocation ledger.Allocation `json:"allocation"`
	SourceID   string            `json:"source_id"`
}

type listResponse[T any] struct {
	Items []T    `json:"items"`
	Count int    `json:"count"`
	AsOf  string `json:"as_of"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Count: len(items), AsOf: time.Now().UTC().Format(time.RFC3339)}
}

func (a *API) routes(r chi.Router) {
	r.Post("/companies", a.registerCompany)
	r.Route("/companies/{id}", func(r chi.Router) {
		r.Get("/", a.getCompany)
		r.Get("/shareholders", a.companyShareholders)
		r.Get("/share-classes", a.listShareClasses)
		r.Post("/share-classes", a.createShareClass)
		r.Get("/share-classes/statistics", a.shareClassStatistics)
		r.Post("/allocations", a.allocateShares)
		r.Get("/allocations", a.companyAllocations)
		r.Get("/statistics", a.companyStatistics)
		r.Get("/cap-table", a.capTable)
		r.Get("/cap-table.xlsx", a.capTableXLSX)
	})

	r.Post("/shareholders", a.registerShareholder)
	r.Route("/shareholders/{id}", func(r chi.Router) {
		r.Get("/", a.getShareholder)
		r.Get("/allocations", a.shareholderAllocations)
		r.Get("/portfolio", a.shareholderPortfolio)
	})

	r.Route("/share-classes/{id}", func(r chi.Router) {
		r.Get("/", a.getShareClass)
		r.Patch("/", a.updateShareClass)
		r.Post("/deactivate", a.deactivateShareClass)
		r.Post("/reactivate", a.reactivateShareClass)
	})

	r.Route("/allocations/{id}", func(r chi.Router) {
		r.Get("/", a.getAllocation)
		r.Get("/history", a.allocationHistory)
		r.Post("/transfer", a.transferShares)
		r.Post("/payments", a.recordPayment)
		r.Post("/cancel", a.cancelAllocation)
	})
}

// authorize writes the error response and returns false when the caller lacks perm.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, perm string) bool {
	if err := auth.Require(r.Context(), a.policy, perm); err != nil {
		handleLedgerError(w, r, err)
		return false
	}
	return true
}

// --- companies & shareholders ---

func (a *API) registerCompany(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermCompanyRegister) {
		return
	}
	var req registerCompanyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := a.ledger.RegisterCompany(r.Context(), req.Name, req.RegistrationNumber)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/companies/"+c.ID)
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) getCompany(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermCapTableRead) {
		return
	}
	c, err := a.ledger.GetCompany(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) companyShareholders(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermCapTableRead) {
		return
	}
	list, err := a.ledger.GetCompanyShareholders(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(list))
}

func (a *API) registerShareholder(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermShareholderRegister) {
		return
	}
	var req ledger.ShareholderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Kind = ledger.ShareholderKind(strings.ToUpper(strings.TrimSpace(string(req.Kind))))
	sh, err := a.ledger.RegisterShareholder(r.Context(), req)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/shareholders/"+sh.ID)
	writeJSON(w, http.StatusCreated, sh)
}

func (a *API) getShareholder(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermCapTableRead) {
		return
	}
	sh, err := a.ledger.GetShareholder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

// --- share classes ---

func (a *API) listShareClasses(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermCapTableRead) {
		return
	}
	activeOnly, err := parseBool(r.URL.Query().Get("active"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "active must be a boolean")
		return
	}
	companyID := chi.URLParam(r, "id")
	var classes []ledger.ShareClass
	if activeOnly {
		classes, err = a.ledger.GetActiveShareClasses(r.Context(), companyID)
	} else {
		classes, err = a.ledger.GetAllShareClasses(r.Context(), companyID)
	}
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(classes))
}

func (a *API) createShareClass(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermShareClassManage) {
		return
	}
	var in ledger.ShareClassInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sc, err := a.ledger.CreateShareClass(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/share-classes/"+sc.ID)
	writeJSON(w, http.StatusCreated, sc)
}

func (a *API) getShareClass(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermCapTableRead) {
		return
	}
	sc, err := a.ledger.GetShareClass(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (a *API) updateShareClass(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermShareClassManage) {
		return
	}
	var upd ledger.ShareClassUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sc, err := a.ledger.UpdateShareClass(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (a *API) deactivateShareClass(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermShareClassManage) {
		return
	}
	sc, err := a.ledger.DeactivateShareClass(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (a *API) reactivateShareClass(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermShareClassManage) {
		return
	}
	sc, err := a.ledger.ReactivateShareClass(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (a *API) shareClassStatistics(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermCapTableRead) {
		return
	}
	stats, err := a.ledger.GetShareClassStatistics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(stats))
}

// --- allocations ---

func (a *API) allocateShares(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermAllocationCreate) {
		return
	}
	var req allocateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	date, err := parseDate("allocation_date", req.AllocationDate)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	alloc, err := a.ledger.AllocateShares(r.Context(), ledger.AllocateRequest{
		CompanyID:         chi.URLParam(r, "id"),
		ShareholderID:     strings.TrimSpace(req.ShareholderID),
		ShareClass:        strings.TrimSpace(req.ShareClass),
		NumberOfShares:    req.NumberOfShares,
		NominalValue:      req.NominalValue,
		AmountPaid:        req.AmountPaid,
		AllocationDate:    date,
		CertificateNumber: strings.TrimSpace(req.CertificateNumber),
		Restrictions:      req.Restrictions,
	})
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/allocations/"+alloc.ID)
	writeJSON(w, http.StatusCreated, alloc)
}

func (a *API) companyAllocations(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermCapTableRead) {
		return
	}
	companyID := chi.URLParam(r, "id")
	var (
		list []ledger.Allocation
		err  error
	)
	if class := strings.TrimSpace(r.URL.Query().Get("class")); class != "" {
		list, err = a.ledger.GetActiveAllocationsByShareClass(r.Context(), companyID, class)
	} else {
		list, err = a.ledger.GetActiveAllocationsByCompany(r.Context(), companyID)
	}
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(list))
}

func (a *API) getAllocation(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermCapTableRead) {
		return
	}
	alloc, err := a.ledger.GetAllocation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alloc)
}

func (a *API) allocationHistory(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermCapTableRead) {
		return
	}
	chain, err := a.ledger.GetAllocationHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(chain))
}

func (a *API) transferShares(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermAllocationTransfer) {
		return
	}
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	date, err := parseDate("transfer_date", req.TransferDate)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sourceID := chi.URLParam(r, "id")
	successor, err := a.ledger.TransferShares(r.Context(), ledger.TransferRequest{
		AllocationID:      sourceID,
		ToShareholderID:   strings.TrimSpace(req.ToShareholderID),
		TransferDate:      date,
		CertificateNumber: strings.TrimSpace(req.CertificateNumber),
		BoardApprovalRef:  strings.TrimSpace(req.BoardApprovalRef),
	})
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/allocations/"+successor.ID)
	writeJSON(w, http.StatusCreated, transferResponse{Allocation: successor, SourceID: sourceID})
}

func (a *API) recordPayment(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermAllocationPayment) {
		return
	}
	var req paymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	alloc, err := a.ledger.UpdatePayment(r.Context(), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alloc)
}

func (a *API) cancelAllocation(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermAllocationCancel) {
		return
	}
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	alloc, err := a.ledger.CancelAllocation(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alloc)
}

func (a *API) shareholderAllocations(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermCapTableRead) {
		return
	}
	list, err := a.ledger.GetActiveAllocationsByShareholder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(list))
}

// --- statistics ---

func (a *API) companyStatistics(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermCapTableRead) {
		return
	}
	st, err := a.ledger.GetCompanyShareStatistics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) capTable(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermCapTableRead) {
		return
	}
	ct, err := a.ledger.GetCapTable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ct)
}

func (a *API) capTableXLSX(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermCapTableRead) {
		return
	}
	companyID := chi.URLParam(r, "id")
	ct, err := a.ledger.GetCapTable(r.Context(), companyID)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	classes, err := a.ledger.GetShareClassStatistics(r.Context(), companyID)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	body, err := a.report.Generate(r.Context(), ct, classes)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="cap-table-%s.xlsx"`, companyID))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (a *API) shareholderPortfolio(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermCapTableRead) {
		return
	}
	p, err := a.ledger.GetShareholderPortfolio(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// parseDate accepts YYYY-MM-DD or RFC 3339. Empty means "today" in the ledger.
func parseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New(field + " must be YYYY-MM-DD")
	}
	return t, nil
}

func parseBool(raw string) (bool, error) {
	if strings.TrimSpace(raw) == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}
