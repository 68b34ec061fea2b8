package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"capledger.org/internal/auth"
	"capledger.org/internal/ledger"
	"capledger.org/internal/obs"
	"capledger.org/internal/report"
)

const serviceName = "capledger-api"

// ReadyProbe checks the backing services. Nil members are skipped.
type ReadyProbe struct {
	DB    *sql.DB
	Redis *redis.Client
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// ReportGenerator renders a cap table export.
type ReportGenerator interface {
	Generate(ctx context.Context, ct ledger.CapTable, classes []ledger.ClassStatistics) ([]byte, error)
}

// Options tune the HTTP layer. Zero values fall back to defaults.
type Options struct {
	Policy       auth.Policy
	Report       ReportGenerator
	Ready        ReadyProbe
	Build        obs.BuildInfo
	RatePerSec   int
	RateBurst    int
	MaxBodyBytes int64
}

// API is the HTTP layer over the ledger.
type API struct {
	ledger     ledger.Ledger
	policy     auth.Policy
	report     ReportGenerator
	readyProbe ReadyProbe
	build      obs.BuildInfo
	ratePerSec int
	rateBurst  int
	maxBody    int64
}

func New(l ledger.Ledger, opts Options) *API {
	a := &API{
		ledger:     l,
		policy:     opts.Policy,
		report:     opts.Report,
		readyProbe: opts.Ready,
		build:      obs.ResolveBuildInfo(opts.Build),
		ratePerSec: opts.RatePerSec,
		rateBurst:  opts.RateBurst,
		maxBody:    opts.MaxBodyBytes,
	}
	if a.policy == nil {
		a.policy = auth.DefaultPolicy()
	}
	if a.report == nil {
		a.report = report.NewXLSX()
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 50
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 100
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}
	return a
}

// Handler builds the router with the full middleware chain.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestID)
	r.Use(Logging)
	r.Use(SecurityHeaders)
	r.Use(func(next http.Handler) http.Handler { return RateLimit(next, a.rateBurst, a.ratePerSec) })
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.maxBody) })

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(a.withPrincipal)
		r.NotFound(notFound)
		r.MethodNotAllowed(methodNotAllowed)
		r.Get("/info", a.Info)
		a.routes(r)
	})

	return obs.Instrument(r)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.build.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":  serviceName,
		"time":  time.Now().UTC().Format(time.RFC3339),
		"build": a.build,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
