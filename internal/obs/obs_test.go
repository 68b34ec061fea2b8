package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"capledger.org/internal/ids"
)

func TestCanonicalPath(t *testing.T) {
	id := ids.New()
	cases := map[string]string{
		"":                                     "/",
		"/metrics":                             "/metrics",
		"/v1/allocations/" + id:                "/v1/allocations/:id",
		"/v1/allocations/" + id + "/transfer":  "/v1/allocations/:id/transfer",
		"/v1/companies/" + id + "/statistics":  "/v1/companies/:id/statistics",
		"/v1/companies/acme/statistics":        "/v1/companies/acme/statistics",
		"/v1/companies/" + id + "?active=true": "/v1/companies/:id",
	}
	for input, expected := range cases {
		require.Equal(t, expected, CanonicalPath(input), "input %q", input)
	}
}

func TestInstrumentCountsRequests(t *testing.T) {
	handler := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/teapot", "418"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/teapot", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/teapot", "418"))

	require.Equal(t, before+1, after)
}

func TestObserveCommand(t *testing.T) {
	before := testutil.ToFloat64(CommandCount("allocate", "ok"))
	ObserveCommand("allocate", "ok", 5*time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(CommandCount("allocate", "ok")))
}

func TestSetLoggerRestores(t *testing.T) {
	var buf bytes.Buffer
	restore := SetLogger(zerolog.New(&buf))

	LogRequest(map[string]any{"method": "GET", "status": 200})
	restore()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "GET", entry["method"])
	require.Equal(t, "http request", entry["message"])
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	require.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	require.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}

func TestInitBuildInfoPublishesResolvedLabels(t *testing.T) {
	b := InitBuildInfo(BuildInfo{Version: "1.2.3", Commit: "abc123", BuildDate: "2026-10-01T00:00:00Z"})
	require.Equal(t, runtime.Version(), b.GoVersion)
	require.Equal(t, "abc123", b.Commit)
	require.Equal(t, 1.0, testutil.ToFloat64(buildInfo.WithLabelValues("1.2.3", "abc123", "2026-10-01T00:00:00Z", runtime.Version())))

	unset := ResolveBuildInfo(BuildInfo{})
	require.Equal(t, "dev", unset.Version)
	require.NotEmpty(t, unset.Commit)
	require.NotEmpty(t, unset.BuildDate)
}
