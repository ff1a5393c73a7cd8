package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func aggregatorWith(results ...Result) *Aggregator {
	agg := NewAggregator(AggregatorConfig{})
	names := []string{"cache:L1", "circuit:native", "circuit:reference"}
	for i, r := range results {
		agg.Register(NewCheckerFunc(names[i], func(context.Context) Result { return r }))
	}
	return agg
}

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLivenessHandler(t *testing.T) {
	rec := serve(LivenessHandler(), "/healthz")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("liveness = %d %q, want 200 OK", rec.Code, rec.Body.String())
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name     string
		results  []Result
		wantCode int
		wantBody string
	}{
		{"healthy", []Result{Healthy("ok")}, http.StatusOK, "healthy"},
		{"open circuit is still ready", []Result{Healthy("ok"), Degraded("circuit open")}, http.StatusOK, "degraded"},
		{"unreachable tier", []Result{Healthy("ok"), Unhealthy("ping failed", errors.New("refused"))}, http.StatusServiceUnavailable, "unhealthy"},
		{"no checks", nil, http.StatusOK, "healthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(ReadinessHandler(aggregatorWith(tt.results...)), "/readyz")
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestDetailedHandler(t *testing.T) {
	agg := aggregatorWith(
		Healthy("usage 1.0%").WithDetails(map[string]any{"entries": 1}),
		Unhealthy("ping failed", errors.New("connection refused")),
	)
	rec := serve(DetailedHandler(agg), "/health")

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var resp ReportResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "unhealthy" || len(resp.Checks) != 2 {
		t.Fatalf("response = %+v", resp)
	}
	if got := resp.Checks["circuit:native"]; got.Error != "connection refused" {
		t.Errorf("circuit:native = %+v, want the error text", got)
	}
	if got := resp.Checks["cache:L1"]; got.Details["entries"] != float64(1) {
		t.Errorf("cache:L1 details = %v", got.Details)
	}
}

func TestSingleCheckHandler(t *testing.T) {
	agg := aggregatorWith(Healthy("ok"), Degraded("circuit half-open"))
	byQuery := func(r *http.Request) string { return r.URL.Query().Get("name") }
	h := SingleCheckHandler(agg, byQuery)

	rec := serve(h, "/health/check?name=circuit:native")
	if rec.Code != http.StatusOK {
		t.Errorf("code = %d, want 200", rec.Code)
	}
	var resp CheckResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Status != "degraded" {
		t.Errorf("response = %+v, %v", resp, err)
	}

	if rec := serve(h, "/health/check?name=absent"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown checker code = %d, want 404", rec.Code)
	}
}

func TestRegisterHandlers(t *testing.T) {
	mux := http.NewServeMux()
	RegisterHandlers(mux, aggregatorWith(Healthy("ok")))
	for _, path := range []string{"/healthz", "/readyz", "/health"} {
		if rec := serve(mux, path); rec.Code != http.StatusOK {
			t.Errorf("%s code = %d", path, rec.Code)
		}
	}
}
