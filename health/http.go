package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// DefaultProbeTimeout bounds the checks run by one HTTP probe.
const DefaultProbeTimeout = 5 * time.Second

// LivenessHandler answers 200 while the process serves requests.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// ReadinessHandler runs every check. Degraded is still ready: an open
// circuit or a full L1 leaves the engine serving.
func ReadinessHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), DefaultProbeTimeout)
		defer cancel()

		rep := agg.CheckAll(ctx)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(statusCode(rep.Status))
		_, _ = w.Write([]byte(rep.Status.String()))
	}
}

// CheckResponse is the JSON form of one Result.
type CheckResponse struct {
	Status   string         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// ReportResponse is the JSON form of a Report.
type ReportResponse struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Checks    map[string]CheckResponse `json:"checks,omitempty"`
}

func checkResponse(r Result) CheckResponse {
	c := CheckResponse{
		Status:   r.Status.String(),
		Message:  r.Message,
		Duration: r.Duration.String(),
		Details:  r.Details,
	}
	if r.Error != nil {
		c.Error = r.Error.Error()
	}
	return c
}

// DetailedHandler serves the full report as JSON.
func DetailedHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*DefaultProbeTimeout)
		defer cancel()

		rep := agg.CheckAll(ctx)
		resp := ReportResponse{
			Status:    rep.Status.String(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    make(map[string]CheckResponse, len(rep.Checks)),
		}
		for name, res := range rep.Checks {
			resp.Checks[name] = checkResponse(res)
		}
		writeJSON(w, statusCode(rep.Status), resp)
	}
}

// SingleCheckHandler runs the checker returned by name for each request.
// An unknown name is a 404.
func SingleCheckHandler(agg *Aggregator, name func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), DefaultProbeTimeout)
		defer cancel()

		res, err := agg.Check(ctx, name(r))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, statusCode(res.Status), checkResponse(res))
	}
}

// RegisterHandlers mounts /healthz, /readyz and /health on mux.
func RegisterHandlers(mux *http.ServeMux, agg *Aggregator) {
	mux.HandleFunc("/healthz", LivenessHandler())
	mux.HandleFunc("/readyz", ReadinessHandler(agg))
	mux.HandleFunc("/health", DetailedHandler(agg))
}

func statusCode(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
