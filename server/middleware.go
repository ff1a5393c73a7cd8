package server

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jonwraymond/calcops/observe"
)

// observeRequests logs each request and records its latency. Server
// errors log at Warn; everything else at Debug.
func (s *Server) observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		if s.latency != nil {
			s.latency.WithLabelValues(route, r.Method, strconv.Itoa(status)).Observe(elapsed.Seconds())
		}

		fields := []observe.Field{
			{Key: "method", Value: r.Method},
			{Key: "route", Value: route},
			{Key: "status", Value: status},
			{Key: "duration_ms", Value: float64(elapsed.Microseconds()) / 1000},
			{Key: "request_id", Value: chimw.GetReqID(r.Context())},
		}
		if status >= http.StatusInternalServerError {
			s.logger.Warn(r.Context(), "request failed", fields...)
		} else {
			s.logger.Debug(r.Context(), "request", fields...)
		}
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error(r.Context(), "panic recovered",
				observe.Field{Key: "panic", Value: fmt.Sprint(rec)},
				observe.Field{Key: "stack", Value: string(debug.Stack())},
			)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error", Kind: "internal"})
		}()
		next.ServeHTTP(w, r)
	})
}

func maxBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
