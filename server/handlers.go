package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jonwraymond/calcops/calc"
)

type errorBody struct {
	Error       string   `json:"error"`
	Kind        string   `json:"kind"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	Backends    []string `json:"backends,omitempty"`
}

// batchItem is one entry of a batch response. Exactly one of Result and
// Error is set.
type batchItem struct {
	Result *calc.Result `json:"result,omitempty"`
	Error  *errorBody   `json:"error,omitempty"`
}

type countBody struct {
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

func (s *Server) calculate(w http.ResponseWriter, r *http.Request) {
	var req calc.Request
	if !decode(w, r, &req) {
		return
	}
	res, err := s.orch.Calculate(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) calculateBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []calc.Request
	if !decode(w, r, &reqs) {
		return
	}
	if len(reqs) > s.batch {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
			Error: fmt.Sprintf("batch of %d exceeds the limit of %d", len(reqs), s.batch),
			Kind:  calc.KindValidation.String(),
		})
		return
	}
	results := s.orch.CalculateBatch(r.Context(), reqs)
	out := make([]batchItem, len(results))
	for i, br := range results {
		if br.Err != nil {
			_, body := errorResponse(br.Err)
			out[i].Error = &body
			continue
		}
		out[i].Result = &br.Result
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Stats())
}

func (s *Server) resetStats(w http.ResponseWriter, _ *http.Request) {
	s.orch.ResetStats()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) precompute(w http.ResponseWriter, r *http.Request) {
	var reqs []calc.Request
	if !decode(w, r, &reqs) {
		return
	}
	n, err := s.orch.Precompute(r.Context(), reqs)
	body := countBody{Count: n}
	code := http.StatusOK
	if err != nil {
		body.Error = err.Error()
		code = http.StatusMultiStatus
	}
	writeJSON(w, code, body)
}

func (s *Server) clear(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Clear(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) invalidate(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Invalidate(r.Context(), chi.URLParam(r, "fingerprint")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) invalidateDate(w http.ResponseWriter, r *http.Request) {
	d, err := time.Parse(time.DateOnly, chi.URLParam(r, "date"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "date must be YYYY-MM-DD", Kind: calc.KindValidation.String()})
		return
	}
	n, err := s.orch.InvalidateDate(r.Context(), d.Year(), d.Month(), d.Day())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, countBody{Count: n})
}

func (s *Server) invalidatePrefix(w http.ResponseWriter, r *http.Request) {
	n, err := s.orch.InvalidatePrefix(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, countBody{Count: n})
}

// decode reads one JSON value. It writes the error response itself and
// reports whether the handler should continue.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		code := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			code = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, code, errorBody{Error: "invalid JSON body: " + err.Error(), Kind: calc.KindValidation.String()})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	code, body := errorResponse(err)
	writeJSON(w, code, body)
}

func errorResponse(err error) (int, errorBody) {
	body := errorBody{Error: err.Error(), Kind: "internal"}
	var ee *calc.EngineError
	if !errors.As(err, &ee) {
		return http.StatusInternalServerError, body
	}
	body.Kind = ee.Kind.String()
	body.Fingerprint = ee.Fingerprint
	body.Backends = ee.Backends

	switch ee.Kind {
	case calc.KindValidation:
		return http.StatusBadRequest, body
	case calc.KindMismatch:
		return http.StatusConflict, body
	case calc.KindPermanent:
		return http.StatusBadGateway, body
	case calc.KindFallbackExhausted, calc.KindClosed, calc.KindStorage:
		return http.StatusServiceUnavailable, body
	case calc.KindCanceled:
		return http.StatusGatewayTimeout, body
	}
	return http.StatusInternalServerError, body
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
