// Package server exposes an orchestrator over HTTP: calculation, batch
// calculation, cache administration, statistics, health probes and an
// optional Prometheus scrape endpoint.
//
// Routes:
//
//	POST   /v1/calculate
//	POST   /v1/calculate/batch
//	GET    /v1/admin/stats
//	POST   /v1/admin/stats/reset
//	POST   /v1/admin/precompute
//	DELETE /v1/admin/cache
//	DELETE /v1/admin/cache/entries/{fingerprint}
//	DELETE /v1/admin/cache/dates/{date}
//	DELETE /v1/admin/cache/prefix?prefix=...
//	GET    /healthz, /readyz, /health, /health/{name}
//	GET    /metrics
//
// Calculation errors are JSON bodies carrying the error kind, with the
// status chosen by kind (validation 400, mismatch 409, permanent 502,
// fallback_exhausted and closed 503, canceled 504).
package server
