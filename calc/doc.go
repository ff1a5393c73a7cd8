// Package calc defines the calculation data model shared by every layer of
// the engine: requests, results, precision and strategy enums, request
// validation, fingerprinting, and the error taxonomy returned to callers.
//
// A Fingerprint is a deterministic digest of the normalized request. It is
// the cache key of every tier and, with the requested precision appended,
// the batch deduplication key:
//
//	req := calc.Request{
//	    Time:      time.Date(1991, 8, 13, 0, 0, 0, 0, time.UTC),
//	    Latitude:  12.9629,
//	    Longitude: 77.5775,
//	    Precision: calc.PrecisionStandard,
//	}
//	fp := calc.Fingerprint(req) // calc:1991-08-13:<hash>
//
// Fingerprints lead with the request's local civil date, so every entry for
// a date shares the prefix returned by DatePrefix.
package calc
