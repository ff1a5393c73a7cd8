package calc

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FingerprintPrefix starts every fingerprint.
const FingerprintPrefix = "calc:"

// Fingerprint returns the deterministic cache key for r.
//
// Format: calc:<YYYY-MM-DD>:<hash>
// where the date is the local civil date of the request and hash is the
// first 16 bytes of SHA-256 over the canonical form, hex encoded.
// Precision and strategy do not participate.
func Fingerprint(r Request) string {
	sum := sha256.Sum256(canonical(r))
	y, m, d := r.LocalDate()
	return DatePrefix(y, m, d) + hex.EncodeToString(sum[:16])
}

// DatePrefix returns the fingerprint prefix shared by all requests whose
// local civil date is y-m-d.
func DatePrefix(y int, m time.Month, d int) string {
	return fmt.Sprintf("%s%04d-%02d-%02d:", FingerprintPrefix, y, int(m), d)
}

// ParseFingerprint splits a fingerprint into its date and hash parts.
func ParseFingerprint(fp string) (date time.Time, hash string, err error) {
	rest, ok := strings.CutPrefix(fp, FingerprintPrefix)
	if !ok {
		return time.Time{}, "", fmt.Errorf("%w: fingerprint %q lacks prefix", ErrValidation, fp)
	}
	ds, hash, ok := strings.Cut(rest, ":")
	if !ok || len(hash) != 32 {
		return time.Time{}, "", fmt.Errorf("%w: malformed fingerprint %q", ErrValidation, fp)
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return time.Time{}, "", fmt.Errorf("%w: malformed fingerprint hash %q", ErrValidation, fp)
	}
	date, err = time.Parse(time.DateOnly, ds)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: malformed fingerprint date %q", ErrValidation, fp)
	}
	return date, hash, nil
}

// CoalesceKey is the batch deduplication key. Time is truncated to window
// (window <= 0 keeps it exact). Precision and strategy are appended so
// waiters only join work computed the way they asked for; callers resolve
// StrategyDefault first.
func CoalesceKey(r Request, window time.Duration) string {
	if window > 0 {
		r.Time = r.Time.UTC().Truncate(window)
	}
	return Fingerprint(r) + "#" + r.Precision.String() + "#" + r.Strategy.String()
}

// canonical encodes the fields in fixed order. Coordinates are rounded to
// micro-degrees so equal values never differ by formatting.
func canonical(r Request) []byte {
	t := r.Time.UTC()
	b := make([]byte, 0, 96)
	b = append(b, "v1|t="...)
	b = strconv.AppendInt(b, t.Unix(), 10)
	b = append(b, '.')
	b = strconv.AppendInt(b, int64(t.Nanosecond()), 10)
	b = append(b, "|lat="...)
	b = strconv.AppendInt(b, microDegrees(r.Latitude), 10)
	b = append(b, "|lon="...)
	b = strconv.AppendInt(b, microDegrees(r.Longitude), 10)
	b = append(b, "|tz="...)
	b = strconv.AppendInt(b, int64(r.TZOffsetMinutes), 10)
	return b
}

func microDegrees(v float64) int64 {
	return int64(math.Round(v * 1e6))
}
