package calc

import (
	"errors"
	"math"
	"testing"
	"time"
)

func baseRequest() Request {
	return Request{
		Time:      time.Date(1991, time.August, 13, 0, 0, 0, 0, time.UTC),
		Latitude:  12.9629,
		Longitude: 77.5775,
		Precision: PrecisionStandard,
	}
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
		field  string
	}{
		{"valid", func(r *Request) {}, ""},
		{"latitude too high", func(r *Request) { r.Latitude = 90.5 }, "latitude"},
		{"latitude NaN", func(r *Request) { r.Latitude = math.NaN() }, "latitude"},
		{"longitude too low", func(r *Request) { r.Longitude = -180.01 }, "longitude"},
		{"longitude inf", func(r *Request) { r.Longitude = math.Inf(1) }, "longitude"},
		{"zero time", func(r *Request) { r.Time = time.Time{} }, "time"},
		{"before epoch", func(r *Request) { r.Time = time.Date(1799, 12, 31, 23, 0, 0, 0, time.UTC) }, "time"},
		{"at upper bound", func(r *Request) { r.Time = time.Date(2400, 1, 1, 0, 0, 0, 0, time.UTC) }, "time"},
		{"tz too far east", func(r *Request) { r.TZOffsetMinutes = 841 }, "tz_offset_minutes"},
		{"tz too far west", func(r *Request) { r.TZOffsetMinutes = -721 }, "tz_offset_minutes"},
		{"unset precision", func(r *Request) { r.Precision = PrecisionUnset }, "precision"},
		{"unknown precision", func(r *Request) { r.Precision = 9 }, "precision"},
		{"unknown strategy", func(r *Request) { r.Strategy = 42 }, "strategy"},
		{"boundary coordinates", func(r *Request) { r.Latitude, r.Longitude = -90, 180 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := baseRequest()
			tt.mutate(&r)
			err := r.Validate(Bounds{})

			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Validate() error type = %T, want *ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestRequest_ValidateCustomBounds(t *testing.T) {
	r := baseRequest()
	b := Bounds{
		Min: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		Max: time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := r.Validate(b); err == nil {
		t.Error("Validate() = nil, want error for 1991 with 2000 lower bound")
	}
}

func TestRequest_Normalize(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	r := Request{Time: time.Date(1991, 8, 13, 5, 30, 0, 0, loc)}

	n := r.Normalize(PrecisionUnset)

	if n.Time.Location() != time.UTC {
		t.Errorf("Location = %v, want UTC", n.Time.Location())
	}
	if !n.Time.Equal(r.Time) {
		t.Errorf("Time = %v, want instant %v", n.Time, r.Time)
	}
	if n.Precision != DefaultPrecision {
		t.Errorf("Precision = %v, want %v", n.Precision, DefaultPrecision)
	}
	if got := r.Normalize(PrecisionExtreme).Precision; got != PrecisionExtreme {
		t.Errorf("Precision with default = %v, want extreme", got)
	}
}

func TestRequest_LocalDate(t *testing.T) {
	r := Request{
		Time:            time.Date(1991, 8, 12, 20, 0, 0, 0, time.UTC),
		TZOffsetMinutes: 330,
	}
	y, m, d := r.LocalDate()
	if y != 1991 || m != time.August || d != 13 {
		t.Errorf("LocalDate() = %d-%d-%d, want 1991-8-13", y, m, d)
	}
}

func TestRequest_Equal(t *testing.T) {
	a := baseRequest()
	b := baseRequest()
	b.Time = b.Time.In(time.FixedZone("X", 3600))

	if !a.Equal(b) {
		t.Error("Equal() = false for the same instant in different locations")
	}
	b.Precision = PrecisionHigh
	if a.Equal(b) {
		t.Error("Equal() = true for different precision")
	}
}

func TestParsePrecision(t *testing.T) {
	for _, in := range []string{"standard", "High", " extreme "} {
		p, err := ParsePrecision(in)
		if err != nil || !p.Valid() {
			t.Errorf("ParsePrecision(%q) = %v, %v", in, p, err)
		}
	}
	if _, err := ParsePrecision("ultra"); !errors.Is(err, ErrValidation) {
		t.Errorf("ParsePrecision(ultra) error = %v, want ErrValidation", err)
	}
	if !PrecisionExtreme.Satisfies(PrecisionHigh) || PrecisionStandard.Satisfies(PrecisionHigh) {
		t.Error("Satisfies ordering is wrong")
	}
}

func TestStrategy_TextRoundTrip(t *testing.T) {
	for s := range strategyNames {
		text, err := s.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v) error = %v", s, err)
		}
		var got Strategy
		if err := got.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q) error = %v", text, err)
		}
		if got != s {
			t.Errorf("round trip %v = %v", s, got)
		}
	}
	if _, err := ParseStrategy("random"); err == nil {
		t.Error("ParseStrategy(random) = nil error")
	}
}
