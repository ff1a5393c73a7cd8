package calc

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestEngineError_Is(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want error
	}{
		{KindValidation, ErrValidation},
		{KindPermanent, ErrPermanent},
		{KindMismatch, ErrMismatch},
		{KindFallbackExhausted, ErrFallbackExhausted},
		{KindClosed, ErrClosed},
		{KindStorage, ErrStorage},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := &EngineError{Kind: tt.kind}
			if !errors.Is(err, tt.want) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.want)
			}
			if KindOf(err) != tt.kind {
				t.Errorf("KindOf() = %v, want %v", KindOf(err), tt.kind)
			}
		})
	}
}

func TestEngineError_UnwrapsDetail(t *testing.T) {
	mm := &MismatchError{
		Candidates: []Result{{Backend: "a"}, {Backend: "b"}},
		Diffs:      []FieldDiff{{Field: "tithi", Backend: "b", Primary: 1, Other: 2, Delta: 1, Tolerance: 0.1}},
	}
	err := error(&EngineError{Kind: KindMismatch, Err: mm})

	var got *MismatchError
	if !errors.As(err, &got) {
		t.Fatal("errors.As(*MismatchError) = false")
	}
	if len(got.Candidates) != 2 {
		t.Errorf("Candidates = %d, want 2", len(got.Candidates))
	}
	if !strings.Contains(err.Error(), "tithi") {
		t.Errorf("Error() = %q, want field name", err.Error())
	}
}

func TestFallbackError(t *testing.T) {
	err := &FallbackError{
		Tried:                      []string{"native-fast", "reference-accurate"},
		LastErr:                    context.DeadlineExceeded,
		StalePrecisionInsufficient: true,
	}

	if !errors.Is(err, ErrFallbackExhausted) {
		t.Error("errors.Is(ErrFallbackExhausted) = false")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("last error not unwrapped")
	}
	msg := err.Error()
	for _, want := range []string{"native-fast", "reference-accurate", "below requested precision"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestKindOf_NonEngine(t *testing.T) {
	if KindOf(errors.New("x")) != 0 {
		t.Error("KindOf(plain error) != 0")
	}
}
