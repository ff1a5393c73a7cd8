package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/calcops/batch"
	"github.com/jonwraymond/calcops/calc"
)

// BatchResult is the outcome of one request of a batch.
type BatchResult struct {
	Request calc.Request
	Result  calc.Result
	Err     error
}

// CalculateBatch calculates every request, at most Config.BatchFanout at
// a time, and returns the outcomes in input order. One request failing
// does not stop the others.
func (o *Orchestrator) CalculateBatch(ctx context.Context, reqs []calc.Request) []BatchResult {
	out := make([]BatchResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(o.cfg.BatchFanout)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := o.Calculate(ctx, req)
			out[i] = BatchResult{Request: req, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// DailyRequests returns days requests starting at base, one civil day
// apart, for date-range processing.
func DailyRequests(base calc.Request, days int) []calc.Request {
	out := make([]calc.Request, 0, max(days, 0))
	for i := range days {
		r := base
		r.Time = base.Time.AddDate(0, 0, i)
		out = append(out, r)
	}
	return out
}

// Precompute warms the slowest configured level (L3 when present) with
// the results of reqs, for stable values such as canonical dates. Values
// already cached are copied down; missing ones are computed and written
// through every level synchronously. It returns the number of requests
// stored and every failure joined.
func (o *Orchestrator) Precompute(ctx context.Context, reqs []calc.Request) (int, error) {
	levels := o.cache.Levels()
	deepest := levels[len(levels)-1]

	var (
		stored int
		errs   []error
	)
	for i, req := range reqs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if o.closed.Load() {
			errs = append(errs, engineError(calc.KindClosed, "", nil, calc.ErrClosed))
			break
		}

		req = req.Normalize(o.cfg.DefaultPrecision)
		if err := req.Validate(o.cfg.Epoch); err != nil {
			errs = append(errs, fmt.Errorf("request %d: %w", i, engineError(calc.KindValidation, "", nil, err)))
			continue
		}
		req.Strategy = o.strategy(req)
		fp := calc.Fingerprint(req)

		look := o.cache.Find(ctx, fp, want(req))
		if look.Hit {
			if look.Level != deepest {
				if err := o.cache.Store(ctx, deepest, fp, look.Entry.Result); err != nil {
					errs = append(errs, fmt.Errorf("request %d: %w", i, err))
					continue
				}
			}
			stored++
			continue
		}

		if _, err := o.submit(ctx, req, fp, o.cache.Put); err != nil {
			errs = append(errs, fmt.Errorf("request %d: %w", i, o.failure(ctx, fp, err)))
			continue
		}
		stored++
	}
	return stored, errors.Join(errs...)
}

// failure maps a failed computation to an EngineError without trying the
// fallback chain.
func (o *Orchestrator) failure(ctx context.Context, fp string, err error) *calc.EngineError {
	var ee *calc.EngineError
	var ex *exhaustedError
	switch {
	case errors.As(err, &ee):
		return ee
	case ctx.Err() != nil:
		return engineError(calc.KindCanceled, fp, nil, ctx.Err())
	case errors.Is(err, batch.ErrClosed):
		return engineError(calc.KindClosed, fp, nil, err)
	case errors.As(err, &ex):
		tried := slices.Clone(ex.tried)
		return engineError(calc.KindFallbackExhausted, fp, tried, &calc.FallbackError{Fingerprint: fp, Tried: tried, LastErr: ex.err})
	default:
		return engineError(calc.KindFallbackExhausted, fp, nil, &calc.FallbackError{Fingerprint: fp, LastErr: err})
	}
}
