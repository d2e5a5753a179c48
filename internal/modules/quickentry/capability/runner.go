// Package capability runs calls to external capabilities (classification,
// extraction, embedding, transcription, vector search) through ordered
// provider chains with bounded pools, per-call timeouts and retries.
package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/policy"
	"github.com/yungbote/quickentry-backend/internal/observability"
	"github.com/yungbote/quickentry-backend/internal/pkg/httpx"
	"github.com/yungbote/quickentry-backend/internal/pkg/usage"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

// Call is one provider implementation of a capability.
type Call[T any] struct {
	Provider string
	Fn       func(ctx context.Context) (T, error)
}

type Runner struct {
	log      *logger.Logger
	policy   policy.Policy
	pools    map[string]*semaphore.Weighted
	metrics  *observability.Metrics
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
	maxError int
}

func NewRunner(log *logger.Logger, pol policy.Policy, metrics *observability.Metrics) (*Runner, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	r := &Runner{
		log:      log.With("component", "CapabilityRunner"),
		policy:   pol,
		pools:    map[string]*semaphore.Weighted{},
		metrics:  metrics,
		sleep:    httpx.Sleep,
		now:      time.Now,
		maxError: 300,
	}
	for _, name := range policy.CapabilityNames {
		r.pools[name] = semaphore.NewWeighted(int64(pol.Capability(name).Concurrency))
	}
	for name, c := range pol.Capabilities {
		if _, ok := r.pools[name]; !ok {
			r.pools[name] = semaphore.NewWeighted(int64(c.Concurrency))
		}
	}
	return r, nil
}

func (r *Runner) Policy() policy.Policy { return r.policy }

// Acquire takes one slot of the capability pool.
func (r *Runner) Acquire(ctx context.Context, capability string) (func(), error) {
	pool := r.pools[capability]
	if pool == nil {
		return func() {}, nil
	}
	if err := pool.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { pool.Release(1) }, nil
}

// DefaultKind is the error kind reported for an untyped provider failure.
func DefaultKind(capability string) entries.ErrorKind {
	switch capability {
	case policy.CapClassify:
		return entries.KindClassificationUnavailable
	case policy.CapExtract:
		return entries.KindExtractionFailed
	case policy.CapEmbed:
		return entries.KindEmbeddingUnavailable
	case policy.CapTranscribe:
		return entries.KindTranscriptionUnavailable
	case policy.CapVector:
		return entries.KindVectorIndexUnavailable
	default:
		return entries.KindPersistenceFailed
	}
}

// Run tries each call in order. Transient failures are retried with backoff
// up to the capability's attempt limit, other failures move on to the next
// provider, and a validation error stops the chain. Every attempt is
// returned for cost attribution, including on success.
func Run[T any](ctx context.Context, r *Runner, capability string, calls ...Call[T]) (T, []entries.Attempt, error) {
	var zero T
	var attempts []entries.Attempt
	if len(calls) == 0 {
		return zero, nil, entries.NewError(DefaultKind(capability), "no provider configured for "+capability, nil)
	}
	cfg := r.policy.Capability(capability)

	var lastErr error
	for _, call := range calls {
		for n := 1; n <= cfg.MaxAttempts; n++ {
			v, att, err := runOnce(ctx, r, capability, cfg, call, n)
			attempts = append(attempts, att)
			if err == nil {
				return v, attempts, nil
			}
			lastErr = err
			kind := entries.KindOf(err)

			if kind == entries.KindValidation {
				return zero, attempts, err
			}
			if ctx.Err() != nil {
				return zero, attempts, entries.NewError(entries.KindTimeout, capability+" abandoned", ctx.Err())
			}
			if !retryable(err) || n == cfg.MaxAttempts {
				r.log.Debug("provider gave up",
					"capability", capability,
					"provider", call.Provider,
					"attempt", n,
					"error_kind", kind,
				)
				break
			}
			wait := httpx.JitterSleep(httpx.Backoff(n, cfg.BaseBackoff, cfg.MaxBackoff))
			if serr := r.sleep(ctx, wait); serr != nil {
				return zero, attempts, entries.NewError(entries.KindTimeout, capability+" abandoned during backoff", serr)
			}
		}
	}
	return zero, attempts, lastErr
}

func runOnce[T any](ctx context.Context, r *Runner, capability string, cfg policy.Capability, call Call[T], n int) (T, entries.Attempt, error) {
	var zero T
	att := entries.Attempt{Capability: capability, Provider: call.Provider, Attempt: n}

	release, err := r.Acquire(ctx, capability)
	if err != nil {
		att.ErrorKind = entries.KindTimeout
		att.Error = "pool: " + err.Error()
		return zero, att, entries.NewError(entries.KindTimeout, capability+" pool wait", err)
	}
	defer release()

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	callCtx, meter := usage.Track(callCtx)

	start := r.now()
	v, err := call.Fn(callCtx)
	att.LatencyMS = r.now().Sub(start).Milliseconds()
	att.CostUSD = meter.Snapshot().CostUSD

	if err == nil {
		att.Success = true
		r.metrics.ObserveProviderAttempt(capability, call.Provider, true, att.CostUSD)
		return v, att, nil
	}

	err = classify(capability, err, callCtx)
	att.ErrorKind = entries.KindOf(err)
	att.Error = truncate(err.Error(), r.maxError)
	r.metrics.ObserveProviderAttempt(capability, call.Provider, false, att.CostUSD)
	return zero, att, err
}

// classify tags err with a kind. Typed errors keep theirs; a deadline on the
// call becomes Timeout; anything else gets the capability default.
func classify(capability string, err error, callCtx context.Context) error {
	var se *entries.StageError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return entries.NewError(entries.KindTimeout, capability+" call timed out", err)
	}
	return &entries.StageError{Kind: DefaultKind(capability), Cause: err}
}

// retryable reports whether err is worth another attempt on the same
// provider. A permanent HTTP status is not, whatever its kind.
func retryable(err error) bool {
	if !entries.KindOf(err).Transient() {
		return false
	}
	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}
	var sc httpx.HTTPStatusCoder
	if errors.As(err, &sc) {
		return httpx.IsRetryableHTTPStatus(sc.HTTPStatusCode())
	}
	return true
}

// Permanent marks err as not worth another attempt on the same provider.
// The chain still moves on to the next provider.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
