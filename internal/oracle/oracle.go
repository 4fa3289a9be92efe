// Package oracle adapts LLM backends into the two model-driven resolution
// tiers: a text oracle that picks an element from a DOM snapshot and a vision
// oracle that finds one on a screenshot.
package oracle

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/locus/internal/observability"
)

// Options configures either oracle.
type Options struct {
	// Timeout bounds one backend call, including time spent waiting on the
	// rate limiter.
	Timeout time.Duration
	// Limiter throttles backend calls. Share one limiter between the text and
	// vision oracles to cap total request rate. Nil means unlimited.
	Limiter *rate.Limiter
	// MaxElements caps the snapshot entries sent to the text oracle.
	MaxElements int
	Metrics     *observability.Metrics
}

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxElements = 200
)

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.Limiter == nil {
		o.Limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if o.MaxElements <= 0 {
		o.MaxElements = defaultMaxElements
	}
	return o
}

// NewLimiter returns a limiter allowing perSecond calls with the given
// burst. A non-positive rate disables limiting.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// throttle waits for the limiter and returns a context bounded by the call
// timeout. The caller must call the returned cancel func.
func throttle(ctx context.Context, opts Options, log *zap.Logger) (context.Context, context.CancelFunc, error) {
	callCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	waitStart := time.Now()
	if err := opts.Limiter.Wait(callCtx); err != nil {
		cancel()
		return nil, nil, err
	}
	if waited := time.Since(waitStart); waited > 100*time.Millisecond {
		log.Debug("Oracle call throttled", zap.Duration("waited", waited))
	}
	return callCtx, cancel, nil
}

// clampConfidence rounds a backend's score, which may be fractional, into 0..100.
func clampConfidence(c float64) int {
	switch r := math.Round(c); {
	case r < 0:
		return 0
	case r > 100:
		return 100
	default:
		return int(r)
	}
}
