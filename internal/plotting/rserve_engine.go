package plotting

// Engine backed by a long-lived Rserve session
// Every call waits on the rate limiter, then runs the retry loop; each attempt goes through the circuit breaker
// A transport failure drops the session; the next attempt dials a fresh one

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ernie-graphs/internal/infra/log"
	"ernie-graphs/internal/infra/retry"
	"ernie-graphs/internal/rserve"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrEngineClosed is returned by Call after Close
var ErrEngineClosed = errors.New("plotting: engine closed")

type RserveOptions struct {
	Addr       string
	Timeout    time.Duration // per call, 0 = no limit
	MaxRetries int           // transport-level retries, 0 = fail fast
	RateLimit  float64       // calls per second, 0 = unlimited
}

// session is the part of rserve.Conn the engine uses
type session interface {
	VoidEval(ctx context.Context, expr string) error
	Close() error
}

type dialFunc func(ctx context.Context, addr string) (session, error)

func dialRserve(ctx context.Context, addr string) (session, error) {
	c, err := rserve.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return c, nil
}

type RserveEngine struct {
	opts           RserveOptions
	dial           dialFunc
	rateLimiter    *rate.Limiter             // nil when unlimited
	circuitBreaker *gobreaker.CircuitBreaker // stops hammering an engine that keeps failing

	mu     sync.Mutex
	sess   session
	closed bool
}

// DialRserve opens the session. Dial errors are returned as is and never retried.
func DialRserve(ctx context.Context, opts RserveOptions) (*RserveEngine, error) {
	return dialEngine(ctx, opts, dialRserve)
}

func dialEngine(ctx context.Context, opts RserveOptions, dial dialFunc) (*RserveEngine, error) {
	if opts.Addr == "" {
		opts.Addr = rserve.DefaultAddr
	}
	sess, err := dial(ctx, opts.Addr)
	if err != nil {
		return nil, err
	}

	e := &RserveEngine{
		opts: opts,
		dial: dial,
		sess: sess,
		circuitBreaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "Rserve",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.LogWarn("Circuit breaker state changed",
					zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
			},
		}),
	}
	if opts.RateLimit > 0 {
		e.rateLimiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	log.LogInfo("Rserve session opened", zap.String("addr", opts.Addr))
	return e, nil
}

// Call evaluates req on the engine
func (e *RserveEngine) Call(ctx context.Context, req Request) error {
	expr, err := req.Expression()
	if err != nil {
		return err
	}

	if e.rateLimiter != nil {
		if err := e.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	return retry.Do(ctx, retry.Options{
		MaxRetries: e.opts.MaxRetries,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		OnRetry: func(attempt int, err error, sleep time.Duration) {
			log.LogWarn("Render call failed, retrying",
				zap.String("function", req.Function),
				zap.Int("attempt", attempt+1),
				zap.Duration("sleep", sleep),
				zap.Error(err))
		},
	}, func() error {
		_, err := e.circuitBreaker.Execute(func() (interface{}, error) {
			return nil, e.evalOnce(ctx, expr)
		})
		return err
	})
}

func (e *RserveEngine) evalOnce(ctx context.Context, expr string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return retry.Permanent(ErrEngineClosed)
	}

	if e.sess == nil {
		sess, err := e.dial(ctx, e.opts.Addr)
		if err != nil {
			return err
		}
		log.LogInfo("Rserve session re-opened", zap.String("addr", e.opts.Addr))
		e.sess = sess
	}

	callCtx := ctx
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := e.sess.VoidEval(callCtx, expr)
	if err != nil {
		if retry.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) {
			// the stream may hold a half-read reply; never reuse it
			if cerr := e.sess.Close(); cerr != nil {
				log.LogDebug("Discarding broken Rserve session", zap.Error(cerr))
			}
			e.sess = nil
		}
		return err
	}
	log.LogDebug("Rserve eval done", zap.String("expr", expr), zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	return nil
}

// Close releases the session. Safe to call more than once.
func (e *RserveEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.sess == nil {
		return nil
	}
	err := e.sess.Close()
	e.sess = nil
	log.LogInfo("Rserve session closed", zap.String("addr", e.opts.Addr))
	return err
}
