// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package proxylb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/proxylb/proxylb/backend"
	"github.com/proxylb/proxylb/internal"
	"github.com/proxylb/proxylb/registry"
	"github.com/proxylb/proxylb/selector"
)

// DefaultMaxAttempts is the number of forward attempts permitted per
// request when no WithMaxAttempts option is given.
const DefaultMaxAttempts = 3

// Attempt records a single forward attempt. Err is nil when the backend
// produced an HTTP response, whatever its status code.
type Attempt struct {
	Backend  backend.Weighted
	Start    time.Time
	Duration time.Duration
	Err      error
}

// Dispatcher forwards requests to backends chosen from the registry's
// current snapshot, retrying transport-level failures against other
// backends up to a bounded number of attempts.
//
// An HTTP response is always a success, including 5xx: the upstream
// answered, and relaying its answer is the proxy's job. Only failures to
// obtain a response (dial errors, resets, attempt timeouts, an open
// circuit breaker) are retried.
type Dispatcher struct {
	registry       *registry.Registry
	selector       selector.Selector
	transport      Transport
	maxAttempts    int
	attemptTimeout time.Duration
	breakerConfig  *BreakerConfig
	breakers       *breakerGroup
	observeAttempt func(Attempt)
	logger         *zap.Logger
	clock          internal.Clock
}

// NewDispatcher creates a dispatcher reading backend sets from the given
// registry. With no options it uses weighted-random selection, the
// default transport, and DefaultMaxAttempts, with no per-attempt timeout
// and no circuit breaking.
func NewDispatcher(reg *registry.Registry, opts ...DispatcherOption) *Dispatcher {
	dispatcher := &Dispatcher{
		registry:    reg,
		selector:    selector.NewWeightedRandom(),
		transport:   NewTransport(),
		maxAttempts: DefaultMaxAttempts,
		logger:      zap.NewNop(),
		clock:       internal.NewRealClock(),
	}
	for _, opt := range opts {
		opt.apply(dispatcher)
	}
	if dispatcher.breakerConfig != nil {
		dispatcher.breakers = newBreakerGroup(*dispatcher.breakerConfig, dispatcher.logger)
	}
	return dispatcher
}

// Handle forwards req to a backend from the current snapshot and returns
// its response. The snapshot is loaded once per request, so concurrent
// publishes never change the candidates mid-request.
//
// Failed backends are excluded from later attempts within the same
// request; if that exclusion would leave nothing selectable while real
// candidates remain, the exclusion is dropped rather than failing with
// backends still standing. Errors are classified per the package error
// taxonomy: ErrNoAvailableBackend (terminal, no retry),
// ErrUpstreamUnavailable (attempts exhausted, wraps the last cause), and
// ErrTimeout (caller deadline expired mid-dispatch).
func (d *Dispatcher) Handle(ctx context.Context, req *http.Request) (*http.Response, error) {
	set := d.registry.Load()
	var failed map[string]struct{}
	var lastErr error
	attempts := 0
	for attempts < d.maxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, d.deadlineError(err, lastErr)
		}
		candidates := set
		if len(failed) > 0 {
			candidates = set.Excluding(failed)
			if candidates.TotalWeight() <= 0 {
				candidates = set
			}
		}
		target, err := d.selector.Select(candidates)
		if err != nil {
			getMetrics().requests.WithLabelValues(resultNoBackend).Inc()
			return nil, err
		}
		if attempts > 0 {
			if err := rewindBody(req); err != nil {
				return nil, fmt.Errorf("cannot replay request body for retry: %w", err)
			}
		}
		attempts++
		resp, err := d.attempt(ctx, target, req)
		if err == nil {
			getMetrics().requests.WithLabelValues(resultSuccess).Inc()
			return resp, nil
		}
		lastErr = err
		if failed == nil {
			failed = map[string]struct{}{}
		}
		failed[target.Addr] = struct{}{}
		d.logger.Debug("attempt failed",
			zap.Int("attempt", attempts),
			zap.String("addr", target.Addr),
			zap.Error(err),
		)
		if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
			// the body is consumed and not replayable
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, d.deadlineError(err, lastErr)
	}
	getMetrics().requests.WithLabelValues(resultUnavailable).Inc()
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrUpstreamUnavailable, attempts, lastErr)
}

// attempt forwards the request once, bounded by the per-attempt timeout
// if one is configured. The timeout's cancel is deferred until the
// caller finishes the response body, so streaming responses are not cut
// off at the handoff.
func (d *Dispatcher) attempt(ctx context.Context, target backend.Weighted, req *http.Request) (*http.Response, error) {
	start := d.clock.Now()
	attemptCtx := ctx
	var cancel context.CancelFunc
	if d.attemptTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, d.attemptTimeout)
	}
	resp, err := d.send(attemptCtx, target.Addr, req)
	if d.observeAttempt != nil {
		d.observeAttempt(Attempt{
			Backend:  target,
			Start:    start,
			Duration: d.clock.Since(start),
			Err:      err,
		})
	}
	if err != nil {
		if cancel != nil {
			cancel()
		}
		getMetrics().attempts.WithLabelValues(outcomeFailure).Inc()
		return nil, err
	}
	if cancel != nil {
		resp.Body = &hookReadCloser{ReadCloser: resp.Body, hook: cancel}
	}
	getMetrics().attempts.WithLabelValues(outcomeSuccess).Inc()
	return resp, nil
}

func (d *Dispatcher) send(ctx context.Context, addr string, req *http.Request) (*http.Response, error) {
	if d.breakers == nil {
		return d.transport.Send(ctx, addr, req)
	}
	result, err := d.breakers.forAddr(addr).Execute(func() (any, error) {
		return d.transport.Send(ctx, addr, req)
	})
	if err != nil {
		return nil, err
	}
	resp, ok := result.(*http.Response)
	if !ok {
		return nil, fmt.Errorf("unexpected breaker result type %T", result)
	}
	return resp, nil
}

func (d *Dispatcher) deadlineError(ctxErr, lastErr error) error {
	if !errors.Is(ctxErr, context.DeadlineExceeded) {
		// plain cancellation is the caller's own doing, pass it through
		return ctxErr
	}
	getMetrics().requests.WithLabelValues(resultTimeout).Inc()
	if lastErr != nil {
		return fmt.Errorf("%w: %w", ErrTimeout, lastErr)
	}
	return fmt.Errorf("%w: %w", ErrTimeout, ctxErr)
}

func rewindBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody {
		return nil
	}
	if req.GetBody == nil {
		return errors.New("request has no GetBody")
	}
	body, err := req.GetBody()
	if err != nil {
		return err
	}
	req.Body = body
	return nil
}

// hookReadCloser invokes hook exactly once, when the body is closed or
// its read stream ends.
type hookReadCloser struct {
	io.ReadCloser
	hook func()

	// +checkatomic
	closed atomic.Bool
}

func (h *hookReadCloser) done() {
	if h.closed.CompareAndSwap(false, true) {
		h.hook()
	}
}

func (h *hookReadCloser) Read(p []byte) (int, error) {
	n, err := h.ReadCloser.Read(p)
	if err != nil {
		h.done()
	}
	return n, err
}

func (h *hookReadCloser) Close() error {
	err := h.ReadCloser.Close()
	h.done()
	return err
}
