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
	"time"

	"go.uber.org/zap"

	"github.com/proxylb/proxylb/selector"
)

// DispatcherOption is an option used to customize the behavior of a
// Dispatcher.
type DispatcherOption interface {
	apply(*Dispatcher)
}

type dispatcherOptionFunc func(*Dispatcher)

func (f dispatcherOptionFunc) apply(d *Dispatcher) {
	f(d)
}

// WithSelector configures the dispatcher to pick backends with the given
// selector instead of the default weighted-random one.
func WithSelector(sel selector.Selector) DispatcherOption {
	return dispatcherOptionFunc(func(d *Dispatcher) {
		d.selector = sel
	})
}

// WithTransport configures the dispatcher to forward requests through
// the given transport.
func WithTransport(transport Transport) DispatcherOption {
	return dispatcherOptionFunc(func(d *Dispatcher) {
		d.transport = transport
	})
}

// WithMaxAttempts bounds the number of forward attempts per request.
// Values below one are treated as one, which disables failover.
func WithMaxAttempts(n int) DispatcherOption {
	return dispatcherOptionFunc(func(d *Dispatcher) {
		if n < 1 {
			n = 1
		}
		d.maxAttempts = n
	})
}

// WithAttemptTimeout bounds each individual attempt, so a single hung
// backend cannot consume the whole request budget. The default is no
// per-attempt timeout; the caller's deadline still applies.
func WithAttemptTimeout(timeout time.Duration) DispatcherOption {
	return dispatcherOptionFunc(func(d *Dispatcher) {
		d.attemptTimeout = timeout
	})
}

// WithCircuitBreaker guards each backend with its own circuit breaker.
// While a backend's breaker is open, attempts to it fail immediately
// without sending and count toward the retry budget.
func WithCircuitBreaker(config BreakerConfig) DispatcherOption {
	return dispatcherOptionFunc(func(d *Dispatcher) {
		d.breakerConfig = &config
	})
}

// WithAttemptObserver registers a callback invoked after every forward
// attempt, successful or not. Useful for custom accounting in tests.
func WithAttemptObserver(observe func(Attempt)) DispatcherOption {
	return dispatcherOptionFunc(func(d *Dispatcher) {
		d.observeAttempt = observe
	})
}

// WithLogger configures the dispatcher to log failed attempts to the
// given logger. The default is a no-op logger.
func WithLogger(logger *zap.Logger) DispatcherOption {
	return dispatcherOptionFunc(func(d *Dispatcher) {
		d.logger = logger
	})
}
