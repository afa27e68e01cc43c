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
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Default breaker settings, applied when the corresponding BreakerConfig
// field is zero.
const (
	DefaultBreakerMinRequests = 5
	DefaultBreakerTimeout     = 30 * time.Second
)

// BreakerConfig tunes the per-backend circuit breakers enabled with
// WithCircuitBreaker. The zero value is usable and applies the defaults.
type BreakerConfig struct {
	// MinRequests is the minimum number of requests in the counting
	// window before the breaker may trip. A breaker trips when at least
	// half the requests in the window have failed.
	MinRequests uint32
	// Timeout is how long an open breaker stays open before letting a
	// probe request through.
	Timeout time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MinRequests == 0 {
		c.MinRequests = DefaultBreakerMinRequests
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultBreakerTimeout
	}
	return c
}

// breakerGroup lazily creates one circuit breaker per backend address.
// Breakers are never evicted; the set of addresses is small and bounded
// by configuration.
type breakerGroup struct {
	config BreakerConfig
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newBreakerGroup(config BreakerConfig, logger *zap.Logger) *breakerGroup {
	return &breakerGroup{
		config:   config.withDefaults(),
		logger:   logger,
		breakers: map[string]*gobreaker.CircuitBreaker{},
	}
}

func (g *breakerGroup) forAddr(addr string) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	if breaker, ok := g.breakers[addr]; ok {
		return breaker
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        addr,
		MaxRequests: g.config.MinRequests,
		Interval:    g.config.Timeout,
		Timeout:     g.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= g.config.MinRequests && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			g.logger.Info("circuit breaker state change",
				zap.String("addr", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	g.breakers[addr] = breaker
	return breaker
}
