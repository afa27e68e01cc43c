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

package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/proxylb/proxylb/backend"
	"github.com/proxylb/proxylb/internal"
	"github.com/proxylb/proxylb/registry"
)

// Default checker configuration values, used when the corresponding
// CheckerConfig field is zero.
const (
	DefaultInterval                 = 10 * time.Second
	DefaultProbeTimeout             = 5 * time.Second
	DefaultPromoteThreshold         = 2
	DefaultDemoteThreshold          = 3
	DefaultDegradedLatencyThreshold = time.Second
)

// CheckerConfig tunes the polling checker. The zero value is usable and
// applies the package defaults.
type CheckerConfig struct {
	// Interval is how often a full probe cycle runs.
	Interval time.Duration
	// ProbeTimeout bounds each individual probe. Probes run concurrently
	// within a cycle, so one slow backend cannot delay the others.
	ProbeTimeout time.Duration
	// PromoteThreshold is the number of consecutive consistent probe
	// outcomes required to commit a transition toward a healthier status.
	PromoteThreshold int
	// DemoteThreshold is the number of consecutive consistent probe
	// outcomes required to commit a transition toward a worse status.
	DemoteThreshold int
	// DegradedLatencyThreshold classifies a successful probe above this
	// latency as a degraded observation.
	DegradedLatencyThreshold time.Duration
	// DegradedWeightFactor is the effective-weight multiplier applied to
	// degraded backends, in (0,1). Defaults to backend.DefaultDegradedFactor.
	DegradedWeightFactor float64
}

func (c CheckerConfig) withDefaults() CheckerConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.PromoteThreshold <= 0 {
		c.PromoteThreshold = DefaultPromoteThreshold
	}
	if c.DemoteThreshold <= 0 {
		c.DemoteThreshold = DefaultDemoteThreshold
	}
	if c.DegradedLatencyThreshold <= 0 {
		c.DegradedLatencyThreshold = DefaultDegradedLatencyThreshold
	}
	if c.DegradedWeightFactor <= 0 || c.DegradedWeightFactor >= 1 {
		c.DegradedWeightFactor = backend.DefaultDegradedFactor
	}
	return c
}

// Checker drives the per-backend health state machine
//
//	Unknown -> Healthy <-> Degraded <-> Unavailable
//
// by probing every configured backend on a fixed interval. A status
// transition is committed only after the configured number of consecutive
// consistent probe outcomes, so a single outcome never flips state; the
// one exception is Unknown, which resolves on the first completed probe.
//
// Whenever a transition is committed, or membership changes via
// UpdateBackends, the checker constructs a new backend set reflecting all
// current descriptors and statuses and publishes it to the registry. It
// is the single publisher in the default wiring.
type Checker struct {
	config   CheckerConfig
	prober   Prober
	registry *registry.Registry
	logger   *zap.Logger
	clock    internal.Clock

	mu sync.Mutex
	// +checklocks:mu
	backends []backend.Descriptor
	// +checklocks:mu
	states map[string]*probeState
}

type probeState struct {
	status    backend.Status
	candidate backend.Status
	streak    int
}

// CheckerOption is an option used to customize the behavior of a Checker.
type CheckerOption interface {
	apply(*Checker)
}

// WithLogger configures the checker to log probe failures and committed
// status transitions to the given logger. The default is a no-op logger.
func WithLogger(logger *zap.Logger) CheckerOption {
	return checkerOptionFunc(func(c *Checker) {
		c.logger = logger
	})
}

type checkerOptionFunc func(*Checker)

func (f checkerOptionFunc) apply(c *Checker) {
	f(c)
}

// NewChecker creates a checker that probes via the given prober and
// publishes backend sets to the given registry. Backends are supplied
// with UpdateBackends; until then the checker has nothing to probe.
func NewChecker(config CheckerConfig, prober Prober, reg *registry.Registry, opts ...CheckerOption) *Checker {
	checker := &Checker{
		config:   config.withDefaults(),
		prober:   prober,
		registry: reg,
		logger:   zap.NewNop(),
		clock:    internal.NewRealClock(),
		states:   map[string]*probeState{},
	}
	for _, opt := range opts {
		opt.apply(checker)
	}
	return checker
}

// UpdateBackends replaces the set of backends being probed. Statuses of
// backends that remain are preserved; new backends start as Unknown,
// which selects like Unavailable until their first probe completes. The
// resulting set is published immediately, so a configuration reload takes
// effect without waiting for the next probe cycle.
func (c *Checker) UpdateBackends(descriptors []backend.Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backends = make([]backend.Descriptor, len(descriptors))
	copy(c.backends, descriptors)
	states := make(map[string]*probeState, len(descriptors))
	for _, desc := range c.backends {
		if state, ok := c.states[desc.Addr]; ok {
			states[desc.Addr] = state
			continue
		}
		states[desc.Addr] = &probeState{
			status:    backend.StatusUnknown,
			candidate: backend.StatusUnknown,
		}
	}
	c.states = states
	c.publishLocked()
}

// Run probes all backends immediately and then on every interval tick,
// until ctx is cancelled. Probe failures never terminate the loop; they
// are logged and counted toward the Unavailable transition.
func (c *Checker) Run(ctx context.Context) {
	c.cycle(ctx)
	ticker := c.clock.NewTicker(c.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.cycle(ctx)
		}
	}
}

// cycle runs one concurrent probe pass over all backends and commits any
// resulting status transitions.
func (c *Checker) cycle(ctx context.Context) {
	c.mu.Lock()
	descriptors := make([]backend.Descriptor, len(c.backends))
	copy(descriptors, c.backends)
	c.mu.Unlock()
	if len(descriptors) == 0 {
		return
	}

	observations := make([]backend.Status, len(descriptors))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, desc := range descriptors {
		group.Go(func() error {
			probeCtx, cancel := context.WithTimeout(groupCtx, c.config.ProbeTimeout)
			defer cancel()
			result := c.prober.Probe(probeCtx, desc)
			observations[i] = c.classify(result)
			if result.Err != nil {
				getMetrics().probes.WithLabelValues(outcomeFailure).Inc()
				c.logger.Debug("probe failed",
					zap.String("addr", desc.Addr),
					zap.Error(result.Err),
				)
			} else {
				getMetrics().probes.WithLabelValues(outcomeSuccess).Inc()
			}
			return nil
		})
	}
	_ = group.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	changed := false
	for i, desc := range descriptors {
		state, ok := c.states[desc.Addr]
		if !ok {
			// membership changed while this cycle was in flight
			continue
		}
		if c.observeLocked(desc.Addr, state, observations[i]) {
			changed = true
		}
	}
	if changed {
		c.publishLocked()
	}
}

func (c *Checker) classify(result Result) backend.Status {
	switch {
	case result.Err != nil || !result.Healthy:
		return backend.StatusUnavailable
	case result.Latency > c.config.DegradedLatencyThreshold:
		return backend.StatusDegraded
	default:
		return backend.StatusHealthy
	}
}

// observeLocked feeds one probe outcome into the backend's state machine
// and reports whether a transition was committed.
//
// +checklocks:c.mu
func (c *Checker) observeLocked(addr string, state *probeState, observed backend.Status) bool {
	if state.status == backend.StatusUnknown {
		// The first completed probe resolves the startup state without
		// hysteresis; before it, the backend selects like Unavailable.
		c.commitLocked(addr, state, observed)
		return true
	}
	if observed == state.status {
		// consistent with the committed status; any pending streak is
		// no longer consecutive
		state.candidate = state.status
		state.streak = 0
		return false
	}
	if observed == state.candidate {
		state.streak++
	} else {
		state.candidate = observed
		state.streak = 1
	}
	threshold := c.config.DemoteThreshold
	if observed < state.status {
		threshold = c.config.PromoteThreshold
	}
	if state.streak < threshold {
		return false
	}
	c.commitLocked(addr, state, observed)
	return true
}

// +checklocks:c.mu
func (c *Checker) commitLocked(addr string, state *probeState, status backend.Status) {
	from := state.status
	state.status = status
	state.candidate = status
	state.streak = 0
	getMetrics().transitions.WithLabelValues(from.String(), status.String()).Inc()
	c.logger.Info("backend status changed",
		zap.String("addr", addr),
		zap.Stringer("from", from),
		zap.Stringer("to", status),
	)
}

// publishLocked rebuilds the backend set from current descriptors and
// statuses and publishes it as a new immutable snapshot.
//
// +checklocks:c.mu
func (c *Checker) publishLocked() {
	weighted := make([]backend.Weighted, len(c.backends))
	for i, desc := range c.backends {
		weighted[i] = backend.NewWeighted(desc, c.states[desc.Addr].status, c.config.DegradedWeightFactor)
	}
	set := backend.NewSet(weighted)
	c.registry.Publish(set)
	c.logger.Debug("published backend set",
		zap.Int("backends", set.Len()),
		zap.Float64("totalWeight", set.TotalWeight()),
	)
}
