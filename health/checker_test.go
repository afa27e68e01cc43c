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

package health_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/proxylb/proxylb/backend"
	"github.com/proxylb/proxylb/health"
	"github.com/proxylb/proxylb/internal/clocktest"
	"github.com/proxylb/proxylb/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRefused = errors.New("connection refused")

func TestUnknownResolvesOnFirstProbe(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	prober := newScriptProber()
	checker := health.NewChecker(health.CheckerConfig{}, prober, reg)
	checker.UpdateBackends([]backend.Descriptor{{Addr: "a:1", Weight: 2}})

	// before any probe completes, the backend is Unknown and unselectable
	assert.Equal(t, backend.StatusUnknown, statusOf(t, reg, "a:1"))
	assert.Equal(t, 0.0, weightOf(t, reg, "a:1"))

	prober.script("a:1", health.Result{Healthy: true, Latency: time.Millisecond})
	health.RunCycle(checker, context.Background())

	assert.Equal(t, backend.StatusHealthy, statusOf(t, reg, "a:1"))
	assert.Equal(t, 2.0, weightOf(t, reg, "a:1"))
}

func TestHysteresis(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	prober := newScriptProber()
	checker := health.NewChecker(health.CheckerConfig{
		PromoteThreshold: 2,
		DemoteThreshold:  3,
	}, prober, reg)
	checker.UpdateBackends([]backend.Descriptor{{Addr: "a:1", Weight: 1}})

	ctx := context.Background()
	ok := health.Result{Healthy: true, Latency: time.Millisecond}
	fail := health.Result{Err: errRefused}

	prober.script("a:1", ok)
	health.RunCycle(checker, ctx)
	require.Equal(t, backend.StatusHealthy, statusOf(t, reg, "a:1"))

	// N-1 consecutive failures followed by a success must not demote
	prober.script("a:1", fail, fail, ok)
	for range 3 {
		health.RunCycle(checker, ctx)
	}
	assert.Equal(t, backend.StatusHealthy, statusOf(t, reg, "a:1"))

	// N consecutive failures commit the demotion
	prober.script("a:1", fail, fail, fail)
	for range 3 {
		health.RunCycle(checker, ctx)
	}
	assert.Equal(t, backend.StatusUnavailable, statusOf(t, reg, "a:1"))
	assert.Equal(t, 0.0, weightOf(t, reg, "a:1"))

	// promotion needs only 2 consecutive successes
	prober.script("a:1", ok)
	health.RunCycle(checker, ctx)
	assert.Equal(t, backend.StatusUnavailable, statusOf(t, reg, "a:1"))
	prober.script("a:1", ok)
	health.RunCycle(checker, ctx)
	assert.Equal(t, backend.StatusHealthy, statusOf(t, reg, "a:1"))
}

func TestDegradedByLatency(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	prober := newScriptProber()
	checker := health.NewChecker(health.CheckerConfig{
		DemoteThreshold:          2,
		DegradedLatencyThreshold: 100 * time.Millisecond,
		DegradedWeightFactor:     0.25,
	}, prober, reg)
	checker.UpdateBackends([]backend.Descriptor{{Addr: "a:1", Weight: 4}})

	ctx := context.Background()
	prober.script("a:1", health.Result{Healthy: true, Latency: time.Millisecond})
	health.RunCycle(checker, ctx)
	require.Equal(t, backend.StatusHealthy, statusOf(t, reg, "a:1"))

	// two consecutive slow-but-successful probes demote to degraded
	slow := health.Result{Healthy: true, Latency: 500 * time.Millisecond}
	prober.script("a:1", slow, slow)
	for range 2 {
		health.RunCycle(checker, ctx)
	}
	assert.Equal(t, backend.StatusDegraded, statusOf(t, reg, "a:1"))
	assert.Equal(t, 1.0, weightOf(t, reg, "a:1")) // 4 * 0.25
}

func TestUpdateBackendsPreservesStatus(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	prober := newScriptProber()
	checker := health.NewChecker(health.CheckerConfig{}, prober, reg)
	checker.UpdateBackends([]backend.Descriptor{{Addr: "a:1", Weight: 1}})

	prober.script("a:1", health.Result{Healthy: true, Latency: time.Millisecond})
	health.RunCycle(checker, context.Background())
	require.Equal(t, backend.StatusHealthy, statusOf(t, reg, "a:1"))

	// reload config: a survives with its status, b starts Unknown, and
	// the new set is published immediately
	checker.UpdateBackends([]backend.Descriptor{
		{Addr: "a:1", Weight: 1},
		{Addr: "b:1", Weight: 3},
	})
	set := reg.Load()
	require.Equal(t, 2, set.Len())
	assert.Equal(t, backend.StatusHealthy, statusOf(t, reg, "a:1"))
	assert.Equal(t, backend.StatusUnknown, statusOf(t, reg, "b:1"))
	assert.Equal(t, 0.0, weightOf(t, reg, "b:1"))
}

func TestRunProbesOnInterval(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	probed := make(chan string, 16)
	prober := proberFunc(func(_ context.Context, target backend.Descriptor) health.Result {
		probed <- target.Addr
		return health.Result{Healthy: true, Latency: time.Millisecond}
	})

	interval := 10 * time.Second
	testClock := clocktest.NewFakeClock()
	checker := health.NewChecker(health.CheckerConfig{Interval: interval}, prober, reg)
	health.SetCheckerClock(checker, testClock)
	checker.UpdateBackends([]backend.Descriptor{{Addr: "a:1", Weight: 1}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	done := make(chan struct{})
	go func() {
		defer close(done)
		checker.Run(ctx)
	}()

	// one cycle runs immediately
	expectProbe(t, ctx, probed, "a:1")
	// the next one only after the interval elapses
	require.NoError(t, testClock.BlockUntilContext(ctx, 1))
	testClock.Advance(interval)
	expectProbe(t, ctx, probed, "a:1")

	cancel()
	<-done
}

func expectProbe(t *testing.T, ctx context.Context, probed <-chan string, addr string) {
	t.Helper()
	select {
	case got := <-probed:
		assert.Equal(t, addr, got)
	case <-ctx.Done():
		t.Fatal("no probe observed within timeout")
	}
}

func statusOf(t *testing.T, reg *registry.Registry, addr string) backend.Status {
	t.Helper()
	wb, ok := findBackend(reg, addr)
	require.True(t, ok, "backend %s not in published set", addr)
	return wb.Status
}

func weightOf(t *testing.T, reg *registry.Registry, addr string) float64 {
	t.Helper()
	wb, ok := findBackend(reg, addr)
	require.True(t, ok, "backend %s not in published set", addr)
	return wb.EffectiveWeight
}

func findBackend(reg *registry.Registry, addr string) (backend.Weighted, bool) {
	set := reg.Load()
	for i := range set.Len() {
		if set.Get(i).Addr == addr {
			return set.Get(i), true
		}
	}
	return backend.Weighted{}, false
}

type proberFunc func(ctx context.Context, target backend.Descriptor) health.Result

func (f proberFunc) Probe(ctx context.Context, target backend.Descriptor) health.Result {
	return f(ctx, target)
}

// scriptProber replays a per-backend sequence of results; once the
// script is exhausted the last result repeats.
type scriptProber struct {
	mu      sync.Mutex
	scripts map[string][]health.Result
	last    map[string]health.Result
}

func newScriptProber() *scriptProber {
	return &scriptProber{
		scripts: map[string][]health.Result{},
		last:    map[string]health.Result{},
	}
}

func (p *scriptProber) script(addr string, results ...health.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[addr] = append(p.scripts[addr], results...)
}

func (p *scriptProber) Probe(_ context.Context, target backend.Descriptor) health.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	queue := p.scripts[target.Addr]
	if len(queue) == 0 {
		return p.last[target.Addr]
	}
	next := queue[0]
	p.scripts[target.Addr] = queue[1:]
	p.last[target.Addr] = next
	return next
}
