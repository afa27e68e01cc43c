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

package registry_test

import (
	"sync"
	"testing"

	"github.com/proxylb/proxylb/backend"
	"github.com/proxylb/proxylb/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBeforePublish(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	set := reg.Load()
	require.NotNil(t, set)
	assert.Equal(t, 0, set.Len())
	assert.Equal(t, 0.0, set.TotalWeight())
}

func TestPublishReplacesSnapshot(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	first := newSet("a:1", "b:1")
	reg.Publish(first)
	assert.Same(t, first, reg.Load())

	second := newSet("c:1")
	reg.Publish(second)
	assert.Same(t, second, reg.Load())

	// a nil publish resets to the empty set rather than storing nil
	reg.Publish(nil)
	require.NotNil(t, reg.Load())
	assert.Equal(t, 0, reg.Load().Len())
}

// Readers racing with publishers must always observe one snapshot in
// full: every backend in a loaded set belongs to the same generation.
func TestSnapshotIsolation(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	generations := [][]string{
		{"old-a:1", "old-b:1"},
		{"new-a:1", "new-b:1"},
	}
	reg.Publish(newSet(generations[0]...))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			reg.Publish(newSet(generations[i%2]...))
		}
	}()

	for range 1000 {
		set := reg.Load()
		require.Equal(t, 2, set.Len())
		first := set.Get(0).Addr
		second := set.Get(1).Addr
		switch first {
		case "old-a:1":
			assert.Equal(t, "old-b:1", second)
		case "new-a:1":
			assert.Equal(t, "new-b:1", second)
		default:
			t.Fatalf("unexpected backend %q", first)
		}
	}
	close(stop)
	wg.Wait()
}

func newSet(addrs ...string) *backend.Set {
	backends := make([]backend.Weighted, len(addrs))
	for i, addr := range addrs {
		backends[i] = backend.NewWeighted(
			backend.Descriptor{Addr: addr, Weight: 1},
			backend.StatusHealthy,
			backend.DefaultDegradedFactor,
		)
	}
	return backend.NewSet(backends)
}
