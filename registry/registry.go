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

// Package registry holds the currently published backend set behind an
// atomically-swappable handle. Readers load a complete, self-consistent
// snapshot without taking any lock; the health checker (or a config
// reload) publishes replacement snapshots with a single atomic store.
//
// A snapshot returned by Load remains valid and immutable for as long as
// the caller holds it, even if newer snapshots are published concurrently.
// Old snapshots are simply garbage-collected once the last in-flight
// request holding them completes.
package registry

import (
	"sync/atomic"

	"github.com/proxylb/proxylb/backend"
)

// Registry is the atomic handle for the published backend set. The zero
// value is not usable; construct with New.
type Registry struct {
	current atomic.Pointer[backend.Set]
}

// New returns a Registry whose initial snapshot is the empty set, so
// Load never returns nil even before the first publish.
func New() *Registry {
	r := &Registry{}
	r.current.Store(backend.NewSet(nil))
	return r
}

// Load returns the current snapshot. It never blocks and never fails.
func (r *Registry) Load() *backend.Set {
	return r.current.Load()
}

// Publish replaces the current snapshot. It never blocks readers; any
// number of concurrent Load calls observe either the previous or the new
// snapshot in full, never a mix. Concurrent publishers must be serialized
// externally (the health checker is the single publisher in the default
// wiring, and config reloads funnel through it).
func (r *Registry) Publish(set *backend.Set) {
	if set == nil {
		set = backend.NewSet(nil)
	}
	r.current.Store(set)
}
