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

package internal

import (
	"hash/maphash"
	"math/rand"
	"sync"
)

// NewRand returns a properly seeded *rand.Rand. The seed is computed using
// the "hash/maphash" package, which can be used concurrently and is
// lock-free. Effectively, we're using the runtime's internal per-thread
// RNG to seed a new rand.Rand.
//
// The returned value is not thread-safe. Use NewLockedRand if the value
// will be shared across goroutines.
func NewRand() *rand.Rand {
	seed := (&maphash.Hash{}).Sum64()
	return rand.New(rand.NewSource(int64(seed))) //nolint:gosec // don't need cryptographic RNG
}

// NewLockedRand is just like NewRand except the returned value uses a
// mutex to enable safe usage from concurrent goroutines.
//
// Despite having mutex overhead, this is better than using the global
// rand because nothing else linked into the program can contend on the
// mutex or re-seed the source out from under us.
func NewLockedRand() *rand.Rand {
	seed := (&maphash.Hash{}).Sum64()
	//nolint:forcetypeassert,errcheck // specs say value returned by NewSource implements Source64
	src := rand.NewSource(int64(seed)).(rand.Source64)
	return rand.New(&lockedSource{src: src}) //nolint:gosec // don't need cryptographic RNG
}

type lockedSource struct {
	mu sync.Mutex
	// +checklocks:mu
	src rand.Source64
}

func (l *lockedSource) Int63() int64 {
	l.mu.Lock()
	ret := l.src.Int63()
	l.mu.Unlock()
	return ret
}

func (l *lockedSource) Uint64() uint64 {
	l.mu.Lock()
	ret := l.src.Uint64()
	l.mu.Unlock()
	return ret
}

func (l *lockedSource) Seed(seed int64) {
	l.mu.Lock()
	l.src.Seed(seed)
	l.mu.Unlock()
}
