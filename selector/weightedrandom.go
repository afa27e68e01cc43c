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

package selector

import (
	"math/rand"

	"github.com/proxylb/proxylb/backend"
	"github.com/proxylb/proxylb/internal"
)

// NewWeightedRandom creates a selector that picks backends at random with
// probability proportional to effective weight. Each call draws a uniform
// value in [0, totalWeight) and locates the backend whose cumulative-weight
// interval contains the draw.
//
// By default the randomness source is a freshly seeded, mutex-guarded
// generator. Supply [WithRand] to make selection reproducible under test.
func NewWeightedRandom(opts ...WeightedRandomOption) Selector {
	picker := &weightedRandom{}
	for _, opt := range opts {
		opt.apply(picker)
	}
	if picker.rnd == nil {
		picker.rnd = internal.NewLockedRand()
	}
	return picker
}

// WeightedRandomOption is an option used to customize the behavior of a
// weighted-random selector.
type WeightedRandomOption interface {
	apply(*weightedRandom)
}

// WithRand configures the selector to draw from the given generator. The
// generator must be safe for the selector's usage: if the selector is
// shared across goroutines, the generator must be synchronized (a seeded
// but unsynchronized *rand.Rand is fine for single-goroutine tests).
func WithRand(rnd *rand.Rand) WeightedRandomOption {
	return weightedRandomOptionFunc(func(picker *weightedRandom) {
		picker.rnd = rnd
	})
}

type weightedRandomOptionFunc func(*weightedRandom)

func (f weightedRandomOptionFunc) apply(picker *weightedRandom) {
	f(picker)
}

type weightedRandom struct {
	rnd *rand.Rand
}

func (w *weightedRandom) Select(set *backend.Set) (backend.Weighted, error) {
	total := set.TotalWeight()
	if total <= 0 {
		return backend.Weighted{}, ErrNoAvailableBackend
	}
	// Float64 returns a value in [0,1), so the draw is in [0,total) and
	// Locate cannot miss.
	draw := w.rnd.Float64() * total
	chosen, ok := set.Locate(draw)
	if !ok {
		return backend.Weighted{}, ErrNoAvailableBackend
	}
	return chosen, nil
}
