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

package backend

import (
	"fmt"
	"sort"

	"github.com/proxylb/proxylb/attribute"
)

// Descriptor identifies a single upstream backend. It is an immutable
// value: it is created from configuration and replaced wholesale when
// configuration changes, never mutated in place.
type Descriptor struct {
	// Addr is the backend's network address in "host:port" form.
	Addr string
	// Weight is the static base weight. It must be positive; it governs
	// the backend's share of traffic relative to its peers when healthy.
	Weight float64
	// Attributes holds optional capability metadata for the backend.
	Attributes attribute.Values
}

// CapabilityTags is the attribute under which a backend's free-form
// capability tags from configuration are stored.
//
//nolint:gochecknoglobals
var CapabilityTags = attribute.NewKey[[]string]()

// Status is the committed health status of a backend. The natural
// ordering is for "better" statuses to be before "worse" statuses, so
// StatusHealthy is the lowest value and StatusUnavailable the highest.
type Status int

const (
	StatusHealthy     = Status(-1)
	StatusUnknown     = Status(0)
	StatusDegraded    = Status(1)
	StatusUnavailable = Status(2)
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnavailable:
		return "unavailable"
	case StatusUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("Status(%d)", s)
	}
}

// Weighted pairs a Descriptor with its committed status and the effective
// weight derived from it. Effective weight is the base weight multiplied
// by a health multiplier: 1 for healthy, a configurable fraction in (0,1)
// for degraded, and 0 for unavailable. Unknown is a startup-only status
// and carries weight 0 until the first probe resolves it.
type Weighted struct {
	Descriptor
	Status          Status
	EffectiveWeight float64
}

// NewWeighted computes the effective weight for the given descriptor and
// status. The degradedFactor is the multiplier applied to degraded
// backends; values outside (0,1) are clamped into that range.
func NewWeighted(desc Descriptor, status Status, degradedFactor float64) Weighted {
	var multiplier float64
	switch status {
	case StatusHealthy:
		multiplier = 1
	case StatusDegraded:
		if degradedFactor <= 0 || degradedFactor >= 1 {
			degradedFactor = DefaultDegradedFactor
		}
		multiplier = degradedFactor
	case StatusUnknown, StatusUnavailable:
		multiplier = 0
	}
	weight := desc.Weight
	if weight < 0 {
		weight = 0
	}
	return Weighted{
		Descriptor:      desc,
		Status:          status,
		EffectiveWeight: weight * multiplier,
	}
}

// DefaultDegradedFactor is the effective-weight multiplier applied to
// degraded backends when no explicit factor is configured.
const DefaultDegradedFactor = 0.5

// Set is an immutable, ordered collection of weighted backends together
// with a precomputed cumulative weight table. Once constructed, a Set is
// never modified; membership or weight changes always produce a new Set.
// This is what makes it safe to share a Set between request-serving
// goroutines and the background health checker without locking.
type Set struct {
	backends   []Weighted
	cumulative []float64
	total      float64
}

// NewSet constructs a Set from the given weighted backends. The slice is
// copied, so the caller may reuse it. Backends with zero effective weight
// remain members of the set (so their status is visible and they can
// recover) but occupy a zero-width interval in the cumulative table and
// are therefore never located by a draw.
func NewSet(backends []Weighted) *Set {
	set := &Set{
		backends:   make([]Weighted, len(backends)),
		cumulative: make([]float64, len(backends)),
	}
	copy(set.backends, backends)
	var total float64
	for i, wb := range set.backends {
		weight := wb.EffectiveWeight
		if weight < 0 {
			weight = 0
		}
		total += weight
		set.cumulative[i] = total
	}
	set.total = total
	return set
}

// Len returns the number of backends in the set, including those with
// zero effective weight.
func (s *Set) Len() int {
	return len(s.backends)
}

// Get returns the backend at index i.
func (s *Set) Get(i int) Weighted {
	return s.backends[i]
}

// TotalWeight returns the sum of effective weights across the set. A
// total of zero means no backend is currently selectable.
func (s *Set) TotalWeight() float64 {
	return s.total
}

// Locate returns the backend whose cumulative-weight interval contains
// the given draw, which must be in [0, TotalWeight()). It reports false
// when the set has no selectable backend or the draw is out of range.
func (s *Set) Locate(draw float64) (Weighted, bool) {
	if draw < 0 || draw >= s.total {
		return Weighted{}, false
	}
	// Intervals are half-open [cumulative[i-1], cumulative[i]), so a
	// zero-weight backend has an empty interval and can never match.
	i := sort.Search(len(s.cumulative), func(i int) bool {
		return draw < s.cumulative[i]
	})
	if i >= len(s.backends) {
		return Weighted{}, false
	}
	return s.backends[i], true
}

// Excluding derives a new Set in which the named addresses have their
// effective weight zeroed. It is used to avoid re-selecting a backend
// that already failed during the current request. The receiver is not
// modified.
func (s *Set) Excluding(addrs map[string]struct{}) *Set {
	if len(addrs) == 0 {
		return s
	}
	backends := make([]Weighted, len(s.backends))
	copy(backends, s.backends)
	changed := false
	for i := range backends {
		if _, ok := addrs[backends[i].Addr]; ok && backends[i].EffectiveWeight != 0 {
			backends[i].EffectiveWeight = 0
			changed = true
		}
	}
	if !changed {
		return s
	}
	return NewSet(backends)
}
