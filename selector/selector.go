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

// Package selector implements backend selection over a published backend
// set. The default policy is weighted-random sampling: each call draws a
// backend with probability proportional to its effective weight, which
// achieves long-run traffic proportional to weight without maintaining
// any cross-call counters.
package selector

import (
	"errors"

	"github.com/proxylb/proxylb/backend"
)

// ErrNoAvailableBackend is returned by Select when the set's total
// effective weight is zero, meaning there is nothing to route to.
// Retrying against the same snapshot cannot succeed, so callers must
// treat this as terminal for the request.
var ErrNoAvailableBackend = errors.New("no available backend")

// Selector implements backend selection. For a given set, it returns the
// backend to use. Implementations must not mutate the set and must be
// safe for concurrent use.
type Selector interface {
	Select(set *backend.Set) (backend.Weighted, error)
}

// ErrorSelector returns a selector that always fails with the given error.
func ErrorSelector(err error) Selector {
	return selectorFunc(func(*backend.Set) (backend.Weighted, error) {
		return backend.Weighted{}, err
	})
}

type selectorFunc func(*backend.Set) (backend.Weighted, error)

func (f selectorFunc) Select(set *backend.Set) (backend.Weighted, error) {
	return f(set)
}
