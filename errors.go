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
	"errors"

	"github.com/proxylb/proxylb/selector"
)

var (
	// ErrNoAvailableBackend is returned by [Dispatcher.Handle] when the
	// current backend set has no selectable backend at all. It is a
	// fail-fast condition and is never retried: retrying cannot succeed
	// until a new set is published.
	ErrNoAvailableBackend = selector.ErrNoAvailableBackend

	// ErrUpstreamUnavailable is returned when every permitted attempt
	// failed at the transport level. It wraps the last attempt's error.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrTimeout is returned when the caller's deadline expires while a
	// request is still being dispatched.
	ErrTimeout = errors.New("request deadline exceeded")
)
