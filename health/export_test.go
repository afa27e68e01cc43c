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

	"github.com/proxylb/proxylb/internal"
)

// SetCheckerClock replaces the checker's clock, to allow tests to control
// the probe interval.
func SetCheckerClock(c *Checker, clock internal.Clock) {
	c.clock = clock
}

// RunCycle runs a single probe cycle synchronously, so tests can step the
// state machine without a goroutine or a fake clock.
func RunCycle(c *Checker, ctx context.Context) {
	c.cycle(ctx)
}
