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

// Package health keeps backend health and weight state current via
// continuous out-of-band probing, decoupled from the request path.
//
// The package defines the [Prober] contract for single-shot liveness
// probes, an HTTP implementation of it, and the polling [Checker] that
// runs probes on an interval, applies hysteresis to the per-backend
// state machine, and publishes a freshly built backend set to the
// registry whenever a committed status or the backend membership
// changes. Request-serving code never talks to this package directly;
// the two sides communicate only through the registry's publish/load
// contract.
//
// Probe failures are never surfaced to request callers. They are logged,
// counted, and fed into the Unavailable transition.
package health
