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

// Package proxylb is the backend-selection core of a reverse proxy. It
// spreads requests across a weighted set of upstream backends, keeps
// backend health current via out-of-band probing, and fails over to
// another backend when an attempt fails at the transport level.
//
// The request path is lock-free: the health checker publishes immutable
// backend sets to a [registry.Registry], and every request loads one
// atomic snapshot and works against it alone. Selection is weighted
// random over effective weights, which fold each backend's health status
// into its configured weight.
//
// The typical wiring is one [health.Checker] feeding one
// [registry.Registry] read by one [Dispatcher]:
//
//	reg := registry.New()
//	transport := proxylb.NewTransport()
//	checker := health.NewChecker(health.CheckerConfig{}, health.NewHTTPProber(transport, "/healthz"), reg)
//	checker.UpdateBackends(descriptors)
//	go checker.Run(ctx)
//	dispatcher := proxylb.NewDispatcher(reg, proxylb.WithTransport(transport))
//	resp, err := dispatcher.Handle(ctx, req)
//
// Listener setup, TLS termination, and request/response rewriting are
// outside this module; callers hand Handle a ready server-side request
// and relay the response themselves.
package proxylb
