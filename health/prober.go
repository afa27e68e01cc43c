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
	"net/http"
	"time"

	"github.com/proxylb/proxylb/backend"
)

// Result is the outcome of a single probe: whether the backend answered
// successfully, how long it took, and the transport error if it did not
// answer at all.
type Result struct {
	Healthy bool
	Latency time.Duration
	Err     error
}

// A Prober performs single-shot liveness probes against a backend.
type Prober interface {
	Probe(ctx context.Context, target backend.Descriptor) Result
}

// Transport issues probe requests to a backend address. It is
// structurally identical to the dispatcher's outbound transport, so the
// same implementation can serve both; a dedicated lightweight transport
// works as well.
type Transport interface {
	Send(ctx context.Context, addr string, req *http.Request) (*http.Response, error)
}

type proberFunc func(ctx context.Context, target backend.Descriptor) Result

func (f proberFunc) Probe(ctx context.Context, target backend.Descriptor) Result {
	return f(ctx, target)
}

// NewHTTPProber creates a prober that performs an HTTP GET request to the
// provided path on the target backend. A response with a status code from
// 200-299 counts as a successful probe; any other status, or a transport
// error, counts as a failure.
func NewHTTPProber(transport Transport, path string) Prober {
	if path == "" {
		path = "/"
	}
	return proberFunc(func(ctx context.Context, target backend.Descriptor) Result {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+target.Addr+path, http.NoBody)
		if err != nil {
			return Result{Err: err}
		}
		start := time.Now()
		resp, err := transport.Send(ctx, target.Addr, req)
		latency := time.Since(start)
		if err != nil {
			return Result{Latency: latency, Err: err}
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return Result{Latency: latency}
		}
		return Result{Healthy: true, Latency: latency}
	})
}
