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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"

	resultSuccess     = "success"
	resultNoBackend   = "no_available_backend"
	resultUnavailable = "upstream_unavailable"
	resultTimeout     = "timeout"
)

type dispatcherMetrics struct {
	attempts *prometheus.CounterVec
	requests *prometheus.CounterVec
}

//nolint:gochecknoglobals
var (
	metricsOnce     sync.Once
	metricsInstance *dispatcherMetrics
)

// getMetrics lazily registers the dispatcher's metrics on the default
// Prometheus registerer. Registration happens once per process.
func getMetrics() *dispatcherMetrics {
	metricsOnce.Do(func() {
		metricsInstance = &dispatcherMetrics{
			attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "proxylb_attempts_total",
				Help: "Forward attempts, by outcome.",
			}, []string{"outcome"}),
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "proxylb_requests_total",
				Help: "Dispatched requests, by final result.",
			}, []string{"result"}),
		}
		prometheus.MustRegister(metricsInstance.attempts, metricsInstance.requests)
	})
	return metricsInstance
}
