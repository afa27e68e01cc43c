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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

type checkerMetrics struct {
	probes      *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

//nolint:gochecknoglobals
var (
	metricsOnce     sync.Once
	metricsInstance *checkerMetrics
)

// getMetrics lazily registers the checker's metrics on the default
// Prometheus registerer. Registration happens once per process.
func getMetrics() *checkerMetrics {
	metricsOnce.Do(func() {
		metricsInstance = &checkerMetrics{
			probes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "proxylb_health_probes_total",
				Help: "Health probes issued, by outcome.",
			}, []string{"outcome"}),
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "proxylb_health_transitions_total",
				Help: "Committed backend status transitions.",
			}, []string{"from", "to"}),
		}
		prometheus.MustRegister(metricsInstance.probes, metricsInstance.transitions)
	})
	return metricsInstance
}
