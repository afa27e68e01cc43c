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

// Package config loads the proxy's YAML configuration: the backend roster
// with weights and tags, health-check tuning, and dispatch tuning. It
// supports ${VAR} and ${VAR:-default} environment substitution and can
// watch the file for changes, so a reload reaches the health checker
// without a restart.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/proxylb/proxylb/attribute"
	"github.com/proxylb/proxylb/backend"
	"github.com/proxylb/proxylb/health"
)

// Config is the root of the proxy configuration file.
type Config struct {
	Backends    []Backend   `yaml:"backends"`
	HealthCheck HealthCheck `yaml:"healthCheck"`
	Dispatch    Dispatch    `yaml:"dispatch"`
}

// Backend configures a single upstream backend.
type Backend struct {
	// Addr is the backend address in "host:port" form.
	Addr string `yaml:"addr"`
	// Weight is the backend's share of traffic relative to its peers.
	// Omitted or zero means 1.
	Weight float64 `yaml:"weight"`
	// Tags are free-form capability tags, surfaced to selectors and
	// observers via the descriptor's attributes.
	Tags []string `yaml:"tags"`
}

// HealthCheck tunes the background health checker. Zero fields fall back
// to the health package defaults.
type HealthCheck struct {
	Path                     string   `yaml:"path"`
	Interval                 Duration `yaml:"interval"`
	ProbeTimeout             Duration `yaml:"probeTimeout"`
	PromoteThreshold         int      `yaml:"promoteThreshold"`
	DemoteThreshold          int      `yaml:"demoteThreshold"`
	DegradedLatencyThreshold Duration `yaml:"degradedLatencyThreshold"`
	DegradedWeightFactor     float64  `yaml:"degradedWeightFactor"`
}

// Dispatch tunes the request dispatcher.
type Dispatch struct {
	MaxAttempts    int      `yaml:"maxAttempts"`
	AttemptTimeout Duration `yaml:"attemptTimeout"`
}

// Validate checks the configuration for values that cannot be papered
// over with defaults: empty or duplicate addresses, negative weights, and
// a degraded weight factor outside [0,1).
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("config: at least one backend is required")
	}
	seen := make(map[string]struct{}, len(c.Backends))
	for i, b := range c.Backends {
		if b.Addr == "" {
			return fmt.Errorf("config: backend %d has no addr", i)
		}
		if _, ok := seen[b.Addr]; ok {
			return fmt.Errorf("config: duplicate backend addr %q", b.Addr)
		}
		seen[b.Addr] = struct{}{}
		if b.Weight < 0 {
			return fmt.Errorf("config: backend %q has negative weight %v", b.Addr, b.Weight)
		}
	}
	if f := c.HealthCheck.DegradedWeightFactor; f < 0 || f >= 1 {
		return fmt.Errorf("config: degradedWeightFactor %v is not in [0,1)", f)
	}
	if c.Dispatch.MaxAttempts < 0 {
		return fmt.Errorf("config: maxAttempts %d is negative", c.Dispatch.MaxAttempts)
	}
	return nil
}

// Descriptors converts the configured backends into descriptors, applying
// the default weight of 1 to backends that omit one.
func (c *Config) Descriptors() []backend.Descriptor {
	descriptors := make([]backend.Descriptor, len(c.Backends))
	for i, b := range c.Backends {
		weight := b.Weight
		if weight == 0 {
			weight = 1
		}
		var attrs attribute.Values
		if len(b.Tags) > 0 {
			attrs = attribute.NewValues(backend.CapabilityTags.Value(b.Tags))
		}
		descriptors[i] = backend.Descriptor{
			Addr:       b.Addr,
			Weight:     weight,
			Attributes: attrs,
		}
	}
	return descriptors
}

// CheckerConfig converts the health-check section into the checker's
// config type. Zero fields keep the checker's own defaults.
func (c *Config) CheckerConfig() health.CheckerConfig {
	return health.CheckerConfig{
		Interval:                 c.HealthCheck.Interval.Duration(),
		ProbeTimeout:             c.HealthCheck.ProbeTimeout.Duration(),
		PromoteThreshold:         c.HealthCheck.PromoteThreshold,
		DemoteThreshold:          c.HealthCheck.DemoteThreshold,
		DegradedLatencyThreshold: c.HealthCheck.DegradedLatencyThreshold.Duration(),
		DegradedWeightFactor:     c.HealthCheck.DegradedWeightFactor,
	}
}

// Duration wraps time.Duration so configuration files can use
// human-readable strings like "30s" or "1h30m". An empty string
// unmarshals to zero.
type Duration time.Duration

var _ yaml.Unmarshaler = (*Duration)(nil)

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
