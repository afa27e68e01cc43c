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

// Package backend defines the value types shared by every other package:
// the immutable [Descriptor] of an upstream backend, its committed health
// [Status], the [Weighted] pairing of the two, and the immutable [Set]
// that the registry publishes and selectors sample from.
//
// A [Set] carries a precomputed cumulative weight table so that a
// weighted-random draw resolves in O(log n) via binary search. Sets are
// never mutated after construction; the health checker and configuration
// reloads build replacement sets and publish them atomically.
package backend
