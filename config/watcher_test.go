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

package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxylb/proxylb/config"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func awaitConfig(t *testing.T, configs <-chan *config.Config) *config.Config {
	t.Helper()
	select {
	case cfg := <-configs:
		return cfg
	case <-time.After(5 * time.Second):
		t.Fatal("no config received")
		return nil
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "proxylb.yaml")
	writeConfig(t, path, "backends:\n  - addr: a:1\n")

	configs := make(chan *config.Config, 4)
	watcher, err := config.NewWatcher(path, func(cfg *config.Config) {
		configs <- cfg
	}, config.WithDebounceDelay(10*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = watcher.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, watcher.Start(ctx))

	// the initial load fires the callback synchronously
	initial := awaitConfig(t, configs)
	require.Len(t, initial.Backends, 1)
	assert.Equal(t, "a:1", initial.Backends[0].Addr)

	writeConfig(t, path, "backends:\n  - addr: a:1\n  - addr: b:1\n")
	reloaded := awaitConfig(t, configs)
	require.Len(t, reloaded.Backends, 2)
	assert.Equal(t, reloaded, watcher.Latest())
}

func TestWatcherKeepsLastGoodConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "proxylb.yaml")
	writeConfig(t, path, "backends:\n  - addr: a:1\n")

	configs := make(chan *config.Config, 4)
	errs := make(chan error, 4)
	watcher, err := config.NewWatcher(path,
		func(cfg *config.Config) { configs <- cfg },
		config.WithDebounceDelay(10*time.Millisecond),
		config.WithOnError(func(err error) { errs <- err }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = watcher.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, watcher.Start(ctx))
	good := awaitConfig(t, configs)

	// an invalid rewrite must not replace the last good config
	writeConfig(t, path, "backends: []\n")
	select {
	case err := <-errs:
		assert.ErrorContains(t, err, "at least one backend")
	case <-time.After(5 * time.Second):
		t.Fatal("no reload error reported")
	}
	assert.Equal(t, good, watcher.Latest())
}

func TestWatcherStartFailsOnBadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "proxylb.yaml")
	writeConfig(t, path, "backends: []\n")

	watcher, err := config.NewWatcher(path, nil)
	require.NoError(t, err)
	err = watcher.Start(context.Background())
	require.Error(t, err)
	assert.Nil(t, watcher.Latest())
}
