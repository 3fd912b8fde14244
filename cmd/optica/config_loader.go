// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/optica/pkg/config"
	"github.com/kadirpekel/optica/pkg/config/provider"
	"github.com/kadirpekel/optica/pkg/observability"
)

// loadConfig loads the document named by --config from the --config-type source,
// or the built-in document when none is given.
func loadConfig(ctx context.Context, cli *CLI) (*config.Config, *config.Loader, error) {
	if cli.Config == "" {
		slog.Debug("No config given, using built-in defaults")
		return config.LoadDefault(ctx)
	}
	typ, err := provider.ParseType(cli.ConfigType)
	if err != nil {
		return nil, nil, err
	}
	return config.LoadConfig(ctx, provider.ProviderConfig{
		Type:      typ,
		Path:      cli.Config,
		Endpoints: cli.ConfigEndpoints,
	})
}

// app holds the state shared by the long-running commands.
type app struct {
	cfg     *config.Config
	loader  *config.Loader
	pool    *config.DBPool
	obs     *observability.Manager
	cleanup []func()
}

func newApp(ctx context.Context, cli *CLI) (*app, error) {
	cfg, loader, err := loadConfig(ctx, cli)
	if err != nil {
		return nil, err
	}
	rt := &app{cfg: cfg, loader: loader, pool: config.NewDBPool()}
	rt.onClose(func() { _ = loader.Close() })
	rt.onClose(func() { _ = rt.pool.Close() })

	logCleanup, err := applyConfigLogger(cli, &cfg.Logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if logCleanup != nil {
		rt.onClose(logCleanup)
	}

	rt.obs = observability.NewManager(cfg.Observability)
	if err := rt.obs.Initialize(ctx); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}
	rt.onClose(func() {
		if err := rt.obs.Shutdown(context.Background()); err != nil {
			slog.Warn("Observability shutdown failed", "error", err)
		}
	})
	return rt, nil
}

func (rt *app) onClose(fn func()) {
	rt.cleanup = append(rt.cleanup, fn)
}

// Close runs the cleanups in reverse order.
func (rt *app) Close() {
	for i := len(rt.cleanup) - 1; i >= 0; i-- {
		rt.cleanup[i]()
	}
	rt.cleanup = nil
}
