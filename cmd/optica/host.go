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
	"errors"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/optica/pkg/config"
	"github.com/kadirpekel/optica/pkg/host"
	"github.com/kadirpekel/optica/pkg/reasoning"
	"github.com/kadirpekel/optica/pkg/session"
	"github.com/kadirpekel/optica/pkg/transport"
)

// HostCmd starts the host router and its chat API.
type HostCmd struct {
	Port          int  `help:"Port to listen on (overrides host.port)."`
	Watch         bool `help:"Reload the remote agent table when the config file changes."`
	RequireAgents bool `help:"Refuse to start unless every configured remote agent is reachable."`
}

func (c *HostCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cli)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	if c.Port != 0 {
		cfg.Host.Port = c.Port
	}
	if err := cfg.ValidateHost(); err != nil {
		return err
	}

	engine, err := reasoning.NewEngineFromConfig(&cfg.Reasoning)
	if err != nil {
		return fmt.Errorf("failed to create reasoning engine: %w", err)
	}

	sessions, err := session.NewStoreFromConfig(cfg, a.pool)
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}
	defer sessions.Close()

	pruner, err := session.NewPruner(sessions, cfg.Host.Session.TTL, cfg.Host.Session.PruneSchedule)
	if err != nil {
		return fmt.Errorf("failed to create session pruner: %w", err)
	}
	pruner.Start()
	defer pruner.Stop(context.Background())

	dir, err := host.NewDirectory(&cfg.Host, a.obs.Tracer())
	if err != nil {
		return fmt.Errorf("failed to create agent directory: %w", err)
	}
	defer dir.Close()

	router, err := host.NewRouter(engine, dir, sessions, host.Options{
		Router:       cfg.Host.Router,
		HistoryLimit: cfg.Host.Session.HistoryLimit,
		Tracer:       a.obs.Tracer(),
	})
	if err != nil {
		return fmt.Errorf("failed to create host router: %w", err)
	}

	if c.Watch {
		watcher := config.NewLoader(a.loader.Provider(), config.WithOnChange(func(next *config.Config) {
			if err := router.Reload(&next.Host); err != nil {
				slog.Error("Failed to apply reloaded agent table", "error", err)
				return
			}
			slog.Info("Remote agents reloaded", "agents", next.Host.RemoteAgentIDs())
		}))
		go func() {
			if err := watcher.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	if err := checkAgents(dir.Status(ctx), c.RequireAgents); err != nil {
		return err
	}

	srv, err := transport.NewServer(cfg.Host.Addr(), host.NewHTTPHandler(router, host.HTTPOptions{
		MaxUploadBytes: cfg.Host.MaxUploadBytes,
		RateLimit:      cfg.Host.RateLimit,
		Observability:  a.obs,
	}))
	if err != nil {
		return err
	}
	fmt.Printf("\nOptica host ready\n")
	fmt.Printf("   Chat:    http://%s/chat\n", srv.Addr())
	fmt.Printf("   Agents:  http://%s/agents/status\n", srv.Addr())
	fmt.Printf("   Health:  http://%s/health\n\n", srv.Addr())
	return srv.Serve(ctx)
}

// checkAgents logs the startup reachability of the remote agents. With
// required set, any unreachable agent is an error.
func checkAgents(statuses []host.AgentStatus, required bool) error {
	var errs []error
	for _, st := range statuses {
		if !st.Reachable {
			slog.Warn("Remote agent unavailable", "agent", st.ID, "url", st.URL, "error", st.Error)
			errs = append(errs, fmt.Errorf("remote agent %s at %s is unreachable: %s", st.ID, st.URL, st.Error))
			continue
		}
		slog.Info("Remote agent discovered", "agent", st.ID, "name", st.Name, "url", st.URL)
	}
	if required && len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
