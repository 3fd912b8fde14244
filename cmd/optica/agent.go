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

	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/agents/catalog"
	"github.com/kadirpekel/optica/pkg/agents/consultation"
	"github.com/kadirpekel/optica/pkg/agents/order"
	"github.com/kadirpekel/optica/pkg/agents/search"
	"github.com/kadirpekel/optica/pkg/config"
	"github.com/kadirpekel/optica/pkg/push"
	"github.com/kadirpekel/optica/pkg/reasoning"
	"github.com/kadirpekel/optica/pkg/server"
	"github.com/kadirpekel/optica/pkg/task"
	"github.com/kadirpekel/optica/pkg/transport"
	"github.com/kadirpekel/optica/pkg/vector"
)

// AgentCmd groups the remote agent servers.
type AgentCmd struct {
	Consultation ConsultationCmd `cmd:"" help:"Start the Consultation Agent."`
	Search       SearchCmd       `cmd:"" help:"Start the Search Agent."`
	Order        OrderCmd        `cmd:"" help:"Start the Order Agent."`
}

// AgentFlags are shared by every agent command.
type AgentFlags struct {
	Port int `help:"Port to listen on (overrides agents.<name>.listen.port)."`
}

type ConsultationCmd struct {
	AgentFlags
}

func (c *ConsultationCmd) Run(cli *CLI) error {
	return runAgent(cli, config.AgentConsultation, c.Port, func(ctx context.Context, a *app) (*a2a.AgentCard, server.AgentExecutor, error) {
		cfg := a.cfg
		ix, err := openIndex(a, cfg.Agents.Consultation.Collection)
		if err != nil {
			return nil, nil, err
		}
		passages, err := consultation.LoadCorpus(ctx, cfg.Agents.Consultation.CorpusDir, cfg.Agents.Consultation.ChunkSize)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load knowledge corpus: %w", err)
		}
		if err := consultation.IndexPassages(ctx, ix, passages); err != nil {
			return nil, nil, fmt.Errorf("failed to index knowledge corpus: %w", err)
		}
		slog.Info("Knowledge corpus indexed", "dir", cfg.Agents.Consultation.CorpusDir, "passages", len(passages))

		opts := consultation.Options{TopK: cfg.Agents.Consultation.TopK}
		if cfg.Agents.Consultation.UseReasoning {
			engine, err := reasoning.NewEngineFromConfig(&cfg.Reasoning)
			if err != nil {
				slog.Warn("Answers stay extractive", "reason", err)
			} else {
				opts.Engine = engine
			}
		}
		exec, err := consultation.New(ix, opts)
		if err != nil {
			return nil, nil, err
		}
		return consultation.Card(cfg.Agents.Consultation.Listen.PublicURL), exec, nil
	})
}

type SearchCmd struct {
	AgentFlags
}

func (c *SearchCmd) Run(cli *CLI) error {
	return runAgent(cli, config.AgentSearch, c.Port, func(ctx context.Context, a *app) (*a2a.AgentCard, server.AgentExecutor, error) {
		cfg := a.cfg
		products, err := catalog.Load(cfg.Agents.Search.CatalogPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load catalog: %w", err)
		}
		ix, err := openIndex(a, cfg.Agents.Search.Collection)
		if err != nil {
			return nil, nil, err
		}

		opts := search.Options{
			TopK:        cfg.Agents.Search.TopK,
			TextWeight:  cfg.Agents.Search.TextWeight,
			ImageWeight: cfg.Agents.Search.ImageWeight,
		}
		if cfg.Reasoning.Enabled() {
			client, err := reasoning.NewGeminiClient(cfg.Reasoning.APIKey)
			if err != nil {
				return nil, nil, err
			}
			describer, err := search.NewGeminiDescriber(client, cfg.Reasoning.VisionModel)
			if err != nil {
				return nil, nil, err
			}
			opts.Describer = describer
		} else {
			slog.Warn("Image search disabled: no reasoning credentials")
		}

		exec, err := search.New(ctx, products, ix, opts)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Product catalog indexed", "path", cfg.Agents.Search.CatalogPath, "products", len(products))
		return search.Card(cfg.Agents.Search.Listen.PublicURL), exec, nil
	})
}

type OrderCmd struct {
	AgentFlags
}

func (c *OrderCmd) Run(cli *CLI) error {
	return runAgent(cli, config.AgentOrder, c.Port, func(ctx context.Context, a *app) (*a2a.AgentCard, server.AgentExecutor, error) {
		cfg := a.cfg
		repo, err := order.NewRepositoryFromConfig(cfg, a.pool)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create order repository: %w", err)
		}
		a.onClose(func() { _ = repo.Close() })

		if path := cfg.Agents.Order.SeedCatalog; path != "" {
			n, err := order.Seed(ctx, repo, path)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to seed catalog: %w", err)
			}
			if n > 0 {
				slog.Info("Order repository seeded", "path", path, "products", n)
			}
		}

		exec, err := order.New(repo)
		if err != nil {
			return nil, nil, err
		}
		return order.Card(cfg.Agents.Order.Listen.PublicURL), exec, nil
	})
}

type buildFunc func(ctx context.Context, a *app) (*a2a.AgentCard, server.AgentExecutor, error)

// runAgent wires one agent server: task store, push notifications, the A2A
// handler and its HTTP binding.
func runAgent(cli *CLI, name string, port int, build buildFunc) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cli)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	listen, err := cfg.Agents.Listen(name)
	if err != nil {
		return err
	}
	if port != 0 && port != listen.Port {
		if listen.PublicURL == fmt.Sprintf("http://localhost:%d", listen.Port) {
			listen.PublicURL = fmt.Sprintf("http://localhost:%d", port)
		}
		listen.Port = port
	}
	if err := cfg.ValidateAgent(name); err != nil {
		return err
	}

	card, exec, err := build(ctx, a)
	if err != nil {
		return err
	}

	tasks, err := task.NewStoreFromConfig(cfg, a.pool)
	if err != nil {
		return fmt.Errorf("failed to create task store: %w", err)
	}
	defer tasks.Close()

	opts := append(server.OptionsFromConfig(cfg.Server),
		server.WithTaskStore(tasks),
		server.WithTracer(a.obs.Tracer()),
	)
	var notifier *push.Notifier
	if cfg.Server.Push.Enabled {
		pushStore, err := push.NewConfigStoreFromConfig(cfg, a.pool)
		if err != nil {
			return fmt.Errorf("failed to create push config store: %w", err)
		}
		notifier = push.NewNotifierFromConfig(cfg.Server.Push, pushStore)
		opts = append(opts, server.WithNotifier(notifier))
	}
	card.Capabilities.PushNotifications = notifier != nil

	h, err := server.NewHandler(card, exec, opts...)
	if err != nil {
		return err
	}

	srv, err := transport.NewServer(listen.Addr(), transport.NewRouter(h, transport.WithObservability(a.obs)))
	if err != nil {
		return err
	}
	srv.OnShutdown = func(ctx context.Context) error {
		err := h.Shutdown(ctx)
		if notifier != nil {
			if nerr := notifier.Close(ctx); nerr != nil && err == nil {
				err = nerr
			}
		}
		return err
	}

	slog.Info("Agent ready", "agent", card.Name, "url", card.URL, "address", srv.Addr())
	return srv.Serve(ctx)
}

// openIndex opens a collection of the configured vector provider.
func openIndex(a *app, collection string) (*vector.Index, error) {
	provider, err := vector.NewProviderFromConfig(&a.cfg.Vector)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector provider: %w", err)
	}
	a.onClose(func() { _ = provider.Close() })

	embedder, err := vector.NewEmbedderFromConfig(&a.cfg.Vector, &a.cfg.Reasoning)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return vector.NewIndex(provider, embedder, collection)
}
