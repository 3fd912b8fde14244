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

// Command optica runs the host router and the remote agents of the eyewear store.
//
// Usage:
//
//	optica agent consultation --config optica.yaml
//	optica agent search
//	optica agent order
//	optica host --watch
//	optica import-catalog products.xlsx
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/optica"
	"github.com/kadirpekel/optica/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version       VersionCmd       `cmd:"" help:"Show version information."`
	Host          HostCmd          `cmd:"" help:"Start the host router."`
	Agent         AgentCmd         `cmd:"" help:"Start a remote agent."`
	ImportCatalog ImportCatalogCmd `cmd:"" name:"import-catalog" help:"Import a product catalog into the order repository."`
	Validate      ValidateCmd      `cmd:"" help:"Validate the configuration."`
	Schema        SchemaCmd        `cmd:"" help:"Print the JSON Schema of the configuration."`

	Config          string   `short:"c" help:"Config file path, or the key holding the document in a remote store (empty = built-in defaults)."`
	ConfigType      string   `name:"config-type" help:"Config source: file, consul, etcd, zookeeper." default:"file" enum:"file,consul,etcd,zookeeper"`
	ConfigEndpoints []string `name:"config-endpoints" help:"Endpoints of the remote config store." sep:","`
	EnvFile   []string `name:"env-file" help:"Dotenv files to load (default: .env.local, .env)." type:"path"`
	LogLevel  string   `help:"Log level (debug, info, warn, error)."`
	LogFile   string   `help:"Log file path (empty = stderr)."`
	LogFormat string   `help:"Log format (simple, verbose, json)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(optica.GetVersion().String())
	return nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			slog.Info("Shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("optica"),
		kong.Description("Optica - multi-agent assistant for an eyewear store"),
		kong.UsageOnError(),
	)

	if err := config.LoadEnvFiles(cli.EnvFile...); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment: %v\n", err)
		os.Exit(1)
	}

	cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
