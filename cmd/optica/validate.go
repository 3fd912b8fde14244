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
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/optica/pkg/config"
)

// ValidateCmd validates the configuration, optionally for one process role.
type ValidateCmd struct {
	Role        string `help:"Also check what this process needs: host, consultation, search, order."`
	Format      string `short:"f" help:"Output format: compact, json." default:"compact" enum:"compact,json"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the expanded configuration (defaults applied, env vars resolved)."`
}

// ValidationResult is the json output of validate.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	File   string   `json:"file"`
	Errors []string `json:"errors,omitempty"`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	ctx := context.Background()
	file := cli.Config
	if file == "" {
		file = "<built-in>"
	}

	cfg, loader, err := loadConfig(ctx, cli)
	if err == nil {
		defer loader.Close()
		switch c.Role {
		case "":
		case "host":
			err = cfg.ValidateHost()
		default:
			err = cfg.ValidateAgent(c.Role)
		}
	}
	if err != nil {
		c.report(file, err)
		return fmt.Errorf("configuration is invalid")
	}

	if c.PrintConfig {
		return c.print(cfg)
	}
	c.report(file, nil)
	return nil
}

func (c *ValidateCmd) report(file string, err error) {
	if c.Format == "json" {
		res := ValidationResult{Valid: err == nil, File: file}
		if err != nil {
			res.Errors = splitErrors(err)
		}
		out, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(out))
		return
	}
	if err == nil {
		fmt.Printf("%s: valid\n", file)
		return
	}
	for _, msg := range splitErrors(err) {
		fmt.Fprintf(os.Stderr, "%s: %s\n", file, msg)
	}
}

func (c *ValidateCmd) print(cfg *config.Config) error {
	if c.Format == "json" {
		out, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

// splitErrors flattens errors.Join trees into one message per leaf.
func splitErrors(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, splitErrors(e)...)
		}
		return out
	}
	return []string{err.Error()}
}
