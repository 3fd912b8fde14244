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
	"fmt"
	"os"

	"github.com/kadirpekel/optica/pkg/config"
	"github.com/kadirpekel/optica/pkg/logger"
)

const (
	LogFileEnvVar   = "LOG_FILE"
	LogLevelEnvVar  = "LOG_LEVEL"
	LogFormatEnvVar = "LOG_FORMAT"
)

// initLoggerFromCLI installs the default logger. Priority: CLI flags > env vars >
// defaults. The returned cleanup closes the log file, if any.
func initLoggerFromCLI(cliLogLevel, cliLogFile, cliLogFormat string) (func(), error) {
	return initLogger(config.LoggerConfig{
		Level:  firstNonEmpty(cliLogLevel, os.Getenv(LogLevelEnvVar), "info"),
		File:   firstNonEmpty(cliLogFile, os.Getenv(LogFileEnvVar)),
		Format: firstNonEmpty(cliLogFormat, os.Getenv(LogFormatEnvVar), logger.FormatSimple),
	})
}

// applyConfigLogger re-initializes the logger from the config file for the
// settings neither a flag nor the environment chose.
func applyConfigLogger(cli *CLI, cfg *config.LoggerConfig) (func(), error) {
	if cfg == nil {
		return nil, nil
	}
	if cli.LogLevel != "" && cli.LogFile != "" && cli.LogFormat != "" {
		return nil, nil
	}
	return initLogger(config.LoggerConfig{
		Level:  firstNonEmpty(cli.LogLevel, os.Getenv(LogLevelEnvVar), cfg.Level, "info"),
		File:   firstNonEmpty(cli.LogFile, os.Getenv(LogFileEnvVar), cfg.File),
		Format: firstNonEmpty(cli.LogFormat, os.Getenv(LogFormatEnvVar), cfg.Format, logger.FormatSimple),
	})
}

func initLogger(cfg config.LoggerConfig) (func(), error) {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	output := os.Stderr
	var cleanup func()
	if cfg.File != "" {
		file, closeFn, err := logger.OpenLogFile(cfg.File)
		if err != nil {
			return nil, err
		}
		output = file
		cleanup = closeFn
	}

	logger.Init(level, output, cfg.Format)
	return cleanup, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
