/*
spammer-block - Postfix socketmap responder and spam reporting tools.
Copyright © 2024 spammer-block contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package ctl implements the spammer-block subcommands.
package ctl

import (
	"fmt"
	"os"
	"time"

	fwconfig "github.com/spammer-block/spammer-block/framework/config"
	"github.com/spammer-block/spammer-block/framework/hooks"
	"github.com/spammer-block/spammer-block/framework/log"
	appcli "github.com/spammer-block/spammer-block/internal/cli"
	"github.com/spammer-block/spammer-block/internal/config"
	"github.com/urfave/cli/v2"
)

func init() {
	appcli.AddGlobalFlag(&cli.PathFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Configuration file to use",
		EnvVars: []string{"SPAMMER_BLOCK_CONFIG"},
		Value:   config.DefaultPath,
	})
	appcli.AddGlobalFlag(&cli.StringFlag{
		Name:    "log-level",
		Usage:   "Override the configured log level (DEBUG, INFO, WARNING, ERROR, CRITICAL)",
		EnvVars: []string{"SPAMMER_BLOCK_LOG_LEVEL"},
	})
	appcli.AddGlobalFlag(&cli.BoolFlag{
		Name:  "debug",
		Usage: "Enable debug logging early",
	})
	appcli.AddGlobalFlag(&cli.PathFlag{
		Name:        "runtime-dir",
		Usage:       "Directory relative unix socket paths are resolved against",
		EnvVars:     []string{"RUNTIME_DIRECTORY"},
		Value:       fwconfig.RuntimeDirectory,
		Destination: &fwconfig.RuntimeDirectory,
	})
	appcli.SetBefore(func(c *cli.Context) error {
		if c.Bool("debug") {
			log.DefaultLogger.Debug = true
		}
		return nil
	})
}

// loadConfig reads the configuration file. The default path may be absent,
// an explicitly given one may not.
func loadConfig(c *cli.Context) (config.Config, error) {
	path := c.Path("config")
	optional := !c.IsSet("config")
	cfg, err := config.Load(path, optional)
	if err != nil {
		return config.Config{}, cli.Exit(fmt.Sprintf("Error: %s: %v", path, err), 2)
	}
	return cfg, nil
}

// setupLogging points log.DefaultLogger at the configured outputs. A log
// file is reopened on SIGUSR1.
func setupLogging(c *cli.Context, cfg config.Config) error {
	level := cfg.Daemon.LogLevel
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	debug, err := log.ParseLevel(level)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 2)
	}
	log.DefaultLogger.Debug = debug || c.Bool("debug")

	// journald adds its own timestamps.
	_, journal := os.LookupEnv("JOURNAL_STREAM")
	outs := []log.Output{log.WriterOutput(os.Stderr, !journal)}

	if cfg.Daemon.LogFile != "" {
		fo, err := log.NewFileOutput(cfg.Daemon.LogFile)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Error: log file: %v", err), 2)
		}
		hooks.AddHook(hooks.EventLogRotate, func() {
			if err := fo.Reopen(); err != nil {
				log.DefaultLogger.Error("failed to reopen log file", err, "path", cfg.Daemon.LogFile)
			}
		})
		outs = append(outs, fo)
	}
	if cfg.Daemon.Syslog {
		so, err := log.SyslogOutput("spammer-block")
		if err != nil {
			return cli.Exit(fmt.Sprintf("Error: syslog: %v", err), 2)
		}
		outs = append(outs, so)
	}

	if len(outs) == 1 {
		log.DefaultLogger.Out = outs[0]
	} else {
		log.DefaultLogger.Out = log.MultiOutput(outs...)
	}
	hooks.AddHook(hooks.EventShutdown, func() {
		log.DefaultLogger.Out.Close()
	})
	return nil
}

// prepare loads the configuration and sets up logging, the common start of
// every subcommand.
func prepare(c *cli.Context) (config.Config, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return config.Config{}, err
	}
	if err := setupLogging(c, cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func logger(name string) log.Logger {
	l := log.DefaultLogger
	l.Name = name
	return l
}

func durationOr(d fwconfig.Duration, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return time.Duration(d)
}
