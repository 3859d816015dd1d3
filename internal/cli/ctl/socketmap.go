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

package ctl

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	fwconfig "github.com/spammer-block/spammer-block/framework/config"
	"github.com/spammer-block/spammer-block/framework/hooks"
	"github.com/spammer-block/spammer-block/framework/module"
	"github.com/spammer-block/spammer-block/framework/resource/netresource"
	appcli "github.com/spammer-block/spammer-block/internal/cli"
	"github.com/spammer-block/spammer-block/internal/config"
	"github.com/spammer-block/spammer-block/internal/endpoint/openmetrics"
	"github.com/spammer-block/spammer-block/internal/lookup"
	"github.com/spammer-block/spammer-block/internal/socketmap"
	"github.com/spammer-block/spammer-block/internal/systemd"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	_ "github.com/spammer-block/spammer-block/internal/table"
)

func init() {
	appcli.AddSubcommand(&cli.Command{
		Name:  "socketmap",
		Usage: "Answer Postfix socketmap lookups",
		Description: `Listen on the configured endpoints and answer socketmap requests
from the [[socketmap.map]] tables. Each map name is the socketmap name
Postfix uses in socketmap:unix:/path:name.

SIGUSR2 reloads all tables, SIGUSR1 reopens the log file.
`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "listen",
				Aliases: []string{"l"},
				Usage:   "Endpoint to listen on (tcp://host:port, unix://path, fd://N, fdname://name), overrides socketmap.listen",
			},
		},
		Action: socketmapCmd,
	})
}

func socketmapCmd(c *cli.Context) error {
	cfg, err := prepare(c)
	if err != nil {
		return err
	}
	defer hooks.RunHooks(hooks.EventShutdown)

	if c.IsSet("listen") {
		cfg.Socketmap.Listen = c.StringSlice("listen")
		if err := cfg.Validate(); err != nil {
			return cli.Exit(fmt.Sprintf("Error: %v", err), 2)
		}
	}

	ctx, stop := signalContext(c.Context)
	defer stop()

	notifier := systemd.Notifier{Log: logger("systemd")}
	if err := runSocketmap(ctx, cfg, notifier); err != nil {
		notifier.Err(err)
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	return nil
}

// runSocketmap serves socketmap requests until ctx is cancelled.
func runSocketmap(ctx context.Context, cfg config.Config, notifier systemd.Notifier) error {
	reg := module.NewRegistry(logger("table"))
	if err := reg.Configure(cfg.Socketmap.Maps); err != nil {
		return err
	}
	defer reg.Close()
	if err := reg.Start(); err != nil {
		return err
	}
	defer hooks.AddHook(hooks.EventReload, func() {
		notifier.Notify(systemd.Reloading, "reloading tables")
		reg.Reload()
		notifier.Notify(systemd.Ready, "tables reloaded")
	})()

	srv := socketmap.NewServer(lookup.Tables{Source: reg, Log: logger("lookup")}, logger("socketmap"))
	srv.RequestLimit = cfg.Socketmap.RequestLimit
	srv.QueueSize = cfg.Socketmap.QueueSize
	srv.ReadChunk = cfg.Socketmap.ReadChunk

	ls, err := listenAll(ctx, cfg.Socketmap, srv)
	if err != nil {
		return err
	}

	if cfg.Daemon.MetricsListen != "" {
		ep := openmetrics.New(cfg.Daemon.MetricsListen, logger("openmetrics"))
		if err := ep.Start(ctx); err != nil {
			closeAll(ls)
			return err
		}
		defer ep.Close()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return socketmap.ShutdownController{
			Server:  srv,
			Timeout: durationOr(cfg.Socketmap.ShutdownTimeout, config.DefaultShutdownTime),
		}.Run(gctx, ls...)
	})
	g.Go(func() error {
		notifier.RunWatchdog(gctx, systemd.WatchdogInterval(durationOr(cfg.Daemon.WatchdogTime, config.DefaultWatchdogTime)))
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		notifier.Notify(systemd.Stopping, "shutting down")
		return nil
	})

	addrs := make([]string, 0, len(ls))
	for _, l := range ls {
		addrs = append(addrs, l.Addr().String())
	}
	srv.Log.Msg("listening", "addrs", strings.Join(addrs, " "), "maps", strings.Join(reg.Names(), " "))
	notifier.Notify(systemd.Ready, "listening on "+strings.Join(addrs, " "))

	return g.Wait()
}

func listenAll(ctx context.Context, cfg config.Socketmap, srv *socketmap.Server) ([]net.Listener, error) {
	ls := make([]net.Listener, 0, len(cfg.Listen))
	for _, addr := range cfg.Listen {
		endp, err := fwconfig.ParseEndpoint(addr)
		if err != nil {
			closeAll(ls)
			return nil, err
		}
		l, err := netresource.Listen(ctx, endp, netresource.ListenOptions{
			SocketMode: os.FileMode(cfg.SocketMode),
			ReusePort:  cfg.ReusePort,
			Log:        srv.Log,
		})
		if err != nil {
			closeAll(ls)
			return nil, fmt.Errorf("cannot bind %s: %w", addr, err)
		}
		ls = append(ls, l)
	}
	return ls, nil
}

func closeAll(ls []net.Listener) {
	for _, l := range ls {
		l.Close()
	}
}
