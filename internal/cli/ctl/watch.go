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

	"github.com/spammer-block/spammer-block/framework/hooks"
	appcli "github.com/spammer-block/spammer-block/internal/cli"
	"github.com/spammer-block/spammer-block/internal/config"
	"github.com/spammer-block/spammer-block/internal/endpoint/openmetrics"
	"github.com/spammer-block/spammer-block/internal/maildir"
	"github.com/spammer-block/spammer-block/internal/reporter"
	"github.com/spammer-block/spammer-block/internal/systemd"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func init() {
	appcli.AddSubcommand(&cli.Command{
		Name:  "watch",
		Usage: "Report messages moved into Maildir spam folders",
		Description: `Watch the new and cur directories of every spam folder under the
Maildir base and report each message put there once. Reports are sent in
batches.
`,
		Flags: append([]cli.Flag{
			&cli.PathFlag{
				Name:  "maildir",
				Usage: "Maildir++ base directory, overrides daemon.maildir_base",
			},
			&cli.StringSliceFlag{
				Name:  "folder",
				Usage: "Spam folder relative to the base, overrides daemon.spam_folders",
			},
		}, reporterFlags...),
		Action: watchCmd,
	})
}

func watchCmd(c *cli.Context) error {
	cfg, err := prepare(c)
	if err != nil {
		return err
	}
	defer hooks.RunHooks(hooks.EventShutdown)
	applyReporterFlags(c, &cfg.Reporter)

	if c.IsSet("maildir") {
		cfg.Daemon.MaildirBase = c.Path("maildir")
	}
	if c.IsSet("folder") {
		cfg.Daemon.SpamFolders = c.StringSlice("folder")
	}
	if cfg.Daemon.MaildirBase == "" {
		return cli.Exit("Error: no Maildir base directory configured", 2)
	}

	ctx, stop := signalContext(c.Context)
	defer stop()

	notifier := systemd.Notifier{Log: logger("systemd")}
	if err := runWatch(ctx, cfg, newReporter(cfg.Reporter), notifier); err != nil {
		notifier.Err(err)
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	return nil
}

func runWatch(ctx context.Context, cfg config.Config, rep reporter.Reporter, notifier systemd.Notifier) error {
	w := &maildir.Watcher{
		Base:       cfg.Daemon.MaildirBase,
		Folders:    cfg.Daemon.SpamFolders,
		Reporter:   rep,
		BatchDelay: durationOr(cfg.Daemon.BatchDelay, maildir.DefaultBatchDelay),
		Log:        logger("maildir"),
	}
	if err := w.Watch(); err != nil {
		return err
	}

	if cfg.Daemon.MetricsListen != "" {
		ep := openmetrics.New(cfg.Daemon.MetricsListen, logger("openmetrics"))
		if err := ep.Start(ctx); err != nil {
			return err
		}
		defer ep.Close()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gctx)
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

	notifier.Notify(systemd.Ready, "watching "+cfg.Daemon.MaildirBase)
	return g.Wait()
}
