/*
Maddy Mail Server - Composable all-in-one email server.
Copyright © 2019-2020 Max Mazurov <fox.cpp@disroot.org>, Maddy Mail Server contributors

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

// Package openmetrics serves the process metrics over HTTP.
package openmetrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spammer-block/spammer-block/framework/config"
	"github.com/spammer-block/spammer-block/framework/log"
	"github.com/spammer-block/spammer-block/framework/resource/netresource"
	"go.uber.org/zap"
)

const modName = "openmetrics"

type Endpoint struct {
	addr   string
	logger log.Logger

	listenersWg sync.WaitGroup
	serv        http.Server
	l           net.Listener
}

// New creates an endpoint for addr (tcp://host:port or unix:///path).
func New(addr string, logger log.Logger) *Endpoint {
	logger.Name = modName
	return &Endpoint{
		addr:   addr,
		logger: logger,
	}
}

// Start binds the listener and serves /metrics in the background.
func (e *Endpoint) Start(ctx context.Context) error {
	endp, err := config.ParseEndpoint(e.addr)
	if err != nil {
		return fmt.Errorf("%s: malformed endpoint: %v", modName, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	e.serv.Handler = mux
	e.serv.ReadHeaderTimeout = 10 * time.Second
	e.serv.ErrorLog = zap.NewStdLog(e.logger.Zap())

	l, err := netresource.Listen(ctx, endp, netresource.ListenOptions{Log: e.logger})
	if err != nil {
		return fmt.Errorf("%s: %v", modName, err)
	}
	e.l = l

	e.listenersWg.Add(1)
	go func() {
		defer e.listenersWg.Done()
		e.logger.Println("listening on", endp.String())
		err := e.serv.Serve(l)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("serve failed", err, "endpoint", e.addr)
		}
	}()

	return nil
}

// Addr returns the bound address. Valid after Start.
func (e *Endpoint) Addr() net.Addr {
	return e.l.Addr()
}

func (e *Endpoint) Close() error {
	if err := e.serv.Close(); err != nil {
		return err
	}
	e.listenersWg.Wait()
	return nil
}
