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

package socketmap

import (
	"context"
	"errors"
	"net"
	"time"
)

// ShutdownController runs a Server until its context is done and then
// shuts it down within Timeout.
type ShutdownController struct {
	Server  *Server
	Timeout time.Duration
}

// Run serves the listeners until ctx is done or one of them fails. The
// returned error is nil for a clean shutdown.
func (c ShutdownController) Run(ctx context.Context, ls ...net.Listener) error {
	if len(ls) == 0 {
		return errors.New("socketmap: no listeners")
	}

	serveErr := make(chan error, len(ls))
	for _, l := range ls {
		l := l
		go func() {
			serveErr <- c.Server.Serve(l)
		}()
	}

	var (
		firstErr  error
		remaining = len(ls)
	)
	select {
	case err := <-serveErr:
		remaining--
		if !errors.Is(err, ErrServerClosed) {
			c.Server.Log.Error("serve failed", err)
			firstErr = err
		}
	case <-ctx.Done():
		c.Server.Log.Printf("stopping, waiting up to %v for connections to finish", c.Timeout)
	}

	shutdownErr := c.Server.Shutdown(c.Timeout)
	for ; remaining > 0; remaining-- {
		if err := <-serveErr; !errors.Is(err, ErrServerClosed) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}
	return shutdownErr
}
