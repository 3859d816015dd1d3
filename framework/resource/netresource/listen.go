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

// Package netresource opens listening sockets described by config.Endpoint
// values.
package netresource

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spammer-block/spammer-block/framework/config"
	"github.com/spammer-block/spammer-block/framework/log"
)

type ListenOptions struct {
	// SocketMode is applied to the unix socket file after it is created.
	// Zero leaves the mode set by the umask.
	SocketMode os.FileMode

	// ReusePort requests SO_REUSEADDR and SO_REUSEPORT on TCP listeners
	// where the platform supports them.
	ReusePort bool

	Log log.Logger
}

// Listen binds the endpoint. For unix sockets a stale socket file left by a
// previous instance is removed first; any other kind of file at the path is
// an error.
func Listen(ctx context.Context, endp config.Endpoint, opts ListenOptions) (net.Listener, error) {
	switch endp.Network() {
	case "fd":
		fd, err := strconv.ParseUint(endp.Address(), 10, strconv.IntSize)
		if err != nil {
			return nil, fmt.Errorf("invalid FD number: %v", endp.Address())
		}
		return ListenFD(uint(fd))
	case "fdname":
		return ListenFDName(endp.Address())
	case "unix":
		return listenUnix(ctx, endp.Address(), opts)
	case "tcp":
		return listenTCP(ctx, endp.Address(), opts)
	default:
		return nil, fmt.Errorf("unsupported network: %v", endp.Network())
	}
}

func listenTCP(ctx context.Context, addr string, opts ListenOptions) (net.Listener, error) {
	lc := net.ListenConfig{}
	if opts.ReusePort {
		if reusePortControl != nil {
			lc.Control = reusePortControl
		} else {
			opts.Log.Msg("port reuse requested but not supported on this platform, ignoring", "address", addr)
		}
	}

	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	opts.Log.DebugMsg("new listener", "network", "tcp", "address", l.Addr(), "reuse_port", opts.ReusePort)
	return l, nil
}

func listenUnix(ctx context.Context, path string, opts ListenOptions) (net.Listener, error) {
	if err := removeStaleSocket(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	lc := net.ListenConfig{}
	l, err := lc.Listen(ctx, "unix", path)
	if err != nil {
		return nil, err
	}

	if opts.SocketMode != 0 {
		if err := os.Chmod(path, opts.SocketMode); err != nil {
			l.Close()
			return nil, fmt.Errorf("chmod %s: %w", path, err)
		}
	}
	opts.Log.DebugMsg("new listener", "network", "unix", "address", path, "mode", fmt.Sprintf("%04o", uint32(opts.SocketMode)))
	return l, nil
}

func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	return os.Remove(path)
}
