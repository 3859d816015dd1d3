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

package config

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
)

// Endpoint represents a listen or connect address. It contains the original
// input value and its component parts. The original value should never be
// changed.
//
// Supported schemes:
//
//	tcp://host:port
//	unix:///absolute/path, unix://relative/path (relative to RuntimeDirectory)
//	fd://N           (inherited file descriptor)
//	fdname://name    (systemd socket activation, LISTEN_FDNAMES)
type Endpoint struct {
	Original, Scheme, Host, Port, Path string
}

// String returns a human-friendly print of the address.
func (e Endpoint) String() string {
	if e.Original != "" {
		return e.Original
	}

	switch e.Scheme {
	case "unix":
		return "unix://" + e.Path
	case "fd", "fdname":
		return e.Scheme + "://" + e.Host
	}

	if e.Host == "" && e.Port == "" {
		return ""
	}
	s := e.Scheme
	if s != "" {
		s += "://"
	}

	host := e.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	s += host

	if e.Port != "" {
		s += ":" + e.Port
	}
	return s
}

// Network returns the network name suitable for net.Listen/net.Dial.
func (e Endpoint) Network() string {
	switch e.Scheme {
	case "unix", "fd", "fdname":
		return e.Scheme
	}
	return "tcp"
}

// Address returns the address suitable for net.Listen/net.Dial. For fd and
// fdname schemes it is the descriptor number or name.
func (e Endpoint) Address() string {
	switch e.Scheme {
	case "unix":
		return e.Path
	case "fd", "fdname":
		return e.Host
	}
	return net.JoinHostPort(e.Host, e.Port)
}

// ParseEndpoint parses an endpoint string into a structured format with separate
// scheme, host, port, and path portions, as well as the original input string.
func ParseEndpoint(str string) (Endpoint, error) {
	input := str

	u, err := url.Parse(str)
	if err != nil {
		return Endpoint{}, err
	}

	switch u.Scheme {
	case "tcp":
		// scheme:OPAQUE URL syntax
		if u.Host == "" && u.Opaque != "" {
			u.Host = u.Opaque
		}
	case "unix":
		// scheme:OPAQUE URL syntax
		if u.Path == "" && u.Opaque != "" {
			u.Path = u.Opaque
		}

		var actualPath string
		if u.Host != "" {
			actualPath += u.Host
		}
		if u.Path != "" {
			actualPath += u.Path
		}
		if actualPath == "" {
			return Endpoint{}, fmt.Errorf("empty unix socket path: %s", input)
		}

		if !filepath.IsAbs(actualPath) {
			actualPath = filepath.Join(RuntimeDirectory, actualPath)
		}

		return Endpoint{Original: input, Scheme: u.Scheme, Path: actualPath}, nil
	case "fd", "fdname":
		name := u.Host
		if name == "" {
			name = u.Opaque
		}
		if name == "" {
			return Endpoint{}, fmt.Errorf("missing descriptor in %s", input)
		}
		return Endpoint{Original: input, Scheme: u.Scheme, Host: name}, nil
	default:
		return Endpoint{}, fmt.Errorf("unsupported scheme: %s", input)
	}

	// separate host and port
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		host, port, err = net.SplitHostPort(u.Host + ":")
		if err != nil {
			host = u.Host
		}
	}
	if port == "" {
		return Endpoint{}, fmt.Errorf("port is required: %s", input)
	}

	return Endpoint{Original: input, Scheme: u.Scheme, Host: host, Port: port}, nil
}
