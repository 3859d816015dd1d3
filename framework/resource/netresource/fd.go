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

package netresource

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// ListenFD wraps an inherited file descriptor into a net.Listener.
func ListenFD(fd uint) (net.Listener, error) {
	file := os.NewFile(uintptr(fd), strconv.FormatUint(uint64(fd), 10))
	if file == nil {
		return nil, fmt.Errorf("invalid file descriptor: %d", fd)
	}
	defer file.Close()
	return net.FileListener(file)
}

// ListenFDName returns the socket passed by systemd under the given
// FileDescriptorName (sd_listen_fds_with_names protocol).
func ListenFDName(name string) (net.Listener, error) {
	listenPDStr := os.Getenv("LISTEN_PID")
	if listenPDStr == "" {
		return nil, errors.New("$LISTEN_PID is not set")
	}
	listenPid, err := strconv.Atoi(listenPDStr)
	if err != nil {
		return nil, errors.New("$LISTEN_PID is not integer")
	}
	if listenPid != os.Getpid() {
		return nil, fmt.Errorf("$LISTEN_PID (%d) is not our PID (%d)", listenPid, os.Getpid())
	}

	fdCount, err := strconv.Atoi(os.Getenv("LISTEN_FDS"))
	if err != nil {
		return nil, errors.New("$LISTEN_FDS is not set or not integer")
	}

	names := strings.Split(os.Getenv("LISTEN_FDNAMES"), ":")
	for i, fdName := range names {
		if i >= fdCount {
			break
		}
		if fdName == name {
			// SD_LISTEN_FDS_START is 3.
			return ListenFD(uint(3 + i))
		}
	}

	return nil, fmt.Errorf("name %s not found in $LISTEN_FDNAMES", name)
}
