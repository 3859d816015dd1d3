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

import "bytes"

// Request is a single socketmap query.
type Request struct {
	Map string
	Key string
}

// ParseRequest splits the frame on the first space. The key may contain
// further spaces and is not validated.
func ParseRequest(frame []byte) (Request, error) {
	sep := bytes.IndexByte(frame, ' ')
	if sep < 0 {
		return Request{}, &ProtocolError{Reason: "missing separator between map name and key"}
	}
	if sep == 0 {
		return Request{}, &ProtocolError{Reason: "empty map name"}
	}
	return Request{
		Map: string(frame[:sep]),
		Key: string(frame[sep+1:]),
	}, nil
}
