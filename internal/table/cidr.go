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

package table

import (
	"bufio"
	"context"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/spammer-block/spammer-block/framework/config"
	"github.com/spammer-block/spammer-block/framework/exterrors"
	"github.com/spammer-block/spammer-block/framework/log"
	"github.com/spammer-block/spammer-block/framework/module"
)

const CIDRModName = "table.cidr"

type cidrEntry struct {
	prefix netip.Prefix
	result string
}

// CIDR is a table in the Postfix cidr_table(5) format. Keys are IP
// addresses; the first network in file order that contains the key wins.
//
// Lines look like "203.0.113.0/24<ws>result". A "#" at the start of a line
// comments it out, a whitespace-separated "#" ends the result.
type CIDR struct {
	instName string
	file     string

	src *fileSource[[]cidrEntry]

	log log.Logger
}

func NewCIDR(_, instName string) (module.Module, error) {
	return &CIDR{
		instName: instName,
		log:      log.Logger{Name: CIDRModName},
	}, nil
}

func (c *CIDR) Name() string {
	return CIDRModName
}

func (c *CIDR) InstanceName() string {
	return c.instName
}

func (c *CIDR) Init(cfg *config.TableConfig, _ *module.Registry) error {
	c.log.Debug = cfg.Debug || log.DefaultLogger.Debug
	c.log = c.log.With("map", c.instName)
	if cfg.File == "" {
		return fmt.Errorf("%s: file is required", CIDRModName)
	}
	c.file = cfg.File

	c.src = newFileSource(c.file, func(path string) ([]cidrEntry, error) {
		return readCIDRFile(path, c.log)
	}, c.log)
	return c.src.load()
}

func (c *CIDR) Start() error {
	c.src.start()
	return nil
}

func (c *CIDR) Stop() error {
	c.src.stop()
	return nil
}

func (c *CIDR) Reload() error {
	c.src.reloadNow()
	return nil
}

func (c *CIDR) Lookup(_ context.Context, key string) (string, bool, error) {
	addr, err := netip.ParseAddr(key)
	if err != nil {
		return "", false, exterrors.WithFields(
			exterrors.WithTemporary(fmt.Errorf("%s: malformed IP address: %w", CIDRModName, err), false),
			map[string]interface{}{"key": key})
	}
	addr = addr.Unmap()

	for _, e := range c.src.get() {
		if e.prefix.Contains(addr) {
			return e.result, true, nil
		}
	}
	return "", false, nil
}

func readCIDRFile(path string, logger log.Logger) ([]cidrEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []cidrEntry
	scnr := bufio.NewScanner(f)
	lineCounter := 0

	parseErr := func(format string, args ...interface{}) error {
		return fmt.Errorf("%s:%d: %s", path, lineCounter, fmt.Sprintf(format, args...))
	}

	for scnr.Scan() {
		lineCounter++
		text := strings.TrimSpace(scnr.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		sep := strings.IndexAny(text, " \t")
		if sep < 0 {
			return nil, parseErr("missing result for %s", text)
		}
		netStr, result := text[:sep], trimTrailingComment(text[sep+1:])
		if result == "" {
			return nil, parseErr("missing result for %s", netStr)
		}

		prefix, err := parseNetwork(netStr)
		if err != nil {
			return nil, parseErr("%v", err)
		}
		if prefix.Masked() != prefix {
			logger.Msg("non-null host address bits, skipping this rule",
				"file", path, "line", lineCounter, "network", netStr)
			continue
		}

		out = append(out, cidrEntry{prefix: prefix, result: result})
	}
	if err := scnr.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseNetwork(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		if p.Addr().Is4In6() && p.Bits() >= 96 {
			return netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96), nil
		}
		return p, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func trimTrailingComment(s string) string {
	s = strings.TrimSpace(s)
	for i := 0; i < len(s); i++ {
		if s[i] == '#' && (i == 0 || s[i-1] == ' ' || s[i-1] == '\t') {
			return strings.TrimSpace(s[:i])
		}
	}
	return s
}

func init() {
	module.Register(CIDRModName, NewCIDR)
}
