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

package asn

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/spammer-block/spammer-block/framework/log"
)

const ASNPlaceholder = "{ASN}"

// Cache stores route query results in a JSON file. The path may contain
// {ASN} so that each ASN gets its own file.
type Cache struct {
	Path string
}

func (c Cache) path(asn uint32) string {
	return strings.ReplaceAll(c.Path, ASNPlaceholder, strconv.FormatUint(uint64(asn), 10))
}

// Load returns the cached result for asn. A missing file or a file holding
// a result for another ASN is reported as not found.
func (c Cache) Load(asn uint32) (Result, bool, error) {
	blob, err := os.ReadFile(c.path(asn))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{}, false, nil
		}
		return Result{}, false, err
	}

	var res Result
	if err := json.Unmarshal(blob, &res); err != nil {
		return Result{}, false, err
	}
	if res.ASN != asn {
		return Result{}, false, nil
	}
	return res, true, nil
}

func (c Cache) Store(res Result) error {
	blob, err := json.MarshalIndent(res, "", "    ")
	if err != nil {
		return err
	}
	path := c.path(res.ASN)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// CachedRoutes consults Cache before asking Source and saves the answers
// Source gives.
type CachedRoutes struct {
	Source RouteSource
	Cache  Cache
	Log    log.Logger
}

func (cr CachedRoutes) Routes(ctx context.Context, asn uint32) (Result, error) {
	if cr.Cache.Path == "" {
		return cr.Source.Routes(ctx, asn)
	}

	res, ok, err := cr.Cache.Load(asn)
	if err != nil {
		cr.Log.Error("cannot read route cache", err, "path", cr.Cache.path(asn))
	}
	if ok {
		cr.Log.DebugMsg("using cached routes", "asn", asn, "path", cr.Cache.path(asn))
		return res, nil
	}

	res, err = cr.Source.Routes(ctx, asn)
	if err != nil {
		return Result{}, err
	}
	if err := cr.Cache.Store(res); err != nil {
		cr.Log.Error("cannot write route cache", err, "path", cr.Cache.path(asn))
	}
	return res, nil
}
