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

package netblock

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"
)

const (
	DefaultPostfixRule = "554 Go away spammer!"
	ASNPlaceholder     = "{ASN}"
)

var ErrUnknownFormat = errors.New("netblock: unknown output format")

// Report is the list of networks to block because of spam received from
// ConfirmedIP.
type Report struct {
	ConfirmedIP netip.Addr
	ASN         uint32
	Nets        []Net
}

type Formatter interface {
	Format(w io.Writer, r Report, skipOverlap bool) error
}

// FormatterByName returns the formatter for one of "postfix", "json" or
// "none". rule is used by the postfix formatter only.
func FormatterByName(name, rule string) (Formatter, error) {
	switch name {
	case "postfix":
		if rule == "" {
			rule = DefaultPostfixRule
		}
		return Postfix{Rule: rule}, nil
	case "json":
		return JSON{}, nil
	case "none":
		return None{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, name)
}

func checkReport(r Report) error {
	if len(r.Nets) == 0 {
		return fmt.Errorf("netblock: no nets found for %v, AS%d", r.ConfirmedIP, r.ASN)
	}
	return nil
}

// Postfix writes a Postfix cidr_table. Overlapping networks are written
// commented out unless skipOverlap is set, in which case they are left
// out.
type Postfix struct {
	Rule string
}

func (p Postfix) Format(w io.Writer, r Report, skipOverlap bool) error {
	if err := checkReport(r); err != nil {
		return err
	}

	rule := strings.ReplaceAll(p.Rule, ASNPlaceholder, strconv.FormatUint(uint64(r.ASN), 10))

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Confirmed spam from IP: %v\n", r.ConfirmedIP)
	fmt.Fprintf(&sb, "# AS%d has following nets:\n", r.ASN)

	// Rules are aligned to the tab stop after the longest network.
	maxLen := 0
	for _, n := range r.Nets {
		if l := netColumnLen(n); l > maxLen {
			maxLen = l
		}
	}
	maxTabs := maxLen / 8

	for _, n := range r.Nets {
		if n.Overlapping() && skipOverlap {
			continue
		}

		comment := ""
		desc := ""
		if n.Desc != "" {
			desc = "\t# " + n.Desc
		}
		if n.Overlapping() {
			comment = "#"
			if n.Desc == "" {
				desc = "\t# " + n.Overlap.String()
			} else {
				desc = fmt.Sprintf("\t# (overlap: %v) %s", n.Overlap, n.Desc)
			}
		}

		sb.WriteString(comment)
		sb.WriteString(n.Prefix.String())
		sb.WriteByte('\t')
		sb.WriteString(strings.Repeat("\t", maxTabs-netColumnLen(n)/8))
		sb.WriteString(rule)
		sb.WriteString(desc)
		sb.WriteByte('\n')
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func netColumnLen(n Net) int {
	l := len(n.Prefix.String())
	if n.Overlapping() {
		l++
	}
	return l
}

type jsonNet struct {
	CIDR    string `json:"cidr"`
	Desc    string `json:"description"`
	Overlap string `json:"overlap,omitempty"`
}

type jsonReport struct {
	ConfirmedIP string    `json:"confirmed_ip"`
	ASN         uint32    `json:"asn"`
	Nets        []jsonNet `json:"nets"`
}

// JSON writes the report as an indented JSON object.
type JSON struct{}

func (JSON) Format(w io.Writer, r Report, skipOverlap bool) error {
	if err := checkReport(r); err != nil {
		return err
	}

	out := jsonReport{
		ConfirmedIP: r.ConfirmedIP.String(),
		ASN:         r.ASN,
		Nets:        make([]jsonNet, 0, len(r.Nets)),
	}
	if !r.ConfirmedIP.IsValid() {
		out.ConfirmedIP = ""
	}
	for _, n := range r.Nets {
		if n.Overlapping() && skipOverlap {
			continue
		}
		jn := jsonNet{CIDR: n.Prefix.String(), Desc: n.Desc}
		if n.Overlapping() {
			jn.Overlap = n.Overlap.String()
		}
		out.Nets = append(out.Nets, jn)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(out)
}

// None produces no output.
type None struct{}

func (None) Format(io.Writer, Report, bool) error { return nil }
