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

// Package config defines the configuration file of spammer-block.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spammer-block/spammer-block/framework/config"
	"github.com/spammer-block/spammer-block/framework/log"
	"github.com/spammer-block/spammer-block/internal/asn"
	"github.com/spammer-block/spammer-block/internal/netblock"
	"github.com/spammer-block/spammer-block/internal/socketmap"
)

const (
	DefaultPath         = "/etc/spammer-block/spammer-block.toml"
	DefaultListen       = "unix://socketmap.sock"
	DefaultFromAddress  = "joe.user@example.com"
	DefaultSMTPDAddress = "127.0.0.1"
	DefaultWatchdogTime = 5 * time.Second
	DefaultShutdownTime = time.Second
	DefaultLogLevel     = "WARNING"
	DefaultOutputFormat = "postfix"
	DefaultSpamFolder   = ".Junk"
)

type Daemon struct {
	LogLevel      string          `toml:"log_level"`
	LogFile       string          `toml:"log_file"`
	Syslog        bool            `toml:"syslog"`
	WatchdogTime  config.Duration `toml:"watchdog_time"`
	MetricsListen string          `toml:"metrics_listen"`
	MaildirBase   string          `toml:"maildir_base"`
	SpamFolders   []string        `toml:"spam_folders"`
	BatchDelay    config.Duration `toml:"batch_delay"`
}

type Socketmap struct {
	Listen          []string             `toml:"listen"`
	SocketMode      config.FileMode      `toml:"socket_mode"`
	ReusePort       bool                 `toml:"reuse_port"`
	RequestLimit    int                  `toml:"request_limit"`
	QueueSize       int                  `toml:"queue_size"`
	ReadChunk       int                  `toml:"read_chunk"`
	ShutdownTimeout config.Duration      `toml:"shutdown_timeout"`
	Maps            []config.TableConfig `toml:"map"`
}

type Reporter struct {
	FromAddress          string          `toml:"from_address"`
	SMTPDAddress         string          `toml:"smtpd_address"`
	SpamcopReportAddress string          `toml:"spamcop_report_address"`
	MockReportAddress    string          `toml:"mock_report_address"`
	SendgridReport       bool            `toml:"sendgrid_report"`
	Timeout              config.Duration `toml:"timeout"`
}

type Blocker struct {
	PostfixRule  string          `toml:"postfix_rule"`
	OutputFormat string          `toml:"output_format"`
	WhoisServer  string          `toml:"whois_server"`
	DNSResolver  string          `toml:"dns_resolver"`
	ASNCacheFile string          `toml:"asn_cache_file"`
	IPInfoToken  string          `toml:"ipinfo_token"`
	IPInfoDBFile string          `toml:"ipinfo_db_file"`
	QueryTimeout config.Duration `toml:"query_timeout"`
}

type Config struct {
	Daemon    Daemon    `toml:"daemon"`
	Socketmap Socketmap `toml:"socketmap"`
	Reporter  Reporter  `toml:"reporter"`
	Blocker   Blocker   `toml:"blocker"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() Config {
	return Config{
		Daemon: Daemon{
			LogLevel:     DefaultLogLevel,
			WatchdogTime: config.Duration(DefaultWatchdogTime),
			SpamFolders:  []string{DefaultSpamFolder},
			BatchDelay:   config.Duration(5 * time.Second),
		},
		Socketmap: Socketmap{
			Listen:          []string{DefaultListen},
			SocketMode:      0o660,
			RequestLimit:    socketmap.DefaultRequestLimit,
			QueueSize:       socketmap.DefaultQueueSize,
			ReadChunk:       socketmap.DefaultReadChunk,
			ShutdownTimeout: config.Duration(DefaultShutdownTime),
		},
		Reporter: Reporter{
			FromAddress:  DefaultFromAddress,
			SMTPDAddress: DefaultSMTPDAddress,
			Timeout:      config.Duration(2 * time.Minute),
		},
		Blocker: Blocker{
			PostfixRule:  netblock.DefaultPostfixRule,
			OutputFormat: DefaultOutputFormat,
			WhoisServer:  asn.DefaultWhoisServer,
			QueryTimeout: config.Duration(30 * time.Second),
		},
	}
}

// Load reads path over the defaults. A missing file is not an error when
// optional is set.
func Load(path string, optional bool) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, cfg.Validate()
	}

	if err := config.ReadTOMLFile(path, &cfg); err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks values that cannot be checked while decoding.
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.Daemon.LogLevel); err != nil {
		return err
	}

	sm := &c.Socketmap
	if sm.RequestLimit <= 0 {
		return fmt.Errorf("socketmap.request_limit must be positive, got %d", sm.RequestLimit)
	}
	if sm.QueueSize <= 0 {
		return fmt.Errorf("socketmap.queue_size must be positive, got %d", sm.QueueSize)
	}
	if sm.ReadChunk <= 0 {
		return fmt.Errorf("socketmap.read_chunk must be positive, got %d", sm.ReadChunk)
	}
	for _, l := range sm.Listen {
		if _, err := config.ParseEndpoint(l); err != nil {
			return fmt.Errorf("socketmap.listen: %w", err)
		}
	}

	seen := make(map[string]struct{}, len(sm.Maps))
	for i, m := range sm.Maps {
		if m.Name == "" {
			return fmt.Errorf("socketmap.map #%d: missing name", i+1)
		}
		if strings.ContainsAny(m.Name, " \t") {
			return fmt.Errorf("socketmap.map %s: name must not contain whitespace", m.Name)
		}
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("socketmap.map %s: defined more than once", m.Name)
		}
		seen[m.Name] = struct{}{}
	}

	if _, err := netblock.FormatterByName(c.Blocker.OutputFormat, c.Blocker.PostfixRule); err != nil {
		return fmt.Errorf("blocker.output_format: %w", err)
	}
	return nil
}
