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

// Package reporter forwards spam samples to a reporting service by mail.
package reporter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/spammer-block/spammer-block/framework/log"
)

// StdinSampleName is the attachment name used for a sample read from
// standard input.
const StdinSampleName = "spam-mail.txt"

// Sample is a single spam message.
type Sample struct {
	Name string
	Data []byte
}

func SampleFromFile(path string) (Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sample{}, err
	}
	return Sample{Name: filepath.Base(path), Data: data}, nil
}

func SampleFromReader(r io.Reader) (Sample, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Sample{}, err
	}
	return Sample{Name: StdinSampleName, Data: data}, nil
}

type Reporter interface {
	Report(ctx context.Context, samples []Sample) error
}

// BuildMessage creates a multipart/mixed message with a short text part
// followed by one attachment per sample.
func BuildMessage(from string, to []string, subject string, now time.Time, samples []Sample) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("reporter: no samples to report")
	}

	var h mail.Header
	h.SetDate(now)
	h.SetSubject(subject)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	rcpts := make([]*mail.Address, 0, len(to))
	for _, addr := range to {
		rcpts = append(rcpts, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", rcpts)
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	var th mail.InlineHeader
	th.Set("Content-Type", "text/plain; charset=utf-8")
	tw, err := iw.CreatePart(th)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(tw, "Spam report. Body ignored.\r\n"); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := iw.Close(); err != nil {
		return nil, err
	}

	for _, s := range samples {
		var ah mail.AttachmentHeader
		ah.Set("Content-Type", "application/octet-stream")
		ah.SetFilename(s.Name)
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, err
		}
		if _, err := aw.Write(s.Data); err != nil {
			return nil, err
		}
		if err := aw.Close(); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LogOnly logs the samples instead of sending them anywhere.
type LogOnly struct {
	Log log.Logger
}

func (l LogOnly) Report(_ context.Context, samples []Sample) error {
	for _, s := range samples {
		l.Log.Msg("would report spam", "sample", s.Name, "size", len(s.Data))
	}
	return nil
}
