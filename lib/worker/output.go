// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// OutputMode selects how stdout becomes a result value.
type OutputMode string

const (
	// OutputJSON requires stdout to hold exactly one JSON value,
	// surrounding whitespace allowed.
	OutputJSON OutputMode = "json"

	// OutputText returns stdout verbatim as a JSON string.
	OutputText OutputMode = "text"

	// OutputAuto returns the JSON value when stdout parses as one, and
	// the verbatim string otherwise.
	OutputAuto OutputMode = "auto"
)

// ParseOutputMode validates a configured mode name.
func ParseOutputMode(name string) (OutputMode, error) {
	switch mode := OutputMode(name); mode {
	case OutputJSON, OutputText, OutputAuto:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown output mode %q (want json, text, or auto)", name)
	}
}

// excerptLength bounds how much offending output a DecodeError keeps.
const excerptLength = 64

// decodeOutput converts raw stdout to a JSON result value.
func decodeOutput(mode OutputMode, stdout []byte) (json.RawMessage, error) {
	if !utf8.Valid(stdout) {
		return nil, &DecodeError{Mode: mode, Reason: "output is not valid UTF-8", Excerpt: excerpt(stdout)}
	}

	switch mode {
	case OutputText:
		return marshalString(stdout)
	case OutputAuto:
		if value, ok := compactJSON(stdout); ok {
			return value, nil
		}
		return marshalString(stdout)
	default:
		value, ok := compactJSON(stdout)
		if !ok {
			reason := "output is not a JSON value"
			if len(bytes.TrimSpace(stdout)) == 0 {
				reason = "output is empty"
			}
			return nil, &DecodeError{Mode: mode, Reason: reason, Excerpt: excerpt(stdout)}
		}
		return value, nil
	}
}

// compactJSON returns the single JSON value in data without
// insignificant whitespace.
func compactJSON(data []byte) (json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, false
	}
	var buffer bytes.Buffer
	if err := json.Compact(&buffer, trimmed); err != nil {
		return nil, false
	}
	return buffer.Bytes(), true
}

// marshalString encodes data as a JSON string without HTML escaping,
// so the caller sees the worker's bytes unchanged.
func marshalString(data []byte) (json.RawMessage, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(string(data)); err != nil {
		return nil, &DecodeError{Mode: OutputText, Reason: err.Error(), Excerpt: excerpt(data)}
	}
	return bytes.TrimSuffix(buffer.Bytes(), []byte("\n")), nil
}

func excerpt(data []byte) string {
	if len(data) > excerptLength {
		data = data[:excerptLength]
	}
	return string(bytes.ToValidUTF8(data, []byte("�")))
}

// cappedBuffer keeps at most limit bytes and remembers whether more
// arrived. Writes never fail, so the worker is not killed by SIGPIPE
// while the overflow is being discarded.
type cappedBuffer struct {
	buffer    bytes.Buffer
	limit     int64
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - int64(c.buffer.Len())
	if room <= 0 {
		c.truncated = c.truncated || len(p) > 0
		return len(p), nil
	}
	if int64(len(p)) > room {
		c.buffer.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.buffer.Write(p)
	return len(p), nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	data  []byte
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.data = append(t.data, p...)
	if over := len(t.data) - t.limit; over > 0 {
		t.data = append(t.data[:0], t.data[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(bytes.ToValidUTF8(t.data, []byte("�")))
}
