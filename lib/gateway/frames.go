// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// FunctionCall is an inbound call frame.
type FunctionCall struct {
	Function string `json:"function"`

	// UUID is the client-chosen correlation id. It keys the call's
	// queue records and is echoed in the reply.
	UUID string `json:"uuid"`

	// Args is passed through to the worker untouched.
	Args json.RawMessage `json:"args"`

	// Command and Location name the worker. Either may be empty when
	// the function registry supplies it.
	Command  string `json:"command"`
	Location string `json:"location"`
}

// Response is a successful reply frame.
type Response struct {
	UUID   string          `json:"uuid"`
	Result json.RawMessage `json:"result"`
}

// ErrorBody describes a failed call.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorFrame is a failure reply. UUID is empty when the frame could not
// be decoded far enough to find one.
type ErrorFrame struct {
	UUID  string    `json:"uuid,omitempty"`
	Error ErrorBody `json:"error"`
}

// FrameError reports an inbound frame that is not a usable call.
type FrameError struct {
	Reason string
	Err    error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed call: %s: %v", e.Reason, e.Err)
	}
	return "malformed call: " + e.Reason
}

func (e *FrameError) Unwrap() error { return e.Err }

func (e *FrameError) Kind() string { return "decode" }

// decodeCall parses one text frame.
func decodeCall(data []byte) (FunctionCall, error) {
	var call FunctionCall
	if err := json.Unmarshal(data, &call); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syntaxErr):
			return FunctionCall{}, &FrameError{Reason: "invalid JSON", Err: err}
		case errors.As(err, &typeErr) && typeErr.Field != "":
			return FunctionCall{}, &FrameError{Reason: fmt.Sprintf("field %q has the wrong type", typeErr.Field), Err: err}
		default:
			return FunctionCall{}, &FrameError{Reason: "not a call object", Err: err}
		}
	}
	if call.UUID == "" {
		return FunctionCall{}, &FrameError{Reason: "uuid is required"}
	}
	if call.Function == "" {
		return call, &FrameError{Reason: "function is required"}
	}
	return call, nil
}

// encodeRecord renders a frame as the compact JSON stored in a queue
// slot.
func encodeRecord(v any) (string, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimSuffix(buffer.Bytes(), []byte("\n"))), nil
}
