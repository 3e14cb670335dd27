// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// rpcRequest is the JSON-RPC 2.0 envelope for a tools/call invocation.
type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      string    `json:"id"`
}

type rpcParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// newToolCall builds a tools/call request with a fresh id.
func newToolCall(name string, args map[string]any) rpcRequest {
	if args == nil {
		args = map[string]any{}
	}
	return rpcRequest{
		JSONRPC: "2.0",
		Method:  "tools/call",
		Params:  rpcParams{Name: name, Arguments: args},
		ID:      uuid.NewString(),
	}
}

// inBandError shapes a tool failure as the JSON string the agent consumes.
// Upstream failures during execution are data for the agent to reason about,
// not errors for the runtime to raise.
func inBandError(message string) string {
	out, err := json.Marshal(struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}{Success: false, Error: message})
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, message)
	}
	return string(out)
}

// interpretResponse turns a 2xx JSON-RPC response body into the tool's
// string output. An error member becomes an in-band failure string; a result
// member is rendered with renderResult.
func interpretResponse(body []byte) string {
	doc := gjson.ParseBytes(body)

	if rpcErr := doc.Get("error"); rpcErr.Exists() {
		msg := rpcErr.Get("message").String()
		if msg == "" {
			msg = rpcErr.Raw
		}
		return inBandError(msg)
	}

	result := doc.Get("result")
	if !result.Exists() {
		// Neither result nor error: pass the body through untouched.
		return string(body)
	}
	return renderResult(result)
}

// renderResult extracts the human-readable payload from a tools/call result.
// Servers disagree on shape: some put the text under content, others under
// text or message, and content itself may be a string, a list of content
// items, or a plain object.
func renderResult(result gjson.Result) string {
	for _, key := range []string{"content", "text", "message"} {
		if v := result.Get(key); v.Exists() {
			return renderValue(v)
		}
	}
	return renderValue(result)
}

// renderValue renders one JSON value as tool output text. Objects become
// "key: value" lines; arrays render their items line by line, preferring the
// text field of MCP content items.
func renderValue(v gjson.Result) string {
	switch {
	case v.Type == gjson.String:
		return v.String()
	case v.IsArray():
		var lines []string
		for _, item := range v.Array() {
			if text := item.Get("text"); text.Exists() {
				lines = append(lines, text.String())
				continue
			}
			lines = append(lines, renderValue(item))
		}
		return strings.Join(lines, "\n")
	case v.IsObject():
		var lines []string
		v.ForEach(func(key, value gjson.Result) bool {
			lines = append(lines, fmt.Sprintf("%s: %s", key.String(), scalarText(value)))
			return true
		})
		return strings.Join(lines, "\n")
	default:
		return v.String()
	}
}

// scalarText renders an object field value on a single line.
func scalarText(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.String()
	}
	return v.Raw
}
