// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	terrors "github.com/loopwork/tether/pkg/errors"
	"github.com/loopwork/tether/pkg/logger"
)

// rawInputKey carries whole-string input from the agent through the
// map-typed argument interface.
const rawInputKey = "__raw_input__"

// RawInput wraps input the agent produced as a plain string where the tool
// expects an argument object. The adapter coerces it against the tool's
// declared schema at invocation time.
func RawInput(s string) map[string]any {
	return map[string]any{rawInputKey: s}
}

// rawInputString unwraps a RawInput argument set. The wrapper only applies
// when it is the sole argument and the schema does not claim the key as a
// real property.
func rawInputString(args, schema map[string]any) (string, bool) {
	if len(args) != 1 {
		return "", false
	}
	v, ok := args[rawInputKey]
	if !ok {
		return "", false
	}
	if _, claimed := schemaProperties(schema)[rawInputKey]; claimed {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// coerceInput turns a raw string the agent emitted into the argument object
// a tool's schema declares. First success wins:
//
//  1. strict JSON when the string is brace-delimited
//  2. the outermost balanced {...} anywhere in the string, raw then fixed up
//  3. JSON after fixups (trailing commas stripped, bareword keys quoted)
//  4. key=value / key: value pairs with bool and integer casting
//  5. the raw string wrapped under a single-property schema's one property
func coerceInput(raw string, schema map[string]any) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)

	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		if m, ok := parseObject(trimmed); ok {
			return m, nil
		}
	}

	if inner, ok := extractBraced(trimmed); ok {
		if m, ok := parseObject(inner); ok {
			return m, nil
		}
		if m, ok := parseObject(applyFixups(inner)); ok {
			return m, nil
		}
	}

	if m, ok := parsePairs(trimmed); ok {
		return m, nil
	}

	if prop, ok := singleProperty(schema); ok {
		return map[string]any{prop: raw}, nil
	}

	return nil, terrors.NewCoercionError(
		fmt.Sprintf("cannot shape input into the tool's arguments; %s", schemaSummary(schema)), nil)
}

func parseObject(s string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// extractBraced returns the outermost balanced {...} in s, honoring string
// literals and escapes so braces inside values do not end the scan early.
func extractBraced(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	barewordKeyRe   = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_-]*)\s*:`)
	pairKeyRe       = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)
)

// applyFixups repairs the two JSON mistakes agents actually make: trailing
// commas and unquoted keys.
func applyFixups(s string) string {
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	return barewordKeyRe.ReplaceAllString(s, `$1"$2":`)
}

// parsePairs reads key=value or key: value pairs, one per line or comma
// separated on a single line. Every segment must parse; junk among valid
// pairs means the input was not pair-structured after all.
func parsePairs(s string) (map[string]any, bool) {
	segments := strings.Split(s, "\n")
	if len(segments) == 1 {
		segments = strings.Split(s, ",")
	}

	out := make(map[string]any)
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		key, value, ok := splitPair(seg)
		if !ok {
			return nil, false
		}
		out[key] = castValue(value)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// splitPair splits one segment at the first = or :, whichever comes first.
func splitPair(seg string) (string, string, bool) {
	sep := -1
	for i := 0; i < len(seg); i++ {
		if seg[i] == '=' || seg[i] == ':' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return "", "", false
	}
	key := strings.TrimSpace(seg[:sep])
	if !pairKeyRe.MatchString(key) {
		return "", "", false
	}
	value := strings.Trim(strings.TrimSpace(seg[sep+1:]), `"'`)
	return key, value, true
}

func castValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

func schemaProperties(schema map[string]any) map[string]any {
	props, _ := schema["properties"].(map[string]any)
	return props
}

func singleProperty(schema map[string]any) (string, bool) {
	props := schemaProperties(schema)
	if len(props) != 1 {
		return "", false
	}
	for name := range props {
		return name, true
	}
	return "", false
}

// schemaSummary names the properties a tool expects, for coercion errors.
func schemaSummary(schema map[string]any) string {
	props := schemaProperties(schema)
	if len(props) == 0 {
		return "the tool declares no argument schema"
	}
	names := make([]string, 0, len(props))
	for name, def := range props {
		typ := ""
		if dm, ok := def.(map[string]any); ok {
			typ, _ = dm["type"].(string)
		}
		if typ == "" {
			names = append(names, name)
			continue
		}
		names = append(names, fmt.Sprintf("%s (%s)", name, typ))
	}
	sort.Strings(names)
	return "expected properties: " + strings.Join(names, ", ")
}

// validateArgs checks args against the tool's declared schema. A missing or
// unloadable schema validates nothing: dynamic servers ship rough schemas
// and strictness here would block working tools.
func validateArgs(args, schema map[string]any) error {
	if len(schema) == 0 || len(schemaProperties(schema)) == 0 {
		return nil
	}
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(args))
	if err != nil {
		logger.Debugw("tool schema does not load, skipping validation", "error", err)
		return nil
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
