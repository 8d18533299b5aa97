// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package prompts

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Vars maps placeholder names to values.
type Vars map[string]any

// Raw is inserted verbatim. Use it for multi-line content that the observer
// must see unaltered, such as tool payloads.
type Raw string

var placeholderRe = regexp.MustCompile(`\{\{\.(\w+)\}\}`)

// Interpolate performs variable substitution in a prompt template.
//
// Uses {{.variable_name}} syntax. Values are escaped unless wrapped in Raw.
// Substitution is single-pass: placeholders inside values are not expanded.
//
// Example:
//
//	Interpolate("Observing {{.project}}", Vars{"project": "api"})
//	// Returns: "Observing api"
func Interpolate(template string, vars Vars) string {
	if vars == nil {
		return template
	}
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "{{."), "}}")
		value, ok := vars[name]
		if !ok {
			// Keep placeholder if variable not provided
			return match
		}
		return escapeValue(value)
	})
}

func escapeValue(value any) string {
	switch v := value.(type) {
	case Raw:
		return strings.ToValidUTF8(strings.ReplaceAll(string(v), "\x00", ""), "")
	case string:
		return escapeString(v)
	case int, int64, int32, float64, float32:
		return fmt.Sprintf("%v", v)
	case bool:
		return fmt.Sprintf("%t", v)
	case []string:
		escaped := make([]string, len(v))
		for i, s := range v {
			escaped[i] = escapeString(s)
		}
		return strings.Join(escaped, ", ")
	default:
		return escapeString(fmt.Sprintf("%v", v))
	}
}

// escapeString flattens a value onto one line and neutralises markup and
// control characters.
func escapeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}

	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\t", " ")

	s = html.EscapeString(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != ' ' {
			continue
		}
		b.WriteRune(r)
	}

	return strings.Join(strings.Fields(b.String()), " ")
}
