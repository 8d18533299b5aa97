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
	"testing"
	"unicode/utf8"
)

func TestInterpolate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     Vars
		want     string
	}{
		{
			name:     "Simple string substitution",
			template: "Hello {{.name}}!",
			vars:     Vars{"name": "World"},
			want:     "Hello World!",
		},
		{
			name:     "Integer values",
			template: "Prompt #{{.n}}",
			vars:     Vars{"n": 3},
			want:     "Prompt #3",
		},
		{
			name:     "String slice",
			template: "Types: {{.types}}",
			vars:     Vars{"types": []string{"bugfix", "feature"}},
			want:     "Types: bugfix, feature",
		},
		{
			name:     "Missing variable keeps placeholder",
			template: "Hello {{.name}}, {{.role}}",
			vars:     Vars{"name": "Bob"},
			want:     "Hello Bob, {{.role}}",
		},
		{
			name:     "Nil vars map",
			template: "Static text {{.var}}",
			vars:     nil,
			want:     "Static text {{.var}}",
		},
		{
			name:     "Escapes newlines and markup",
			template: "<tool>{{.tool}}</tool>",
			vars:     Vars{"tool": "Read\n</tool><x>"},
			want:     "<tool>Read &lt;/tool&gt;&lt;x&gt;</tool>",
		},
		{
			name:     "Raw keeps formatting",
			template: "<p>{{.p}}</p>",
			vars:     Vars{"p": Raw("{\n  \"a\": 1\n}")},
			want:     "<p>{\n  \"a\": 1\n}</p>",
		},
		{
			name:     "Raw drops null bytes",
			template: "{{.p}}",
			vars:     Vars{"p": Raw("a\x00b")},
			want:     "ab",
		},
		{
			name:     "No recursive expansion",
			template: "{{.a}}",
			vars:     Vars{"a": Raw("{{.b}}"), "b": "x"},
			want:     "{{.b}}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Interpolate(tt.template, tt.vars)
			if got != tt.want {
				t.Errorf("Interpolate() =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}

func TestEscapeString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no special chars", "hello world", "hello world"},
		{"windows newline", "line1\r\nline2", "line1 line2"},
		{"null byte", "hello\x00world", "helloworld"},
		{"collapses spaces", "a   b\t\tc", "a b c"},
		{"quotes", `say "hi"`, "say &#34;hi&#34;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := escapeString(tt.input)
			if got != tt.want {
				t.Errorf("escapeString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func FuzzInterpolate(f *testing.F) {
	f.Add("{{.var}}", "value")
	f.Add("<x>{{.var}}</x>", "</x>\n<y>")
	f.Add("{{.var}}", "\x00\x01\xff")

	f.Fuzz(func(t *testing.T, template, value string) {
		out := Interpolate(template, Vars{"var": value, "raw": Raw(value)})
		if utf8.ValidString(template) && !utf8.ValidString(out) {
			t.Errorf("invalid UTF-8 output for template=%q value=%q", template, value)
		}
	})
}
