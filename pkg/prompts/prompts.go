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

// Package prompts renders the observer's system prompt and the per-event
// messages sent to it. Templates are embedded and use {{.name}} placeholders.
package prompts

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"strings"
	"time"

	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/mode"
	"github.com/teradata-labs/recall/pkg/queue"
)

var (
	//go:embed templates/system.tmpl
	systemTemplate string
	//go:embed templates/init.tmpl
	initTemplate string
	//go:embed templates/continuation.tmpl
	continuationTemplate string
	//go:embed templates/observation.tmpl
	observationTemplate string
	//go:embed templates/summary.tmpl
	summaryTemplate string
)

// System renders the observer's standing instructions for a mode.
func System(m *mode.Mode, project string) string {
	if m == nil {
		m = mode.Code()
	}
	concepts := m.Concepts
	if len(concepts) == 0 {
		concepts = []string{"free-form tag"}
	}
	return strings.TrimSpace(Interpolate(systemTemplate, Vars{
		"project":      project,
		"types":        m.ObservationTypes,
		"type_list":    strings.Join(m.ObservationTypes, " | "),
		"concepts":     concepts,
		"concept_list": strings.Join(concepts, " | "),
		"guidance":     Raw(m.Guidance),
	}))
}

// Init renders the first user request of a session.
func Init(userPrompt string, requestedAt time.Time) string {
	return Interpolate(initTemplate, Vars{
		"user_prompt":  Raw(userPrompt),
		"requested_at": requestedAt.UTC().Format(time.DateOnly),
	})
}

// Continuation renders a follow-up user request (prompt number > 1).
func Continuation(userPrompt string, promptNumber int, requestedAt time.Time) string {
	return Interpolate(continuationTemplate, Vars{
		"user_prompt":   Raw(userPrompt),
		"requested_at":  requestedAt.UTC().Format(time.DateOnly),
		"prompt_number": promptNumber,
	})
}

// Observation renders one tool event.
func Observation(ev *queue.PendingEvent) string {
	p := ev.ToolPayload()
	var cwd Raw
	if ev.Cwd != "" {
		cwd = Raw("\n  <working_directory>" + escapeString(ev.Cwd) + "</working_directory>")
	}
	return Interpolate(observationTemplate, Vars{
		"tool_name":         ev.Kind,
		"occurred_at":       memory.FormatEpoch(ev.EnqueuedAtEpoch),
		"working_directory": cwd,
		"parameters":        Raw(prettyJSON(p.Input)),
		"outcome":           Raw(prettyJSON(p.Output)),
	})
}

// Summary renders the checkpoint request.
func Summary(lastAssistantMessage string) string {
	return Interpolate(summaryTemplate, Vars{
		"last_assistant_message": Raw(lastAssistantMessage),
	})
}

// prettyJSON indents valid JSON and returns anything else unchanged.
func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
