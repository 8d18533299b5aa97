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

// Package parser extracts observation and summary records from the observer
// agent's loosely XML-shaped replies.
//
// Parsing never fails. Every field except the observation type is optional
// and comes back nil or empty when missing; a missing or unknown type falls
// back to the mode's first type so the record is kept.
package parser

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/mode"
)

var (
	observationRe = regexp.MustCompile(`(?s)<observation>(.*?)</observation>`)
	summaryRe     = regexp.MustCompile(`(?s)<summary>(.*?)</summary>`)
	skipSummaryRe = regexp.MustCompile(`<skip_summary\s+reason="([^"]+)"\s*/>`)

	fieldCache sync.Map // pattern string -> *regexp.Regexp
)

// Parser extracts records. The zero value is usable.
type Parser struct {
	logger *zap.Logger
}

// New creates a parser that logs recoveries (type fallback, cleaned concepts).
func New(logger *zap.Logger) *Parser {
	return &Parser{logger: logger}
}

func (p *Parser) log() *zap.Logger {
	if p == nil || p.logger == nil {
		return zap.NewNop()
	}
	return p.logger
}

// ParseObservations returns every <observation> block in text.
func (p *Parser) ParseObservations(text string, m *mode.Mode) []*memory.Observation {
	var out []*memory.Observation
	for _, match := range observationRe.FindAllStringSubmatch(text, -1) {
		body := match[1]

		rawType := extractField(body, "type")
		finalType := m.DefaultType()
		switch {
		case rawType == nil:
			p.log().Warn("Observation missing type, using fallback", zap.String("type", finalType))
		case !m.HasType(*rawType):
			p.log().Warn("Invalid observation type, using fallback",
				zap.String("got", *rawType),
				zap.String("type", finalType))
		default:
			finalType = m.ResolveType(*rawType)
		}

		// Types and concepts are separate dimensions.
		concepts := extractList(body, "concepts", "concept")
		cleaned := concepts[:0:0]
		for _, c := range concepts {
			if !strings.EqualFold(c, finalType) {
				cleaned = append(cleaned, c)
			}
		}

		out = append(out, &memory.Observation{
			Type:          finalType,
			Title:         extractField(body, "title"),
			Subtitle:      extractField(body, "subtitle"),
			Narrative:     extractField(body, "narrative"),
			Facts:         extractList(body, "facts", "fact"),
			Concepts:      cleaned,
			FilesRead:     extractList(body, "files_read", "file"),
			FilesModified: extractList(body, "files_modified", "file"),
		})
	}
	return out
}

// ParseSummary returns the first <summary> block, or nil when there is none
// or the agent declined with <skip_summary reason="..."/>. A summary with
// missing fields is still returned.
func (p *Parser) ParseSummary(text string) *memory.Summary {
	if m := skipSummaryRe.FindStringSubmatch(text); m != nil {
		p.log().Info("Summary skipped", zap.String("reason", m[1]))
		return nil
	}
	m := summaryRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	body := m[1]
	return &memory.Summary{
		Request:      extractField(body, "request"),
		Investigated: extractField(body, "investigated"),
		Learned:      extractField(body, "learned"),
		Completed:    extractField(body, "completed"),
		NextSteps:    extractField(body, "next_steps"),
		Notes:        extractField(body, "notes"),
	}
}

// extractField returns the trimmed text of <name>...</name>, nil when the tag
// is absent or blank.
func extractField(content, name string) *string {
	m := pattern(`<` + name + `>([^<]*)</` + name + `>`).FindStringSubmatch(content)
	if m == nil {
		return nil
	}
	v := strings.TrimSpace(m[1])
	if v == "" {
		return nil
	}
	return &v
}

// extractList returns the trimmed <elem> values inside <list>...</list>.
func extractList(content, list, elem string) []string {
	out := []string{}
	m := pattern(`(?s)<` + list + `>(.*?)</` + list + `>`).FindStringSubmatch(content)
	if m == nil {
		return out
	}
	for _, e := range pattern(`<`+elem+`>([^<]+)</`+elem+`>`).FindAllStringSubmatch(m[1], -1) {
		if v := strings.TrimSpace(e[1]); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func pattern(expr string) *regexp.Regexp {
	if re, ok := fieldCache.Load(expr); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(expr)
	fieldCache.Store(expr, re)
	return re
}
