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

// Package mode defines observation modes: the set of record types and
// concept tags the observer may emit. A built-in "code" mode is always
// available; further modes are loaded from YAML files, validated against a
// JSON schema, and optionally hot-reloaded.
package mode

import (
	"fmt"
	"slices"
	"strings"
)

// DefaultName is the mode used when none is configured.
const DefaultName = "code"

// Mode is one observation vocabulary.
type Mode struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// ObservationTypes is ordered; the first entry is the fallback type for
	// records whose type is missing or invalid.
	ObservationTypes []string `yaml:"observation_types" json:"observation_types"`
	Concepts         []string `yaml:"concepts" json:"concepts"`

	// Guidance is appended to the observer's system prompt.
	Guidance string `yaml:"guidance,omitempty" json:"guidance,omitempty"`

	// Source is the file the mode was loaded from, empty for built-ins.
	Source string `yaml:"-" json:"-"`
}

// Code returns the built-in mode for software development sessions.
func Code() *Mode {
	return &Mode{
		Name:        DefaultName,
		Description: "Software development observations",
		ObservationTypes: []string{
			"bugfix", "feature", "refactor", "discovery", "decision", "change",
		},
		Concepts: []string{
			"how-it-works", "why-it-exists", "what-changed", "problem-solution",
			"gotcha", "pattern", "trade-off",
		},
	}
}

// DefaultType is the fallback observation type.
func (m *Mode) DefaultType() string {
	if len(m.ObservationTypes) == 0 {
		return ""
	}
	return m.ObservationTypes[0]
}

// HasType reports whether t is a valid observation type (case-insensitive).
func (m *Mode) HasType(t string) bool {
	return m.normalizeType(t) != ""
}

// ResolveType returns the canonical form of t, or the fallback type.
func (m *Mode) ResolveType(t string) string {
	if v := m.normalizeType(t); v != "" {
		return v
	}
	return m.DefaultType()
}

func (m *Mode) normalizeType(t string) string {
	t = strings.TrimSpace(t)
	for _, v := range m.ObservationTypes {
		if strings.EqualFold(v, t) {
			return v
		}
	}
	return ""
}

// Validate checks invariants the schema cannot express.
func (m *Mode) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("mode name cannot be empty")
	}
	if len(m.ObservationTypes) == 0 {
		return fmt.Errorf("mode %s: at least one observation type is required", m.Name)
	}
	seen := make(map[string]bool, len(m.ObservationTypes))
	for _, t := range m.ObservationTypes {
		k := strings.ToLower(t)
		if seen[k] {
			return fmt.Errorf("mode %s: duplicate observation type %q", m.Name, t)
		}
		seen[k] = true
	}
	return nil
}

// Clone returns a deep copy.
func (m *Mode) Clone() *Mode {
	c := *m
	c.ObservationTypes = slices.Clone(m.ObservationTypes)
	c.Concepts = slices.Clone(m.Concepts)
	return &c
}
