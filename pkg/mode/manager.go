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

package mode

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Dir holds *.yaml mode files. Optional.
	Dir string

	// Active names the mode used by the pipeline. Default "code".
	Active string

	Logger *zap.Logger
}

// Manager holds the known modes and the active selection. Safe for
// concurrent use; the watcher swaps definitions while the pipeline reads.
type Manager struct {
	mu     sync.RWMutex
	modes  map[string]*Mode
	active string
	dir    string
	logger *zap.Logger
}

// NewManager registers the built-in mode, loads Dir, and checks that the
// active mode exists.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Active == "" {
		opts.Active = DefaultName
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	m := &Manager{
		modes:  map[string]*Mode{DefaultName: Code()},
		active: opts.Active,
		dir:    opts.Dir,
		logger: opts.Logger,
	}

	if m.dir != "" {
		if err := m.LoadDir(); err != nil {
			return nil, err
		}
	}

	if _, ok := m.Get(m.active); !ok {
		return nil, fmt.Errorf("active mode %q not found (available: %s)",
			m.active, strings.Join(m.Names(), ", "))
	}
	return m, nil
}

// Dir returns the mode directory, if any.
func (m *Manager) Dir() string {
	return m.dir
}

// Active returns a copy of the active mode. When the active mode was removed
// by a reload, the built-in code mode is returned.
func (m *Manager) Active() *Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if md, ok := m.modes[m.active]; ok {
		return md.Clone()
	}
	return Code()
}

// SetActive selects a loaded mode.
func (m *Manager) SetActive(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.modes[name]; !ok {
		return fmt.Errorf("mode %q not found", name)
	}
	m.active = name
	return nil
}

// Get returns a copy of the named mode.
func (m *Manager) Get(name string) (*Mode, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	md, ok := m.modes[name]
	if !ok {
		return nil, false
	}
	return md.Clone(), true
}

// Names lists known modes sorted by name.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.modes))
	for name := range m.modes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadDir loads every YAML file in the mode directory. A missing directory
// is not an error. Invalid files are logged and skipped.
func (m *Manager) LoadDir() error {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read mode directory: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !isModeFile(e.Name()) {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		if _, err := m.LoadFile(path); err != nil {
			m.logger.Warn("Skipping invalid mode file",
				zap.String("file", path),
				zap.Error(err))
		}
	}
	return nil
}

// LoadFile parses, validates and registers one mode file, replacing any
// previous definition with the same name.
func (m *Manager) LoadFile(path string) (*Mode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mode file: %w", err)
	}
	md, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	md.Source = path

	m.mu.Lock()
	m.modes[md.Name] = md
	m.mu.Unlock()

	m.logger.Info("Mode loaded",
		zap.String("mode", md.Name),
		zap.Int("types", len(md.ObservationTypes)),
		zap.String("file", path))
	return md.Clone(), nil
}

// RemoveSource drops modes loaded from path. Built-in modes are restored if
// a file had overridden them.
func (m *Manager) RemoveSource(path string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	for name, md := range m.modes {
		if md.Source != path {
			continue
		}
		if name == DefaultName {
			m.modes[name] = Code()
		} else {
			delete(m.modes, name)
		}
		removed = append(removed, name)
	}
	return removed
}

// Parse decodes and validates a YAML mode definition.
func Parse(data []byte) (*Mode, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("empty mode definition")
	}
	if err := validateDocument(doc); err != nil {
		return nil, err
	}

	var md Mode
	if err := yaml.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("failed to decode mode: %w", err)
	}
	if err := md.Validate(); err != nil {
		return nil, err
	}
	return &md, nil
}

func isModeFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.Contains(base, "~") || strings.Contains(base, ".tmp") {
		return false
	}
	return strings.HasSuffix(base, ".yaml") || strings.HasSuffix(base, ".yml")
}
