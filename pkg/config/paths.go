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

// Package config resolves on-disk locations shared by the recalld binary and
// its stores.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDirEnv overrides the data directory.
const DataDirEnv = "RECALL_DATA_DIR"

// UnknownProject is used when no project can be derived from a working directory.
const UnknownProject = "unknown-project"

// GetRecallDataDir returns the recall data directory.
//
// Priority:
// 1. RECALL_DATA_DIR environment variable (if set and non-empty)
// 2. ~/.recall (default)
//
// The returned path is absolute; a leading ~ is expanded. This is read before
// the config file is loaded, since the config file lives inside it.
func GetRecallDataDir() string {
	if dataDir := os.Getenv(DataDirEnv); dataDir != "" {
		return ExpandPath(dataDir)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".recall"
	}
	return filepath.Join(homeDir, ".recall")
}

// GetRecallSubDir returns a subdirectory within the data directory.
// Example: GetRecallSubDir("modes") returns ~/.recall/modes
func GetRecallSubDir(subdir string) string {
	return filepath.Join(GetRecallDataDir(), subdir)
}

// ExpandPath expands ~ and resolves to an absolute path.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, strings.TrimPrefix(path[1:], "/"))
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}

// ProjectFromCwd derives a project name from a working directory: its base
// name, or UnknownProject for empty input and filesystem roots.
func ProjectFromCwd(cwd string) string {
	cwd = strings.TrimSpace(cwd)
	if cwd == "" {
		return UnknownProject
	}
	base := filepath.Base(filepath.Clean(cwd))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return UnknownProject
	}
	return base
}
