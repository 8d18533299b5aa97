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

package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		wantLevel zapcore.Level
	}{
		{"default level", Options{}, zapcore.InfoLevel},
		{"debug console", Options{Level: "debug", Format: "console"}, zapcore.DebugLevel},
		{"invalid level falls back", Options{Level: "loud"}, zapcore.InfoLevel},
		{"warn json", Options{Level: "warn", Format: "json"}, zapcore.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(func() { SetLogger(nil) })
			l, err := Setup(tt.opts)
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(tt.wantLevel))
			assert.False(t, l.Core().Enabled(tt.wantLevel-1))
			assert.Same(t, l, Logger())
		})
	}
}

func TestSetup_File(t *testing.T) {
	t.Cleanup(func() { SetLogger(nil) })
	path := filepath.Join(t.TempDir(), "recalld.log")

	_, err := Setup(Options{Level: "info", File: path})
	require.NoError(t, err)
	Info("queue drained", zap.String("session_id", "s1"))
	_ = Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "queue drained")
}

func TestSetLoggerNil(t *testing.T) {
	SetLogger(nil)
	assert.NotNil(t, Logger())
}
