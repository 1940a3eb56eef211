// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

//go:build !js
// +build !js

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsDefaults(t *testing.T) {
	source, err := loadSettings("", logging.NewDefaultLoggerFactory())
	require.NoError(t, err)
	assert.NoError(t, source.Reload())
	assert.Equal(t, "webrtc", source.Snapshot().Mode)
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camera.ini")
	require.NoError(t, os.WriteFile(path, []byte("mode = mjpg\nurl = http://camera/\nflipH = true\n"), 0o600))

	root := newRootCommand()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetArgs([]string{"config", "--config", path})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "pull: http://camera/stream")
	assert.Contains(t, out.String(), `class: "csc-flipH"`)
}

func TestConfigCommandMissingFile(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"config", "--config", filepath.Join(t.TempDir(), "missing.ini")})
	assert.Error(t, root.Execute())
}
