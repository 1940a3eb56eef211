// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ini "gopkg.in/ini.v1"
)

const sampleSettings = `
mode = mjpg
url = http://host/
timeout = 2.5
flipH = true
rotate90 = true
keep_alive_in_pip = false

[mjpg]
url = stream

[webrtc]
url = webrtc
stun = stun:stun.example.org:3478, , not a url, turn:turn.example.org:3478?transport=udp
trickle = false
negotiation_timeout = 10
`

func TestParse(t *testing.T) {
	cfg, err := ini.Load([]byte(sampleSettings))
	require.NoError(t, err)

	snap, err := Parse(cfg, logging.NewDefaultLoggerFactory().NewLogger("test"))
	require.NoError(t, err)

	assert.Equal(t, "mjpg", snap.Mode)
	assert.Equal(t, "http://host/stream", snap.PullURL())
	assert.Equal(t, "http://host/webrtc", snap.NegotiatedURL())
	assert.Equal(t, 2500*time.Millisecond, snap.StopTimeout)
	assert.Equal(t, 10*time.Second, snap.NegotiationTimeout)
	assert.True(t, snap.FlipHorizontal)
	assert.False(t, snap.FlipVertical)
	assert.True(t, snap.Rotate90)
	assert.False(t, snap.Trickle)
	assert.False(t, snap.KeepAliveInPictureInPicture)
	assert.True(t, snap.RotateVideo)
	assert.Equal(t, []string{
		"stun:stun.example.org:3478",
		"turn:turn.example.org:3478?transport=udp",
	}, snap.STUNServers)
}

func TestParse_Defaults(t *testing.T) {
	cfg := ini.Empty()

	snap, err := Parse(cfg, nil)
	require.NoError(t, err)
	assert.True(t, Default().Equal(snap), "empty settings should match Default()")
	assert.Equal(t, "/webcam/stream", snap.PullURL())
}

func TestParse_NegativeTimeout(t *testing.T) {
	cfg, err := ini.Load([]byte("timeout = -1\n"))
	require.NoError(t, err)

	_, err = Parse(cfg, nil)
	assert.ErrorIs(t, err, ErrNegativeTimeout)
}

func TestParseSTUNServers_Empty(t *testing.T) {
	assert.Empty(t, ParseSTUNServers("", nil))
	assert.Empty(t, ParseSTUNServers(" , ", nil))
}

func TestSnapshotEqual(t *testing.T) {
	a := Default()
	b := Default()
	assert.True(t, a.Equal(b))

	b.STUNServers = []string{"stun:other:3478"}
	assert.False(t, a.Equal(b))

	b = Default()
	b.Rotate90 = true
	assert.False(t, a.Equal(b))
}

func TestFile_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.ini")
	require.NoError(t, os.WriteFile(path, []byte("mode = mjpg\n"), 0o600))

	file, err := Load(path, SetLoggerFactory(logging.NewDefaultLoggerFactory()))
	require.NoError(t, err)
	assert.Equal(t, "mjpg", file.Snapshot().Mode)
	assert.Equal(t, path, file.Path())

	var published []Snapshot
	file.Subscribe(func(s Snapshot) { published = append(published, s) })

	require.NoError(t, file.Reload())
	assert.Empty(t, published, "Reload() without changes should not notify")

	require.NoError(t, os.WriteFile(path, []byte("mode = webrtc\nrotate90 = true\n"), 0o600))
	require.NoError(t, file.Reload())
	require.Len(t, published, 1)
	assert.Equal(t, "webrtc", published[0].Mode)
	assert.True(t, file.Snapshot().Rotate90)

	require.NoError(t, os.WriteFile(path, []byte("timeout = -3\n"), 0o600))
	assert.Error(t, file.Reload())
	assert.Equal(t, "webrtc", file.Snapshot().Mode, "failed Reload() should keep previous settings")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.ini"))
	assert.Error(t, err)
}

func TestStatic(t *testing.T) {
	source := NewStatic(Default())

	var got []string
	cancel := source.Subscribe(func(s Snapshot) { got = append(got, s.Mode) })

	next := Default()
	next.Mode = "mjpg"
	source.Set(next)
	cancel()
	source.Set(Default())

	assert.Equal(t, []string{"mjpg"}, got)
	assert.Equal(t, DefaultMode, source.Snapshot().Mode)
}

func TestParse_EmptySTUNDisables(t *testing.T) {
	cfg, err := ini.Load([]byte("[webrtc]\nstun =\n"))
	require.NoError(t, err)

	snap, err := Parse(cfg, nil)
	require.NoError(t, err)
	assert.Empty(t, snap.STUNServers)
}
