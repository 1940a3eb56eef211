// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package bridge

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/camstream/controller"
	"github.com/pion/camstream/observable"
	"github.com/pion/camstream/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errReload = errors.New("reload failed")

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))

	return msg
}

func TestEvents_PushesState(t *testing.T) {
	ctrl := newMockController()
	bridge, err := New(ctrl)
	require.NoError(t, err)
	defer bridge.Close()

	server := httptest.NewServer(bridge.Handler())
	defer server.Close()

	conn := dial(t, server)
	msg := readMessage(t, conn)
	assert.Equal(t, EventState, msg.Type)
	require.NotNil(t, msg.State)
	assert.Equal(t, stream.ModeNone, msg.State.Mode)

	require.NoError(t, conn.WriteJSON(Message{Type: EventVisibility, Visible: true}))
	msg = readMessage(t, conn)
	assert.Equal(t, EventState, msg.Type)
	require.NotNil(t, msg.State)
	assert.True(t, msg.State.Visible)
	assert.Equal(t, stream.ModePull, msg.State.Mode)
}

func TestEvents_ReportsErrors(t *testing.T) {
	bridge, err := New(newMockController())
	require.NoError(t, err)
	defer bridge.Close()

	server := httptest.NewServer(bridge.Handler())
	defer server.Close()

	conn := dial(t, server)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(Message{Type: "teleport"}))
	msg := readMessage(t, conn)
	assert.Equal(t, EventError, msg.Type)
	assert.Contains(t, msg.Error, "teleport")
}

func TestDispatch(t *testing.T) {
	ctrl := newMockController()
	video := &mockVideo{}
	settings := &mockSettings{}
	bridge, err := New(ctrl, WithVideo(video), WithSettings(settings))
	require.NoError(t, err)
	defer bridge.Close()

	require.NoError(t, bridge.Dispatch(Message{Type: EventSettings}))
	require.NoError(t, bridge.Dispatch(Message{Type: EventReload}))
	require.NoError(t, bridge.Dispatch(Message{Type: EventUnload}))
	assert.Equal(t, []string{"settings", "reload", "unload"}, ctrl.recorded())
	assert.Equal(t, 1, settings.reloads)

	settings.err = errReload
	assert.ErrorIs(t, bridge.Dispatch(Message{Type: EventSettings}), errReload)
	assert.Len(t, ctrl.recorded(), 3, "a failed reload does not restart")

	require.NoError(t, bridge.Dispatch(Message{Type: EventPictureInPicture, Enabled: true}))
	require.NoError(t, bridge.Dispatch(Message{Type: EventPause}))
	require.NoError(t, bridge.Dispatch(Message{Type: EventPlay}))
	require.NoError(t, bridge.Dispatch(Message{Type: EventResize, Width: 640, Height: 480}))
	assert.Equal(t, []string{"pip:true", "pause", "play", "resize:640x480"}, video.calls)

	assert.ErrorIs(t, bridge.Dispatch(Message{Type: EventState}), ErrUnknownEvent)
}

func TestDispatch_WithoutVideo(t *testing.T) {
	bridge, err := New(newMockController())
	require.NoError(t, err)
	defer bridge.Close()

	assert.ErrorIs(t, bridge.Dispatch(Message{Type: EventPause}), ErrNoVideo)
}

func TestState(t *testing.T) {
	ctrl := newMockController()
	ctrl.RequestVisible(true)
	bridge, err := New(ctrl)
	require.NoError(t, err)
	defer bridge.Close()

	server := httptest.NewServer(bridge.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/state")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var state map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Equal(t, "mjpg", state["mode"])
	assert.Equal(t, true, state["visible"])
}

func TestSnapshot(t *testing.T) {
	frames := &mockFrames{}
	bridge, err := New(newMockController(), WithFrames(frames))
	require.NoError(t, err)
	defer bridge.Close()

	server := httptest.NewServer(bridge.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/snapshot.jpg")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	frames.frame = []byte{0xff, 0xd8, 0xff}
	resp, err = http.Get(server.URL + "/snapshot.jpg")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, frames.frame, body)
}

func TestHome(t *testing.T) {
	bridge, err := New(newMockController())
	require.NoError(t, err)
	defer bridge.Close()

	server := httptest.NewServer(bridge.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "/events")

	resp, err = http.Get(server.URL + "/missing")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type mockController struct {
	mu      sync.Mutex
	state   controller.State
	calls   []string
	changes observable.Feed[controller.State]
}

func newMockController() *mockController {
	return &mockController{}
}

func (m *mockController) RequestVisible(visible bool) {
	m.mu.Lock()
	m.state.Visible = visible
	m.state.Mode = stream.ModeNone
	if visible {
		m.state.Mode = stream.ModePull
	}
	state := m.state
	m.mu.Unlock()

	m.changes.Publish(state)
}

func (m *mockController) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, call)
}

func (m *mockController) OnSettingsChanged() { m.record("settings") }

func (m *mockController) Reload() { m.record("reload") }

func (m *mockController) OnUnload() { m.record("unload") }

func (m *mockController) State() controller.State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

func (m *mockController) Subscribe(fn func(controller.State)) func() {
	return m.changes.Subscribe(fn)
}

func (m *mockController) recorded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.calls...)
}

type mockVideo struct {
	calls []string
}

func (m *mockVideo) SetPictureInPicture(enabled bool) {
	if enabled {
		m.calls = append(m.calls, "pip:true")
	} else {
		m.calls = append(m.calls, "pip:false")
	}
}

func (m *mockVideo) Pause() { m.calls = append(m.calls, "pause") }

func (m *mockVideo) Play() error {
	m.calls = append(m.calls, "play")

	return nil
}

func (m *mockVideo) Resize(width, height int) {
	m.calls = append(m.calls, "resize:"+itoa(width)+"x"+itoa(height))
}

func itoa(v int) string {
	b, _ := json.Marshal(v)

	return string(b)
}

type mockSettings struct {
	reloads int
	err     error
}

func (m *mockSettings) Reload() error {
	if m.err != nil {
		return m.err
	}
	m.reloads++

	return nil
}

type mockFrames struct {
	frame []byte
}

func (m *mockFrames) Frame() ([]byte, uint64) {
	return m.frame, uint64(len(m.frame))
}
