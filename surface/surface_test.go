// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

//go:build !js
// +build !js

package surface

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const boundary = "frameboundary"

func mjpegHandler(frames [][]byte, hold chan struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
		for _, frame := range frames {
			_, _ = fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(frame))
			_, _ = w.Write(frame)
			_, _ = w.Write([]byte("\r\n"))
		}
		if hold == nil {
			_, _ = fmt.Fprintf(w, "--%s--\r\n", boundary)

			return
		}

		// Open the next part so the last frame is complete, then stall.
		_, _ = fmt.Fprintf(w, "--%s\r\n", boundary)
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		<-hold
	}
}

func TestMJPEG_LoadsFrames(t *testing.T) {
	hold := make(chan struct{})
	server := httptest.NewServer(mjpegHandler([][]byte{{0xff, 0xd8, 0x01}, {0xff, 0xd8, 0x02}}, hold))
	defer server.Close()
	defer close(hold)

	image, err := NewMJPEG(SetOrigin(server.URL + "/webcam/"))
	require.NoError(t, err)

	events := &imageEvents{}
	image.SetHandler(events.handler())
	image.SetSource("stream")
	assert.Equal(t, "stream", image.Source())

	assert.Eventually(t, func() bool {
		_, frames := image.Frame()

		return frames == 2
	}, 2*time.Second, 10*time.Millisecond)

	frame, _ := image.Frame()
	assert.Equal(t, []byte{0xff, 0xd8, 0x02}, frame)
	assert.Equal(t, 1, events.loads(), "load should fire once per binding")
	assert.Equal(t, 0, events.failures())

	image.SetSource("")
	assert.Equal(t, "", image.Source())
}

func TestMJPEG_ReportsErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.NotFound(w, nil)
			},
			wantErr: ErrUnexpectedStatus,
		},
		{
			name: "wrong content type",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				_, _ = w.Write([]byte("<html></html>"))
			},
			wantErr: ErrUnsupportedFormat,
		},
		{
			name:    "stream ends",
			handler: mjpegHandler([][]byte{{0xff}}, nil),
			wantErr: ErrStreamEnded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			image, err := NewMJPEG()
			require.NoError(t, err)
			events := &imageEvents{}
			image.SetHandler(events.handler())
			image.SetSource(server.URL + "/stream")

			assert.Eventually(t, func() bool { return events.failures() == 1 }, 2*time.Second, 10*time.Millisecond)
			assert.ErrorIs(t, events.lastErr(), tt.wantErr)
		})
	}
}

func TestMJPEG_UnbindSuppressesEvents(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		http.NotFound(w, nil)
	}))
	defer server.Close()

	image, err := NewMJPEG()
	require.NoError(t, err)
	events := &imageEvents{}
	image.SetHandler(events.handler())

	image.SetSource(server.URL + "/stream")
	image.SetSource("")
	close(release)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, events.failures(), "an unbound source must not report")
}

func TestRecorder_HostEvents(t *testing.T) {
	recorder, err := NewRecorder(SetContainerSize(640, 480))
	require.NoError(t, err)

	var got []VideoEvent
	recorder.SetHandler(func(e VideoEvent) { got = append(got, e) })

	recorder.SetPictureInPicture(true)
	recorder.SetPictureInPicture(true)
	recorder.Pause()
	recorder.Pause()
	recorder.SetPictureInPicture(false)
	recorder.Resize(800, 600)

	assert.Equal(t, []VideoEvent{
		EventEnterPictureInPicture,
		EventPause,
		EventLeavePictureInPicture,
		EventResize,
	}, got)
	assert.True(t, recorder.Paused())

	assert.ErrorIs(t, recorder.Play(), ErrNothingAttached)

	recorder.SetHandler(nil)
	assert.NotPanics(t, func() { recorder.Resize(1, 1) })
}

func TestRecorder_Style(t *testing.T) {
	recorder, err := NewRecorder(SetContainerSize(640, 360))
	require.NoError(t, err)

	w, h := recorder.ContainerSize()
	assert.Equal(t, 640, w)
	assert.Equal(t, 360, h)

	recorder.SetStyle(Style{Rotated: true, ContainerHeight: 640})
	w, h = recorder.ContainerSize()
	assert.Equal(t, 640, w)
	assert.Equal(t, 640, h, "rotated container should be square")

	recorder.SetStyle(Style{})
	_, h = recorder.ContainerSize()
	assert.Equal(t, 360, h)
	assert.Equal(t, Style{}, recorder.Style())
}

func TestVideoEventString(t *testing.T) {
	assert.Equal(t, "enterpictureinpicture", EventEnterPictureInPicture.String())
	assert.Equal(t, "play", EventPlay.String())
	assert.Equal(t, "unknown", VideoEvent(42).String())
}

type imageEvents struct {
	mu      sync.Mutex
	loaded  int
	failed  int
	failure error
}

func (e *imageEvents) handler() ImageHandler {
	return ImageHandler{
		OnLoad: func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.loaded++
		},
		OnError: func(err error) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.failed++
			e.failure = err
		},
	}
}

func (e *imageEvents) loads() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.loaded
}

func (e *imageEvents) failures() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.failed
}

func (e *imageEvents) lastErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.failure
}
