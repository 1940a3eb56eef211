// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

//go:build !js
// +build !js

package surface

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264writer"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
)

// ErrNothingAttached is returned by Play when no track is attached.
var ErrNothingAttached = errors.New("no track attached")

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder) error

// SaveVideo records every attached track to files named after basePath.
func SaveVideo(basePath string) RecorderOption {
	return func(r *Recorder) error {
		r.outputBasePath = basePath

		return nil
	}
}

// SetContainerSize sets the initial layout size of the rotation container.
func SetContainerSize(width, height int) RecorderOption {
	return func(r *Recorder) error {
		r.width, r.height = width, height

		return nil
	}
}

// SetRecorderLoggerFactory sets the logger factory.
func SetRecorderLoggerFactory(loggerFactory logging.LoggerFactory) RecorderOption {
	return func(r *Recorder) error {
		r.log = loggerFactory.NewLogger("surface")

		return nil
	}
}

// RecorderStats counts media received on the attached track.
type RecorderStats struct {
	Packets   uint64 `json:"packets"`
	Bytes     uint64 `json:"bytes"`
	Frames    uint64 `json:"frames"`
	KeyFrames uint64 `json:"keyFrames"`
	Codec     string `json:"codec,omitempty"`
}

// Recorder is a Video surface that consumes the RTP of an attached track,
// optionally saving it to disk. Layout, picture-in-picture and pause state
// are driven by the host through Resize, SetPictureInPicture and Pause.
type Recorder struct {
	log            logging.LeveledLogger
	outputBasePath string

	mu            sync.Mutex
	handler       func(VideoEvent)
	cancel        context.CancelFunc
	generation    uint64
	attached      bool
	paused        bool
	pip           bool
	width, height int
	style         Style
	stats         RecorderStats
	trackCounter  int
}

// NewRecorder creates a Recorder with nothing attached.
func NewRecorder(opts ...RecorderOption) (*Recorder, error) {
	recorder := &Recorder{
		log: logging.NewDefaultLoggerFactory().NewLogger("surface"),
	}
	for _, opt := range opts {
		if err := opt(recorder); err != nil {
			return nil, err
		}
	}

	return recorder, nil
}

// SetHandler implements Video.
func (r *Recorder) SetHandler(fn func(VideoEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handler = fn
}

// Attach implements Video.
func (r *Recorder) Attach(track *webrtc.TrackRemote) {
	r.mu.Lock()
	r.detachLocked()

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.generation++
	r.attached = true
	r.paused = false
	r.stats = RecorderStats{Codec: track.Codec().MimeType}
	r.trackCounter++
	generation := r.generation
	writer := r.openWriterLocked(track.Codec().MimeType)
	r.mu.Unlock()

	r.log.Infof("Attached %s track %s", track.Kind(), track.ID())
	go r.consume(ctx, generation, track, writer)
}

// Detach implements Video.
func (r *Recorder) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.detachLocked()
}

func (r *Recorder) detachLocked() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.generation++
	r.attached = false
}

// Play implements Video.
func (r *Recorder) Play() error {
	r.mu.Lock()
	if !r.attached {
		r.mu.Unlock()

		return ErrNothingAttached
	}
	wasPaused := r.paused
	r.paused = false
	r.mu.Unlock()

	if wasPaused {
		r.emit(EventPlay)
	}

	return nil
}

// Pause pauses playback.
func (r *Recorder) Pause() {
	r.mu.Lock()
	if r.paused {
		r.mu.Unlock()

		return
	}
	r.paused = true
	r.mu.Unlock()

	r.emit(EventPause)
}

// Paused reports whether playback is paused.
func (r *Recorder) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.paused
}

// SetPictureInPicture enters or leaves floating playback.
func (r *Recorder) SetPictureInPicture(enabled bool) {
	r.mu.Lock()
	if r.pip == enabled {
		r.mu.Unlock()

		return
	}
	r.pip = enabled
	r.mu.Unlock()

	if enabled {
		r.emit(EventEnterPictureInPicture)
	} else {
		r.emit(EventLeavePictureInPicture)
	}
}

// Resize updates the container layout size.
func (r *Recorder) Resize(width, height int) {
	r.mu.Lock()
	r.width, r.height = width, height
	r.mu.Unlock()

	r.emit(EventResize)
}

// ContainerSize implements Video. A rotated container is square.
func (r *Recorder) ContainerSize() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.style.Rotated && r.style.ContainerHeight > 0 {
		return r.width, r.style.ContainerHeight
	}

	return r.width, r.height
}

// SetStyle implements Video.
func (r *Recorder) SetStyle(style Style) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.style = style
}

// Style returns the applied sizing.
func (r *Recorder) Style() Style {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.style
}

// Stats returns counters for the attached track.
func (r *Recorder) Stats() RecorderStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.stats
}

func (r *Recorder) emit(event VideoEvent) {
	r.mu.Lock()
	handler := r.handler
	r.mu.Unlock()

	if handler != nil {
		handler(event)
	}
}

// openWriterLocked creates the file writer for a new track, nil when not
// recording or the codec has no container.
func (r *Recorder) openWriterLocked(mimeType string) media.Writer {
	if r.outputBasePath == "" {
		return nil
	}

	var ext string
	switch {
	case strings.EqualFold(mimeType, webrtc.MimeTypeVP8), strings.EqualFold(mimeType, webrtc.MimeTypeVP9):
		ext = "ivf"
	case strings.EqualFold(mimeType, webrtc.MimeTypeH264):
		ext = "h264"
	default:
		r.log.Warnf("Not recording unsupported codec %s", mimeType)

		return nil
	}

	filename := filepath.Clean(fmt.Sprintf("%s_track-%d.%s", r.outputBasePath, r.trackCounter, ext))
	file, err := os.Create(filename) // #nosec G304 - path comes from the operator
	if err != nil {
		r.log.Errorf("Failed to create output file %s: %v", filename, err)

		return nil
	}

	var writer media.Writer
	if ext == "h264" {
		writer = h264writer.NewWith(file)
	} else {
		writer, err = ivfwriter.NewWith(file, ivfwriter.WithCodec(mimeType))
		if err != nil {
			r.log.Errorf("Failed to create IVF writer: %v", err)
			_ = file.Close()

			return nil
		}
	}
	r.log.Infof("Recording to %s", filename)

	return writer
}

func (r *Recorder) consume(ctx context.Context, generation uint64, track *webrtc.TrackRemote, writer media.Writer) {
	defer func() {
		if writer == nil {
			return
		}
		if err := writer.Close(); err != nil {
			r.log.Errorf("Failed to close recording: %v", err)
		}
	}()

	counter := newFrameCounter(track.Codec().MimeType)
	first := true
	for {
		if ctx.Err() != nil {
			return
		}
		if err := track.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			r.log.Debugf("failed to SetReadDeadline for track: %v", err)
		}

		packet, _, err := track.ReadRTP()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if !errors.Is(err, io.EOF) {
				r.log.Infof("track.ReadRTP returned error: %v", err)
			}

			return
		}

		r.mu.Lock()
		if generation != r.generation {
			r.mu.Unlock()

			return
		}
		r.stats.Packets++
		r.stats.Bytes += uint64(packet.MarshalSize()) // #nosec G115
		if counter.push(packet) {
			r.stats.Frames, r.stats.KeyFrames = counter.frames, counter.keyFrames
		}
		r.mu.Unlock()

		if writer != nil {
			if err := writer.WriteRTP(packet); err != nil {
				r.log.Errorf("Failed to write RTP packet: %v", err)
			}
		}

		if first {
			first = false
			r.emit(EventPlay)
		}
	}
}
