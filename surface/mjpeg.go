// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package surface

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pion/logging"
)

// Static errors for err113 compliance.
var (
	ErrUnexpectedStatus  = errors.New("unexpected status")
	ErrUnsupportedFormat = errors.New("unsupported content type")
	ErrFrameTooLarge     = errors.New("frame too large")
	ErrStreamEnded       = errors.New("stream ended")
)

const maxFrameSize = 16 << 20

// MJPEGOption configures an MJPEG surface.
type MJPEGOption func(*MJPEG) error

// SetOrigin resolves relative sources against origin, the address of the
// page hosting the widget.
func SetOrigin(origin string) MJPEGOption {
	return func(m *MJPEG) error {
		u, err := url.Parse(origin)
		if err != nil {
			return fmt.Errorf("parse origin: %w", err)
		}
		m.origin = u

		return nil
	}
}

// SetHTTPClient replaces the client used to fetch the stream.
func SetHTTPClient(client *http.Client) MJPEGOption {
	return func(m *MJPEG) error {
		m.client = client

		return nil
	}
}

// SetMJPEGLoggerFactory sets the logger factory.
func SetMJPEGLoggerFactory(loggerFactory logging.LoggerFactory) MJPEGOption {
	return func(m *MJPEG) error {
		m.log = loggerFactory.NewLogger("surface")

		return nil
	}
}

// MJPEG is an Image surface that reads a multipart/x-mixed-replace JPEG
// stream over HTTP and keeps the latest frame.
type MJPEG struct {
	client *http.Client
	origin *url.URL
	log    logging.LeveledLogger

	mu         sync.Mutex
	src        string
	handler    ImageHandler
	cancel     context.CancelFunc
	generation uint64
	frame      []byte
	frames     uint64
}

// NewMJPEG creates an unbound MJPEG surface.
func NewMJPEG(opts ...MJPEGOption) (*MJPEG, error) {
	surface := &MJPEG{
		client: http.DefaultClient,
		log:    logging.NewDefaultLoggerFactory().NewLogger("surface"),
	}
	for _, opt := range opts {
		if err := opt(surface); err != nil {
			return nil, err
		}
	}

	return surface, nil
}

// Source implements Image.
func (m *MJPEG) Source() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.src
}

// SetHandler implements Image.
func (m *MJPEG) SetHandler(h ImageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handler = h
}

// SetSource implements Image. Binding always restarts the reader, even for
// the same src.
func (m *MJPEG) SetSource(src string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.generation++
	m.frames = 0
	m.src = src
	if src == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.read(ctx, m.generation, src)
}

// Frame returns the most recent JPEG frame and the number of frames read
// since the source was last bound.
func (m *MJPEG) Frame() ([]byte, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.frame, m.frames
}

func (m *MJPEG) read(ctx context.Context, generation uint64, src string) {
	err := m.stream(ctx, generation, src)
	if err == nil || ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	if generation != m.generation {
		m.mu.Unlock()

		return
	}
	handler := m.handler
	m.mu.Unlock()

	m.log.Debugf("MJPEG stream %s failed: %v", src, err)
	handler.fail(err)
}

func (m *MJPEG) stream(ctx context.Context, generation uint64, src string) error {
	target, err := m.resolve(src)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			m.log.Debugf("failed to close MJPEG body: %v", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}

	switch {
	case mediaType == "image/jpeg":
		frame, err := readFrame(resp.Body)
		if err != nil {
			return err
		}
		m.store(generation, frame)

		return nil
	case strings.HasPrefix(mediaType, "multipart/"):
		return m.readParts(generation, multipart.NewReader(resp.Body, params["boundary"]))
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, mediaType)
	}
}

func (m *MJPEG) readParts(generation uint64, reader *multipart.Reader) error {
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return ErrStreamEnded
		}
		if err != nil {
			return err
		}

		frame, err := readFrame(part)
		if err != nil {
			return err
		}
		if !m.store(generation, frame) {
			return nil
		}
	}
}

// store keeps frame and fires the load handler on the first frame of a
// binding. It reports false once the binding is stale.
func (m *MJPEG) store(generation uint64, frame []byte) bool {
	m.mu.Lock()
	if generation != m.generation {
		m.mu.Unlock()

		return false
	}
	first := m.frames == 0
	m.frame = frame
	m.frames++
	handler := m.handler
	m.mu.Unlock()

	if first {
		handler.load()
	}

	return true
}

func (m *MJPEG) resolve(src string) (string, error) {
	u, err := url.Parse(src)
	if err != nil {
		return "", err
	}
	if m.origin != nil {
		u = m.origin.ResolveReference(u)
	}

	return u.String(), nil
}

func readFrame(r io.Reader) ([]byte, error) {
	frame, err := io.ReadAll(io.LimitReader(r, maxFrameSize+1))
	if err != nil {
		return nil, err
	}
	if len(frame) > maxFrameSize {
		return nil, ErrFrameTooLarge
	}

	return frame, nil
}
