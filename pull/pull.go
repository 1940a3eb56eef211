// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package pull implements the MJPEG transport: it binds the stream url to an
// image surface and relays the load outcome.
package pull

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/camstream/config"
	"github.com/pion/camstream/stream"
	"github.com/pion/camstream/surface"
	"github.com/pion/logging"
)

// Option configures an Adapter.
type Option func(*Adapter) error

// SetLoggerFactory sets the logger factory.
func SetLoggerFactory(loggerFactory logging.LoggerFactory) Option {
	return func(a *Adapter) error {
		a.log = loggerFactory.NewLogger("pull")

		return nil
	}
}

// Adapter is the pull stream Transport.
type Adapter struct {
	image surface.Image
	log   logging.LeveledLogger

	mu      sync.Mutex
	binding uint64
	loaded  bool
}

// NewAdapter creates an Adapter drawing on image.
func NewAdapter(image surface.Image, opts ...Option) (*Adapter, error) {
	adapter := &Adapter{
		image: image,
		log:   logging.NewDefaultLoggerFactory().NewLogger("pull"),
	}
	for _, opt := range opts {
		if err := opt(adapter); err != nil {
			return nil, err
		}
	}

	return adapter, nil
}

// Start implements stream.Transport. The surface is only rebound when the
// url changes so a running stream keeps decoding.
func (a *Adapter) Start(_ context.Context, snap config.Snapshot, events stream.Events) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.binding++
	binding := a.binding
	src := snap.PullURL()

	a.image.SetHandler(surface.ImageHandler{
		OnLoad: func() {
			if a.markLoaded(binding) {
				events.Ready()
			}
		},
		OnError: func(err error) {
			if !a.current(binding) {
				return
			}
			a.log.Errorf("Mjpg stream failed to load at: %s", src)
			events.Failure(fmt.Errorf("load %s: %w", src, err))
		},
	})

	switch {
	case a.image.Source() != src:
		a.log.Debugf("Setting new MJPG stream: %s", src)
		a.loaded = false
		a.image.SetSource(src)
	case a.loaded:
		// Still showing the same stream, it will not load again.
		go func() {
			if a.current(binding) {
				events.Ready()
			}
		}()
	}

	return nil
}

// Stop implements stream.Transport.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.binding++
	a.loaded = false
	a.image.SetHandler(surface.ImageHandler{})
	if a.image.Source() != "" {
		a.image.SetSource("")
	}

	return nil
}

func (a *Adapter) current(binding uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return binding == a.binding
}

func (a *Adapter) markLoaded(binding uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if binding != a.binding {
		return false
	}
	a.loaded = true

	return true
}
