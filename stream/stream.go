// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package stream defines the stream modes and the contract shared by the
// transports that put a camera feed on a rendering surface.
package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/camstream/config"
)

// Mode is the transport currently driving the widget.
type Mode int

const (
	// ModeNone means no transport is active.
	ModeNone Mode = iota
	// ModePull is the MJPEG image stream.
	ModePull
	// ModeNegotiated is the WebRTC peer connection.
	ModeNegotiated
	// ModeError means the pull stream failed to load. No automatic recovery
	// is attempted from this mode.
	ModeError
)

// Configuration values for the transport mode.
const (
	ConfigPull       = "mjpg"
	ConfigNegotiated = "webrtc"
)

// Static errors for err113 compliance.
var (
	ErrUnknownMode  = errors.New("unknown video mode")
	ErrStaleSession = errors.New("session was superseded")
)

// ParseMode resolves a configured transport name.
func ParseMode(name string) (Mode, error) {
	switch name {
	case ConfigPull:
		return ModePull, nil
	case ConfigNegotiated:
		return ModeNegotiated, nil
	default:
		return ModeNone, fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return ""
	case ModePull:
		return ConfigPull
	case ModeNegotiated:
		return ConfigNegotiated
	case ModeError:
		return "error"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// MarshalText encodes the mode the way the host sees it.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode written by MarshalText.
func (m *Mode) UnmarshalText(text []byte) error {
	switch name := string(text); name {
	case "":
		*m = ModeNone
	case "error":
		*m = ModeError
	default:
		mode, err := ParseMode(name)
		if err != nil {
			return err
		}
		*m = mode
	}

	return nil
}

// Events are the asynchronous outcomes a transport reports after Start
// returned. Implementations never invoke them from inside Start or Stop.
type Events struct {
	// OnReady fires once media is showing on the surface.
	OnReady func()
	// OnFailure fires at most once per Start when the attempt fails after
	// Start has returned.
	OnFailure func(error)
	// OnPictureInPicture reports surface driven picture-in-picture changes.
	OnPictureInPicture func(enabled bool)
}

// Ready invokes OnReady if set.
func (e Events) Ready() {
	if e.OnReady != nil {
		e.OnReady()
	}
}

// Failure invokes OnFailure if set.
func (e Events) Failure(err error) {
	if e.OnFailure != nil {
		e.OnFailure(err)
	}
}

// PictureInPicture invokes OnPictureInPicture if set.
func (e Events) PictureInPicture(enabled bool) {
	if e.OnPictureInPicture != nil {
		e.OnPictureInPicture(enabled)
	}
}

// Transport binds a camera feed to a rendering surface.
//
// Start must return promptly; long running work continues in the background
// and reports through events. Stop must be idempotent.
type Transport interface {
	Start(ctx context.Context, snap config.Snapshot, events Events) error
	Stop() error
}
