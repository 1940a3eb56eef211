// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package surface implements the rendering surfaces the stream transports
// draw on: an image element fed by a pull stream and a video element fed by
// a WebRTC track.
package surface

import "github.com/pion/webrtc/v4"

// ImageHandler receives the load outcome of an image source.
type ImageHandler struct {
	OnLoad  func()
	OnError func(error)
}

func (h ImageHandler) load() {
	if h.OnLoad != nil {
		h.OnLoad()
	}
}

func (h ImageHandler) fail(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

// Image is an element displaying a pull stream resource.
type Image interface {
	// Source returns the bound resource, "" when unbound.
	Source() string
	// SetSource binds src. An empty src unbinds.
	SetSource(src string)
	// SetHandler replaces the load handler.
	SetHandler(h ImageHandler)
}

// VideoEvent is a notification raised by a video element.
type VideoEvent int

const (
	// EventResize fires when the container size changes.
	EventResize VideoEvent = iota
	// EventEnterPictureInPicture fires when floating playback starts.
	EventEnterPictureInPicture
	// EventLeavePictureInPicture fires when floating playback ends.
	EventLeavePictureInPicture
	// EventPause fires when playback pauses.
	EventPause
	// EventPlay fires when playback starts or resumes.
	EventPlay
)

func (e VideoEvent) String() string {
	switch e {
	case EventResize:
		return "resize"
	case EventEnterPictureInPicture:
		return "enterpictureinpicture"
	case EventLeavePictureInPicture:
		return "leavepictureinpicture"
	case EventPause:
		return "pause"
	case EventPlay:
		return "play"
	default:
		return "unknown"
	}
}

// Style is the sizing applied to the video and its container. The zero
// value clears any rotation sizing.
type Style struct {
	Rotated         bool
	ContainerHeight int
	VideoWidth      int
	VideoHeight     int
}

// Video is an element playing a negotiated media track.
type Video interface {
	// SetHandler replaces the event handler. nil removes it.
	SetHandler(fn func(VideoEvent))
	// Attach starts playing track, replacing any attached one.
	Attach(track *webrtc.TrackRemote)
	// Detach stops playback and releases the track.
	Detach()
	// Play resumes paused playback.
	Play() error
	// ContainerSize returns the layout size of the rotation container.
	ContainerSize() (width, height int)
	// SetStyle applies rotation sizing.
	SetStyle(style Style)
}
