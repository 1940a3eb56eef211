// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package bridge

import "github.com/pion/camstream/controller"

// EventType tags the messages exchanged with the host page.
type EventType string

// Host to bridge events.
const (
	EventVisibility       EventType = "visibility"
	EventSettings         EventType = "settings"
	EventUnload           EventType = "unload"
	EventReload           EventType = "reload"
	EventPictureInPicture EventType = "pip"
	EventPause            EventType = "pause"
	EventPlay             EventType = "play"
	EventResize           EventType = "resize"
)

// Bridge to host events.
const (
	EventState EventType = "state"
	EventError EventType = "error"
)

// Message is a single websocket frame in either direction.
type Message struct {
	Type EventType `json:"type"`

	// Visible is set on visibility events.
	Visible bool `json:"visible,omitempty"`
	// Enabled is set on pip events.
	Enabled bool `json:"enabled,omitempty"`
	// Width and Height are set on resize events.
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`

	State *controller.State `json:"state,omitempty"`
	Error string            `json:"error,omitempty"`
}
