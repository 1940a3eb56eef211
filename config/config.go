// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package config provides the read-only camera settings consumed by the
// stream controller and its transports.
package config

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/pion/logging"
	"github.com/pion/stun/v3"
	ini "gopkg.in/ini.v1"
)

// Static errors for err113 compliance.
var (
	ErrNegativeTimeout = errors.New("timeout must not be negative")
)

// Defaults mirror the settings shipped with camera-streamer.
const (
	DefaultMode           = "webrtc"
	DefaultBaseURL        = "/webcam/"
	DefaultPullPath       = "stream"
	DefaultNegotiatedPath = "webrtc"
	DefaultSTUN           = "stun:stun.l.google.com:19302"
	DefaultStopTimeout    = 5 * time.Second
)

// Snapshot is a read-only view of the camera settings at one instant.
type Snapshot struct {
	// Mode is the raw configured transport name, "mjpg" or "webrtc".
	Mode           string
	BaseURL        string
	PullPath       string
	NegotiatedPath string
	// STUNServers are the validated STUN/TURN urls from webrtc.stun.
	STUNServers []string
	// StopTimeout debounces visibility driven stops.
	StopTimeout time.Duration
	// NegotiationTimeout bounds the signaling round trip. Zero disables it.
	NegotiationTimeout time.Duration
	// Trickle forwards local ICE candidates as they are gathered instead of
	// waiting for gathering to complete.
	Trickle bool

	FlipHorizontal bool
	FlipVertical   bool
	Rotate90       bool

	// KeepAliveInPictureInPicture keeps the feed running off-screen while
	// picture-in-picture is active.
	KeepAliveInPictureInPicture bool
	// RotateVideo re-applies rotation sizing on resize and rotate90 changes.
	RotateVideo bool
}

// Default returns the settings used when nothing is configured.
func Default() Snapshot {
	return Snapshot{
		Mode:                        DefaultMode,
		BaseURL:                     DefaultBaseURL,
		PullPath:                    DefaultPullPath,
		NegotiatedPath:              DefaultNegotiatedPath,
		STUNServers:                 []string{DefaultSTUN},
		StopTimeout:                 DefaultStopTimeout,
		Trickle:                     true,
		KeepAliveInPictureInPicture: true,
		RotateVideo:                 true,
	}
}

// PullURL is the resource bound to the image surface.
func (s Snapshot) PullURL() string {
	return s.BaseURL + s.PullPath
}

// NegotiatedURL is the signaling endpoint.
func (s Snapshot) NegotiatedURL() string {
	return s.BaseURL + s.NegotiatedPath
}

// Equal reports whether both snapshots hold the same settings.
func (s Snapshot) Equal(other Snapshot) bool {
	if !slices.Equal(s.STUNServers, other.STUNServers) {
		return false
	}
	other.STUNServers = s.STUNServers

	return reflect.DeepEqual(s, other)
}

// Source exposes live settings. The stream packages never write to it.
type Source interface {
	Snapshot() Snapshot
	// Subscribe calls fn with the new snapshot whenever settings change.
	Subscribe(fn func(Snapshot)) (cancel func())
}

// Parse reads a snapshot from an ini document laid out like the plugin
// settings: top level keys plus [mjpg] and [webrtc] sections.
func Parse(cfg *ini.File, log logging.LeveledLogger) (Snapshot, error) {
	defaults := Default()
	snap := Snapshot{}

	sec := cfg.Section("")
	snap.Mode = strings.TrimSpace(sec.Key("mode").MustString(defaults.Mode))
	snap.BaseURL = sec.Key("url").MustString(defaults.BaseURL)
	timeout, err := seconds(sec.Key("timeout"), defaults.StopTimeout)
	if err != nil {
		return Snapshot{}, fmt.Errorf("timeout: %w", err)
	}
	snap.StopTimeout = timeout
	snap.FlipHorizontal = sec.Key("flipH").MustBool(false)
	snap.FlipVertical = sec.Key("flipV").MustBool(false)
	snap.Rotate90 = sec.Key("rotate90").MustBool(false)
	snap.KeepAliveInPictureInPicture = sec.Key("keep_alive_in_pip").MustBool(defaults.KeepAliveInPictureInPicture)
	snap.RotateVideo = sec.Key("rotate_video").MustBool(defaults.RotateVideo)

	sec = cfg.Section("mjpg")
	snap.PullPath = sec.Key("url").MustString(defaults.PullPath)

	sec = cfg.Section("webrtc")
	snap.NegotiatedPath = sec.Key("url").MustString(defaults.NegotiatedPath)
	stunList := DefaultSTUN
	if sec.HasKey("stun") {
		stunList = sec.Key("stun").String()
	}
	snap.STUNServers = ParseSTUNServers(stunList, log)
	snap.Trickle = sec.Key("trickle").MustBool(defaults.Trickle)
	negotiation, err := seconds(sec.Key("negotiation_timeout"), 0)
	if err != nil {
		return Snapshot{}, fmt.Errorf("webrtc.negotiation_timeout: %w", err)
	}
	snap.NegotiationTimeout = negotiation

	return snap, nil
}

// ParseSTUNServers splits a comma separated url list. Empty and invalid
// entries are dropped.
func ParseSTUNServers(list string, log logging.LeveledLogger) []string {
	servers := []string{}
	for _, raw := range strings.Split(list, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if _, err := stun.ParseURI(raw); err != nil {
			if log != nil {
				log.Warnf("Ignoring invalid ICE server %q: %v", raw, err)
			}

			continue
		}
		servers = append(servers, raw)
	}

	return servers
}

func seconds(key *ini.Key, fallback time.Duration) (time.Duration, error) {
	value := key.MustFloat64(fallback.Seconds())
	if value < 0 || math.IsNaN(value) {
		return 0, fmt.Errorf("%w: %v", ErrNegativeTimeout, value)
	}

	return time.Duration(value * float64(time.Second)), nil
}
