// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

//go:build !js
// +build !js

// Package negotiated implements the WebRTC transport: it negotiates a
// receive-only peer connection with camera-streamer and plays the incoming
// video track on a video surface.
package negotiated

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/pion/camstream/config"
	"github.com/pion/camstream/observable"
	"github.com/pion/camstream/stream"
	"github.com/pion/camstream/surface"
	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// ErrConnectionFailed is reported when ICE or DTLS fails after signaling.
var ErrConnectionFailed = errors.New("peer connection failed")

// Adapter is the negotiated stream Transport.
type Adapter struct {
	settingEngine *webrtc.SettingEngine
	mediaEngine   *webrtc.MediaEngine
	registry      *interceptor.Registry

	httpClient    *http.Client
	origin        *url.URL
	loggerFactory logging.LoggerFactory
	log           logging.LeveledLogger

	video surface.Video
	pip   *observable.Value[bool]

	settings       config.Source
	cancelSettings func()

	mu          sync.Mutex
	session     *session
	rotate90    bool
	rotateVideo bool
}

// session is one negotiation attempt and the peer connection it produced.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	snap   config.Snapshot
	events stream.Events
	client *Client

	// Guarded by Adapter.mu.
	id string
	pc *webrtc.PeerConnection
}

// NewAdapter creates an Adapter playing on video.
func NewAdapter(video surface.Video, opts ...Option) (*Adapter, error) {
	adapter := &Adapter{
		settingEngine: &webrtc.SettingEngine{},
		mediaEngine:   &webrtc.MediaEngine{},
		registry:      &interceptor.Registry{},
		httpClient:    http.DefaultClient,
		loggerFactory: logging.NewDefaultLoggerFactory(),
		video:         video,
		pip:           observable.NewValue(false),
		rotateVideo:   true,
	}
	adapter.log = adapter.loggerFactory.NewLogger("negotiated")
	if err := adapter.mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(adapter); err != nil {
			return nil, err
		}
	}

	if adapter.settings != nil {
		snap := adapter.settings.Snapshot()
		adapter.rotate90, adapter.rotateVideo = snap.Rotate90, snap.RotateVideo
		adapter.cancelSettings = adapter.settings.Subscribe(adapter.onSettings)
	}

	return adapter, nil
}

// PictureInPicture reports whether the video surface is floating.
func (a *Adapter) PictureInPicture() *observable.Value[bool] {
	return a.pip
}

// SessionID returns the id of the live session, "" when there is none or
// the server has not answered yet.
func (a *Adapter) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session == nil {
		return ""
	}

	return a.session.id
}

// Start implements stream.Transport. A live session is closed first.
func (a *Adapter) Start(ctx context.Context, snap config.Snapshot, events stream.Events) error {
	if err := a.Stop(); err != nil {
		a.log.Warnf("Failed to close previous session: %v", err)
	}

	endpoint, err := a.endpoint(snap)
	if err != nil {
		return err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	sess := &session{
		ctx:    sessionCtx,
		cancel: cancel,
		snap:   snap,
		events: events,
		client: NewClient(endpoint, a.httpClient, a.loggerFactory.NewLogger("signaling")),
	}

	a.mu.Lock()
	a.session = sess
	a.rotate90, a.rotateVideo = snap.Rotate90, snap.RotateVideo
	a.video.SetHandler(func(event surface.VideoEvent) {
		a.onVideoEvent(sess, event)
	})
	a.mu.Unlock()

	a.log.Debugf("Starting WebRTC stream from %s", endpoint)
	go a.negotiate(sess)

	return nil
}

func (a *Adapter) endpoint(snap config.Snapshot) (string, error) {
	u, err := url.Parse(snap.NegotiatedURL())
	if err != nil {
		return "", fmt.Errorf("parse webrtc url: %w", err)
	}
	if a.origin != nil {
		u = a.origin.ResolveReference(u)
	}

	return u.String(), nil
}

// Stop implements stream.Transport.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	sess := a.session
	a.session = nil
	var pc *webrtc.PeerConnection
	var id string
	if sess != nil {
		sess.cancel()
		pc, id = sess.pc, sess.id
	}
	a.video.SetHandler(nil)
	a.video.Detach()
	a.mu.Unlock()

	a.pip.Set(false)
	if pc == nil {
		return nil
	}
	a.log.Debugf("Closing peer connection for session %s", id)

	return pc.Close()
}

// Close stops the stream and releases the settings subscription.
func (a *Adapter) Close() error {
	if a.cancelSettings != nil {
		a.cancelSettings()
	}

	return a.Stop()
}

func (a *Adapter) negotiate(sess *session) {
	ctx := sess.ctx
	if timeout := sess.snap.NegotiationTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := a.signal(ctx, sess); err != nil {
		a.fail(sess, err)
	}
}

// signal runs the offer/answer exchange. Every await point is followed by a
// check that sess is still the live session.
func (a *Adapter) signal(ctx context.Context, sess *session) error {
	offer, err := sess.client.Request(ctx, sess.snap.STUNServers)
	if err != nil {
		return fmt.Errorf("request session: %w", err)
	}

	peerConnection, err := webrtc.NewAPI(
		webrtc.WithSettingEngine(*a.settingEngine),
		webrtc.WithInterceptorRegistry(a.registry),
		webrtc.WithMediaEngine(a.mediaEngine),
	).NewPeerConnection(webrtc.Configuration{
		ICEServers: iceServers(offer.ICEServers, sess.snap.STUNServers),
	})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	a.mu.Lock()
	if a.session != sess {
		a.mu.Unlock()
		if closeErr := peerConnection.Close(); closeErr != nil {
			a.log.Debugf("failed to close stale peer connection: %v", closeErr)
		}

		return stream.ErrStaleSession
	}
	sess.id = offer.ID
	sess.pc = peerConnection
	a.mu.Unlock()

	if _, err = peerConnection.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return fmt.Errorf("add transceiver: %w", err)
	}

	peerConnection.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		a.log.Debugf("track event: %s", track.Kind())
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}

		a.mu.Lock()
		defer a.mu.Unlock()
		if a.session == sess {
			a.video.Attach(track)
		}
	})

	peerConnection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		a.log.Infof("Peer Connection State has changed: %s", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			go a.fail(sess, ErrConnectionFailed)
		}
	})

	if sess.snap.Trickle {
		peerConnection.OnICECandidate(func(candidate *webrtc.ICECandidate) {
			if candidate == nil {
				return
			}
			go a.sendCandidate(sess, candidate.ToJSON())
		})
	}

	if err = peerConnection.SetRemoteDescription(offer.Description); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	answer, err := peerConnection.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}

	var gatherComplete <-chan struct{}
	if !sess.snap.Trickle {
		gatherComplete = webrtc.GatheringCompletePromise(peerConnection)
	}
	if err = peerConnection.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	if gatherComplete != nil {
		select {
		case <-gatherComplete:
		case <-ctx.Done():
			return fmt.Errorf("gather candidates: %w", ctx.Err())
		}
	}

	if !a.active(sess) {
		return stream.ErrStaleSession
	}

	if err = sess.client.SendDescription(ctx, offer.ID, *peerConnection.LocalDescription()); err != nil {
		return fmt.Errorf("send local description: %w", err)
	}
	a.log.Debugf("Session %s negotiated", offer.ID)

	return nil
}

func (a *Adapter) sendCandidate(sess *session, candidate webrtc.ICECandidateInit) {
	a.mu.Lock()
	id := sess.id
	a.mu.Unlock()

	if err := sess.client.SendCandidate(sess.ctx, id, candidate); err != nil && sess.ctx.Err() == nil {
		a.log.Errorf("Error sending remote candidate: %v", err)
	}
}

// fail tears sess down and reports err once. Results for a superseded
// session are dropped.
func (a *Adapter) fail(sess *session, err error) {
	a.mu.Lock()
	if a.session != sess {
		a.mu.Unlock()
		a.log.Debugf("Discarding result of superseded session: %v", err)

		return
	}
	a.session = nil
	sess.cancel()
	pc := sess.pc
	a.video.SetHandler(nil)
	a.video.Detach()
	a.mu.Unlock()

	a.pip.Set(false)
	if pc != nil {
		if closeErr := pc.Close(); closeErr != nil {
			a.log.Debugf("failed to close peer connection: %v", closeErr)
		}
	}

	a.log.Errorf("Error loading WebRTC stream: %v", err)
	sess.events.Failure(err)
}

func (a *Adapter) active(sess *session) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.session == sess
}

func (a *Adapter) onVideoEvent(sess *session, event surface.VideoEvent) {
	if !a.active(sess) {
		return
	}

	switch event {
	case surface.EventEnterPictureInPicture:
		a.pip.Set(true)
		sess.events.PictureInPicture(true)
	case surface.EventLeavePictureInPicture:
		a.pip.Set(false)
		sess.events.PictureInPicture(false)
	case surface.EventPause:
		// Some platforms pause floating video on their own.
		if a.pip.Get() {
			a.log.Warn("Video paused but we're PiP, playing again")
			if err := a.video.Play(); err != nil {
				a.log.Warnf("Failed to resume video: %v", err)
			}
		}
	case surface.EventPlay:
		sess.events.Ready()
	case surface.EventResize:
		a.applyRotation()
	}
}

func (a *Adapter) onSettings(snap config.Snapshot) {
	a.mu.Lock()
	changed := a.rotate90 != snap.Rotate90
	a.rotate90, a.rotateVideo = snap.Rotate90, snap.RotateVideo
	a.mu.Unlock()

	if changed {
		a.applyRotation()
	}
}

// applyRotation sizes the surface for a quarter turn: the container becomes
// square and the video swaps its width and height.
func (a *Adapter) applyRotation() {
	a.mu.Lock()
	rotate, enabled := a.rotate90, a.rotateVideo
	a.mu.Unlock()

	if !enabled {
		return
	}
	if !rotate {
		a.video.SetStyle(surface.Style{})

		return
	}

	width, _ := a.video.ContainerSize()
	a.video.SetStyle(surface.Style{Rotated: true, ContainerHeight: width})
	_, height := a.video.ContainerSize()
	a.video.SetStyle(surface.Style{
		Rotated:         true,
		ContainerHeight: width,
		VideoWidth:      height,
		VideoHeight:     width,
	})
}

// iceServers prefers the list sent by the server. Older camera-streamer
// releases do not send one.
func iceServers(fromServer []ICEServer, stunServers []string) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(fromServer))
	for _, server := range fromServer {
		if len(server.URLs) > 0 {
			servers = append(servers, server.toWebRTC())
		}
	}
	if len(servers) > 0 {
		return servers
	}
	if len(stunServers) == 0 {
		return nil
	}

	return []webrtc.ICEServer{{URLs: stunServers}}
}
