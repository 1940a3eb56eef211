// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package controller implements the stream-mode state machine: it picks the
// transport, debounces visibility driven stops and falls back to the pull
// stream when the negotiated stream fails.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/camstream/config"
	"github.com/pion/camstream/observable"
	"github.com/pion/camstream/stream"
	"github.com/pion/logging"
)

// ErrStopPanicked wraps a panic recovered from a transport Stop.
var ErrStopPanicked = errors.New("transport stop panicked")

// Timer is a pending delayed call.
type Timer interface {
	// Stop prevents the call, reporting false if it already ran.
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func systemAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option configures a Controller.
type Option func(*Controller) error

// SetLoggerFactory sets the logger factory.
func SetLoggerFactory(loggerFactory logging.LoggerFactory) Option {
	return func(c *Controller) error {
		c.log = loggerFactory.NewLogger("controller")

		return nil
	}
}

// WithAfterFunc replaces the timer source used for debounced stops.
func WithAfterFunc(afterFunc AfterFunc) Option {
	return func(c *Controller) error {
		c.afterFunc = afterFunc

		return nil
	}
}

// WithContext sets the context handed to transports. It should outlive
// every stream.
func WithContext(ctx context.Context) Option {
	return func(c *Controller) error {
		c.ctx = ctx

		return nil
	}
}

// State is the host visible controller state.
type State struct {
	Mode             stream.Mode `json:"mode"`
	Visible          bool        `json:"visible"`
	Loading          bool        `json:"loading"`
	Degraded         bool        `json:"degraded"`
	PictureInPicture bool        `json:"pictureInPicture"`
	StopPending      bool        `json:"stopPending"`
	Class            string      `json:"class"`
}

// Controller owns the widget stream. All methods are safe for concurrent
// use and return without waiting for network I/O.
type Controller struct {
	source     config.Source
	pull       stream.Transport
	negotiated stream.Transport
	log        logging.LeveledLogger
	afterFunc  AfterFunc
	ctx        context.Context

	mode     *observable.Value[stream.Mode]
	loading  *observable.Value[bool]
	degraded *observable.Value[bool]
	pip      *observable.Value[bool]
	changes  observable.Feed[State]

	notifyMu  sync.Mutex
	published State

	mu      sync.Mutex
	state   State
	timer   Timer
	timerID uint64
	// attempt identifies the running transport start. Events carrying an
	// older attempt are stale.
	attempt uint64
	// halted suppresses visibility driven starts after a pull load failure.
	halted   bool
	unloaded bool
}

// New creates a Controller in ModeNone.
func New(source config.Source, pull, negotiated stream.Transport, opts ...Option) (*Controller, error) {
	c := &Controller{
		source:     source,
		pull:       pull,
		negotiated: negotiated,
		log:        logging.NewDefaultLoggerFactory().NewLogger("controller"),
		afterFunc:  systemAfterFunc,
		ctx:        context.Background(),
		mode:       observable.NewValue(stream.ModeNone),
		loading:    observable.NewValue(false),
		degraded:   observable.NewValue(false),
		pip:        observable.NewValue(false),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.state.Class = Class(source.Snapshot())
	c.published = c.state

	return c, nil
}

// Mode is the active transport.
func (c *Controller) Mode() *observable.Value[stream.Mode] { return c.mode }

// Loading is true from a transport start until media shows.
func (c *Controller) Loading() *observable.Value[bool] { return c.loading }

// Degraded is true while the pull stream runs as a fallback.
func (c *Controller) Degraded() *observable.Value[bool] { return c.degraded }

// PictureInPicture mirrors the video surface floating state.
func (c *Controller) PictureInPicture() *observable.Value[bool] { return c.pip }

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Subscribe calls fn after every state change. fn must not call back into
// the controller's mutating methods.
func (c *Controller) Subscribe(fn func(State)) (cancel func()) {
	return c.changes.Subscribe(fn)
}

// RequestVisible reports a widget visibility change.
func (c *Controller) RequestVisible(visible bool) {
	c.mu.Lock()
	c.requestVisibleLocked(visible)
	c.mu.Unlock()

	c.notify()
}

func (c *Controller) requestVisibleLocked(visible bool) {
	if c.unloaded || visible == c.state.Visible {
		return
	}
	c.state.Visible = visible

	if c.state.PictureInPicture && c.source.Snapshot().KeepAliveInPictureInPicture {
		c.log.Debug("Visibility changed while in picture-in-picture, keeping stream")

		return
	}

	if visible {
		if c.cancelTimerLocked() {
			c.log.Debug("Aborting timeout")

			return
		}
		if c.halted {
			c.log.Debug("Not restarting after a stream error")

			return
		}
		c.startLocked()

		return
	}

	c.stopLocked(false)
}

// Start starts the configured transport. A pending debounced stop is
// cancelled instead, leaving the running stream untouched.
func (c *Controller) Start() {
	c.mu.Lock()
	if !c.unloaded {
		c.halted = false
		c.startLocked()
	}
	c.mu.Unlock()

	c.notify()
}

// Stop stops the active transport, after the configured timeout unless
// force is set.
func (c *Controller) Stop(force bool) {
	c.mu.Lock()
	if !c.unloaded {
		c.stopLocked(force)
	}
	c.mu.Unlock()

	c.notify()
}

// OnSettingsChanged restarts the stream with fresh settings.
func (c *Controller) OnSettingsChanged() {
	c.restart("Settings changed, restarting stream")
}

// Reload restarts the stream on host request.
func (c *Controller) Reload() {
	c.restart("Reloading stream")
}

func (c *Controller) restart(reason string) {
	c.mu.Lock()
	if !c.unloaded {
		c.log.Debug(reason)
		c.halted = false
		c.state.Class = Class(c.source.Snapshot())
		c.stopLocked(true)
		c.startLocked()
	}
	c.mu.Unlock()

	c.notify()
}

// OnUnload stops the stream for good. Later triggers are ignored.
func (c *Controller) OnUnload() {
	c.mu.Lock()
	if !c.unloaded {
		c.log.Debug("Unloading, stopping stream")
		c.stopLocked(true)
		c.unloaded = true
	}
	c.mu.Unlock()

	c.notify()
}

func (c *Controller) startLocked() {
	if c.cancelTimerLocked() {
		c.log.Debug("Aborting timeout")

		return
	}

	c.log.Debug("Starting stream")
	snap := c.source.Snapshot()
	c.state.Degraded = false
	c.state.Class = Class(snap)

	mode, err := stream.ParseMode(snap.Mode)
	if err != nil {
		c.log.Errorf("Error starting stream: %v", err)
		c.fallbackLocked(snap)

		return
	}
	c.startModeLocked(mode, snap)
}

func (c *Controller) startModeLocked(mode stream.Mode, snap config.Snapshot) {
	if c.state.Mode != mode {
		c.stopTransportLocked(c.state.Mode)
	}

	c.attempt++
	attempt := c.attempt
	c.state.Mode = mode
	c.state.Loading = true
	c.state.PictureInPicture = false

	transport := c.transport(mode)
	if err := transport.Start(c.ctx, snap, c.events(mode, attempt)); err != nil {
		c.failedLocked(&stream.StartError{Mode: mode, Err: err})
	}
}

// fallbackLocked starts the pull stream after a failed start. A pull
// failure ends in ModeError rather than another fallback.
func (c *Controller) fallbackLocked(snap config.Snapshot) {
	c.log.Warn("Falling back to mjpg")
	c.state.Degraded = true
	c.startModeLocked(stream.ModePull, snap)
}

func (c *Controller) failedLocked(err *stream.StartError) {
	c.log.Errorf("%v", err)

	switch err.Mode {
	case stream.ModePull:
		c.stopTransportLocked(stream.ModePull)
		c.attempt++
		c.state.Mode = stream.ModeError
		c.state.Loading = false
		c.halted = true
	case stream.ModeNegotiated:
		c.fallbackLocked(c.source.Snapshot())
	case stream.ModeNone, stream.ModeError:
	}
}

func (c *Controller) stopLocked(force bool) {
	if force {
		c.cancelTimerLocked()
		c.stopNowLocked()

		return
	}

	c.cancelTimerLocked()
	timeout := c.source.Snapshot().StopTimeout
	c.log.Debugf("Stopping stream in %v", timeout)

	c.timerID++
	id := c.timerID
	c.timer = c.afterFunc(timeout, func() { c.onTimer(id) })
	c.state.StopPending = true
}

func (c *Controller) onTimer(id uint64) {
	c.mu.Lock()
	if c.timer == nil || id != c.timerID {
		c.mu.Unlock()

		return
	}
	c.timer = nil
	c.state.StopPending = false
	c.stopNowLocked()
	c.mu.Unlock()

	c.notify()
}

func (c *Controller) cancelTimerLocked() bool {
	if c.timer == nil {
		return false
	}
	c.timer.Stop()
	c.timer = nil
	c.state.StopPending = false

	return true
}

func (c *Controller) stopNowLocked() {
	c.log.Debug("Stopping stream")
	c.stopTransportLocked(c.state.Mode)
	c.attempt++
	c.state.Mode = stream.ModeNone
	c.state.Loading = false
	c.state.PictureInPicture = false
}

func (c *Controller) stopTransportLocked(mode stream.Mode) {
	transport := c.transport(mode)
	if transport == nil {
		return
	}
	if err := safeStop(transport); err != nil {
		c.log.Errorf("%v", &stream.StopError{Mode: mode, Err: err})
	}
}

func safeStop(transport stream.Transport) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrStopPanicked, r)
		}
	}()

	return transport.Stop()
}

func (c *Controller) transport(mode stream.Mode) stream.Transport {
	switch mode {
	case stream.ModePull:
		return c.pull
	case stream.ModeNegotiated:
		return c.negotiated
	case stream.ModeNone, stream.ModeError:
		return nil
	}

	return nil
}

func (c *Controller) events(mode stream.Mode, attempt uint64) stream.Events {
	return stream.Events{
		OnReady: func() {
			c.handle(attempt, func() { c.state.Loading = false })
		},
		OnFailure: func(err error) {
			c.handle(attempt, func() {
				c.failedLocked(&stream.StartError{Mode: mode, Err: err})
			})
		},
		OnPictureInPicture: func(enabled bool) {
			c.handle(attempt, func() { c.pictureInPictureLocked(enabled) })
		},
	}
}

// handle runs fn for events of the current attempt and drops the rest.
func (c *Controller) handle(attempt uint64, fn func()) {
	c.mu.Lock()
	if c.unloaded || attempt != c.attempt {
		c.mu.Unlock()
		c.log.Debugf("Ignoring event: %v", stream.ErrStaleSession)

		return
	}
	fn()
	c.mu.Unlock()

	c.notify()
}

func (c *Controller) pictureInPictureLocked(enabled bool) {
	if c.state.PictureInPicture == enabled {
		return
	}
	c.state.PictureInPicture = enabled

	if enabled {
		if c.cancelTimerLocked() {
			c.log.Debug("Entered picture-in-picture, aborting timeout")
		}

		return
	}
	if !c.state.Visible {
		c.log.Debug("Left picture-in-picture while hidden")
		c.stopLocked(false)
	}
}

// notify mirrors the state into the observables and publishes it. Calls
// are serialised so subscribers see states in order.
func (c *Controller) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	state := c.State()
	if state == c.published {
		return
	}
	c.published = state

	c.mode.Set(state.Mode)
	c.loading.Set(state.Loading)
	c.degraded.Set(state.Degraded)
	c.pip.Set(state.PictureInPicture)
	c.changes.Publish(state)
}

// Class is the CSS class list reflecting the flip and rotate settings.
func Class(snap config.Snapshot) string {
	classes := make([]string, 0, 3)
	if snap.FlipHorizontal {
		classes = append(classes, "csc-flipH")
	}
	if snap.FlipVertical {
		classes = append(classes, "csc-flipV")
	}
	if snap.Rotate90 {
		classes = append(classes, "csc-rotate90")
	}

	return strings.Join(classes, " ")
}
