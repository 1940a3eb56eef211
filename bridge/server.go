// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package bridge connects the host page to the stream controller: host
// events arrive over a websocket and every state change is pushed back.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/camstream/controller"
	"github.com/pion/logging"
)

// Static errors for err113 compliance.
var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrNoVideo      = errors.New("no video surface")
)

const (
	sendBuffer        = 16
	writeWait         = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Controller is the part of the stream controller driven by the host.
type Controller interface {
	RequestVisible(visible bool)
	OnSettingsChanged()
	Reload()
	OnUnload()
	State() controller.State
	Subscribe(fn func(controller.State)) (cancel func())
}

// VideoHost receives the host driven video element events.
type VideoHost interface {
	SetPictureInPicture(enabled bool)
	Pause()
	Play() error
	Resize(width, height int)
}

// FrameSource yields the latest pull stream frame.
type FrameSource interface {
	Frame() ([]byte, uint64)
}

// SettingsReloader re-reads the settings store.
type SettingsReloader interface {
	Reload() error
}

// Option configures a Server.
type Option func(*Server) error

// SetLoggerFactory sets the logger factory.
func SetLoggerFactory(loggerFactory logging.LoggerFactory) Option {
	return func(s *Server) error {
		s.log = loggerFactory.NewLogger("bridge")

		return nil
	}
}

// WithVideo forwards pip, pause, play and resize events to video.
func WithVideo(video VideoHost) Option {
	return func(s *Server) error {
		s.video = video

		return nil
	}
}

// WithFrames serves the latest pull stream frame at /snapshot.jpg.
func WithFrames(frames FrameSource) Option {
	return func(s *Server) error {
		s.frames = frames

		return nil
	}
}

// WithSettings reloads settings before restarting on a settings event.
func WithSettings(settings SettingsReloader) Option {
	return func(s *Server) error {
		s.settings = settings

		return nil
	}
}

// Server handles websocket connections from the host page.
type Server struct {
	upgrader   *websocket.Upgrader
	controller Controller
	video      VideoHost
	frames     FrameSource
	settings   SettingsReloader
	log        logging.LeveledLogger

	mu      sync.Mutex
	clients map[*client]struct{}
	cancel  func()
}

type client struct {
	send chan Message
}

// New creates a bridge for ctrl.
func New(ctrl Controller, opts ...Option) (*Server, error) {
	s := &Server{
		upgrader:   &websocket.Upgrader{},
		controller: ctrl,
		log:        logging.NewDefaultLoggerFactory().NewLogger("bridge"),
		clients:    map[*client]struct{}{},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.cancel = ctrl.Subscribe(s.broadcast)

	return s, nil
}

// Close stops pushing state changes.
func (s *Server) Close() {
	s.cancel()
}

// Handler serves the host page, the event websocket, the state and the
// latest snapshot.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.home)
	mux.HandleFunc("/events", s.events)
	mux.HandleFunc("/state", s.state)
	mux.HandleFunc("/snapshot.jpg", s.snapshot)

	return mux
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("failed to shut down bridge: %v", err)
		}
	}()

	s.log.Infof("Bridge listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Dispatch applies a host event.
func (s *Server) Dispatch(msg Message) error {
	s.log.Debugf("Host event %s", msg.Type)

	switch msg.Type {
	case EventVisibility:
		s.controller.RequestVisible(msg.Visible)
	case EventSettings:
		if s.settings != nil {
			if err := s.settings.Reload(); err != nil {
				return fmt.Errorf("reload settings: %w", err)
			}
		}
		s.controller.OnSettingsChanged()
	case EventUnload:
		s.controller.OnUnload()
	case EventReload:
		s.controller.Reload()
	case EventPictureInPicture, EventPause, EventPlay, EventResize:
		return s.dispatchVideo(msg)
	case EventState, EventError:
		return fmt.Errorf("%w: %s is outbound only", ErrUnknownEvent, msg.Type)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, msg.Type)
	}

	return nil
}

func (s *Server) dispatchVideo(msg Message) error {
	if s.video == nil {
		return ErrNoVideo
	}

	switch msg.Type {
	case EventPictureInPicture:
		s.video.SetPictureInPicture(msg.Enabled)
	case EventPause:
		s.video.Pause()
	case EventPlay:
		return s.video.Play()
	case EventResize:
		s.video.Resize(msg.Width, msg.Height)
	}

	return nil
}

func (s *Server) broadcast(state controller.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients {
		select {
		case c.send <- Message{Type: EventState, State: &state}:
		default:
			s.log.Warn("Dropping state update for slow client")
		}
	}
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("s.upgrader.Upgrade: %v", err)

		return
	}
	defer func() {
		if err = wsConn.Close(); err != nil {
			s.log.Debugf("failed to close websocket connection: %v", err)
		}
	}()

	c := &client{send: make(chan Message, sendBuffer)}
	s.mu.Lock()
	state := s.controller.State()
	c.send <- Message{Type: EventState, State: &state}
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()

	done := make(chan struct{})
	defer close(done)
	go s.write(wsConn, c, done)

	for {
		var msg Message
		if err = wsConn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debugf("wsConn.ReadJSON: %v", err)
			}

			return
		}
		if err = s.Dispatch(msg); err != nil {
			s.log.Warnf("Failed to handle %s event: %v", msg.Type, err)
			select {
			case c.send <- Message{Type: EventError, Error: err.Error()}:
			default:
			}
		}
	}
}

func (s *Server) write(wsConn *websocket.Conn, c *client, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg := <-c.send:
			if err := wsConn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				s.log.Debugf("failed to set write deadline: %v", err)
			}
			if err := wsConn.WriteJSON(msg); err != nil {
				s.log.Errorf("c.WriteJSON: %v", err)

				return
			}
		}
	}
}

func (s *Server) state(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.controller.State()); err != nil {
		s.log.Errorf("failed to write state: %v", err)
	}
}

func (s *Server) snapshot(w http.ResponseWriter, _ *http.Request) {
	if s.frames == nil {
		http.NotFound(w, nil)

		return
	}
	frame, _ := s.frames.Frame()
	if len(frame) == 0 {
		http.Error(w, "no frame yet", http.StatusServiceUnavailable)

		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(frame); err != nil {
		s.log.Debugf("failed to write snapshot: %v", err)
	}
}

var homeTemplate = template.Must(template.New("").Parse(`
<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8">
    <title>camstream</title>
  </head>
  <body>
    <pre id="state"></pre>
    <script>
      const socket = new WebSocket("{{.}}");
      const send = (msg) => socket.readyState === 1 && socket.send(JSON.stringify(msg));
      socket.onopen = () => send({type: "visibility", visible: document.visibilityState === "visible"});
      socket.onmessage = (event) => {
        document.getElementById("state").textContent = JSON.stringify(JSON.parse(event.data), null, 2);
      };
      document.addEventListener("visibilitychange", () => {
        send({type: "visibility", visible: document.visibilityState === "visible"});
      });
      window.addEventListener("beforeunload", () => send({type: "unload"}));
    </script>
  </body>
</html>
`))

func (s *Server) home(respWriter http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		http.NotFound(respWriter, req)

		return
	}
	if err := homeTemplate.Execute(respWriter, "ws://"+req.Host+"/events"); err != nil {
		s.log.Errorf("failed to execute template: %v", err)
		http.Error(respWriter, "Internal server error", http.StatusInternalServerError)
	}
}
