// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

//go:build !js
// +build !js

package negotiated

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/pion/logging"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// Static errors for err113 compliance.
var (
	ErrUnexpectedStatus  = errors.New("signaling received unexpected status code")
	ErrMalformedResponse = errors.New("malformed signaling response")
	ErrNoVideo           = errors.New("remote description offers no video")
)

const maxResponseSize = 1 << 20

// MessageType tags the requests posted to the signaling endpoint.
type MessageType string

const (
	// MessageRequest asks the server for a new session.
	MessageRequest MessageType = "request"
	// MessageRemoteCandidate forwards local ICE candidates.
	MessageRemoteCandidate MessageType = "remote_candidate"
)

// ICEServer is an ICE server entry as exchanged with camera-streamer.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// UnmarshalJSON accepts "urls" as a single string or a list.
func (s *ICEServer) UnmarshalJSON(data []byte) error {
	var raw struct {
		URLs       json.RawMessage `json:"urls"`
		Username   string          `json:"username"`
		Credential string          `json:"credential"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Username, s.Credential = raw.Username, raw.Credential
	s.URLs = nil
	if len(raw.URLs) == 0 {
		return nil
	}

	var single string
	if err := json.Unmarshal(raw.URLs, &single); err == nil {
		s.URLs = []string{single}

		return nil
	}

	return json.Unmarshal(raw.URLs, &s.URLs)
}

func (s ICEServer) toWebRTC() webrtc.ICEServer {
	return webrtc.ICEServer{
		URLs:       s.URLs,
		Username:   s.Username,
		Credential: s.Credential,
	}
}

type sessionRequest struct {
	Type       MessageType `json:"type"`
	ICEServers []ICEServer `json:"iceServers,omitempty"`
}

type sessionResponse struct {
	ID         string      `json:"id"`
	ICEServers []ICEServer `json:"iceServers,omitempty"`
	Type       string      `json:"type"`
	SDP        string      `json:"sdp"`
}

type candidateMessage struct {
	Type       MessageType               `json:"type"`
	ID         string                    `json:"id"`
	Candidates []webrtc.ICECandidateInit `json:"candidates"`
}

type descriptionMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	SDP  string `json:"sdp"`
}

// Offer is the server reply to a session request.
type Offer struct {
	// ID keys every later message of the session.
	ID string
	// ICEServers is empty for servers that do not send a list.
	ICEServers  []ICEServer
	Description webrtc.SessionDescription
}

// Client speaks the camera-streamer signaling protocol: JSON bodies POSTed
// to a single endpoint.
type Client struct {
	url    string
	client *http.Client
	log    logging.LeveledLogger
}

// NewClient creates a Client for endpoint. A nil httpClient uses
// http.DefaultClient.
func NewClient(endpoint string, httpClient *http.Client, log logging.LeveledLogger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("signaling")
	}

	return &Client{url: endpoint, client: httpClient, log: log}
}

// Request opens a session, offering stunServers as a hint.
func (c *Client) Request(ctx context.Context, stunServers []string) (*Offer, error) {
	req := sessionRequest{Type: MessageRequest}
	if len(stunServers) > 0 {
		req.ICEServers = []ICEServer{{URLs: stunServers}}
	}

	body, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp sessionResponse
	if err = json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if err = validate(resp); err != nil {
		return nil, err
	}
	c.log.Debugf("Signaling session %s opened", resp.ID)

	return &Offer{
		ID:         resp.ID,
		ICEServers: resp.ICEServers,
		Description: webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  resp.SDP,
		},
	}, nil
}

// SendCandidate forwards a local ICE candidate.
func (c *Client) SendCandidate(ctx context.Context, id string, candidate webrtc.ICECandidateInit) error {
	_, err := c.post(ctx, candidateMessage{
		Type:       MessageRemoteCandidate,
		ID:         id,
		Candidates: []webrtc.ICECandidateInit{candidate},
	})

	return err
}

// SendDescription transmits the local description. The acknowledgement body
// is ignored.
func (c *Client) SendDescription(ctx context.Context, id string, desc webrtc.SessionDescription) error {
	_, err := c.post(ctx, descriptionMessage{
		Type: desc.Type.String(),
		ID:   id,
		SDP:  desc.SDP,
	})

	return err
}

func (c *Client) post(ctx context.Context, message any) ([]byte, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.log.Debugf("failed to close signaling body: %v", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedStatus, resp.Status)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
}

func validate(resp sessionResponse) error {
	if resp.ID == "" {
		return fmt.Errorf("%w: missing session id", ErrMalformedResponse)
	}
	if resp.Type != "" && resp.Type != webrtc.SDPTypeOffer.String() {
		return fmt.Errorf("%w: unexpected description type %q", ErrMalformedResponse, resp.Type)
	}
	if resp.SDP == "" {
		return fmt.Errorf("%w: missing sdp", ErrMalformedResponse)
	}

	desc := sdp.SessionDescription{}
	if err := desc.Unmarshal([]byte(resp.SDP)); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	for _, media := range desc.MediaDescriptions {
		if media.MediaName.Media == "video" {
			return nil
		}
	}

	return ErrNoVideo
}
