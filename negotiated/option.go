// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

//go:build !js
// +build !js

package negotiated

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pion/camstream/config"
	plog "github.com/pion/camstream/logging"
	"github.com/pion/interceptor/pkg/packetdump"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/pion/webrtc/v4"
)

// Option configures an Adapter.
type Option func(*Adapter) error

// SetLoggerFactory sets the logger factory for the adapter and its
// signaling client.
func SetLoggerFactory(loggerFactory logging.LoggerFactory) Option {
	return func(a *Adapter) error {
		a.loggerFactory = loggerFactory
		a.log = loggerFactory.NewLogger("negotiated")

		return nil
	}
}

// SetHTTPClient replaces the client used for signaling.
func SetHTTPClient(client *http.Client) Option {
	return func(a *Adapter) error {
		a.httpClient = client

		return nil
	}
}

// SetOrigin resolves a relative webrtc url against origin.
func SetOrigin(origin string) Option {
	return func(a *Adapter) error {
		u, err := url.Parse(origin)
		if err != nil {
			return fmt.Errorf("parse origin: %w", err)
		}
		a.origin = u

		return nil
	}
}

// SetConfigSource re-applies rotation sizing whenever rotate90 changes in
// source, without waiting for a restart.
func SetConfigSource(source config.Source) Option {
	return func(a *Adapter) error {
		a.settings = source

		return nil
	}
}

// SetVnet routes the peer connection through a virtual network.
func SetVnet(v *vnet.Net, publicIPs []string) Option {
	return func(a *Adapter) error {
		a.settingEngine.SetNet(v)
		a.settingEngine.SetICETimeouts(time.Second, time.Second, 200*time.Millisecond)
		a.settingEngine.SetNAT1To1IPs(publicIPs, webrtc.ICECandidateTypeHost)

		return nil
	}
}

// DefaultInterceptors registers NACK, RTCP reports and the other default
// receive-side interceptors.
func DefaultInterceptors() Option {
	return func(a *Adapter) error {
		return webrtc.RegisterDefaultInterceptors(a.mediaEngine, a.registry)
	}
}

// PacketLogWriter dumps every received RTP packet to rtpWriter and every
// RTCP packet sent back to rtcpWriter.
func PacketLogWriter(rtpWriter, rtcpWriter io.Writer) Option {
	return func(a *Adapter) error {
		formatter := &plog.RTPFormatter{}
		rtpLogger, err := packetdump.NewReceiverInterceptor(
			packetdump.RTPFormatter(formatter.RTPFormat),
			packetdump.RTPWriter(rtpWriter),
		)
		if err != nil {
			return err
		}
		rtcpLogger, err := packetdump.NewSenderInterceptor(
			packetdump.RTCPFormatter(plog.RTCPFormat),
			packetdump.RTCPWriter(rtcpWriter),
		)
		if err != nil {
			return err
		}
		a.registry.Add(rtpLogger)
		a.registry.Add(rtcpLogger)

		return nil
	}
}
