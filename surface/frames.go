// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package surface

import (
	"strings"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// H.264 NAL unit types inspected for keyframes.
const (
	naluTypeMask = 0x1F
	naluIDR      = 5
	naluSPS      = 7
	naluSTAPA    = 24
	naluFUA      = 28
	fuStartBit   = 0x80
)

// frameCounter counts complete frames and keyframes in an RTP stream.
// A frame ends on the marker bit.
type frameCounter struct {
	mimeType string

	frames      uint64
	keyFrames   uint64
	frameHasKey bool
}

func newFrameCounter(mimeType string) *frameCounter {
	return &frameCounter{mimeType: strings.ToLower(mimeType)}
}

// push accounts for packet and reports whether it completed a frame.
func (f *frameCounter) push(packet *rtp.Packet) bool {
	if isKeyFrame(f.mimeType, packet.Payload) {
		f.frameHasKey = true
	}
	if !packet.Marker {
		return false
	}

	f.frames++
	if f.frameHasKey {
		f.keyFrames++
	}
	f.frameHasKey = false

	return true
}

func isKeyFrame(mimeType string, payload []byte) bool {
	switch mimeType {
	case "video/vp8":
		vp8 := &codecs.VP8Packet{}
		if _, err := vp8.Unmarshal(payload); err != nil || len(vp8.Payload) == 0 {
			return false
		}

		// P bit clear on the first partition of a frame.
		return vp8.S == 1 && vp8.PID == 0 && vp8.Payload[0]&0x01 == 0
	case "video/vp9":
		vp9 := &codecs.VP9Packet{}
		if _, err := vp9.Unmarshal(payload); err != nil {
			return false
		}

		return vp9.B && !vp9.P
	case "video/h264":
		return h264KeyFrame(payload)
	default:
		return false
	}
}

func h264KeyFrame(payload []byte) bool {
	if len(payload) < 2 {
		return false
	}

	switch nalu := payload[0] & naluTypeMask; nalu {
	case naluIDR, naluSPS:
		return true
	case naluFUA:
		return payload[1]&fuStartBit != 0 && payload[1]&naluTypeMask == naluIDR
	case naluSTAPA:
		for offset := 1; offset+2 < len(payload); {
			size := int(payload[offset])<<8 | int(payload[offset+1])
			offset += 2
			if offset >= len(payload) {
				return false
			}
			if t := payload[offset] & naluTypeMask; t == naluIDR || t == naluSPS {
				return true
			}
			offset += size
		}

		return false
	default:
		return false
	}
}
