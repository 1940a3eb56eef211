// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

const (
	maxSequenceNumberPlusOne = int64(65536)
	breakpoint               = 32768 // half of max uint16
)

type unwrapper struct {
	init          bool
	lastUnwrapped int64
}

func isNewer(value, previous uint16) bool {
	if value-previous == breakpoint {
		return value > previous
	}

	return value != previous && (value-previous) < breakpoint
}

func (u *unwrapper) unwrap(i uint16) int64 {
	if !u.init {
		u.init = true
		u.lastUnwrapped = int64(i)

		return u.lastUnwrapped
	}

	lastWrapped := uint16(u.lastUnwrapped) // #nosec G115
	delta := int64(i - lastWrapped)
	if isNewer(i, lastWrapped) {
		if delta < 0 {
			delta += maxSequenceNumberPlusOne
		}
	} else if delta > 0 && u.lastUnwrapped+delta-maxSequenceNumberPlusOne >= 0 {
		delta -= maxSequenceNumberPlusOne
	}

	u.lastUnwrapped += delta

	return u.lastUnwrapped
}

// RTPFormatter writes one CSV line per received RTP packet:
// unix ms, payload type, ssrc, sequence number, timestamp, marker, size,
// unwrapped sequence number. Sequence numbers are unwrapped per SSRC.
type RTPFormatter struct {
	mu     sync.Mutex
	seqnrs map[uint32]*unwrapper
}

// RTPFormat implements the packetdump RTP format callback.
func (f *RTPFormatter) RTPFormat(pkt *rtp.Packet, _ interceptor.Attributes) string {
	f.mu.Lock()
	if f.seqnrs == nil {
		f.seqnrs = map[uint32]*unwrapper{}
	}
	seqnr, ok := f.seqnrs[pkt.SSRC]
	if !ok {
		seqnr = &unwrapper{}
		f.seqnrs[pkt.SSRC] = seqnr
	}
	unwrapped := seqnr.unwrap(pkt.SequenceNumber)
	f.mu.Unlock()

	return fmt.Sprintf("%v, %v, %v, %v, %v, %v, %v, %v\n",
		time.Now().UnixMilli(),
		pkt.PayloadType,
		pkt.SSRC,
		pkt.SequenceNumber,
		pkt.Timestamp,
		pkt.Marker,
		pkt.MarshalSize(),
		unwrapped,
	)
}

// RTCPFormat writes one CSV line per RTCP compound packet sent back to the
// camera: unix ms, size, and the packet kinds it carried.
func RTCPFormat(pkts []rtcp.Packet, _ interceptor.Attributes) string {
	now := time.Now().UnixMilli()
	size := 0
	kinds := make([]string, 0, len(pkts))
	for _, pkt := range pkts {
		size += pkt.MarshalSize()
		kinds = append(kinds, rtcpKind(pkt))
	}

	return fmt.Sprintf("%v, %v, %v\n", now, size, strings.Join(kinds, "|"))
}

func rtcpKind(pkt rtcp.Packet) string {
	switch pkt.(type) {
	case *rtcp.ReceiverReport:
		return "rr"
	case *rtcp.SenderReport:
		return "sr"
	case *rtcp.PictureLossIndication:
		return "pli"
	case *rtcp.FullIntraRequest:
		return "fir"
	case *rtcp.TransportLayerNack:
		return "nack"
	case *rtcp.TransportLayerCC:
		return "twcc"
	case *rtcp.ReceiverEstimatedMaximumBitrate:
		return "remb"
	default:
		return "other"
	}
}
