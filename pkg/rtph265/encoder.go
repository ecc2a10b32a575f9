// Package rtph265 packetizes H.265 access units into RTP packets per
// RFC 7798, fragmenting NAL units that exceed the configured MTU.
package rtph265

import (
	"fmt"

	"github.com/pion/rtp"

	"github.com/NoTouchingKids/h265-rtsp-publisher/pkg/ringbuffer"
	"github.com/NoTouchingKids/h265-rtsp-publisher/pkg/rtptime"
)

const (
	rtpVersion = 2

	naluTypeFU = 49

	// rtpHeaderSize is the fixed 12-byte RTP header: no CSRC, no extension.
	rtpHeaderSize = 12

	// fuHeaderSize is the payload-header + FU-header overhead of RFC 7798
	// fragmentation mode (2 bytes PayloadHdr + 1 byte FU header).
	fuHeaderSize = 3
)

// Encoder is a single-threaded RTP/H.265 packetizer. One Encoder exists
// per publishing session; it is never called concurrently (spec.md §4.3,
// §5).
type Encoder struct {
	// PayloadType is the RTP payload type announced in SDP (spec.md §4.6).
	PayloadType uint8

	// SSRC is fixed for the lifetime of the session (spec.md §3).
	SSRC uint32

	// MTU bounds the total RTP datagram size, default 1400.
	MTU int

	// MaxAccessUnitSize sizes the scratch buffer that access units are
	// copied into so the caller's buffer can be released immediately
	// (spec.md §4.3 step 1).
	MaxAccessUnitSize int

	// Out is the packetizer→UDP datagram ring (spec.md §4.2). Out must be
	// constructed before Init and is never replaced afterwards.
	Out *ringbuffer.RingBuffer[*ringbuffer.Datagram]

	seq     uint16
	scratch []byte
	pool    []*ringbuffer.Datagram
	poolPos uint64

	// Stats, updated synchronously on this goroutine only.
	PacketsEncoded    uint64
	PacketsFragmented uint64
	PacketsDropped    uint64
}

// Init allocates the scratch buffer and datagram pool. It must be called
// once before Encode.
func (e *Encoder) Init() error {
	if e.Out == nil {
		return fmt.Errorf("rtph265: Out ring must be set before Init")
	}
	if e.MTU <= rtpHeaderSize+fuHeaderSize {
		return fmt.Errorf("rtph265: MTU too small: %d", e.MTU)
	}
	if e.MaxAccessUnitSize <= 0 {
		return fmt.Errorf("rtph265: MaxAccessUnitSize must be positive")
	}

	e.seq = 1
	e.scratch = make([]byte, e.MaxAccessUnitSize)
	e.pool = ringbuffer.NewDatagramPool(e.Out.Capacity(), e.MTU)

	return nil
}

// payloadBudget is the maximum RTP payload (post 12-byte header) that
// fits under the MTU.
func (e *Encoder) payloadBudget() int {
	return e.MTU - rtpHeaderSize
}

// Encode packetizes one access unit. It copies auBytes into the
// preallocated scratch buffer before returning control to the caller, so
// the caller's buffer may be released immediately after Encode returns
// (spec.md §3 AU lifecycle, §4.3 step 1). No packet is produced for a
// zero-length AU.
func (e *Encoder) Encode(auBytes []byte, ptsUs int64) error {
	if len(auBytes) == 0 {
		return nil
	}
	if len(auBytes) > len(e.scratch) {
		return fmt.Errorf("rtph265: access unit (%d bytes) exceeds MaxAccessUnitSize (%d)",
			len(auBytes), len(e.scratch))
	}
	if len(auBytes) < 2 {
		return fmt.Errorf("rtph265: access unit shorter than a NAL header")
	}

	n := copy(e.scratch, auBytes)
	au := e.scratch[:n]

	ts := rtptime.PTSToRTP90kHz(ptsUs)

	if len(au) <= e.payloadBudget() {
		e.writeSingle(au, ts)
		return nil
	}

	e.writeFragments(au, ts)
	return nil
}

// reserveSlot hands back the pool slot Encode may write into, or false if
// Out is full. Checking Out.Full() before touching the slot (rather than
// after) matters because the slot at poolPos is still referenced by a
// pending, unreleased datagram whenever the ring is full; writing into it
// first and discovering the Offer failure second would corrupt that
// pending datagram. Since Encode is Out's sole producer, Full()==false
// here guarantees the Offer in publish will succeed.
func (e *Encoder) reserveSlot() (*ringbuffer.Datagram, bool) {
	if e.Out.Full() {
		return nil, false
	}
	return e.pool[e.poolPos%uint64(len(e.pool))], true
}

func (e *Encoder) publish(slot *ringbuffer.Datagram) {
	e.Out.Offer(slot)
	e.poolPos++
	e.PacketsEncoded++
	e.seq++
}

// writeSingle emits the whole AU as one RTP packet's payload, marker set
// (spec.md §4.3 step 3).
func (e *Encoder) writeSingle(au []byte, ts uint32) {
	slot, ok := e.reserveSlot()
	if !ok {
		e.PacketsDropped++
		e.seq++
		return
	}

	hdr := rtp.Header{
		Version:        rtpVersion,
		Marker:         true,
		PayloadType:    e.PayloadType,
		SequenceNumber: e.seq,
		Timestamp:      ts,
		SSRC:           e.SSRC,
	}

	n, err := hdr.MarshalTo(slot.Buf)
	if err != nil {
		e.PacketsDropped++
		e.seq++
		return
	}

	copy(slot.Buf[n:], au)
	slot.N = n + len(au)

	e.publish(slot)
}

// writeFragments splits au into RFC 7798 Fragmentation Units when it
// does not fit in a single RTP packet (spec.md §4.3 step 4).
func (e *Encoder) writeFragments(au []byte, ts uint32) {
	h0, h1 := au[0], au[1]
	nalType := (h0 >> 1) & 0x3F
	payload := au[2:]

	avail := e.payloadBudget() - fuHeaderSize
	total := len(payload)
	count := total / avail
	last := total % avail
	if last > 0 {
		count++
	} else {
		last = avail
	}

	e.PacketsFragmented++

	off := 0
	for i := 0; i < count; i++ {
		start := i == 0
		end := i == count-1

		fragLen := avail
		if end {
			fragLen = last
		}

		slot, ok := e.reserveSlot()
		if !ok {
			e.PacketsDropped++
			e.seq++
			off += fragLen
			continue
		}

		hdr := rtp.Header{
			Version:        rtpVersion,
			Marker:         end,
			PayloadType:    e.PayloadType,
			SequenceNumber: e.seq,
			Timestamp:      ts,
			SSRC:           e.SSRC,
		}

		n, err := hdr.MarshalTo(slot.Buf)
		if err != nil {
			e.PacketsDropped++
			e.seq++
			off += fragLen
			continue
		}

		buf := slot.Buf[n:]
		// PayloadHdr0 preserves F and the high LayerId bit (H0 & 0x81) per
		// spec.md §9's chosen reconciliation of RFC 7798 §4.3.1.
		buf[0] = (naluTypeFU << 1) | (h0 & 0x81)
		buf[1] = h1

		var s, e2 byte
		if start {
			s = 1
		}
		if end {
			e2 = 1
		}
		buf[2] = (s << 7) | (e2 << 6) | nalType

		copy(buf[3:], payload[off:off+fragLen])
		slot.N = n + fuHeaderSize + fragLen

		e.publish(slot)

		off += fragLen
	}
}
