package source

import (
	"context"
	"time"
)

// Synthetic drives a Sink with fixed-size fake access units on a
// ticker, standing in for the real camera/hardware-encoder pair that
// this repository treats as an external collaborator (spec.md §6). It
// emits one codec-config AU first, then alternates a keyframe every
// KeyframeInterval pictures.
type Synthetic struct {
	Sink Sink

	// FrameInterval is the spacing between emitted access units.
	FrameInterval time.Duration

	// KeyframeInterval is how many pictures pass between keyframes.
	KeyframeInterval int

	// PictureSize is the byte length of a non-keyframe picture AU;
	// keyframes are 8x that size to approximate a real IDR/P ratio.
	PictureSize int
}

var (
	syntheticVPS = []byte{0x40, 0x01, 0x0c, 0x01, 0xff, 0xff, 0x01}
	syntheticSPS = []byte{0x42, 0x01, 0x01, 0x01, 0x60, 0x00, 0x00, 0x03}
	syntheticPPS = []byte{0x44, 0x01, 0xc1, 0x72, 0xb4, 0x62, 0x40}
)

// Run emits the codec-config AU once, then pictures at FrameInterval
// until ctx is canceled.
func (s *Synthetic) Run(ctx context.Context) {
	if s.FrameInterval <= 0 {
		s.FrameInterval = 33 * time.Millisecond
	}
	if s.KeyframeInterval <= 0 {
		s.KeyframeInterval = 30
	}
	if s.PictureSize <= 0 {
		s.PictureSize = 4000
	}

	config := annexBConcat(syntheticVPS, syntheticSPS, syntheticPPS)
	s.Sink.Forward(config, 0, true, false)

	ticker := time.NewTicker(s.FrameInterval)
	defer ticker.Stop()

	start := time.Now()
	var n int

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ptsUs := now.Sub(start).Microseconds()
			keyFrame := n%s.KeyframeInterval == 0

			size := s.PictureSize
			if keyFrame {
				size *= 8
			}
			au := make([]byte, size)
			if keyFrame {
				au[0] = 0x28 // NAL type 20, IDR_W_RADL
			} else {
				au[0] = 0x02 // NAL type 1, TRAIL_R
			}
			au[1] = 0x01

			s.Sink.Forward(au, ptsUs, false, keyFrame)
			n++
		}
	}
}

func annexBConcat(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, n...)
	}
	return out
}
