// Package source adapts the encoder's callback-driven access-unit
// output into the packetizer's single-call contract (spec.md §4.1),
// handing picture AUs across the encoder→sender token ring (spec.md
// §4.2) to a dedicated encode worker.
package source

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/NoTouchingKids/h265-rtsp-publisher/pkg/h265"
	"github.com/NoTouchingKids/h265-rtsp-publisher/pkg/ringbuffer"
	"github.com/NoTouchingKids/h265-rtsp-publisher/pkg/rtph265"
)

// keyframeSpinIterations bounds the busy-spin retry for a keyframe
// token that finds the ring full (spec.md §4.2 overflow policy).
const keyframeSpinIterations = 128

const idlePollSleep = 50 * time.Microsecond

// Packetizer is the subset of rtph265.Encoder the adapter calls. A
// narrow interface keeps this package testable without a real ring.
type Packetizer interface {
	Encode(auBytes []byte, ptsUs int64) error
}

// ParamSetSink receives the parameter sets extracted from each
// codec-config AU (spec.md §4.7 hands off to C8 via this interface).
type ParamSetSink interface {
	OnParameterSets(ps h265.ParameterSets)
}

// Sink is the interface an encoder output thread calls into, one AU at
// a time. A real hardware encoder adapter and the synthetic generator
// both drive a C1 Adapter through this same interface.
type Sink interface {
	Forward(auBytes []byte, ptsUs int64, codecConfig, keyFrame bool)
}

// Adapter is C1 plus the producer/consumer sides of the encoder→sender
// token ring (C2). Forward is called by exactly one goroutine (the
// encoder's output thread) and is not reentrant; Run is the dedicated
// encode-worker goroutine that drains tokens into the packetizer.
type Adapter struct {
	Packetizer Packetizer
	ParamSets  ParamSetSink
	Logger     zerolog.Logger

	// Tokens is the encoder→sender ring (spec.md §4.2). Its capacity
	// also sizes the AU buffer pool.
	Tokens *ringbuffer.RingBuffer[ringbuffer.Token]

	// MaxAUSize bounds how many bytes of a single AU are copied into a
	// pool slot; larger AUs are truncated defensively rather than
	// allocated on the per-frame path.
	MaxAUSize int

	pool    [][]byte
	poolPos uint64

	// ready gates forwarding picture AUs to the token ring. The
	// Supervisor sets it on entering RECORDING (spec.md §4.8 step 3) and
	// clears it on Stop or a send-worker failure; it is read here with an
	// acquire load per AU.
	ready atomic.Bool

	droppedNotReady     atomic.Uint64
	droppedBackpressure atomic.Uint64
	droppedSevere       atomic.Uint64
	forwarded           atomic.Uint64
	keyframes           atomic.Uint64

	inCall atomic.Bool
}

// Init allocates the AU buffer pool sized to the token ring's
// capacity. Must be called once before Forward or Run.
func (a *Adapter) Init() {
	count := int(a.Tokens.Capacity())
	a.pool = make([][]byte, count)
	storage := make([]byte, count*a.MaxAUSize)
	for i := range a.pool {
		a.pool[i] = storage[i*a.MaxAUSize : (i+1)*a.MaxAUSize : (i+1)*a.MaxAUSize]
	}
}

// SetReady flips the gate that allows picture AUs to reach the
// token ring. The Supervisor sets it after RECORD succeeds and clears
// it on Stop or when the UDP send worker fails.
func (a *Adapter) SetReady(v bool) {
	a.ready.Store(v)
}

// Forward delivers one AU. If codecConfig is set, the bytes are handed
// to C7's extractor and no RTP is emitted for this call. Otherwise, if
// the adapter is not yet ready, the AU is dropped and counted
// (spec.md §4.1); if ready, it is copied into a pool slot and offered
// onto the token ring, with a bounded busy-spin retry for keyframes on
// a full ring (spec.md §4.2).
func (a *Adapter) Forward(auBytes []byte, ptsUs int64, codecConfig, keyFrame bool) {
	if !a.inCall.CompareAndSwap(false, true) {
		panic("source: Forward called reentrantly or concurrently")
	}
	defer a.inCall.Store(false)

	if codecConfig {
		if a.ParamSets != nil {
			a.ParamSets.OnParameterSets(h265.Extract(auBytes))
		}
		return
	}

	if !a.ready.Load() {
		a.droppedNotReady.Add(1)
		return
	}

	if a.Tokens.Full() && !(keyFrame && a.spinForSpace()) {
		a.droppedBackpressure.Add(1)
		if keyFrame {
			a.droppedSevere.Add(1)
		}
		return
	}

	// Tokens.Full() was false here (either on the initial check or after
	// spinForSpace found room), and Forward is the ring's sole producer,
	// so the slot at poolPos is not referenced by any pending token and
	// the Offer below is guaranteed to succeed.
	idx := int(a.poolPos % uint64(len(a.pool)))
	n := copy(a.pool[idx], auBytes)

	tok := ringbuffer.Token{BufferIndex: idx, Len: n, PTSUs: ptsUs, KeyFrame: keyFrame}
	a.Tokens.Offer(tok)

	a.poolPos++
	a.forwarded.Add(1)
	if keyFrame {
		a.keyframes.Add(1)
	}
}

// spinForSpace busy-spins up to keyframeSpinIterations times waiting for
// the ring to have room, for a keyframe token that found it full
// (spec.md §4.2 overflow policy). It only observes occupancy; it never
// writes into a pool slot.
func (a *Adapter) spinForSpace() bool {
	for i := 0; i < keyframeSpinIterations; i++ {
		if !a.Tokens.Full() {
			return true
		}
	}
	return false
}

// Run drains the token ring into the packetizer until ctx is canceled.
// It is the sole consumer of Tokens; Forward is the sole producer.
func (a *Adapter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !a.drainOne() {
			time.Sleep(idlePollSleep)
		}
	}
}

func (a *Adapter) drainOne() bool {
	tok, ok := a.Tokens.Poll()
	if !ok {
		return false
	}

	auBytes := a.pool[tok.BufferIndex][:tok.Len]
	if err := a.Packetizer.Encode(auBytes, tok.PTSUs); err != nil {
		a.Logger.Warn().Err(err).Bool("keyFrame", tok.KeyFrame).Msg("failed to encode access unit")
	}
	a.Tokens.Release()
	return true
}

// Stats returns the AU-level counters.
func (a *Adapter) Stats() (forwarded, droppedNotReady uint64) {
	return a.forwarded.Load(), a.droppedNotReady.Load()
}

// Backpressure returns tokens dropped for a full ring, and how many of
// those were keyframes (severe backpressure, spec.md §4.2).
func (a *Adapter) Backpressure() (dropped, severe uint64) {
	return a.droppedBackpressure.Load(), a.droppedSevere.Load()
}

// Keyframes returns how many keyframe AUs were accepted onto the
// token ring.
func (a *Adapter) Keyframes() uint64 {
	return a.keyframes.Load()
}

var (
	_ Packetizer = (*rtph265.Encoder)(nil)
	_ Sink       = (*Adapter)(nil)
)
