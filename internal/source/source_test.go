package source

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/NoTouchingKids/h265-rtsp-publisher/pkg/h265"
	"github.com/NoTouchingKids/h265-rtsp-publisher/pkg/ringbuffer"
)

type fakePacketizer struct {
	calls [][]byte
	err   error
}

func (f *fakePacketizer) Encode(au []byte, ptsUs int64) error {
	cp := append([]byte(nil), au...)
	f.calls = append(f.calls, cp)
	return f.err
}

type fakeParamSink struct {
	got h265.ParameterSets
	n   int
}

func (f *fakeParamSink) OnParameterSets(ps h265.ParameterSets) {
	f.got = ps
	f.n++
}

func newTestAdapter(t *testing.T, pk Packetizer, capacity uint64) *Adapter {
	t.Helper()
	ring, err := ringbuffer.New[ringbuffer.Token](capacity)
	require.NoError(t, err)
	a := &Adapter{Packetizer: pk, Tokens: ring, MaxAUSize: 4096, Logger: zerolog.Nop()}
	a.Init()
	return a
}

func TestForwardDropsUntilReady(t *testing.T) {
	pk := &fakePacketizer{}
	a := newTestAdapter(t, pk, 4)

	a.Forward([]byte{0x02, 0x01, 0xAA}, 0, false, false)
	require.Empty(t, pk.calls)

	forwarded, dropped := a.Stats()
	require.Zero(t, forwarded)
	require.EqualValues(t, 1, dropped)

	a.SetReady(true)
	a.Forward([]byte{0x02, 0x01, 0xBB}, 1000, false, false)
	require.True(t, a.drainOne())
	require.Len(t, pk.calls, 1)

	forwarded, dropped = a.Stats()
	require.EqualValues(t, 1, forwarded)
	require.EqualValues(t, 1, dropped)
}

func TestForwardCodecConfigGoesToParamSink(t *testing.T) {
	pk := &fakePacketizer{}
	ps := &fakeParamSink{}
	a := newTestAdapter(t, pk, 4)
	a.ParamSets = ps
	a.SetReady(true)

	vps := []byte{0x40, 0x01, 0xAA}
	sps := []byte{0x42, 0x01, 0xBB}
	pps := []byte{0x44, 0x01, 0xCC}
	var config []byte
	for _, n := range [][]byte{vps, sps, pps} {
		config = append(config, 0x00, 0x00, 0x00, 0x01)
		config = append(config, n...)
	}

	a.Forward(config, 0, true, false)

	require.Equal(t, 1, ps.n)
	require.Equal(t, sps, ps.got.SPS)
	require.Equal(t, pps, ps.got.PPS)
	require.False(t, a.drainOne())
	require.Empty(t, pk.calls)
}

func TestForwardReentrancyPanics(t *testing.T) {
	a := newTestAdapter(t, &fakePacketizer{}, 4)
	a.SetReady(true)
	a.ParamSets = &reentrantParamSink{adapter: a}

	require.Panics(t, func() {
		a.Forward([]byte{0x00, 0x00, 0x00, 0x01, 0x42, 0x01, 0xAA}, 0, true, false)
	})
}

func TestForwardDropsNonKeyframeWhenRingFull(t *testing.T) {
	pk := &fakePacketizer{}
	a := newTestAdapter(t, pk, 1)
	a.SetReady(true)

	a.Forward([]byte{0x02, 0x01, 0x01}, 0, false, false)
	a.Forward([]byte{0x02, 0x01, 0x02}, 1, false, false)

	dropped, severe := a.Backpressure()
	require.EqualValues(t, 1, dropped)
	require.Zero(t, severe)
}

func TestForwardRetriesAndCountsSevereBackpressureForKeyframe(t *testing.T) {
	pk := &fakePacketizer{}
	a := newTestAdapter(t, pk, 1)
	a.SetReady(true)

	a.Forward([]byte{0x02, 0x01, 0x01}, 0, false, false)
	a.Forward([]byte{0x28, 0x01, 0x02}, 1, false, true)

	dropped, severe := a.Backpressure()
	require.EqualValues(t, 1, dropped)
	require.EqualValues(t, 1, severe)
}

// TestForwardDropOnFullRingDoesNotCorruptPendingToken reproduces the
// ring-saturation path of S5 at the AU-pool level: with the ring at
// capacity, the pool slot the next Forward call would reuse still
// belongs to an unreleased, not-yet-drained token. A dropped Forward
// call must leave that pending AU's bytes untouched.
func TestForwardDropOnFullRingDoesNotCorruptPendingToken(t *testing.T) {
	pk := &fakePacketizer{}
	a := newTestAdapter(t, pk, 1)
	a.SetReady(true)

	pending := []byte{0x02, 0x01, 0xAA, 0xBB, 0xCC}
	a.Forward(pending, 0, false, false)

	a.Forward([]byte{0x02, 0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, 1, false, false)

	dropped, _ := a.Backpressure()
	require.EqualValues(t, 1, dropped)

	require.True(t, a.drainOne())
	require.Len(t, pk.calls, 1)
	require.Equal(t, pending, pk.calls[0])
}

// TestRingSaturationMatchesOffersMinusPolls reproduces S5: a producer
// issues 10,000 non-keyframe AU tokens into a 32-slot ring while the
// consumer is stalled, then drains. Accepted + dropped must equal the
// offers exactly, and nothing beyond ring capacity should ever be
// accepted before the first drain.
func TestRingSaturationMatchesOffersMinusPolls(t *testing.T) {
	pk := &fakePacketizer{}
	a := newTestAdapter(t, pk, 32)
	a.SetReady(true)

	const totalOffers = 10000
	for i := 0; i < totalOffers; i++ {
		a.Forward([]byte{0x02, 0x01, byte(i)}, int64(i), false, false)
	}

	forwarded, _ := a.Stats()
	dropped, severe := a.Backpressure()

	require.EqualValues(t, 32, forwarded)
	require.Zero(t, severe)
	require.Equal(t, uint64(totalOffers), forwarded+dropped)

	drained := 0
	for a.drainOne() {
		drained++
	}
	require.EqualValues(t, forwarded, drained)
}

// reentrantParamSink calls back into Forward while the outer Forward
// call is still handing it parameter sets.
type reentrantParamSink struct {
	adapter *Adapter
}

func (r *reentrantParamSink) OnParameterSets(ps h265.ParameterSets) {
	r.adapter.Forward([]byte{0x02, 0x01, 0xAA}, 0, false, false)
}
