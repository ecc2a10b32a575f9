// Package publisher implements the Supervisor (C8): it wires the
// source, packetizer, rings, transport and RTSP client together, gates
// RTP emission on RECORD 200 OK, and owns lifecycle and statistics
// (spec.md §4.8).
package publisher

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NoTouchingKids/h265-rtsp-publisher/internal/config"
	"github.com/NoTouchingKids/h265-rtsp-publisher/internal/rtspclient"
	isdp "github.com/NoTouchingKids/h265-rtsp-publisher/internal/sdp"
	"github.com/NoTouchingKids/h265-rtsp-publisher/internal/source"
	"github.com/NoTouchingKids/h265-rtsp-publisher/internal/transport"
	"github.com/NoTouchingKids/h265-rtsp-publisher/pkg/h265"
	"github.com/NoTouchingKids/h265-rtsp-publisher/pkg/liberrors"
	"github.com/NoTouchingKids/h265-rtsp-publisher/pkg/ringbuffer"
	"github.com/NoTouchingKids/h265-rtsp-publisher/pkg/rtph265"
)

// Phase is the Supervisor's own lifecycle phase, distinct from the RTSP
// client's session state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseWaitingForCodecData
	PhaseHandshaking
	PhaseRunning
	PhaseStopped
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseWaitingForCodecData:
		return "WAITING_FOR_CODEC_DATA"
	case PhaseHandshaking:
		return "HANDSHAKING"
	case PhaseRunning:
		return "RUNNING"
	case PhaseStopped:
		return "STOPPED"
	case PhaseFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Stats is a snapshot of the publisher's counters (spec.md §4.8).
type Stats struct {
	PacketsSent         uint64
	BytesSent           uint64
	PacketsDropped      uint64
	SendErrors          uint64
	FragmentedFrames    uint64
	EncodedFrames       uint64
	DroppedBackpressure uint64
	SevereBackpressure  uint64
	Keyframes           uint64
}

// Supervisor owns the full pipeline for one publish session.
type Supervisor struct {
	cfg    config.Config
	logger zerolog.Logger

	sessionCorrelationID string

	adapter      *source.Adapter
	encoder      *rtph265.Encoder
	tokenRing    *ringbuffer.RingBuffer[ringbuffer.Token]
	datagramRing *ringbuffer.RingBuffer[*ringbuffer.Datagram]
	tr           *transport.Transport
	rtsp         *rtspclient.Client

	paramSets      h265.ParameterSets
	paramSetsMu    sync.Mutex
	codecReady     chan struct{}
	codecReadyOnce sync.Once

	phase atomic.Int32

	sess rtspclient.SessionDescriptor

	cancelEncode context.CancelFunc
	wg           sync.WaitGroup
}

// New builds the Supervisor's components and allocates rings and slots
// (spec.md §4.8 step 1). It does not start anything yet.
func New(cfg config.Config, logger zerolog.Logger) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	correlationID := uuid.NewString()
	logger = logger.With().Str("session_id", correlationID).Logger()

	datagramRing, err := ringbuffer.New[*ringbuffer.Datagram](cfg.DatagramRingCapacity)
	if err != nil {
		return nil, err
	}

	tokenRing, err := ringbuffer.New[ringbuffer.Token](cfg.TokenRingCapacity)
	if err != nil {
		return nil, err
	}

	encoder := &rtph265.Encoder{
		PayloadType:       96,
		SSRC:              cfg.SSRC,
		MTU:               cfg.MTU,
		MaxAccessUnitSize: cfg.MaxAccessUnitSize,
		Out:               datagramRing,
	}
	if encoder.SSRC == 0 {
		encoder.SSRC = randomSSRC()
	}
	if err := encoder.Init(); err != nil {
		return nil, err
	}

	s := &Supervisor{
		cfg:                  cfg,
		logger:               logger,
		sessionCorrelationID: correlationID,
		encoder:              encoder,
		tokenRing:            tokenRing,
		datagramRing:         datagramRing,
		tr:                   &transport.Transport{In: datagramRing, Logger: logger},
		rtsp: rtspclient.New(rtspclient.Config{
			Host:           cfg.PeerHost,
			RTSPPort:       cfg.PeerRTSPPort,
			StreamPath:     cfg.StreamPath,
			ClientRTPPort:  cfg.ClientRTPPort,
			RequestTimeout: cfg.RequestTimeout,
		}, logger),
		codecReady: make(chan struct{}),
	}

	s.adapter = &source.Adapter{
		Packetizer: encoder,
		ParamSets:  s,
		Logger:     logger,
		Tokens:     tokenRing,
		MaxAUSize:  cfg.MaxAccessUnitSize,
	}
	s.adapter.Init()

	s.phase.Store(int32(PhaseIdle))
	return s, nil
}

// Sink returns the interface the frame source (real or synthetic)
// drives.
func (s *Supervisor) Sink() source.Sink {
	return s.adapter
}

// SessionCorrelationID returns the per-publish-session id attached to
// every log line this Supervisor and its components emit.
func (s *Supervisor) SessionCorrelationID() string {
	return s.sessionCorrelationID
}

// OnParameterSets implements source.ParamSetSink: C7's "codec data
// ready" signal to C8 (spec.md §4.7, §4.8 step 2).
func (s *Supervisor) OnParameterSets(ps h265.ParameterSets) {
	s.paramSetsMu.Lock()
	s.paramSets = ps
	ready := ps.Ready()
	s.paramSetsMu.Unlock()

	if ready {
		s.codecReadyOnce.Do(func() { close(s.codecReady) })
	}
}

// Phase returns the current lifecycle phase.
func (s *Supervisor) Phase() Phase {
	return Phase(s.phase.Load())
}

func (s *Supervisor) setPhase(p Phase) {
	s.phase.Store(int32(p))
	s.logger.Info().Str("phase", p.String()).Msg("phase transition")
}

// Start waits for codec data, drives the RTSP handshake, and on
// RECORD 200 OK flips the ready gate and starts the UDP send worker
// (spec.md §4.8 steps 2-3).
func (s *Supervisor) Start(ctx context.Context) error {
	s.setPhase(PhaseWaitingForCodecData)

	select {
	case <-s.codecReady:
	case <-ctx.Done():
		s.setPhase(PhaseFailed)
		return ctx.Err()
	}

	s.setPhase(PhaseHandshaking)

	if err := s.tr.Listen(s.cfg.ClientRTPPort); err != nil {
		s.setPhase(PhaseFailed)
		return err
	}

	if err := s.handshake(); err != nil {
		s.setPhase(PhaseFailed)
		return err
	}

	peerAddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", s.cfg.PeerHost, s.sess.PeerRTPPort))
	if err != nil {
		s.setPhase(PhaseFailed)
		return err
	}
	s.tr.SetPeer(peerAddr)

	s.adapter.SetReady(true)

	encodeCtx, cancelEncode := context.WithCancel(context.Background())
	s.cancelEncode = cancelEncode
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.adapter.Run(encodeCtx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.tr.Run(); err != nil {
			s.logger.Error().Err(err).Msg("UDP transport worker failed")
			s.adapter.SetReady(false)
			s.setPhase(PhaseFailed)
		}
	}()

	s.setPhase(PhaseRunning)
	return nil
}

func (s *Supervisor) handshake() error {
	s.paramSetsMu.Lock()
	ps := s.paramSets
	s.paramSetsMu.Unlock()
	if !ps.Ready() {
		return liberrors.ErrSourceNotReady{}
	}

	if err := s.rtsp.Connect(); err != nil {
		return err
	}
	if err := s.rtsp.Options(); err != nil {
		return err
	}

	sdpBody, err := isdp.Build(isdp.Options{
		SessionName:   "h265publish",
		PeerHost:      s.cfg.PeerHost,
		ClientRTPPort: s.cfg.ClientRTPPort,
		Tool:          "h265publish",
	}, isdp.Params{VPS: ps.VPS, SPS: ps.SPS, PPS: ps.PPS})
	if err != nil {
		return err
	}

	if err := s.rtsp.Announce(sdpBody); err != nil {
		return err
	}

	desc, err := s.rtsp.Setup()
	if err != nil {
		return err
	}
	s.sess = desc

	return s.rtsp.Record()
}

// Stats returns a snapshot of publisher counters.
func (s *Supervisor) Stats() Stats {
	sent, dropped := s.tr.Stats()
	backpressure, severe := s.adapter.Backpressure()
	return Stats{
		PacketsSent:         sent,
		BytesSent:           s.tr.BytesSent(),
		PacketsDropped:      dropped + s.encoder.PacketsDropped,
		SendErrors:          s.tr.SendErrors(),
		FragmentedFrames:    s.encoder.PacketsFragmented,
		EncodedFrames:       s.encoder.PacketsEncoded,
		DroppedBackpressure: backpressure,
		SevereBackpressure:  severe,
		Keyframes:           s.adapter.Keyframes(),
	}
}

// Healthy implements the §4.8 health predicate: after at least 100
// packets, drops/total < 1% and send_errors/total < 0.1%.
func (s *Supervisor) Healthy() bool {
	sent, dropped := s.tr.Stats()
	dropped += s.encoder.PacketsDropped
	sendErrors := s.tr.SendErrors()
	total := sent + dropped
	if total < 100 {
		return true
	}
	return float64(dropped)/float64(total) < 0.01 &&
		float64(sendErrors)/float64(total) < 0.001
}

// SessionDescriptor returns the negotiated session, valid once Start
// has returned successfully.
func (s *Supervisor) SessionDescriptor() rtspclient.SessionDescriptor {
	return s.sess
}

// Stop tears the session down per spec.md §4.8 step 4: flips ready
// off, stops the UDP worker, sends TEARDOWN best-effort, closes both
// sockets, and joins workers with a 1s timeout.
func (s *Supervisor) Stop() {
	s.adapter.SetReady(false)

	s.tr.Stop()
	if s.cancelEncode != nil {
		s.cancelEncode()
	}
	s.rtsp.Teardown()

	if err := s.tr.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("error closing UDP socket")
	}
	if err := s.rtsp.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("error closing RTSP connection")
	}

	joined := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(joined)
	}()

	select {
	case <-joined:
	case <-time.After(1 * time.Second):
		s.logger.Warn().Msg("worker join timed out after 1s, detaching")
	}

	s.setPhase(PhaseStopped)
}

// Restart runs Start again after a previous session, successful or
// failed, has been shut down with Stop: the RTSP client reconnects and
// repeats the handshake from OPTIONS, and a new UDP socket is opened.
// It does not stop a running session itself. It does not implement a
// retry policy; the caller decides whether and when to call it
// (spec.md §4.8/§7).
func (s *Supervisor) Restart(ctx context.Context) error {
	return s.Start(ctx)
}

func randomSSRC() uint32 {
	var b [4]byte
	id := uuid.New()
	copy(b[:], id[:4])
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
