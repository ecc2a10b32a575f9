// Command h265publish wires a synthetic H.265 access-unit source to the
// publisher pipeline for manual exercising and soak testing (spec.md
// §1 "thin cmd/h265publish CLI"). It is not part of the library surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/NoTouchingKids/h265-rtsp-publisher/internal/config"
	"github.com/NoTouchingKids/h265-rtsp-publisher/internal/publisher"
	"github.com/NoTouchingKids/h265-rtsp-publisher/internal/source"
)

const statsInterval = 2 * time.Second

func main() {
	cfg := config.Default()

	host := flag.String("host", cfg.PeerHost, "RTSP server host to publish to")
	port := flag.Int("port", cfg.PeerRTSPPort, "RTSP server port")
	streamPath := flag.String("stream-path", cfg.StreamPath, "RTSP stream path")
	clientRTPPort := flag.Int("client-rtp-port", cfg.ClientRTPPort, "local UDP port to send RTP from")
	mtu := flag.Int("mtu", cfg.MTU, "maximum RTP packet size in bytes")
	tokenRing := flag.Uint64("token-ring-capacity", cfg.TokenRingCapacity, "encoder token ring capacity, must be a power of two")
	datagramRing := flag.Uint64("datagram-ring-capacity", cfg.DatagramRingCapacity, "outbound datagram ring capacity, must be a power of two")
	ssrc := flag.Uint32("ssrc", cfg.SSRC, "RTP SSRC, 0 chooses one at session start")
	requestTimeout := flag.Duration("request-timeout", cfg.RequestTimeout, "RTSP request timeout")
	logLevel := flag.String("log-level", cfg.LogLevel, "zerolog level: debug, info, warn, error")

	frameInterval := flag.Duration("frame-interval", 33*time.Millisecond, "synthetic source: spacing between access units")
	keyframeInterval := flag.Int("keyframe-interval", 30, "synthetic source: pictures between keyframes")
	pictureSize := flag.Int("picture-size", 4000, "synthetic source: byte size of a non-keyframe access unit")

	flag.Parse()

	cfg.PeerHost = *host
	cfg.PeerRTSPPort = *port
	cfg.StreamPath = *streamPath
	cfg.ClientRTPPort = *clientRTPPort
	cfg.MTU = *mtu
	cfg.TokenRingCapacity = *tokenRing
	cfg.DatagramRingCapacity = *datagramRing
	cfg.SSRC = *ssrc
	cfg.RequestTimeout = *requestTimeout
	cfg.LogLevel = *logLevel

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "h265publish: invalid log level %q: %v\n", cfg.LogLevel, err)
		os.Exit(2)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	sup, err := publisher.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct supervisor")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gen := &source.Synthetic{
		Sink:             sup.Sink(),
		FrameInterval:    *frameInterval,
		KeyframeInterval: *keyframeInterval,
		PictureSize:      *pictureSize,
	}
	go gen.Run(ctx)

	startErr := make(chan error, 1)
	go func() { startErr <- sup.Start(ctx) }()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	logger.Info().
		Str("session_id", sup.SessionCorrelationID()).
		Str("target", fmt.Sprintf("rtsp://%s:%d%s", cfg.PeerHost, cfg.PeerRTSPPort, cfg.StreamPath)).
		Msg("starting publisher")

	running := false
loop:
	for {
		select {
		case err := <-startErr:
			if err != nil {
				logger.Error().Err(err).Msg("publisher failed to start")
				break loop
			}
			running = true
			logger.Info().
				Interface("session", sup.SessionDescriptor()).
				Msg("recording")

		case <-ticker.C:
			if !running {
				continue
			}
			st := sup.Stats()
			logger.Info().
				Str("phase", sup.Phase().String()).
				Uint64("packets_sent", st.PacketsSent).
				Uint64("bytes_sent", st.BytesSent).
				Uint64("packets_dropped", st.PacketsDropped).
				Uint64("send_errors", st.SendErrors).
				Uint64("dropped_backpressure", st.DroppedBackpressure).
				Uint64("severe_backpressure", st.SevereBackpressure).
				Uint64("fragmented_frames", st.FragmentedFrames).
				Uint64("encoded_frames", st.EncodedFrames).
				Uint64("keyframes", st.Keyframes).
				Bool("healthy", sup.Healthy()).
				Msg("stats")

		case <-ctx.Done():
			break loop
		}
	}

	logger.Info().Msg("shutting down, sending TEARDOWN")
	sup.Stop()

	final := sup.Stats()
	logger.Info().
		Uint64("packets_sent", final.PacketsSent).
		Uint64("bytes_sent", final.BytesSent).
		Uint64("packets_dropped", final.PacketsDropped).
		Msg("final stats")
}
