// Package config holds the publisher's configuration surface
// (spec.md §6) plus the logging knobs the ambient stack needs.
package config

import (
	"fmt"
	"time"
)

// Config is the full set of options the publisher accepts.
type Config struct {
	PeerHost     string
	PeerRTSPPort int
	StreamPath   string

	ClientRTPPort int
	MTU           int

	TokenRingCapacity    uint64
	DatagramRingCapacity uint64

	// MaxAccessUnitSize bounds both the packetizer's scratch buffer and
	// the per-slot size of the token ring's AU buffer pool.
	MaxAccessUnitSize int

	// SSRC is the 32-bit synchronization source. Zero means "choose
	// randomly at session start" (spec.md §6).
	SSRC uint32

	RequestTimeout time.Duration

	LogLevel string
}

// Default returns a Config populated with spec.md §6's defaults.
func Default() Config {
	return Config{
		PeerHost:             "127.0.0.1",
		PeerRTSPPort:         8554,
		StreamPath:           "/android",
		ClientRTPPort:        5004,
		MTU:                  1400,
		TokenRingCapacity:    32,
		DatagramRingCapacity: 512,
		MaxAccessUnitSize:    2 << 20,
		SSRC:                 0,
		RequestTimeout:       2 * time.Second,
		LogLevel:             "info",
	}
}

// Validate checks the programmer-error conditions spec.md §7 requires
// to fail fast at construction: ring capacities must be powers of two.
func (c Config) Validate() error {
	if !isPowerOfTwo(c.TokenRingCapacity) {
		return fmt.Errorf("config: token_ring_capacity %d is not a power of two", c.TokenRingCapacity)
	}
	if !isPowerOfTwo(c.DatagramRingCapacity) {
		return fmt.Errorf("config: datagram_ring_capacity %d is not a power of two", c.DatagramRingCapacity)
	}
	if c.MTU <= 0 {
		return fmt.Errorf("config: mtu must be positive, got %d", c.MTU)
	}
	if c.MaxAccessUnitSize <= 0 {
		return fmt.Errorf("config: max_access_unit_size must be positive, got %d", c.MaxAccessUnitSize)
	}
	return nil
}

func isPowerOfTwo(n uint64) bool {
	return n != 0 && (n&(n-1)) == 0
}
