// Package transport owns the non-blocking UDP socket that sends
// packetized RTP datagrams to the negotiated peer (spec.md §4.4).
package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/NoTouchingKids/h265-rtsp-publisher/pkg/liberrors"
	"github.com/NoTouchingKids/h265-rtsp-publisher/pkg/ringbuffer"
)

const (
	sendBufferBytes    = 512 * 1024
	maxConsecutiveErrs = 10
	idleSleep          = 50 * time.Microsecond
)

// State is the lifecycle state of a Transport worker.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateFailed:
		return "FAILED"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Transport sends RTP datagrams read off In to a mutable peer address.
// Exactly one goroutine drains In; SetPeer may be called concurrently
// from the session's control goroutine.
type Transport struct {
	In     *ringbuffer.RingBuffer[*ringbuffer.Datagram]
	Logger zerolog.Logger

	conn *net.UDPConn

	peerMu sync.RWMutex
	peer   *net.UDPAddr

	state        atomic.Int32
	consecErrors int
	sent         atomic.Uint64
	bytesSent    atomic.Uint64
	dropped      atomic.Uint64
	sendErrors   atomic.Uint64

	stop chan struct{}
	done chan struct{}
}

// Listen opens the local UDP socket on localPort and raises its send
// buffer to 512 KB. It does not enable address reuse and does not set a
// traffic class on the socket.
func (t *Transport) Listen(localPort int) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: localPort})
	if err != nil {
		return fmt.Errorf("transport: listen: %w", err)
	}

	if err := conn.SetWriteBuffer(sendBufferBytes); err != nil {
		t.Logger.Warn().Err(err).Msg("could not raise UDP send buffer")
	}

	t.conn = conn
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	return nil
}

// LocalPort returns the bound local port, for announcing client_port.
func (t *Transport) LocalPort() int {
	return t.conn.LocalAddr().(*net.UDPAddr).Port
}

// SetPeer sets or updates the destination address. Before this is
// called once, Run suppresses all sends (spec.md §4.4).
func (t *Transport) SetPeer(addr *net.UDPAddr) {
	t.peerMu.Lock()
	t.peer = addr
	t.peerMu.Unlock()
}

func (t *Transport) currentPeer() *net.UDPAddr {
	t.peerMu.RLock()
	defer t.peerMu.RUnlock()
	return t.peer
}

// State returns the current worker state.
func (t *Transport) State() State {
	return State(t.state.Load())
}

// Stats returns sent and dropped datagram counters. Dropped counts
// datagrams discarded because no peer was set yet; it does not include
// send errors or datagrams the packetizer dropped on a full ring.
func (t *Transport) Stats() (sent, dropped uint64) {
	return t.sent.Load(), t.dropped.Load()
}

// SendErrors returns how many WriteToUDP calls failed, distinct from
// ring-full/no-peer drops (spec.md §4.8's two-clause health predicate
// tracks these separately).
func (t *Transport) SendErrors() uint64 {
	return t.sendErrors.Load()
}

// BytesSent returns the total bytes of all successfully sent datagrams.
func (t *Transport) BytesSent() uint64 {
	return t.bytesSent.Load()
}

// Run drains In and sends datagrams to the current peer until Stop is
// called or the consecutive-error threshold is reached, at which point
// it transitions to StateFailed and returns the triggering error.
func (t *Transport) Run() error {
	t.state.Store(int32(StateRunning))
	defer close(t.done)

	for {
		select {
		case <-t.stop:
			t.state.Store(int32(StateStopped))
			return nil
		default:
		}

		dg, ok := t.In.Poll()
		if !ok {
			time.Sleep(idleSleep)
			continue
		}

		peer := t.currentPeer()
		if peer == nil {
			t.dropped.Add(1)
			t.In.Release()
			continue
		}

		n, err := t.conn.WriteToUDP(dg.Bytes(), peer)
		t.In.Release()

		if err != nil {
			t.consecErrors++
			t.sendErrors.Add(1)
			if t.consecErrors >= maxConsecutiveErrs {
				t.state.Store(int32(StateFailed))
				return liberrors.ErrTransportConsecutiveSendFailures{Count: t.consecErrors, Err: err}
			}
			continue
		}

		t.consecErrors = 0
		t.sent.Add(1)
		t.bytesSent.Add(uint64(n))
	}
}

// Stop signals Run to exit and, if Run is running, waits for it to
// finish. A Run that starts after Stop sees the signal and returns at once.
func (t *Transport) Stop() {
	if t.stop == nil {
		return
	}
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	if t.State() != StateRunning {
		return
	}
	<-t.done
}

// Close releases the underlying socket. Stop must be called first.
func (t *Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}
