package rtspclient

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeServer accepts one connection and replies to each request in
// order with the given raw responses, verifying only that an RTSP/1.0
// request line arrives before replying; the method is not checked.
func fakeServer(t *testing.T, responses []string) (port int, done chan struct{}) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port = ln.Addr().(*net.TCPAddr).Port

	done = make(chan struct{})
	go func() {
		defer close(done)
		defer ln.Close()

		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		rb := bufio.NewReader(conn)
		for _, resp := range responses {
			line, err := rb.ReadString('\n')
			if err != nil || !strings.Contains(line, "RTSP/1.0") {
				return
			}
			// drain headers (and body, if Content-Length present, handled loosely)
			contentLen := 0
			for {
				hline, err := rb.ReadString('\n')
				if err != nil {
					return
				}
				if hline == "\r\n" {
					break
				}
				if strings.HasPrefix(strings.ToLower(hline), "content-length:") {
					var n int
					fieldsScan(hline, &n)
					contentLen = n
				}
			}
			if contentLen > 0 {
				buf := make([]byte, contentLen)
				_, _ = rb.Read(buf)
			}

			conn.Write([]byte(resp)) //nolint:errcheck
		}
	}()

	return port, done
}

func fieldsScan(line string, n *int) {
	parts := strings.SplitN(strings.TrimSpace(line), ":", 2)
	if len(parts) != 2 {
		return
	}
	val := strings.TrimSpace(parts[1])
	for _, c := range val {
		if c < '0' || c > '9' {
			return
		}
	}
	v := 0
	for _, c := range val {
		v = v*10 + int(c-'0')
	}
	*n = v
}

func newTestClient(port int) *Client {
	return New(Config{
		Host:           "127.0.0.1",
		RTSPPort:       port,
		StreamPath:     "/android",
		ClientRTPPort:  5004,
		RequestTimeout: 2 * time.Second,
	}, zerolog.Nop())
}

// TestHandshakeSuccess reproduces S3: a full successful handshake ending
// in RECORDING with the server's session id and server RTP port.
func TestHandshakeSuccess(t *testing.T) {
	port, done := fakeServer(t, []string{
		"RTSP/1.0 200 OK\r\nCSeq: 1\r\n\r\n",
		"RTSP/1.0 200 OK\r\nCSeq: 2\r\n\r\n",
		"RTSP/1.0 200 OK\r\nCSeq: 3\r\nSession: 1d4afe6f;timeout=60\r\n" +
			"Transport: RTP/AVP;unicast;client_port=5004-5005;server_port=8000-8001\r\n\r\n",
		"RTSP/1.0 200 OK\r\nCSeq: 4\r\n\r\n",
	})
	defer func() { <-done }()

	c := newTestClient(port)
	require.NoError(t, c.Connect())
	require.NoError(t, c.Options())
	require.NoError(t, c.Announce([]byte("v=0\r\n")))

	desc, err := c.Setup()
	require.NoError(t, err)
	require.Equal(t, "1d4afe6f", desc.SessionID)
	require.Equal(t, 8000, desc.PeerRTPPort)

	require.NoError(t, c.Record())
	require.Equal(t, StateRecording, c.State())
	require.Zero(t, c.ServerPortWarnings())

	c.Close()
}

// TestHandshakeMissingServerPortFallsBack reproduces S4: SETUP succeeds
// but the Transport header omits server_port, so the client falls back
// to client_rtp_port and still reaches RECORDING.
func TestHandshakeMissingServerPortFallsBack(t *testing.T) {
	port, done := fakeServer(t, []string{
		"RTSP/1.0 200 OK\r\nCSeq: 1\r\n\r\n",
		"RTSP/1.0 200 OK\r\nCSeq: 2\r\n\r\n",
		"RTSP/1.0 200 OK\r\nCSeq: 3\r\nSession: abc123\r\n" +
			"Transport: RTP/AVP;unicast;client_port=5004-5005\r\n\r\n",
		"RTSP/1.0 200 OK\r\nCSeq: 4\r\n\r\n",
	})
	defer func() { <-done }()

	c := newTestClient(port)
	require.NoError(t, c.Connect())
	require.NoError(t, c.Options())
	require.NoError(t, c.Announce([]byte("v=0\r\n")))

	desc, err := c.Setup()
	require.NoError(t, err)
	require.Equal(t, 5004, desc.PeerRTPPort)
	require.EqualValues(t, 1, c.ServerPortWarnings())

	require.NoError(t, c.Record())
	require.Equal(t, StateRecording, c.State())

	c.Close()
}

// TestStateMachineRejectsOutOfOrderCalls verifies §8 property 7: RECORD
// cannot be sent before SETUP, SETUP cannot be sent before ANNOUNCE.
func TestStateMachineRejectsOutOfOrderCalls(t *testing.T) {
	port, done := fakeServer(t, nil)
	defer func() { <-done }()

	c := newTestClient(port)
	require.NoError(t, c.Connect())

	require.Error(t, c.Record())
	_, err := c.Setup()
	require.Error(t, err)
}

// TestNonOKStatusIsSessionFatal verifies a non-200 response transitions
// the client to FAILED and is surfaced as an error.
func TestNonOKStatusIsSessionFatal(t *testing.T) {
	port, done := fakeServer(t, []string{
		"RTSP/1.0 404 Not Found\r\nCSeq: 1\r\n\r\n",
	})
	defer func() { <-done }()

	c := newTestClient(port)
	require.NoError(t, c.Connect())

	err := c.Options()
	require.Error(t, err)
	require.Equal(t, StateFailed, c.State())
}
