// Package rtspclient drives the publish handshake
// OPTIONS -> ANNOUNCE -> SETUP -> RECORD -> TEARDOWN over a single TCP
// connection (spec.md §4.5). It is UDP-only, record-only and single
// track; none of the teacher's TCP-interleaving, multicast or playback
// machinery applies here.
package rtspclient

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/NoTouchingKids/h265-rtsp-publisher/pkg/headers"
	"github.com/NoTouchingKids/h265-rtsp-publisher/pkg/liberrors"
	"github.com/NoTouchingKids/h265-rtsp-publisher/pkg/rtspbase"
)

// State is a state of the RTSP client's session state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateOptionsOK
	StateAnnounced
	StateSetupOK
	StateRecording
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnected:
		return "CONNECTED"
	case StateOptionsOK:
		return "OPTIONS_OK"
	case StateAnnounced:
		return "ANNOUNCED"
	case StateSetupOK:
		return "SETUP_OK"
	case StateRecording:
		return "RECORDING"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// SessionDescriptor is the published result of a successful handshake
// (spec.md §3).
type SessionDescriptor struct {
	SessionID     string
	PeerRTPPort   int
	ClientRTPPort int
	StreamPath    string
}

// Config configures a Client.
type Config struct {
	Host           string
	RTSPPort       int
	StreamPath     string
	ClientRTPPort  int
	RequestTimeout time.Duration
}

// Client drives the RTSP 1.0 handshake over one TCP connection. It is
// used from exactly one goroutine (T-rtsp); State and SessionDescriptor
// are read by other goroutines only through Supervisor's published
// snapshot, never directly.
type Client struct {
	cfg    Config
	logger zerolog.Logger

	conn *net.TCPConn
	rb   *bufio.Reader
	wb   *bufio.Writer

	cseq      int
	sessionID string

	state atomic.Int32

	warnNoServerPort atomic.Uint64
}

// New constructs a Client in StateDisconnected.
func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 2 * time.Second
	}
	c := &Client{cfg: cfg, logger: logger}
	c.state.Store(int32(StateDisconnected))
	return c
}

// State returns the current state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// URL returns the rtsp:// URL of the announced stream.
func (c *Client) URL() string {
	return fmt.Sprintf("rtsp://%s:%d%s", c.cfg.Host, c.cfg.RTSPPort, c.cfg.StreamPath)
}

func (c *Client) requireState(allowed ...State) error {
	cur := c.State()
	for _, s := range allowed {
		if cur == s {
			return nil
		}
	}
	stringers := make([]fmt.Stringer, len(allowed))
	for i, s := range allowed {
		stringers[i] = s
	}
	return liberrors.ErrClientInvalidState{Allowed: stringers, Current: cur}
}

// Connect opens the TCP control connection. Besides DISCONNECTED, it is
// accepted from CLOSED or FAILED, so a session can be set up again: any
// previous connection is closed and the previous session id dropped.
func (c *Client) Connect() error {
	if err := c.requireState(StateDisconnected, StateClosed, StateFailed); err != nil {
		return err
	}
	if c.conn != nil {
		c.conn.Close() //nolint:errcheck
		c.conn = nil
	}
	c.sessionID = ""

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.RTSPPort))
	conn, err := net.DialTimeout("tcp", addr, c.cfg.RequestTimeout)
	if err != nil {
		c.setState(StateFailed)
		return liberrors.ErrClientConnectTimeout{Err: err}
	}

	c.conn = conn.(*net.TCPConn)
	c.rb = bufio.NewReader(c.conn)
	c.wb = bufio.NewWriter(c.conn)
	c.setState(StateConnected)
	return nil
}

// do sends req, reads one response with the configured timeout and
// returns it. CSeq is assigned and, once a session exists, Session is
// attached automatically.
func (c *Client) do(req rtspbase.Request) (*rtspbase.Response, error) {
	c.cseq++
	if req.Header == nil {
		req.Header = rtspbase.Header{}
	}
	req.Header.Set("CSeq", strconv.Itoa(c.cseq))
	if c.sessionID != "" {
		req.Header.Set("Session", c.sessionID)
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.RequestTimeout)) //nolint:errcheck
	if err := req.Write(c.wb); err != nil {
		c.setState(StateFailed)
		return nil, liberrors.ErrClientWriteTimeout{Err: err}
	}

	c.conn.SetReadDeadline(time.Now().Add(c.cfg.RequestTimeout)) //nolint:errcheck
	var res rtspbase.Response
	if err := res.Read(c.rb); err != nil {
		c.setState(StateFailed)
		return nil, liberrors.ErrClientReadTimeout{Err: err}
	}

	if res.StatusCode != rtspbase.StatusOK {
		c.setState(StateFailed)
		return &res, liberrors.ErrClientBadStatusCode{Code: res.StatusCode, Message: res.StatusMessage}
	}

	return &res, nil
}

// Options issues OPTIONS.
func (c *Client) Options() error {
	if err := c.requireState(StateConnected); err != nil {
		return err
	}
	if _, err := c.do(rtspbase.Request{Method: rtspbase.Options, URL: c.URL(), Header: rtspbase.Header{}}); err != nil {
		return err
	}
	c.setState(StateOptionsOK)
	return nil
}

// Announce issues ANNOUNCE with sdpBody as the request content.
func (c *Client) Announce(sdpBody []byte) error {
	if err := c.requireState(StateOptionsOK); err != nil {
		return err
	}

	req := rtspbase.Request{
		Method: rtspbase.Announce,
		URL:    c.URL(),
		Header: rtspbase.Header{
			"Content-Type": rtspbase.HeaderValue{"application/sdp"},
		},
		Content: sdpBody,
	}
	if _, err := c.do(req); err != nil {
		return err
	}
	c.setState(StateAnnounced)
	return nil
}

// Setup issues SETUP for track0 and returns the negotiated session
// descriptor. If the server omits server_port, it falls back to
// ClientRTPPort and increments the warning counter (spec.md §4.5, S4).
func (c *Client) Setup() (SessionDescriptor, error) {
	if err := c.requireState(StateAnnounced); err != nil {
		return SessionDescriptor{}, err
	}

	clientPorts := [2]int{c.cfg.ClientRTPPort, c.cfg.ClientRTPPort + 1}
	th := headers.Transport{ClientPorts: &clientPorts, Mode: "record"}

	req := rtspbase.Request{
		Method: rtspbase.Setup,
		URL:    c.URL() + "/track0",
		Header: rtspbase.Header{
			"Transport": th.Write(),
		},
	}

	res, err := c.do(req)
	if err != nil {
		return SessionDescriptor{}, err
	}

	sessVal := res.Header.Get("Session")
	if sessVal == "" {
		c.setState(StateFailed)
		return SessionDescriptor{}, liberrors.ErrClientSessionHeaderInvalid{Err: fmt.Errorf("missing Session header")}
	}
	var sh headers.Session
	if err := sh.Read(rtspbase.HeaderValue{sessVal}); err != nil {
		c.setState(StateFailed)
		return SessionDescriptor{}, liberrors.ErrClientSessionHeaderInvalid{Err: err}
	}
	c.sessionID = sh.Session

	peerPort := c.cfg.ClientRTPPort
	if tv := res.Header.Get("Transport"); tv != "" {
		var rth headers.Transport
		if err := rth.Read(rtspbase.HeaderValue{tv}); err == nil && rth.ServerPorts != nil {
			peerPort = rth.ServerPorts[0]
		} else {
			c.warnNoServerPort.Add(1)
			c.logger.Warn().Msg("SETUP response missing server_port, falling back to client_rtp_port")
		}
	} else {
		c.warnNoServerPort.Add(1)
		c.logger.Warn().Msg("SETUP response missing Transport header, falling back to client_rtp_port")
	}

	c.setState(StateSetupOK)
	return SessionDescriptor{
		SessionID:     c.sessionID,
		PeerRTPPort:   peerPort,
		ClientRTPPort: c.cfg.ClientRTPPort,
		StreamPath:    c.cfg.StreamPath,
	}, nil
}

// Record issues RECORD, moving the state machine to RECORDING.
func (c *Client) Record() error {
	if err := c.requireState(StateSetupOK); err != nil {
		return err
	}
	if c.sessionID == "" {
		return liberrors.ErrClientSessionHeaderInvalid{Err: fmt.Errorf("no session established")}
	}

	req := rtspbase.Request{
		Method: rtspbase.Record,
		URL:    c.URL(),
		Header: rtspbase.Header{
			"Range": rtspbase.HeaderValue{"npt=0.000-"},
		},
	}
	if _, err := c.do(req); err != nil {
		return err
	}
	c.setState(StateRecording)
	return nil
}

// Teardown issues TEARDOWN best-effort: errors are logged, not
// returned, since the caller is already tearing the session down
// (spec.md §4.5).
func (c *Client) Teardown() {
	if c.sessionID == "" || c.conn == nil {
		return
	}

	req := rtspbase.Request{
		Method: rtspbase.Teardown,
		URL:    c.URL(),
		Header: rtspbase.Header{},
	}
	if _, err := c.do(req); err != nil {
		c.logger.Warn().Err(err).Msg("TEARDOWN failed, ignoring")
	}
}

// ServerPortWarnings returns how many times SETUP had to fall back to
// client_rtp_port for lack of server_port.
func (c *Client) ServerPortWarnings() uint64 {
	return c.warnNoServerPort.Load()
}

// Close closes the TCP connection. Safe to call multiple times.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	c.setState(StateClosed)
	err := c.conn.Close()
	c.conn = nil
	return err
}
