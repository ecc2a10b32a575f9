// Package liberrors defines the typed errors returned by the RTSP
// client state machine and transport layer, distinguishing session-fatal
// conditions (the publishing session must tear down and may be retried
// by the caller) from programmer errors (misuse of the API).
package liberrors

import (
	"fmt"

	"github.com/NoTouchingKids/h265-rtsp-publisher/pkg/rtspbase"
)

// ErrClientTerminated reports a client that has been closed. The RTSP
// client does not return it: a call after Close other than Connect fails
// with ErrClientInvalidState.
type ErrClientTerminated struct{}

func (e ErrClientTerminated) Error() string { return "liberrors: client terminated" }

// ErrClientInvalidState is returned when a method is called while the
// session state machine is not in one of the states it permits.
type ErrClientInvalidState struct {
	Allowed []fmt.Stringer
	Current fmt.Stringer
}

func (e ErrClientInvalidState) Error() string {
	return fmt.Sprintf("liberrors: must be in state %v, is in state %v", e.Allowed, e.Current)
}

// ErrClientBadStatusCode is returned when the server replies with a
// status code other than 200 OK to a request that requires it.
type ErrClientBadStatusCode struct {
	Code    rtspbase.StatusCode
	Message string
}

func (e ErrClientBadStatusCode) Error() string {
	return fmt.Sprintf("liberrors: bad status code: %d (%s)", e.Code, e.Message)
}

// ErrClientSessionHeaderInvalid is returned when a SETUP response's
// Session header is missing or cannot be parsed, or when RECORD is
// attempted with no session established.
type ErrClientSessionHeaderInvalid struct {
	Err error
}

func (e ErrClientSessionHeaderInvalid) Error() string {
	return fmt.Sprintf("liberrors: invalid Session header: %v", e.Err)
}

// ErrClientTransportHeaderInvalid describes a SETUP response whose
// Transport header is missing required fields. The RTSP client does not
// return it: it falls back to the client RTP port and counts a warning.
type ErrClientTransportHeaderInvalid struct {
	Err error
}

func (e ErrClientTransportHeaderInvalid) Error() string {
	return fmt.Sprintf("liberrors: invalid Transport header: %v", e.Err)
}

// ErrClientServerPortsNotProvided describes a successful SETUP whose
// response did not echo server_port. The RTSP client does not return
// it: it falls back to the client RTP port and counts a warning.
type ErrClientServerPortsNotProvided struct{}

func (e ErrClientServerPortsNotProvided) Error() string {
	return "liberrors: server did not provide server_port in Transport header"
}

// ErrClientConnectTimeout is returned when the TCP control connection
// cannot be established, including when dialing does not complete
// within the configured timeout.
type ErrClientConnectTimeout struct {
	Err error
}

func (e ErrClientConnectTimeout) Error() string {
	return fmt.Sprintf("liberrors: connect timeout: %v", e.Err)
}

// ErrClientWriteTimeout is returned when writing an RTSP request fails,
// including when it does not complete within the configured timeout.
type ErrClientWriteTimeout struct {
	Err error
}

func (e ErrClientWriteTimeout) Error() string {
	return fmt.Sprintf("liberrors: write timeout: %v", e.Err)
}

// ErrClientReadTimeout is returned when an RTSP response cannot be read
// or parsed, including when reading does not complete within the
// configured timeout.
type ErrClientReadTimeout struct {
	Err error
}

func (e ErrClientReadTimeout) Error() string {
	return fmt.Sprintf("liberrors: read timeout: %v", e.Err)
}

// ErrTransportConsecutiveSendFailures is returned by the UDP transport
// when consecutive sendto() failures reach the configured threshold,
// moving the transport to a failed state.
type ErrTransportConsecutiveSendFailures struct {
	Count int
	Err   error
}

func (e ErrTransportConsecutiveSendFailures) Error() string {
	return fmt.Sprintf("liberrors: %d consecutive send failures, last: %v", e.Count, e.Err)
}

// ErrSourceNotReady is returned when the frame source's parameter sets
// are not yet available at ANNOUNCE time.
type ErrSourceNotReady struct{}

func (e ErrSourceNotReady) Error() string {
	return "liberrors: frame source has no SPS/PPS yet"
}
