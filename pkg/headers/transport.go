// Package headers encodes and decodes the structured RTSP header values
// the publisher needs: Transport and Session. Only the UDP/unicast
// subset of Transport is supported, matching the publisher's Non-goals
// around TCP interleaving and multicast delivery.
package headers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NoTouchingKids/h265-rtsp-publisher/pkg/rtspbase"
)

// Transport is a parsed/encoded Transport header, UDP unicast only.
type Transport struct {
	ClientPorts *[2]int
	ServerPorts *[2]int
	SSRC        *uint32

	// Mode is the RFC 2326 §12.39 mode parameter, e.g. "record". Left
	// empty, it is omitted and a server must assume PLAY, so the
	// publisher's SETUP request always sets this explicitly.
	Mode string
}

// Write encodes h as an RTP/AVP/UDP;unicast Transport header value.
func (h Transport) Write() rtspbase.HeaderValue {
	parts := []string{"RTP/AVP/UDP", "unicast"}

	if h.ClientPorts != nil {
		parts = append(parts, fmt.Sprintf("client_port=%d-%d", h.ClientPorts[0], h.ClientPorts[1]))
	}
	if h.ServerPorts != nil {
		parts = append(parts, fmt.Sprintf("server_port=%d-%d", h.ServerPorts[0], h.ServerPorts[1]))
	}
	if h.SSRC != nil {
		parts = append(parts, fmt.Sprintf("ssrc=%08X", *h.SSRC))
	}
	if h.Mode != "" {
		parts = append(parts, fmt.Sprintf("mode=%s", h.Mode))
	}

	return rtspbase.HeaderValue{strings.Join(parts, ";")}
}

// Read decodes a Transport header value, extracting server_port, ssrc
// and mode if present. Other unsupported keys (interleaved, multicast,
// ttl) are ignored rather than rejected, since a server may legally echo
// fields the publisher doesn't act on.
func (h *Transport) Read(v rtspbase.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("headers: Transport value not provided")
	}

	for _, kv := range strings.Split(v[0], ";") {
		kv = strings.TrimSpace(kv)
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key, val := kv[:eq], kv[eq+1:]

		switch key {
		case "server_port":
			ports, err := parsePortRange(val)
			if err != nil {
				return err
			}
			h.ServerPorts = ports

		case "client_port":
			ports, err := parsePortRange(val)
			if err != nil {
				return err
			}
			h.ClientPorts = ports

		case "ssrc":
			n, err := strconv.ParseUint(strings.TrimSpace(val), 16, 32)
			if err != nil {
				return fmt.Errorf("headers: invalid ssrc %q: %w", val, err)
			}
			ssrc := uint32(n)
			h.SSRC = &ssrc

		case "mode":
			h.Mode = strings.Trim(val, `"`)
		}
	}

	return nil
}

func parsePortRange(val string) (*[2]int, error) {
	parts := strings.Split(val, "-")

	p1, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("headers: invalid port %q", val)
	}

	if len(parts) == 1 {
		return &[2]int{p1, p1 + 1}, nil
	}

	p2, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("headers: invalid port %q", val)
	}

	return &[2]int{p1, p2}, nil
}
