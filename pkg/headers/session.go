package headers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NoTouchingKids/h265-rtsp-publisher/pkg/rtspbase"
)

// Session is a parsed/encoded Session header.
type Session struct {
	Session string
	Timeout *uint
}

// Read decodes a Session header value.
func (h *Session) Read(v rtspbase.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("headers: Session value not provided")
	}

	parts := strings.Split(v[0], ";")
	h.Session = parts[0]

	for _, kv := range parts[1:] {
		kv = strings.TrimSpace(kv)
		tmp := strings.SplitN(kv, "=", 2)
		if len(tmp) != 2 {
			continue
		}
		if tmp[0] == "timeout" {
			n, err := strconv.ParseUint(tmp[1], 10, 64)
			if err != nil {
				return fmt.Errorf("headers: invalid Session timeout: %w", err)
			}
			u := uint(n)
			h.Timeout = &u
		}
	}

	return nil
}

// Write encodes h as a Session header value.
func (h Session) Write() rtspbase.HeaderValue {
	ret := h.Session
	if h.Timeout != nil {
		ret += ";timeout=" + strconv.FormatUint(uint64(*h.Timeout), 10)
	}
	return rtspbase.HeaderValue{ret}
}
