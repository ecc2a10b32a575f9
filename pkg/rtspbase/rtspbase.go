// Package rtspbase implements the wire-level RTSP 1.0 request/response
// framing used by the client state machine: methods, status codes,
// headers and their text encoding. It deliberately does not support
// interleaved (TCP/RTP-over-RTSP) framing or RTSP URLs with embedded
// credentials, since the publisher only ever does UDP transport to a
// plain rtsp:// URL (spec.md §4.5, Non-goals).
package rtspbase

import (
	"bufio"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

const (
	protocol10 = "RTSP/1.0"

	maxMethodLength   = 128
	maxPathLength     = 1024
	maxProtocolLength = 128
	maxStatusLength   = 255

	maxHeaderEntries   = 255
	maxHeaderKeyLength = 512
	maxHeaderValLength = 2048
	maxContentLength   = 4 << 20
)

// Method is an RTSP request method. Only the methods the publisher
// issues are named; an unsupported one is simply a string.
type Method string

const (
	Options  Method = "OPTIONS"
	Announce Method = "ANNOUNCE"
	Setup    Method = "SETUP"
	Record   Method = "RECORD"
	Teardown Method = "TEARDOWN"
)

// StatusCode is a numeric RTSP response status.
type StatusCode int

const (
	StatusOK                  StatusCode = 200
	StatusBadRequest          StatusCode = 400
	StatusUnauthorized        StatusCode = 401
	StatusNotFound            StatusCode = 404
	StatusSessionNotFound     StatusCode = 454
	StatusMethodNotValid      StatusCode = 455
	StatusUnsupportedTransport StatusCode = 461
	StatusInternalServerError StatusCode = 500
)

var statusMessages = map[StatusCode]string{
	StatusOK:                   "OK",
	StatusBadRequest:           "Bad Request",
	StatusUnauthorized:         "Unauthorized",
	StatusNotFound:             "Not Found",
	StatusSessionNotFound:      "Session Not Found",
	StatusMethodNotValid:       "Method Not Valid In This State",
	StatusUnsupportedTransport: "Unsupported Transport",
	StatusInternalServerError:  "Internal Server Error",
}

// HeaderValue holds the (rare) repeated values of a single header key.
type HeaderValue []string

// Header is the set of header fields of a Request or Response.
type Header map[string]HeaderValue

// Get returns the first value associated with key, or "" if absent.
func (h Header) Get(key string) string {
	v, ok := h[normalizeKey(key)]
	if !ok || len(v) == 0 {
		return ""
	}
	return v[0]
}

// Set replaces all values of key with a single value.
func (h Header) Set(key, value string) {
	h[normalizeKey(key)] = HeaderValue{value}
}

func normalizeKey(in string) string {
	switch strings.ToLower(in) {
	case "cseq":
		return "CSeq"
	case "www-authenticate":
		return "WWW-Authenticate"
	case "rtp-info":
		return "RTP-Info"
	}
	return http.CanonicalHeaderKey(in)
}

func (h *Header) read(rb *bufio.Reader) error {
	*h = make(Header)
	count := 0

	for {
		b, err := rb.ReadByte()
		if err != nil {
			return err
		}

		if b == '\r' {
			if err := readByteEqual(rb, '\n'); err != nil {
				return err
			}
			return nil
		}

		if count >= maxHeaderEntries {
			return fmt.Errorf("rtspbase: headers count exceeds %d", maxHeaderEntries)
		}

		key := string([]byte{b})
		rest, err := readBytesLimited(rb, ':', maxHeaderKeyLength-1)
		if err != nil {
			return fmt.Errorf("rtspbase: malformed header key: %w", err)
		}
		key = normalizeKey(key + string(rest[:len(rest)-1]))

		for {
			b, err := rb.ReadByte()
			if err != nil {
				return err
			}
			if b != ' ' {
				break
			}
		}
		rb.UnreadByte() //nolint:errcheck

		valBytes, err := readBytesLimited(rb, '\r', maxHeaderValLength)
		if err != nil {
			return err
		}
		if err := readByteEqual(rb, '\n'); err != nil {
			return err
		}

		(*h)[key] = append((*h)[key], string(valBytes[:len(valBytes)-1]))
		count++
	}
}

func (h Header) write(wb *bufio.Writer) error {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, v := range h[k] {
			if _, err := wb.Write([]byte(k + ": " + v + "\r\n")); err != nil {
				return err
			}
		}
	}

	_, err := wb.Write([]byte("\r\n"))
	return err
}

// Request is an RTSP request.
type Request struct {
	Method  Method
	URL     string
	Header  Header
	Content []byte
}

// Write serializes a Request onto bw and flushes it.
func (r Request) Write(bw *bufio.Writer) error {
	if _, err := bw.Write([]byte(string(r.Method) + " " + r.URL + " " + protocol10 + "\r\n")); err != nil {
		return err
	}

	if len(r.Content) != 0 {
		r.Header.Set("Content-Length", strconv.Itoa(len(r.Content)))
	}

	if err := r.Header.write(bw); err != nil {
		return err
	}

	if len(r.Content) > 0 {
		if _, err := bw.Write(r.Content); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Response is an RTSP response.
type Response struct {
	StatusCode    StatusCode
	StatusMessage string
	Header        Header
	Body          []byte
}

// Read parses one response from rb, including any Content-Length body.
func (res *Response) Read(rb *bufio.Reader) error {
	protoBytes, err := readBytesLimited(rb, ' ', maxProtocolLength)
	if err != nil {
		return err
	}
	if proto := string(protoBytes[:len(protoBytes)-1]); proto != protocol10 {
		return fmt.Errorf("rtspbase: expected %q, got %q", protocol10, proto)
	}

	codeBytes, err := readBytesLimited(rb, ' ', 4)
	if err != nil {
		return err
	}
	code, err := strconv.Atoi(string(codeBytes[:len(codeBytes)-1]))
	if err != nil {
		return fmt.Errorf("rtspbase: invalid status code: %w", err)
	}
	res.StatusCode = StatusCode(code)

	msgBytes, err := readBytesLimited(rb, '\r', maxStatusLength)
	if err != nil {
		return err
	}
	res.StatusMessage = string(msgBytes[:len(msgBytes)-1])

	if err := readByteEqual(rb, '\n'); err != nil {
		return err
	}

	if err := res.Header.read(rb); err != nil {
		return err
	}

	return res.readBody(rb)
}

func (res *Response) readBody(rb *bufio.Reader) error {
	cl := res.Header.Get("Content-Length")
	if cl == "" {
		res.Body = nil
		return nil
	}

	n, err := strconv.ParseInt(cl, 10, 64)
	if err != nil {
		return fmt.Errorf("rtspbase: invalid Content-Length: %w", err)
	}
	if n > maxContentLength {
		return fmt.Errorf("rtspbase: Content-Length %d exceeds limit %d", n, maxContentLength)
	}

	res.Body = make([]byte, n)
	_, err = readFull(rb, res.Body)
	return err
}

func readFull(rb *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := rb.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func readByteEqual(rb *bufio.Reader, want byte) error {
	b, err := rb.ReadByte()
	if err != nil {
		return err
	}
	if b != want {
		return fmt.Errorf("rtspbase: expected %q, got %q", want, b)
	}
	return nil
}

func readBytesLimited(rb *bufio.Reader, delim byte, n int) ([]byte, error) {
	for i := 1; i <= n; i++ {
		b, err := rb.Peek(i)
		if err != nil {
			return nil, err
		}
		if b[len(b)-1] == delim {
			rb.Discard(len(b)) //nolint:errcheck
			return b, nil
		}
	}
	return nil, fmt.Errorf("rtspbase: line exceeds %d bytes without delimiter %q", n, delim)
}
