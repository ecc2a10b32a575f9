package rtspbase

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestWrite(t *testing.T) {
	req := Request{
		Method: Announce,
		URL:    "rtsp://192.168.1.10:554/live",
		Header: Header{
			"CSeq":         HeaderValue{"2"},
			"Content-Type": HeaderValue{"application/sdp"},
		},
		Content: []byte("v=0\r\n"),
	}

	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	require.NoError(t, req.Write(bw))

	require.Equal(t,
		"ANNOUNCE rtsp://192.168.1.10:554/live RTSP/1.0\r\n"+
			"CSeq: 2\r\n"+
			"Content-Length: 5\r\n"+
			"Content-Type: application/sdp\r\n"+
			"\r\n"+
			"v=0\r\n",
		buf.String(),
	)
}

func TestResponseReadOK(t *testing.T) {
	raw := "RTSP/1.0 200 OK\r\n" +
		"CSeq: 2\r\n" +
		"Session: 645252166\r\n" +
		"\r\n"

	var res Response
	require.NoError(t, res.Read(bufio.NewReader(bytes.NewReader([]byte(raw)))))

	require.Equal(t, StatusOK, res.StatusCode)
	require.Equal(t, "OK", res.StatusMessage)
	require.Equal(t, "2", res.Header.Get("CSeq"))
	require.Equal(t, "645252166", res.Header.Get("Session"))
}

func TestResponseReadWithBody(t *testing.T) {
	raw := "RTSP/1.0 200 OK\r\n" +
		"CSeq: 3\r\n" +
		"Content-Length: 11\r\n" +
		"\r\n" +
		"hello world"

	var res Response
	require.NoError(t, res.Read(bufio.NewReader(bytes.NewReader([]byte(raw)))))
	require.Equal(t, []byte("hello world"), res.Body)
}

func TestResponseReadRejectsWrongProtocol(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\n\r\n"
	var res Response
	require.Error(t, res.Read(bufio.NewReader(bytes.NewReader([]byte(raw)))))
}

func TestResponseReadUnauthorized(t *testing.T) {
	raw := "RTSP/1.0 401 Unauthorized\r\n" +
		"CSeq: 1\r\n" +
		"WWW-Authenticate: Basic realm=\"test\"\r\n" +
		"\r\n"

	var res Response
	require.NoError(t, res.Read(bufio.NewReader(bytes.NewReader([]byte(raw)))))
	require.Equal(t, StatusUnauthorized, res.StatusCode)
	require.Equal(t, "Basic realm=\"test\"", res.Header.Get("WWW-Authenticate"))
}

func TestHeaderGetSetNormalizesKey(t *testing.T) {
	h := Header{}
	h.Set("cseq", "7")
	require.Equal(t, "7", h.Get("CSeq"))
	require.Equal(t, "7", h.Get("cseq"))
}
