package sdp

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
	psdp "github.com/pion/sdp/v3"
)

func TestBuildEncodesParameterSets(t *testing.T) {
	params := Params{
		VPS: []byte{0x40, 0x01, 0xAA},
		SPS: []byte{0x42, 0x01, 0xBB},
		PPS: []byte{0x44, 0x01, 0xCC},
	}
	opts := Options{
		SessionName:   "h265publish",
		PeerHost:      "203.0.113.5",
		ClientRTPPort: 6000,
		Tool:          "h265publish",
	}

	raw, err := Build(opts, params)
	require.NoError(t, err)

	var parsed psdp.SessionDescription
	require.NoError(t, parsed.Unmarshal(raw))
	require.Len(t, parsed.MediaDescriptions, 1)

	media := parsed.MediaDescriptions[0]
	require.Equal(t, "video", media.MediaName.Media)
	require.Equal(t, 6000, media.MediaName.Port.Value)

	fmtp, ok := media.Attribute("fmtp")
	require.True(t, ok)
	require.Contains(t, fmtp, "sprop-vps="+base64.StdEncoding.EncodeToString(params.VPS))
	require.Contains(t, fmtp, "sprop-sps="+base64.StdEncoding.EncodeToString(params.SPS))
	require.Contains(t, fmtp, "sprop-pps="+base64.StdEncoding.EncodeToString(params.PPS))
}

func TestBuildOmitsVPSWhenEmpty(t *testing.T) {
	params := Params{
		SPS: []byte{0x42, 0x01},
		PPS: []byte{0x44, 0x01},
	}
	raw, err := Build(Options{SessionName: "s", PeerHost: "127.0.0.1", ClientRTPPort: 6000}, params)
	require.NoError(t, err)

	var parsed psdp.SessionDescription
	require.NoError(t, parsed.Unmarshal(raw))
	fmtp, ok := parsed.MediaDescriptions[0].Attribute("fmtp")
	require.True(t, ok)
	require.NotContains(t, fmtp, "sprop-vps")
}
