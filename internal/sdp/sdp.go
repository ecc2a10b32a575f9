// Package sdp builds the SDP offer sent in the ANNOUNCE request body:
// a single H.265 video track describing VPS/SPS/PPS as base64 fmtp
// parameters (spec.md §4.6).
package sdp

import (
	"encoding/base64"
	"strings"

	psdp "github.com/pion/sdp/v3"
)

const (
	videoPayloadType = "96"
	rtpMapH265       = videoPayloadType + " H265/90000"
	controlTrack0    = "track0"
)

// Params are the parameter sets describing the announced H.265 track, as
// extracted by the parameter-set extractor (C7).
type Params struct {
	VPS []byte
	SPS []byte
	PPS []byte
}

// Options configures session-level fields of the built offer.
type Options struct {
	SessionName   string
	PeerHost      string
	ClientRTPPort int
	Tool          string
}

// Build renders the SDP offer described in spec.md §4.6 and returns its
// encoded bytes.
func Build(opts Options, params Params) ([]byte, error) {
	sd := &psdp.SessionDescription{
		Version: 0,
		Origin: psdp.Origin{
			Username:       "-",
			SessionID:      0,
			SessionVersion: 0,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "127.0.0.1",
		},
		SessionName: psdp.SessionName(opts.SessionName),
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: opts.PeerHost},
		},
		TimeDescriptions: []psdp.TimeDescription{
			{Timing: psdp.Timing{StartTime: 0, StopTime: 0}},
		},
		Attributes: []psdp.Attribute{
			{Key: "tool", Value: opts.Tool},
			{Key: "type", Value: "broadcast"},
			{Key: "control", Value: "*"},
		},
	}

	sd.MediaDescriptions = []*psdp.MediaDescription{
		{
			MediaName: psdp.MediaName{
				Media:   "video",
				Port:    psdp.RangedPort{Value: opts.ClientRTPPort},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{videoPayloadType},
			},
			Attributes: []psdp.Attribute{
				{Key: "rtpmap", Value: rtpMapH265},
				{Key: "fmtp", Value: videoPayloadType + " " + fmtpParams(params)},
				{Key: "control", Value: controlTrack0},
			},
		},
	}

	return sd.Marshal()
}

func fmtpParams(p Params) string {
	var parts []string
	if len(p.VPS) > 0 {
		parts = append(parts, "sprop-vps="+base64.StdEncoding.EncodeToString(p.VPS))
	}
	parts = append(parts, "sprop-sps="+base64.StdEncoding.EncodeToString(p.SPS))
	parts = append(parts, "sprop-pps="+base64.StdEncoding.EncodeToString(p.PPS))
	return strings.Join(parts, ";")
}
