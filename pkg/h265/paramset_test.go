package h265

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, n...)
	}
	return out
}

func lengthPrefixed(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(n)))
		out = append(out, l[:]...)
		out = append(out, n...)
	}
	return out
}

func TestExtractAnnexB(t *testing.T) {
	vps := []byte{0x40, 0x01, 0xAA}
	sps := []byte{0x42, 0x01, 0xBB, 0xCC}
	pps := []byte{0x44, 0x01, 0xDD}

	ps := Extract(annexB(vps, sps, pps))
	require.Equal(t, vps, ps.VPS)
	require.Equal(t, sps, ps.SPS)
	require.Equal(t, pps, ps.PPS)
	require.True(t, ps.Ready())
}

func TestExtractLengthPrefixed(t *testing.T) {
	sps := []byte{0x42, 0x01, 0x01, 0x02, 0x03}
	pps := []byte{0x44, 0x01, 0x09}

	ps := Extract(lengthPrefixed(sps, pps))
	require.Equal(t, sps, ps.SPS)
	require.Equal(t, pps, ps.PPS)
	require.True(t, ps.Ready())
	require.Nil(t, ps.VPS)
}

func TestExtractIgnoresUnknownTypes(t *testing.T) {
	idr := []byte{0x28, 0x01, 0x00, 0x00}
	sps := []byte{0x42, 0x01, 0x01}
	pps := []byte{0x44, 0x01, 0x02}

	ps := Extract(annexB(idr, sps, pps))
	require.Equal(t, sps, ps.SPS)
	require.Equal(t, pps, ps.PPS)
}

func TestExtractNotReadyWithoutPPS(t *testing.T) {
	sps := []byte{0x42, 0x01, 0x01}
	ps := Extract(annexB(sps))
	require.False(t, ps.Ready())
}

func TestExtractMalformedNeverPanics(t *testing.T) {
	require.NotPanics(t, func() {
		Extract(nil)
		Extract([]byte{0x00})
		Extract([]byte{0x00, 0x00, 0x01})
		Extract([]byte{0xff, 0xff, 0xff, 0xff, 0x01, 0x02})
	})
}

func TestTypeOf(t *testing.T) {
	require.Equal(t, NALUTypeVPS, TypeOf(0x40))
	require.Equal(t, NALUTypeSPS, TypeOf(0x42))
	require.Equal(t, NALUTypePPS, TypeOf(0x44))
}
