package h265

import (
	"encoding/binary"

	mch265 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
)

// ParameterSets holds the VPS/SPS/PPS extracted from an encoder's
// codec-specific data, without Annex-B start codes.
type ParameterSets struct {
	VPS []byte
	SPS []byte
	PPS []byte

	// SPSValid/PPSValid report whether mediacommon could parse the
	// corresponding set structurally. They are diagnostic only: a set is
	// classified and stored by its NAL type regardless of parse success,
	// per spec.md §4.7 ("malformed input never raises"); callers may use
	// these to log a warning without refusing to publish.
	SPSValid bool
	PPSValid bool
}

// Ready reports whether enough parameter sets are present to publish: SPS
// and PPS are mandatory, VPS is optional (spec.md §3 Parameter Sets).
func (p ParameterSets) Ready() bool {
	return len(p.SPS) > 0 && len(p.PPS) > 0
}

// Extract scans codec-specific data for VPS/SPS/PPS NAL units and
// classifies them by NAL type. It accepts either Annex-B framing (3- or
// 4-byte start codes) or 4-byte big-endian length-prefixed framing, and
// never fails: unparsed trailing bytes, unknown NAL types and malformed
// framing are silently dropped, per spec.md §4.7.
func Extract(data []byte) ParameterSets {
	var out ParameterSets

	nalus := splitNALUs(data)
	for _, nalu := range nalus {
		if len(nalu) < 2 {
			continue
		}

		switch TypeOf(nalu[0]) {
		case NALUTypeVPS:
			// mediacommon has no standalone VPS parser; VPS is optional
			// (spec.md §3) and accepted once its NAL type matches.
			out.VPS = append([]byte(nil), nalu...)
		case NALUTypeSPS:
			out.SPS = append([]byte(nil), nalu...)
			var sps mch265.SPS
			out.SPSValid = sps.Unmarshal(nalu) == nil
		case NALUTypePPS:
			out.PPS = append([]byte(nil), nalu...)
			var pps mch265.PPS
			out.PPSValid = pps.Unmarshal(nalu) == nil
		default:
			// video/auxiliary NAL types are not parameter sets; ignored here.
		}
	}

	return out
}

// splitNALUs slices data into individual NAL units (without start codes
// or length prefixes), auto-detecting Annex-B vs length-prefixed framing.
func splitNALUs(data []byte) [][]byte {
	if hasStartCode(data) {
		return splitAnnexB(data)
	}
	return splitLengthPrefixed(data)
}

func hasStartCode(data []byte) bool {
	for i := 0; i+2 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			return true
		}
	}
	return false
}

func splitAnnexB(data []byte) [][]byte {
	var nalus [][]byte

	// normalize positions of all start codes (3- or 4-byte forms both end
	// in 00 00 01; the extra leading zero of the 4-byte form, like any
	// other zero bytes before a start code, is trimmed off the end of the
	// preceding NAL below).
	var starts []int
	for i := 0; i+2 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			starts = append(starts, i+3)
		}
	}

	for i, s := range starts {
		end := len(data)
		if i+1 < len(starts) {
			// back off the trailing zero bytes of the next start code.
			next := starts[i+1] - 3
			end = next
			for end > s && data[end-1] == 0 {
				end--
			}
		}
		if end > s {
			nalus = append(nalus, data[s:end])
		}
	}

	return nalus
}

func splitLengthPrefixed(data []byte) [][]byte {
	var nalus [][]byte

	off := 0
	for off+4 <= len(data) {
		n := int(binary.BigEndian.Uint32(data[off : off+4]))
		off += 4
		if n < 0 || off+n > len(data) {
			break
		}
		if n > 0 {
			nalus = append(nalus, data[off:off+n])
		}
		off += n
	}

	return nalus
}
