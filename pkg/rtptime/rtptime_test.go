package rtptime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPTSToRTP90kHzMatchesSpecFormula(t *testing.T) {
	require.EqualValues(t, 0, PTSToRTP90kHz(0))
	require.EqualValues(t, 1500, PTSToRTP90kHz(16667))
}

func TestPTSToRTPMonotonic(t *testing.T) {
	prev := uint32(0)
	for pts := int64(0); pts < 10_000_000; pts += 33333 {
		ts := PTSToRTP90kHz(pts)
		require.GreaterOrEqual(t, ts, prev)
		prev = ts
	}
}
