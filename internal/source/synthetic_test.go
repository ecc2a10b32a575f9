package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	calls []struct {
		ptsUs       int64
		codecConfig bool
		keyFrame    bool
		size        int
	}
}

func (r *recordingSink) Forward(auBytes []byte, ptsUs int64, codecConfig, keyFrame bool) {
	r.calls = append(r.calls, struct {
		ptsUs       int64
		codecConfig bool
		keyFrame    bool
		size        int
	}{ptsUs, codecConfig, keyFrame, len(auBytes)})
}

func TestSyntheticEmitsConfigFirstThenKeyframe(t *testing.T) {
	sink := &recordingSink{}
	s := &Synthetic{
		Sink:             sink,
		FrameInterval:    time.Millisecond,
		KeyframeInterval: 3,
		PictureSize:      100,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	require.NotEmpty(t, sink.calls)
	require.True(t, sink.calls[0].codecConfig)
	require.True(t, sink.calls[1].keyFrame)
	require.Equal(t, 800, sink.calls[1].size)
}
