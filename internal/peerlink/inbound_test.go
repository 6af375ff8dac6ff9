package peerlink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BioHazard786/meshcall/internal/media"
)

func TestInboundAccumulatesUntilFinalized(t *testing.T) {
	in := NewInbound()
	base := time.Unix(1700000000, 0)
	step := 0
	in.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}

	assert.True(t, in.Append(media.KindAudio, 100))
	assert.True(t, in.Append(media.KindAudio, 60))
	assert.True(t, in.Append(media.KindVideo, 1200))

	snap := in.Snapshot()
	assert.False(t, snap.Finalized)
	assert.Equal(t, uint64(2), snap.Audio.Packets)
	assert.Equal(t, uint64(160), snap.Audio.Bytes)
	assert.Equal(t, base.Add(time.Second), snap.Audio.First)
	assert.Equal(t, base.Add(2*time.Second), snap.Audio.Last)
	assert.Equal(t, uint64(1360), snap.Bytes())

	final := in.Finalize()
	assert.True(t, final.Finalized)
	assert.False(t, in.Append(media.KindVideo, 999))
	assert.Equal(t, final, in.Finalize())
	assert.Equal(t, final, in.Snapshot())
}
