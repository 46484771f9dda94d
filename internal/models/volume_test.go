package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexCoordsRoundTrip(t *testing.T) {
	v := NewVolume(4, 5, 6)
	for idx := 0; idx < v.Len(); idx++ {
		x, y, z := v.Coords(idx)
		require.True(t, v.InBounds(x, y, z))
		require.Equal(t, idx, v.Index(x, y, z))
	}
}

func TestIndexIsXFastest(t *testing.T) {
	v := NewVolume(3, 4, 5)
	assert.Equal(t, 1, v.Index(1, 0, 0))
	assert.Equal(t, 3, v.Index(0, 1, 0))
	assert.Equal(t, 12, v.Index(0, 0, 1))
}

func TestNewVolumeLikeSharesGrid(t *testing.T) {
	ref := NewVolume(2, 3, 4)
	ref.Affine[0][3] = -90
	ref.VoxelSize.X = 2
	ref.Set(1, 1, 1, 5)

	like := NewVolumeLike(ref)
	assert.True(t, like.SameGrid(ref))
	assert.Equal(t, ref.Affine, like.Affine)
	assert.Equal(t, 2.0, like.VoxelSize.X)
	assert.Equal(t, 0, like.CountNonZero())

	clone := ref.Clone()
	clone.Set(0, 0, 0, 1)
	assert.Equal(t, 0.0, ref.At(0, 0, 0))
	assert.Equal(t, 2, clone.CountNonZero())
}

func TestRecordsPairsSeries(t *testing.T) {
	table := &StimulationTable{
		X: []float64{1, 2},
		Y: []float64{3, 4},
		Z: []float64{5, 6},
		Channels: []Channel{
			{Name: "FDI", Amplitudes: []float64{0.5, 0}, Responsive: []bool{true, false}},
		},
	}
	ch, ok := table.Channel("FDI")
	require.True(t, ok)
	records := table.Records(ch)
	require.Len(t, records, 2)
	assert.Equal(t, StimulationRecord{X: 1, Y: 3, Z: 5, Amplitude: 0.5, Responsive: true}, records[0])
	assert.False(t, records[1].Responsive)
	assert.Equal(t, []string{"FDI"}, table.ChannelNames())

	_, ok = table.Channel("APB")
	assert.False(t, ok)
}
