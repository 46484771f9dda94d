package coords

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mepmap/internal/models"
	"mepmap/pkg/errs"
)

// mni1mm is the sform of the 1mm MNI152 template
var mni1mm = Affine{
	{-1, 0, 0, 90},
	{0, 1, 0, -126},
	{0, 0, 1, -72},
	{0, 0, 0, 1},
}

func TestApplyVoxel(t *testing.T) {
	got := mni1mm.ApplyVoxel([3]int{90, 126, 72})
	assert.InDeltaSlice(t, []float64{0, 0, 0}, got[:], 1e-9)
}

func TestRoundTrip(t *testing.T) {
	oblique := Affine{
		{0.9, -0.1, 0.05, -80},
		{0.1, 1.1, -0.2, -110},
		{0.02, 0.15, 2.0, -60},
		{0, 0, 0, 1},
	}
	for _, a := range []Affine{Identity, mni1mm, oblique} {
		inv, err := a.Inverse()
		require.NoError(t, err)
		for _, v := range [][3]int{{0, 0, 0}, {17, 42, 3}, {181, 217, 181}} {
			mm := a.ApplyVoxel(v)
			back := RoundVoxel(inv.Apply(mm))
			assert.Equal(t, v, back)
		}
	}
}

func TestInverseSingular(t *testing.T) {
	_, err := Affine{}.Inverse()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConfiguration))
}

func TestMulIdentity(t *testing.T) {
	assert.Equal(t, mni1mm, mni1mm.Mul(Identity))
}

func TestRoundVoxelHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, [3]int{3, -3, 2}, RoundVoxel([3]float64{2.5, -2.5, 2.49}))
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 5.0, Distance([3]float64{0, 0, 0}, [3]float64{3, 4, 0}), 1e-12)
}

func TestMatrixFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "omat.mat")
	require.NoError(t, WriteMatrix(path, mni1mm))
	got, err := ReadMatrix(path)
	require.NoError(t, err)
	assert.Equal(t, mni1mm, got)
}

func TestParseConvention(t *testing.T) {
	c, err := ParseConvention(" Brainsight ")
	require.NoError(t, err)
	assert.True(t, c.NeedsFlip())

	c, err = ParseConvention("NIFTI")
	require.NoError(t, err)
	assert.False(t, c.NeedsFlip())

	_, err = ParseConvention("LPS")
	assert.True(t, errors.Is(err, errs.ErrConfiguration))
}

func TestReconcileFlipsAllMaps(t *testing.T) {
	grid := models.NewVolume(2, 5, 2)
	samples := models.NewVolume(2, 5, 2)
	grid.Set(1, 0, 1, 1)
	samples.Set(1, 0, 1, 7)
	samples.Set(0, 2, 0, 3)

	assert.False(t, Reconcile(Nifti, grid, samples))
	assert.Equal(t, 1.0, grid.At(1, 0, 1))

	assert.True(t, Reconcile(Brainsight, grid, samples, nil))
	assert.Equal(t, 1.0, grid.At(1, 4, 1))
	assert.Equal(t, 7.0, samples.At(1, 4, 1))
	// the middle row of an odd-height axis stays put
	assert.Equal(t, 3.0, samples.At(0, 2, 0))
	assert.Equal(t, 0.0, samples.At(1, 0, 1))
}
