package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mepmap/internal/models"
	"mepmap/pkg/errs"
	"mepmap/pkg/filter"
)

func TestNormalizePeakIsHundred(t *testing.T) {
	samples := models.NewVolume(11, 11, 11)
	samples.Set(3, 5, 5, 2)
	samples.Set(5, 5, 5, 6)
	samples.Set(7, 5, 5, 4)

	dilated, err := filter.Dilate(samples, 3, filter.Sphere)
	require.NoError(t, err)
	precursor, err := filter.GaussianSmooth(dilated, 3)
	require.NoError(t, err)

	n, err := Normalize(samples, dilated, precursor)
	require.NoError(t, err)

	assert.Equal(t, 6.0, n.MaxAmplitude)
	assert.Equal(t, precursor.At(5, 5, 5), n.SmoothedPeak)
	assert.InDelta(t, 100.0, n.Dilated.At(5, 5, 5), 1e-9)
	assert.InDelta(t, 100.0*2/6, n.Dilated.At(3, 5, 5), 1e-9)
	assert.InDelta(t, 100.0*4/6, n.Dilated.At(7, 5, 5), 1e-9)
	assert.InDelta(t, 100.0, n.Heatmap.At(5, 5, 5), 1e-9)

	// the inputs are left alone
	assert.Equal(t, 6.0, dilated.At(5, 5, 5))
}

func TestNormalizeIsDeterministic(t *testing.T) {
	samples := models.NewVolume(7, 7, 7)
	samples.Set(2, 3, 4, 1.5)
	samples.Set(4, 3, 2, 3.5)
	dilated, _ := filter.Dilate(samples, 3, filter.Cube)
	precursor, _ := filter.GaussianSmooth(dilated, 7)

	a, err := Normalize(samples, dilated, precursor)
	require.NoError(t, err)
	b, err := Normalize(samples, dilated, precursor)
	require.NoError(t, err)
	assert.Equal(t, a.Heatmap.Data, b.Heatmap.Data)
	assert.Equal(t, a.Dilated.Data, b.Dilated.Data)
}

func TestNormalizeDegenerate(t *testing.T) {
	empty := models.NewVolume(4, 4, 4)
	_, err := Normalize(empty, empty, empty)
	assert.ErrorIs(t, err, errs.ErrDegenerateInput)

	samples := models.NewVolume(4, 4, 4)
	samples.Set(1, 1, 1, 2)
	_, err = Normalize(samples, samples, models.NewVolume(4, 4, 4))
	assert.ErrorIs(t, err, errs.ErrDegenerateInput)

	_, err = Normalize(samples, samples, models.NewVolume(4, 4, 5))
	assert.ErrorIs(t, err, errs.ErrDimensionMismatch)
}

func TestHotspotTieBreak(t *testing.T) {
	v := models.NewVolume(5, 5, 5)
	v.Set(3, 0, 2, 9)
	v.Set(1, 4, 1, 9)
	v.Set(4, 4, 4, 9)

	// (1,4,1) has the lowest storage index
	assert.Equal(t, [3]int{1, 4, 1}, Hotspot(v))
}

func TestCenterOfMassSymmetric(t *testing.T) {
	v := models.NewVolume(9, 9, 9)
	v.Set(2, 4, 4, 5)
	v.Set(6, 4, 4, 5)
	v.Set(4, 2, 4, 5)
	v.Set(4, 6, 4, 5)

	com, err := CenterOfMass(v)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{4, 4, 4}, com[:], 1e-12)

	v.Set(8, 4, 4, 10)
	com, err = CenterOfMass(v)
	require.NoError(t, err)
	assert.InDelta(t, (2*5+6*5+4*10+8*10)/30.0, com[0], 1e-12)
}

func TestCenterOfMassDegenerate(t *testing.T) {
	_, err := CenterOfMass(models.NewVolume(3, 3, 3))
	assert.ErrorIs(t, err, errs.ErrDegenerateInput)
}

func TestAreaAndVolume(t *testing.T) {
	samples := models.NewVolume(10, 10, 10)
	samples.Set(1, 1, 1, 2)
	samples.Set(2, 2, 2, 4)
	samples.Set(3, 3, 3, 6)

	assert.Equal(t, 3.0, MapArea(samples, 1))
	assert.Equal(t, 12.0, MapVolume(samples, 1))
	assert.Equal(t, 12.0, MapArea(samples, 2))
	assert.Equal(t, 48.0, MapVolume(samples, 2))
}

func TestRound(t *testing.T) {
	assert.Equal(t, 33.33, Round(100.0/3, 2))
	assert.Equal(t, 66.67, Round(200.0/3, 2))
	assert.Equal(t, 3.0, Round(2.5, 0))
	assert.Equal(t, -3.0, Round(-2.5, 0))
}
