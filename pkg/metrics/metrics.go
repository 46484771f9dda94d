// Package metrics normalizes response maps and extracts the summary statistics
// reported for every subject and muscle.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"mepmap/internal/models"
	"mepmap/pkg/errs"
)

// Normalized is the output of Normalize. Both maps are scaled to percent.
type Normalized struct {
	// MaxAmplitude is the largest raw amplitude in the samples map
	MaxAmplitude float64

	// SmoothedPeak is the smoothed value at the voxel holding MaxAmplitude
	SmoothedPeak float64

	// Dilated is the dilated map divided by MaxAmplitude, times 100
	Dilated *models.Volume

	// Heatmap is the smoothed map divided by SmoothedPeak, times 100
	Heatmap *models.Volume
}

// Normalize scales the dilated map by the raw peak amplitude and the smoothed
// precursor by its own value at the raw peak, so the strongest stimulation
// reads 100 in both outputs.
func Normalize(samples, dilated, precursor *models.Volume) (Normalized, error) {
	if !samples.SameGrid(dilated) || !samples.SameGrid(precursor) {
		return Normalized{}, errs.ErrDimensionMismatch.WithMessage(
			"cannot normalize maps of shapes %v, %v and %v", samples.Shape(), dilated.Shape(), precursor.Shape())
	}
	if samples.Len() == 0 {
		return Normalized{}, errs.ErrDegenerateInput.WithMessage("samples map is empty")
	}

	peak := floats.MaxIdx(samples.Data)
	n := Normalized{
		MaxAmplitude: samples.Data[peak],
		SmoothedPeak: precursor.Data[peak],
	}
	if n.MaxAmplitude <= 0 {
		return Normalized{}, errs.ErrDegenerateInput.
			WithMessage("maximum amplitude is %v, no responsive stimulation", n.MaxAmplitude).
			WithExtras(errs.Extras{"max_amplitude": n.MaxAmplitude})
	}
	if n.SmoothedPeak <= 0 {
		return Normalized{}, errs.ErrDegenerateInput.
			WithMessage("smoothed value at the peak voxel is %v", n.SmoothedPeak).
			WithExtras(errs.Extras{"smoothed_peak": n.SmoothedPeak})
	}

	n.Dilated = dilated.Clone()
	floats.Scale(100/n.MaxAmplitude, n.Dilated.Data)
	n.Heatmap = precursor.Clone()
	floats.Scale(100/n.SmoothedPeak, n.Heatmap.Data)
	return n, nil
}

// Hotspot returns the voxel of the maximum value. Ties resolve to the first
// voxel in storage order (x fastest, then y, then z).
func Hotspot(v *models.Volume) [3]int {
	if v.Len() == 0 {
		return [3]int{}
	}
	x, y, z := v.Coords(floats.MaxIdx(v.Data))
	return [3]int{x, y, z}
}

// CenterOfMass returns the amplitude-weighted centroid in voxel coordinates.
func CenterOfMass(v *models.Volume) ([3]float64, error) {
	if floats.Sum(v.Data) == 0 {
		return [3]float64{}, errs.ErrDegenerateInput.WithMessage("map has zero total weight")
	}

	xs := make([]float64, v.Len())
	ys := make([]float64, v.Len())
	zs := make([]float64, v.Len())
	for idx := range v.Data {
		x, y, z := v.Coords(idx)
		xs[idx], ys[idx], zs[idx] = float64(x), float64(y), float64(z)
	}
	return [3]float64{
		stat.Mean(xs, v.Data),
		stat.Mean(ys, v.Data),
		stat.Mean(zs, v.Data),
	}, nil
}

// MapArea is the number of stimulated voxels times the squared grid spacing.
func MapArea(samples *models.Volume, spacing float64) float64 {
	return float64(samples.CountNonZero()) * spacing * spacing
}

// MapVolume is the sum of the stimulated amplitudes times the squared grid spacing.
func MapVolume(samples *models.Volume, spacing float64) float64 {
	return floats.Sum(samples.Data) * spacing * spacing
}

// Round rounds v to the given number of decimal places, half away from zero.
func Round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
