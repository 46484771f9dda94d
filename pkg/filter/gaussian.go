package filter

import (
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"

	"mepmap/internal/models"
	"mepmap/pkg/errs"
)

// fwhmToSigma converts a full width at half maximum to a standard deviation.
const fwhmToSigma = 2.355

// truncate is the kernel half-width in standard deviations.
const truncate = 4.0

// Kernel returns the normalized 1-D Gaussian weights for sigma, of length
// 2*radius+1 with radius = int(4*sigma + 0.5).
func Kernel(sigma float64) []float64 {
	radius := int(truncate*sigma + 0.5)
	weights := make([]float64, 2*radius+1)
	for i := -radius; i <= radius; i++ {
		weights[i+radius] = math.Exp(-0.5 * float64(i*i) / (sigma * sigma))
	}
	floats.Scale(1/floats.Sum(weights), weights)
	return weights
}

// reflect maps an out-of-range index onto [0, n) mirroring about the edges
// including the edge sample: d c b a | a b c d | d c b a.
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// GaussianSmooth convolves v with an isotropic Gaussian whose FWHM is given in
// voxels. A FWHM of zero returns an unsmoothed copy.
func GaussianSmooth(v *models.Volume, fwhm float64) (*models.Volume, error) {
	if fwhm < 0 || math.IsNaN(fwhm) {
		return nil, errs.ErrConfiguration.WithMessage("smoothing kernel must be non-negative, got %v", fwhm)
	}
	out := v.Clone()
	if fwhm == 0 {
		return out, nil
	}

	kernel := Kernel(fwhm / fwhmToSigma)
	for axis := 0; axis < 3; axis++ {
		out = convolveAxis(out, kernel, axis)
	}
	return out, nil
}

// convolveAxis applies kernel along one axis. Lines are split across workers;
// each line is independent so no locking is needed.
func convolveAxis(v *models.Volume, kernel []float64, axis int) *models.Volume {
	out := models.NewVolumeLike(v)
	shape := v.Shape()
	n := shape[axis]
	stride := [3]int{1, v.Width, v.Width * v.Height}[axis]
	radius := len(kernel) / 2

	// every line is identified by its starting index
	var starts []int
	for z := 0; z < shape[2]; z++ {
		for y := 0; y < shape[1]; y++ {
			for x := 0; x < shape[0]; x++ {
				p := [3]int{x, y, z}
				if p[axis] != 0 {
					continue
				}
				starts = append(starts, v.Index(x, y, z))
			}
		}
	}

	workers := runtime.NumCPU()
	if workers > len(starts) {
		workers = len(starts)
	}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			line := make([]float64, n)
			for s := w; s < len(starts); s += workers {
				base := starts[s]
				for i := 0; i < n; i++ {
					line[i] = v.Data[base+i*stride]
				}
				for i := 0; i < n; i++ {
					sum := 0.0
					for k, weight := range kernel {
						sum += weight * line[reflect(i+k-radius, n)]
					}
					out.Data[base+i*stride] = sum
				}
			}
		}(w)
	}
	wg.Wait()
	return out
}
