// Package coords reconciles stimulation digitizer conventions with image space and
// converts between voxel indices and physical millimetre coordinates.
package coords

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"mepmap/pkg/errs"
)

// Affine is a 4x4 homogeneous transform mapping voxel indices to mm.
type Affine [4][4]float64

// Identity is the identity transform.
var Identity = Affine{
	{1, 0, 0, 0},
	{0, 1, 0, 0},
	{0, 0, 1, 0},
	{0, 0, 0, 1},
}

// Apply maps p through the transform, dividing by the homogeneous component.
func (a Affine) Apply(p [3]float64) [3]float64 {
	h := [4]float64{p[0], p[1], p[2], 1}
	var out [4]float64
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r] += a[r][c] * h[c]
		}
	}
	w := out[3]
	if w == 0 {
		w = 1
	}
	return [3]float64{out[0] / w, out[1] / w, out[2] / w}
}

// ApplyVoxel maps an integer voxel index to mm.
func (a Affine) ApplyVoxel(v [3]int) [3]float64 {
	return a.Apply([3]float64{float64(v[0]), float64(v[1]), float64(v[2])})
}

// Inverse returns the mm-to-voxel transform.
func (a Affine) Inverse() (Affine, error) {
	m := mat.NewDense(4, 4, a.flat())
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return Affine{}, errs.ErrConfiguration.WithMessage("affine transform is singular: %v", err)
	}
	var out Affine
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r][c] = inv.At(r, c)
		}
	}
	return out, nil
}

// Mul returns a·b (b applied first).
func (a Affine) Mul(b Affine) Affine {
	var out mat.Dense
	out.Mul(mat.NewDense(4, 4, a.flat()), mat.NewDense(4, 4, b.flat()))
	var res Affine
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			res[r][c] = out.At(r, c)
		}
	}
	return res
}

func (a Affine) flat() []float64 {
	data := make([]float64, 0, 16)
	for r := 0; r < 4; r++ {
		data = append(data, a[r][:]...)
	}
	return data
}

// RoundVoxel rounds a continuous voxel coordinate to the nearest index,
// half away from zero.
func RoundVoxel(p [3]float64) [3]int {
	return [3]int{int(math.Round(p[0])), int(math.Round(p[1])), int(math.Round(p[2]))}
}

// Distance is the Euclidean distance between two points.
func Distance(a, b [3]float64) float64 {
	return floats.Distance(a[:], b[:], 2)
}

// ReadMatrix parses a 4x4 whitespace separated transform such as the .mat files
// written by FSL FLIRT.
func ReadMatrix(path string) (Affine, error) {
	f, err := os.Open(path)
	if err != nil {
		return Affine{}, err
	}
	defer f.Close()

	var values []float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		for _, field := range strings.Fields(scanner.Text()) {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return Affine{}, fmt.Errorf("parse %s: %w", path, err)
			}
			values = append(values, v)
		}
	}
	if err := scanner.Err(); err != nil {
		return Affine{}, err
	}
	if len(values) != 16 {
		return Affine{}, errs.ErrDimensionMismatch.WithMessage("%s holds %d values, a 4x4 matrix needs 16", path, len(values))
	}

	var a Affine
	for i, v := range values {
		a[i/4][i%4] = v
	}
	return a, nil
}

// WriteMatrix writes a in the same layout ReadMatrix accepts.
func WriteMatrix(path string, a Affine) error {
	var b strings.Builder
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			if c > 0 {
				b.WriteString("  ")
			}
			b.WriteString(strconv.FormatFloat(a[r][c], 'f', -1, 64))
		}
		b.WriteString("\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}
