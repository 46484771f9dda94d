// Package filter implements the morphological dilation and Gaussian smoothing
// applied to rasterized response maps.
package filter

import (
	"strings"

	"mepmap/internal/models"
	"mepmap/pkg/errs"
)

// Shape selects the footprint of the dilation kernel.
type Shape string

const (
	Sphere Shape = "sphere"
	Cube   Shape = "cube"
)

// ParseShape accepts "sphere" or "cube" in any case.
func ParseShape(s string) (Shape, error) {
	switch Shape(strings.ToLower(strings.TrimSpace(s))) {
	case Sphere:
		return Sphere, nil
	case Cube:
		return Cube, nil
	}
	return "", errs.ErrConfiguration.WithMessage("unknown kernel shape %q", s)
}

// ValidateDilation rejects diameters that are not positive odd integers.
func ValidateDilation(d int) error {
	if d <= 0 || d%2 == 0 {
		return errs.ErrConfiguration.
			WithMessage("dilation diameter must be a positive odd integer, got %d", d).
			WithExtras(errs.Extras{"dilate": d})
	}
	return nil
}

// Footprint returns the voxel offsets covered by a kernel of the given
// diameter, centred on the origin.
func Footprint(diameter int, shape Shape) [][3]int {
	r := (diameter - 1) / 2
	limit := float64(diameter) / 2
	limit *= limit

	var offsets [][3]int
	for dz := -r; dz <= r; dz++ {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				if shape == Sphere && float64(dx*dx+dy*dy+dz*dz) > limit {
					continue
				}
				offsets = append(offsets, [3]int{dx, dy, dz})
			}
		}
	}
	return offsets
}

// Dilate spreads every non-zero voxel of v over the footprint and returns a new
// volume. Where footprints overlap the larger value is kept.
func Dilate(v *models.Volume, diameter int, shape Shape) (*models.Volume, error) {
	if err := ValidateDilation(diameter); err != nil {
		return nil, err
	}
	if shape != Sphere && shape != Cube {
		return nil, errs.ErrConfiguration.WithMessage("unknown kernel shape %q", shape)
	}

	out := v.Clone()
	if diameter == 1 {
		return out, nil
	}

	offsets := Footprint(diameter, shape)
	for idx, value := range v.Data {
		if value == 0 {
			continue
		}
		x, y, z := v.Coords(idx)
		for _, o := range offsets {
			nx, ny, nz := x+o[0], y+o[1], z+o[2]
			if !v.InBounds(nx, ny, nz) {
				continue
			}
			n := v.Index(nx, ny, nz)
			if value > out.Data[n] {
				out.Data[n] = value
			}
		}
	}
	return out, nil
}
