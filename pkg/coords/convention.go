package coords

import (
	"strings"

	"mepmap/internal/models"
	"mepmap/pkg/errs"
)

// Convention names the axis convention of the stimulation digitizer.
type Convention string

const (
	// Brainsight coordinates are RPS: +x right, +y posterior, +z superior.
	Brainsight Convention = "brainsight"
	// Nifti coordinates are RAS and match the image's native orientation.
	Nifti Convention = "nifti"
)

// ParseConvention accepts either convention name, case-insensitively.
func ParseConvention(s string) (Convention, error) {
	switch Convention(strings.ToLower(strings.TrimSpace(s))) {
	case Brainsight:
		return Brainsight, nil
	case Nifti:
		return Nifti, nil
	}
	return "", errs.ErrConfiguration.WithMessage("unknown coordinate convention %q, expected %q or %q", s, Brainsight, Nifti)
}

// NeedsFlip reports whether maps built from this convention must be reflected along Y.
func (c Convention) NeedsFlip() bool {
	return c == Brainsight
}

// FlipY reflects v along the Y (anterior-posterior) axis in place.
func FlipY(v *models.Volume) {
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height/2; y++ {
			yy := v.Height - 1 - y
			for x := 0; x < v.Width; x++ {
				i, j := v.Index(x, y, z), v.Index(x, yy, z)
				v.Data[i], v.Data[j] = v.Data[j], v.Data[i]
			}
		}
	}
}

// Reconcile flips every given map when the convention requires it. All maps are
// treated the same so grid, samples and responses stay registered to each other.
func Reconcile(c Convention, maps ...*models.Volume) bool {
	if !c.NeedsFlip() {
		return false
	}
	for _, m := range maps {
		if m != nil {
			FlipY(m)
		}
	}
	return true
}
