// Package visualization renders quality-control snapshots of heatmaps.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"mepmap/internal/models"
)

// Viewer extracts 2D slices from a volume, optionally blended over an
// anatomical underlay of the same grid.
type Viewer struct {
	volume *models.Volume

	// underlay is drawn in gray beneath the volume when set
	underlay *models.Volume

	// scale maps volume values to [0, 1]
	scale float64
}

// NewViewer creates a viewer scaled by the maximum of volume
func NewViewer(volume *models.Volume) *Viewer {
	return &Viewer{volume: volume, scale: inverseMax(volume)}
}

// WithUnderlay returns a copy of v that renders volume as a colour overlay on
// top of anatomy.
func (v *Viewer) WithUnderlay(anatomy *models.Volume) (*Viewer, error) {
	if !anatomy.SameGrid(v.volume) {
		return nil, fmt.Errorf("underlay shape %v does not match volume shape %v", anatomy.Shape(), v.volume.Shape())
	}
	c := *v
	c.underlay = anatomy
	return &c, nil
}

func inverseMax(v *models.Volume) float64 {
	if v.Len() == 0 {
		return 0
	}
	m := floats.Max(v.Data)
	if m <= 0 {
		return 0
	}
	return 1 / m
}

// plane resolves the image size of a slice and the volume index of each pixel.
func (v *Viewer) plane(axis string, position int) (w, h int, index func(i, j int) int, err error) {
	vol := v.volume
	if position < 0 {
		return 0, 0, nil, fmt.Errorf("position must be non-negative")
	}

	switch axis {
	case "x", "X":
		// sagittal, YZ plane
		if position >= vol.Width {
			return 0, 0, nil, fmt.Errorf("position %d exceeds width %d", position, vol.Width)
		}
		return vol.Height, vol.Depth, func(i, j int) int { return vol.Index(position, i, vol.Depth-1-j) }, nil
	case "y", "Y":
		// coronal, XZ plane
		if position >= vol.Height {
			return 0, 0, nil, fmt.Errorf("position %d exceeds height %d", position, vol.Height)
		}
		return vol.Width, vol.Depth, func(i, j int) int { return vol.Index(i, position, vol.Depth-1-j) }, nil
	case "z", "Z":
		// axial, XY plane
		if position >= vol.Depth {
			return 0, 0, nil, fmt.Errorf("position %d exceeds depth %d", position, vol.Depth)
		}
		return vol.Width, vol.Height, func(i, j int) int { return vol.Index(i, vol.Height-1-j, position) }, nil
	}
	return 0, 0, nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// ExtractSlice extracts a 16-bit grayscale slice along the specified axis.
// Superior and anterior are drawn at the top of the image.
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray16, error) {
	w, h, index, err := v.plane(axis, position)
	if err != nil {
		return nil, err
	}

	img := image.NewGray16(image.Rect(0, 0, w, h))
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			value := uint16(math.Max(0, math.Min(65535, v.volume.Data[index(i, j)]*v.scale*65535)))
			img.SetGray16(i, j, color.Gray16{Y: value})
		}
	}
	return img, nil
}

// ExtractOverlay blends the volume in a hot colour map over the gray underlay.
// Voxels where the volume is zero show the underlay only.
func (v *Viewer) ExtractOverlay(axis string, position int) (*image.RGBA, error) {
	if v.underlay == nil {
		return nil, fmt.Errorf("viewer has no underlay")
	}
	w, h, index, err := v.plane(axis, position)
	if err != nil {
		return nil, err
	}

	anatomyScale := inverseMax(v.underlay)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			idx := index(i, j)
			if t := v.volume.Data[idx] * v.scale; t > 0 {
				img.SetRGBA(i, j, hot(t))
				continue
			}
			g := uint8(math.Max(0, math.Min(255, v.underlay.Data[idx]*anatomyScale*255)))
			img.SetRGBA(i, j, color.RGBA{R: g, G: g, B: g, A: 255})
		}
	}
	return img, nil
}

// hot maps t in (0, 1] through black-red-yellow-white.
func hot(t float64) color.RGBA {
	t = math.Min(1, t)
	channel := func(lo float64) uint8 {
		return uint8(255 * math.Max(0, math.Min(1, (t-lo)*3)))
	}
	return color.RGBA{R: channel(0), G: channel(1.0 / 3), B: channel(2.0 / 3), A: 255}
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveOrthogonal writes sagittal, coronal and axial slices through center to
// dir as <prefix>_sagittal.jpg, <prefix>_coronal.jpg and <prefix>_axial.jpg.
func (v *Viewer) SaveOrthogonal(dir, prefix string, center [3]int) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	views := []struct {
		name string
		axis string
		pos  int
	}{
		{"sagittal", "x", center[0]},
		{"coronal", "y", center[1]},
		{"axial", "z", center[2]},
	}

	var written []string
	for _, view := range views {
		var img image.Image
		var err error
		if v.underlay != nil {
			img, err = v.ExtractOverlay(view.axis, view.pos)
		} else {
			img, err = v.ExtractSlice(view.axis, view.pos)
		}
		if err != nil {
			return written, errors.Wrapf(err, "%s view", view.name)
		}

		filename := filepath.Join(dir, fmt.Sprintf("%s_%s.jpg", prefix, view.name))
		if err := v.SaveSlice(img, filename); err != nil {
			return written, err
		}
		written = append(written, filename)
	}
	return written, nil
}

// SaveSliceSequence extracts and saves a sequence of slices along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.volume.Width
	case "y", "Y":
		maxPos = v.volume.Height
	case "z", "Z":
		maxPos = v.volume.Depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
