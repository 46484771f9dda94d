package group

import (
	"github.com/kshedden/gonpy"
	"github.com/pkg/errors"

	"mepmap/internal/models"
	"mepmap/pkg/errs"
)

// ExportNpy writes vols as a numpy array of shape (X, Y, Z) for one volume or
// (X, Y, Z, N) for several, in C order.
func ExportNpy(path string, vols []*models.Volume) error {
	if len(vols) == 0 {
		return errs.ErrDegenerateInput.WithMessage("no volumes to export")
	}
	ref := vols[0]
	n := len(vols)
	data := make([]float64, ref.Len()*n)
	for t, v := range vols {
		if !v.SameGrid(ref) {
			return errs.ErrAlignment.WithMessage("volume %d has shape %v, expected %v", t, v.Shape(), ref.Shape())
		}
		for idx, value := range v.Data {
			x, y, z := v.Coords(idx)
			data[((x*ref.Height+y)*ref.Depth+z)*n+t] = value
		}
	}

	w, err := gonpy.NewFileWriter(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	w.Shape = []int{ref.Width, ref.Height, ref.Depth}
	if n > 1 {
		w.Shape = append(w.Shape, n)
	}
	w.Version = 2
	return errors.Wrapf(w.WriteFloat64(data), "failed to write %s", path)
}
