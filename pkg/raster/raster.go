// Package raster turns sparse stimulation records into dense volumes on the
// grid of a reference image.
package raster

import (
	"mepmap/internal/models"
	"mepmap/pkg/coords"
	"mepmap/pkg/errs"
)

// Maps holds the three volumes built from one channel's stimulations.
type Maps struct {
	// Grid is 1 at every stimulated voxel that passed the threshold
	Grid *models.Volume

	// Samples holds raw amplitudes at the exact voxels, never dilated
	Samples *models.Volume

	// Responses starts identical to Samples and is the input to dilation
	Responses *models.Volume

	// Written counts records that were placed into the maps
	Written int

	// OutOfBounds counts responsive records whose voxel lies outside the reference grid
	OutOfBounds int
}

// Rasterize builds the maps of one channel of table on the grid of reference.
func Rasterize(reference *models.Volume, table *models.StimulationTable, channel string, threshold float64) (Maps, error) {
	if reference == nil || reference.Len() == 0 {
		return Maps{}, errs.ErrDimensionMismatch.WithMessage("reference volume is empty")
	}
	ch, ok := table.Channel(channel)
	if !ok {
		return Maps{}, errs.ErrSchema.WithMessage("channel %q is not in the stimulation table", channel)
	}
	return RasterizeRecords(reference, table.Records(ch), threshold), nil
}

// RasterizeRecords places every responsive record with amplitude >= threshold
// at its rounded voxel. When two records round to the same voxel the later one
// wins; amplitudes are not averaged or combined.
func RasterizeRecords(reference *models.Volume, records []models.StimulationRecord, threshold float64) Maps {
	m := Maps{
		Grid:      models.NewVolumeLike(reference),
		Samples:   models.NewVolumeLike(reference),
		Responses: models.NewVolumeLike(reference),
	}

	for _, rec := range records {
		if !rec.Responsive || rec.Amplitude < threshold {
			continue
		}
		v := coords.RoundVoxel([3]float64{rec.X, rec.Y, rec.Z})
		if !reference.InBounds(v[0], v[1], v[2]) {
			m.OutOfBounds++
			continue
		}
		idx := reference.Index(v[0], v[1], v[2])
		m.Samples.Data[idx] = rec.Amplitude
		m.Responses.Data[idx] = rec.Amplitude
		m.Grid.Data[idx] = 1
		m.Written++
	}

	return m
}
