package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"

	"mepmap/internal/models"
	"mepmap/pkg/coords"
	"mepmap/pkg/errs"
	"mepmap/pkg/filter"
	"mepmap/pkg/metrics"
	"mepmap/pkg/nifti"
	"mepmap/pkg/raster"
	"mepmap/pkg/visualization"
)

// subjectContext is the per-subject state shared by its channels.
type subjectContext struct {
	subject models.Subject
	dir     string
	anatomy *models.Volume
	table   *models.StimulationTable
	mask    string

	// matrix is the registration to the atlas, empty when not normalizing
	matrix string
}

func (p *Pipeline) processChannel(ctx context.Context, sub subjectContext, channel string) (models.SubjectMetrics, error) {
	tag := sub.subject.Tag
	files := newChannelFiles(sub.dir, tag, channel)
	logger := log.With().Str("subject", tag).Str("channel", channel).Logger()

	row := models.SubjectMetrics{
		Subject:              tag,
		Channel:              channel,
		CoordinateConvention: string(p.params.Convention),
		Dilate:               p.params.Dilate,
		SmoothingKernel:      p.params.SmoothingKernel,
		Threshold:            p.params.Threshold,
	}

	// Step 1: place the stimulations on the anatomy grid
	maps, err := raster.Rasterize(sub.anatomy, sub.table, channel, p.params.Threshold)
	if err != nil {
		return row, err
	}
	if maps.OutOfBounds > 0 {
		logger.Warn().Int("count", maps.OutOfBounds).Msg("stimulations outside the anatomical image were skipped")
	}
	if maps.Written == 0 {
		return row, errs.ErrDegenerateInput.WithMessage("no responsive stimulation at or above threshold %v", p.params.Threshold)
	}
	if err := nifti.WriteVolume(files.Samples, maps.Samples); err != nil {
		return row, err
	}

	// Step 2: dilate the responses
	logger.Debug().Int("dilate", p.params.Dilate).Str("shape", string(p.params.KernelShape)).Msg("dilating stimulation sites")
	dilated, err := filter.Dilate(maps.Responses, p.params.Dilate, p.params.KernelShape)
	if err != nil {
		return row, err
	}

	// Step 3: reorient records given with +Y posterior
	if coords.Reconcile(p.params.Convention, dilated, maps.Samples, maps.Grid) {
		logger.Debug().Msg("flipped maps along the anterior-posterior axis")
	}

	// Step 4: smooth and normalize
	precursor, err := filter.GaussianSmooth(dilated, p.params.SmoothingKernel)
	if err != nil {
		return row, err
	}
	norm, err := metrics.Normalize(maps.Samples, dilated, precursor)
	if err != nil {
		return row, err
	}
	row.MaxAmplitude = norm.MaxAmplitude

	for path, v := range map[string]*models.Volume{
		files.Grid:      maps.Grid,
		files.Responses: norm.Dilated,
		files.Precursor: precursor,
		files.Weighted:  norm.Heatmap,
	} {
		if err := nifti.WriteVolume(path, v); err != nil {
			return row, err
		}
	}
	if err := os.Remove(files.Samples); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Msg("failed to remove samples map")
	}

	// Step 5: mask the heatmap to the brain and measure it
	if err := p.toolkit.ApplyMask(ctx, files.Weighted, sub.mask, files.Heatmap); err != nil {
		return row, errors.Wrap(err, "failed to mask heatmap")
	}
	heatmap, err := nifti.ReadVolume(files.Heatmap)
	if err != nil {
		return row, err
	}
	row.Hotspot = metrics.Hotspot(heatmap)
	if row.CenterOfMass, err = metrics.CenterOfMass(heatmap); err != nil {
		return row, errors.Wrap(err, "masked heatmap is empty")
	}
	row.MapArea = metrics.MapArea(maps.Samples, p.params.GridSpacing)
	row.MapVolume = metrics.MapVolume(maps.Samples, p.params.GridSpacing)

	// Step 6: repeat in standard space
	if p.params.Normalize {
		hotspot, com, err := p.standardSpace(ctx, sub, files)
		if err != nil {
			return row, errors.Wrap(err, "standard space")
		}
		row.StandardHotspot, row.StandardCenterOfMass = &hotspot, &com
	}

	if p.params.Snapshots {
		p.snapshot(sub, channel, heatmap, row.Hotspot)
	}

	if !p.params.KeepIntermediate {
		for _, f := range []string{files.Precursor, files.Weighted} {
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				logger.Warn().Err(err).Str("file", f).Msg("failed to remove intermediate file")
			}
		}
	}
	return row, nil
}

// standardSpace warps the unmasked weighted heatmap to the atlas, masks it with
// the atlas brain and returns hotspot and centre of mass in atlas mm.
func (p *Pipeline) standardSpace(ctx context.Context, sub subjectContext, files channelFiles) ([3]float64, [3]float64, error) {
	var hotspot, com [3]float64

	if err := p.toolkit.Warp(ctx, files.Weighted, sub.matrix, p.params.Atlas, files.Warped); err != nil {
		return hotspot, com, err
	}
	if err := p.toolkit.ApplyMask(ctx, files.Warped, p.params.AtlasMask, files.Warped); err != nil {
		return hotspot, com, err
	}

	warped, err := nifti.ReadVolume(files.Warped)
	if err != nil {
		return hotspot, com, err
	}
	affine := coords.Affine(p.atlas.Affine)

	voxel := metrics.Hotspot(warped)
	peak := warped.At(voxel[0], voxel[1], voxel[2])
	if peak <= 0 {
		return hotspot, com, errs.ErrDegenerateInput.WithMessage("warped heatmap has no positive value inside the atlas mask")
	}
	hotspot = affine.ApplyVoxel(voxel)

	c, err := metrics.CenterOfMass(warped)
	if err != nil {
		return hotspot, com, err
	}
	com = affine.Apply(c)
	for i := range com {
		com[i] = metrics.Round(com[i], 2)
	}

	normalized := warped.Clone()
	floats.Scale(100/peak, normalized.Data)
	if err := nifti.WriteVolume(files.WarpedNormalized, normalized); err != nil {
		return hotspot, com, err
	}
	return hotspot, com, nil
}

func (p *Pipeline) snapshot(sub subjectContext, channel string, heatmap *models.Volume, hotspot [3]int) {
	viewer, err := visualization.NewViewer(heatmap).WithUnderlay(sub.anatomy)
	if err != nil {
		log.Warn().Err(err).Str("subject", sub.subject.Tag).Str("channel", channel).Msg("snapshot skipped")
		return
	}
	dir := filepath.Join(sub.dir, "snapshots")
	if _, err := viewer.SaveOrthogonal(dir, sub.subject.Tag+"_"+channel, hotspot); err != nil {
		log.Warn().Err(err).Str("subject", sub.subject.Tag).Str("channel", channel).Msg("snapshot failed")
	}
}
