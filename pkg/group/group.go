// Package group combines the standard-space heatmaps of a cohort into a mean
// map per muscle and measures every subject against it.
package group

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/floats"

	"mepmap/internal/models"
	"mepmap/pkg/coords"
	"mepmap/pkg/errs"
	"mepmap/pkg/metrics"
	"mepmap/pkg/nifti"
	"mepmap/pkg/pipeline"
	"mepmap/pkg/stimulation"
)

// DirName is the group output folder inside the run output directory.
const DirName = "Group_analysis"

// ResultsFile is the group table written inside DirName.
const ResultsFile = "cohort_mapping_results.xlsx"

type Params struct {
	// OutputDir is the output directory of a previous mapping run
	OutputDir string

	// Atlas supplies the voxel-to-mm transform of the standard space
	Atlas string

	// ExportNpy also writes the concatenated and mean maps as .npy arrays
	ExportNpy bool
}

// Result is the outcome of a group run.
type Result struct {
	Groups   []models.GroupMetrics
	Failures []pipeline.Failure

	ResultsPath string
}

// heatmap is one subject's standard-space map of a channel.
type heatmap struct {
	tag  string
	path string
}

// Aggregator builds mean maps from the warped heatmaps of a mapping run.
type Aggregator struct {
	params   *Params
	progress pipeline.ProgressCallback
}

func NewAggregator(params *Params) *Aggregator {
	return &Aggregator{params: params}
}

// SetProgressCallback sets the callback function for progress reporting
func (a *Aggregator) SetProgressCallback(callback pipeline.ProgressCallback) {
	a.progress = callback
}

func (a *Aggregator) reportProgress(completed, total int, message string) {
	if a.progress != nil {
		a.progress(completed, total, message)
	}
}

// Run aggregates every channel found in the subjects' stimulation sheets.
// Channels with fewer than two heatmaps are reported and skipped.
func (a *Aggregator) Run(ctx context.Context, subjects []models.Subject) (*Result, error) {
	groupDir := filepath.Join(a.params.OutputDir, DirName)
	if err := os.MkdirAll(groupDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create group directory")
	}
	atlas, err := nifti.ReadVolume(a.params.Atlas)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load atlas")
	}
	affine := coords.Affine(atlas.Affine)

	heatmaps := a.collect(subjects)
	channels := lo.Keys(heatmaps)
	sort.Strings(channels)

	res := &Result{}
	for i, channel := range channels {
		if err := ctx.Err(); err != nil {
			return res, errors.Wrap(err, "group analysis interrupted")
		}
		logger := log.With().Str("channel", channel).Int("heatmaps", len(heatmaps[channel])).Logger()

		g, err := a.channel(groupDir, channel, heatmaps[channel], affine)
		if err != nil {
			logger.Error().Err(err).Msg("group map failed, skipping channel")
			res.Failures = append(res.Failures, pipeline.Failure{Channel: channel, Err: err})
		} else {
			logger.Info().Floats64("hotspot", g.Hotspot[:]).Msg("group map completed")
			res.Groups = append(res.Groups, g)
		}
		a.reportProgress(i+1, len(channels), fmt.Sprintf("processed %s", channel))
	}

	if len(res.Groups) == 0 {
		return res, errs.ErrDegenerateInput.
			WithMessage("no channel had enough standard-space heatmaps").
			WithExtras(errs.Extras{"channels": channels})
	}

	res.ResultsPath = filepath.Join(groupDir, ResultsFile)
	if err := WriteResults(res.ResultsPath, res.Groups); err != nil {
		return res, errors.Wrap(err, "failed to write group results")
	}
	log.Info().Int("channels", len(res.Groups)).Str("results", res.ResultsPath).Msg("group analysis finished")
	return res, nil
}

// collect maps every channel name to the subjects that have a warped heatmap
// for it. Channel names come from re-reading each stimulation sheet.
func (a *Aggregator) collect(subjects []models.Subject) map[string][]heatmap {
	found := make(map[string][]heatmap)
	for _, s := range subjects {
		table, err := stimulation.Load(s.Stimulation)
		if err != nil {
			log.Warn().Err(err).Str("subject", s.Tag).Msg("cannot read stimulation sheet, subject left out of group")
			continue
		}
		for _, channel := range table.ChannelNames() {
			if _, ok := found[channel]; !ok {
				found[channel] = nil
			}
			path := pipeline.WarpedHeatmapPath(a.params.OutputDir, s.Tag, channel)
			if _, err := os.Stat(path); err == nil {
				found[channel] = append(found[channel], heatmap{tag: s.Tag, path: path})
			}
		}
	}
	return found
}

func (a *Aggregator) channel(groupDir, channel string, maps []heatmap, affine coords.Affine) (models.GroupMetrics, error) {
	g := models.GroupMetrics{Channel: channel}
	if len(maps) < 2 {
		return g, errs.ErrDegenerateInput.
			WithMessage("%d standard-space heatmaps found, at least 2 are needed for a group map", len(maps)).
			WithExtras(errs.Extras{"channel": channel})
	}

	concatenated := filepath.Join(groupDir, channel+"_heatmaps_concatenated.nii.gz")
	averaged := filepath.Join(groupDir, channel+"_heatmaps_averaged.nii.gz")

	vols := make([]*models.Volume, len(maps))
	for i, m := range maps {
		v, err := nifti.ReadVolume(m.path)
		if err != nil {
			return g, errors.Wrapf(err, "failed to load heatmap of %s", m.tag)
		}
		vols[i] = v
	}

	mean, err := a.meanMap(concatenated, averaged, vols)
	if err != nil {
		return g, err
	}
	if a.params.ExportNpy {
		if err := ExportNpy(trimNiftiExt(concatenated)+".npy", vols); err != nil {
			return g, err
		}
		if err := ExportNpy(trimNiftiExt(averaged)+".npy", []*models.Volume{mean}); err != nil {
			return g, err
		}
	}

	g.Hotspot, g.CenterOfMass, err = locate(mean, affine)
	if err != nil {
		return g, errors.Wrap(err, "mean map")
	}

	for i, v := range vols {
		hotspot, com, err := locate(v, affine)
		if err != nil {
			return g, errors.Wrapf(err, "heatmap of %s", maps[i].tag)
		}
		g.Subjects = append(g.Subjects, models.GroupSubjectMetrics{
			Subject:         maps[i].tag,
			Hotspot:         hotspot,
			CenterOfMass:    com,
			HotspotDistance: coords.Distance(hotspot, g.Hotspot),
			COMDistance:     coords.Distance(com, g.CenterOfMass),
		})
	}
	return g, nil
}

// meanMap reuses a previous mean map when both group files already exist.
func (a *Aggregator) meanMap(concatenated, averaged string, vols []*models.Volume) (*models.Volume, error) {
	if fileExists(concatenated) && fileExists(averaged) {
		log.Debug().Str("file", averaged).Msg("reusing group mean map")
		return nifti.ReadVolume(averaged)
	}

	mean, err := Mean(vols)
	if err != nil {
		return nil, err
	}
	if err := nifti.WriteSeries(concatenated, vols); err != nil {
		return nil, err
	}
	if err := nifti.WriteVolume(averaged, mean); err != nil {
		return nil, err
	}
	return mean, nil
}

// Mean is the voxel-wise mean of vols, which must share one grid.
func Mean(vols []*models.Volume) (*models.Volume, error) {
	if len(vols) == 0 {
		return nil, errs.ErrDegenerateInput.WithMessage("no volumes to average")
	}
	mean := models.NewVolumeLike(vols[0])
	for i, v := range vols {
		if !v.SameGrid(vols[0]) {
			return nil, errs.ErrAlignment.
				WithMessage("volume %d has shape %v, expected %v", i, v.Shape(), vols[0].Shape()).
				WithExtras(errs.Extras{"index": i})
		}
		floats.Add(mean.Data, v.Data)
	}
	floats.Scale(1/float64(len(vols)), mean.Data)
	return mean, nil
}

// locate returns hotspot and centre of mass of v in mm.
func locate(v *models.Volume, affine coords.Affine) ([3]float64, [3]float64, error) {
	com, err := metrics.CenterOfMass(v)
	if err != nil {
		return [3]float64{}, [3]float64{}, err
	}
	return affine.ApplyVoxel(metrics.Hotspot(v)), affine.Apply(com), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func trimNiftiExt(path string) string {
	return strings.TrimSuffix(strings.TrimSuffix(path, ".gz"), ".nii")
}
