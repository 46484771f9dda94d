package group

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kshedden/gonpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mepmap/internal/models"
	"mepmap/pkg/errs"
	"mepmap/pkg/nifti"
	"mepmap/pkg/pipeline"
	"mepmap/pkg/sheet"
)

const size = 10

type cohort struct {
	dataDir   string
	outputDir string
	atlas     string
}

func newCohort(t *testing.T) cohort {
	t.Helper()
	c := cohort{dataDir: t.TempDir(), outputDir: filepath.Join(t.TempDir(), "outputs")}

	atlas := models.NewVolume(size, size, size)
	atlas.Affine[0][0] = -1
	atlas.Affine[0][3], atlas.Affine[1][3], atlas.Affine[2][3] = 5, -5, -5
	c.atlas = filepath.Join(c.dataDir, "atlas.nii.gz")
	require.NoError(t, nifti.WriteVolume(c.atlas, atlas))
	return c
}

// addSubject writes a stimulation sheet naming channels and a warped heatmap
// for every entry of maps.
func (c cohort) addSubject(t *testing.T, tag string, channels []string, maps map[string]*models.Volume) models.Subject {
	t.Helper()
	header := "X,Y,Z"
	row := "1,1,1"
	for _, ch := range channels {
		header += ",MEP_" + ch
		row += ",1"
	}
	s := models.Subject{
		Tag:         tag,
		Anatomy:     filepath.Join(c.dataDir, tag+".nii.gz"),
		Stimulation: filepath.Join(c.dataDir, tag+".csv"),
	}
	require.NoError(t, os.WriteFile(s.Stimulation, []byte(header+"\n"+row+"\n"), 0o644))

	require.NoError(t, os.MkdirAll(pipeline.SubjectDir(c.outputDir, tag), 0o755))
	for ch, v := range maps {
		require.NoError(t, nifti.WriteVolume(pipeline.WarpedHeatmapPath(c.outputDir, tag, ch), v))
	}
	return s
}

func (c cohort) aggregator(exportNpy bool) *Aggregator {
	return NewAggregator(&Params{OutputDir: c.outputDir, Atlas: c.atlas, ExportNpy: exportNpy})
}

func blob(x, y, z int, value float64) *models.Volume {
	v := models.NewVolume(size, size, size)
	v.Set(x, y, z, value)
	v.Set(x+1, y, z, value/2)
	return v
}

func TestRunIdenticalMapsHaveZeroDistance(t *testing.T) {
	c := newCohort(t)
	subjects := []models.Subject{
		c.addSubject(t, "S01", []string{"FDI"}, map[string]*models.Volume{"FDI": blob(3, 4, 5, 100)}),
		c.addSubject(t, "S02", []string{"FDI"}, map[string]*models.Volume{"FDI": blob(3, 4, 5, 100)}),
	}

	res, err := c.aggregator(false).Run(context.Background(), subjects)
	require.NoError(t, err)
	require.Len(t, res.Groups, 1)

	g := res.Groups[0]
	assert.Equal(t, "FDI", g.Channel)
	// voxel (3,4,5) through the atlas affine
	assert.Equal(t, [3]float64{2, -1, 0}, g.Hotspot)
	require.Len(t, g.Subjects, 2)
	for _, s := range g.Subjects {
		assert.Equal(t, g.Hotspot, s.Hotspot)
		assert.Zero(t, s.HotspotDistance)
		assert.InDelta(t, 0, s.COMDistance, 1e-9)
	}

	groupDir := filepath.Join(c.outputDir, DirName)
	concatenated, err := nifti.Read(filepath.Join(groupDir, "FDI_heatmaps_concatenated.nii.gz"))
	require.NoError(t, err)
	assert.Len(t, concatenated.Volumes, 2)
	assert.FileExists(t, filepath.Join(groupDir, "FDI_heatmaps_averaged.nii.gz"))

	table, err := sheet.Read(res.ResultsPath)
	require.NoError(t, err)
	assert.Equal(t, ResultColumns, table.Headers)
	require.Len(t, table.Rows, 3)
	assert.Equal(t, MeanRowLabel, table.Cell(0, 1))
	assert.Equal(t, "S01", table.Cell(1, 1))
	assert.Equal(t, "0", table.Cell(2, 8))
}

func TestRunMeanAndDistances(t *testing.T) {
	c := newCohort(t)
	a := models.NewVolume(size, size, size)
	a.Set(2, 2, 2, 10)
	b := models.NewVolume(size, size, size)
	b.Set(6, 2, 2, 30)
	subjects := []models.Subject{
		c.addSubject(t, "S01", []string{"APB"}, map[string]*models.Volume{"APB": a}),
		c.addSubject(t, "S02", []string{"APB"}, map[string]*models.Volume{"APB": b}),
	}

	res, err := c.aggregator(true).Run(context.Background(), subjects)
	require.NoError(t, err)
	g := res.Groups[0]

	// the mean peaks at S02's site; the centre of mass is weighted 1:3
	assert.Equal(t, [3]float64{-1, -3, -3}, g.Hotspot)
	assert.InDelta(t, 0.0, g.CenterOfMass[0], 1e-9)
	assert.InDelta(t, 4.0, g.Subjects[0].HotspotDistance, 1e-9)
	assert.InDelta(t, 0.0, g.Subjects[1].HotspotDistance, 1e-9)
	assert.InDelta(t, 3.0, g.Subjects[0].COMDistance, 1e-9)
	assert.InDelta(t, 1.0, g.Subjects[1].COMDistance, 1e-9)

	r, err := gonpy.NewFileReader(filepath.Join(c.outputDir, DirName, "APB_heatmaps_concatenated.npy"))
	require.NoError(t, err)
	assert.Equal(t, []int{size, size, size, 2}, r.Shape)
	data, err := r.GetFloat64()
	require.NoError(t, err)
	// C order: ((x*Y + y)*Z + z)*N + n
	assert.Equal(t, 30.0, data[((6*size+2)*size+2)*2+1])
	assert.Equal(t, 10.0, data[((2*size+2)*size+2)*2+0])

	r, err = gonpy.NewFileReader(filepath.Join(c.outputDir, DirName, "APB_heatmaps_averaged.npy"))
	require.NoError(t, err)
	assert.Equal(t, []int{size, size, size}, r.Shape)
}

func TestRunSingleMapIsSkipped(t *testing.T) {
	c := newCohort(t)
	subjects := []models.Subject{
		c.addSubject(t, "S01", []string{"FDI", "APB"}, map[string]*models.Volume{"FDI": blob(3, 3, 3, 1), "APB": blob(4, 4, 4, 1)}),
		c.addSubject(t, "S02", []string{"FDI", "APB"}, map[string]*models.Volume{"FDI": blob(3, 3, 3, 1)}),
	}

	res, err := c.aggregator(false).Run(context.Background(), subjects)
	require.NoError(t, err)
	require.Len(t, res.Groups, 1)
	assert.Equal(t, "FDI", res.Groups[0].Channel)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "APB", res.Failures[0].Channel)
	assert.ErrorIs(t, res.Failures[0].Err, errs.ErrDegenerateInput)
}

func TestRunNoGroup(t *testing.T) {
	c := newCohort(t)
	subjects := []models.Subject{
		c.addSubject(t, "S01", []string{"FDI"}, map[string]*models.Volume{"FDI": blob(3, 3, 3, 1)}),
	}
	_, err := c.aggregator(false).Run(context.Background(), subjects)
	assert.ErrorIs(t, err, errs.ErrDegenerateInput)
}

func TestRunMisalignedMaps(t *testing.T) {
	c := newCohort(t)
	small := models.NewVolume(size, size, size-1)
	small.Set(1, 1, 1, 1)
	subjects := []models.Subject{
		c.addSubject(t, "S01", []string{"FDI"}, map[string]*models.Volume{"FDI": blob(3, 3, 3, 1)}),
		c.addSubject(t, "S02", []string{"FDI"}, map[string]*models.Volume{"FDI": small}),
	}

	res, err := c.aggregator(false).Run(context.Background(), subjects)
	require.Error(t, err)
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0].Err, errs.ErrAlignment)
	assert.ErrorIs(t, res.Failures[0].Err, errs.ErrDimensionMismatch)
}

func TestRunReusesExistingGroupMaps(t *testing.T) {
	c := newCohort(t)
	subjects := []models.Subject{
		c.addSubject(t, "S01", []string{"FDI"}, map[string]*models.Volume{"FDI": blob(3, 3, 3, 1)}),
		c.addSubject(t, "S02", []string{"FDI"}, map[string]*models.Volume{"FDI": blob(3, 3, 3, 1)}),
	}

	groupDir := filepath.Join(c.outputDir, DirName)
	require.NoError(t, os.MkdirAll(groupDir, 0o755))
	previous := models.NewVolume(size, size, size)
	previous.Set(7, 7, 7, 1)
	require.NoError(t, nifti.WriteVolume(filepath.Join(groupDir, "FDI_heatmaps_averaged.nii.gz"), previous))
	require.NoError(t, nifti.WriteSeries(filepath.Join(groupDir, "FDI_heatmaps_concatenated.nii.gz"), []*models.Volume{previous}))

	res, err := c.aggregator(false).Run(context.Background(), subjects)
	require.NoError(t, err)
	assert.Equal(t, [3]float64{-2, 2, 2}, res.Groups[0].Hotspot)
}

func TestRunCancelled(t *testing.T) {
	c := newCohort(t)
	subjects := []models.Subject{
		c.addSubject(t, "S01", []string{"FDI"}, map[string]*models.Volume{"FDI": blob(3, 3, 3, 1)}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.aggregator(false).Run(ctx, subjects)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMean(t *testing.T) {
	a := models.NewVolume(2, 2, 2)
	b := models.NewVolume(2, 2, 2)
	a.Data[0], b.Data[0] = 1, 3
	mean, err := Mean([]*models.Volume{a, b})
	require.NoError(t, err)
	assert.Equal(t, 2.0, mean.Data[0])

	_, err = Mean(nil)
	assert.ErrorIs(t, err, errs.ErrDegenerateInput)
}
