package toolkit

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mepmap/internal/models"
	"mepmap/pkg/config"
	"mepmap/pkg/coords"
	"mepmap/pkg/errs"
	"mepmap/pkg/nifti"
)

func writeVolume(t *testing.T, path string, v *models.Volume) string {
	t.Helper()
	require.NoError(t, nifti.WriteVolume(path, v))
	return path
}

func TestFakeSkullStrip(t *testing.T) {
	dir := t.TempDir()
	t1 := models.NewVolume(4, 5, 6)
	t1.Set(1, 2, 3, 7)
	input := writeVolume(t, filepath.Join(dir, "S01.nii.gz"), t1)

	res, err := Fake{}.SkullStrip(context.Background(), input, filepath.Join(dir, "S01_brain"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "S01_brain_mask.nii.gz"), res.MaskPath)

	mask, err := nifti.ReadVolume(res.MaskPath)
	require.NoError(t, err)
	assert.True(t, mask.SameGrid(t1))
	assert.Equal(t, mask.Len(), mask.CountNonZero())
}

func TestFakeRegisterAndWarpIdentity(t *testing.T) {
	dir := t.TempDir()
	src := models.NewVolume(6, 6, 6)
	src.Set(2, 3, 4, 9)
	source := writeVolume(t, filepath.Join(dir, "heatmap.nii"), src)
	reference := writeVolume(t, filepath.Join(dir, "atlas.nii.gz"), models.NewVolume(6, 6, 6))

	matrix := filepath.Join(dir, "omat.mat")
	a, err := Fake{}.Register(context.Background(), source, reference, matrix)
	require.NoError(t, err)
	assert.Equal(t, coords.Identity, a)

	out := filepath.Join(dir, "warped.nii.gz")
	require.NoError(t, Fake{}.Warp(context.Background(), source, matrix, reference, out))

	warped, err := nifti.ReadVolume(out)
	require.NoError(t, err)
	assert.Equal(t, 9.0, warped.At(2, 3, 4))
	assert.Equal(t, 1, warped.CountNonZero())
}

func TestFakeWarpIntoShiftedGrid(t *testing.T) {
	dir := t.TempDir()
	src := models.NewVolume(6, 6, 6)
	src.Set(2, 2, 2, 5)
	source := writeVolume(t, filepath.Join(dir, "heatmap.nii"), src)

	// reference voxel (0,0,0) sits at world (1,1,1)
	ref := models.NewVolume(4, 4, 4)
	ref.Affine[0][3], ref.Affine[1][3], ref.Affine[2][3] = 1, 1, 1
	reference := writeVolume(t, filepath.Join(dir, "atlas.nii"), ref)

	matrix := filepath.Join(dir, "omat.mat")
	require.NoError(t, coords.WriteMatrix(matrix, coords.Identity))

	out := filepath.Join(dir, "warped.nii")
	require.NoError(t, Fake{}.Warp(context.Background(), source, matrix, reference, out))
	warped, err := nifti.ReadVolume(out)
	require.NoError(t, err)
	assert.Equal(t, 5.0, warped.At(1, 1, 1))
}

func TestFakeApplyMask(t *testing.T) {
	dir := t.TempDir()
	v := models.NewVolume(3, 3, 3)
	v.Set(0, 0, 0, 1)
	v.Set(2, 2, 2, 2)
	m := models.NewVolume(3, 3, 3)
	m.Set(2, 2, 2, 1)

	out := filepath.Join(dir, "masked.nii.gz")
	err := Fake{}.ApplyMask(context.Background(),
		writeVolume(t, filepath.Join(dir, "v.nii"), v),
		writeVolume(t, filepath.Join(dir, "m.nii"), m),
		out)
	require.NoError(t, err)

	masked, err := nifti.ReadVolume(out)
	require.NoError(t, err)
	assert.Equal(t, 0.0, masked.At(0, 0, 0))
	assert.Equal(t, 2.0, masked.At(2, 2, 2))

	err = Fake{}.ApplyMask(context.Background(),
		filepath.Join(dir, "v.nii"),
		writeVolume(t, filepath.Join(dir, "small.nii"), models.NewVolume(2, 2, 2)),
		filepath.Join(dir, "bad.nii"))
	assert.ErrorIs(t, err, errs.ErrAlignment)
}

func TestFakeHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Fake{}.SkullStrip(ctx, "unused", "unused")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCheckOutputMissing(t *testing.T) {
	err := checkOutput("bet", filepath.Join(t.TempDir(), "nothing.nii.gz"))
	assert.ErrorIs(t, err, errs.ErrMissingCollaboratorOutput)
}

// fakeFSL installs shell scripts standing in for the FSL binaries.
func fakeFSL(t *testing.T, scripts map[string]string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0o755))
	for name, body := range scripts {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "bin", name), []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	}
	return dir
}

func TestFSLApplyMaskRunsFslmaths(t *testing.T) {
	fslDir := fakeFSL(t, map[string]string{
		// fslmaths <in> -mas <mask> <out>
		"fslmaths": `[ "$FSLOUTPUTTYPE" = "NIFTI_GZ" ] || exit 3; cp "$1" "$4"`,
	})
	dir := t.TempDir()
	in := writeVolume(t, filepath.Join(dir, "in.nii.gz"), models.NewVolume(2, 2, 2))
	out := filepath.Join(dir, "out.nii.gz")

	tk := NewFSL(fslDir, "NIFTI_GZ", time.Minute)
	require.NoError(t, tk.ApplyMask(context.Background(), in, in, out))
	assert.FileExists(t, out)
}

func TestFSLMissingOutput(t *testing.T) {
	fslDir := fakeFSL(t, map[string]string{"bet": "exit 0"})
	tk := NewFSL(fslDir, "NIFTI_GZ", time.Minute)

	_, err := tk.SkullStrip(context.Background(), "in.nii.gz", filepath.Join(t.TempDir(), "S01_brain"))
	assert.ErrorIs(t, err, errs.ErrMissingCollaboratorOutput)
}

func TestFSLCommandFailure(t *testing.T) {
	fslDir := fakeFSL(t, map[string]string{"flirt": "echo 'cannot open image' >&2; exit 1"})
	tk := NewFSL(fslDir, "NIFTI_GZ", time.Minute)

	err := tk.Warp(context.Background(), "a", "b", "c", filepath.Join(t.TempDir(), "d.nii.gz"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot open image")
}

func TestFSLTimeout(t *testing.T) {
	fslDir := fakeFSL(t, map[string]string{"flirt": "exec sleep 5"})
	tk := NewFSL(fslDir, "NIFTI_GZ", 50*time.Millisecond)

	_, err := tk.Register(context.Background(), "a", "b", filepath.Join(t.TempDir(), "omat.mat"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewSelectsBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	tk, err := New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &FSL{}, tk)

	cfg.Toolkit.Backend = "fake"
	tk, err = New(cfg)
	require.NoError(t, err)
	assert.IsType(t, Fake{}, tk)

	cfg.Toolkit.Backend = "afni"
	_, err = New(cfg)
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}
