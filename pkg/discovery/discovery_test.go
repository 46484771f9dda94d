package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mepmap/pkg/errs"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}
}

func TestTag(t *testing.T) {
	assert.Equal(t, "S01", Tag("/data/S01.nii.gz"))
	assert.Equal(t, "S01", Tag("S01.nii"))
	assert.Equal(t, "S01_brain_mask", Tag("S01_brain_mask.nii.gz"))
	assert.Equal(t, "noext", Tag("noext"))
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir,
		"S02.nii.gz", "S02.xlsx",
		"S01.nii", "S01.csv",
		"S01_brain_mask.nii.gz",
		"S03.nii.gz",            // no sheet
		"S04.nii.gz", "S04.xls", // legacy sheet
		"notes.txt",
	)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "S05.nii"), 0o755))

	subjects, err := Find(dir, "_brain_mask.nii.gz")
	require.NoError(t, err)
	require.Len(t, subjects, 2)

	assert.Equal(t, "S01", subjects[0].Tag)
	assert.Equal(t, filepath.Join(dir, "S01.nii"), subjects[0].Anatomy)
	assert.Equal(t, filepath.Join(dir, "S01.csv"), subjects[0].Stimulation)
	assert.Equal(t, "S02", subjects[1].Tag)
	assert.Equal(t, filepath.Join(dir, "S02.xlsx"), subjects[1].Stimulation)
}

func TestFindEmpty(t *testing.T) {
	_, err := Find(t.TempDir(), "_brain_mask.nii.gz")
	assert.ErrorIs(t, err, errs.ErrSchema)

	_, err = Find(filepath.Join(t.TempDir(), "missing"), "_brain_mask.nii.gz")
	assert.Error(t, err)
}
