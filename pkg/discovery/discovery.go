// Package discovery finds the subjects of a dataset folder.
package discovery

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"mepmap/internal/models"
	"mepmap/pkg/errs"
)

var sheetExtensions = []string{".xlsx", ".xlsm", ".csv"}

// Tag is the part of a file name before its first dot.
func Tag(path string) string {
	base := filepath.Base(path)
	if i := strings.Index(base, "."); i >= 0 {
		return base[:i]
	}
	return base
}

// Find lists every subject in dataDir: an image named <tag>.nii or <tag>.nii.gz
// with a stimulation sheet of the same tag next to it. Brain masks ending in
// maskSuffix are never subjects. Results are sorted by tag.
func Find(dataDir, maskSuffix string) ([]models.Subject, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read data folder %s", dataDir)
	}

	names := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		return e.Name(), !e.IsDir()
	})

	var subjects []models.Subject
	for _, name := range names {
		if !isImage(name) || (maskSuffix != "" && strings.HasSuffix(name, maskSuffix)) {
			continue
		}
		tag := Tag(name)
		if lo.ContainsBy(subjects, func(s models.Subject) bool { return s.Tag == tag }) {
			log.Warn().Str("subject", tag).Str("file", name).Msg("more than one image for subject, keeping the first")
			continue
		}

		sheet, ok := lo.Find(sheetExtensions, func(ext string) bool {
			return lo.Contains(names, tag+ext)
		})
		if !ok {
			if lo.Contains(names, tag+".xls") {
				log.Warn().Str("subject", tag).Msg("legacy .xls stimulation sheets are not supported, save it as .xlsx")
			} else {
				log.Debug().Str("subject", tag).Msg("no stimulation sheet, skipping image")
			}
			continue
		}

		subjects = append(subjects, models.Subject{
			Tag:         tag,
			Anatomy:     filepath.Join(dataDir, name),
			Stimulation: filepath.Join(dataDir, tag+sheet),
		})
	}

	if len(subjects) == 0 {
		return nil, errs.ErrSchema.WithMessage("no subjects with an image and a stimulation sheet in %s", dataDir)
	}

	sort.Slice(subjects, func(i, j int) bool { return subjects[i].Tag < subjects[j].Tag })
	return subjects, nil
}

func isImage(name string) bool {
	return strings.HasSuffix(name, ".nii") || strings.HasSuffix(name, ".nii.gz")
}
