// Package toolkit wraps the external neuroimaging tools used for skull
// stripping, registration, resampling and masking.
package toolkit

import (
	"context"
	"os"
	"strings"

	"mepmap/pkg/config"
	"mepmap/pkg/coords"
	"mepmap/pkg/errs"
)

// StripResult names the files written by SkullStrip.
type StripResult struct {
	MaskPath  string
	BrainPath string
}

// Toolkit is the boundary to the neuroimaging collaborator. Every method
// writes its output to disk and fails with a missing-output error when the
// promised file does not appear.
type Toolkit interface {
	// SkullStrip writes outPrefix.nii.gz and outPrefix_mask.nii.gz.
	SkullStrip(ctx context.Context, input, outPrefix string) (StripResult, error)

	// Register estimates the affine from moving to reference and stores it at matrixOut.
	Register(ctx context.Context, moving, reference, matrixOut string) (coords.Affine, error)

	// Warp resamples source into the reference grid using the stored matrix.
	Warp(ctx context.Context, source, matrixPath, reference, out string) error

	// ApplyMask zeroes every voxel of volume outside mask.
	ApplyMask(ctx context.Context, volume, mask, out string) error
}

// New builds the backend selected in cfg.
func New(cfg *config.Config) (Toolkit, error) {
	switch strings.ToLower(cfg.Toolkit.Backend) {
	case "", "fsl":
		return NewFSL(cfg.Toolkit.FSLDir, cfg.Toolkit.OutputType, cfg.Toolkit.Timeout), nil
	case "fake":
		return Fake{}, nil
	}
	return nil, errs.ErrConfiguration.WithMessage("unknown toolkit backend %q", cfg.Toolkit.Backend)
}

func stripPaths(outPrefix string) StripResult {
	return StripResult{
		MaskPath:  outPrefix + "_mask.nii.gz",
		BrainPath: outPrefix + ".nii.gz",
	}
}

// checkOutput confirms that a tool produced the files it promised.
func checkOutput(op string, paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return errs.ErrMissingCollaboratorOutput.
				WithMessage("%s did not produce %s", op, p).
				WithExtras(errs.Extras{"operation": op, "path": p})
		}
	}
	return nil
}
