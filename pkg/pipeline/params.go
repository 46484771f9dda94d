package pipeline

import (
	"path/filepath"

	"mepmap/pkg/config"
	"mepmap/pkg/coords"
	"mepmap/pkg/filter"
)

// Params holds the mapping parameters for one run.
type Params struct {
	// OutputDir receives one folder per subject plus the results sheet
	OutputDir string

	// ResultsFile is the results sheet name inside OutputDir
	ResultsFile string

	// Dilate is the kernel diameter in voxels, a positive odd integer
	Dilate int

	KernelShape filter.Shape

	// SmoothingKernel is the Gaussian FWHM in voxels; 0 skips smoothing
	SmoothingKernel float64

	// Threshold is the minimum amplitude of a responsive stimulation
	Threshold float64

	// GridSpacing scales the area and volume metrics
	GridSpacing float64

	Convention coords.Convention

	// MaskSuffix names a supplied brain mask as <tag><MaskSuffix>
	MaskSuffix string

	// UseSuppliedMask warns when no supplied mask is found
	UseSuppliedMask bool

	// Normalize enables registration and warping to the atlas
	Normalize bool
	Atlas     string
	AtlasMask string

	KeepIntermediate bool
	Snapshots        bool
}

// ParamsFromConfig converts a validated configuration into run parameters.
func ParamsFromConfig(cfg *config.Config) (*Params, error) {
	conv, err := coords.ParseConvention(cfg.Processing.Coordinates)
	if err != nil {
		return nil, err
	}
	shape, err := filter.ParseShape(cfg.Processing.KernelShape)
	if err != nil {
		return nil, err
	}
	if err := filter.ValidateDilation(cfg.Processing.Dilate); err != nil {
		return nil, err
	}

	return &Params{
		OutputDir:        cfg.Output.Dir,
		ResultsFile:      cfg.Output.ResultsFile,
		Dilate:           cfg.Processing.Dilate,
		KernelShape:      shape,
		SmoothingKernel:  cfg.Processing.SmoothingKernel,
		Threshold:        cfg.Processing.MEPThreshold,
		GridSpacing:      cfg.Processing.GridSpacing,
		Convention:       conv,
		MaskSuffix:       cfg.Mask.Suffix,
		UseSuppliedMask:  cfg.Mask.UseSupplied,
		Normalize:        cfg.Normalization.Enabled,
		Atlas:            cfg.Normalization.Atlas,
		AtlasMask:        cfg.Normalization.AtlasMask,
		KeepIntermediate: cfg.Output.KeepIntermediate,
		Snapshots:        cfg.Output.Snapshots,
	}, nil
}

// channelFiles are the per-channel outputs inside a subject folder.
type channelFiles struct {
	Grid, Samples, Responses string
	Precursor, Weighted      string
	Heatmap                  string
	Warped, WarpedNormalized string
}

func newChannelFiles(dir, tag, channel string) channelFiles {
	stem := filepath.Join(dir, tag+"_"+channel)
	return channelFiles{
		Grid:             stem + "_grid.nii.gz",
		Samples:          stem + "_samples.nii.gz",
		Responses:        stem + "_responses.nii.gz",
		Precursor:        stem + "_heatmap_initial.nii",
		Weighted:         stem + "_heatmap_weighted.nii",
		Heatmap:          stem + "_heatmap.nii.gz",
		Warped:           stem + "_warped_heatmap.nii.gz",
		WarpedNormalized: stem + "_warped_heatmap_normalized.nii.gz",
	}
}

// SubjectDir is the output folder of one subject.
func SubjectDir(outputDir, tag string) string {
	return filepath.Join(outputDir, tag)
}

// WarpedHeatmapPath is where a subject's standard-space heatmap for channel is written.
func WarpedHeatmapPath(outputDir, tag, channel string) string {
	return newChannelFiles(SubjectDir(outputDir, tag), tag, channel).Warped
}

// RegistrationMatrixPath is the cached subject-to-atlas transform.
func RegistrationMatrixPath(outputDir, tag string) string {
	return filepath.Join(SubjectDir(outputDir, tag), tag+"_warped_omat.mat")
}
