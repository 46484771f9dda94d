// Package config provides configuration loading and management for mepmap.
// It handles loading configuration from YAML files, overlaying environment
// variables and validating the result.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"mepmap/pkg/errs"
)

// EnvPrefix prefixes every environment override, e.g. MEPMAP_PROCESSING_DILATE.
const EnvPrefix = "mepmap"

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// Dilate is the diameter in voxels of the kernel each stimulation is spread over
		Dilate int `yaml:"dilate" validate:"min=1,odd"`

		// KernelShape is the dilation footprint, sphere or cube
		KernelShape string `yaml:"kernelShape" split_words:"true" validate:"caseinsensitiveoneof=sphere cube"`

		// SmoothingKernel is the FWHM of the Gaussian in voxels; 0 disables smoothing
		SmoothingKernel float64 `yaml:"smoothingKernel" split_words:"true" validate:"gte=0"`

		// MEPThreshold drops responsive stimulations whose amplitude is below it
		MEPThreshold float64 `yaml:"mepThreshold" split_words:"true" validate:"gte=0"`

		// GridSpacing is the physical spacing used for the area and volume metrics
		GridSpacing float64 `yaml:"gridSpacing" split_words:"true" validate:"gt=0"`

		// Coordinates names the convention of the stimulation records, brainsight or nifti
		Coordinates string `yaml:"coordinates" validate:"caseinsensitiveoneof=brainsight nifti"`
	} `yaml:"processing"`

	// Brain mask parameters
	Mask struct {
		// Suffix is appended to the subject tag to find a supplied mask
		Suffix string `yaml:"suffix" validate:"required"`

		// UseSupplied warns when a supplied mask is expected but missing
		UseSupplied bool `yaml:"useSupplied" split_words:"true"`
	} `yaml:"mask"`

	// Standard space parameters
	Normalization struct {
		Enabled bool `yaml:"enabled"`

		// Atlas is the template image the subject anatomy is registered to
		Atlas string `yaml:"atlas" validate:"required_if=Enabled true"`

		// AtlasMask restricts warped heatmaps to the template brain
		AtlasMask string `yaml:"atlasMask" split_words:"true" validate:"required_if=Enabled true"`
	} `yaml:"normalization"`

	// Output parameters
	Output struct {
		Dir string `yaml:"dir" validate:"required"`

		// ResultsFile is the name of the per-subject results sheet (.xlsx or .csv)
		ResultsFile string `yaml:"resultsFile" split_words:"true" validate:"required,sheetfile"`

		// KeepIntermediate keeps the heatmap precursor and weighted maps
		KeepIntermediate bool `yaml:"keepIntermediate" split_words:"true"`

		// Snapshots writes orthogonal JPEG slices through each hotspot
		Snapshots bool `yaml:"snapshots"`

		// ExportNpy also writes group volumes as numpy arrays
		ExportNpy bool `yaml:"exportNpy" split_words:"true"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// LogFile is created inside Dir; empty disables file logging
		LogFile string `yaml:"logFile" split_words:"true"`
	} `yaml:"output"`

	// External neuroimaging toolkit parameters
	Toolkit struct {
		// Backend selects fsl or fake
		Backend string `yaml:"backend" validate:"caseinsensitiveoneof=fsl fake"`

		// FSLDir is prepended to command names as FSLDir/bin when set
		FSLDir string `yaml:"fslDir" split_words:"true"`

		// OutputType is exported as FSLOUTPUTTYPE
		OutputType string `yaml:"outputType" split_words:"true" validate:"oneof=NIFTI NIFTI_GZ"`

		// Timeout bounds every external command
		Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
	} `yaml:"toolkit"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.Dilate = 3
	cfg.Processing.KernelShape = "sphere"
	cfg.Processing.SmoothingKernel = 7
	cfg.Processing.MEPThreshold = 0
	cfg.Processing.GridSpacing = 1
	cfg.Processing.Coordinates = "brainsight"

	cfg.Mask.Suffix = "_brain_mask.nii.gz"
	cfg.Mask.UseSupplied = false

	cfg.Normalization.Enabled = false
	cfg.Normalization.Atlas = filepath.Join("include", "MNI152_T1_1mm.nii.gz")
	cfg.Normalization.AtlasMask = filepath.Join("include", "MNI152_T1_1mm_brain_mask.nii.gz")

	cfg.Output.Dir = "outputs"
	cfg.Output.ResultsFile = "mapping_results.xlsx"
	cfg.Output.Verbose = true
	cfg.Output.LogFile = "mepmap.log"

	cfg.Toolkit.Backend = "fsl"
	cfg.Toolkit.OutputType = "NIFTI_GZ"
	cfg.Toolkit.Timeout = 30 * time.Minute

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errs.ErrConfiguration.WithMessage("error parsing config file %s: %v", configPath, err)
	}

	return cfg, nil
}

// ApplyEnv overlays MEPMAP_* environment variables on cfg. A .env file in the
// working directory is loaded first when present.
func ApplyEnv(cfg *Config) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return errs.ErrConfiguration.WithMessage("failed to parse environment overrides: %v", err)
	}
	return nil
}

// Load is LoadConfig followed by ApplyEnv and Validate.
func Load(configPath string) (*Config, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg against its field rules and reports every violation at once.
func Validate(cfg *Config) error {
	err := newValidator().Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errs.ErrConfiguration.WithMessage("%v", err)
	}

	fields := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		return strings.TrimPrefix(fe.Namespace(), "Config.")
	})
	problems := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		if fe.Param() != "" {
			return fe.Namespace() + " failed " + fe.Tag() + "=" + fe.Param()
		}
		return fe.Namespace() + " failed " + fe.Tag()
	})
	return errs.ErrConfiguration.
		WithMessage("%s", strings.Join(problems, "; ")).
		WithExtras(errs.Extras{"fields": fields})
}

func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterValidation("odd", odd)
	validate.RegisterValidation("caseinsensitiveoneof", caseInsensitiveOneOf)
	validate.RegisterValidation("sheetfile", sheetFile)
	return validate
}

func odd(fl validator.FieldLevel) bool {
	return fl.Field().Int()%2 != 0
}

func caseInsensitiveOneOf(fl validator.FieldLevel) bool {
	val := strings.ToLower(strings.TrimSpace(fl.Field().String()))
	candidates := strings.Split(strings.ToLower(fl.Param()), " ")
	return lo.Contains(candidates, val)
}

func sheetFile(fl validator.FieldLevel) bool {
	ext := strings.ToLower(filepath.Ext(fl.Field().String()))
	return ext == ".xlsx" || ext == ".csv"
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "error creating config directory")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "error marshaling config")
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return errors.Wrap(err, "error writing config file")
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
