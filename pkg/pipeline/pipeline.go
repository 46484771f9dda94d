// Package pipeline drives every subject and muscle channel from stimulation
// sheet to masked heatmap, metrics and optional standard-space maps.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"mepmap/internal/models"
	"mepmap/pkg/errs"
	"mepmap/pkg/nifti"
	"mepmap/pkg/stimulation"
	"mepmap/pkg/toolkit"
)

// ProgressCallback is a function type for reporting progress
type ProgressCallback func(completed, total int, message string)

// Failure records a subject or channel that was skipped.
type Failure struct {
	Subject string
	// Channel is empty when the whole subject failed
	Channel string
	Err     error
}

// Result is the outcome of a run.
type Result struct {
	// Metrics holds one entry per recorded subject and channel, in processing order
	Metrics  []models.SubjectMetrics
	Failures []Failure

	// ResultsPath is the written results sheet
	ResultsPath string
}

// Pipeline maps the stimulation data of many subjects.
//
// For every subject the pipeline:
// 1. Finds or creates a brain mask
// 2. Registers the anatomy to the atlas when normalization is enabled
// 3. Rasterizes, dilates, reorients, smooths and normalizes each channel
// 4. Masks the heatmap and extracts hotspot, centre of mass, area and volume
// 5. Warps the heatmap to the atlas and repeats the metrics there
//
// Failures of a single channel or subject are logged and skipped.
type Pipeline struct {
	params  *Params
	toolkit toolkit.Toolkit

	atlas    *models.Volume
	progress ProgressCallback
}

func New(params *Params, tk toolkit.Toolkit) *Pipeline {
	return &Pipeline{params: params, toolkit: tk}
}

// SetProgressCallback sets the callback function for progress reporting
func (p *Pipeline) SetProgressCallback(callback ProgressCallback) {
	p.progress = callback
}

func (p *Pipeline) reportProgress(completed, total int, message string) {
	if p.progress != nil {
		p.progress(completed, total, message)
	}
}

// Run processes subjects in order and writes the results sheet once all of
// them are done. When ctx is cancelled the subjects completed so far are still
// written and the cancellation is returned.
func (p *Pipeline) Run(ctx context.Context, subjects []models.Subject) (*Result, error) {
	if len(subjects) == 0 {
		return nil, errs.ErrConfiguration.WithMessage("no subjects to process")
	}
	if err := os.MkdirAll(p.params.OutputDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create output directory")
	}
	if p.params.Normalize {
		atlas, err := nifti.ReadVolume(p.params.Atlas)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load atlas")
		}
		p.atlas = atlas
	}

	start := time.Now()
	res := &Result{}
	var runErr error
	for i, subject := range subjects {
		if err := ctx.Err(); err != nil {
			runErr = errors.Wrap(err, "run interrupted")
			break
		}

		logger := log.With().Str("subject", subject.Tag).Logger()
		logger.Info().Str("anatomy", subject.Anatomy).Str("stimulation", subject.Stimulation).Msg("processing subject")

		rows, failures, err := p.processSubject(ctx, subject)
		res.Failures = append(res.Failures, failures...)
		if err != nil {
			if ctx.Err() != nil {
				runErr = errors.Wrap(ctx.Err(), "run interrupted")
				break
			}
			logger.Error().Err(err).Msg("subject failed, skipping")
			res.Failures = append(res.Failures, Failure{Subject: subject.Tag, Err: err})
		} else {
			res.Metrics = append(res.Metrics, rows...)
		}

		p.reportProgress(i+1, len(subjects), fmt.Sprintf("processed %s", subject.Tag))
	}

	if len(res.Metrics) == 0 {
		if runErr != nil {
			return res, runErr
		}
		return res, errs.ErrDegenerateInput.
			WithMessage("no channel produced a heatmap").
			WithExtras(errs.Extras{"failures": len(res.Failures)})
	}

	res.ResultsPath = filepath.Join(p.params.OutputDir, p.params.ResultsFile)
	if err := WriteResults(res.ResultsPath, res.Metrics); err != nil {
		return res, errors.Wrap(err, "failed to write results")
	}

	log.Info().
		Int("recorded", len(res.Metrics)).
		Int("failed", len(res.Failures)).
		Dur("took", time.Since(start)).
		Str("results", res.ResultsPath).
		Msg("mapping finished")
	return res, runErr
}

// processSubject returns the recorded channels and the channels that failed.
// A returned error means nothing from this subject is recorded.
func (p *Pipeline) processSubject(ctx context.Context, subject models.Subject) ([]models.SubjectMetrics, []Failure, error) {
	saveDir := SubjectDir(p.params.OutputDir, subject.Tag)
	if err := os.MkdirAll(saveDir, 0755); err != nil {
		return nil, nil, errors.Wrap(err, "failed to create subject directory")
	}

	table, err := stimulation.Load(subject.Stimulation)
	if err != nil {
		return nil, nil, err
	}
	var failures []Failure
	rejected := lo.Keys(table.Rejected)
	sort.Strings(rejected)
	for _, name := range rejected {
		failures = append(failures, Failure{Subject: subject.Tag, Channel: name, Err: table.Rejected[name]})
	}

	anatomy, err := nifti.ReadVolume(subject.Anatomy)
	if err != nil {
		return nil, failures, errors.Wrap(err, "failed to load anatomy")
	}

	mask, err := p.brainMask(ctx, subject, saveDir)
	if err != nil {
		return nil, failures, errors.Wrap(err, "failed to obtain brain mask")
	}

	var matrix string
	if p.params.Normalize {
		if matrix, err = p.registration(ctx, subject); err != nil {
			return nil, failures, errors.Wrap(err, "failed to register to atlas")
		}
	}

	sub := subjectContext{
		subject: subject,
		dir:     saveDir,
		anatomy: anatomy,
		table:   table,
		mask:    mask,
		matrix:  matrix,
	}

	var rows []models.SubjectMetrics
	for _, ch := range table.Channels {
		if err := ctx.Err(); err != nil {
			return nil, failures, err
		}

		logger := log.With().Str("subject", subject.Tag).Str("channel", ch.Name).Logger()
		logger.Info().Msg("processing channel")

		row, err := p.processChannel(ctx, sub, ch.Name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, failures, ctx.Err()
			}
			logger.Error().Err(err).Str("kind", string(errs.KindOf(err))).Msg("channel failed, skipping")
			failures = append(failures, Failure{Subject: subject.Tag, Channel: ch.Name, Err: err})
			continue
		}
		logger.Info().
			Ints("hotspot", row.Hotspot[:]).
			Float64("max_amplitude", row.MaxAmplitude).
			Msg("channel completed")
		rows = append(rows, row)
	}
	return rows, failures, nil
}

// brainMask reuses a supplied mask from the data folder, then from the subject
// output folder, and otherwise skull-strips the anatomy.
func (p *Pipeline) brainMask(ctx context.Context, subject models.Subject, saveDir string) (string, error) {
	name := subject.Tag + p.params.MaskSuffix
	candidates := []string{
		filepath.Join(filepath.Dir(subject.Anatomy), name),
		filepath.Join(saveDir, name),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			log.Debug().Str("subject", subject.Tag).Str("mask", c).Msg("using existing brain mask")
			return c, nil
		}
	}

	if p.params.UseSuppliedMask {
		log.Warn().Str("subject", subject.Tag).Msg("supplied brain mask not found, creating our own")
	}
	log.Info().Str("subject", subject.Tag).Msg("performing skull stripping")
	res, err := p.toolkit.SkullStrip(ctx, subject.Anatomy, filepath.Join(saveDir, subject.Tag+"_brain"))
	if err != nil {
		return "", err
	}
	return res.MaskPath, nil
}

// registration returns the subject-to-atlas matrix, estimating it only when
// no cached matrix exists.
func (p *Pipeline) registration(ctx context.Context, subject models.Subject) (string, error) {
	matrix := RegistrationMatrixPath(p.params.OutputDir, subject.Tag)
	if _, err := os.Stat(matrix); err == nil {
		log.Debug().Str("subject", subject.Tag).Str("matrix", matrix).Msg("reusing registration")
		return matrix, nil
	}
	log.Info().Str("subject", subject.Tag).Str("atlas", p.params.Atlas).Msg("registering anatomy to atlas")
	if _, err := p.toolkit.Register(ctx, subject.Anatomy, p.params.Atlas, matrix); err != nil {
		return "", err
	}
	return matrix, nil
}
