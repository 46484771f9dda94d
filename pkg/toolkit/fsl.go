package toolkit

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"mepmap/pkg/coords"
)

// FSL runs the FSL command line tools bet, flirt and fslmaths.
type FSL struct {
	// Dir is FSLDIR; commands are resolved from Dir/bin when set, else from PATH
	Dir string

	// OutputType is exported to the tools as FSLOUTPUTTYPE
	OutputType string

	// Timeout bounds each command
	Timeout time.Duration
}

func NewFSL(dir, outputType string, timeout time.Duration) *FSL {
	return &FSL{Dir: dir, OutputType: outputType, Timeout: timeout}
}

func (f *FSL) SkullStrip(ctx context.Context, input, outPrefix string) (StripResult, error) {
	res := stripPaths(outPrefix)
	if err := f.run(ctx, "bet", input, outPrefix, "-f", "0.5", "-m"); err != nil {
		return StripResult{}, err
	}
	if err := checkOutput("bet", res.BrainPath, res.MaskPath); err != nil {
		return StripResult{}, err
	}
	return res, nil
}

func (f *FSL) Register(ctx context.Context, moving, reference, matrixOut string) (coords.Affine, error) {
	if err := f.run(ctx, "flirt", "-in", moving, "-ref", reference, "-omat", matrixOut); err != nil {
		return coords.Affine{}, err
	}
	if err := checkOutput("flirt", matrixOut); err != nil {
		return coords.Affine{}, err
	}
	return coords.ReadMatrix(matrixOut)
}

func (f *FSL) Warp(ctx context.Context, source, matrixPath, reference, out string) error {
	if err := f.run(ctx, "flirt", "-in", source, "-ref", reference, "-applyxfm", "-init", matrixPath, "-out", out); err != nil {
		return err
	}
	return checkOutput("flirt -applyxfm", out)
}

func (f *FSL) ApplyMask(ctx context.Context, volume, mask, out string) error {
	if err := f.run(ctx, "fslmaths", volume, "-mas", mask, out); err != nil {
		return err
	}
	return checkOutput("fslmaths -mas", out)
}

func (f *FSL) command(name string) string {
	if f.Dir == "" {
		return name
	}
	return filepath.Join(f.Dir, "bin", name)
}

func (f *FSL) run(ctx context.Context, name string, args ...string) error {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, f.command(name), args...)
	cmd.Env = os.Environ()
	if f.OutputType != "" {
		cmd.Env = append(cmd.Env, "FSLOUTPUTTYPE="+f.OutputType)
	}
	if f.Dir != "" {
		cmd.Env = append(cmd.Env, "FSLDIR="+f.Dir)
	}

	log.Debug().Str("command", name).Strs("args", args).Msg("running toolkit command")
	start := time.Now()
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrapf(ctx.Err(), "%s interrupted", name)
		}
		return errors.Wrapf(err, "%s failed: %s", name, strings.TrimSpace(string(output)))
	}
	log.Debug().Str("command", name).Dur("took", time.Since(start)).Msg("toolkit command finished")
	return nil
}
