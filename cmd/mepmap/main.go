package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"mepmap/pkg/config"
	"mepmap/pkg/discovery"
	"mepmap/pkg/errs"
	"mepmap/pkg/group"
	"mepmap/pkg/logger"
	"mepmap/pkg/pipeline"
	"mepmap/pkg/toolkit"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	app := &cli.App{
		Name:        "mepmap",
		Usage:       "map motor evoked potentials onto anatomical MRI",
		Description: "Turns TMS stimulation sheets into per-muscle heatmaps, mapping metrics and group maps in standard space.",
		Version:     version,
		Commands: []*cli.Command{
			runCommand(),
			groupCommand(),
			initConfigCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("mepmap failed")
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "config.yaml",
		Usage:   "YAML configuration file; defaults are used when it does not exist",
	}
}

func dataFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "data",
		Aliases:  []string{"d"},
		Required: true,
		Usage:    "folder holding <tag>.nii(.gz) images and <tag>.xlsx/.csv stimulation sheets",
	}
}

func outputFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "output folder, overrides output.dir",
	}
}

// setup loads and validates the configuration, applies command line
// overrides and configures logging.
func setup(c *cli.Context) (*config.Config, func(), error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, nil, err
	}
	if c.IsSet("output") {
		cfg.Output.Dir = c.String("output")
	}
	if c.IsSet("normalize") {
		cfg.Normalization.Enabled = c.Bool("normalize")
	}
	if c.IsSet("backend") {
		cfg.Toolkit.Backend = c.String("backend")
	}
	if c.IsSet("npy") {
		cfg.Output.ExportNpy = c.Bool("npy")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, err
	}

	closer, runID, err := logger.Configure(cfg)
	if err != nil {
		return nil, nil, err
	}
	log.Debug().Str("run", runID).Interface("config", cfg).Msg("configuration loaded")
	return cfg, func() { _ = closer.Close() }, nil
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func logProgress(completed, total int, message string) {
	log.Info().Int("completed", completed).Int("total", total).Msg(message)
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "map every subject of a data folder",
		Flags: []cli.Flag{
			configFlag(),
			dataFlag(),
			outputFlag(),
			&cli.BoolFlag{Name: "normalize", Usage: "warp heatmaps to the atlas, overrides normalization.enabled"},
			&cli.StringFlag{Name: "backend", Usage: "toolkit backend, fsl or fake"},
		},
		Action: func(c *cli.Context) error {
			cfg, done, err := setup(c)
			if err != nil {
				return err
			}
			defer done()

			subjects, err := discovery.Find(c.String("data"), cfg.Mask.Suffix)
			if err != nil {
				return err
			}
			params, err := pipeline.ParamsFromConfig(cfg)
			if err != nil {
				return err
			}
			tk, err := toolkit.New(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(c)
			defer stop()

			p := pipeline.New(params, tk)
			p.SetProgressCallback(logProgress)
			res, err := p.Run(ctx, subjects)
			if res != nil {
				for _, f := range res.Failures {
					log.Warn().Str("subject", f.Subject).Str("channel", f.Channel).Err(f.Err).Msg("not recorded")
				}
				if res.ResultsPath != "" {
					fmt.Printf("Results written to %s (%d maps, %d skipped)\n", res.ResultsPath, len(res.Metrics), len(res.Failures))
				}
			}
			return err
		},
	}
}

func groupCommand() *cli.Command {
	return &cli.Command{
		Name:  "group",
		Usage: "average the standard-space heatmaps of a previous run",
		Flags: []cli.Flag{
			configFlag(),
			dataFlag(),
			outputFlag(),
			&cli.BoolFlag{Name: "npy", Usage: "also export group maps as .npy, overrides output.exportNpy"},
		},
		Action: func(c *cli.Context) error {
			cfg, done, err := setup(c)
			if err != nil {
				return err
			}
			defer done()

			subjects, err := discovery.Find(c.String("data"), cfg.Mask.Suffix)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(c)
			defer stop()

			agg := group.NewAggregator(&group.Params{
				OutputDir: cfg.Output.Dir,
				Atlas:     cfg.Normalization.Atlas,
				ExportNpy: cfg.Output.ExportNpy,
			})
			agg.SetProgressCallback(logProgress)
			res, err := agg.Run(ctx, subjects)
			if res != nil && res.ResultsPath != "" {
				fmt.Printf("Group results written to %s (%d channels)\n", res.ResultsPath, len(res.Groups))
			}
			return err
		},
	}
}

func initConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "init-config",
		Usage: "write the default configuration file",
		Flags: []cli.Flag{configFlag()},
		Action: func(c *cli.Context) error {
			path := c.String("config")
			if _, err := os.Stat(path); err == nil {
				return errs.ErrConfiguration.WithMessage("%s already exists", path)
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			fmt.Printf("Default configuration written to %s\n", path)
			return nil
		},
	}
}
