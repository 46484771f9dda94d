// Package logger configures the global zerolog logger for a mapping run.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"

	"mepmap/pkg/config"
)

// Configure installs a console logger on stderr and, when cfg names a log file,
// a JSON log file inside the output directory. The returned closer releases the
// file and must be called once the run finishes. Every entry carries the run id.
func Configure(cfg *config.Config) (io.Closer, string, error) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	writers := []io.Writer{
		zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		},
	}

	var closer io.Closer = nopCloser{}
	if cfg.Output.LogFile != "" {
		if err := os.MkdirAll(cfg.Output.Dir, os.ModePerm); err != nil {
			return nil, "", errors.Wrap(err, "failed to create output directory")
		}
		logFile, err := os.OpenFile(filepath.Join(cfg.Output.Dir, cfg.Output.LogFile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, "", errors.Wrap(err, "failed to open log file")
		}
		writers = append(writers, logFile)
		closer = logFile
	}

	level := zerolog.InfoLevel
	if cfg.Output.Verbose {
		level = zerolog.DebugLevel
	}

	runID := xid.New().String()
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("run", runID).
		Logger().
		Level(level)

	return closer, runID, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
