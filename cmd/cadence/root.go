package main

import (
	"io"
	"log/slog"

	"github.com/natefinch/lumberjack"
	"github.com/spf13/cobra"

	"github.com/zsiec/cadence/internal/config"
)

type rootOptions struct {
	ConfigFile string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "cadence",
		Short: "Synchronized audio/video playback engine",
		Long: `cadence demultiplexes AVI and MPEG-TS sources, decodes their audio and
video streams and presents frames in sync with the audio clock.`,
		Version:      version,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", "", "Config file (default: cadence.yaml in ., $HOME/.cadence, /etc/cadence)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-file", "", "Write logs to a rotated file instead of stderr")

	cmd.AddCommand(newPlayCommand(opts))
	cmd.AddCommand(newProbeCommand(opts))
	cmd.AddCommand(newGenCommand())
	return cmd
}

// loadConfig resolves configuration for cmd and installs the default
// logger. The returned closer flushes the log file, if any.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, io.Closer, error) {
	cfg, err := config.Load(cmd.Flags(), opts.ConfigFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	closer := setupLogging(cfg.Log, cmd.ErrOrStderr())
	return cfg, closer, nil
}

func setupLogging(cfg config.LogConfig, stderr io.Writer) io.Closer {
	out, closer := stderr, io.Closer(io.NopCloser(nil))
	if cfg.File != "" {
		l := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		out, closer = l, l
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: cfg.Level})))
	return closer
}
