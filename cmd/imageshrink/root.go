package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/timkrebs/image-shrink/internal/batch"
	"github.com/timkrebs/image-shrink/internal/config"
	"github.com/timkrebs/image-shrink/internal/logging"
	"github.com/timkrebs/image-shrink/internal/processor"
)

// options are the persistent flags. Unset flags fall back to the THUMB_*
// environment configuration.
type options struct {
	strategy   string
	background string
	edge       string
	logLevel   string
	logFormat  string
	width      int
	height     int
	quality    int
}

type app struct {
	opts   options
	out    io.Writer
	errOut io.Writer
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "imageshrink",
		Short:         "Shrink images into thumbnails and report the savings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.IntVar(&a.opts.width, "width", 0, "Thumbnail width (default THUMB_WIDTH)")
	flags.IntVar(&a.opts.height, "height", 0, "Thumbnail height (default THUMB_HEIGHT)")
	flags.StringVar(&a.opts.strategy, "strategy", "", "Thumbnail strategy: fit, pad or crop (default THUMB_STRATEGY)")
	flags.StringVar(&a.opts.background, "background", "", "Pad background as #rgb, #rrggbb or #rrggbbaa (default THUMB_BACKGROUND)")
	flags.StringVar(&a.opts.edge, "edge", "", "Edge sampling: mirror, tile or clamp (default THUMB_EDGE_MODE)")
	flags.IntVar(&a.opts.quality, "quality", 0, "JPEG quality 1-100, 0 for the encoder default (default JPEG_QUALITY)")
	flags.StringVar(&a.opts.logLevel, "log-level", "", "Log level: debug, info, warn or error (default LOG_LEVEL)")
	flags.StringVar(&a.opts.logFormat, "log-format", "", "Log format: json or text (default LOG_FORMAT)")

	root.AddCommand(
		a.processCmd(),
		a.reconcileCmd(),
		a.reportCmd(),
		a.byteReportCmd(),
		a.shrinkCmd(),
		a.thumbCmd(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("width") {
		cfg.ThumbWidth = a.opts.width
	}
	if flags.Changed("height") {
		cfg.ThumbHeight = a.opts.height
	}
	if flags.Changed("strategy") {
		cfg.ThumbStrategy = a.opts.strategy
	}
	if flags.Changed("background") {
		cfg.ThumbBackground = a.opts.background
	}
	if flags.Changed("edge") {
		cfg.ThumbEdgeMode = a.opts.edge
	}
	if flags.Changed("quality") {
		cfg.JPEGQuality = a.opts.quality
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = a.opts.logFormat
	}
	if _, err := cfg.ThumbnailSpec(); err != nil {
		return err
	}
	if cfg.JPEGQuality < 0 || cfg.JPEGQuality > 100 {
		return fmt.Errorf("--quality must be between 0 and 100, got %d", cfg.JPEGQuality)
	}

	a.cfg = cfg
	a.logger = logging.New(a.errOut, cfg.LogLevel, cfg.LogFormat)
	return nil
}

func (a *app) spec() processor.Spec {
	spec, _ := a.cfg.ThumbnailSpec()
	return spec
}

func (a *app) newProcessor() *processor.Processor {
	return processor.New(a.cfg.NewLoader())
}

func (a *app) newRunner() *batch.Runner {
	return batch.NewRunner(a.newProcessor(), a.spec(), a.cfg.JPEGQuality, a.logger, nil)
}
