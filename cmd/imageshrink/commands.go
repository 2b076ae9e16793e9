package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/timkrebs/image-shrink/internal/batch"
	"github.com/timkrebs/image-shrink/internal/processor"
)

func (a *app) processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process SRC DEST",
		Short: "Thumbnail every image of SRC into DEST, then reconcile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := a.newRunner().Process(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, summary.Message())
			return nil
		},
	}
}

func (a *app) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile SRC DEST",
		Short: "Replace thumbnails in DEST that are not smaller than their original in SRC",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := a.newRunner().Reconcile(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Outcome == batch.OutcomeReplaced {
					fmt.Fprintf(a.out, "%s: replaced by original\n", r.Name)
				}
			}
			fmt.Fprintln(a.out, "process complete")
			return nil
		},
	}
}

func (a *app) reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report SRC DEST",
		Short: "Write SRC/" + batch.ReportFileName + " comparing file sizes of SRC and DEST",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := a.newRunner().Report(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%d records processed\n", len(records))
			return nil
		},
	}
}

func (a *app) byteReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bytereport DIR",
		Short: "Write DIR/" + batch.ByteReportFileName + " comparing decoded pixel sizes with their thumbnails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := a.newRunner().ByteReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%d records processed\n", len(records))
			return nil
		},
	}
}

func (a *app) shrinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shrink FILE...",
		Short: "Replace each FILE with its thumbnail when the thumbnail is smaller",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner := a.newRunner()
			var failed int
			for _, path := range args {
				result, err := runner.ShrinkFile(cmd.Context(), path)
				switch {
				case batch.IsSkipped(err):
					fmt.Fprintf(a.out, "%s: skipped (%v)\n", path, err)
				case err != nil:
					failed++
					fmt.Fprintf(a.out, "%s: failed: %v\n", path, err)
				case result.Outcome == batch.OutcomeWritten:
					fmt.Fprintf(a.out, "%s: %d -> %d bytes\n", path, result.OriginalSize, result.ThumbnailSize)
				default:
					fmt.Fprintf(a.out, "%s: kept (thumbnail not smaller)\n", path)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
}

func (a *app) thumbCmd() *cobra.Command {
	var watermark, pattern string

	cmd := &cobra.Command{
		Use:   "thumb IN OUT",
		Short: "Render one thumbnail from a file or http(s) URL; OUT's extension picks the format",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, out := args[0], args[1]

			format, err := processor.FormatFromPath(out, a.cfg.JPEGQuality)
			if err != nil {
				return err
			}

			proc := a.newProcessor()
			spec := a.spec()
			if pattern != "" {
				buf, err := proc.Loader().Load(cmd.Context(), pattern)
				if err != nil {
					return fmt.Errorf("pattern: %w", err)
				}
				defer buf.Release()
				spec.Pattern = buf
			}
			if watermark != "" {
				buf, err := proc.Loader().Load(cmd.Context(), watermark)
				if err != nil {
					return fmt.Errorf("watermark: %w", err)
				}
				defer buf.Release()
				spec.Watermark = buf
			}

			src, err := proc.Loader().Load(cmd.Context(), in)
			if err != nil {
				return err
			}
			defer src.Release()

			result, err := proc.Render(src, format, spec)
			if err != nil {
				return err
			}

			if dir := filepath.Dir(out); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("failed to create %s: %w", dir, err)
				}
			}
			if err := os.WriteFile(out, result.Data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintf(a.out, "%s: %dx%d, %d bytes\n", out, result.Width, result.Height, len(result.Data))
			return nil
		},
	}
	cmd.Flags().StringVar(&watermark, "watermark", "", "Image drawn unscaled in the bottom-right corner")
	cmd.Flags().StringVar(&pattern, "pattern", "", "Image tiled behind a pad thumbnail instead of the background color")
	return cmd
}
