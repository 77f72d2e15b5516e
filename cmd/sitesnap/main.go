package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/amosWeiskopf/sitesnap/internal/config"
	"github.com/amosWeiskopf/sitesnap/internal/logging"
	"github.com/amosWeiskopf/sitesnap/internal/models"
	"github.com/amosWeiskopf/sitesnap/pkg/fetcher"
	"github.com/amosWeiskopf/sitesnap/pkg/harvester"
	"github.com/amosWeiskopf/sitesnap/pkg/reporter"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sitesnap",
		Short: "sitesnap - single-page site snapshot harvester",
		Long: `sitesnap downloads a page, the images it references and bundles them
into a folder or zip archive. It can also probe the paths a site lists in robots.txt.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetIn(in)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	harvestCmd := &cobra.Command{
		Use:   "harvest [URL]",
		Short: "Download a page and bundle it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := setup(cmd)
			if err != nil {
				return err
			}

			name, _ := cmd.Flags().GetString("name")
			full, _ := cmd.Flags().GetBool("full")
			archive, _ := cmd.Flags().GetBool("zip")
			probe, _ := cmd.Flags().GetBool("probe")
			format, _ := cmd.Flags().GetString("format")

			target, err := models.NewTarget(args[0], name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Website Name: %s\n", target.DisplayName)

			mode := models.ModeBasic
			if full {
				mode = models.ModeFull
			}

			result, err := h.Run(cmd.Context(), target, harvester.Options{
				Mode:    mode,
				Archive: archive,
				Probe:   probe,
				Confirm: confirmer(cmd),
			})
			if err != nil {
				return err
			}

			report, err := reporter.New().GenerateReport(result, format)
			if err != nil {
				return fmt.Errorf("report generation failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), report)
			return nil
		},
	}

	probeCmd := &cobra.Command{
		Use:   "probe [URL]",
		Short: "Probe the Disallow paths listed in a site's robots.txt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := setup(cmd)
			if err != nil {
				return err
			}

			target, err := models.NewTarget(args[0], "")
			if err != nil {
				return err
			}

			results, err := h.Probe(cmd.Context(), target, confirmer(cmd))
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), reporter.New().GenerateProbeReport(results))
			if len(results) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Results appended to %s\n", h.ProbeLogPath())
			}
			return nil
		},
	}

	// Harvest command flags
	harvestCmd.Flags().String("name", "", "Name of the website (defaults to the URL host)")
	harvestCmd.Flags().Bool("zip", false, "Zip the downloaded files")
	harvestCmd.Flags().Bool("full", false, "Download the page with its images instead of the page only")
	harvestCmd.Flags().Bool("probe", false, "Also probe the robots.txt Disallow paths")
	harvestCmd.Flags().String("format", "text", "Summary format (text, json, markdown, html)")

	rootCmd.AddCommand(harvestCmd)
	rootCmd.AddCommand(probeCmd)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Config file path")
	rootCmd.PersistentFlags().String("output-dir", "", "Directory for downloaded files (overrides config)")
	rootCmd.PersistentFlags().BoolP("yes", "y", false, "Automatically download without asking")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose output")
	rootCmd.PersistentFlags().Bool("no-progress", false, "Disable progress bars")

	return rootCmd
}

func setup(cmd *cobra.Command) (*harvester.Harvester, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if dir, _ := cmd.Flags().GetString("output-dir"); dir != "" {
		cfg.Harvest.OutputDir = dir
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Logging.Level = "debug"
	}

	logger := logging.New(cfg.Logging, cmd.ErrOrStderr())

	var progress fetcher.Progress = fetcher.NewBarProgress(cmd.ErrOrStderr())
	if noProgress, _ := cmd.Flags().GetBool("no-progress"); noProgress {
		progress = fetcher.NopProgress{}
	}

	h, err := harvester.New(cfg, logger, progress)
	if err != nil {
		return nil, fmt.Errorf("failed to create harvester: %w", err)
	}
	return h, nil
}

// confirmer returns nil when -y is set so the run starts without a prompt
func confirmer(cmd *cobra.Command) func(models.Target) bool {
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		return nil
	}
	return func(models.Target) bool {
		return harvester.Confirm(cmd.InOrStdin(), cmd.OutOrStdout())
	}
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	rootCmd := newRootCmd(in, out, errOut)
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, harvester.ErrAborted) {
			fmt.Fprintln(out, "Download cancelled.")
		} else {
			fmt.Fprintln(errOut, err)
		}
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
