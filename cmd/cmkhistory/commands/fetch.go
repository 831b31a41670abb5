package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/domain"
	"github.com/jlk/checkmk-llm-server-sub000/internal/server"
)

type fetchOptions struct {
	host   string
	check  string
	period string
	format string
}

// NewFetchCommand creates the fetch subcommand.
func NewFetchCommand(global *GlobalOptions) *cobra.Command {
	var opts fetchOptions

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Extract the history of one service",
		Example: `  cmkhistory fetch --host server01 --check "Temperature Zone 0" --period 25h
  cmkhistory fetch --host server01 --check CPU --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFetch(cmd.Context(), cmd.OutOrStdout(), global, opts)
		},
	}

	cmd.Flags().StringVar(&opts.host, "host", "", "host name as known to the site")
	cmd.Flags().StringVar(&opts.check, "check", "", "service description")
	cmd.Flags().StringVar(&opts.period, "period", "", "period token, e.g. 4h, 25h, 8d, 35d, 400d (default from config)")
	cmd.Flags().StringVarP(&opts.format, "output", "o", FormatTable, "output format: table, json or yaml")
	_ = cmd.MarkFlagRequired("host")
	_ = cmd.MarkFlagRequired("check")

	return cmd
}

func runFetch(ctx context.Context, w io.Writer, global *GlobalOptions, opts fetchOptions) error {
	switch opts.format {
	case FormatTable, FormatJSON, FormatYAML:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, opts.format)
	}

	cfg, logger, err := global.Load()
	if err != nil {
		return err
	}

	services, err := server.NewProvider(cfg, nil, logger)
	if err != nil {
		return err
	}

	period := opts.period
	if period == "" {
		period = cfg.Extraction.DefaultPeriod
	}

	samples, err := services.Provider.ExtractHistoricalData(ctx, period, opts.host, opts.check)
	if err != nil {
		return fmt.Errorf("extract history: %w", err)
	}

	resolved, _ := domain.ResolvePeriod(period)
	return WriteResult(w, opts.format, Result{
		Host:    opts.host,
		Check:   opts.check,
		Period:  resolved.Token,
		Samples: samples,
	})
}
