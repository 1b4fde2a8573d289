package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical/mdload/internal/config"
	"github.com/spherical/mdload/internal/domain"
	"github.com/spherical/mdload/pkg/mdload"
)

// convertFlags are the per-run overrides of the loaded configuration.
type convertFlags struct {
	output  string
	outDir  string
	mode    string
	workers int
	noCache bool
}

// newConvertCmd creates the convert subcommand.
func newConvertCmd() *cobra.Command {
	var flags convertFlags

	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert a document to markdown",
		Long: `Convert splits the document into pages (or keeps it whole with
--mode document), converts every unit on the cheapest tier and escalates
units whose markdown looks broken. The result is written atomically to
<out-dir>/<name>.md, where name defaults to a slug of the input file name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runConvert(ctx, cfg, flags, args[0], NewUI(outputJSON, noColor))
		},
	}

	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "output file name (default: slug of the input name)")
	cmd.Flags().StringVar(&flags.outDir, "out-dir", "", "output directory (default: conversion.output_dir)")
	cmd.Flags().StringVarP(&flags.mode, "mode", "m", "", "conversion mode: page or document")
	cmd.Flags().IntVarP(&flags.workers, "workers", "w", 0, "concurrent units (default: conversion.workers)")
	cmd.Flags().BoolVar(&flags.noCache, "no-cache", false, "use an in-memory cache for this run only")

	return cmd
}

// applyConvertFlags layers command line overrides onto cfg.
func applyConvertFlags(cfg *config.Config, flags convertFlags) error {
	if flags.mode != "" {
		m, err := domain.ParseMode(flags.mode)
		if err != nil {
			return err
		}
		cfg.Conversion.Mode = string(m)
	}
	if flags.workers > 0 {
		cfg.Conversion.Workers = flags.workers
	}
	if flags.outDir != "" {
		cfg.Conversion.OutputDir = flags.outDir
	}
	if cfg.NeedsAPIKey() && cfg.LLM.APIKey == "" {
		return domain.ConfigError("OPENROUTER_API_KEY is not set; put it in .env or the environment", nil)
	}
	return nil
}

func runConvert(ctx context.Context, cfg *config.Config, flags convertFlags, path string, ui *UI) error {
	if err := applyConvertFlags(cfg, flags); err != nil {
		return err
	}

	opts := []mdload.Option{mdload.WithLogger(logger)}
	if flags.noCache {
		opts = append(opts, mdload.WithCache(mdload.NewMemoryCache()))
	}

	client, err := mdload.NewClientWithConfig(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer client.Close()

	events := make(chan mdload.StreamEvent, 100)
	rendered := make(chan struct{})
	go func() {
		ui.Render(events)
		close(rendered)
	}()

	res, err := client.ConvertWithEvents(ctx, path, "", events)
	close(events)
	<-rendered
	if err != nil {
		return fmt.Errorf("convert %s: %w", path, err)
	}

	outPath, err := client.WriteMarkdown(res, flags.output, path)
	if err != nil {
		return err
	}

	if outputJSON {
		return json.NewEncoder(ui.out).Encode(struct {
			Output string `json:"output"`
			*mdload.Result
		}{outPath, res})
	}

	ui.Summary(res, outPath)
	return nil
}
