package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/z-wentao/docflow/pkg/bootstrap"
	"github.com/z-wentao/docflow/pkg/config"
	"github.com/z-wentao/docflow/pkg/logging"
	"github.com/z-wentao/docflow/pkg/processor"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	outputDir  string
	workers    int
	converter  string
}

func newRootCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "docflow-convert [files...]",
		Short:         "Convert documents to PDF through a local worker pool",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, args, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "configuration file path")
	cmd.Flags().StringVarP(&opts.outputDir, "out", "o", ".", "directory receiving the PDFs")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "concurrent conversions, overrides queue.workers")
	cmd.Flags().StringVar(&opts.converter, "converter", "", "converter backend, overrides converter.type")

	return cmd
}

func run(ctx context.Context, opts options, files []string, out io.Writer) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.workers > 0 {
		cfg.Queue.Workers = opts.workers
		cfg.Converter.Instances = opts.workers
	}
	if opts.converter != "" {
		cfg.Converter.Type = opts.converter
	}
	// the batch tool never needs a shared ledger
	cfg.Storage.Type = "memory"
	cfg.Events.Type = "none"
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(opts.outputDir, 0o755); err != nil {
		return errors.Wrap(err, "create output directory")
	}

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = app.Close(closeCtx)
	}()

	failed := convertAll(ctx, app.Processor, files, opts.outputDir, out)
	if failed > 0 {
		return errors.Errorf("%d of %d conversions failed", failed, len(files))
	}
	return nil
}

// convertAll submits every file at once; the processor's pool decides how many run.
func convertAll(ctx context.Context, p *processor.Processor, files []string, outputDir string, out io.Writer) int {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed atomic.Int32
	)

	report := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format, args...)
	}

	for _, file := range files {
		file := file
		g.Go(func() error {
			start := time.Now()
			if err := p.SubmitFile(ctx, file, outputDir); err != nil {
				failed.Add(1)
				report("FAIL %s: %v\n", file, err)
				return errors.Wrap(err, file)
			}
			report("ok   %s -> %s (%s)\n", file, filepath.Join(outputDir, pdfName(file)), time.Since(start).Round(time.Millisecond))
			return nil
		})
	}

	_ = g.Wait()
	return int(failed.Load())
}

func pdfName(file string) string {
	base := filepath.Base(file)
	return base[:len(base)-len(filepath.Ext(base))] + ".pdf"
}
