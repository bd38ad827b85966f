package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"ludexdash/internal/dashlog"
	"ludexdash/internal/tui"
)

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (JSON or YAML)")
	concept := fs.String("concept", "", "game concept; starts a run immediately when set")
	genre := fs.String("genre", "", "genre sent with the concept")
	exportDir := fs.String("export-dir", ".", "directory for exported design documents")
	noMetrics := fs.Bool("no-metrics", false, "do not poll the metrics endpoint")
	fs.Usage = func() { printCommandUsage(fs.Output(), "watch") }
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The dashboard owns the terminal; logs go to the configured file only.
	a, err := newApp(*configPath, false)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.startPresence(ctx); err != nil {
		return err
	}

	opts := tui.Options{
		Config:    a.cfg,
		Concept:   *concept,
		Genre:     *genre,
		Dial:      a.dial,
		Start:     a.start,
		Publisher: a.publisher,
		ExportDir: *exportDir,
		Logf:      a.log.Func(dashlog.KindEvent),
	}
	if !*noMetrics {
		opts.FetchMetrics = a.client.Metrics
	}
	a.log.Logf(dashlog.KindInfo, "dashboard starting base_url=%s", a.cfg.Server.BaseURL)
	return tui.Run(ctx, os.Stdin, os.Stdout, opts)
}
