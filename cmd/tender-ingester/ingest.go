package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/galois26/procurement-ingester/internal/config"
	"github.com/galois26/procurement-ingester/internal/ingest"
	"github.com/galois26/procurement-ingester/internal/metrics"
	"github.com/galois26/procurement-ingester/internal/ratelimit"
	"github.com/galois26/procurement-ingester/internal/source"
	"github.com/galois26/procurement-ingester/internal/store"
	"github.com/galois26/procurement-ingester/internal/transport"
)

type ingestOptions struct {
	*rootOptions
	Sources  []string
	Interval time.Duration
}

func newIngestCommand(root *rootOptions) *cobra.Command {
	opts := &ingestOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch every enabled source and upsert its records",
		Long: `Fetch the configured sources one after another and upsert the normalized
records into the SQLite database named by TENDER_DB_PATH.

A failing source is reported and the run continues. The command exits
non-zero only for configuration problems.

Example:
  tender-ingester ingest --config config/sources.yaml
  tender-ingester ingest --sources usa,canada --interval 6h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runIngest(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringSliceVar(&opts.Sources, "sources", nil, "comma-separated source keys to run (default: all enabled)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "repeat the run at this interval; 0 runs once")
	return cmd
}

func runIngest(ctx context.Context, opts *ingestOptions, out, errOut io.Writer) error {
	log := opts.logger(errOut)
	log.Info("tender-ingester starting", "version", Version)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	settings := opts.settings(log)

	m := metrics.New()
	if addr := cfg.Metrics.ListenAddress; addr != "" {
		srv := metrics.NewServer(addr, m)
		go func() {
			if err := srv.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "err", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		log.Info("serving metrics", "addr", addr)
	}

	tr := transport.New(ratelimit.New(cfg.RateLimitInterval, ratelimit.SystemClock{}), transport.Options{
		Timeout:     cfg.HTTP.Timeout,
		UserAgent:   cfg.HTTP.UserAgent,
		MaxAttempts: cfg.HTTP.MaxAttempts,
		Backoff:     cfg.HTTP.Backoff,
		Recorder:    m,
		Logger:      log,
	})

	if err := settings.EnsureDBDir(); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	repo, err := store.Open(ctx, settings.DBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	o := ingest.New(ingest.Options{
		Store:         repo,
		SourceTimeout: cfg.SourceTimeout,
		Deps: source.Deps{
			Transport: tr,
			Settings:  settings,
			Logger:    log,
			Metrics:   m,
		},
	})
	if err := o.Plan(cfg, opts.Sources); err != nil {
		return err
	}

	runOnce := func() {
		rep := o.Run(ctx)
		printReport(out, rep)
		log.Debug("metrics snapshot", "counters", m.Dump())
	}

	log.Info("ingester started", "db", settings.DBPath, "interval", opts.Interval.String())
	runOnce()
	if opts.Interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("stopping", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			runOnce()
		}
	}
}

func printReport(w io.Writer, rep ingest.Report) {
	t := newTable(w)
	t.SetTitle("run " + rep.RunID)
	t.AppendHeader(table.Row{"Source", "Name", "Status", "Fetched", "Persisted", "Duplicates", "Took", "Error"})
	for _, r := range rep.Results {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		t.AppendRow(table.Row{r.Key, r.SourceName, r.Status, r.Fetched, r.Persisted, r.Duplicates, r.Duration.Truncate(time.Millisecond), errText})
	}
	t.AppendFooter(table.Row{"", "", "", "", rep.Persisted(), "", rep.Finished.Sub(rep.Started).Truncate(time.Millisecond), ""})
	t.Render()
}
