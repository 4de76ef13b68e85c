package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/galois26/procurement-ingester/internal/config"
	"github.com/galois26/procurement-ingester/internal/model"
	"github.com/galois26/procurement-ingester/internal/source"
	"github.com/galois26/procurement-ingester/internal/store"
)

const defaultSourceTimeout = 30 * time.Minute

// Store is where normalized records end up; *store.Repository satisfies it.
type Store interface {
	Upsert(ctx context.Context, rec model.TenderRecord) error
}

type Status string

const (
	StatusOK       Status = "ok"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
	StatusDisabled Status = "disabled"
)

// SourceResult is the outcome of one configured source in one run.
type SourceResult struct {
	Key        string
	SourceName string
	Status     Status
	Fetched    int // records yielded by the fetcher
	Persisted  int
	Duplicates int // identity keys yielded more than once
	Err        error
	Duration   time.Duration
}

type Report struct {
	RunID    string
	Results  []SourceResult
	Started  time.Time
	Finished time.Time
}

// Failed returns the results that ended in error.
func (r Report) Failed() []SourceResult {
	var out []SourceResult
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// Persisted is the total across sources.
func (r Report) Persisted() int {
	n := 0
	for _, res := range r.Results {
		n += res.Persisted
	}
	return n
}

type Options struct {
	Store         Store
	Deps          source.Deps
	SourceTimeout time.Duration // per-source deadline, default 30m
	Now           func() time.Time
}

// Orchestrator runs the planned sources one after another and stores what
// they yield. A failing source is recorded and the next one still runs.
type Orchestrator struct {
	store   Store
	deps    source.Deps
	timeout time.Duration
	now     func() time.Time
	log     *slog.Logger

	plan []step
}

// step is one configured source; fetcher is nil when it will not run.
type step struct {
	fetcher source.Fetcher
	result  SourceResult
}

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		store:   opts.Store,
		deps:    opts.Deps,
		timeout: opts.SourceTimeout,
		now:     opts.Now,
		log:     opts.Deps.Logger,
	}
	if o.timeout <= 0 {
		o.timeout = defaultSourceTimeout
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}

// Plan builds a fetcher for every configured source that should run, in
// configuration order. With a non-empty selection only those keys run.
// Unknown keys and malformed entries are logged and left out. Missing
// required settings of a source that would run are returned as
// *config.RequiredError before any network I/O.
func (o *Orchestrator) Plan(cfg config.Config, selected []string) error {
	want := make(map[string]bool, len(selected))
	for _, k := range selected {
		want[k] = true
		if _, ok := cfg.Sources.Lookup(k); !ok {
			o.log.Warn("selected source is not configured", "source", k)
		}
	}

	o.plan = o.plan[:0]
	var fatal []error
	for _, e := range cfg.Sources {
		res := SourceResult{Key: e.Key}
		kind, known := source.ParseKind(e.Key)
		if known {
			res.SourceName = kind.SourceName()
		}

		switch {
		case len(want) > 0 && !want[e.Key]:
			res.Status = StatusSkipped
		case !known:
			o.log.Warn("unknown source in config, skipping", "source", e.Key)
			res.Status = StatusSkipped
			res.Err = fmt.Errorf("unknown source: %s", e.Key)
		case !e.Enabled():
			res.Status = StatusDisabled
		}
		if res.Status != "" {
			o.plan = append(o.plan, step{result: res})
			continue
		}

		f, err := source.NewFromConfig(e, o.deps)
		var required *config.RequiredError
		switch {
		case errors.As(err, &required):
			fatal = append(fatal, err)
			continue
		case err != nil:
			o.log.Error("invalid source config, treating as disabled", "source", e.Key, "err", err)
			res.Status = StatusDisabled
			res.Err = err
			o.plan = append(o.plan, step{result: res})
			continue
		}
		o.plan = append(o.plan, step{fetcher: f, result: res})
	}
	if len(fatal) > 0 {
		o.plan = nil
		return errors.Join(fatal...)
	}
	return nil
}

// Run executes the plan once. Each source gets its own deadline.
func (o *Orchestrator) Run(ctx context.Context) Report {
	rep := Report{RunID: uuid.NewString(), Started: o.now()}
	log := o.log.With("run_id", rep.RunID)
	log.Info("run started", "sources", o.runnable())

	for _, s := range o.plan {
		res := s.result
		switch {
		case s.fetcher == nil:
		case ctx.Err() != nil:
			res.Status = StatusSkipped
			res.Err = ctx.Err()
		default:
			res = o.runSource(ctx, log, s.fetcher, res)
		}
		rep.Results = append(rep.Results, res)
	}

	rep.Finished = o.now()
	log.Info("run finished",
		"persisted", rep.Persisted(),
		"failed", len(rep.Failed()),
		"took", rep.Finished.Sub(rep.Started).Truncate(time.Millisecond))
	return rep
}

func (o *Orchestrator) runSource(ctx context.Context, log *slog.Logger, f source.Fetcher, res SourceResult) SourceResult {
	start := o.now()
	log = log.With("source", res.Key)

	sctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	seen := store.NewDedup(0)
	for rec, err := range f.Fetch(sctx) {
		if err != nil {
			res.Err = err
			break
		}
		res.Fetched++
		if seen.Observe(rec.Key()) {
			res.Duplicates++
		}
		if err := o.store.Upsert(sctx, rec); err != nil {
			res.Err = fmt.Errorf("persist: %w", err)
			break
		}
		res.Persisted++
		o.deps.Metrics.Persisted(res.SourceName)
	}
	if res.Err != nil && errors.Is(res.Err, context.DeadlineExceeded) && ctx.Err() == nil {
		res.Err = fmt.Errorf("source timeout after %s: %w", o.timeout, res.Err)
	}

	res.Status = StatusOK
	if res.Err != nil {
		res.Status = StatusFailed
	}
	end := o.now()
	res.Duration = end.Sub(start)
	o.deps.Metrics.SourceDone(res.SourceName, res.Duration, res.Err, end)

	attrs := []any{
		"status", res.Status,
		"fetched", res.Fetched,
		"persisted", res.Persisted,
		"duplicates", res.Duplicates,
		"distinct", seen.Len(),
		"took", res.Duration.Truncate(time.Millisecond),
	}
	if res.Err != nil {
		log.Error("source failed", append(attrs, "err", res.Err)...)
	} else {
		log.Info("source finished", attrs...)
	}
	return res
}

func (o *Orchestrator) runnable() int {
	n := 0
	for _, s := range o.plan {
		if s.fetcher != nil {
			n++
		}
	}
	return n
}
