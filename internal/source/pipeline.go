package source

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/galois26/procurement-ingester/internal/config"
	"github.com/galois26/procurement-ingester/internal/metrics"
	"github.com/galois26/procurement-ingester/internal/model"
)

const defaultPageSize = 100

// limits caps one pass. Zero means unbounded.
type limits struct {
	maxRecords int // records yielded
	scanLimit  int // raw rows looked at, before filtering
}

// pipeline holds what every variant shares: caps, filters and the
// normalizer. It is immutable; each Fetch gets its own pass.
type pipeline struct {
	source   string
	format   model.PayloadFormat
	limits   limits
	keywords keywordFilter
	allow    whitelist
	norm     normalizer
	accept   func(model.TenderRecord) bool // optional post-normalization check
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// scanner pushes raw rows into p until the feed ends or p.emit returns false.
type scanner func(ctx context.Context, p *pass) error

func (pl *pipeline) run(ctx context.Context, scan scanner) iter.Seq2[model.TenderRecord, error] {
	return func(yield func(model.TenderRecord, error) bool) {
		p := &pass{pipeline: pl, ctx: ctx, yield: yield}
		err := scan(ctx, p)
		if err == nil {
			err = p.err
		}
		if err != nil && !p.stopped {
			yield(model.TenderRecord{}, err)
		}
		pl.log.Debug("pass finished", "scanned", p.scanned, "yielded", p.fetched)
	}
}

type pass struct {
	*pipeline
	ctx   context.Context
	yield func(model.TenderRecord, error) bool
	url   string // document being scanned, if any

	scanned int
	fetched int
	done    bool  // a cap was hit or the consumer stopped
	stopped bool  // the consumer stopped
	err     error // context error seen while emitting
}

// emit runs one raw row through filters and normalization and yields the
// record. raw is the verbatim record kept as the payload. It returns false
// once no more rows are wanted.
func (p *pass) emit(r Row, raw any) bool {
	if p.done {
		return false
	}
	if err := p.ctx.Err(); err != nil {
		p.err, p.done = err, true
		return false
	}
	if p.limits.scanLimit > 0 && p.scanned >= p.limits.scanLimit {
		p.done = true
		return false
	}
	p.scanned++

	if !p.allow.match(r) || !p.keywords.match(r) {
		p.metrics.Dropped(p.source, "filtered")
		return true
	}
	payload, err := model.NewPayload(p.format, raw)
	if err != nil {
		p.log.Warn("unencodable payload", "err", err)
		p.metrics.Dropped(p.source, "bad_payload")
		return true
	}
	rec, ok := p.norm.normalize(r, payload, p.url)
	if !ok {
		p.metrics.Dropped(p.source, "missing_required")
		return true
	}
	if p.accept != nil && !p.accept(rec) {
		p.metrics.Dropped(p.source, "below_minimum")
		return true
	}

	if !p.yield(rec, nil) {
		p.stopped, p.done = true, true
		return false
	}
	p.fetched++
	if p.limits.maxRecords > 0 && p.fetched >= p.limits.maxRecords {
		p.done = true
		return false
	}
	return true
}

// remaining is how many more records may be yielded, -1 when unbounded.
func (p *pass) remaining() int {
	if p.limits.maxRecords <= 0 {
		return -1
	}
	return p.limits.maxRecords - p.fetched
}

// scanRemaining is how many more rows may be scanned, -1 when unbounded.
func (p *pass) scanRemaining() int {
	if p.limits.scanLimit <= 0 {
		return -1
	}
	return p.limits.scanLimit - p.scanned
}

// pageLimit bounds a page request by size and by a remaining budget.
func pageLimit(size, budget int) int {
	if budget >= 0 && budget < size {
		return budget
	}
	return size
}

// defaults are a variant's built-in settings, overridden by configuration.
type defaults struct {
	country       model.Country
	format        model.PayloadFormat
	fields        config.FieldMap
	keywordFields config.Keys // title and description fields when empty
	currency      string
	maxRecords    int
}

func newPipeline(kind Kind, c config.Common, d defaults, deps Deps) *pipeline {
	fields := c.FieldMap.WithDefaults(d.fields)
	kwFields := keysOr(c.KeywordFields, d.keywordFields)
	if len(kwFields) == 0 {
		kwFields = append(append(config.Keys{}, fields.Title...), fields.Description...)
	}
	name := kind.SourceName()
	return &pipeline{
		source: name,
		format: d.format,
		limits: limits{
			maxRecords: defaultInt(c.MaxRecords, d.maxRecords),
			scanLimit:  c.ScanLimit,
		},
		keywords: newKeywordFilter(c.Keywords, kwFields),
		norm: normalizer{
			source:   name,
			country:  d.country,
			fields:   fields,
			currency: defaultStr(c.Currency, d.currency),
		},
		metrics: deps.Metrics,
		log:     deps.logger().With("source", string(kind)),
	}
}

// download fetches a whole document through the shared transport.
func download(ctx context.Context, deps Deps, source, rawURL string) ([]byte, error) {
	res, err := deps.Transport.Get(ctx, source, rawURL, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", rawURL, err)
	}
	return res.Body, nil
}
