package source

import (
	"context"
	"encoding/json"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/galois26/procurement-ingester/internal/config"
	"github.com/galois26/procurement-ingester/internal/model"
)

var samGovDefaults = defaults{
	country: model.CountryUSA,
	format:  model.FormatJSON,
	fields: config.FieldMap{
		NoticeID:           config.Keys{"noticeId"},
		Title:              config.Keys{"title", "solicitationNumber"},
		Description:        config.Keys{"description"},
		Agency:             config.Keys{"department", "organization", "fullParentPathName"},
		AwardAmount:        config.Keys{"award.awardAmount", "award.amount"},
		Currency:           config.Keys{"award.awardAmountCurrency"},
		AwardDate:          config.Keys{"award.awardDate", "award.date"},
		SupplierName:       config.Keys{"award.recipientName", "award.awardee"},
		SupplierRegistryID: config.Keys{"award.awardee.ueiSAM"},
		URL:                config.Keys{"uiLink"},
		Tags:               config.Keys{"typeOfSetAsideDescription", "naics", "naicsCode"},
	},
	currency:   "USD",
	maxRecords: 200,
}

type samGovSource struct {
	cfg  config.SAMGovConfig
	deps Deps
	pl   *pipeline
	now  func() time.Time
}

// NewSAMGov queries the SAM.gov opportunities search API. Keywords are
// matched server-side; a client-side keyword pass runs only when
// keyword_fields is configured.
func NewSAMGov(c config.SAMGovConfig, deps Deps) *samGovSource {
	pl := newPipeline(KindUSA, c.Common, samGovDefaults, deps)
	if len(c.KeywordFields) == 0 {
		pl.keywords = keywordFilter{}
	}
	if floor := c.MinAwardAmountUSD; floor != nil {
		pl.accept = func(r model.TenderRecord) bool {
			return r.AwardAmount == nil || *r.AwardAmount >= *floor
		}
	}
	return &samGovSource{cfg: c, deps: deps, pl: pl, now: time.Now}
}

func (s *samGovSource) Name() string { return s.pl.source }

func (s *samGovSource) Fetch(ctx context.Context) iter.Seq2[model.TenderRecord, error] {
	return s.pl.run(ctx, s.scan)
}

type samGovPage struct {
	OpportunitiesData json.RawMessage `json:"opportunitiesData"`
	Data              json.RawMessage `json:"data"`
}

func (s *samGovSource) scan(ctx context.Context, p *pass) error {
	to := s.now().UTC()
	from := to.AddDate(0, 0, -defaultInt(s.cfg.PostedWithinDays, 180))
	pageSize := defaultInt(s.cfg.PageSize, defaultPageSize)

	offset := 0
	for !p.done {
		limit := pageLimit(pageSize, p.remaining())
		if limit <= 0 {
			return nil
		}
		q := url.Values{}
		q.Set("api_key", s.deps.Settings.SAMGovAPIKey)
		q.Set("limit", strconv.Itoa(limit))
		q.Set("offset", strconv.Itoa(offset))
		q.Set("postedFrom", from.Format("01/02/2006"))
		q.Set("postedTo", to.Format("01/02/2006"))
		if kw := nonEmpty(s.cfg.Keywords); len(kw) > 0 {
			q.Set("keywords", strings.Join(kw, ","))
		}
		if nt := nonEmpty(s.cfg.NoticeTypes); len(nt) > 0 {
			q.Set("notice_type", strings.Join(nt, ","))
		}

		res, err := s.deps.Transport.Get(ctx, s.pl.source, s.cfg.APIURL, q, nil)
		if err != nil {
			return err
		}
		var page samGovPage
		if err := json.Unmarshal(res.Body, &page); err != nil {
			return &ParseError{Source: s.pl.source, URL: s.cfg.APIURL, Err: err}
		}
		items, err := decodeObjects(page.OpportunitiesData)
		if err == nil && len(items) == 0 {
			items, err = decodeObjects(page.Data)
		}
		if err != nil {
			return &ParseError{Source: s.pl.source, URL: s.cfg.APIURL, Err: err}
		}
		if len(items) == 0 {
			return nil
		}

		for _, item := range items {
			row, err := flattenJSON(item)
			if err != nil {
				return &ParseError{Source: s.pl.source, URL: s.cfg.APIURL, Err: err}
			}
			if !p.emit(row, item) {
				return nil
			}
		}
		offset += limit
		if len(items) < limit {
			return nil
		}
	}
	return nil
}

func nonEmpty(k config.Keys) []string {
	var out []string
	for _, s := range k {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
