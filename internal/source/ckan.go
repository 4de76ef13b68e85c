package source

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/galois26/procurement-ingester/internal/config"
	"github.com/galois26/procurement-ingester/internal/model"
)

var canadaOpenDataDefaults = defaults{
	country: model.CountryCanada,
	format:  model.FormatJSON,
	fields: config.FieldMap{
		NoticeID:     config.Keys{"reference_number"},
		Title:        config.Keys{"description_en", "description_fr"},
		Description:  config.Keys{"comments_en", "comments_fr"},
		Agency:       config.Keys{"owner_org_title"},
		AwardAmount:  config.Keys{"contract_value"},
		AwardDate:    config.Keys{"contract_date"},
		SupplierName: config.Keys{"vendor_name"},
		URL:          config.Keys{"record_url"},
		Tags:         config.Keys{"commodity_code", "trade_agreement"},
	},
	keywordFields: config.Keys{"description_en", "description_fr", "comments_en", "comments_fr", "vendor_name", "commodity_code"},
	currency:      "CAD",
	maxRecords:    500,
}

var ausTenderDefaults = defaults{
	country: model.CountryAustralia,
	format:  model.FormatJSON,
	fields: config.FieldMap{
		NoticeID:     config.Keys{"Contract ID"},
		Title:        config.Keys{"Description"},
		Description:  config.Keys{"UNSPSC Title"},
		Agency:       config.Keys{"Agency Name"},
		AwardAmount:  config.Keys{"Value"},
		AwardDate:    config.Keys{"Publish Date"},
		SupplierName: config.Keys{"Supplier Name"},
		Tags:         config.Keys{"UNSPSC Code", "Procurement Method"},
	},
	currency:   "AUD",
	maxRecords: 500,
}

// ckanSource pages through a CKAN datastore_search resource.
type ckanSource struct {
	cfg   config.CKANConfig
	deps  Deps
	pl    *pipeline
	token string
	// serverSearch sends search_text as q; otherwise it joins the
	// client-side keywords.
	serverSearch bool
	// scanBudget pages by the scan limit instead of the record cap.
	scanBudget bool
}

// NewCanadaOpenData reads the Open Government proactive disclosure
// contracts resource. Search terms and the owner whitelist are applied
// client-side, bounded by scan_limit (default ten times max_records).
func NewCanadaOpenData(c config.CKANConfig, deps Deps) *ckanSource {
	c.Keywords = append(append(config.Keys{}, c.Keywords...), c.SearchText...)
	pl := newPipeline(KindCanada, c.Common, canadaOpenDataDefaults, deps)
	if c.ScanLimit <= 0 {
		pl.limits.scanLimit = pl.limits.maxRecords * 10
	}
	pl.allow = newWhitelist(defaultStr(c.OwnerOrgField, "owner_org"), c.OwnerOrgWhitelist)
	return &ckanSource{cfg: c, deps: deps, pl: pl, token: deps.Settings.CanadaToken, scanBudget: true}
}

// NewAusTender reads the data.gov.au historical contract notices resource
// with a server-side q search.
func NewAusTender(c config.CKANConfig, deps Deps) *ckanSource {
	pl := newPipeline(KindAustralia, c.Common, ausTenderDefaults, deps)
	pl.allow = newWhitelist(defaultStr(c.OwnerOrgField, "Agency Name"), c.OwnerOrgWhitelist)
	return &ckanSource{cfg: c, deps: deps, pl: pl, token: deps.Settings.AusTenderToken, serverSearch: true}
}

func (s *ckanSource) Name() string { return s.pl.source }

func (s *ckanSource) Fetch(ctx context.Context) iter.Seq2[model.TenderRecord, error] {
	return s.pl.run(ctx, s.scan)
}

type ckanResponse struct {
	Success *bool `json:"success"`
	Result  struct {
		Records json.RawMessage `json:"records"`
	} `json:"result"`
}

func (s *ckanSource) scan(ctx context.Context, p *pass) error {
	var header http.Header
	if s.token != "" {
		header = http.Header{"Authorization": {"Bearer " + s.token}}
	}
	pageSize := defaultInt(s.cfg.PageSize, defaultPageSize)

	offset := 0
	for !p.done {
		budget := p.remaining()
		if s.scanBudget {
			budget = p.scanRemaining()
		}
		limit := pageLimit(pageSize, budget)
		if limit <= 0 {
			return nil
		}
		q := url.Values{}
		q.Set("resource_id", s.cfg.ResourceID)
		q.Set("limit", strconv.Itoa(limit))
		q.Set("offset", strconv.Itoa(offset))
		if sort := s.cfg.Sort(); sort != "" {
			q.Set("sort", sort)
		}
		if s.serverSearch {
			if terms := nonEmpty(s.cfg.SearchText); len(terms) > 0 {
				q.Set("q", strings.Join(terms, " "))
			}
		}

		res, err := s.deps.Transport.Get(ctx, s.pl.source, s.cfg.DatastoreURL, q, header)
		if err != nil {
			return err
		}
		var body ckanResponse
		if err := json.Unmarshal(res.Body, &body); err != nil {
			return &ParseError{Source: s.pl.source, URL: s.cfg.DatastoreURL, Err: err}
		}
		if body.Success != nil && !*body.Success {
			return &ParseError{Source: s.pl.source, URL: s.cfg.DatastoreURL, Err: errors.New("datastore_search reported success=false")}
		}
		records, err := decodeObjects(body.Result.Records)
		if err != nil {
			return &ParseError{Source: s.pl.source, URL: s.cfg.DatastoreURL, Err: err}
		}
		if len(records) == 0 {
			return nil
		}

		for _, rec := range records {
			row, err := flattenJSON(rec)
			if err != nil {
				return &ParseError{Source: s.pl.source, URL: s.cfg.DatastoreURL, Err: err}
			}
			if !p.emit(row, rec) {
				return nil
			}
		}
		offset += limit
		if len(records) < limit {
			return nil
		}
	}
	return nil
}
