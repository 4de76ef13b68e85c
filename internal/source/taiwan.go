package source

import (
	"bytes"
	"context"
	"iter"

	"github.com/galois26/procurement-ingester/internal/config"
	"github.com/galois26/procurement-ingester/internal/model"
)

var taiwanPCCDefaults = defaults{
	country: model.CountryTaiwan,
	format:  model.FormatXML,
	fields: config.FieldMap{
		NoticeID:     config.Keys{"品項編號"},
		Title:        config.Keys{"標案名稱"},
		Description:  config.Keys{"標案摘要"},
		Agency:       config.Keys{"標案機關名稱"},
		AwardAmount:  config.Keys{"得標金額"},
		AwardDate:    config.Keys{"決標日期"},
		SupplierName: config.Keys{"得標廠商名稱"},
	},
	currency:   "TWD",
	maxRecords: 1000,
}

var taiwanTendersDefaults = defaults{
	country: model.CountryTaiwan,
	format:  model.FormatXML,
	fields: config.FieldMap{
		NoticeID:  config.Keys{"TENDER_CASE_NO"},
		Title:     config.Keys{"TENDER_NAME"},
		Agency:    config.Keys{"TENDER_ORG_NAME"},
		AwardDate: config.Keys{"TENDER_SPDT"},
		Tags:      config.Keys{"PROCUREMENT_TYPE", "PROCUREMENT_ATTR"},
	},
	keywordFields: config.Keys{"TENDER_NAME"},
	currency:      "TWD",
	maxRecords:    200,
}

var taiwanAwardsDefaults = defaults{
	country: model.CountryTaiwan,
	format:  model.FormatXML,
	fields: config.FieldMap{
		NoticeID:     config.Keys{"TENDER_CASE_NO"},
		Title:        config.Keys{"TENDER_NAME"},
		Agency:       config.Keys{"TENDER_ORG_NAME"},
		AwardAmount:  config.Keys{"TENDER_AWARD_PRICE"},
		AwardDate:    config.Keys{"AWARD_DATE"},
		SupplierName: config.Keys{"BIDDER_LIST.BIDDER_SUPP_NAME"},
		Tags:         config.Keys{"PROCUREMENT_TYPE", "PROCUREMENT_ATTR", "TENDER_AWARD_WAY"},
	},
	keywordFields: config.Keys{"TENDER_NAME", "TENDER_CASE_NO"},
	currency:      "TWD",
	maxRecords:    200,
}

// xmlSource downloads each configured XML document and streams the
// elements selected by the record path.
type xmlSource struct {
	cfg  config.XMLConfig
	deps Deps
	pl   *pipeline
	path recordPath
}

// NewTaiwanPCC reads PCC open-data XML; record_path defaults to .//row.
func NewTaiwanPCC(c config.XMLConfig, deps Deps) (*xmlSource, error) {
	return newXMLSource(KindTaiwan, c, ".//row", taiwanPCCDefaults, deps)
}

// NewTaiwanTenders reads PCC tender notice XML (.//TENDER).
func NewTaiwanTenders(c config.XMLConfig, deps Deps) (*xmlSource, error) {
	return newXMLSource(KindTaiwanTenders, c, ".//TENDER", taiwanTendersDefaults, deps)
}

// NewTaiwanAwards reads PCC award notice XML (.//TENDER).
func NewTaiwanAwards(c config.XMLConfig, deps Deps) (*xmlSource, error) {
	return newXMLSource(KindTaiwanAwards, c, ".//TENDER", taiwanAwardsDefaults, deps)
}

func newXMLSource(kind Kind, c config.XMLConfig, defPath string, d defaults, deps Deps) (*xmlSource, error) {
	path, err := parseRecordPath(defaultStr(c.XML.RecordPath, defPath))
	if err != nil {
		return nil, &config.MalformedError{Key: string(kind), Err: err}
	}
	return &xmlSource{cfg: c, deps: deps, pl: newPipeline(kind, c.Common, d, deps), path: path}, nil
}

func (s *xmlSource) Name() string { return s.pl.source }

func (s *xmlSource) Fetch(ctx context.Context) iter.Seq2[model.TenderRecord, error] {
	return s.pl.run(ctx, s.scan)
}

func (s *xmlSource) scan(ctx context.Context, p *pass) error {
	for _, u := range s.cfg.URLs() {
		if p.done {
			return nil
		}
		body, err := download(ctx, s.deps, s.pl.source, u)
		if err != nil {
			return err
		}
		p.url = u
		err = readXMLRecords(bytes.NewReader(body), s.path, func(r Row, raw map[string]any) bool {
			return p.emit(r, raw)
		})
		if err != nil {
			return &ParseError{Source: s.pl.source, URL: u, Err: err}
		}
	}
	return nil
}
