package source

import (
	"bytes"
	"context"
	"iter"

	"github.com/galois26/procurement-ingester/internal/config"
	"github.com/galois26/procurement-ingester/internal/model"
)

var canadaTendersDefaults = defaults{
	country: model.CountryCanada,
	format:  model.FormatCSV,
	fields: config.FieldMap{
		NoticeID:    config.Keys{"referenceNumber-numeroReference"},
		Title:       config.Keys{"title-titre-eng", "title-titre-fra"},
		Description: config.Keys{"tenderDescription-descriptionAppelOffres-eng", "tenderDescription-descriptionAppelOffres-fra"},
		Agency:      config.Keys{"contractingEntityName-nomEntitContractante-eng", "contractingEntityName-nomEntitContractante-fra"},
		AwardDate:   config.Keys{"publicationDate-datePublication"},
		URL:         config.Keys{"noticeURL-URLavis-eng", "noticeURL-URLavis-fra"},
		Tags:        config.Keys{"gsin-nibs", "unspsc", "procurementCategory-categorieApprovisionnement"},
	},
	keywordFields: config.Keys{
		"title-titre-eng", "title-titre-fra",
		"tenderDescription-descriptionAppelOffres-eng", "tenderDescription-descriptionAppelOffres-fra",
		"gsinDescription-nibsDescription-eng", "gsinDescription-nibsDescription-fra",
		"unspscDescription-eng", "unspscDescription-fra",
	},
	currency:   "CAD",
	maxRecords: 200,
}

var canadaAwardsDefaults = defaults{
	country: model.CountryCanada,
	format:  model.FormatCSV,
	fields: config.FieldMap{
		NoticeID:     config.Keys{"referenceNumber-numeroReference"},
		Title:        config.Keys{"title-titre-eng", "title-titre-fra"},
		Description:  config.Keys{"awardDescription-descriptionAttribution-eng", "awardDescription-descriptionAttribution-fra"},
		Agency:       config.Keys{"contractingEntityName-nomEntitContractante-eng", "contractingEntityName-nomEntitContractante-fra"},
		AwardAmount:  config.Keys{"contractAmount-montantContrat"},
		Currency:     config.Keys{"contractCurrency-contratMonnaie"},
		AwardDate:    config.Keys{"contractAwardDate-dateAttributionContrat"},
		SupplierName: config.Keys{"supplierLegalName-nomLegalFournisseur-eng", "supplierLegalName-nomLegalFournisseur-fra"},
		Tags:         config.Keys{"gsin-nibs", "unspsc", "procurementCategory-categorieApprovisionnement"},
	},
	keywordFields: config.Keys{
		"title-titre-eng", "title-titre-fra",
		"awardDescription-descriptionAttribution-eng", "awardDescription-descriptionAttribution-fra",
		"gsinDescription-nibsDescription-eng", "gsinDescription-nibsDescription-fra",
		"unspscDescription-eng", "unspscDescription-fra",
		"supplierLegalName-nomLegalFournisseur-eng", "supplierLegalName-nomLegalFournisseur-fra",
	},
	currency:   "CAD",
	maxRecords: 200,
}

// csvDownloadSource downloads each configured CSV in full and streams its
// rows through the pipeline. Caps span all files.
type csvDownloadSource struct {
	cfg  config.CSVDownloadConfig
	deps Deps
	pl   *pipeline
	csv  csvFormat
}

// NewCanadaTenders reads CanadaBuys tender notice exports.
func NewCanadaTenders(c config.CSVDownloadConfig, deps Deps) (*csvDownloadSource, error) {
	return newCSVDownload(KindCanadaTenders, c, canadaTendersDefaults, deps)
}

// NewCanadaAwards reads CanadaBuys award notice exports.
func NewCanadaAwards(c config.CSVDownloadConfig, deps Deps) (*csvDownloadSource, error) {
	return newCSVDownload(KindCanadaAwards, c, canadaAwardsDefaults, deps)
}

func newCSVDownload(kind Kind, c config.CSVDownloadConfig, d defaults, deps Deps) (*csvDownloadSource, error) {
	f, err := newCSVFormat(c.CSV)
	if err != nil {
		return nil, &config.MalformedError{Key: string(kind), Err: err}
	}
	return &csvDownloadSource{cfg: c, deps: deps, pl: newPipeline(kind, c.Common, d, deps), csv: f}, nil
}

func (s *csvDownloadSource) Name() string { return s.pl.source }

func (s *csvDownloadSource) Fetch(ctx context.Context) iter.Seq2[model.TenderRecord, error] {
	return s.pl.run(ctx, s.scan)
}

func (s *csvDownloadSource) scan(ctx context.Context, p *pass) error {
	for _, u := range nonEmpty(s.cfg.DownloadURLs) {
		if p.done {
			return nil
		}
		s.pl.log.Info("downloading csv", "url", u)
		body, err := download(ctx, s.deps, s.pl.source, u)
		if err != nil {
			return err
		}
		p.url = u
		err = s.csv.readRows(bytes.NewReader(body), func(r Row) bool {
			return p.emit(r, r)
		})
		if err != nil {
			return &ParseError{Source: s.pl.source, URL: u, Err: err}
		}
	}
	return nil
}
