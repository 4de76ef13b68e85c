package source

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/galois26/procurement-ingester/internal/config"
	"github.com/galois26/procurement-ingester/internal/model"
)

var japanGEPSDefaults = defaults{
	country: model.CountryJapan,
	format:  model.FormatCSV,
	fields: config.FieldMap{
		NoticeID:     config.Keys{"NoticeID"},
		Title:        config.Keys{"ItemName"},
		Description:  config.Keys{"Summary"},
		Agency:       config.Keys{"ProcuringEntity"},
		AwardAmount:  config.Keys{"AwardAmount"},
		AwardDate:    config.Keys{"ContractDate"},
		SupplierName: config.Keys{"Winner"},
	},
	currency:   "JPY",
	maxRecords: 1000,
}

type zipCSVSource struct {
	cfg  config.ZipCSVConfig
	deps Deps
	pl   *pipeline
	csv  csvFormat
}

// NewJapanGEPS reads a GEPS/JGP archive holding exactly one CSV file.
func NewJapanGEPS(c config.ZipCSVConfig, deps Deps) (*zipCSVSource, error) {
	if ft := strings.TrimSpace(c.FileType); ft != "" && ft != "zip_csv" {
		return nil, &config.MalformedError{Key: string(KindJapan), Err: fmt.Errorf("file_type %q: only zip_csv is supported", ft)}
	}
	f, err := newCSVFormat(c.CSV)
	if err != nil {
		return nil, &config.MalformedError{Key: string(KindJapan), Err: err}
	}
	return &zipCSVSource{cfg: c, deps: deps, pl: newPipeline(KindJapan, c.Common, japanGEPSDefaults, deps), csv: f}, nil
}

func (s *zipCSVSource) Name() string { return s.pl.source }

func (s *zipCSVSource) Fetch(ctx context.Context) iter.Seq2[model.TenderRecord, error] {
	return s.pl.run(ctx, s.scan)
}

func (s *zipCSVSource) scan(ctx context.Context, p *pass) error {
	body, err := download(ctx, s.deps, s.pl.source, s.cfg.DownloadURL)
	if err != nil {
		return err
	}
	parseErr := func(err error) error {
		return &ParseError{Source: s.pl.source, URL: s.cfg.DownloadURL, Err: err}
	}

	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return parseErr(err)
	}
	member, err := singleCSV(zr)
	if err != nil {
		return parseErr(err)
	}
	rc, err := member.Open()
	if err != nil {
		return parseErr(err)
	}
	defer rc.Close()

	p.url = s.cfg.DownloadURL
	err = s.csv.readRows(rc, func(r Row) bool {
		return p.emit(r, r)
	})
	if err != nil {
		return parseErr(fmt.Errorf("%s: %w", member.Name, err))
	}
	return nil
}

// singleCSV returns the archive's only .csv member.
func singleCSV(zr *zip.Reader) (*zip.File, error) {
	var found []*zip.File
	for _, f := range zr.File {
		if !f.FileInfo().IsDir() && strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			found = append(found, f)
		}
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("no .csv member in archive")
	case 1:
		return found[0], nil
	default:
		names := make([]string, len(found))
		for i, f := range found {
			names[i] = f.Name
		}
		return nil, fmt.Errorf("archive holds %d .csv members (%s), expected one", len(found), strings.Join(names, ", "))
	}
}
