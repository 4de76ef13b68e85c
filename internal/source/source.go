package source

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/galois26/procurement-ingester/internal/config"
	"github.com/galois26/procurement-ingester/internal/metrics"
	"github.com/galois26/procurement-ingester/internal/model"
	"github.com/galois26/procurement-ingester/internal/transport"
)

// Fetcher streams normalized records from one upstream feed. Each call to
// Fetch starts over from the network. An unrecoverable error is yielded
// once with a zero record and ends the sequence.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) iter.Seq2[model.TenderRecord, error]
}

// Doer is the HTTP surface fetchers use; *transport.Transport satisfies it.
type Doer interface {
	Get(ctx context.Context, key, rawURL string, query url.Values, header http.Header) (*transport.Response, error)
}

// Deps are shared by every fetcher of one run.
type Deps struct {
	Transport Doer
	Settings  config.Settings
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Kind is a configuration key naming one fetcher variant.
type Kind string

const (
	KindUSA           Kind = "usa"
	KindCanada        Kind = "canada"
	KindCanadaTenders Kind = "canada_tenders"
	KindCanadaAwards  Kind = "canada_awards"
	KindAustralia     Kind = "australia"
	KindJapan         Kind = "japan"
	KindTaiwan        Kind = "taiwan"
	KindTaiwanTenders Kind = "taiwan_tenders"
	KindTaiwanAwards  Kind = "taiwan_awards"
)

// Kinds lists every registered source key in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindUSA, KindCanada, KindCanadaTenders, KindCanadaAwards, KindAustralia,
		KindJapan, KindTaiwan, KindTaiwanTenders, KindTaiwanAwards,
	}
}

// ParseKind reports whether key names a registered fetcher.
func ParseKind(key string) (Kind, bool) {
	for _, k := range Kinds() {
		if string(k) == key {
			return k, true
		}
	}
	return "", false
}

// SourceName is the persisted source_name of records from k.
func (k Kind) SourceName() string {
	switch k {
	case KindUSA:
		return "sam.gov"
	case KindCanada:
		return "canada-open-data"
	case KindCanadaTenders:
		return "canada-tenders"
	case KindCanadaAwards:
		return "canada-awards"
	case KindAustralia:
		return "aus-data-gov"
	case KindJapan:
		return "japan-geps"
	case KindTaiwan:
		return "taiwan-pcc"
	case KindTaiwanTenders:
		return "taiwan-tenders"
	case KindTaiwanAwards:
		return "taiwan-awards"
	default:
		return ""
	}
}

// NewFromConfig decodes the entry into the variant's typed config,
// validates required settings and builds the fetcher. Decode failures are
// *config.MalformedError; missing settings are *config.RequiredError.
func NewFromConfig(e config.SourceEntry, deps Deps) (Fetcher, error) {
	kind, ok := ParseKind(e.Key)
	if !ok {
		return nil, fmt.Errorf("unknown source: %s", e.Key)
	}
	switch kind {
	case KindUSA:
		var c config.SAMGovConfig
		if err := decodeValid(e, &c, deps.Settings); err != nil {
			return nil, err
		}
		return NewSAMGov(c, deps), nil
	case KindCanada:
		var c config.CKANConfig
		if err := decodeValid(e, &c, deps.Settings); err != nil {
			return nil, err
		}
		return NewCanadaOpenData(c, deps), nil
	case KindAustralia:
		var c config.CKANConfig
		if err := decodeValid(e, &c, deps.Settings); err != nil {
			return nil, err
		}
		return NewAusTender(c, deps), nil
	case KindCanadaTenders, KindCanadaAwards:
		var c config.CSVDownloadConfig
		if err := decodeValid(e, &c, deps.Settings); err != nil {
			return nil, err
		}
		if kind == KindCanadaTenders {
			return built(NewCanadaTenders(c, deps))
		}
		return built(NewCanadaAwards(c, deps))
	case KindJapan:
		var c config.ZipCSVConfig
		if err := decodeValid(e, &c, deps.Settings); err != nil {
			return nil, err
		}
		return built(NewJapanGEPS(c, deps))
	case KindTaiwan, KindTaiwanTenders, KindTaiwanAwards:
		var c config.XMLConfig
		if err := decodeValid(e, &c, deps.Settings); err != nil {
			return nil, err
		}
		switch kind {
		case KindTaiwan:
			return built(NewTaiwanPCC(c, deps))
		case KindTaiwanTenders:
			return built(NewTaiwanTenders(c, deps))
		default:
			return built(NewTaiwanAwards(c, deps))
		}
	default:
		return nil, fmt.Errorf("unknown source: %s", e.Key)
	}
}

// built keeps a failed constructor from returning a typed nil Fetcher.
func built[F Fetcher](f F, err error) (Fetcher, error) {
	if err != nil {
		return nil, err
	}
	return f, nil
}

type validator interface {
	Validate(key string, s config.Settings) error
}

func decodeValid(e config.SourceEntry, v validator, s config.Settings) error {
	if err := e.Decode(v); err != nil {
		return err
	}
	return v.Validate(e.Key, s)
}

// ParseError is an undecodable upstream document.
type ParseError struct {
	Source string
	URL    string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse %s: %v", e.Source, e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
