package model

import (
	"strings"
	"time"
)

// Country is the buyer jurisdiction of a notice.
type Country string

const (
	CountryUSA       Country = "USA"
	CountryCanada    Country = "Canada"
	CountryAustralia Country = "Australia"
	CountryJapan     Country = "Japan"
	CountryTaiwan    Country = "Taiwan"
)

// Valid reports whether c is one of the supported jurisdictions.
func (c Country) Valid() bool {
	switch c {
	case CountryUSA, CountryCanada, CountryAustralia, CountryJapan, CountryTaiwan:
		return true
	}
	return false
}

// TenderRecord is the normalized representation for all sources.
// Empty strings are persisted as NULL.
type TenderRecord struct {
	SourceName     string // e.g. "sam.gov"
	SourceRecordID string // stable id within the source

	Title        string
	Description  string
	Agency       string
	BuyerCountry Country

	AwardAmount *float64
	Currency    string
	AwardDate   *time.Time

	Supplier Supplier

	DataSourceURL string
	RawPayload    Payload
	Tags          []string

	// Set by the repository.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key returns the identity key used for de-dup within a run.
func (r TenderRecord) Key() string {
	return r.SourceName + "::" + r.SourceRecordID
}

// NormalizeTags drops empty entries and duplicates, keeping first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
