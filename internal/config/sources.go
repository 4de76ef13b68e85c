package config

import "strings"

// Common holds the settings every source accepts.
type Common struct {
	Enabled       bool     `yaml:"enabled"`
	MaxRecords    int      `yaml:"max_records"`    // records yielded; variant default when 0
	ScanLimit     int      `yaml:"scan_limit"`     // raw rows scanned; 0 = unbounded (canada: max_records*10)
	PageSize      int      `yaml:"page_size"`      // paged APIs only, default 100
	Keywords      Keys     `yaml:"keywords"`       // case-insensitive substring, OR
	KeywordFields Keys     `yaml:"keyword_fields"` // haystack fields; variant default when empty
	Currency      string   `yaml:"currency"`       // literal used when the record carries none
	FieldMap      FieldMap `yaml:"field_map"`
}

// SAMGovConfig configures the SAM.gov opportunities search API.
type SAMGovConfig struct {
	Common            `yaml:",inline"`
	APIURL            string   `yaml:"api_url"`
	NoticeTypes       Keys     `yaml:"notice_types"`
	PostedWithinDays  int      `yaml:"posted_within_days"` // default 180
	MinAwardAmountUSD *float64 `yaml:"min_award_amount_usd"`
}

func (c SAMGovConfig) Validate(key string, s Settings) error {
	r := required{key: key}
	r.str("api_url", c.APIURL)
	r.str("SAM_GOV_API_KEY", s.SAMGovAPIKey)
	return r.err()
}

// CKANConfig configures a CKAN datastore_search endpoint.
type CKANConfig struct {
	Common       `yaml:",inline"`
	DatastoreURL string `yaml:"datastore_url"`
	ResourceID   string `yaml:"resource_id"`
	// SearchText is sent as the server-side q parameter where the portal
	// supports it (australia) and matched client-side otherwise (canada).
	SearchText        Keys   `yaml:"search_text"`
	OwnerOrgWhitelist Keys   `yaml:"owner_org_whitelist"`
	OwnerOrgField     string `yaml:"owner_org_field"` // default owner_org
	SortField         string `yaml:"sort_field"`
	SortOrder         string `yaml:"sort_order"` // default desc
}

func (c CKANConfig) Validate(key string, _ Settings) error {
	r := required{key: key}
	r.str("datastore_url", c.DatastoreURL)
	r.str("resource_id", c.ResourceID)
	return r.err()
}

// Sort renders the CKAN sort parameter, empty when no sort field is set.
func (c CKANConfig) Sort() string {
	if strings.TrimSpace(c.SortField) == "" {
		return ""
	}
	order := c.SortOrder
	if order == "" {
		order = "desc"
	}
	return strings.TrimSpace(c.SortField + " " + order)
}

// CSVDownloadConfig configures full-file CSV downloads.
type CSVDownloadConfig struct {
	Common       `yaml:",inline"`
	DownloadURLs []string    `yaml:"download_urls"`
	CSV          CSVSettings `yaml:"csv"`
}

func (c CSVDownloadConfig) Validate(key string, _ Settings) error {
	r := required{key: key}
	r.list("download_urls", c.DownloadURLs)
	return r.err()
}

type CSVSettings struct {
	Encoding  string `yaml:"encoding"`  // WHATWG label, default utf-8
	Delimiter string `yaml:"delimiter"` // single character, default ","
}

// ZipCSVConfig configures a ZIP archive wrapping one CSV file.
type ZipCSVConfig struct {
	Common      `yaml:",inline"`
	DownloadURL string      `yaml:"download_url"`
	FileType    string      `yaml:"file_type"` // only zip_csv
	CSV         CSVSettings `yaml:"csv"`
}

func (c ZipCSVConfig) Validate(key string, _ Settings) error {
	r := required{key: key}
	r.str("download_url", c.DownloadURL)
	return r.err()
}

// XMLConfig configures XML disclosure feeds.
type XMLConfig struct {
	Common       `yaml:",inline"`
	DownloadURL  string      `yaml:"download_url"`
	DownloadURLs []string    `yaml:"download_urls"`
	XML          XMLSettings `yaml:"xml"`
}

type XMLSettings struct {
	RecordPath string `yaml:"record_path"` // ".//row" any depth, "a/b" under the root
}

// URLs returns download_url followed by download_urls, blanks removed.
func (c XMLConfig) URLs() []string {
	var out []string
	for _, u := range append([]string{c.DownloadURL}, c.DownloadURLs...) {
		if strings.TrimSpace(u) != "" {
			out = append(out, u)
		}
	}
	return out
}

func (c XMLConfig) Validate(key string, _ Settings) error {
	r := required{key: key}
	if len(c.URLs()) == 0 {
		r.missing = append(r.missing, "download_url or download_urls")
	}
	return r.err()
}
