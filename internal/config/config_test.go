package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galois26/procurement-ingester/internal/config"
)

const sample = `
rate_limit_interval: 2s
http:
  user_agent: test-agent
sources:
  usa:
    enabled: true
    api_url: https://api.sam.gov/opportunities/v2/search
    keywords: [drone, uav]
    max_records: 50
  canada_awards:
    enabled: false
    download_urls: [https://example.org/awards.csv]
    field_map:
      notice_id: ref
      title: [title_en, title_fr]
  japan:
    enabled: true
    download_url: https://example.jp/geps.zip
    csv: {encoding: shift_jis}
`

func TestParse_DefaultsAndOrder(t *testing.T) {
	cfg, err := config.Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.RateLimitInterval)
	assert.Equal(t, 30*time.Minute, cfg.SourceTimeout)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "test-agent", cfg.HTTP.UserAgent)
	assert.Equal(t, 5, cfg.HTTP.MaxAttempts)
	assert.Equal(t, time.Second, cfg.HTTP.Backoff)

	var keys []string
	for _, e := range cfg.Sources {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"usa", "canada_awards", "japan"}, keys)
}

func TestParse_NoSources(t *testing.T) {
	_, err := config.Parse([]byte("rate_limit_interval: 1s\n"))
	assert.Error(t, err)
}

func TestParse_DuplicateSource(t *testing.T) {
	_, err := config.Parse([]byte("sources:\n  usa: {enabled: true}\n  usa: {enabled: false}\n"))
	assert.Error(t, err)
}

func TestSourceEntry_DecodeTyped(t *testing.T) {
	cfg, err := config.Parse([]byte(sample))
	require.NoError(t, err)

	e, ok := cfg.Sources.Lookup("canada_awards")
	require.True(t, ok)
	assert.False(t, e.Enabled())

	var c config.CSVDownloadConfig
	require.NoError(t, e.Decode(&c))
	assert.Equal(t, []string{"https://example.org/awards.csv"}, c.DownloadURLs)
	assert.Equal(t, config.Keys{"ref"}, c.FieldMap.NoticeID)
	assert.Equal(t, config.Keys{"title_en", "title_fr"}, c.FieldMap.Title)

	e, _ = cfg.Sources.Lookup("japan")
	var z config.ZipCSVConfig
	require.NoError(t, e.Decode(&z))
	assert.True(t, z.Enabled)
	assert.Equal(t, "shift_jis", z.CSV.Encoding)
}

func TestSourceEntry_UnknownFieldRejected(t *testing.T) {
	e, err := config.NewSourceEntry("usa", "enabled: true\napi_url: x\nfield_map: {notice_idd: id}\n")
	require.NoError(t, err)

	var c config.SAMGovConfig
	err = e.Decode(&c)
	var malformed *config.MalformedError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "usa", malformed.Key)
}

func TestSourceEntry_NotAMapping(t *testing.T) {
	e, err := config.NewSourceEntry("usa", "- a\n- b\n")
	require.NoError(t, err)
	assert.False(t, e.Enabled())

	var c config.SAMGovConfig
	var malformed *config.MalformedError
	assert.ErrorAs(t, e.Decode(&c), &malformed)
}

func TestValidate_RequiredSettings(t *testing.T) {
	tests := []struct {
		name string
		v    interface {
			Validate(string, config.Settings) error
		}
		s       config.Settings
		missing []string
	}{
		{"sam ok", config.SAMGovConfig{APIURL: "u"}, config.Settings{SAMGovAPIKey: "k"}, nil},
		{"sam no key", config.SAMGovConfig{APIURL: "u"}, config.Settings{}, []string{"SAM_GOV_API_KEY"}},
		{"ckan", config.CKANConfig{DatastoreURL: "u"}, config.Settings{}, []string{"resource_id"}},
		{"csv blanks", config.CSVDownloadConfig{DownloadURLs: []string{" "}}, config.Settings{}, []string{"download_urls"}},
		{"zip", config.ZipCSVConfig{}, config.Settings{}, []string{"download_url"}},
		{"xml list", config.XMLConfig{DownloadURLs: []string{"u"}}, config.Settings{}, nil},
		{"xml none", config.XMLConfig{}, config.Settings{}, []string{"download_url or download_urls"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.v.Validate("k", tt.s)
			if tt.missing == nil {
				assert.NoError(t, err)
				return
			}
			var req *config.RequiredError
			require.ErrorAs(t, err, &req)
			assert.Equal(t, tt.missing, req.Missing)
		})
	}
}

func TestCKANConfig_Sort(t *testing.T) {
	assert.Equal(t, "", config.CKANConfig{}.Sort())
	assert.Equal(t, "contract_date desc", config.CKANConfig{SortField: "contract_date"}.Sort())
	assert.Equal(t, "contract_date asc", config.CKANConfig{SortField: "contract_date", SortOrder: "asc"}.Sort())
}

func TestFieldMap_WithDefaults(t *testing.T) {
	def := config.FieldMap{NoticeID: config.Keys{"NoticeID"}, Title: config.Keys{"ItemName"}}
	got := config.FieldMap{Title: config.Keys{"Name"}}.WithDefaults(def)
	assert.Equal(t, config.Keys{"NoticeID"}, got.NoticeID)
	assert.Equal(t, config.Keys{"Name"}, got.Title)
	assert.Empty(t, got.Agency)
}

func TestLoadSettings(t *testing.T) {
	env := map[string]string{"SAM_GOV_API_KEY": "abc", "AUSTENDER_DATA_GOV_TOKEN": "tok"}
	s := config.LoadSettings(func(k string) string { return env[k] })
	assert.Equal(t, "abc", s.SAMGovAPIKey)
	assert.Equal(t, "tok", s.AusTenderToken)
	assert.Empty(t, s.CanadaToken)
	assert.Equal(t, config.DefaultDBPath, s.DBPath)
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("TENDER_TEST_A=file\nTENDER_TEST_B=file\n"), 0o600))
	t.Setenv("TENDER_TEST_A", "env")

	require.NoError(t, config.LoadDotEnv(path))
	assert.Equal(t, "env", os.Getenv("TENDER_TEST_A"))
	assert.Equal(t, "file", os.Getenv("TENDER_TEST_B"))
	os.Unsetenv("TENDER_TEST_B")

	assert.NoError(t, config.LoadDotEnv(filepath.Join(dir, "missing.env")))
}

func TestSettings_EnsureDBDir(t *testing.T) {
	dir := t.TempDir()
	s := config.Settings{DBPath: filepath.Join(dir, "nested", "db.sqlite")}
	require.NoError(t, s.EnsureDBDir())
	info, err := os.Stat(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
