package ingest_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galois26/procurement-ingester/internal/config"
	"github.com/galois26/procurement-ingester/internal/ingest"
	"github.com/galois26/procurement-ingester/internal/metrics"
	"github.com/galois26/procurement-ingester/internal/model"
	"github.com/galois26/procurement-ingester/internal/source"
	"github.com/galois26/procurement-ingester/internal/store"
	"github.com/galois26/procurement-ingester/internal/testutil"
	"github.com/galois26/procurement-ingester/internal/transport"
)

// Row 2 has no reference number and is dropped.
const awardsCSV = `referenceNumber-numeroReference,title-titre-eng,contractAmount-montantContrat,contractAwardDate-dateAttributionContrat,supplierLegalName-nomLegalFournisseur-eng
PW-1,Drone survey services,"1,500.00",2024-03-01,Northern UAV Inc.
,Drone repair,100,2024-03-02,Orphan Ltd
PW-3,Counter-drone system,200,2024/03/03,Québec Drones
`

func files(t *testing.T, body map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, ok := body[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(b))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func deps(settings config.Settings) source.Deps {
	m := metrics.New()
	return source.Deps{
		Transport: transport.New(nil, transport.Options{
			Timeout:  5 * time.Second,
			Clock:    testutil.NewFakeClock(time.Unix(0, 0)),
			Recorder: m,
		}),
		Settings: settings,
		Metrics:  m,
	}
}

func parse(t *testing.T, doc string) config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	return cfg
}

func openRepo(t *testing.T, opts ...store.Option) *store.Repository {
	t.Helper()
	r, err := store.Open(context.Background(), ":memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRun_EndToEndCSVIsIdempotent(t *testing.T) {
	ctx := context.Background()
	srv := files(t, map[string]string{"/awards.csv": awardsCSV})
	cfg := parse(t, `
sources:
  canada_awards:
    enabled: true
    download_urls: [`+srv.URL+`/awards.csv]
    field_map:
      supplier_name: supplierLegalName-nomLegalFournisseur-eng
`)

	t1 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	clock := t1
	repo := openRepo(t, store.WithNow(func() time.Time { return clock }))
	o := ingest.New(ingest.Options{Store: repo, Deps: deps(config.Settings{})})
	require.NoError(t, o.Plan(cfg, nil))

	rep := o.Run(ctx)
	require.Len(t, rep.Results, 1)
	res := rep.Results[0]
	assert.Equal(t, ingest.StatusOK, res.Status)
	assert.Equal(t, "canada-awards", res.SourceName)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 2, res.Persisted)
	assert.NotEmpty(t, rep.RunID)

	clock = t1.Add(24 * time.Hour)
	second := o.Run(ctx)
	assert.NotEqual(t, rep.RunID, second.RunID)
	assert.Equal(t, 2, second.Persisted())

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec, err := repo.Get(ctx, "canada-awards", "PW-3")
	require.NoError(t, err)
	assert.Equal(t, "Québec Drones", rec.Supplier.Name)
	assert.Equal(t, model.CountryCanada, rec.BuyerCountry)
	assert.True(t, t1.Equal(rec.CreatedAt))
	assert.True(t, clock.Equal(rec.UpdatedAt))
}

func TestRun_FailureIsolation(t *testing.T) {
	srv := files(t, map[string]string{"/ok.csv": awardsCSV})
	cfg := parse(t, `
sources:
  canada_tenders:
    enabled: true
    download_urls: [`+srv.URL+`/missing.csv]
  canada_awards:
    enabled: true
    download_urls: [`+srv.URL+`/ok.csv]
`)
	repo := openRepo(t)
	d := deps(config.Settings{})
	o := ingest.New(ingest.Options{Store: repo, Deps: d})
	require.NoError(t, o.Plan(cfg, nil))

	rep := o.Run(context.Background())
	require.Len(t, rep.Results, 2)

	failed := rep.Results[0]
	assert.Equal(t, ingest.StatusFailed, failed.Status)
	var statusErr *transport.StatusError
	require.ErrorAs(t, failed.Err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)

	assert.Equal(t, ingest.StatusOK, rep.Results[1].Status)
	assert.Equal(t, 2, rep.Results[1].Persisted)
	assert.Len(t, rep.Failed(), 1)
	assert.Contains(t, d.Metrics.Dump(), "tender_ingester_source_failures_total{source=canada-tenders} 1")
}

func TestPlan_SkipRules(t *testing.T) {
	cfg := parse(t, `
sources:
  usa:
    enabled: false
    api_url: http://x
  mexico:
    enabled: true
  japan:
    enabled: true
    download_url: http://x
    bogus_field: 1
  taiwan:
    enabled: true
    download_url: http://x
  australia:
    enabled: true
    datastore_url: http://x
    resource_id: r
`)
	o := ingest.New(ingest.Options{Store: openRepo(t), Deps: deps(config.Settings{})})
	require.NoError(t, o.Plan(cfg, []string{"usa", "mexico", "japan", "australia", "canada"}))

	// the selection excludes taiwan; australia fails fast on a closed context
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep := o.Run(ctx)

	got := map[string]ingest.Status{}
	for _, r := range rep.Results {
		got[r.Key] = r.Status
	}
	assert.Equal(t, map[string]ingest.Status{
		"usa":       ingest.StatusDisabled,
		"mexico":    ingest.StatusSkipped,
		"japan":     ingest.StatusDisabled,
		"taiwan":    ingest.StatusSkipped,
		"australia": ingest.StatusSkipped,
	}, got)

	var malformed *config.MalformedError
	assert.ErrorAs(t, rep.Results[2].Err, &malformed)
	assert.ErrorIs(t, rep.Results[4].Err, context.Canceled)
}

func TestPlan_MissingRequiredIsFatal(t *testing.T) {
	cfg := parse(t, `
sources:
  usa:
    enabled: true
    api_url: https://api.sam.gov/opportunities/v2/search
  taiwan_awards:
    enabled: true
`)
	o := ingest.New(ingest.Options{Store: openRepo(t), Deps: deps(config.Settings{})})

	err := o.Plan(cfg, nil)
	var required *config.RequiredError
	require.ErrorAs(t, err, &required)
	assert.Contains(t, err.Error(), "SAM_GOV_API_KEY")
	assert.Contains(t, err.Error(), "download_url")

	rep := o.Run(context.Background())
	assert.Empty(t, rep.Results)

	// not selected, so not required
	require.NoError(t, o.Plan(cfg, []string{"canada"}))
}

func TestRun_CountsDuplicates(t *testing.T) {
	body := "referenceNumber-numeroReference,title-titre-eng\nA,first\nB,other\nA,second\n"
	srv := files(t, map[string]string{"/d.csv": body})
	cfg := parse(t, "sources:\n  canada_awards:\n    enabled: true\n    download_urls: ["+srv.URL+"/d.csv]\n")
	repo := openRepo(t)
	o := ingest.New(ingest.Options{Store: repo, Deps: deps(config.Settings{})})
	require.NoError(t, o.Plan(cfg, nil))

	res := o.Run(context.Background()).Results[0]
	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, 3, res.Persisted)
	assert.Equal(t, 1, res.Duplicates)

	// last write wins
	rec, err := repo.Get(context.Background(), "canada-awards", "A")
	require.NoError(t, err)
	assert.Equal(t, "second", rec.Title)
}

func TestRun_RepeatedRunsDoNotLeakGoroutines(t *testing.T) {
	srv := files(t, map[string]string{"/ok.csv": awardsCSV})
	cfg := parse(t, "sources:\n  canada_awards:\n    enabled: true\n    download_urls: ["+srv.URL+"/ok.csv]\n")
	o := ingest.New(ingest.Options{Store: openRepo(t), Deps: deps(config.Settings{})})
	require.NoError(t, o.Plan(cfg, nil))

	// warm up keep-alive connections before counting
	require.Equal(t, ingest.StatusOK, o.Run(context.Background()).Results[0].Status)
	before := runtime.NumGoroutine()
	for i := 0; i < 50; i++ {
		o.Run(context.Background())
	}
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+5
	}, 2*time.Second, 20*time.Millisecond, "goroutines before=%d after=%d", before, runtime.NumGoroutine())
}

func TestRun_SourceTimeout(t *testing.T) {
	hang := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(hang.Close)
	srv := files(t, map[string]string{"/ok.csv": awardsCSV})

	cfg := parse(t, `
sources:
  japan:
    enabled: true
    download_url: `+hang.URL+`/slow.zip
  canada_awards:
    enabled: true
    download_urls: [`+srv.URL+`/ok.csv]
`)
	o := ingest.New(ingest.Options{Store: openRepo(t), Deps: deps(config.Settings{}), SourceTimeout: 100 * time.Millisecond})
	require.NoError(t, o.Plan(cfg, nil))

	rep := o.Run(context.Background())
	require.Len(t, rep.Results, 2)
	assert.Equal(t, ingest.StatusFailed, rep.Results[0].Status)
	assert.ErrorIs(t, rep.Results[0].Err, context.DeadlineExceeded)
	assert.Contains(t, rep.Results[0].Err.Error(), "source timeout")
	assert.Equal(t, ingest.StatusOK, rep.Results[1].Status)
}

type failingStore struct{ calls int }

func (s *failingStore) Upsert(context.Context, model.TenderRecord) error {
	s.calls++
	return errors.New("database is locked")
}

func TestRun_PersistenceErrorFailsSource(t *testing.T) {
	srv := files(t, map[string]string{"/ok.csv": awardsCSV})
	cfg := parse(t, "sources:\n  canada_awards:\n    enabled: true\n    download_urls: ["+srv.URL+"/ok.csv]\n")
	st := &failingStore{}
	o := ingest.New(ingest.Options{Store: st, Deps: deps(config.Settings{})})
	require.NoError(t, o.Plan(cfg, nil))

	res := o.Run(context.Background()).Results[0]
	assert.Equal(t, ingest.StatusFailed, res.Status)
	assert.True(t, strings.HasPrefix(res.Err.Error(), "persist:"))
	assert.Equal(t, 1, st.calls)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 0, res.Persisted)
}
