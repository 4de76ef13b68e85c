package source_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galois26/procurement-ingester/internal/model"
)

// samItems builds n opportunities with ids from start.
func samItems(start, n int) []map[string]any {
	out := make([]map[string]any, 0, n)
	for i := start; i < start+n; i++ {
		out = append(out, map[string]any{
			"noticeId": fmt.Sprintf("N%03d", i),
			"title":    fmt.Sprintf("Drone %d", i),
		})
	}
	return out
}

func TestSAMGov_NormalizesNestedAward(t *testing.T) {
	page := `{"totalRecords": 2, "opportunitiesData": [
	  {"noticeId": "abc123", "title": "  Small UAS procurement ", "department": "DEPT OF DEFENSE",
	   "uiLink": "https://sam.gov/opp/abc123", "typeOfSetAsideDescription": "Total Small Business", "naicsCode": "336411",
	   "description": "https://api.sam.gov/desc/abc123",
	   "award": {"awardAmount": "1,250,000.00", "awardDate": "2024-03-01",
	             "awardee": {"name": "Acme Drones LLC", "ueiSAM": "UEI123", "cageCode": "7ABC1"}}},
	  {"solicitationNumber": "SOL-9", "title": "missing id"}
	]}`
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(page)) })

	f := build(t, "usa", "enabled: true\napi_url: "+srv.URL+"\nkeywords: [drone, uas]\nnotice_types: [a]\n", newDeps(t))
	got, err := collect(t, f)
	require.NoError(t, err)
	require.Len(t, got, 1)

	want := model.TenderRecord{
		SourceName:     "sam.gov",
		SourceRecordID: "abc123",
		Title:          "Small UAS procurement",
		Description:    "https://api.sam.gov/desc/abc123",
		Agency:         "DEPT OF DEFENSE",
		BuyerCountry:   model.CountryUSA,
		AwardAmount:    ptr(1250000),
		Currency:       "USD",
		AwardDate:      date(2024, 3, 1),
		Supplier:       model.Supplier{Name: "Acme Drones LLC", RegistryID: "UEI123", ClassificationCode: "7ABC1"},
		DataSourceURL:  "https://sam.gov/opp/abc123",
		Tags:           []string{"Total Small Business", "336411"},
	}
	if diff := cmp.Diff(want, got[0], cmpopts.IgnoreFields(model.TenderRecord{}, "RawPayload")); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, model.FormatJSON, got[0].RawPayload.Format)
	var raw map[string]any
	require.NoError(t, got[0].RawPayload.Decode(&raw))
	assert.Equal(t, "abc123", raw["noticeId"])

	q := srv.requests()[0].URL.Query()
	assert.Equal(t, "sam-key", q.Get("api_key"))
	assert.Equal(t, "drone,uas", q.Get("keywords"))
	assert.Equal(t, "a", q.Get("notice_type"))
	assert.Equal(t, "100", q.Get("limit"))
	assert.Equal(t, "0", q.Get("offset"))
	assert.Regexp(t, regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`), q.Get("postedFrom"))
	assert.Regexp(t, regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`), q.Get("postedTo"))
}

func TestSAMGov_PaginatesUntilShortPage(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		n := limit
		if offset >= 4 {
			n = 1
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": samItems(offset, n)})
	})

	f := build(t, "usa", "enabled: true\napi_url: "+srv.URL+"\npage_size: 2\n", newDeps(t))
	got, err := collect(t, f)
	require.NoError(t, err)
	assert.Len(t, got, 5)

	reqs := srv.requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "4", reqs[2].URL.Query().Get("offset"))
}

func TestSAMGov_MaxRecordsBoundsLimit(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(map[string]any{"opportunitiesData": samItems(offset, limit)})
	})

	f := build(t, "usa", "enabled: true\napi_url: "+srv.URL+"\npage_size: 4\nmax_records: 6\n", newDeps(t))
	got, err := collect(t, f)
	require.NoError(t, err)
	assert.Len(t, got, 6)

	reqs := srv.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "4", reqs[0].URL.Query().Get("limit"))
	assert.Equal(t, "2", reqs[1].URL.Query().Get("limit"))
}

func TestSAMGov_MinAwardAmount(t *testing.T) {
	page := `{"opportunitiesData": [
	  {"noticeId": "1", "title": "cheap", "award": {"awardAmount": "10"}},
	  {"noticeId": "2", "title": "big", "award": {"awardAmount": 5000}},
	  {"noticeId": "3", "title": "unknown amount"}
	]}`
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(page)) })

	f := build(t, "usa", "enabled: true\napi_url: "+srv.URL+"\nmin_award_amount_usd: 1000\n", newDeps(t))
	got, err := collect(t, f)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].SourceRecordID)
	assert.Equal(t, 5000.0, *got[0].AwardAmount)
	assert.Equal(t, "3", got[1].SourceRecordID)
	assert.Nil(t, got[1].AwardAmount)
}

func TestSAMGov_ErrorsEndSequence(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) { http.Error(w, "nope", http.StatusForbidden) })
	f := build(t, "usa", "enabled: true\napi_url: "+srv.URL+"\n", newDeps(t))

	var errs int
	for _, err := range f.Fetch(context.Background()) {
		if err != nil {
			errs++
		}
	}
	assert.Equal(t, 1, errs)

	bad := serve(t, func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"data": "oops"`)) })
	f = build(t, "usa", "enabled: true\napi_url: "+bad.URL+"\n", newDeps(t))
	_, err := collect(t, f)
	assert.ErrorContains(t, err, "parse")
}
