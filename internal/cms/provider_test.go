package cms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/underwriter/internal/fetcher"
	"github.com/sells-group/underwriter/internal/resilience"
)

const providerRow = `{"results":[{
	"cms_certification_number_ccn":"055001",
	"provider_name":"OAK MANOR CARE CENTER",
	"overall_rating":"4",
	"health_inspection_rating":"3",
	"staffing_rating":"4",
	"qm_rating":"5",
	"reported_total_nurse_staffing_hours_per_resident_per_day":"3.91",
	"reported_rn_staffing_hours_per_resident_per_day":"0.72",
	"total_nursing_staff_turnover":"Not Available",
	"rating_cycle_1_total_number_of_health_deficiencies":"7",
	"rating_cycle_1_number_of_fire_safety_deficiencies":"2",
	"special_focus_status":"SFF Candidate",
	"abuse_icon":"N",
	"number_of_fines":"1",
	"total_amount_of_fines_in_dollars":"$12,650.00"
}]}`

func newProviderFetcher(t *testing.T, h http.HandlerFunc) *ProviderFetcher {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: 5 * time.Second, Retry: resilience.Policy{MaxAttempts: 1}})
	return NewProviderFetcher(f, srv.URL+"/query/", "4pq5-n9py")
}

func TestProviderFetcher_MapsRow(t *testing.T) {
	p := newProviderFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query/4pq5-n9py/0", r.URL.Path)
		assert.Equal(t, "055001", r.URL.Query().Get("conditions[0][value]"))
		_, _ = w.Write([]byte(providerRow))
	})

	d, err := p.Fetch(context.Background(), "055001")
	require.NoError(t, err)
	assert.Equal(t, "OAK MANOR CARE CENTER", d.ProviderName)
	assert.Equal(t, 4, d.OverallRating)
	assert.Equal(t, 5, d.QualityMeasureRating)
	assert.InDelta(t, 3.91, d.TotalNurseHPPD, 1e-9)
	assert.Zero(t, d.NurseTurnoverPct)
	assert.Equal(t, 9, d.TotalDeficiencies)
	assert.False(t, d.IsSFF)
	assert.True(t, d.IsSFFCandidate)
	assert.False(t, d.AbuseIcon)
	assert.InDelta(t, 12_650, d.TotalFines, 1e-9)
}

func TestProviderFetcher_NotFound(t *testing.T) {
	p := newProviderFetcher(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	})
	_, err := p.Fetch(context.Background(), "999999")
	assert.ErrorIs(t, err, ErrProviderNotFound)
	assert.False(t, resilience.IsTransient(err))
}

func TestProviderFetcher_ServerErrorIsTransient(t *testing.T) {
	p := newProviderFetcher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := p.Fetch(context.Background(), "055001")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}
