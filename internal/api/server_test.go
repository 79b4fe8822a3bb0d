package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/underwriter/internal/analysis"
	"github.com/sells-group/underwriter/internal/config"
	"github.com/sells-group/underwriter/internal/financials"
	"github.com/sells-group/underwriter/internal/model"
	"github.com/sells-group/underwriter/internal/params"
	"github.com/sells-group/underwriter/internal/recalc"
	"github.com/sells-group/underwriter/internal/risk"
	"github.com/sells-group/underwriter/internal/settings"
	"github.com/sells-group/underwriter/internal/store"
	"github.com/sells-group/underwriter/internal/valuation"
)

func ppbOnly() settings.Settings {
	s := settings.Defaults()
	s.Methods = settings.Methods{PricePerBed: settings.MethodSettings{Enabled: true, Weight: 1}}
	return s
}

var oakManor = model.FacilityProfile{
	Name:      "Oak Manor",
	AssetType: model.AssetSNF,
	Address:   model.Address{State: "CA"},
	Beds:      model.BedCounts{Operational: 100},
}

type testServer struct {
	srv *httptest.Server
	st  *store.MemoryStore
}

func newTestServer(t *testing.T, cfg config.ServerConfig) *testServer {
	t.Helper()
	st := store.NewMemory()
	reg := prometheus.NewRegistry()
	resolver := params.NewResolver(st, st, ppbOnly())
	re := recalc.NewEngine(resolver, nil, recalc.DefaultConfig(), recalc.NewMetrics(reg))
	rk := risk.NewEngine(risk.DefaultConfig(), nil, nil)
	orch := analysis.New(rk, re, analysis.WithComparables(st, 10))

	s := New(cfg, re, resolver, rk,
		WithAnalysis(orch),
		WithComparables(st),
		WithGatherer(reg),
	)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, st: st}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func dealBody() map[string]any {
	return map[string]any{"input": valuation.Input{Facility: oakManor}}
}

func reconciled(t *testing.T, ts *testServer, deal string) float64 {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/v1/deals/"+deal+"/recalculate", dealBody())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entry := decodeBody[recalc.Entry](t, resp)
	return entry.Valuation.Result.ReconciledValue
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	resp := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"status": "ok"}, decodeBody[map[string]string](t, resp))
}

func TestRecalculate(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	assert.InDelta(t, 8_500_000, reconciled(t, ts, "deal-1"), 1e-6)

	resp := ts.do(t, http.MethodPost, "/v1/deals/deal-1/recalculate", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeBody[errorBody](t, resp).Error, "invalid request body")
}

func TestOverrideLifecycle(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	assert.InDelta(t, 8_500_000, reconciled(t, ts, "deal-1"), 1e-6)

	resp := ts.do(t, http.MethodPut, "/v1/deals/deal-1/overrides/price_per_bed.base.snf",
		overrideRequest{Value: 90_000, By: "alice", Reason: "broker guidance"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	saved := decodeBody[model.ParameterOverride](t, resp)
	assert.Equal(t, "alice", saved.UpdatedBy)

	assert.InDelta(t, 9_000_000, reconciled(t, ts, "deal-1"), 1e-6)

	resp = ts.do(t, http.MethodGet, "/v1/deals/deal-1/overrides", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]model.ParameterOverride](t, resp), 1)

	resp = ts.do(t, http.MethodGet, "/v1/deals/deal-1/parameters", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resolved := decodeBody[params.Resolved](t, resp)
	assert.Equal(t, "alice", resolved.Sources["price_per_bed.base.snf"].OverriddenBy)

	resp = ts.do(t, http.MethodDelete, "/v1/deals/deal-1/overrides/price_per_bed.base.snf?by=alice", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.InDelta(t, 8_500_000, reconciled(t, ts, "deal-1"), 1e-6)

	resp = ts.do(t, http.MethodDelete, "/v1/deals/deal-1/overrides/price_per_bed.base.snf", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/deals/deal-1/overrides?history=true", nil)
	assert.Len(t, decodeBody[[]model.ParameterOverride](t, resp), 1)
}

func TestSetOverride_Invalid(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	resp := ts.do(t, http.MethodPut, "/v1/deals/deal-1/overrides/no_such.param", overrideRequest{Value: 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodPut, "/v1/deals/deal-1/overrides/price_per_bed.base.snf", overrideRequest{Value: "lots"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodPut, "/v1/deals/deal-1/overrides/dcf.discount_rate.snf", overrideRequest{Value: -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeBody[errorBody](t, resp).Error, "outside")

	resp = ts.do(t, http.MethodPut, "/v1/deals/deal-1/overrides/dcf.hold_years", overrideRequest{Value: -5})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.InDelta(t, 8_500_000, reconciled(t, ts, "deal-1"), 1e-6)
}

func TestMonteCarlo_Limits(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	v := recalc.Variable{Param: "price_per_bed.base.snf", Distribution: recalc.Distribution{Kind: recalc.DistUniform, Min: 80_000, Max: 90_000}}

	body := dealBody()
	body["simulation"] = recalc.Simulation{Variables: []recalc.Variable{v}, Iterations: 50, Seed: 7}
	resp := ts.do(t, http.MethodPost, "/v1/deals/deal-1/montecarlo", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 50, decodeBody[recalc.MonteCarloResult](t, resp).Iterations)

	body["simulation"] = recalc.Simulation{Variables: []recalc.Variable{v}, Iterations: 1_000_000_000}
	resp = ts.do(t, http.MethodPost, "/v1/deals/deal-1/montecarlo", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeBody[errorBody](t, resp).Error, "at most")
}

func TestSensitivityAndTornado(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})

	body := dealBody()
	body["sweep"] = recalc.Sweep{Param: "price_per_bed.base.snf", Values: []float64{80_000, 90_000}}
	resp := ts.do(t, http.MethodPost, "/v1/deals/deal-1/sensitivity", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sens := decodeBody[recalc.SensitivityResult](t, resp)
	require.Len(t, sens.Points, 2)
	assert.InDelta(t, 8_000_000, sens.Points[0].Value, 1e-6)
	assert.InDelta(t, 9_000_000, sens.Points[1].Value, 1e-6)

	body = dealBody()
	body["params"] = []recalc.TornadoInput{{Param: "price_per_bed.base.snf"}}
	resp = ts.do(t, http.MethodPost, "/v1/deals/deal-1/tornado", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tor := decodeBody[recalc.TornadoResult](t, resp)
	require.Len(t, tor.Bars, 1)
	assert.InDelta(t, 1_700_000, tor.Bars[0].Swing, 1e-3)

	body = dealBody()
	body["sweep"] = recalc.Sweep{Param: "nope.nope"}
	resp = ts.do(t, http.MethodPost, "/v1/deals/deal-1/sensitivity", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScenarios(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	body := dealBody()
	body["scenarios"] = []recalc.Scenario{{Name: "upside", Overrides: params.Inputs{"price_per_bed.base.snf": 95_000}}}
	resp := ts.do(t, http.MethodPost, "/v1/deals/deal-1/scenarios", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cmp := decodeBody[recalc.ScenarioComparison](t, resp)
	assert.InDelta(t, 8_500_000, cmp.BaselineValue, 1e-6)
	require.Len(t, cmp.Scenarios, 1)
	assert.InDelta(t, 1_000_000, cmp.Scenarios[0].Diff, 1e-6)
}

func TestRiskAssess(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	resp := ts.do(t, http.MethodPost, "/v1/risk/assess", risk.EvalData{Facility: oakManor})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[risk.Output](t, resp)
	assert.NotEmpty(t, out.Summary.Recommendation)
	assert.NotEmpty(t, out.Assessment.Categories)
}

func TestExport(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	body := dealBody()
	body["risk"] = risk.EvalData{Facility: oakManor}
	resp := ts.do(t, http.MethodPost, "/v1/deals/deal-1/export", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "deal-1.xlsx")

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("PK")))
}

func TestAnalysis(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	stmt := financials.SimpleStatement(12_000_000, 9_500_000, 0)
	resp := ts.do(t, http.MethodPost, "/v1/analyses", analysis.Request{
		DealID:     "deal-1",
		Extraction: &analysis.Extraction{Facility: oakManor, Statement: &stmt},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[analysisResponse](t, resp)
	require.NotNil(t, out.Result)
	assert.InDelta(t, 8_500_000, out.Result.Synthesis.Value, 1e-6)
	require.NotEmpty(t, out.Progress)
	assert.Equal(t, analysis.StageComplete, out.Progress[len(out.Progress)-1].Stage)

	resp = ts.do(t, http.MethodPost, "/v1/analyses", analysis.Request{DealID: "deal-2"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestComparables(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	csv := "Name,Type,ST,Price,Beds\nPine,SNF,CA,8100000,90\nElm,ALF,CA,12600000,84\n"
	resp := ts.do(t, http.MethodPost, "/v1/comparables?filename=q1.csv", csv)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	imp := decodeBody[importResponse](t, resp)
	assert.Equal(t, int64(2), imp.Imported)

	resp = ts.do(t, http.MethodGet, "/v1/comparables?asset_type=snf", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	comps := decodeBody[[]model.ComparableSale](t, resp)
	require.Len(t, comps, 1)
	assert.Equal(t, "Pine", comps[0].Name)

	resp = ts.do(t, http.MethodPost, "/v1/comparables?filename=q1.pdf", "x")
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/v1/comparables?asset_type=hospital", csv)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{RateLimitRPS: 0.001, Burst: 1})
	resp := ts.do(t, http.MethodGet, "/v1/deals/deal-1/overrides", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/deals/deal-1/overrides", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))

	resp = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	reconciled(t, ts, "deal-1")

	resp := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "underwriter_recalc_cache_misses_total 1")
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{CORSOrigins: []string{"https://app.example.com"}})
	req, err := http.NewRequest(http.MethodOptions, ts.srv.URL+"/v1/risk/assess", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
