package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"github.com/spf13/cast"

	"github.com/sells-group/underwriter/internal/analysis"
	"github.com/sells-group/underwriter/internal/fetcher"
	"github.com/sells-group/underwriter/internal/model"
	"github.com/sells-group/underwriter/internal/params"
	"github.com/sells-group/underwriter/internal/recalc"
	"github.com/sells-group/underwriter/internal/report"
	"github.com/sells-group/underwriter/internal/risk"
	"github.com/sells-group/underwriter/internal/store"
	"github.com/sells-group/underwriter/internal/valuation"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// dealRequest is the common body of the per-deal analysis endpoints.
type dealRequest struct {
	Input     valuation.Input `json:"input"`
	Overrides params.Inputs   `json:"overrides,omitempty"`
}

func (d dealRequest) request(r *http.Request) recalc.Request {
	return recalc.Request{DealID: chi.URLParam(r, "id"), Input: d.Input, Inputs: d.Overrides}
}

type sensitivityRequest struct {
	dealRequest
	Sweep recalc.Sweep `json:"sweep"`
}

type tornadoRequest struct {
	dealRequest
	Params []recalc.TornadoInput `json:"params"`
}

type scenariosRequest struct {
	dealRequest
	Scenarios []recalc.Scenario `json:"scenarios"`
}

type monteCarloRequest struct {
	dealRequest
	Simulation recalc.Simulation `json:"simulation"`
}

type exportRequest struct {
	dealRequest
	Title string         `json:"title,omitempty"`
	Risk  *risk.EvalData `json:"risk,omitempty"`
}

type overrideRequest struct {
	Value  any    `json:"value"`
	By     string `json:"by"`
	Reason string `json:"reason,omitempty"`
}

type analysisResponse struct {
	Result   *analysis.Result    `json:"result"`
	Progress []analysis.Progress `json:"progress"`
}

type importResponse struct {
	Imported int64                    `json:"imported"`
	Skipped  []fetcher.RowError       `json:"skipped,omitempty"`
	Mapping  map[fetcher.Field]string `json:"mapping,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	var body dealRequest
	if err := decode(w, r, &body); err != nil {
		fail(w, r, err)
		return
	}
	entry, err := s.recalc.Recalculate(r.Context(), body.request(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleSensitivity(w http.ResponseWriter, r *http.Request) {
	var body sensitivityRequest
	if err := decode(w, r, &body); err != nil {
		fail(w, r, err)
		return
	}
	res, err := s.recalc.Sensitivity(r.Context(), body.request(r), body.Sweep)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTornado(w http.ResponseWriter, r *http.Request) {
	var body tornadoRequest
	if err := decode(w, r, &body); err != nil {
		fail(w, r, err)
		return
	}
	res, err := s.recalc.Tornado(r.Context(), body.request(r), body.Params)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	var body scenariosRequest
	if err := decode(w, r, &body); err != nil {
		fail(w, r, err)
		return
	}
	res, err := s.recalc.CompareScenarios(r.Context(), body.request(r), body.Scenarios)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMonteCarlo(w http.ResponseWriter, r *http.Request) {
	var body monteCarloRequest
	if err := decode(w, r, &body); err != nil {
		fail(w, r, err)
		return
	}
	res, err := s.recalc.MonteCarlo(r.Context(), body.request(r), body.Simulation)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleExport values the deal, assesses risk when risk data is supplied,
// and streams the workbook.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var body exportRequest
	if err := decode(w, r, &body); err != nil {
		fail(w, r, err)
		return
	}
	entry, err := s.recalc.Recalculate(r.Context(), body.request(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	exp := report.Export{Title: body.Title, Valuation: entry.Valuation, Parameters: entry.Parameters}
	if exp.Title == "" {
		exp.Title = body.Input.Facility.Name
	}
	if body.Risk != nil {
		exp.Risk = s.risk.Assess(*body.Risk)
	}

	f, err := report.Workbook(exp)
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+chi.URLParam(r, "id")+`.xlsx"`)
	if err := f.Write(w); err != nil {
		fail(w, r, eris.Wrap(err, "api: write workbook"))
	}
}

func (s *Server) handleParameters(w http.ResponseWriter, r *http.Request) {
	res, err := s.resolver.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	history := cast.ToBool(r.URL.Query().Get("history"))
	out, err := s.resolver.Overrides(r.Context(), chi.URLParam(r, "id"), history)
	if err != nil {
		fail(w, r, err)
		return
	}
	if out == nil {
		out = []model.ParameterOverride{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	var body overrideRequest
	if err := decode(w, r, &body); err != nil {
		fail(w, r, err)
		return
	}
	if body.By == "" {
		body.By = "api"
	}
	saved, err := s.resolver.SaveOverride(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "param"), body.Value, body.By, body.Reason)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleRemoveOverride(w http.ResponseWriter, r *http.Request) {
	by := r.URL.Query().Get("by")
	if by == "" {
		by = "api"
	}
	if err := s.resolver.RemoveOverride(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "param"), by); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAssess(w http.ResponseWriter, r *http.Request) {
	var body risk.EvalData
	if err := decode(w, r, &body); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.risk.Assess(body))
}

// handleAnalysis runs an analysis to completion and returns the result with
// every progress event it emitted.
func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	var body analysis.Request
	if err := decode(w, r, &body); err != nil {
		fail(w, r, err)
		return
	}
	var events []analysis.Progress
	res, err := s.analyses.Run(r.Context(), body, func(p analysis.Progress) {
		events = append(events, p)
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysisResponse{Result: res, Progress: events})
}

// handleImportComparables accepts a raw CSV, XLSX or JSON upload. The
// format comes from the filename query parameter or the content type.
func (s *Server) handleImportComparables(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("filename")
	if name == "" {
		name = "upload" + extensionFor(r.Header.Get("Content-Type"))
	}
	opts := fetcher.CompOptions{
		DefaultAssetType: model.AssetType(strings.ToUpper(q.Get("asset_type"))),
		Source:           q.Get("source"),
		Sheet:            q.Get("sheet"),
	}
	if opts.DefaultAssetType != "" && !opts.DefaultAssetType.Valid() {
		writeError(w, http.StatusBadRequest, "unknown asset_type "+q.Get("asset_type"))
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		fail(w, r, eris.Wrapf(errBadBody, "%v", err))
		return
	}
	res, err := fetcher.ReadComparablesBytes(r.Context(), name, data, opts)
	if err != nil {
		fail(w, r, err)
		return
	}
	n, err := s.comps.UpsertComparables(r.Context(), res.Comparables)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, importResponse{Imported: n, Skipped: res.Skipped, Mapping: res.Mapping})
}

func extensionFor(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "spreadsheetml"), strings.Contains(ct, "excel"):
		return ".xlsx"
	case strings.Contains(ct, "json"):
		return ".json"
	case strings.Contains(ct, "zip"):
		return ".zip"
	default:
		return ".csv"
	}
}

func (s *Server) handleListComparables(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.CompFilter{
		AssetType: model.AssetType(strings.ToUpper(q.Get("asset_type"))),
		State:     strings.ToUpper(q.Get("state")),
		Limit:     cast.ToInt(q.Get("limit")),
	}
	out, err := s.comps.ListComparables(r.Context(), filter)
	if err != nil {
		fail(w, r, err)
		return
	}
	if out == nil {
		out = []model.ComparableSale{}
	}
	writeJSON(w, http.StatusOK, out)
}
