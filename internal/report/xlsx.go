package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/underwriter/internal/params"
	"github.com/sells-group/underwriter/internal/recalc"
	"github.com/sells-group/underwriter/internal/risk"
	"github.com/sells-group/underwriter/internal/valuation"
)

// Sheet names, in workbook order.
const (
	SheetSummary        = "Summary"
	SheetMethods        = "Methods"
	SheetReconciliation = "Reconciliation"
	SheetRisk           = "Risk"
	SheetDealBreakers   = "Deal Breakers"
	SheetParameters     = "Parameters"
	SheetTornado        = "Tornado"
	SheetMonteCarlo     = "Monte Carlo"
)

const (
	moneyFormat = "$#,##0"
	rateFormat  = "0.00%"
)

// Export is the content of an underwriting workbook. Nil sections are
// omitted.
type Export struct {
	Title      string
	Valuation  *valuation.Output
	Risk       *risk.Output
	Parameters *params.Resolved
	Tornado    *recalc.TornadoResult
	MonteCarlo *recalc.MonteCarloResult
}

type sheetWriter struct {
	sheet *xlsx.Sheet
}

func (s sheetWriter) header(cols ...string) {
	row := s.sheet.AddRow()
	for _, c := range cols {
		cell := row.AddCell()
		cell.SetString(c)
		cell.GetStyle().Font.Bold = true
	}
}

func (s sheetWriter) row() *xlsx.Row { return s.sheet.AddRow() }

func text(r *xlsx.Row, v string)  { r.AddCell().SetString(v) }
func money(r *xlsx.Row, v float64) { r.AddCell().SetFloatWithFormat(v, moneyFormat) }
func rate(r *xlsx.Row, v float64)  { r.AddCell().SetFloatWithFormat(v, rateFormat) }
func num(r *xlsx.Row, v float64)   { r.AddCell().SetFloat(v) }

// Workbook builds the xlsx file for e.
func Workbook(e Export) (*xlsx.File, error) {
	f := xlsx.NewFile()
	add := func(name string) (sheetWriter, error) {
		sh, err := f.AddSheet(name)
		if err != nil {
			return sheetWriter{}, eris.Wrapf(err, "report: add sheet %s", name)
		}
		return sheetWriter{sheet: sh}, nil
	}

	sum, err := add(SheetSummary)
	if err != nil {
		return nil, err
	}
	writeSummary(sum, e)

	if e.Valuation != nil {
		sh, err := add(SheetMethods)
		if err != nil {
			return nil, err
		}
		writeMethods(sh, e.Valuation)

		sh, err = add(SheetReconciliation)
		if err != nil {
			return nil, err
		}
		writeReconciliation(sh, e.Valuation)
	}
	if e.Risk != nil {
		sh, err := add(SheetRisk)
		if err != nil {
			return nil, err
		}
		writeRisk(sh, e.Risk)

		sh, err = add(SheetDealBreakers)
		if err != nil {
			return nil, err
		}
		writeDealBreakers(sh, e.Risk)
	}
	if e.Parameters != nil {
		sh, err := add(SheetParameters)
		if err != nil {
			return nil, err
		}
		writeParameters(sh, e.Parameters)
	}
	if e.Tornado != nil {
		sh, err := add(SheetTornado)
		if err != nil {
			return nil, err
		}
		writeTornado(sh, e.Tornado)
	}
	if e.MonteCarlo != nil {
		sh, err := add(SheetMonteCarlo)
		if err != nil {
			return nil, err
		}
		writeMonteCarlo(sh, e.MonteCarlo)
	}
	return f, nil
}

// WriteWorkbook builds the workbook and writes it to w.
func WriteWorkbook(w io.Writer, e Export) error {
	f, err := Workbook(e)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "report: write workbook")
}

// SaveWorkbook builds the workbook and saves it at path.
func SaveWorkbook(path string, e Export) error {
	f, err := Workbook(e)
	if err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "report: save %s", path)
}

func writeSummary(s sheetWriter, e Export) {
	title := e.Title
	if title == "" {
		title = "Underwriting Summary"
	}
	r := s.row()
	text(r, title)
	r.Cells[0].GetStyle().Font.Bold = true
	s.row()

	if v := e.Valuation; v != nil {
		res := v.Result
		r = s.row()
		text(r, "Reconciled value")
		money(r, res.ReconciledValue)
		r = s.row()
		text(r, "Value low")
		money(r, res.ValueLow)
		r = s.row()
		text(r, "Value high")
		money(r, res.ValueHigh)
		r = s.row()
		text(r, "Value per bed")
		money(r, res.ValuePerBed)
		r = s.row()
		text(r, "Implied cap rate")
		rate(r, res.ImpliedCapRate)
		r = s.row()
		text(r, "Confidence")
		text(r, string(res.Confidence))
	}
	if rk := e.Risk; rk != nil {
		r = s.row()
		text(r, "Recommendation")
		text(r, string(rk.Summary.Recommendation))
		r = s.row()
		text(r, "Risk score")
		num(r, rk.Summary.OverallScore)
		r = s.row()
		text(r, "Risk rating")
		text(r, string(rk.Summary.OverallRating))
		r = s.row()
		text(r, "Deal breakers")
		num(r, float64(rk.Summary.DealBreakerCount))
	}
}

func writeMethods(s sheetWriter, v *valuation.Output) {
	s.header("Method", "Value", "Confidence", "Weight", "Weighted value", "Inputs")
	for _, m := range v.Result.Methods {
		r := s.row()
		text(r, string(m.Name))
		money(r, m.Value)
		text(r, string(m.Confidence))
		rate(r, m.Weight)
		money(r, m.WeightedValue)
		text(r, formatInputs(m.Inputs))
	}

	s.row()
	s.header("Method", "Adjustment", "Kind", "Impact")
	for _, m := range v.Result.Methods {
		for _, a := range m.Adjustments {
			r := s.row()
			text(r, string(m.Name))
			text(r, a.Description)
			text(r, string(a.Kind))
			money(r, a.Impact)
		}
	}
}

func formatInputs(in map[string]float64) string {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += "; "
		}
		out += k + "=" + strconv.FormatFloat(in[k], 'f', -1, 64)
	}
	return out
}

func writeReconciliation(s sheetWriter, v *valuation.Output) {
	rec := v.Reconciliation
	r := s.row()
	text(r, "Method")
	text(r, rec.Method)
	r = s.row()
	text(r, "Reconciled value")
	money(r, rec.ReconciledValue)
	r = s.row()
	text(r, "Std dev")
	money(r, rec.StdDev)
	s.row()

	s.header("Method", "Value", "Confidence", "Base weight", "Adjusted weight", "Z-score", "Trimmed")
	for _, e := range rec.Entries {
		r := s.row()
		text(r, string(e.Method))
		money(r, e.Value)
		text(r, string(e.Confidence))
		rate(r, e.BaseWeight)
		rate(r, e.AdjustedWeight)
		num(r, e.ZScore)
		r.AddCell().SetBool(e.Trimmed)
	}

	sens := v.Result.Sensitivity
	if len(sens.CapRate) == 0 {
		return
	}
	s.row()
	s.header("Cap rate", "Value")
	for _, p := range sens.CapRate {
		r := s.row()
		rate(r, p.Input)
		money(r, p.Value)
	}
}

func writeRisk(s sheetWriter, out *risk.Output) {
	s.header("Category", "Factor", "Score", "Weight", "Severity", "Data available", "Details")
	for _, c := range out.Assessment.Categories {
		r := s.row()
		text(r, string(c.Category))
		text(r, "")
		num(r, c.Score)
		rate(r, c.Weight)
		text(r, string(c.Rating))
		for _, f := range c.Factors {
			r := s.row()
			text(r, string(c.Category))
			text(r, f.Name)
			num(r, f.Score)
			rate(r, f.Weight)
			text(r, string(f.Severity))
			r.AddCell().SetBool(f.DataAvailable)
			text(r, f.Details)
		}
	}
}

func writeDealBreakers(s sheetWriter, out *risk.Output) {
	s.header("Rule", "Category", "Triggered", "Threshold", "Actual", "Reason", "Exception")
	for _, d := range out.DealBreakers.Results {
		r := s.row()
		text(r, d.Name)
		text(r, string(d.Category))
		r.AddCell().SetBool(d.Triggered)
		num(r, d.Threshold)
		if d.Actual != nil {
			num(r, *d.Actual)
		} else {
			text(r, "n/a")
		}
		text(r, d.Reason)
		text(r, d.Exception)
	}
}

func writeParameters(s sheetWriter, p *params.Resolved) {
	paths := make([]string, 0, len(p.Sources))
	for k := range p.Sources {
		paths = append(paths, k)
	}
	sort.Strings(paths)

	s.header("Parameter", "Value", "Source", "Default", "Overridden by")
	for _, k := range paths {
		src := p.Sources[k]
		r := s.row()
		text(r, k)
		text(r, fmt.Sprint(src.OverriddenValue))
		text(r, string(src.Source))
		text(r, fmt.Sprint(src.OriginalValue))
		text(r, src.OverriddenBy)
	}
	if p.Preset != "" {
		s.row()
		r := s.row()
		text(r, "Preset")
		text(r, p.Preset)
	}
}

func writeTornado(s sheetWriter, t *recalc.TornadoResult) {
	s.header("Parameter", "Low input", "High input", "Low value", "High value", "Swing")
	for _, b := range t.Bars {
		r := s.row()
		text(r, b.Param)
		num(r, b.LowInput)
		num(r, b.HighInput)
		money(r, b.LowValue)
		money(r, b.HighValue)
		money(r, b.Swing)
	}
}

func writeMonteCarlo(s sheetWriter, m *recalc.MonteCarloResult) {
	stats := []struct {
		label string
		v     float64
	}{
		{"Mean", m.Mean},
		{"Median", m.Median},
		{"Std dev", m.StdDev},
		{"Min", m.Min},
		{"Max", m.Max},
		{"P5", m.Percentiles.P5},
		{"P10", m.Percentiles.P10},
		{"P25", m.Percentiles.P25},
		{"P50", m.Percentiles.P50},
		{"P75", m.Percentiles.P75},
		{"P90", m.Percentiles.P90},
		{"P95", m.Percentiles.P95},
	}
	r := s.row()
	text(r, "Iterations")
	num(r, float64(m.Iterations))
	for _, st := range stats {
		r := s.row()
		text(r, st.label)
		money(r, st.v)
	}
	s.row()
	s.header("Bucket min", "Bucket max", "Count")
	for _, b := range m.Histogram {
		r := s.row()
		money(r, b.Min)
		money(r, b.Max)
		num(r, float64(b.Count))
	}
}
