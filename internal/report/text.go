package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/sells-group/underwriter/internal/analysis"
	"github.com/sells-group/underwriter/internal/params"
	"github.com/sells-group/underwriter/internal/recalc"
	"github.com/sells-group/underwriter/internal/risk"
	"github.com/sells-group/underwriter/internal/valuation"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// FormatValuation renders a valuation as a plain-text summary.
func FormatValuation(out *valuation.Output) string {
	var b strings.Builder
	r := out.Result

	fmt.Fprintf(&b, "# Valuation\n\n")
	fmt.Fprintf(&b, "Reconciled value: %s (%s confidence)\n", Currency(r.ReconciledValue), r.Confidence)
	fmt.Fprintf(&b, "Range: %s to %s\n", Currency(r.ValueLow), Currency(r.ValueHigh))
	if r.ValuePerBed > 0 {
		fmt.Fprintf(&b, "Value per bed: %s\n", Currency(r.ValuePerBed))
	}
	if r.ImpliedCapRate > 0 {
		fmt.Fprintf(&b, "Implied cap rate: %s\n", Rate(r.ImpliedCapRate))
	}

	fmt.Fprintf(&b, "\n## Methods\n\n")
	tw := newTable(&b)
	fmt.Fprintln(tw, "METHOD\tVALUE\tCONFIDENCE\tWEIGHT\tWEIGHTED")
	for _, m := range r.Methods {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			m.Name, Currency(m.Value), m.Confidence, Rate(m.Weight), Currency(m.WeightedValue))
	}
	_ = tw.Flush()

	rec := out.Reconciliation
	if len(rec.Entries) > 0 {
		fmt.Fprintf(&b, "\n## Reconciliation (%s)\n\n", rec.Method)
		tw = newTable(&b)
		fmt.Fprintln(tw, "METHOD\tVALUE\tBASE WT\tADJ WT\tZ\tTRIMMED")
		for _, e := range rec.Entries {
			trimmed := ""
			if e.Trimmed {
				trimmed = "yes"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\n",
				e.Method, Currency(e.Value), Rate(e.BaseWeight), Rate(e.AdjustedWeight), e.ZScore, trimmed)
		}
		_ = tw.Flush()
		if rec.TrimmedCount > 0 {
			fmt.Fprintf(&b, "\n%d outlier method(s) trimmed; std dev %s\n", rec.TrimmedCount, Currency(rec.StdDev))
		}
	}

	var adj []string
	for _, m := range r.Methods {
		for _, a := range m.Adjustments {
			adj = append(adj, fmt.Sprintf("- [%s] %s (%s)", m.Name, a.Description, Currency(a.Impact)))
		}
	}
	if len(adj) > 0 {
		fmt.Fprintf(&b, "\n## Adjustments\n\n%s\n", strings.Join(adj, "\n"))
	}
	return b.String()
}

// FormatRisk renders a risk assessment as a plain-text summary.
func FormatRisk(out *risk.Output) string {
	var b strings.Builder
	a := out.Assessment

	fmt.Fprintf(&b, "# Risk Assessment\n\n")
	fmt.Fprintf(&b, "Recommendation: %s\n", out.Summary.Recommendation)
	fmt.Fprintf(&b, "Overall score: %.1f (%s)\n", a.OverallScore, a.OverallRating)

	fmt.Fprintf(&b, "\n## Categories\n\n")
	tw := newTable(&b)
	fmt.Fprintln(tw, "CATEGORY\tSCORE\tWEIGHT\tRATING")
	for _, c := range a.Categories {
		fmt.Fprintf(tw, "%s\t%.1f\t%s\t%s\n", c.Category, c.Score, Rate(c.Weight), c.Rating)
	}
	_ = tw.Flush()

	if out.DealBreakers.AnyTriggered {
		fmt.Fprintf(&b, "\n## Deal Breakers\n\n")
		for _, d := range out.DealBreakers.Results {
			if !d.Triggered {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Reason)
			if d.Exception != "" {
				fmt.Fprintf(&b, "  exception: %s\n", d.Exception)
			}
		}
	}

	if len(a.KeyRisks) > 0 {
		fmt.Fprintf(&b, "\n## Key Risks\n\n")
		for _, k := range a.KeyRisks {
			fmt.Fprintf(&b, "- %s (%s, %.0f): %s\n", k.Name, k.Severity, k.Score, k.Details)
		}
	}
	if len(a.Mitigants) > 0 {
		fmt.Fprintf(&b, "\n## Mitigants\n\n")
		for _, m := range a.Mitigants {
			fmt.Fprintf(&b, "- %s\n", m.Action)
		}
	}
	if len(a.DueDiligenceList) > 0 {
		fmt.Fprintf(&b, "\n## Due Diligence Focus\n\n")
		for _, d := range a.DueDiligenceList {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}
	return b.String()
}

// FormatAnalysis renders a full analysis: the synthesis headline followed by
// the valuation and risk sections.
func FormatAnalysis(res *analysis.Result) string {
	var b strings.Builder
	name := res.DealID
	if res.Extraction != nil && res.Extraction.Facility.Name != "" {
		name = res.Extraction.Facility.Name
	}

	fmt.Fprintf(&b, "# Analysis: %s\n\n", name)
	fmt.Fprintf(&b, "%s\n", res.Synthesis.Headline)
	fmt.Fprintf(&b, "Analysis ID: %s\n", res.AnalysisID)
	fmt.Fprintf(&b, "Duration: %s\n", res.Duration)
	if res.CMS != nil {
		fmt.Fprintf(&b, "CMS: %s, overall %d stars (%s)\n", res.CMS.ProviderName, res.CMS.OverallRating, res.CMSSource)
	}
	if len(res.Warnings) > 0 {
		fmt.Fprintf(&b, "\n## Warnings\n\n")
		for _, w := range res.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	if res.Valuation != nil && res.Valuation.Valuation != nil {
		fmt.Fprintf(&b, "\n%s", demote(FormatValuation(res.Valuation.Valuation)))
	}
	if res.Risk != nil {
		fmt.Fprintf(&b, "\n%s", demote(FormatRisk(res.Risk)))
	}
	return b.String()
}

// demote pushes every markdown heading one level down.
func demote(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if strings.HasPrefix(l, "#") {
			lines[i] = "#" + l
		}
	}
	return strings.Join(lines, "\n")
}

// WriteParameters prints the non-default parameters of a resolution with
// their provenance, sorted by path.
func WriteParameters(w io.Writer, r *params.Resolved) error {
	paths := make([]string, 0, len(r.Sources))
	for p := range r.Sources {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	tw := newTable(w)
	fmt.Fprintln(tw, "PARAMETER\tVALUE\tSOURCE\tDEFAULT\tBY")
	for _, p := range paths {
		s := r.Sources[p]
		fmt.Fprintf(tw, "%s\t%v\t%s\t%v\t%s\n", p, s.OverriddenValue, s.Source, s.OriginalValue, s.OverriddenBy)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, rej := range r.Rejected {
		if _, err := fmt.Fprintf(w, "rejected %s=%v (%s): %s\n", rej.Path, rej.Value, rej.Source, rej.Reason); err != nil {
			return err
		}
	}
	return nil
}

// WriteSensitivity prints a one-parameter sweep.
func WriteSensitivity(w io.Writer, res *recalc.SensitivityResult) error {
	if _, err := fmt.Fprintf(w, "%s sweep around %s (base value %s, elasticity %.2f)\n\n",
		res.Param, Number(res.BaseParamValue, 4), Currency(res.BaseValue), res.Elasticity); err != nil {
		return err
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "INPUT\tINPUT CHG\tVALUE\tVALUE CHG")
	for _, p := range res.Points {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			Number(p.ParamValue, 4), SignedPercent(p.ParamChangePct), Currency(p.Value), SignedPercent(p.ValueChangePct))
	}
	return tw.Flush()
}

// WriteTornado prints tornado bars, largest swing first.
func WriteTornado(w io.Writer, res *recalc.TornadoResult) error {
	if _, err := fmt.Fprintf(w, "Base value %s\n\n", Currency(res.BaseValue)); err != nil {
		return err
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "PARAMETER\tLOW\tHIGH\tLOW VALUE\tHIGH VALUE\tSWING")
	for _, bar := range res.Bars {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", bar.Param,
			Number(bar.LowInput, 4), Number(bar.HighInput, 4),
			Currency(bar.LowValue), Currency(bar.HighValue), Currency(bar.Swing))
	}
	return tw.Flush()
}

// WriteScenarios prints each scenario against the baseline.
func WriteScenarios(w io.Writer, res *recalc.ScenarioComparison) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "SCENARIO\tVALUE\tDIFF\tDIFF %\tCONFIDENCE")
	fmt.Fprintf(tw, "baseline\t%s\t\t\t%s\n", Currency(res.BaselineValue), res.BaselineConfidence)
	for _, s := range res.Scenarios {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.Name, Currency(s.Value), Currency(s.Diff), SignedPercent(s.DiffPct), s.Confidence)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, s := range res.Scenarios {
		for _, rej := range s.Rejected {
			if _, err := fmt.Fprintf(w, "%s: rejected %s=%v: %s\n", s.Name, rej.Path, rej.Value, rej.Reason); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteMonteCarlo prints the simulation summary and a text histogram.
func WriteMonteCarlo(w io.Writer, res *recalc.MonteCarloResult) error {
	p := res.Percentiles
	tw := newTable(w)
	fmt.Fprintf(tw, "Iterations\t%d\n", res.Iterations)
	fmt.Fprintf(tw, "Seed\t%d\n", res.Seed)
	fmt.Fprintf(tw, "Base value\t%s\n", Currency(res.BaseValue))
	fmt.Fprintf(tw, "Mean\t%s\n", Currency(res.Mean))
	fmt.Fprintf(tw, "Median\t%s\n", Currency(res.Median))
	fmt.Fprintf(tw, "Std dev\t%s\n", Currency(res.StdDev))
	fmt.Fprintf(tw, "P5 / P95\t%s / %s\n", Currency(p.P5), Currency(p.P95))
	fmt.Fprintf(tw, "P10 / P90\t%s / %s\n", Currency(p.P10), Currency(p.P90))
	fmt.Fprintf(tw, "P25 / P75\t%s / %s\n", Currency(p.P25), Currency(p.P75))
	if err := tw.Flush(); err != nil {
		return err
	}
	if res.Note != "" {
		if _, err := fmt.Fprintf(w, "note: %s\n", res.Note); err != nil {
			return err
		}
	}
	if len(res.Histogram) == 0 {
		return nil
	}

	peak := 0
	for _, b := range res.Histogram {
		peak = max(peak, b.Count)
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	tw = newTable(w)
	for _, b := range res.Histogram {
		bar := 0
		if peak > 0 {
			bar = b.Count * histogramWidth / peak
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", Currency(b.Min), b.Count, strings.Repeat("#", bar))
	}
	return tw.Flush()
}

const histogramWidth = 40
