package analysis

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/underwriter/internal/model"
	"github.com/sells-group/underwriter/internal/risk"
	"github.com/sells-group/underwriter/internal/valuation"
)

var printer = message.NewPrinter(language.English)

// synthesize combines valuation and risk into one call. The risk summary
// decides the recommendation, except that a low-confidence value or no
// value at all caps a pursue at conditional.
func synthesize(v *valuation.Output, r *risk.Output) Synthesis {
	s := Synthesis{
		Recommendation: r.Summary.Recommendation,
		RiskScore:      r.Summary.OverallScore,
		RiskRating:     r.Summary.OverallRating,
		DealBreakers:   r.DealBreakers.Triggered,
	}
	if v != nil {
		s.Value = v.Result.ReconciledValue
		s.ValueLow = v.Result.ValueLow
		s.ValueHigh = v.Result.ValueHigh
		s.ValuePerBed = v.Result.ValuePerBed
		s.Confidence = v.Result.Confidence
	}

	if s.Recommendation == model.RecommendPursue && (s.Value <= 0 || s.Confidence == model.ConfidenceLow) {
		s.Recommendation = model.RecommendConditional
	}

	switch {
	case s.Value <= 0:
		s.Headline = printer.Sprintf("%s: no supportable value; risk %.1f (%s)",
			label(s.Recommendation), s.RiskScore, s.RiskRating)
	default:
		s.Headline = printer.Sprintf("%s at $%.0f ($%.0f to $%.0f, %s confidence); risk %.1f (%s)",
			label(s.Recommendation), s.Value, s.ValueLow, s.ValueHigh, s.Confidence, s.RiskScore, s.RiskRating)
	}
	if n := len(s.DealBreakers); n > 0 {
		s.Headline += printer.Sprintf("; %d deal-breaker(s)", n)
	}
	return s
}

func label(r model.Recommendation) string {
	switch r {
	case model.RecommendPursue:
		return "Pursue"
	case model.RecommendConditional:
		return "Conditional"
	case model.RecommendPass:
		return "Pass"
	}
	return string(r)
}
