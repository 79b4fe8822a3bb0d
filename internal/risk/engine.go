package risk

import (
	"sort"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/underwriter/internal/config"
	"github.com/sells-group/underwriter/internal/model"
)

// Summary is the headline outcome of an assessment.
type Summary struct {
	Recommendation   model.Recommendation `json:"recommendation"`
	OverallScore     float64              `json:"overall_score"`
	OverallRating    model.RiskRating     `json:"overall_rating"`
	DealBreakerCount int                  `json:"deal_breaker_count"`
	KeyRiskCount     int                  `json:"key_risk_count"`
}

// Output is the stable result shape of one assessment run.
type Output struct {
	Assessment   model.RiskAssessment `json:"assessment"`
	DealBreakers DealBreakers         `json:"deal_breakers"`
	Summary      Summary              `json:"summary"`
}

// Engine scores factors and evaluates deal-breakers. The factor list and
// config are fixed at construction; the rule set is shared with the caller
// and may change between assessments.
type Engine struct {
	cfg     config.RiskConfig
	factors []Factor
	rules   *RuleSet
	printer *message.Printer
}

// NewEngine builds an engine. Nil factors or rules select the defaults.
func NewEngine(cfg config.RiskConfig, factors []Factor, rules *RuleSet) *Engine {
	if factors == nil {
		factors = DefaultFactors()
	}
	if rules == nil {
		rules = DefaultRuleSet()
	}
	return &Engine{
		cfg:     cfg,
		factors: append([]Factor(nil), factors...),
		rules:   rules,
		printer: message.NewPrinter(language.English),
	}
}

// Rules returns the engine's rule set.
func (e *Engine) Rules() *RuleSet { return e.rules }

// Config returns the engine's configuration.
func (e *Engine) Config() config.RiskConfig { return e.cfg }

// Assess evaluates every factor and rule against d.
func (e *Engine) Assess(d EvalData) *Output {
	rate := func(s float64) model.RiskRating { return Rate(s, e.cfg.Thresholds) }

	byCategory := make(map[model.RiskCategory][]model.RiskFactor)
	var all []model.RiskFactor
	for _, f := range e.factors {
		rf := f.evaluate(d, rate)
		byCategory[rf.Category] = append(byCategory[rf.Category], rf)
		all = append(all, rf)
	}

	var (
		categories        []model.CategoryScore
		weighted, weights float64
	)
	for _, cat := range model.RiskCategories {
		fs := byCategory[cat]
		if len(fs) == 0 {
			continue
		}
		score := categoryScore(fs)
		w := CategoryWeight(e.cfg, cat)
		categories = append(categories, model.CategoryScore{
			Category:      cat,
			Score:         score,
			Weight:        w,
			WeightedScore: score * w,
			Rating:        rate(score),
			Factors:       fs,
		})
		weighted += score * w
		weights += w
	}

	var overall float64
	if weights > 0 {
		overall = weighted / weights
	}

	dealBreakers := e.rules.Evaluate(d)
	keyRisks := e.keyRisks(all)

	mitigants := make([]model.Mitigant, 0, len(keyRisks))
	for _, kr := range keyRisks {
		mitigants = append(mitigants, MitigantFor(kr))
	}

	assessment := model.RiskAssessment{
		OverallScore:     overall,
		OverallRating:    rate(overall),
		Categories:       categories,
		DealBreakers:     dealBreakers.Results,
		KeyRisks:         keyRisks,
		Mitigants:        mitigants,
		Recommendations:  e.recommendations(dealBreakers, categories, keyRisks),
		DueDiligenceList: dueDiligence(categories, keyRisks),
	}

	summary := Summary{
		Recommendation:   e.recommend(overall, dealBreakers.AnyTriggered),
		OverallScore:     overall,
		OverallRating:    assessment.OverallRating,
		DealBreakerCount: len(dealBreakers.Triggered),
		KeyRiskCount:     len(keyRisks),
	}

	zap.L().Debug("risk: assess",
		zap.String("facility", d.Facility.Name),
		zap.Float64("score", overall),
		zap.Int("deal_breakers", summary.DealBreakerCount),
		zap.String("recommendation", string(summary.Recommendation)),
	)

	return &Output{Assessment: assessment, DealBreakers: dealBreakers, Summary: summary}
}

// recommend maps the overall score onto pass/conditional/pursue. A
// triggered deal-breaker always yields pass.
func (e *Engine) recommend(score float64, dealBreaker bool) model.Recommendation {
	switch {
	case dealBreaker || score >= e.cfg.PassThreshold:
		return model.RecommendPass
	case score >= e.cfg.ConditionalThreshold:
		return model.RecommendConditional
	default:
		return model.RecommendPursue
	}
}

// categoryScore is the factor-weight average of the category's scores.
func categoryScore(fs []model.RiskFactor) float64 {
	var sum, w float64
	for _, f := range fs {
		sum += f.WeightedScore
		w += f.Weight
	}
	if w > 0 {
		return sum / w
	}
	var plain float64
	for _, f := range fs {
		plain += f.Score
	}
	return plain / float64(len(fs))
}

// keyRisks returns the top factors at or above the key-risk floor, highest
// score first with ties broken by ID.
func (e *Engine) keyRisks(all []model.RiskFactor) []model.RiskFactor {
	var out []model.RiskFactor
	for _, f := range all {
		if f.Score >= e.cfg.KeyRiskMinScore {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if e.cfg.KeyRiskLimit > 0 && len(out) > e.cfg.KeyRiskLimit {
		out = out[:e.cfg.KeyRiskLimit]
	}
	if out == nil {
		out = []model.RiskFactor{}
	}
	return out
}

func (e *Engine) recommendations(db DealBreakers, cats []model.CategoryScore, keyRisks []model.RiskFactor) []string {
	out := []string{}
	for _, r := range db.Results {
		if r.Triggered {
			out = append(out, e.printer.Sprintf("Deal-breaker: %s. %s", r.Name, r.Reason))
		}
	}
	for _, c := range cats {
		switch c.Rating {
		case model.RatingCritical, model.RatingHigh, model.RatingElevated:
			out = append(out, e.printer.Sprintf("%s risk is %s (score %.1f); prioritize in diligence",
				c.Category, c.Rating, c.Score))
		}
	}
	n := 0
	for _, kr := range keyRisks {
		if n == 3 {
			break
		}
		if kr.Recommendation == "" {
			continue
		}
		out = append(out, kr.Recommendation)
		n++
	}
	return out
}

// dueDiligence lists workstreams for elevated categories followed by
// verification items for each key risk, without duplicates.
func dueDiligence(cats []model.CategoryScore, keyRisks []model.RiskFactor) []string {
	seen := make(map[string]bool)
	out := []string{}
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, c := range cats {
		switch c.Rating {
		case model.RatingCritical, model.RatingHigh, model.RatingElevated:
			add(dueDiligenceFocus[c.Category])
		}
	}
	for _, kr := range keyRisks {
		if kr.DataAvailable {
			add("Verify " + kr.Name + ": " + kr.Details)
		} else {
			add("Obtain " + kr.DataSource + " data for " + kr.Name)
		}
	}
	return out
}
