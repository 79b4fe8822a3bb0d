package model

// RiskCategory groups risk factors.
type RiskCategory string

const (
	CategoryRegulatory    RiskCategory = "regulatory"
	CategoryOperational   RiskCategory = "operational"
	CategoryFinancial     RiskCategory = "financial"
	CategoryMarket        RiskCategory = "market"
	CategoryReputational  RiskCategory = "reputational"
	CategoryLegal         RiskCategory = "legal"
	CategoryEnvironmental RiskCategory = "environmental"
	CategoryTechnology    RiskCategory = "technology"
)

// RiskCategories lists every category in reporting order.
var RiskCategories = []RiskCategory{
	CategoryRegulatory,
	CategoryOperational,
	CategoryFinancial,
	CategoryMarket,
	CategoryReputational,
	CategoryLegal,
	CategoryEnvironmental,
	CategoryTechnology,
}

// RiskRating is the tiered label for a 0-100 risk score.
type RiskRating string

const (
	RatingCritical RiskRating = "critical"
	RatingHigh     RiskRating = "high"
	RatingElevated RiskRating = "elevated"
	RatingModerate RiskRating = "moderate"
	RatingLow      RiskRating = "low"
	RatingVeryLow  RiskRating = "very_low"
)

// Recommendation is the summary underwriting call.
type Recommendation string

const (
	RecommendPass        Recommendation = "pass"
	RecommendConditional Recommendation = "conditional"
	RecommendPursue      Recommendation = "pursue"
)

// RiskFactor is one evaluated factor. Score is 0-100 with 0 meaning no risk.
type RiskFactor struct {
	ID             string       `json:"id"`
	Category       RiskCategory `json:"category"`
	Name           string       `json:"name"`
	Score          float64      `json:"score"`
	Weight         float64      `json:"weight"`
	WeightedScore  float64      `json:"weighted_score"`
	Severity       RiskRating   `json:"severity"`
	Details        string       `json:"details"`
	DataSource     string       `json:"data_source"`
	DataAvailable  bool         `json:"data_available"`
	Recommendation string       `json:"recommendation,omitempty"`
}

// CategoryScore aggregates the factors of one category.
type CategoryScore struct {
	Category      RiskCategory `json:"category"`
	Score         float64      `json:"score"`
	Weight        float64      `json:"weight"`
	WeightedScore float64      `json:"weighted_score"`
	Rating        RiskRating   `json:"rating"`
	Factors       []RiskFactor `json:"factors"`
}

// DealBreakerResult is the outcome of one disqualification rule. Actual is nil
// when the rule's input data was unavailable. Exception is informational only.
type DealBreakerResult struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Category  RiskCategory `json:"category"`
	Triggered bool         `json:"triggered"`
	Threshold float64      `json:"threshold"`
	Actual    *float64     `json:"actual"`
	Reason    string       `json:"reason,omitempty"`
	Exception string       `json:"exception,omitempty"`
}

// Mitigant is a suggested remediation for a key risk.
type Mitigant struct {
	FactorID string       `json:"factor_id"`
	Category RiskCategory `json:"category"`
	Action   string       `json:"action"`
}

// RiskAssessment is the result of one risk assessment run.
type RiskAssessment struct {
	OverallScore     float64             `json:"overall_score"`
	OverallRating    RiskRating          `json:"overall_rating"`
	Categories       []CategoryScore     `json:"categories"`
	DealBreakers     []DealBreakerResult `json:"deal_breakers"`
	KeyRisks         []RiskFactor        `json:"key_risks"`
	Mitigants        []Mitigant          `json:"mitigants"`
	Recommendations  []string            `json:"recommendations"`
	DueDiligenceList []string            `json:"due_diligence_focus"`
}

// Category returns the score for the given category, if present.
func (a *RiskAssessment) Category(c RiskCategory) (CategoryScore, bool) {
	for _, cs := range a.Categories {
		if cs.Category == c {
			return cs, true
		}
	}
	return CategoryScore{}, false
}
