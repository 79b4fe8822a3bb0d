// Package risk scores underwriting risk factors, evaluates deal-breaker
// rules, and assembles a risk assessment with a summary recommendation.
package risk

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/underwriter/internal/config"
	"github.com/sells-group/underwriter/internal/model"
)

// DefaultConfig returns a config.RiskConfig with the standard weights and
// thresholds. Category weights sum to 1.
func DefaultConfig() config.RiskConfig {
	return config.RiskConfig{
		Weights: config.RiskWeights{
			Regulatory:    0.30,
			Financial:     0.25,
			Operational:   0.20,
			Market:        0.10,
			Reputational:  0.10,
			Legal:         0.01,
			Environmental: 0.01,
			Technology:    0.01,
		},
		Thresholds: config.RiskThresholds{
			Critical: 80,
			High:     60,
			Elevated: 40,
			Moderate: 20,
			Low:      10,
		},
		KeyRiskLimit:         5,
		KeyRiskMinScore:      40,
		PassThreshold:        60,
		ConditionalThreshold: 35,
	}
}

// CategoryWeight returns the configured weight for c.
func CategoryWeight(c config.RiskConfig, cat model.RiskCategory) float64 {
	w := c.Weights
	switch cat {
	case model.CategoryRegulatory:
		return w.Regulatory
	case model.CategoryFinancial:
		return w.Financial
	case model.CategoryOperational:
		return w.Operational
	case model.CategoryMarket:
		return w.Market
	case model.CategoryReputational:
		return w.Reputational
	case model.CategoryLegal:
		return w.Legal
	case model.CategoryEnvironmental:
		return w.Environmental
	case model.CategoryTechnology:
		return w.Technology
	}
	return 0
}

// Rate maps a 0-100 score onto the rating tiers in t.
func Rate(score float64, t config.RiskThresholds) model.RiskRating {
	switch {
	case score >= t.Critical:
		return model.RatingCritical
	case score >= t.High:
		return model.RatingHigh
	case score >= t.Elevated:
		return model.RatingElevated
	case score >= t.Moderate:
		return model.RatingModerate
	case score >= t.Low:
		return model.RatingLow
	default:
		return model.RatingVeryLow
	}
}

// weightSumTolerance admits the default weights, which total 0.98. The
// overall score divides by the evaluated weights, so the sum only needs to be
// close to 1.
const weightSumTolerance = 0.05

// ValidateConfig checks that a RiskConfig is internally consistent.
func ValidateConfig(c config.RiskConfig) error {
	var errs []string

	var sum float64
	for _, cat := range model.RiskCategories {
		w := CategoryWeight(c, cat)
		if w < 0 {
			errs = append(errs, fmt.Sprintf("weights.%s must be >= 0", cat))
		}
		sum += w
	}
	if sum <= 0 {
		errs = append(errs, "weight sum must be > 0")
	} else if math.Abs(sum-1) > weightSumTolerance {
		errs = append(errs, fmt.Sprintf("weights should sum to 1, got %.3f", sum))
	}

	t := c.Thresholds
	if !(t.Critical > t.High && t.High > t.Elevated && t.Elevated > t.Moderate && t.Moderate > t.Low && t.Low > 0) {
		errs = append(errs, "thresholds must be strictly descending from critical to low and > 0")
	}
	if t.Critical > 100 {
		errs = append(errs, "thresholds.critical must be <= 100")
	}

	if c.KeyRiskLimit < 1 {
		errs = append(errs, "key_risk_limit must be >= 1")
	}
	if c.KeyRiskMinScore < 0 || c.KeyRiskMinScore > 100 {
		errs = append(errs, "key_risk_min_score must be between 0 and 100")
	}
	if c.PassThreshold < c.ConditionalThreshold {
		errs = append(errs, "pass_threshold must be >= conditional_threshold")
	}

	if len(errs) > 0 {
		return eris.Errorf("risk: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
