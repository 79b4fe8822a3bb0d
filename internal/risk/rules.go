package risk

import (
	"fmt"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/underwriter/internal/model"
)

// ErrDuplicateRule is returned when a rule ID is already registered.
var ErrDuplicateRule = eris.New("risk: duplicate rule id")

// Check evaluates one rule. actual is nil when the input was unavailable,
// in which case the rule must not trigger.
type Check func(d EvalData) (actual *float64, triggered bool, reason string)

// Rule is a binary disqualification rule. Exception describes when an
// underwriter might override the trigger and is informational only.
type Rule struct {
	ID        string
	Name      string
	Category  model.RiskCategory
	Threshold float64
	Exception string
	Check     Check
}

// Evaluate runs the rule against d.
func (r Rule) Evaluate(d EvalData) model.DealBreakerResult {
	actual, triggered, reason := r.Check(d)
	if actual == nil {
		triggered = false
	}
	res := model.DealBreakerResult{
		ID:        r.ID,
		Name:      r.Name,
		Category:  r.Category,
		Triggered: triggered,
		Threshold: r.Threshold,
		Actual:    actual,
		Exception: r.Exception,
	}
	if triggered {
		res.Reason = reason
	}
	return res
}

// DealBreakers is the outcome of evaluating a RuleSet.
type DealBreakers struct {
	Results      []model.DealBreakerResult `json:"results"`
	AnyTriggered bool                      `json:"any_triggered"`
	Triggered    []string                  `json:"triggered"`
}

// RuleSet is a caller-owned registry of deal-breaker rules, evaluated in
// registration order. It is safe for concurrent use.
type RuleSet struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewRuleSet builds a rule set. Duplicate IDs keep the first occurrence.
func NewRuleSet(rules ...Rule) *RuleSet {
	rs := &RuleSet{}
	for _, r := range rules {
		_ = rs.Add(r)
	}
	return rs
}

// DefaultRuleSet returns a new rule set holding DefaultRules.
func DefaultRuleSet() *RuleSet {
	return NewRuleSet(DefaultRules()...)
}

// Add registers r.
func (rs *RuleSet) Add(r Rule) error {
	if r.ID == "" || r.Check == nil {
		return eris.New("risk: rule requires an id and a check")
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, existing := range rs.rules {
		if existing.ID == r.ID {
			return eris.Wrapf(ErrDuplicateRule, "rule %q", r.ID)
		}
	}
	rs.rules = append(rs.rules, r)
	return nil
}

// Remove unregisters the rule with the given ID and reports whether it existed.
func (rs *RuleSet) Remove(id string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for i, r := range rs.rules {
		if r.ID == id {
			rs.rules = append(rs.rules[:i:i], rs.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Rules returns a snapshot of the registered rules.
func (rs *RuleSet) Rules() []Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return append([]Rule(nil), rs.rules...)
}

// Evaluate runs every registered rule against d.
func (rs *RuleSet) Evaluate(d EvalData) DealBreakers {
	rules := rs.Rules()
	out := DealBreakers{
		Results:   make([]model.DealBreakerResult, 0, len(rules)),
		Triggered: []string{},
	}
	for _, r := range rules {
		res := r.Evaluate(d)
		out.Results = append(out.Results, res)
		if res.Triggered {
			out.AnyTriggered = true
			out.Triggered = append(out.Triggered, res.ID)
		}
	}
	return out
}

func ptr(v float64) *float64 { return &v }

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// DefaultRules returns the standard deal-breaker rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID: "sff_status", Name: "Special Focus Facility", Category: model.CategoryRegulatory, Threshold: 1,
			Exception: "Buyer is an operator with a record of SFF graduations",
			Check: func(d EvalData) (*float64, bool, string) {
				if d.CMS == nil {
					return nil, false, ""
				}
				return ptr(boolValue(d.CMS.IsSFF)), d.CMS.IsSFF, "Facility is designated a Special Focus Facility"
			},
		},
		{
			ID: "one_star_rating", Name: "One-star overall rating", Category: model.CategoryRegulatory, Threshold: 1,
			Exception: "Rating reflects a single survey under prior ownership",
			Check: func(d EvalData) (*float64, bool, string) {
				if d.CMS == nil || d.CMS.OverallRating <= 0 {
					return nil, false, ""
				}
				return ptr(float64(d.CMS.OverallRating)), d.CMS.OverallRating == 1, "CMS overall rating is 1 star"
			},
		},
		{
			ID: "abuse_icon", Name: "Abuse citation", Category: model.CategoryReputational, Threshold: 1,
			Exception: "Citation predates a change of operator and has been cleared",
			Check: func(d EvalData) (*float64, bool, string) {
				if d.CMS == nil {
					return nil, false, ""
				}
				return ptr(boolValue(d.CMS.AbuseIcon)), d.CMS.AbuseIcon, "CMS abuse icon is displayed"
			},
		},
		{
			ID: "immediate_jeopardy", Name: "Suspected immediate jeopardy", Category: model.CategoryRegulatory, Threshold: 20,
			Exception: "Deficiencies are low scope and severity with verified correction",
			Check: func(d EvalData) (*float64, bool, string) {
				if d.CMS == nil {
					return nil, false, ""
				}
				n := d.CMS.TotalDeficiencies
				return ptr(float64(n)), n > 20, fmt.Sprintf("%d deficiencies exceeds 20", n)
			},
		},
		{
			ID: "low_occupancy", Name: "Occupancy below 60%", Category: model.CategoryOperational, Threshold: 60,
			Exception: "Occupancy is depressed by a documented renovation or bed-hold",
			Check: func(d EvalData) (*float64, bool, string) {
				occ, ok := d.occupancy()
				if !ok {
					return nil, false, ""
				}
				return ptr(occ), occ < 60, fmt.Sprintf("Occupancy %.1f%% is below 60%%", occ)
			},
		},
		{
			ID: "agency_staffing", Name: "Agency staffing above 40%", Category: model.CategoryOperational, Threshold: 40,
			Exception: "Regional labor shortage with a funded recruitment plan",
			Check: func(d EvalData) (*float64, bool, string) {
				a, ok := d.agencyPct()
				if !ok {
					return nil, false, ""
				}
				return ptr(a), a > 40, fmt.Sprintf("Agency staffing %.1f%% exceeds 40%%", a)
			},
		},
		{
			ID: "low_hppd", Name: "Nursing HPPD below 3.0", Category: model.CategoryOperational, Threshold: 3.0,
			Exception: "Facility serves a low-acuity population",
			Check: func(d EvalData) (*float64, bool, string) {
				h, ok := d.hppd()
				if !ok {
					return nil, false, ""
				}
				return ptr(h), h < 3.0, fmt.Sprintf("%.2f HPPD is below 3.0", h)
			},
		},
		{
			ID: "negative_noi", Name: "Negative NOI", Category: model.CategoryFinancial, Threshold: 0,
			Exception: "Turnaround thesis priced on stabilized NOI",
			Check: func(d EvalData) (*float64, bool, string) {
				if _, ok := d.metrics(); !ok {
					return nil, false, ""
				}
				noi := d.Financials.NOI()
				return ptr(noi), noi < 0, fmt.Sprintf("Annualized NOI is negative (%.0f)", noi)
			},
		},
		{
			ID: "ebitdar_margin", Name: "EBITDAR margin below 2%", Category: model.CategoryFinancial, Threshold: 2,
			Exception: "Margin reflects one-time expenses removed in normalization",
			Check: func(d EvalData) (*float64, bool, string) {
				m, ok := d.metrics()
				if !ok {
					return nil, false, ""
				}
				return ptr(m.EBITDARMargin), m.EBITDARMargin < 2, fmt.Sprintf("EBITDAR margin %.1f%% is below 2%%", m.EBITDARMargin)
			},
		},
		{
			ID: "medicaid_concentration", Name: "Medicaid concentration above 85%", Category: model.CategoryFinancial, Threshold: 85,
			Exception: "State Medicaid rates exceed cost with supplemental payments",
			Check: func(d EvalData) (*float64, bool, string) {
				mix, ok := d.payerMix()
				if !ok {
					return nil, false, ""
				}
				return ptr(mix.Medicaid), mix.Medicaid > 85, fmt.Sprintf("Medicaid %.1f%% of census exceeds 85%%", mix.Medicaid)
			},
		},
		{
			ID: "demand_decline", Name: "Demand declining faster than 2%", Category: model.CategoryMarket, Threshold: -2,
			Exception: "Facility draws from outside the primary market area",
			Check: func(d EvalData) (*float64, bool, string) {
				if d.Market == nil {
					return nil, false, ""
				}
				g := d.Market.DemandGrowthPct
				return ptr(g), g < -2, fmt.Sprintf("Demand growth %.1f%% is below -2%%", g)
			},
		},
		{
			ID: "market_occupancy", Name: "Market occupancy below 70%", Category: model.CategoryMarket, Threshold: 70,
			Exception: "Subject outperforms the market with a differentiated product",
			Check: func(d EvalData) (*float64, bool, string) {
				occ, ok := d.marketOccupancy()
				if !ok {
					return nil, false, ""
				}
				return ptr(occ), occ < 70, fmt.Sprintf("Market occupancy %.1f%% is below 70%%", occ)
			},
		},
		{
			ID: "con_restrictive", Name: "Restrictive certificate of need", Category: model.CategoryRegulatory, Threshold: 55,
			Exception: "Business plan requires no bed additions or relocation",
			Check: func(d EvalData) (*float64, bool, string) {
				if d.State == nil || !d.State.CONState {
					return nil, false, ""
				}
				s := d.State
				triggered := s.CONApprovalRate < 55 && s.CONTimelineMonths > 16
				return ptr(s.CONApprovalRate), triggered, fmt.Sprintf("CON approval rate %.0f%% with a %.0f month timeline",
					s.CONApprovalRate, s.CONTimelineMonths)
			},
		},
	}
}
