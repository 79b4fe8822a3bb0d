package risk

import "github.com/sells-group/underwriter/internal/model"

var factorMitigants = map[string]string{
	"reg_overall_rating":         "Require a quality improvement plan with a survey consultant before closing",
	"reg_health_inspection":      "Commission a mock survey and fund corrective actions from escrow",
	"reg_deficiencies":           "Verify plans of correction and resurvey results for all cited tags",
	"reg_sff":                    "Price a turnaround with an operator experienced in SFF graduation",
	"reg_penalties":              "Escrow outstanding civil monetary penalties at closing",
	"op_occupancy":               "Underwrite a census ramp with marketing and referral investment",
	"op_staffing_hppd":           "Fund additional nursing positions in the operating budget",
	"op_agency":                  "Implement a sign-on and retention program to replace agency hours",
	"op_turnover":                "Adjust wages to market and add retention bonuses",
	"op_staffing_rating":         "Improve PBJ reporting accuracy and staffing levels",
	"fin_noi_margin":             "Identify expense reductions and revenue cycle improvements",
	"fin_ebitdar_margin":         "Restructure rent or management fees to restore margin",
	"fin_labor_cost":             "Rebalance the skill mix and reduce overtime",
	"fin_medicaid_concentration": "Grow Medicare and managed care referrals to diversify payer mix",
	"fin_skilled_mix":            "Develop hospital partnerships for post-acute referrals",
	"fin_coverage":               "Reduce leverage or negotiate rent to reach 1.25x coverage",
	"mkt_demand_growth":          "Reposition services toward growing demand segments",
	"mkt_supply_pressure":        "Differentiate with specialty programs ahead of new supply",
	"mkt_occupancy":              "Benchmark pricing and amenities against market leaders",
	"mkt_competition":            "Secure preferred-provider agreements with referral sources",
	"mkt_medicaid_rates":         "Model flat Medicaid rates in the base case",
	"rep_abuse":                  "Require a compliance audit and staff retraining before closing",
	"rep_complaints":             "Review grievance logs and family council minutes",
	"rep_rating_trend":           "Diagnose the rating decline and fund a remediation plan",
	"rep_quality_measures":       "Target the lowest-scoring quality measures with clinical programs",
	"ka_con_environment":         "Confirm CON status of planned bed changes with the state",
	"ka_medicaid_adequacy":       "Confirm provider tax and supplemental payment eligibility",
	"ka_staffing_mandate":        "Budget staffing to the state minimum plus a buffer",
	"ka_survey_intensity":        "Compare survey history with peer facilities in the same district",
	"ka_pdpm":                    "Review case-mix coding and therapy practices under PDPM",
}

var categoryMitigants = map[model.RiskCategory]string{
	model.CategoryRegulatory:    "Engage regulatory counsel to review survey and enforcement history",
	model.CategoryOperational:   "Engage an operations consultant to review staffing and census",
	model.CategoryFinancial:     "Commission a quality of earnings review",
	model.CategoryMarket:        "Commission an independent market study",
	model.CategoryReputational:  "Review online reputation and referral source feedback",
	model.CategoryLegal:         "Engage counsel to review pending litigation",
	model.CategoryEnvironmental: "Order a Phase I environmental assessment",
	model.CategoryTechnology:    "Assess EHR and infrastructure replacement needs",
}

// MitigantFor returns the canned remediation for a factor, falling back to
// the generic action for its category.
func MitigantFor(f model.RiskFactor) model.Mitigant {
	action, ok := factorMitigants[f.ID]
	if !ok {
		action = categoryMitigants[f.Category]
	}
	return model.Mitigant{FactorID: f.ID, Category: f.Category, Action: action}
}

// dueDiligenceFocus lists the diligence workstream for an elevated category.
var dueDiligenceFocus = map[model.RiskCategory]string{
	model.CategoryRegulatory:    "Three-cycle survey history, plans of correction, and enforcement actions",
	model.CategoryOperational:   "Payroll-based journal staffing, agency invoices, and census trends",
	model.CategoryFinancial:     "Trailing twelve-month financials, payer-level revenue, and cost reports",
	model.CategoryMarket:        "Primary market area demand, supply pipeline, and competitor occupancy",
	model.CategoryReputational:  "Complaint investigations, abuse citations, and online reviews",
	model.CategoryLegal:         "Litigation, licensure, and regulatory correspondence",
	model.CategoryEnvironmental: "Phase I environmental site assessment",
	model.CategoryTechnology:    "EHR contracts, cybersecurity, and infrastructure condition",
}
