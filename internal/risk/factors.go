package risk

import (
	"fmt"

	"github.com/sells-group/underwriter/internal/financials"
	"github.com/sells-group/underwriter/internal/model"
)

// NeutralScore is returned by a factor whose input data is unavailable.
const NeutralScore = 50

// Evaluation is the raw output of one factor.
type Evaluation struct {
	Score          float64
	Details        string
	Recommendation string
	Available      bool
}

func neutral(what string) Evaluation {
	return Evaluation{Score: NeutralScore, Details: what + " not available"}
}

func scored(score float64, details, rec string) Evaluation {
	return Evaluation{Score: score, Details: details, Recommendation: rec, Available: true}
}

// Factor is one risk factor definition. Weight is relative to the other
// factors in the same category.
type Factor struct {
	ID         string
	Category   model.RiskCategory
	Name       string
	Weight     float64
	DataSource string
	Evaluate   func(EvalData) Evaluation
}

// step is one band of a piecewise-constant score table.
type step struct {
	bound float64
	score float64
}

// atLeast returns the score of the first step whose bound x reaches, else
// floor. Steps are ordered by descending bound.
func atLeast(x, floor float64, steps ...step) float64 {
	for _, s := range steps {
		if x >= s.bound {
			return s.score
		}
	}
	return floor
}

// atMost returns the score of the first step whose bound x does not exceed,
// else ceil. Steps are ordered by ascending bound.
func atMost(x, ceil float64, steps ...step) float64 {
	for _, s := range steps {
		if x <= s.bound {
			return s.score
		}
	}
	return ceil
}

// starScore maps a 1-5 CMS star rating onto a risk score.
func starScore(stars int) float64 {
	switch stars {
	case 5:
		return 5
	case 4:
		return 20
	case 3:
		return 40
	case 2:
		return 65
	default:
		return 90
	}
}

func starFactor(id, name string, weight float64, rating func(*model.CMSData) int, rec string) Factor {
	return Factor{
		ID:         id,
		Category:   model.CategoryRegulatory,
		Name:       name,
		Weight:     weight,
		DataSource: "CMS Care Compare",
		Evaluate: func(d EvalData) Evaluation {
			if d.CMS == nil || rating(d.CMS) <= 0 {
				return neutral(name)
			}
			stars := rating(d.CMS)
			r := ""
			if stars <= 2 {
				r = rec
			}
			return scored(starScore(stars), fmt.Sprintf("%s: %d stars", name, stars), r)
		},
	}
}

// DefaultFactors returns the standard factor set. The legal, environmental,
// and technology categories carry weight but have no factors yet.
func DefaultFactors() []Factor {
	factors := []Factor{
		// Regulatory
		starFactor("reg_overall_rating", "CMS overall rating", 1.5,
			func(c *model.CMSData) int { return c.OverallRating },
			"Review the most recent surveys and the plan of correction"),
		starFactor("reg_health_inspection", "Health inspection rating", 1.0,
			func(c *model.CMSData) int { return c.HealthInspectionRating },
			"Engage a regulatory consultant for a mock survey"),
		{
			ID: "reg_deficiencies", Category: model.CategoryRegulatory, Name: "Survey deficiencies",
			Weight: 1.0, DataSource: "CMS Care Compare",
			Evaluate: func(d EvalData) Evaluation {
				if d.CMS == nil {
					return neutral("Deficiency history")
				}
				n := float64(d.CMS.TotalDeficiencies)
				s := atMost(n, 90, step{5, 10}, step{10, 30}, step{15, 50}, step{20, 70})
				rec := ""
				if n > 15 {
					rec = "Obtain three survey cycles and verify correction of cited tags"
				}
				return scored(s, fmt.Sprintf("%d deficiencies on the latest survey cycle", d.CMS.TotalDeficiencies), rec)
			},
		},
		{
			ID: "reg_sff", Category: model.CategoryRegulatory, Name: "Special Focus Facility status",
			Weight: 2.0, DataSource: "CMS SFF list",
			Evaluate: func(d EvalData) Evaluation {
				switch {
				case d.CMS == nil:
					return neutral("SFF status")
				case d.CMS.IsSFF:
					return scored(100, "Facility is on the Special Focus Facility list", "Decline or require a turnaround operator with SFF graduation history")
				case d.CMS.IsSFFCandidate:
					return scored(75, "Facility is an SFF candidate", "Model the cost of an SFF designation before pricing")
				default:
					return scored(5, "Not on the SFF or candidate lists", "")
				}
			},
		},
		{
			ID: "reg_penalties", Category: model.CategoryRegulatory, Name: "Civil monetary penalties",
			Weight: 1.0, DataSource: "CMS penalties",
			Evaluate: func(d EvalData) Evaluation {
				if d.CMS == nil {
					return neutral("Penalty history")
				}
				s := atMost(d.CMS.TotalFines, 85, step{0, 5}, step{50_000, 30}, step{150_000, 60})
				if d.CMS.PaymentDenials > 0 {
					s = min(s+10, 100)
				}
				rec := ""
				if s >= 60 {
					rec = "Escrow for unpaid penalties and review the enforcement history"
				}
				return scored(s, fmt.Sprintf("%d fines totalling $%.0f, %d payment denials",
					d.CMS.FineCount, d.CMS.TotalFines, d.CMS.PaymentDenials), rec)
			},
		},

		// Operational
		{
			ID: "op_occupancy", Category: model.CategoryOperational, Name: "Occupancy",
			Weight: 1.5, DataSource: "Census reports",
			Evaluate: func(d EvalData) Evaluation {
				occ, ok := d.occupancy()
				if !ok {
					return neutral("Occupancy")
				}
				s := atLeast(occ, 95, step{90, 10}, step{85, 25}, step{80, 40}, step{70, 60}, step{60, 80})
				rec := ""
				if occ < 80 {
					rec = "Build a census ramp plan with referral-source analysis"
				}
				return scored(s, fmt.Sprintf("Occupancy %.1f%%", occ), rec)
			},
		},
		{
			ID: "op_staffing_hppd", Category: model.CategoryOperational, Name: "Nursing hours per patient day",
			Weight: 1.5, DataSource: "Staffing reports / PBJ",
			Evaluate: func(d EvalData) Evaluation {
				h, ok := d.hppd()
				if !ok {
					return neutral("Staffing HPPD")
				}
				s := atLeast(h, 90, step{4.1, 10}, step{3.6, 30}, step{3.2, 50}, step{3.0, 70})
				rec := ""
				if h < 3.2 {
					rec = "Budget for additional nursing hours to reach 3.5 HPPD"
				}
				return scored(s, fmt.Sprintf("%.2f total nursing HPPD", h), rec)
			},
		},
		{
			ID: "op_agency", Category: model.CategoryOperational, Name: "Agency staffing reliance",
			Weight: 1.0, DataSource: "Staffing reports",
			Evaluate: func(d EvalData) Evaluation {
				a, ok := d.agencyPct()
				if !ok {
					return neutral("Agency usage")
				}
				s := atMost(a, 95, step{5, 10}, step{15, 30}, step{25, 55}, step{40, 75})
				rec := ""
				if a >= 15 {
					rec = "Underwrite an agency reduction plan with recruiting costs"
				}
				return scored(s, fmt.Sprintf("Agency labor %.1f%% of nursing hours", a), rec)
			},
		},
		{
			ID: "op_turnover", Category: model.CategoryOperational, Name: "Staff turnover",
			Weight: 1.0, DataSource: "Staffing reports / CMS",
			Evaluate: func(d EvalData) Evaluation {
				t, ok := d.turnoverPct()
				if !ok {
					return neutral("Turnover")
				}
				s := atMost(t, 85, step{35, 15}, step{50, 35}, step{65, 60})
				rec := ""
				if t >= 50 {
					rec = "Review wage competitiveness against the local market"
				}
				return scored(s, fmt.Sprintf("Nurse turnover %.1f%%", t), rec)
			},
		},
		{
			ID: "op_staffing_rating", Category: model.CategoryOperational, Name: "CMS staffing rating",
			Weight: 0.5, DataSource: "CMS Care Compare",
			Evaluate: func(d EvalData) Evaluation {
				if d.CMS == nil || d.CMS.StaffingRating <= 0 {
					return neutral("Staffing rating")
				}
				return scored(starScore(d.CMS.StaffingRating), fmt.Sprintf("Staffing rating: %d stars", d.CMS.StaffingRating), "")
			},
		},

		// Financial
		{
			ID: "fin_noi_margin", Category: model.CategoryFinancial, Name: "NOI margin",
			Weight: 1.5, DataSource: "Operating statement",
			Evaluate: func(d EvalData) Evaluation {
				m, ok := d.metrics()
				if !ok {
					return neutral("NOI margin")
				}
				s := atLeast(m.NOIMargin, 95, step{15, 10}, step{10, 25}, step{5, 45}, step{0, 70})
				rec := ""
				if m.NOIMargin < 5 {
					rec = "Identify expense reductions and revenue upside before closing"
				}
				return scored(s, fmt.Sprintf("NOI margin %.1f%%", m.NOIMargin), rec)
			},
		},
		{
			ID: "fin_ebitdar_margin", Category: model.CategoryFinancial, Name: "EBITDAR margin",
			Weight: 1.0, DataSource: "Operating statement",
			Evaluate: func(d EvalData) Evaluation {
				m, ok := d.metrics()
				if !ok {
					return neutral("EBITDAR margin")
				}
				s := atLeast(m.EBITDARMargin, 95, step{20, 10}, step{15, 25}, step{10, 45}, step{2, 70})
				return scored(s, fmt.Sprintf("EBITDAR margin %.1f%%", m.EBITDARMargin), "")
			},
		},
		{
			ID: "fin_labor_cost", Category: model.CategoryFinancial, Name: "Labor cost ratio",
			Weight: 1.0, DataSource: "Operating statement",
			Evaluate: func(d EvalData) Evaluation {
				m, ok := d.metrics()
				if !ok || m.LaborCost <= 0 {
					return neutral("Labor cost")
				}
				s := atMost(m.LaborCostRatio, 85, step{50, 15}, step{58, 35}, step{65, 60})
				rec := ""
				if m.LaborCostRatio >= 58 {
					rec = "Benchmark labor cost per patient day against peer facilities"
				}
				return scored(s, fmt.Sprintf("Labor %.1f%% of revenue", m.LaborCostRatio), rec)
			},
		},
		{
			ID: "fin_medicaid_concentration", Category: model.CategoryFinancial, Name: "Medicaid concentration",
			Weight: 1.0, DataSource: "Census by payer",
			Evaluate: func(d EvalData) Evaluation {
				mix, ok := d.payerMix()
				if !ok {
					return neutral("Payer mix")
				}
				s := atMost(mix.Medicaid, 90, step{50, 15}, step{65, 35}, step{75, 55}, step{85, 75})
				rec := ""
				if mix.Medicaid >= 75 {
					rec = "Stress-test value against a flat Medicaid rate"
				}
				return scored(s, fmt.Sprintf("Medicaid %.1f%% of census", mix.Medicaid), rec)
			},
		},
		{
			ID: "fin_skilled_mix", Category: model.CategoryFinancial, Name: "Skilled mix",
			Weight: 0.5, DataSource: "Census by payer",
			Evaluate: func(d EvalData) Evaluation {
				mix, ok := d.payerMix()
				if !ok {
					return neutral("Payer mix")
				}
				skilled := mix.Medicare + mix.ManagedCare
				s := atLeast(skilled, 75, step{20, 15}, step{12, 35}, step{8, 55})
				return scored(s, fmt.Sprintf("Medicare and managed care %.1f%% of census", skilled), "")
			},
		},
		{
			ID: "fin_coverage", Category: model.CategoryFinancial, Name: "Debt or rent coverage",
			Weight: 1.0, DataSource: "Operating statement",
			Evaluate: func(d EvalData) Evaluation {
				if d.Financials == nil {
					return neutral("Coverage")
				}
				st := d.Financials.Normalized
				label := "DSCR"
				r := financials.DSCR(st, d.AnnualDebtService)
				if d.AnnualDebtService <= 0 {
					label = "Rent coverage"
					r = financials.RentCoverage(st)
				}
				v, ok := r.Get()
				if !ok {
					return neutral("Coverage")
				}
				s := atLeast(v, 90, step{1.5, 10}, step{1.25, 30}, step{1.0, 60})
				rec := ""
				if v < 1.25 {
					rec = "Size debt or rent to at least 1.25x coverage"
				}
				return scored(s, fmt.Sprintf("%s %.2fx", label, v), rec)
			},
		},

		// Market
		{
			ID: "mkt_demand_growth", Category: model.CategoryMarket, Name: "Senior demand growth",
			Weight: 1.0, DataSource: "Market study",
			Evaluate: func(d EvalData) Evaluation {
				if d.Market == nil || d.Market.DemandGrowthPct == 0 {
					return neutral("Demand growth")
				}
				g := d.Market.DemandGrowthPct
				s := atLeast(g, 90, step{3, 10}, step{1, 30}, step{0, 50}, step{-2, 70})
				return scored(s, fmt.Sprintf("Demand growth %.1f%% per year", g), "")
			},
		},
		{
			ID: "mkt_supply_pressure", Category: model.CategoryMarket, Name: "Supply pipeline pressure",
			Weight: 1.0, DataSource: "Market study",
			Evaluate: func(d EvalData) Evaluation {
				if d.Market == nil || d.Market.SupplyGrowthPct == 0 || d.Market.DemandGrowthPct == 0 {
					return neutral("Supply growth")
				}
				gap := d.Market.SupplyGrowthPct - d.Market.DemandGrowthPct
				s := atMost(gap, 85, step{0, 15}, step{1, 40}, step{3, 65})
				rec := ""
				if gap > 1 {
					rec = "Map the construction pipeline within the primary market area"
				}
				return scored(s, fmt.Sprintf("Supply growth exceeds demand growth by %.1f points", gap), rec)
			},
		},
		{
			ID: "mkt_occupancy", Category: model.CategoryMarket, Name: "Market occupancy",
			Weight: 1.0, DataSource: "Market study",
			Evaluate: func(d EvalData) Evaluation {
				occ, ok := d.marketOccupancy()
				if !ok {
					return neutral("Market occupancy")
				}
				s := atLeast(occ, 90, step{90, 10}, step{85, 25}, step{80, 45}, step{70, 65})
				return scored(s, fmt.Sprintf("Market occupancy %.1f%%", occ), "")
			},
		},
		{
			ID: "mkt_competition", Category: model.CategoryMarket, Name: "Competitive intensity",
			Weight: 0.5, DataSource: "Market study",
			Evaluate: func(d EvalData) Evaluation {
				if d.Market == nil {
					return neutral("Competitor count")
				}
				n := float64(d.Market.CompetitorCount)
				s := atMost(n, 75, step{3, 15}, step{6, 35}, step{10, 55})
				return scored(s, fmt.Sprintf("%d competitors in the market area", d.Market.CompetitorCount), "")
			},
		},
		{
			ID: "mkt_medicaid_rates", Category: model.CategoryMarket, Name: "Medicaid rate trend",
			Weight: 0.5, DataSource: "State rate notices",
			Evaluate: func(d EvalData) Evaluation {
				if d.Market == nil {
					return neutral("Medicaid rate growth")
				}
				g := d.Market.MedicaidRateGrowthPct
				s := atLeast(g, 80, step{3, 15}, step{1.5, 35}, step{0, 55})
				return scored(s, fmt.Sprintf("Medicaid rates growing %.1f%% per year", g), "")
			},
		},

		// Reputational
		{
			ID: "rep_abuse", Category: model.CategoryReputational, Name: "Abuse citation",
			Weight: 2.0, DataSource: "CMS Care Compare",
			Evaluate: func(d EvalData) Evaluation {
				if d.CMS == nil {
					return neutral("Abuse icon")
				}
				if d.CMS.AbuseIcon {
					return scored(95, "CMS abuse icon is displayed", "Review abuse citations and the facility's response")
				}
				return scored(10, "No abuse icon", "")
			},
		},
		{
			ID: "rep_complaints", Category: model.CategoryReputational, Name: "Complaint surveys",
			Weight: 1.0, DataSource: "CMS Care Compare",
			Evaluate: func(d EvalData) Evaluation {
				if d.CMS == nil {
					return neutral("Complaint history")
				}
				n := d.CMS.ComplaintDeficiencies + d.CMS.SubstantiatedComplaints
				s := atMost(float64(n), 85, step{0, 10}, step{2, 35}, step{5, 60})
				return scored(s, fmt.Sprintf("%d complaint findings", n), "")
			},
		},
		{
			ID: "rep_rating_trend", Category: model.CategoryReputational, Name: "Rating trend",
			Weight: 1.0, DataSource: "CMS Care Compare history",
			Evaluate: func(d EvalData) Evaluation {
				if d.CMS == nil || d.CMS.OverallRating <= 0 || d.CMS.PriorOverallRating <= 0 {
					return neutral("Rating history")
				}
				drop := d.CMS.PriorOverallRating - d.CMS.OverallRating
				switch {
				case drop > 0:
					return scored(min(40+15*float64(drop), 90),
						fmt.Sprintf("Overall rating fell from %d to %d stars", d.CMS.PriorOverallRating, d.CMS.OverallRating),
						"Determine the cause of the rating decline")
				case drop == 0:
					return scored(25, "Overall rating unchanged", "")
				default:
					return scored(10, fmt.Sprintf("Overall rating improved to %d stars", d.CMS.OverallRating), "")
				}
			},
		},
		{
			ID: "rep_quality_measures", Category: model.CategoryReputational, Name: "Quality measures rating",
			Weight: 1.0, DataSource: "CMS Care Compare",
			Evaluate: func(d EvalData) Evaluation {
				if d.CMS == nil || d.CMS.QualityMeasureRating <= 0 {
					return neutral("Quality measures rating")
				}
				return scored(starScore(d.CMS.QualityMeasureRating),
					fmt.Sprintf("Quality measures rating: %d stars", d.CMS.QualityMeasureRating), "")
			},
		},
	}
	return append(factors, KnowledgeFactors()...)
}

// KnowledgeFactors are scored against the curated state profile.
func KnowledgeFactors() []Factor {
	return []Factor{
		{
			ID: "ka_con_environment", Category: model.CategoryMarket, Name: "Certificate of need environment",
			Weight: 1.0, DataSource: "State knowledge base",
			Evaluate: func(d EvalData) Evaluation {
				if d.State == nil {
					return neutral("State CON profile")
				}
				if !d.State.CONState {
					return scored(50, d.State.State+" has no CON program; new supply is unconstrained", "")
				}
				s := atLeast(d.State.CONApprovalRate, 65, step{75, 20}, step{55, 40})
				if d.State.CONTimelineMonths > 16 {
					s += 10
				}
				return scored(s, fmt.Sprintf("CON state: %.0f%% approval, %.0f month timeline",
					d.State.CONApprovalRate, d.State.CONTimelineMonths), "")
			},
		},
		{
			ID: "ka_medicaid_adequacy", Category: model.CategoryFinancial, Name: "Medicaid rate adequacy",
			Weight: 1.0, DataSource: "State knowledge base",
			Evaluate: func(d EvalData) Evaluation {
				if d.State == nil || d.State.MedicaidRateAdequacy <= 0 {
					return neutral("Medicaid rate adequacy")
				}
				a := d.State.MedicaidRateAdequacy
				s := atLeast(a, 90, step{100, 10}, step{95, 30}, step{90, 50}, step{85, 70})
				rec := ""
				if a < 90 {
					rec = "Confirm supplemental payment and provider tax programs"
				}
				return scored(s, fmt.Sprintf("Medicaid rates cover %.0f%% of cost", a), rec)
			},
		},
		{
			ID: "ka_staffing_mandate", Category: model.CategoryRegulatory, Name: "State staffing mandate",
			Weight: 1.0, DataSource: "State knowledge base",
			Evaluate: func(d EvalData) Evaluation {
				h, ok := d.hppd()
				if d.State == nil || d.State.MinimumStaffingHPPD <= 0 || !ok {
					return neutral("Staffing mandate comparison")
				}
				floor := d.State.MinimumStaffingHPPD
				var s float64
				switch {
				case h >= floor+0.5:
					s = 10
				case h >= floor:
					s = 35
				default:
					s = 85
				}
				rec := ""
				if h < floor {
					rec = "Budget the cost of meeting the state minimum staffing mandate"
				}
				return scored(s, fmt.Sprintf("%.2f HPPD against a %.2f state minimum", h, floor), rec)
			},
		},
		{
			ID: "ka_survey_intensity", Category: model.CategoryRegulatory, Name: "Deficiencies versus state average",
			Weight: 1.0, DataSource: "State knowledge base",
			Evaluate: func(d EvalData) Evaluation {
				if d.State == nil || d.State.SurveyIntensity <= 0 || d.CMS == nil {
					return neutral("State survey comparison")
				}
				ratio := float64(d.CMS.TotalDeficiencies) / d.State.SurveyIntensity
				s := atMost(ratio, 85, step{0.75, 15}, step{1, 35}, step{1.5, 60})
				return scored(s, fmt.Sprintf("Deficiencies at %.2fx the state average", ratio), "")
			},
		},
		{
			ID: "ka_pdpm", Category: model.CategoryFinancial, Name: "PDPM transition exposure",
			Weight: 0.5, DataSource: "State knowledge base",
			Evaluate: func(d EvalData) Evaluation {
				if d.State == nil {
					return neutral("PDPM exposure")
				}
				mix, hasMix := d.payerMix()
				switch {
				case d.State.PDPMTransitionPenalty && hasMix && mix.Medicare > 15:
					return scored(60, "Medicare-heavy census in a state with PDPM transition losses", "Review case-mix index trends since the PDPM transition")
				case d.State.PDPMTransitionPenalty:
					return scored(40, "State saw PDPM transition losses", "")
				default:
					return scored(15, "No PDPM transition penalty recorded", "")
				}
			},
		},
	}
}

// evaluate runs f against d and clamps the score to 0-100.
func (f Factor) evaluate(d EvalData, rate func(float64) model.RiskRating) model.RiskFactor {
	ev := f.Evaluate(d)
	score := max(0, min(ev.Score, 100))
	return model.RiskFactor{
		ID:             f.ID,
		Category:       f.Category,
		Name:           f.Name,
		Score:          score,
		Weight:         f.Weight,
		WeightedScore:  score * f.Weight,
		Severity:       rate(score),
		Details:        ev.Details,
		DataSource:     f.DataSource,
		DataAvailable:  ev.Available,
		Recommendation: ev.Recommendation,
	}
}
