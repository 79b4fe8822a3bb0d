package model

import "time"

// CMSData is a snapshot of the CMS Care Compare dataset for one provider.
// Ratings are 1-5 with 0 meaning unrated. Percentages are 0-100.
type CMSData struct {
	CertificationNumber     string    `json:"certification_number"`
	ProviderName            string    `json:"provider_name,omitempty"`
	OverallRating           int       `json:"overall_rating"`
	HealthInspectionRating  int       `json:"health_inspection_rating"`
	StaffingRating          int       `json:"staffing_rating"`
	QualityMeasureRating    int       `json:"quality_measure_rating"`
	PriorOverallRating      int       `json:"prior_overall_rating,omitempty"`
	TotalNurseHPPD          float64   `json:"total_nurse_hppd"`
	RNHPPD                  float64   `json:"rn_hppd"`
	NurseTurnoverPct        float64   `json:"nurse_turnover_pct,omitempty"`
	TotalDeficiencies       int       `json:"total_deficiencies"`
	HealthDeficiencies      int       `json:"health_deficiencies"`
	FireSafetyDeficiencies  int       `json:"fire_safety_deficiencies"`
	ComplaintDeficiencies   int       `json:"complaint_deficiencies"`
	IsSFF                   bool      `json:"is_sff"`
	IsSFFCandidate          bool      `json:"is_sff_candidate"`
	AbuseIcon               bool      `json:"abuse_icon"`
	FineCount               int       `json:"fine_count"`
	TotalFines              float64   `json:"total_fines"`
	PaymentDenials          int       `json:"payment_denials"`
	SubstantiatedComplaints int       `json:"substantiated_complaints,omitempty"`
	AsOf                    time.Time `json:"as_of,omitempty"`
}

// PayerMix holds revenue or census share by payer, in percent. The parts are
// expected to sum to roughly 100 but this is not enforced.
type PayerMix struct {
	Medicare    float64 `json:"medicare"`
	Medicaid    float64 `json:"medicaid"`
	ManagedCare float64 `json:"managed_care"`
	PrivatePay  float64 `json:"private_pay"`
	Other       float64 `json:"other"`
}

// Total returns the sum of all payer shares.
func (p PayerMix) Total() float64 {
	return p.Medicare + p.Medicaid + p.ManagedCare + p.PrivatePay + p.Other
}

// Staffing holds staffing intensity and stability metrics.
type Staffing struct {
	RNHPPD      float64 `json:"rn_hppd"`
	LPNHPPD     float64 `json:"lpn_hppd"`
	CNAHPPD     float64 `json:"cna_hppd"`
	TotalHPPD   float64 `json:"total_hppd"`
	AgencyPct   float64 `json:"agency_pct"`
	TurnoverPct float64 `json:"turnover_pct"`
}

// Total returns TotalHPPD when reported, else the sum of the role HPPDs.
func (s Staffing) Total() float64 {
	if s.TotalHPPD > 0 {
		return s.TotalHPPD
	}
	return s.RNHPPD + s.LPNHPPD + s.CNAHPPD
}

// LengthOfStay holds average length of stay in days by payer.
type LengthOfStay struct {
	Medicare   float64 `json:"medicare"`
	Medicaid   float64 `json:"medicaid"`
	PrivatePay float64 `json:"private_pay"`
}

// OperatingMetrics describes how the facility runs. Occupancy is in percent;
// zero means unreported.
type OperatingMetrics struct {
	Census       float64      `json:"census"`
	Occupancy    float64      `json:"occupancy"`
	PayerMix     PayerMix     `json:"payer_mix"`
	Staffing     Staffing     `json:"staffing"`
	LengthOfStay LengthOfStay `json:"length_of_stay"`
}

// HasOccupancy reports whether an occupancy figure was supplied.
func (m *OperatingMetrics) HasOccupancy() bool {
	return m != nil && m.Occupancy > 0
}

// MarketData holds regional demand, supply, and reimbursement indicators.
// Growth figures are annual percentages and occupancy is in percent. Zero
// means unreported for all three.
type MarketData struct {
	Market                string  `json:"market,omitempty"`
	PopulationOver65      int     `json:"population_over_65,omitempty"`
	DemandGrowthPct       float64 `json:"demand_growth_pct"`
	SupplyGrowthPct       float64 `json:"supply_growth_pct"`
	MarketOccupancy       float64 `json:"market_occupancy"`
	CompetitorCount       int     `json:"competitor_count"`
	BedsPer1000Seniors    float64 `json:"beds_per_1000_seniors,omitempty"`
	MedianHouseholdIncome float64 `json:"median_household_income,omitempty"`
	MedicaidRateGrowthPct float64 `json:"medicaid_rate_growth_pct"`
	UnemploymentRate      float64 `json:"unemployment_rate,omitempty"`
}

// StateProfile is curated state-level regulatory knowledge.
type StateProfile struct {
	State                 string  `json:"state"`
	CONState              bool    `json:"con_state"`
	CONApprovalRate       float64 `json:"con_approval_rate"`      // percent
	CONTimelineMonths     float64 `json:"con_timeline_months"`    // typical approval timeline
	MedicaidRateAdequacy  float64 `json:"medicaid_rate_adequacy"` // rate as percent of cost
	MinimumStaffingHPPD   float64 `json:"minimum_staffing_hppd"`
	SurveyIntensity       float64 `json:"survey_intensity"` // avg deficiencies per survey statewide
	PDPMTransitionPenalty bool    `json:"pdpm_transition_penalty"`
}

// ComparableSale is a closed transaction used for the sales comparison method.
type ComparableSale struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	AssetType       AssetType `json:"asset_type"`
	City            string    `json:"city,omitempty"`
	State           string    `json:"state,omitempty"`
	SaleDate        time.Time `json:"sale_date"`
	Price           float64   `json:"price"`
	Beds            int       `json:"beds"`
	PricePerBed     float64   `json:"price_per_bed"`
	CapRate         float64   `json:"cap_rate,omitempty"`
	YearBuilt       int       `json:"year_built,omitempty"`
	SquareFeet      float64   `json:"square_feet,omitempty"`
	DistanceMiles   float64   `json:"distance_miles"`
	StarRating      int       `json:"star_rating,omitempty"`
	SimilarityScore float64   `json:"similarity_score,omitempty"`
}
