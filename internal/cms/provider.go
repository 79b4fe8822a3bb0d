package cms

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cast"

	"github.com/sells-group/underwriter/internal/fetcher"
	"github.com/sells-group/underwriter/internal/model"
)

// ErrProviderNotFound is returned when the dataset has no row for a CCN.
var ErrProviderNotFound = eris.New("cms: provider not found")

// ProviderFetcher reads the Care Compare provider information dataset
// through the datastore query API.
type ProviderFetcher struct {
	http    fetcher.Fetcher
	baseURL string
	dataset string
}

// NewProviderFetcher creates a fetcher for the dataset at baseURL.
func NewProviderFetcher(f fetcher.Fetcher, baseURL, dataset string) *ProviderFetcher {
	return &ProviderFetcher{http: f, baseURL: strings.TrimRight(baseURL, "/"), dataset: dataset}
}

type queryResponse struct {
	Results []map[string]any `json:"results"`
}

// Fetch implements Fetcher. Throttling, 5xx and network failures keep their
// transient mark so the service retries them; a missing provider does not.
func (p *ProviderFetcher) Fetch(ctx context.Context, ccn string) (*model.CMSData, error) {
	q := url.Values{}
	q.Set("conditions[0][property]", "cms_certification_number_ccn")
	q.Set("conditions[0][value]", ccn)
	q.Set("limit", "1")
	u := p.baseURL + "/" + p.dataset + "/0?" + q.Encode()

	body, err := p.http.Download(ctx, u)
	if err != nil {
		return nil, eris.Wrapf(err, "cms: query %s", ccn)
	}
	defer body.Close() //nolint:errcheck

	resp, err := fetcher.DecodeJSONObject[queryResponse](body)
	if err != nil {
		return nil, eris.Wrapf(err, "cms: decode %s", ccn)
	}
	if len(resp.Results) == 0 {
		return nil, eris.Wrapf(ErrProviderNotFound, "%s", ccn)
	}
	return providerFromRow(resp.Results[0]), nil
}

// providerFromRow maps a dataset row. The API returns every value as a
// string; blanks and "Not Available" read as zero.
func providerFromRow(row map[string]any) *model.CMSData {
	num := func(key string) float64 {
		s := strings.ReplaceAll(strings.TrimSpace(cast.ToString(row[key])), ",", "")
		return cast.ToFloat64(strings.TrimPrefix(s, "$"))
	}
	integer := func(key string) int { return int(num(key)) }
	sff := strings.ToUpper(strings.TrimSpace(cast.ToString(row["special_focus_status"])))

	d := &model.CMSData{
		CertificationNumber:     cast.ToString(row["cms_certification_number_ccn"]),
		ProviderName:            cast.ToString(row["provider_name"]),
		OverallRating:           integer("overall_rating"),
		HealthInspectionRating:  integer("health_inspection_rating"),
		StaffingRating:          integer("staffing_rating"),
		QualityMeasureRating:    integer("qm_rating"),
		TotalNurseHPPD:          num("reported_total_nurse_staffing_hours_per_resident_per_day"),
		RNHPPD:                  num("reported_rn_staffing_hours_per_resident_per_day"),
		NurseTurnoverPct:        num("total_nursing_staff_turnover"),
		HealthDeficiencies:      integer("rating_cycle_1_total_number_of_health_deficiencies"),
		FireSafetyDeficiencies:  integer("rating_cycle_1_number_of_fire_safety_deficiencies"),
		ComplaintDeficiencies:   integer("rating_cycle_1_number_of_complaint_health_deficiencies"),
		IsSFF:                   sff == "SFF",
		IsSFFCandidate:          sff == "SFF CANDIDATE",
		AbuseIcon:               strings.EqualFold(cast.ToString(row["abuse_icon"]), "Y"),
		FineCount:               integer("number_of_fines"),
		TotalFines:              num("total_amount_of_fines_in_dollars"),
		PaymentDenials:          integer("number_of_payment_denials"),
		SubstantiatedComplaints: integer("number_of_substantiated_complaints"),
	}
	d.TotalDeficiencies = d.HealthDeficiencies + d.FireSafetyDeficiencies
	return d
}
