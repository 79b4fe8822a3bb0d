package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/underwriter/internal/analysis"
	"github.com/sells-group/underwriter/internal/financials"
	"github.com/sells-group/underwriter/internal/model"
	"github.com/sells-group/underwriter/internal/params"
	"github.com/sells-group/underwriter/internal/recalc"
	"github.com/sells-group/underwriter/internal/risk"
	"github.com/sells-group/underwriter/internal/valuation"
)

// dealFile is the on-disk description of a deal. YAML files are converted
// to JSON before decoding so both formats share the JSON field names.
type dealFile struct {
	DealID            string                  `json:"deal_id"`
	Facility          model.FacilityProfile   `json:"facility"`
	Statement         *financials.Statement   `json:"statement,omitempty"`
	Operating         *model.OperatingMetrics `json:"operating,omitempty"`
	Market            *model.MarketData       `json:"market,omitempty"`
	State             *model.StateProfile     `json:"state,omitempty"`
	CMS               *model.CMSData          `json:"cms,omitempty"`
	Comparables       []model.ComparableSale  `json:"comparables,omitempty"`
	AnnualDebtService float64                 `json:"annual_debt_service,omitempty"`
	Overrides         params.Inputs           `json:"overrides,omitempty"`
	AsOf              time.Time               `json:"as_of,omitempty"`
}

func loadDeal(path string) (*dealFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read deal file")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, eris.Wrapf(err, "parse %s", path)
		}
		if data, err = json.Marshal(doc); err != nil {
			return nil, eris.Wrapf(err, "convert %s", path)
		}
	}

	var d dealFile
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, eris.Wrapf(err, "decode %s", path)
	}
	if d.DealID == "" {
		d.DealID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if d.AsOf.IsZero() {
		d.AsOf = time.Now().UTC()
	}
	if !d.Facility.AssetType.Valid() {
		return nil, eris.Errorf("%s: facility.asset_type must be SNF, ALF or ILF", path)
	}
	return &d, nil
}

func (d *dealFile) financials() *financials.Normalized {
	if d.Statement == nil {
		return nil
	}
	return financials.FromStatement(*d.Statement)
}

func (d *dealFile) input() valuation.Input {
	return valuation.Input{
		Facility:    d.Facility,
		Financials:  d.financials(),
		CMS:         d.CMS,
		Operating:   d.Operating,
		Market:      d.Market,
		Comparables: d.Comparables,
		AsOf:        d.AsOf,
	}
}

func (d *dealFile) evalData() risk.EvalData {
	return risk.EvalData{
		Facility:          d.Facility,
		CMS:               d.CMS,
		Operating:         d.Operating,
		Financials:        d.financials(),
		Market:            d.Market,
		State:             d.State,
		AnnualDebtService: d.AnnualDebtService,
	}
}

func (d *dealFile) extraction() *analysis.Extraction {
	return &analysis.Extraction{
		Facility:          d.Facility,
		Statement:         d.Statement,
		Operating:         d.Operating,
		Market:            d.Market,
		State:             d.State,
		Comparables:       d.Comparables,
		AnnualDebtService: d.AnnualDebtService,
	}
}

// request builds a recalculation request, layering the --set values over
// the file's session overrides.
func (d *dealFile) request(sets []string) (recalc.Request, error) {
	inputs, err := parseSets(sets)
	if err != nil {
		return recalc.Request{}, err
	}
	merged := params.Inputs{}
	for k, v := range d.Overrides {
		merged[k] = v
	}
	for k, v := range inputs {
		merged[k] = v
	}
	return recalc.Request{DealID: d.DealID, Input: d.input(), Inputs: merged}, nil
}

// parseSets turns param=value flags into session inputs. Values stay
// strings; the resolver coerces them to the parameter's type.
func parseSets(sets []string) (params.Inputs, error) {
	out := params.Inputs{}
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, eris.Errorf("invalid --set %q, want param=value", s)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}
