package financials

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Ratio is a coverage ratio that may not apply, for example when the
// denominator is zero or negative. It encodes as JSON null when not applicable.
type Ratio struct {
	Value      float64
	Applicable bool
}

// NotApplicable is the zero Ratio.
var NotApplicable = Ratio{}

// Applicable wraps a value.
func Applicable(v float64) Ratio { return Ratio{Value: v, Applicable: true} }

// Get returns the value and whether it applies.
func (r Ratio) Get() (float64, bool) { return r.Value, r.Applicable }

// MarshalJSON implements json.Marshaler.
func (r Ratio) MarshalJSON() ([]byte, error) {
	if !r.Applicable {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Ratio) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = NotApplicable
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return eris.Wrap(err, "financials: decode ratio")
	}
	*r = Applicable(v)
	return nil
}

func coverage(num, den float64) Ratio {
	if den <= 0 {
		return NotApplicable
	}
	return Applicable(num / den)
}

// DSCR is annualized NOI over annual debt service.
func DSCR(s Statement, annualDebtService float64) Ratio {
	return coverage(s.Metrics().AnnualizedNOI, annualDebtService)
}

// FCCR is annualized EBITDAR over annual fixed charges (rent plus debt service).
func FCCR(s Statement, annualDebtService float64) Ratio {
	m := s.Metrics()
	return coverage(m.EBITDAR*m.AnnualizationFactor, m.Rent*m.AnnualizationFactor+annualDebtService)
}

// RentCoverage is EBITDAR over rent.
func RentCoverage(s Statement) Ratio {
	m := s.Metrics()
	return coverage(m.EBITDAR, m.Rent)
}
