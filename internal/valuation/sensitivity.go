package valuation

import "github.com/sells-group/underwriter/internal/model"

const (
	curveCapRate          = 0.125
	defaultCurveOccupancy = 85.0
)

// Curves builds the illustrative sensitivity curves shipped with every
// valuation. They use a flat NOI / 12.5% base rather than the reconciled
// value.
func Curves(in Input) model.Sensitivity {
	noi := in.NOI()
	base := noi / curveCapRate

	s := model.Sensitivity{
		CapRate:   make([]model.SensitivityPoint, 0, 5),
		Occupancy: make([]model.SensitivityPoint, 0, 6),
		NOI:       make([]model.SensitivityPoint, 0, 5),
	}
	for _, rate := range []float64{0.10, 0.11, 0.12, 0.13, 0.14} {
		s.CapRate = append(s.CapRate, model.SensitivityPoint{Input: rate, Value: noi / rate})
	}

	current := defaultCurveOccupancy
	if occ, ok := in.Occupancy(); ok {
		current = occ
	}
	for occ := 70.0; occ <= 95; occ += 5 {
		s.Occupancy = append(s.Occupancy, model.SensitivityPoint{Input: occ, Value: base * occ / current})
	}

	for _, pct := range []float64{-20, -10, 0, 10, 20} {
		s.NOI = append(s.NOI, model.SensitivityPoint{Input: pct, Value: noi * (1 + pct/100) / curveCapRate})
	}
	return s
}
