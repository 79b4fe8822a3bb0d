package valuation

import (
	"github.com/sells-group/underwriter/internal/model"
	"github.com/sells-group/underwriter/internal/settings"
)

// MarketStrength is a three-tier assessment of the local market.
type MarketStrength string

const (
	MarketStrong  MarketStrength = "strong"
	MarketAverage MarketStrength = "average"
	MarketWeak    MarketStrength = "weak"
	MarketUnknown MarketStrength = ""
)

// AssessMarket scores market occupancy, demand growth and supply growth.
// Occupancy above 88% earns two points (above 82%, one); demand growth above
// 3% earns two (above 1%, one); supply growth under 1% earns one and above 3%
// loses one. Four or more points is strong, two or more average. A zero
// figure is unreported and scores nothing; with all three unreported the
// market is unknown.
func AssessMarket(m *model.MarketData) (MarketStrength, int) {
	if m == nil || (m.MarketOccupancy == 0 && m.DemandGrowthPct == 0 && m.SupplyGrowthPct == 0) {
		return MarketUnknown, 0
	}
	points := 0
	switch {
	case m.MarketOccupancy > 88:
		points += 2
	case m.MarketOccupancy > 82:
		points++
	}
	switch {
	case m.DemandGrowthPct > 3:
		points += 2
	case m.DemandGrowthPct > 1:
		points++
	}
	switch {
	case m.SupplyGrowthPct == 0:
	case m.SupplyGrowthPct < 1:
		points++
	case m.SupplyGrowthPct > 3:
		points--
	}

	switch {
	case points >= 4:
		return MarketStrong, points
	case points >= 2:
		return MarketAverage, points
	default:
		return MarketWeak, points
	}
}

func marketAdjustment(a settings.MarketAdjustments, s MarketStrength) (float64, bool) {
	switch s {
	case MarketStrong:
		return a.Strong, true
	case MarketAverage:
		return a.Average, true
	case MarketWeak:
		return a.Weak, true
	}
	return 0, false
}
