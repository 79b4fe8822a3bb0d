package valuation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sells-group/underwriter/internal/model"
	"github.com/sells-group/underwriter/internal/settings"
)

// ScoredComparable is a comparable that survived filtering, with its
// similarity score and adjusted price per bed.
type ScoredComparable struct {
	Sale          model.ComparableSale `json:"sale"`
	AgeMonths     float64              `json:"age_months"`
	Similarity    float64              `json:"similarity"`
	AdjustmentPct float64              `json:"adjustment_pct"`
	AdjustedPPB   float64              `json:"adjusted_ppb"`
}

// ComparableSales values the facility from recent nearby transactions.
type ComparableSales struct {
	cfg    settings.ComparablesSettings
	weight float64
}

// NewComparableSales builds the calculator from settings.
func NewComparableSales(s settings.Settings) *ComparableSales {
	return &ComparableSales{cfg: s.Comparables, weight: s.Methods.ComparableSales.Weight}
}

// Filter keeps sales of the same asset type, within the age and distance
// limits, with a positive price per bed. A missing price per bed is derived
// from price and beds.
func (c *ComparableSales) Filter(in Input) []ScoredComparable {
	asOf := in.asOf()
	out := make([]ScoredComparable, 0, len(in.Comparables))
	for _, sale := range in.Comparables {
		if sale.AssetType != in.Facility.AssetType {
			continue
		}
		if sale.PricePerBed <= 0 && sale.Price > 0 && sale.Beds > 0 {
			sale.PricePerBed = sale.Price / float64(sale.Beds)
		}
		if sale.PricePerBed <= 0 {
			continue
		}
		age := monthsBetween(sale.SaleDate, asOf)
		if age < 0 || age > float64(c.cfg.MaxAgeMonths) {
			continue
		}
		if sale.DistanceMiles < 0 || sale.DistanceMiles > c.cfg.MaxDistanceMiles {
			continue
		}
		out = append(out, ScoredComparable{Sale: sale, AgeMonths: age})
	}
	return out
}

// Score assigns each comparable a 0-1 similarity and returns the top N,
// most similar first.
func (c *ComparableSales) Score(in Input, comps []ScoredComparable) []ScoredComparable {
	w := c.cfg.Weights
	wsum := w.Distance + w.Recency + w.Size + w.Quality
	if wsum <= 0 {
		w = settings.SimilarityWeights{Distance: 1, Recency: 1, Size: 1, Quality: 1}
		wsum = 4
	}
	beds := float64(in.Beds())
	stars, hasStars := in.StarRating()

	scored := append([]ScoredComparable(nil), comps...)
	for i := range scored {
		s := &scored[i]
		distance := clamp01(1 - s.Sale.DistanceMiles/math.Max(c.cfg.MaxDistanceMiles, 1))
		recency := clamp01(1 - s.AgeMonths/math.Max(float64(c.cfg.MaxAgeMonths), 1))

		size := 0.5
		if beds > 0 && s.Sale.Beds > 0 {
			cb := float64(s.Sale.Beds)
			size = clamp01(1 - math.Abs(beds-cb)/math.Max(beds, cb))
		}

		quality := c.cfg.DefaultQualityScore
		if hasStars && s.Sale.StarRating >= 1 && s.Sale.StarRating <= 5 {
			quality = 1 - math.Abs(float64(stars-s.Sale.StarRating))/4
		}

		s.Similarity = (distance*w.Distance + recency*w.Recency + size*w.Size + quality*w.Quality) / wsum
		s.Sale.SimilarityScore = s.Similarity
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Sale.ID < scored[j].Sale.ID
	})
	if c.cfg.TopN > 0 && len(scored) > c.cfg.TopN {
		scored = scored[:c.cfg.TopN]
	}
	return scored
}

// Adjust applies linear size and vintage adjustments to each comparable's
// price per bed, capped at MaxAdjustmentPct in either direction.
func (c *ComparableSales) Adjust(in Input, comps []ScoredComparable) []ScoredComparable {
	beds := float64(in.Beds())
	subjectAge, hasAge := in.Age()
	asOfYear := in.asOf().Year()
	limit := c.cfg.MaxAdjustmentPct / 100

	out := append([]ScoredComparable(nil), comps...)
	for i := range out {
		s := &out[i]
		var adj float64
		if beds > 0 && s.Sale.Beds > 0 {
			cb := float64(s.Sale.Beds)
			diff := (beds - cb) / cb
			if math.Abs(diff)*100 > c.cfg.SizeThresholdPct {
				adj += diff * c.cfg.SizeAdjustment
			}
		}
		if hasAge && s.Sale.YearBuilt > 0 && s.Sale.YearBuilt <= asOfYear {
			compAge := float64(asOfYear - s.Sale.YearBuilt)
			diff := compAge - float64(subjectAge)
			if math.Abs(diff) > c.cfg.AgeThresholdYears {
				adj += diff * c.cfg.AgeAdjustmentPerYear
			}
		}
		if limit > 0 {
			adj = math.Max(-limit, math.Min(limit, adj))
		}
		s.AdjustmentPct = adj * 100
		s.AdjustedPPB = s.Sale.PricePerBed * (1 + adj)
	}
	return out
}

// Calculate implements the comparable sales method.
func (c *ComparableSales) Calculate(in Input) model.ValuationMethod {
	filtered := c.Filter(in)
	inputs := map[string]float64{
		"comps_available": float64(len(in.Comparables)),
		"comps_qualified": float64(len(filtered)),
	}

	if len(filtered) < c.cfg.MinComparables {
		adjustments := []model.Adjustment{
			adjustmentNote(fmt.Sprintf("Insufficient comparables (%d/%d)", len(filtered), c.cfg.MinComparables)),
		}
		return model.NewValuationMethod(model.MethodComparableSales, 0, model.ConfidenceLow, c.weight, inputs, adjustments)
	}
	beds := in.Beds()
	if beds <= 0 {
		adjustments := []model.Adjustment{adjustmentNote("Bed count unknown; cannot apply comparable price per bed")}
		return model.NewValuationMethod(model.MethodComparableSales, 0, model.ConfidenceLow, c.weight, inputs, adjustments)
	}

	selected := c.Adjust(in, c.Score(in, filtered))

	var wsum, total float64
	values := make([]float64, len(selected))
	adjustments := make([]model.Adjustment, 0, len(selected))
	for i, s := range selected {
		values[i] = s.AdjustedPPB
		wsum += s.Similarity
		total += s.AdjustedPPB * s.Similarity
		adjustments = append(adjustments, model.Adjustment{
			Description: fmt.Sprintf("%s: similarity %.2f, adjusted %+.1f%%", compLabel(s.Sale), s.Similarity, s.AdjustmentPct),
			Kind:        model.AdjustDollar,
			Impact:      s.AdjustedPPB,
		})
	}
	avg := mean(values)
	if wsum > 0 {
		avg = total / wsum
	}
	value := avg * float64(beds)

	cv := 0.0
	if m := mean(values); m > 0 {
		cv = popStdDev(values) / m
	}
	n := len(selected)
	conf := model.ConfidenceLow
	switch {
	case cv < 0.15 && n >= 5:
		conf = model.ConfidenceHigh
	case cv < 0.25 && n >= 3:
		conf = model.ConfidenceMedium
	}

	inputs["comps_used"] = float64(n)
	inputs["weighted_ppb"] = avg
	inputs["coefficient_of_variation"] = cv
	inputs["beds"] = float64(beds)
	return model.NewValuationMethod(model.MethodComparableSales, value, conf, c.weight, inputs, adjustments)
}

func compLabel(s model.ComparableSale) string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

func monthsBetween(from, to time.Time) float64 {
	return to.Sub(from).Hours() / 24 / 30.4375
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
