package valuation

import (
	"math"
	"sort"

	"github.com/sells-group/underwriter/internal/model"
	"github.com/sells-group/underwriter/internal/settings"
)

// Reconcile combines method values into one. Methods with a non-positive or
// non-finite value are ignored. Weights are optionally scaled by confidence, normalized,
// then outliers beyond the z-score threshold are trimmed while at least two
// values remain, and the survivors are combined by the configured method.
func Reconcile(methods []model.ValuationMethod, cfg settings.ReconciliationSettings) model.Reconciliation {
	rec := model.Reconciliation{Method: cfg.Method, Entries: []model.ReconciliationEntry{}}
	if rec.Method == "" {
		rec.Method = settings.ReconcileWeightedAverage
	}

	for _, m := range methods {
		if m.Value <= 0 || !finite(m.Value) {
			continue
		}
		w := m.Weight
		if cfg.ConfidenceWeighting {
			w *= cfg.ConfidenceFactors.For(m.Confidence)
		}
		rec.Entries = append(rec.Entries, model.ReconciliationEntry{
			Method:         m.Name,
			Value:          m.Value,
			Confidence:     m.Confidence,
			BaseWeight:     m.Weight,
			AdjustedWeight: math.Max(w, 0),
		})
	}
	if len(rec.Entries) == 0 {
		return rec
	}
	normalize(rec.Entries)

	if cfg.TrimOutliers && len(rec.Entries) >= 3 {
		rec.TrimmedCount = trimOutliers(rec.Entries, cfg.OutlierThreshold)
		if rec.TrimmedCount > 0 {
			normalize(rec.Entries)
		}
	}

	values := survivingValues(rec.Entries)
	rec.StdDev = popStdDev(values)

	switch rec.Method {
	case settings.ReconcileMedian:
		rec.ReconciledValue = median(values)
	case settings.ReconcileModeAdjusted:
		med := median(values)
		for i := range rec.Entries {
			e := &rec.Entries[i]
			if e.Trimmed || med <= 0 {
				continue
			}
			e.AdjustedWeight *= 1 / (1 + math.Abs(e.Value-med)/med)
		}
		normalize(rec.Entries)
		rec.ReconciledValue = weightedSum(rec.Entries)
	default:
		rec.ReconciledValue = weightedSum(rec.Entries)
	}
	return rec
}

// normalize rescales the weights of untrimmed entries to sum to one. When
// every weight is zero the survivors share equally.
func normalize(entries []model.ReconciliationEntry) {
	var sum float64
	var n int
	for _, e := range entries {
		if e.Trimmed {
			continue
		}
		sum += e.AdjustedWeight
		n++
	}
	for i := range entries {
		e := &entries[i]
		switch {
		case e.Trimmed:
			e.AdjustedWeight = 0
		case sum > 0:
			e.AdjustedWeight /= sum
		case n > 0:
			e.AdjustedWeight = 1 / float64(n)
		}
	}
}

// trimOutliers flags entries whose |z| exceeds threshold, most extreme
// first, never leaving fewer than two entries. It returns the count trimmed.
func trimOutliers(entries []model.ReconciliationEntry, threshold float64) int {
	values := make([]float64, len(entries))
	for i, e := range entries {
		values[i] = e.Value
	}
	mu := mean(values)
	sd := popStdDev(values)

	idx := make([]int, 0, len(entries))
	for i := range entries {
		if sd > 0 {
			entries[i].ZScore = (entries[i].Value - mu) / sd
		}
		idx = append(idx, i)
	}
	if sd == 0 || threshold <= 0 {
		return 0
	}

	sort.SliceStable(idx, func(a, b int) bool {
		return math.Abs(entries[idx[a]].ZScore) > math.Abs(entries[idx[b]].ZScore)
	})
	remaining := len(entries)
	trimmed := 0
	for _, i := range idx {
		if remaining <= 2 {
			break
		}
		if math.Abs(entries[i].ZScore) <= threshold {
			break
		}
		entries[i].Trimmed = true
		remaining--
		trimmed++
	}
	return trimmed
}

func survivingValues(entries []model.ReconciliationEntry) []float64 {
	out := make([]float64, 0, len(entries))
	for _, e := range entries {
		if !e.Trimmed {
			out = append(out, e.Value)
		}
	}
	return out
}

func weightedSum(entries []model.ReconciliationEntry) float64 {
	var total float64
	for _, e := range entries {
		if !e.Trimmed {
			total += e.Value * e.AdjustedWeight
		}
	}
	return total
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func popStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mu := mean(values)
	var ss float64
	for _, v := range values {
		ss += (v - mu) * (v - mu)
	}
	return math.Sqrt(ss / float64(len(values)))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }
