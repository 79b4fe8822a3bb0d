package recalc

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sells-group/underwriter/internal/settings"
)

// Distribution kinds.
const (
	DistUniform    = "uniform"
	DistNormal     = "normal"
	DistTriangular = "triangular"
)

const histogramBuckets = 20

// Distribution describes how one parameter is sampled. Uniform and
// triangular use Min/Max (and Mode); normal uses Mean/StdDev.
type Distribution struct {
	Kind   string  `json:"kind" yaml:"kind"`
	Min    float64 `json:"min,omitempty" yaml:"min"`
	Max    float64 `json:"max,omitempty" yaml:"max"`
	Mode   float64 `json:"mode,omitempty" yaml:"mode"`
	Mean   float64 `json:"mean,omitempty" yaml:"mean"`
	StdDev float64 `json:"std_dev,omitempty" yaml:"std_dev"`
}

// Validate checks the distribution's shape parameters.
func (d Distribution) Validate() error {
	switch d.Kind {
	case DistUniform:
		if d.Max < d.Min {
			return eris.Wrapf(ErrInvalidRequest, "uniform max %v below min %v", d.Max, d.Min)
		}
	case DistTriangular:
		if d.Max < d.Min || d.Mode < d.Min || d.Mode > d.Max {
			return eris.Wrapf(ErrInvalidRequest, "triangular needs min <= mode <= max, got %v/%v/%v", d.Min, d.Mode, d.Max)
		}
	case DistNormal:
		if d.StdDev < 0 {
			return eris.Wrapf(ErrInvalidRequest, "normal std_dev %v is negative", d.StdDev)
		}
	default:
		return eris.Wrapf(ErrInvalidRequest, "unknown distribution %q", d.Kind)
	}
	return nil
}

// Sample draws one value.
func (d Distribution) Sample(r *rand.Rand) float64 {
	switch d.Kind {
	case DistNormal:
		// Box-Muller; 1-Float64 keeps u1 in (0, 1].
		u1 := 1 - r.Float64()
		u2 := r.Float64()
		z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
		return d.Mean + d.StdDev*z
	case DistTriangular:
		span := d.Max - d.Min
		if span == 0 {
			return d.Min
		}
		u := r.Float64()
		c := (d.Mode - d.Min) / span
		if u < c {
			return d.Min + math.Sqrt(u*span*(d.Mode-d.Min))
		}
		return d.Max - math.Sqrt((1-u)*span*(d.Max-d.Mode))
	default:
		return d.Min + r.Float64()*(d.Max-d.Min)
	}
}

// Variable binds a parameter to a distribution.
type Variable struct {
	Param        string `json:"param" yaml:"param"`
	Distribution `yaml:",inline"`
}

// Simulation configures a Monte Carlo run. Zero Iterations uses the
// configured default; a zero Seed is replaced with a time-derived one that is
// reported in the result.
type Simulation struct {
	Variables  []Variable `json:"variables" yaml:"variables"`
	Iterations int        `json:"iterations,omitempty" yaml:"iterations"`
	Seed       uint64     `json:"seed,omitempty" yaml:"seed"`
}

// Percentiles of the simulated value distribution.
type Percentiles struct {
	P5  float64 `json:"p5"`
	P10 float64 `json:"p10"`
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
}

// Bucket is one histogram bin, [Min, Max).
type Bucket struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// MonteCarloResult summarizes the simulated reconciled values. Skipped
// counts draws that fell outside a parameter's accepted range.
type MonteCarloResult struct {
	Iterations  int         `json:"iterations"`
	Seed        uint64      `json:"seed"`
	BaseValue   float64     `json:"base_value"`
	Mean        float64     `json:"mean"`
	Median      float64     `json:"median"`
	StdDev      float64     `json:"std_dev"`
	Min         float64     `json:"min"`
	Max         float64     `json:"max"`
	Percentiles Percentiles `json:"percentiles"`
	Histogram   []Bucket    `json:"histogram"`
	Skipped     int         `json:"skipped,omitempty"`
	Note        string      `json:"note,omitempty"`
}

// MonteCarlo samples every variable per iteration and values the deal with
// the drawn parameters. Draws are taken sequentially from one seeded
// generator, so a fixed seed reproduces the result regardless of how the
// evaluations are scheduled.
func (e *Engine) MonteCarlo(ctx context.Context, req Request, sim Simulation) (res *MonteCarloResult, err error) {
	ctx, span := e.tracer.Start(ctx, "recalc.MonteCarlo", trace.WithAttributes(
		attribute.String("deal_id", req.DealID),
		attribute.Int("variables", len(sim.Variables)),
	))
	defer func() { endSpan(span, err) }()
	defer e.observe("monte_carlo", time.Now())

	n := sim.Iterations
	if n == 0 {
		n = e.cfg.DefaultIterations
	}
	if n > e.cfg.MonteCarloMaxIterations {
		return nil, eris.Wrapf(ErrInvalidRequest, "at most %d iterations, got %d", e.cfg.MonteCarloMaxIterations, n)
	}
	if n < e.cfg.MonteCarloMinIterations {
		return &MonteCarloResult{
			Iterations: n,
			Histogram:  []Bucket{},
			Note:       fmt.Sprintf("Insufficient iterations (%d/%d)", n, e.cfg.MonteCarloMinIterations),
		}, nil
	}
	if len(sim.Variables) == 0 {
		return nil, eris.Wrap(ErrInvalidRequest, "monte carlo needs at least one variable")
	}
	ps := make([]settings.Param, len(sim.Variables))
	for i, v := range sim.Variables {
		if ps[i], err = numericParam(v.Param); err != nil {
			return nil, err
		}
		if err = v.Validate(); err != nil {
			return nil, eris.Wrapf(err, "%s", v.Param)
		}
	}

	seed := sim.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	span.SetAttributes(attribute.Int("iterations", n), attribute.Int64("seed", int64(seed)))

	base, baseValue, err := e.resolveBase(ctx, req)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	draws := make([]map[settings.Param]float64, 0, n)
	for range n {
		set := make(map[settings.Param]float64, len(ps))
		ok := true
		for j, v := range sim.Variables {
			x := v.Sample(rng)
			if settings.CheckValue(ps[j], x) != nil {
				ok = false
			}
			set[ps[j]] = x
		}
		if ok {
			draws = append(draws, set)
		}
	}
	skipped := n - len(draws)
	if len(draws) == 0 {
		return nil, eris.Wrap(ErrInvalidRequest, "every draw fell outside the parameters' accepted ranges")
	}

	values, err := e.evaluate(ctx, base, req.Input, draws)
	if err != nil {
		return nil, err
	}
	e.metrics.MonteCarloDraws.Add(float64(len(draws)))

	res = summarize(values)
	res.Iterations = n
	res.Seed = seed
	res.BaseValue = baseValue
	res.Skipped = skipped
	if skipped > 0 {
		res.Note = fmt.Sprintf("%d of %d draws fell outside parameter ranges and were skipped", skipped, n)
	}

	zap.L().Info("recalc: monte carlo complete",
		zap.String("deal_id", req.DealID),
		zap.Int("iterations", n),
		zap.Int("skipped", skipped),
		zap.Float64("mean", res.Mean),
		zap.Float64("p5", res.Percentiles.P5),
		zap.Float64("p95", res.Percentiles.P95),
	)
	return res, nil
}

// summarize computes the descriptive statistics of values. It sorts a copy.
func summarize(values []float64) *MonteCarloResult {
	res := &MonteCarloResult{Histogram: []Bucket{}}
	if len(values) == 0 {
		return res
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))
	var ss float64
	for _, v := range sorted {
		ss += (v - mean) * (v - mean)
	}

	res.Mean = mean
	res.StdDev = math.Sqrt(ss / float64(len(sorted)))
	res.Min = sorted[0]
	res.Max = sorted[len(sorted)-1]
	res.Median = percentile(sorted, 50)
	res.Percentiles = Percentiles{
		P5:  percentile(sorted, 5),
		P10: percentile(sorted, 10),
		P25: percentile(sorted, 25),
		P50: res.Median,
		P75: percentile(sorted, 75),
		P90: percentile(sorted, 90),
		P95: percentile(sorted, 95),
	}
	res.Histogram = histogram(sorted, res.Min, res.Max)
	return res
}

// percentile interpolates linearly between closest ranks of sorted.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func histogram(values []float64, lo, hi float64) []Bucket {
	width := (hi - lo) / histogramBuckets
	buckets := make([]Bucket, histogramBuckets)
	for i := range buckets {
		buckets[i].Min = lo + width*float64(i)
		buckets[i].Max = lo + width*float64(i+1)
	}
	buckets[histogramBuckets-1].Max = hi
	for _, v := range values {
		idx := 0
		if width > 0 {
			idx = min(int((v-lo)/width), histogramBuckets-1)
		}
		buckets[idx].Count++
	}
	return buckets
}
