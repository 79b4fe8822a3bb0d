package recalc

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/underwriter/internal/settings"
	"github.com/sells-group/underwriter/internal/valuation"
)

const (
	defaultSweepRange  = 0.20
	defaultSweepSteps  = 9
	defaultTornadoPct  = 0.10
	maxSweepSteps      = 101
	elasticityMinDelta = 1e-12
)

// Sweep selects the parameter values of a sensitivity analysis. Explicit
// Values win; otherwise Steps evenly spaced points span Min..Max, and a
// zero range defaults to the base value plus or minus 20%.
type Sweep struct {
	Param  string    `json:"param"`
	Min    float64   `json:"min,omitempty"`
	Max    float64   `json:"max,omitempty"`
	Steps  int       `json:"steps,omitempty"`
	Values []float64 `json:"values,omitempty"`
}

// SensitivityPoint is one evaluated parameter value.
type SensitivityPoint struct {
	ParamValue     float64 `json:"param_value"`
	Value          float64 `json:"value"`
	ParamChangePct float64 `json:"param_change_pct"`
	ValueChangePct float64 `json:"value_change_pct"`
}

// SensitivityResult is a single-parameter sweep.
type SensitivityResult struct {
	Param          string             `json:"param"`
	BaseParamValue float64            `json:"base_param_value"`
	BaseValue      float64            `json:"base_value"`
	Points         []SensitivityPoint `json:"points"`
	// Elasticity is the mean of value %-change over parameter %-change
	// across points where both are defined.
	Elasticity float64 `json:"elasticity"`
}

// TornadoInput is one bar of a tornado chart. Zero Low/High default to the
// base value minus/plus 10%.
type TornadoInput struct {
	Param string  `json:"param"`
	Low   float64 `json:"low,omitempty"`
	High  float64 `json:"high,omitempty"`
}

// TornadoBar is the value swing of one parameter.
type TornadoBar struct {
	Param     string  `json:"param"`
	BaseInput float64 `json:"base_input"`
	LowInput  float64 `json:"low_input"`
	HighInput float64 `json:"high_input"`
	LowValue  float64 `json:"low_value"`
	HighValue float64 `json:"high_value"`
	Swing     float64 `json:"swing"`
}

// TornadoResult ranks parameters by absolute swing, largest first.
type TornadoResult struct {
	BaseValue float64      `json:"base_value"`
	Bars      []TornadoBar `json:"bars"`
}

func (s Sweep) points(base float64) ([]float64, error) {
	if len(s.Values) > maxSweepSteps {
		return nil, eris.Wrapf(ErrInvalidRequest, "at most %d sweep values, got %d", maxSweepSteps, len(s.Values))
	}
	if len(s.Values) > 0 {
		return s.Values, nil
	}
	lo, hi := s.Min, s.Max
	if lo == 0 && hi == 0 {
		if base == 0 {
			return nil, eris.Wrapf(ErrInvalidRequest, "%s has a zero base value; give an explicit range", s.Param)
		}
		lo, hi = base*(1-defaultSweepRange), base*(1+defaultSweepRange)
		if lo > hi {
			lo, hi = hi, lo
		}
	}
	if hi < lo {
		return nil, eris.Wrapf(ErrInvalidRequest, "sweep max %v below min %v", hi, lo)
	}
	steps := s.Steps
	if steps <= 0 {
		steps = defaultSweepSteps
	}
	if steps > maxSweepSteps {
		return nil, eris.Wrapf(ErrInvalidRequest, "at most %d sweep steps", maxSweepSteps)
	}
	if steps == 1 {
		return []float64{lo}, nil
	}
	out := make([]float64, steps)
	step := (hi - lo) / float64(steps-1)
	for i := range out {
		out[i] = lo + step*float64(i)
	}
	out[steps-1] = hi
	return out, nil
}

// Sensitivity sweeps one parameter over a range and reports each point's
// value and the average elasticity.
func (e *Engine) Sensitivity(ctx context.Context, req Request, sweep Sweep) (res *SensitivityResult, err error) {
	ctx, span := e.tracer.Start(ctx, "recalc.Sensitivity", trace.WithAttributes(
		attribute.String("deal_id", req.DealID),
		attribute.String("param", sweep.Param),
	))
	defer func() { endSpan(span, err) }()
	defer e.observe("sensitivity", time.Now())

	p, err := numericParam(sweep.Param)
	if err != nil {
		return nil, err
	}
	base, baseValue, err := e.resolveBase(ctx, req)
	if err != nil {
		return nil, err
	}
	baseParam, err := base.GetFloat(p)
	if err != nil {
		return nil, eris.Wrapf(ErrInvalidRequest, "%v", err)
	}
	xs, err := sweep.points(baseParam)
	if err != nil {
		return nil, err
	}

	sets := make([]map[settings.Param]float64, len(xs))
	for i, x := range xs {
		sets[i] = map[settings.Param]float64{p: x}
	}
	values, err := e.evaluate(ctx, base, req.Input, sets)
	if err != nil {
		return nil, err
	}

	res = &SensitivityResult{
		Param:          sweep.Param,
		BaseParamValue: baseParam,
		BaseValue:      baseValue,
		Points:         make([]SensitivityPoint, len(xs)),
	}
	var sum float64
	var n int
	for i, x := range xs {
		pt := SensitivityPoint{ParamValue: x, Value: values[i]}
		if math.Abs(baseParam) > elasticityMinDelta {
			pt.ParamChangePct = (x - baseParam) / baseParam * 100
		}
		if math.Abs(baseValue) > elasticityMinDelta {
			pt.ValueChangePct = (values[i] - baseValue) / baseValue * 100
		}
		if math.Abs(pt.ParamChangePct) > elasticityMinDelta && math.Abs(baseValue) > elasticityMinDelta {
			sum += pt.ValueChangePct / pt.ParamChangePct
			n++
		}
		res.Points[i] = pt
	}
	if n > 0 {
		res.Elasticity = sum / float64(n)
	}

	zap.L().Debug("recalc: sensitivity",
		zap.String("deal_id", req.DealID),
		zap.String("param", sweep.Param),
		zap.Int("points", len(xs)),
		zap.Float64("elasticity", res.Elasticity),
	)
	return res, nil
}

// Tornado evaluates each parameter at its low and high value and ranks the
// parameters by absolute value swing. Ties keep parameter order by name.
func (e *Engine) Tornado(ctx context.Context, req Request, inputs []TornadoInput) (res *TornadoResult, err error) {
	ctx, span := e.tracer.Start(ctx, "recalc.Tornado", trace.WithAttributes(
		attribute.String("deal_id", req.DealID),
		attribute.Int("params", len(inputs)),
	))
	defer func() { endSpan(span, err) }()
	defer e.observe("tornado", time.Now())

	if len(inputs) == 0 {
		return nil, eris.Wrap(ErrInvalidRequest, "tornado needs at least one parameter")
	}
	ps := make([]settings.Param, len(inputs))
	for i, in := range inputs {
		if ps[i], err = numericParam(in.Param); err != nil {
			return nil, err
		}
	}

	base, baseValue, err := e.resolveBase(ctx, req)
	if err != nil {
		return nil, err
	}

	bars := make([]TornadoBar, len(inputs))
	sets := make([]map[settings.Param]float64, 0, 2*len(inputs))
	for i, in := range inputs {
		x, err := base.GetFloat(ps[i])
		if err != nil {
			return nil, eris.Wrapf(ErrInvalidRequest, "%v", err)
		}
		lo, hi := in.Low, in.High
		if lo == 0 && hi == 0 {
			lo, hi = x*(1-defaultTornadoPct), x*(1+defaultTornadoPct)
		}
		bars[i] = TornadoBar{Param: in.Param, BaseInput: x, LowInput: lo, HighInput: hi}
		sets = append(sets,
			map[settings.Param]float64{ps[i]: lo},
			map[settings.Param]float64{ps[i]: hi},
		)
	}

	values, err := e.evaluate(ctx, base, req.Input, sets)
	if err != nil {
		return nil, err
	}
	for i := range bars {
		bars[i].LowValue = values[2*i]
		bars[i].HighValue = values[2*i+1]
		bars[i].Swing = math.Abs(bars[i].HighValue - bars[i].LowValue)
	}
	sort.SliceStable(bars, func(a, b int) bool {
		if bars[a].Swing != bars[b].Swing {
			return bars[a].Swing > bars[b].Swing
		}
		return bars[a].Param < bars[b].Param
	})

	return &TornadoResult{BaseValue: baseValue, Bars: bars}, nil
}

// evaluate values every parameter set against base on a bounded worker
// group. Results are positional.
func (e *Engine) evaluate(ctx context.Context, base settings.Settings, in valuation.Input, sets []map[settings.Param]float64) ([]float64, error) {
	out := make([]float64, len(sets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, set := range sets {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, err := e.valueAt(base, in, set)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "recalc: evaluate")
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "recalc: evaluate")
	}
	return out, nil
}
