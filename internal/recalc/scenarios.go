package recalc

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/underwriter/internal/model"
	"github.com/sells-group/underwriter/internal/params"
)

// Scenario is a named set of overrides applied on top of the request's
// session inputs.
type Scenario struct {
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description,omitempty" yaml:"description"`
	Overrides   params.Inputs `json:"overrides" yaml:"overrides"`
}

// ScenarioResult is one scenario's value and its difference from the
// baseline.
type ScenarioResult struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Value       float64            `json:"value"`
	Confidence  model.Confidence   `json:"confidence"`
	Diff        float64            `json:"diff"`
	DiffPct     float64            `json:"diff_pct"`
	Rejected    []params.Rejection `json:"rejected,omitempty"`
}

// ScenarioComparison holds the shared baseline and every scenario.
type ScenarioComparison struct {
	BaselineValue      float64          `json:"baseline_value"`
	BaselineConfidence model.Confidence `json:"baseline_confidence"`
	Scenarios          []ScenarioResult `json:"scenarios"`
}

type scenarioFile struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// LoadScenarios parses a YAML document with a top-level scenarios list.
func LoadScenarios(data []byte) ([]Scenario, error) {
	var f scenarioFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "recalc: parse scenarios")
	}
	seen := make(map[string]bool, len(f.Scenarios))
	for i, s := range f.Scenarios {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return nil, eris.Wrapf(ErrInvalidRequest, "scenario %d has no name", i+1)
		}
		if seen[name] {
			return nil, eris.Wrapf(ErrInvalidRequest, "duplicate scenario %q", name)
		}
		seen[name] = true
		f.Scenarios[i].Name = name
	}
	return f.Scenarios, nil
}

// CompareScenarios values the baseline request and each scenario, reporting
// absolute and percentage differences. Scenario overrides resolve leniently:
// invalid entries are listed per scenario instead of failing the run.
func (e *Engine) CompareScenarios(ctx context.Context, req Request, scenarios []Scenario) (res *ScenarioComparison, err error) {
	ctx, span := e.tracer.Start(ctx, "recalc.CompareScenarios", trace.WithAttributes(
		attribute.String("deal_id", req.DealID),
		attribute.Int("scenarios", len(scenarios)),
	))
	defer func() { endSpan(span, err) }()
	defer e.observe("scenarios", time.Now())

	if len(scenarios) == 0 {
		return nil, eris.Wrap(ErrInvalidRequest, "no scenarios")
	}

	baseline, err := e.compute(ctx, req)
	if err != nil {
		return nil, err
	}
	baseValue := baseline.Valuation.Result.ReconciledValue

	results := make([]ScenarioResult, len(scenarios))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, sc := range scenarios {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			inputs := make(params.Inputs, len(req.Inputs)+len(sc.Overrides))
			maps.Copy(inputs, req.Inputs)
			maps.Copy(inputs, sc.Overrides)

			entry, err := e.compute(gctx, Request{DealID: req.DealID, Input: req.Input, Inputs: inputs})
			if err != nil {
				return eris.Wrapf(err, "scenario %q", sc.Name)
			}
			v := entry.Valuation.Result.ReconciledValue
			r := ScenarioResult{
				Name:        sc.Name,
				Description: sc.Description,
				Value:       v,
				Confidence:  entry.Valuation.Result.Confidence,
				Diff:        v - baseValue,
				Rejected:    entry.Parameters.Rejected,
			}
			if baseValue != 0 {
				r.DiffPct = (v - baseValue) / baseValue * 100
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "recalc: compare scenarios")
	}

	return &ScenarioComparison{
		BaselineValue:      baseValue,
		BaselineConfidence: baseline.Valuation.Result.Confidence,
		Scenarios:          results,
	}, nil
}
