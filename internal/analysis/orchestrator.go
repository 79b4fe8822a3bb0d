// Package analysis sequences one underwriting run: extraction, normalization,
// risk, valuation and synthesis. Progress is reported through a callback,
// which is also the single channel for failures.
package analysis

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sells-group/underwriter/internal/cms"
	"github.com/sells-group/underwriter/internal/financials"
	"github.com/sells-group/underwriter/internal/model"
	"github.com/sells-group/underwriter/internal/params"
	"github.com/sells-group/underwriter/internal/recalc"
	"github.com/sells-group/underwriter/internal/resilience"
	"github.com/sells-group/underwriter/internal/risk"
	"github.com/sells-group/underwriter/internal/store"
	"github.com/sells-group/underwriter/internal/valuation"
)

// Stage names a step of the run as reported to the progress callback.
type Stage string

// Stages in run order. StageError is terminal and replaces StageComplete.
const (
	StageExtraction    Stage = "extraction"
	StageNormalization Stage = "normalization"
	StageRisk          Stage = "risk"
	StageValuation     Stage = "valuation"
	StageSynthesis     Stage = "synthesis"
	StageComplete      Stage = "complete"
	StageError         Stage = "error"
)

var stagePercent = map[Stage]int{
	StageExtraction:    10,
	StageNormalization: 30,
	StageRisk:          50,
	StageValuation:     70,
	StageSynthesis:     90,
	StageComplete:      100,
}

// ErrNoExtraction is returned when a request carries neither documents an
// extractor can read nor pre-extracted data.
var ErrNoExtraction = eris.New("analysis: nothing to extract")

// Progress is one event delivered to the callback.
type Progress struct {
	AnalysisID string    `json:"analysis_id"`
	Stage      Stage     `json:"stage"`
	Percent    int       `json:"percent"`
	Message    string    `json:"message,omitempty"`
	Errors     []string  `json:"errors,omitempty"`
	Time       time.Time `json:"time"`
}

// ProgressFunc receives progress events. It is called on the goroutine
// running the analysis and must not block for long.
type ProgressFunc func(Progress)

// Document is one uploaded source file.
type Document struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"-"`
}

// Extraction is what the extraction step produces from the documents.
type Extraction struct {
	Facility          model.FacilityProfile   `json:"facility"`
	Statement         *financials.Statement   `json:"statement,omitempty"`
	Operating         *model.OperatingMetrics `json:"operating,omitempty"`
	Market            *model.MarketData       `json:"market,omitempty"`
	State             *model.StateProfile     `json:"state,omitempty"`
	Comparables       []model.ComparableSale  `json:"comparables,omitempty"`
	AnnualDebtService float64                 `json:"annual_debt_service,omitempty"`
}

// Extractor turns documents into structured deal data.
type Extractor interface {
	Extract(ctx context.Context, docs []Document) (*Extraction, error)
}

// Normalizer adjusts a reported statement to market terms.
type Normalizer interface {
	Normalize(ctx context.Context, s financials.Statement, f model.FacilityProfile) (*financials.Normalized, error)
}

// CMSLookup resolves CMS data by certification number. *cms.Service
// satisfies it.
type CMSLookup interface {
	Lookup(ctx context.Context, ccn string) (*cms.Result, error)
}

// ComparableSource lists stored comparable sales.
type ComparableSource interface {
	ListComparables(ctx context.Context, filter store.CompFilter) ([]model.ComparableSale, error)
}

// Request is one analysis run. When Extraction is set the extraction step
// uses it instead of calling the extractor.
type Request struct {
	DealID     string        `json:"deal_id"`
	Documents  []Document    `json:"documents,omitempty"`
	Extraction *Extraction   `json:"extraction,omitempty"`
	Inputs     params.Inputs `json:"overrides,omitempty"`
	AsOf       time.Time     `json:"as_of,omitempty"`
}

// Synthesis is the combined underwriting call.
type Synthesis struct {
	Recommendation model.Recommendation `json:"recommendation"`
	Value          float64              `json:"value"`
	ValueLow       float64              `json:"value_low"`
	ValueHigh      float64              `json:"value_high"`
	ValuePerBed    float64              `json:"value_per_bed"`
	Confidence     model.Confidence     `json:"confidence"`
	RiskScore      float64              `json:"risk_score"`
	RiskRating     model.RiskRating     `json:"risk_rating"`
	DealBreakers   []string             `json:"deal_breakers,omitempty"`
	Headline       string               `json:"headline"`
}

// Result is a completed analysis.
type Result struct {
	AnalysisID string                 `json:"analysis_id"`
	DealID     string                 `json:"deal_id"`
	Extraction *Extraction            `json:"extraction"`
	Financials *financials.Normalized `json:"financials,omitempty"`
	CMS        *model.CMSData         `json:"cms,omitempty"`
	CMSSource  cms.Source             `json:"cms_source,omitempty"`
	Risk       *risk.Output           `json:"risk"`
	Valuation  *recalc.Entry          `json:"valuation"`
	Synthesis  Synthesis              `json:"synthesis"`
	Warnings   []string               `json:"warnings,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	Duration   time.Duration          `json:"duration"`
}

// Orchestrator runs analyses. Extractor, normalizer, CMS and comparables
// are optional; the engines are required.
type Orchestrator struct {
	extractor  Extractor
	normalizer Normalizer
	cms        CMSLookup
	comps      ComparableSource
	risk       *risk.Engine
	recalc     *recalc.Engine
	policy     resilience.Policy
	compLimit  int
	tracer     trace.Tracer

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithExtractor sets the document extractor.
func WithExtractor(x Extractor) Option { return func(o *Orchestrator) { o.extractor = x } }

// WithNormalizer sets the statement normalizer. Without one statements are
// used as reported.
func WithNormalizer(n Normalizer) Option { return func(o *Orchestrator) { o.normalizer = n } }

// WithCMS enables CMS enrichment for facilities with a certification number.
func WithCMS(c CMSLookup) Option { return func(o *Orchestrator) { o.cms = c } }

// WithComparables adds stored comparable sales to extracted ones.
func WithComparables(c ComparableSource, limit int) Option {
	return func(o *Orchestrator) {
		o.comps = c
		if limit > 0 {
			o.compLimit = limit
		}
	}
}

// WithPolicy sets the retry policy for persistence reads.
func WithPolicy(p resilience.Policy) Option { return func(o *Orchestrator) { o.policy = p } }

// New creates an Orchestrator over the given engines.
func New(riskEngine *risk.Engine, recalcEngine *recalc.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		risk:      riskEngine,
		recalc:    recalcEngine,
		policy:    resilience.DefaultPolicy(),
		compLimit: 50,
		tracer:    otel.Tracer("github.com/sells-group/underwriter/internal/analysis"),
		nowFunc:   time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run carries per-analysis state between stages.
type run struct {
	o        *Orchestrator
	req      Request
	progress ProgressFunc
	result   *Result
	log      *zap.Logger
}

// Run executes the stages in order. Any failure is reported as a StageError
// event carrying the message and then returned; progress may be nil.
func (o *Orchestrator) Run(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	if progress == nil {
		progress = func(Progress) {}
	}
	id := uuid.NewString()
	r := &run{
		o:        o,
		req:      req,
		progress: progress,
		result:   &Result{AnalysisID: id, DealID: req.DealID, StartedAt: o.nowFunc().UTC()},
		log:      zap.L().With(zap.String("analysis_id", id), zap.String("deal_id", req.DealID)),
	}

	ctx, span := o.tracer.Start(ctx, "analysis.Run", trace.WithAttributes(
		attribute.String("analysis_id", id),
		attribute.String("deal_id", req.DealID),
	))
	defer span.End()

	stages := []struct {
		stage Stage
		fn    func(context.Context) error
	}{
		{StageExtraction, r.extract},
		{StageNormalization, r.normalize},
		{StageRisk, r.assess},
		{StageValuation, r.valuate},
		{StageSynthesis, r.synthesize},
	}
	for _, s := range stages {
		if err := r.stage(ctx, s.stage, s.fn); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.log.Error("analysis: failed", zap.String("stage", string(s.stage)), zap.Error(err))
			r.emit(StageError, "", err.Error())
			return nil, err
		}
	}

	r.result.Duration = o.nowFunc().Sub(r.result.StartedAt)
	r.emit(StageComplete, r.result.Synthesis.Headline)
	r.log.Info("analysis: complete",
		zap.String("recommendation", string(r.result.Synthesis.Recommendation)),
		zap.Float64("value", r.result.Synthesis.Value),
		zap.Int("warnings", len(r.result.Warnings)),
		zap.Duration("duration", r.result.Duration),
	)
	return r.result, nil
}

func (r *run) stage(ctx context.Context, s Stage, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrapf(err, "analysis: %s", s)
	}
	r.emit(s, "")
	ctx, span := r.o.tracer.Start(ctx, "analysis."+string(s))
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return eris.Wrapf(err, "analysis: %s", s)
	}
	return nil
}

func (r *run) emit(s Stage, msg string, errs ...string) {
	r.progress(Progress{
		AnalysisID: r.result.AnalysisID,
		Stage:      s,
		Percent:    stagePercent[s],
		Message:    msg,
		Errors:     errs,
		Time:       r.o.nowFunc().UTC(),
	})
}

func (r *run) warn(msg string, err error) {
	r.log.Warn("analysis: "+msg, zap.Error(err))
	r.result.Warnings = append(r.result.Warnings, msg+": "+err.Error())
}

func (r *run) extract(ctx context.Context) error {
	if r.req.Extraction != nil {
		x := *r.req.Extraction
		x.Comparables = slices.Clone(x.Comparables)
		r.result.Extraction = &x
		return nil
	}
	if r.o.extractor == nil || len(r.req.Documents) == 0 {
		return ErrNoExtraction
	}
	x, err := r.o.extractor.Extract(ctx, r.req.Documents)
	if err != nil {
		return err
	}
	if x == nil {
		return ErrNoExtraction
	}
	r.result.Extraction = x
	return nil
}

// normalize prepares financials and enriches the facility with CMS data and
// stored comparables. Enrichment failures degrade to warnings.
func (r *run) normalize(ctx context.Context) error {
	x := r.result.Extraction

	if x.Statement != nil {
		r.result.Financials = financials.FromStatement(*x.Statement)
		if r.o.normalizer != nil {
			n, err := r.o.normalizer.Normalize(ctx, *x.Statement, x.Facility)
			switch {
			case err != nil:
				r.warn("normalization failed, using reported statement", err)
			case n != nil:
				r.result.Financials = n
			}
		}
	}

	if r.o.cms != nil && x.Facility.CertificationNumber != "" {
		res, err := r.o.cms.Lookup(ctx, x.Facility.CertificationNumber)
		if err != nil {
			r.warn("cms lookup failed", err)
		} else {
			r.result.CMS = res.Data
			r.result.CMSSource = res.Source
		}
	}

	if r.o.comps != nil {
		filter := store.CompFilter{
			AssetType: x.Facility.AssetType,
			State:     x.Facility.Address.State,
			Limit:     r.o.compLimit,
		}
		comps, err := resilience.Do(ctx, r.o.policy, "analysis.comparables", func(ctx context.Context) ([]model.ComparableSale, error) {
			return r.o.comps.ListComparables(ctx, filter)
		})
		if err != nil {
			r.warn("comparable lookup failed", err)
		} else {
			x.Comparables = append(x.Comparables, comps...)
		}
	}
	return nil
}

func (r *run) assess(context.Context) error {
	x := r.result.Extraction
	r.result.Risk = r.o.risk.Assess(risk.EvalData{
		Facility:          x.Facility,
		CMS:               r.result.CMS,
		Operating:         x.Operating,
		Financials:        r.result.Financials,
		Market:            x.Market,
		State:             x.State,
		AnnualDebtService: x.AnnualDebtService,
	})
	return nil
}

func (r *run) valuate(ctx context.Context) error {
	x := r.result.Extraction
	asOf := r.req.AsOf
	if asOf.IsZero() {
		asOf = r.result.StartedAt
	}
	entry, err := r.o.recalc.Recalculate(ctx, recalc.Request{
		DealID: r.req.DealID,
		Input: valuation.Input{
			Facility:    x.Facility,
			Financials:  r.result.Financials,
			CMS:         r.result.CMS,
			Operating:   x.Operating,
			Market:      x.Market,
			Comparables: x.Comparables,
			AsOf:        asOf,
		},
		Inputs: r.req.Inputs,
	})
	if err != nil {
		return err
	}
	r.result.Valuation = entry
	return nil
}

func (r *run) synthesize(context.Context) error {
	r.result.Synthesis = synthesize(r.result.Valuation.Valuation, r.result.Risk)
	return nil
}
