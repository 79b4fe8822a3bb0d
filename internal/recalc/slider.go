package recalc

import (
	"maps"
	"math"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/underwriter/internal/params"
	"github.com/sells-group/underwriter/internal/settings"
)

// Slider bounds one interactively adjusted parameter.
type Slider struct {
	Param   string  `json:"param"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Step    float64 `json:"step"`
	Default float64 `json:"default"`
}

// clamp bounds v to [Min, Max] and snaps it to the step grid anchored at Min.
func (s Slider) clamp(v float64) float64 {
	v = math.Max(s.Min, math.Min(s.Max, v))
	if s.Step > 0 {
		v = s.Min + math.Round((v-s.Min)/s.Step)*s.Step
		v = math.Max(s.Min, math.Min(s.Max, v))
	}
	return v
}

// differs reports whether v is more than half a step from the default.
func (s Slider) differs(v float64) bool {
	tol := s.Step / 2
	if tol == 0 {
		tol = 1e-9
	}
	return math.Abs(v-s.Default) > tol
}

// SliderFor builds a slider for path spanning rangePct around the value in
// base, with the given number of steps.
func SliderFor(base settings.Settings, path string, rangePct float64, steps int) (Slider, error) {
	p, err := numericParam(path)
	if err != nil {
		return Slider{}, err
	}
	v, err := base.GetFloat(p)
	if err != nil {
		return Slider{}, eris.Wrapf(ErrInvalidRequest, "%v", err)
	}
	lo, hi := v*(1-rangePct), v*(1+rangePct)
	if lo > hi {
		lo, hi = hi, lo
	}
	s := Slider{Param: path, Min: lo, Max: hi, Default: v}
	if steps > 0 {
		s.Step = (hi - lo) / float64(steps)
	}
	return s, nil
}

type sliderState struct {
	Slider
	value float64
}

// SliderCalculator tracks slider positions and schedules a debounced
// recalculation whenever one moves. Only positions that differ from their
// default are sent as overrides.
type SliderCalculator struct {
	calc *DebouncedCalculator
	base Request

	mu      sync.Mutex
	sliders map[string]*sliderState
}

// NewSliderCalculator validates the sliders and starts every one at its
// default.
func NewSliderCalculator(calc *DebouncedCalculator, base Request, sliders []Slider) (*SliderCalculator, error) {
	sc := &SliderCalculator{calc: calc, base: base, sliders: make(map[string]*sliderState, len(sliders))}
	for _, s := range sliders {
		if _, err := numericParam(s.Param); err != nil {
			return nil, err
		}
		if s.Max < s.Min || s.Default < s.Min || s.Default > s.Max || s.Step < 0 {
			return nil, eris.Wrapf(ErrInvalidRequest, "slider %s: need min <= default <= max and step >= 0", s.Param)
		}
		if _, dup := sc.sliders[s.Param]; dup {
			return nil, eris.Wrapf(ErrInvalidRequest, "duplicate slider %s", s.Param)
		}
		sc.sliders[s.Param] = &sliderState{Slider: s, value: s.Default}
	}
	return sc, nil
}

// Set moves a slider and schedules a recalculation. It returns the clamped
// value and the request's sequence number.
func (sc *SliderCalculator) Set(param string, v float64) (float64, uint64, error) {
	sc.mu.Lock()
	st, ok := sc.sliders[param]
	if !ok {
		sc.mu.Unlock()
		return 0, 0, eris.Wrapf(ErrInvalidRequest, "no slider for %s", param)
	}
	st.value = st.clamp(v)
	clamped := st.value
	req := sc.requestLocked()
	sc.mu.Unlock()

	return clamped, sc.calc.Request(req), nil
}

// Value returns a slider's current position.
func (sc *SliderCalculator) Value(param string) (float64, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	st, ok := sc.sliders[param]
	if !ok {
		return 0, false
	}
	return st.value, true
}

// Overrides returns the positions that differ from their defaults.
func (sc *SliderCalculator) Overrides() params.Inputs {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.overridesLocked()
}

func (sc *SliderCalculator) overridesLocked() params.Inputs {
	out := params.Inputs{}
	for name, st := range sc.sliders {
		if st.differs(st.value) {
			out[name] = st.value
		}
	}
	return out
}

// Reset returns every slider to its default and schedules a recalculation.
func (sc *SliderCalculator) Reset() uint64 {
	sc.mu.Lock()
	for _, st := range sc.sliders {
		st.value = st.Default
	}
	req := sc.requestLocked()
	sc.mu.Unlock()
	return sc.calc.Request(req)
}

// Sliders returns the slider definitions ordered by parameter.
func (sc *SliderCalculator) Sliders() []Slider {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	out := make([]Slider, 0, len(sc.sliders))
	for _, st := range sc.sliders {
		out = append(out, st.Slider)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Param < out[j].Param })
	return out
}

func (sc *SliderCalculator) requestLocked() Request {
	inputs := make(params.Inputs, len(sc.base.Inputs)+len(sc.sliders))
	maps.Copy(inputs, sc.base.Inputs)
	maps.Copy(inputs, sc.overridesLocked())
	return Request{DealID: sc.base.DealID, Input: sc.base.Input, Inputs: inputs}
}
