package settings

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// ErrInvalidPreset is returned when a preset document fails schema validation.
var ErrInvalidPreset = eris.New("settings: invalid preset")

const presetSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "definitions": {
    "rate": {"type": "number", "minimum": 0, "maximum": 1},
    "byTypeRate": {
      "type": "object", "additionalProperties": false,
      "properties": {"snf": {"$ref": "#/definitions/rate"}, "alf": {"$ref": "#/definitions/rate"}, "ilf": {"$ref": "#/definitions/rate"}}
    },
    "byType": {
      "type": "object", "additionalProperties": false,
      "properties": {"snf": {"type": "number", "minimum": 0}, "alf": {"type": "number", "minimum": 0}, "ilf": {"type": "number", "minimum": 0}}
    },
    "tiers": {
      "type": "array",
      "items": {"type": "object", "required": ["min", "value"], "properties": {"min": {"type": "number"}, "value": {"type": "number"}}}
    },
    "method": {
      "type": "object", "additionalProperties": false,
      "properties": {"enabled": {"type": "boolean"}, "weight": {"type": "number", "minimum": 0}}
    }
  },
  "properties": {
    "cap_rate": {
      "type": "object",
      "properties": {
        "base_rate": {"$ref": "#/definitions/byTypeRate"},
        "min_rate": {"$ref": "#/definitions/rate"},
        "quality": {"$ref": "#/definitions/tiers"},
        "size": {"$ref": "#/definitions/tiers"},
        "age": {"$ref": "#/definitions/tiers"},
        "occupancy": {"$ref": "#/definitions/tiers"},
        "location": {"type": "object"},
        "market": {"type": "object"}
      }
    },
    "price_per_bed": {
      "type": "object",
      "properties": {"base": {"$ref": "#/definitions/byType"}}
    },
    "dcf": {
      "type": "object",
      "properties": {
        "hold_years": {"type": "integer", "minimum": 1, "maximum": 30},
        "discount_rate": {"$ref": "#/definitions/byTypeRate"},
        "exit_cap_rate": {"$ref": "#/definitions/byTypeRate"},
        "revenue_growth": {"type": "number", "minimum": -1, "maximum": 1},
        "expense_growth": {"type": "number", "minimum": -1, "maximum": 1},
        "capex_percent": {"$ref": "#/definitions/rate"},
        "selling_costs": {"$ref": "#/definitions/rate"},
        "initial_capex": {"type": "number", "minimum": 0},
        "noi_growth_rate": {"type": ["number", "null"]},
        "target_occupancy": {"type": "number", "minimum": 0, "maximum": 100},
        "years_to_stabilize": {"type": "integer", "minimum": 0}
      }
    },
    "noi_multiple": {
      "type": "object",
      "properties": {
        "base": {"$ref": "#/definitions/byType"},
        "min_multiple": {"type": "number", "minimum": 0}
      }
    },
    "comparables": {
      "type": "object",
      "properties": {
        "max_age_months": {"type": "integer", "minimum": 1},
        "max_distance_miles": {"type": "number", "minimum": 0},
        "min_comparables": {"type": "integer", "minimum": 1},
        "top_n": {"type": "integer", "minimum": 1}
      }
    },
    "replacement_cost": {
      "type": "object",
      "properties": {
        "cost_per_sf": {"$ref": "#/definitions/byType"},
        "soft_cost_pct": {"$ref": "#/definitions/rate"},
        "entrepreneurial_incentive": {"$ref": "#/definitions/rate"},
        "useful_life": {"type": "number", "exclusiveMinimum": 0},
        "residual_pct": {"$ref": "#/definitions/rate"},
        "functional_obsolescence": {"$ref": "#/definitions/rate"},
        "external_obsolescence": {"$ref": "#/definitions/rate"}
      }
    },
    "methods": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "cap_rate": {"$ref": "#/definitions/method"},
        "price_per_bed": {"$ref": "#/definitions/method"},
        "dcf": {"$ref": "#/definitions/method"},
        "noi_multiple": {"$ref": "#/definitions/method"},
        "comparable_sales": {"$ref": "#/definitions/method"},
        "replacement_cost": {"$ref": "#/definitions/method"}
      }
    },
    "reconciliation": {
      "type": "object",
      "properties": {
        "method": {"enum": ["weighted_average", "median", "mode_adjusted"]},
        "confidence_weighting": {"type": "boolean"},
        "trim_outliers": {"type": "boolean"},
        "outlier_threshold": {"type": "number", "exclusiveMinimum": 0}
      }
    }
  }
}`

// ValidatePreset checks a preset settings document against the preset schema.
func ValidatePreset(doc json.RawMessage) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(presetSchema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return eris.Wrap(err, "settings: validate preset")
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		sort.Strings(errs)
		return eris.Wrap(ErrInvalidPreset, strings.Join(errs, "; "))
	}
	return nil
}

// PresetFromYAML converts a YAML preset document into the JSON form stored
// and merged by the resolver.
func PresetFromYAML(data []byte) (json.RawMessage, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "settings: parse preset yaml")
	}
	if doc == nil {
		doc = map[string]any{}
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "settings: encode preset")
	}
	return out, nil
}

// ApplyPreset deep-merges a preset JSON object over base and returns the
// result. Nested objects merge key by key; arrays and scalars in the preset
// replace the base value, and bracket tables come back sorted. Keys that do
// not exist in Settings are ignored.
func ApplyPreset(base Settings, preset json.RawMessage) (Settings, error) {
	baseMap, err := toMap(base)
	if err != nil {
		return Settings{}, err
	}
	var overlay map[string]any
	if err := json.Unmarshal(preset, &overlay); err != nil {
		return Settings{}, eris.Wrap(err, "settings: decode preset")
	}

	merged, err := json.Marshal(DeepMerge(baseMap, overlay))
	if err != nil {
		return Settings{}, eris.Wrap(err, "settings: encode merged preset")
	}
	var out Settings
	if err := json.Unmarshal(merged, &out); err != nil {
		return Settings{}, eris.Wrap(err, "settings: decode merged preset")
	}
	out.SortTiers()
	return out, nil
}

// DeepMerge returns dst with src merged over it. Neither input is modified.
func DeepMerge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst))
	for k, v := range dst {
		out[k] = v
	}
	for k, sv := range src {
		srcObj, srcIsObj := sv.(map[string]any)
		dstObj, dstIsObj := out[k].(map[string]any)
		if srcIsObj && dstIsObj {
			out[k] = DeepMerge(dstObj, srcObj)
			continue
		}
		out[k] = sv
	}
	return out
}

// Flatten returns every leaf of s keyed by dotted JSON path. Arrays are
// leaves.
func Flatten(s Settings) (map[string]any, error) {
	m, err := toMap(s)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	flattenInto(out, "", m)
	return out, nil
}

// LeafEqual compares two leaves produced by Flatten.
func LeafEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func flattenInto(out map[string]any, prefix string, m map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			flattenInto(out, path, child)
			continue
		}
		out[path] = v
	}
}

func toMap(s Settings) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, eris.Wrap(err, "settings: encode")
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "settings: decode")
	}
	return m, nil
}
