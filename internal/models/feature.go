package models

import (
	"encoding/json"
	"fmt"
)

// FeatureKind enumerates the value categories a feature may carry.
type FeatureKind string

const (
	FeatureNumeric     FeatureKind = "numeric"
	FeatureBoolean     FeatureKind = "boolean"
	FeatureCategorical FeatureKind = "categorical"
	FeatureVector      FeatureKind = "vector"
	FeatureNested      FeatureKind = "nested"
)

// FeatureValue is a tagged union over the value types a telemetry feature can hold.
// Exactly one payload field is meaningful, selected by Kind.
type FeatureValue struct {
	Kind   FeatureKind
	Number float64
	Bool   bool
	Text   string
	Vector []float64
	Nested map[string]FeatureValue
}

// Number wraps a numeric feature value.
func Number(v float64) FeatureValue {
	return FeatureValue{Kind: FeatureNumeric, Number: v}
}

// Boolean wraps a boolean feature value.
func Boolean(v bool) FeatureValue {
	return FeatureValue{Kind: FeatureBoolean, Bool: v}
}

// Categorical wraps a string feature value.
func Categorical(v string) FeatureValue {
	return FeatureValue{Kind: FeatureCategorical, Text: v}
}

// VectorValue wraps a numeric sequence feature value.
func VectorValue(v []float64) FeatureValue {
	return FeatureValue{Kind: FeatureVector, Vector: v}
}

// NestedValue wraps a nested feature mapping.
func NestedValue(v map[string]FeatureValue) FeatureValue {
	return FeatureValue{Kind: FeatureNested, Nested: v}
}

// MarshalJSON renders the underlying value without the union envelope, so wire
// payloads stay plain JSON.
func (f FeatureValue) MarshalJSON() ([]byte, error) {
	switch f.Kind {
	case FeatureNumeric:
		return json.Marshal(f.Number)
	case FeatureBoolean:
		return json.Marshal(f.Bool)
	case FeatureCategorical:
		return json.Marshal(f.Text)
	case FeatureVector:
		return json.Marshal(f.Vector)
	case FeatureNested:
		return json.Marshal(f.Nested)
	default:
		return nil, fmt.Errorf("unknown feature kind %q", f.Kind)
	}
}

// UnmarshalJSON infers the union arm from the JSON value shape.
func (f *FeatureValue) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	value, err := FeatureFromAny(raw)
	if err != nil {
		return err
	}
	*f = value
	return nil
}

// FeatureFromAny converts a decoded JSON value into a FeatureValue.
func FeatureFromAny(raw interface{}) (FeatureValue, error) {
	switch v := raw.(type) {
	case float64:
		return Number(v), nil
	case int:
		return Number(float64(v)), nil
	case bool:
		return Boolean(v), nil
	case string:
		return Categorical(v), nil
	case []interface{}:
		vector := make([]float64, 0, len(v))
		for _, elem := range v {
			num, ok := elem.(float64)
			if !ok {
				return FeatureValue{}, fmt.Errorf("vector features must be numeric, got %T", elem)
			}
			vector = append(vector, num)
		}
		return VectorValue(vector), nil
	case map[string]interface{}:
		nested := make(map[string]FeatureValue, len(v))
		for key, elem := range v {
			value, err := FeatureFromAny(elem)
			if err != nil {
				return FeatureValue{}, fmt.Errorf("nested feature %q: %w", key, err)
			}
			nested[key] = value
		}
		return NestedValue(nested), nil
	case nil:
		return FeatureValue{}, fmt.Errorf("feature value cannot be null")
	default:
		return FeatureValue{}, fmt.Errorf("unsupported feature type %T", raw)
	}
}

// Clone returns a deep copy of the feature value.
func (f FeatureValue) Clone() FeatureValue {
	out := f
	if f.Vector != nil {
		out.Vector = append([]float64(nil), f.Vector...)
	}
	if f.Nested != nil {
		nested := make(map[string]FeatureValue, len(f.Nested))
		for key, value := range f.Nested {
			nested[key] = value.Clone()
		}
		out.Nested = nested
	}
	return out
}

// CloneFeatures deep-copies a feature bag.
func CloneFeatures(features map[string]FeatureValue) map[string]FeatureValue {
	if features == nil {
		return nil
	}
	out := make(map[string]FeatureValue, len(features))
	for key, value := range features {
		out[key] = value.Clone()
	}
	return out
}
