package models

import (
	"reflect"
	"strings"
)

// Operator is a comparison used by edge and step conditions.
type Operator string

const (
	OperatorEquals    Operator = "equals"
	OperatorNotEquals Operator = "not_equals"
	OperatorGreater   Operator = "greater"
	OperatorLess      Operator = "less"
	OperatorContains  Operator = "contains"
	OperatorExists    Operator = "exists"
)

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	switch o {
	case OperatorEquals, OperatorNotEquals, OperatorGreater, OperatorLess, OperatorContains, OperatorExists:
		return true
	default:
		return false
	}
}

// Condition compares the value found at Field (a dot path into the data) with Value.
type Condition struct {
	Field    string   `json:"field"           validate:"required"`
	Operator Operator `json:"operator"        validate:"required"`
	Value    any      `json:"value,omitempty"`
}

// Evaluate is a pure function of the condition and data. Unknown operators evaluate false.
func (c Condition) Evaluate(data map[string]any) bool {
	actual := Lookup(data, c.Field)

	switch c.Operator {
	case OperatorEquals:
		return valuesEqual(actual, c.Value)
	case OperatorNotEquals:
		return !valuesEqual(actual, c.Value)
	case OperatorGreater:
		cmp, ok := compare(actual, c.Value)

		return ok && cmp > 0
	case OperatorLess:
		cmp, ok := compare(actual, c.Value)

		return ok && cmp < 0
	case OperatorContains:
		return contains(actual, c.Value)
	case OperatorExists:
		return actual != nil
	default:
		return false
	}
}

// ConditionFromMap decodes a condition stored in a step config.
func ConditionFromMap(raw any) (Condition, bool) {
	switch v := raw.(type) {
	case Condition:
		return v, true
	case *Condition:
		if v == nil {
			return Condition{}, false
		}

		return *v, true
	case map[string]any:
		field, _ := v["field"].(string)
		operator, _ := v["operator"].(string)

		if field == "" || !Operator(operator).Valid() {
			return Condition{}, false
		}

		return Condition{Field: field, Operator: Operator(operator), Value: v["value"]}, true
	default:
		return Condition{}, false
	}
}

// Lookup resolves a dot path ("a.b.c") inside nested maps. Missing segments yield nil.
func Lookup(data map[string]any, path string) any {
	if path == "" {
		return nil
	}

	var current any = data

	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil
			}

			current = value
		case map[string]string:
			value, ok := node[segment]
			if !ok {
				return nil
			}

			current = value
		default:
			return nil
		}
	}

	return current
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func valuesEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)

	if aok && bok {
		return af == bf
	}

	return reflect.DeepEqual(a, b)
}

func compare(a, b any) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)

	if aok && bok {
		switch {
		case af > bf:
			return 1, true
		case af < bf:
			return -1, true
		default:
			return 0, true
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)

	if aok && bok {
		return strings.Compare(as, bs), true
	}

	return 0, false
}

func contains(container, item any) bool {
	switch c := container.(type) {
	case string:
		s, ok := item.(string)

		return ok && strings.Contains(c, s)
	case []any:
		for _, element := range c {
			if valuesEqual(element, item) {
				return true
			}
		}

		return false
	case []string:
		s, ok := item.(string)
		if !ok {
			return false
		}

		for _, element := range c {
			if element == s {
				return true
			}
		}

		return false
	case map[string]any:
		key, ok := item.(string)
		if !ok {
			return false
		}

		_, found := c[key]

		return found
	default:
		return false
	}
}
