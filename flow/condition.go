package flow

import (
	"fmt"
	"reflect"
	"strings"
)

// Operator identifies a comparison applied by an edge condition.
type Operator string

// Supported condition operators.
const (
	OpEq Operator = "eq"
	OpNe Operator = "ne"
	OpGt Operator = "gt"
	OpLt Operator = "lt"
	OpGe Operator = "ge"
	OpLe Operator = "le"
	OpIn Operator = "in"
)

func (op Operator) valid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpLt, OpGe, OpLe, OpIn:
		return true
	}
	return false
}

// Condition is a predicate over workflow state guarding an edge.
//
// It compares state[Key] against Value using Operator. A missing key
// evaluates as nil. Relational operators (gt, lt, ge, le) require both
// operands to be mutually ordered, either numeric against numeric or string
// against string; comparing incompatible types is a hard
// CONDITION_TYPE_MISMATCH error rather than a silent false, so malformed
// workflow definitions fail loudly instead of routing down the wrong edge.
type Condition struct {
	Key      string   `json:"key" yaml:"key"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value" yaml:"value"`
}

// Evaluate applies the condition to the given state.
//
// Pure: it never mutates state and has no side effects. Returns an error
// only for type mismatches on ordered comparisons, a non-sequence Value
// under "in", or an unknown operator.
func (c Condition) Evaluate(state State) (bool, error) {
	val := state[c.Key] // missing key reads as nil

	switch c.Operator {
	case OpEq:
		return equalValues(val, c.Value), nil
	case OpNe:
		return !equalValues(val, c.Value), nil
	case OpGt, OpLt, OpGe, OpLe:
		cmp, err := compareOrdered(val, c.Value)
		if err != nil {
			return false, &EngineError{
				Code:    CodeConditionTypeMismatch,
				Message: fmt.Sprintf("condition on %q: %v", c.Key, err),
				Cause:   err,
			}
		}
		switch c.Operator {
		case OpGt:
			return cmp > 0, nil
		case OpLt:
			return cmp < 0, nil
		case OpGe:
			return cmp >= 0, nil
		default:
			return cmp <= 0, nil
		}
	case OpIn:
		return containsValue(c.Value, val, c.Key)
	default:
		return false, &EngineError{
			Code:    CodeConditionTypeMismatch,
			Message: fmt.Sprintf("condition on %q: unknown operator %q", c.Key, c.Operator),
		}
	}
}

// containsValue tests membership of val within seq, which must be a sequence.
func containsValue(seq, val any, key string) (bool, error) {
	rv := reflect.ValueOf(seq)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return false, &EngineError{
			Code:    CodeConditionTypeMismatch,
			Message: fmt.Sprintf("condition on %q: operator \"in\" requires a sequence value, got %T", key, seq),
		}
	}
	for i := 0; i < rv.Len(); i++ {
		if equalValues(val, rv.Index(i).Interface()) {
			return true, nil
		}
	}
	return false, nil
}

// equalValues performs deep equality with numeric normalization.
//
// JSON persistence turns every number into float64, while conditions built
// in Go code often hold ints. Two numbers are equal when their float values
// are; everything else falls back to reflect.DeepEqual.
func equalValues(a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

// compareOrdered returns -1, 0 or 1 for mutually ordered operands.
func compareOrdered(a, b any) (int, error) {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}

	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return strings.Compare(as, bs), nil
	}

	return 0, fmt.Errorf("cannot order %T against %T", a, b)
}

// asFloat widens any Go numeric type to float64.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
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
	}
	return 0, false
}
