// SPDX-License-Identifier: Apache-2.0

// Package condition evaluates tenant-authored rule expressions against
// structured event payloads. Evaluation is side-effect-free and total: a
// clause referencing a missing field, a type mismatch, or a malformed
// expression evaluates to false instead of raising, since payload shapes
// vary by event type.
package condition

import (
	"encoding/json"
	"strings"
)

type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpIn  Op = "in"
)

// Expression is either a leaf clause (Field/Op/Value) or a boolean
// composition of child expressions (All = AND, Any = OR). Composition wins
// when both are present.
type Expression struct {
	Field string `json:"field,omitempty"`
	Op    Op     `json:"op,omitempty"`
	Value any    `json:"value,omitempty"`

	All []Expression `json:"all,omitempty"`
	Any []Expression `json:"any,omitempty"`
}

// Parse decodes a stored expression. A nil or empty document parses to nil,
// which Evaluate treats as "always match".
func Parse(raw json.RawMessage) (*Expression, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == "{}" {
		return nil, nil
	}

	var expr Expression
	if err := json.Unmarshal(raw, &expr); err != nil {
		return nil, err
	}
	return &expr, nil
}

// Evaluate returns whether the payload satisfies the expression. A nil
// expression always matches (absent condition on a definition).
func Evaluate(expr *Expression, payload map[string]any) bool {
	if expr == nil {
		return true
	}

	if len(expr.All) > 0 {
		for i := range expr.All {
			if !Evaluate(&expr.All[i], payload) {
				return false
			}
		}
		return true
	}

	if len(expr.Any) > 0 {
		for i := range expr.Any {
			if Evaluate(&expr.Any[i], payload) {
				return true
			}
		}
		return false
	}

	return evaluateClause(expr, payload)
}

func evaluateClause(expr *Expression, payload map[string]any) bool {
	if expr.Field == "" {
		return false
	}

	got, ok := lookup(payload, expr.Field)
	if !ok {
		return false
	}

	switch expr.Op {
	case OpEq:
		return equal(got, expr.Value)
	case OpNeq:
		return !equal(got, expr.Value)
	case OpGt, OpGte, OpLt, OpLte:
		a, aok := asFloat(got)
		b, bok := asFloat(expr.Value)
		if !aok || !bok {
			return false
		}
		switch expr.Op {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		default:
			return a <= b
		}
	case OpIn:
		list, ok := expr.Value.([]any)
		if !ok {
			return false
		}
		for _, candidate := range list {
			if equal(got, candidate) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// lookup resolves a dotted path ("deal.stage") into nested payload maps.
func lookup(payload map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = payload

	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func equal(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}

	// Only scalar payload values compare; maps and lists never match.
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		return false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
