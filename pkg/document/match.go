package document

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedOperator is returned for query or update operators outside
// the supported subset.
var ErrUnsupportedOperator = errors.New("unsupported operator")

// Match reports whether doc satisfies filter. An empty filter matches
// every document.
func Match(doc, filter Document) (bool, error) {
	for _, f := range filter {
		ok, err := matchField(doc, f)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchField(doc Document, f Field) (bool, error) {
	switch f.Key {
	case "$and", "$or":
		clauses, ok := f.Value.ArrayValue()
		if !ok || len(clauses) == 0 {
			return false, fmt.Errorf("%s requires a non-empty array", f.Key)
		}
		for _, c := range clauses {
			sub, ok := c.DocumentValue()
			if !ok {
				return false, fmt.Errorf("%s entries must be documents", f.Key)
			}
			matched, err := Match(doc, sub)
			if err != nil {
				return false, err
			}
			if f.Key == "$or" && matched {
				return true, nil
			}
			if f.Key == "$and" && !matched {
				return false, nil
			}
		}
		return f.Key == "$and", nil
	}
	if strings.HasPrefix(f.Key, "$") {
		return false, fmt.Errorf("%w: %s", ErrUnsupportedOperator, f.Key)
	}

	actual, present := doc.LookupPath(f.Key)
	if ops, ok := f.Value.DocumentValue(); ok && isOperatorDocument(ops) {
		for _, op := range ops {
			matched, err := applyOperator(actual, present, op)
			if err != nil || !matched {
				return false, err
			}
		}
		return true, nil
	}
	return present && equalOrContains(actual, f.Value), nil
}

func isOperatorDocument(d Document) bool {
	return len(d) > 0 && strings.HasPrefix(d[0].Key, "$")
}

func applyOperator(actual Value, present bool, op Field) (bool, error) {
	switch op.Key {
	case "$eq":
		return present && equalOrContains(actual, op.Value), nil
	case "$ne":
		return !present || !equalOrContains(actual, op.Value), nil
	case "$gt", "$gte", "$lt", "$lte":
		if !present {
			return false, nil
		}
		return anyElement(actual, func(v Value) bool {
			if typeOrder(v.kind) != typeOrder(op.Value.kind) {
				return false
			}
			c := Compare(v, op.Value)
			switch op.Key {
			case "$gt":
				return c > 0
			case "$gte":
				return c >= 0
			case "$lt":
				return c < 0
			default:
				return c <= 0
			}
		}), nil
	case "$in", "$nin":
		candidates, ok := op.Value.ArrayValue()
		if !ok {
			return false, fmt.Errorf("%s requires an array", op.Key)
		}
		found := false
		if present {
			for _, c := range candidates {
				if equalOrContains(actual, c) {
					found = true
					break
				}
			}
		}
		if op.Key == "$in" {
			return found, nil
		}
		return !found, nil
	case "$exists":
		want, ok := op.Value.BoolValue()
		if !ok {
			n, isInt := op.Value.Int64Value()
			if !isInt {
				return false, fmt.Errorf("$exists requires a boolean")
			}
			want = n != 0
		}
		return present == want, nil
	default:
		return false, fmt.Errorf("%w: %s", ErrUnsupportedOperator, op.Key)
	}
}

// equalOrContains matches scalars by equality and arrays by membership.
func equalOrContains(actual, want Value) bool {
	if Equal(actual, want) {
		return true
	}
	if arr, ok := actual.ArrayValue(); ok && want.kind != KindArray {
		for _, item := range arr {
			if Equal(item, want) {
				return true
			}
		}
	}
	return false
}

func anyElement(v Value, pred func(Value) bool) bool {
	if pred(v) {
		return true
	}
	if arr, ok := v.ArrayValue(); ok {
		for _, item := range arr {
			if pred(item) {
				return true
			}
		}
	}
	return false
}
