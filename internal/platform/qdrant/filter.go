package qdrant

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Filters are written in a small Mongo-like syntax and translated into
// qdrant must/should/must_not clauses.
const (
	filterOpAnd = "$and"
	filterOpOr  = "$or"
	filterOpNot = "$not"
	filterOpIn  = "$in"
	filterOpEq  = "$eq"
	filterOpNe  = "$ne"
	filterOpGt  = "$gt"
	filterOpGte = "$gte"
	filterOpLt  = "$lt"
	filterOpLte = "$lte"
)

type translatedFilter struct {
	Must    []any
	Should  []any
	MustNot []any
}

func (f translatedFilter) asMap() map[string]any {
	out := map[string]any{}
	if len(f.Must) > 0 {
		out["must"] = f.Must
	}
	if len(f.Should) > 0 {
		out["should"] = f.Should
	}
	if len(f.MustNot) > 0 {
		out["must_not"] = f.MustNot
	}
	return out
}

func (f *translatedFilter) merge(src translatedFilter) {
	f.Must = append(f.Must, src.Must...)
	f.Should = append(f.Should, src.Should...)
	f.MustNot = append(f.MustNot, src.MustNot...)
}

func filterErr(code OperationErrorCode, format string, args ...any) error {
	return opErr("filter_translate", code, fmt.Sprintf(format, args...), nil)
}

func translateFilterMap(filter map[string]any) (translatedFilter, error) {
	out := translatedFilter{}
	for _, key := range sortedKeys(filter) {
		value := filter[key]
		k := strings.TrimSpace(key)
		if k == "" {
			continue
		}
		if !strings.HasPrefix(k, "$") {
			part, err := translateFieldFilter(k, value)
			if err != nil {
				return translatedFilter{}, err
			}
			out.merge(part)
			continue
		}

		switch op := strings.ToLower(k); op {
		case filterOpAnd, filterOpOr:
			items, err := toObjectSlice(value)
			if err != nil {
				return translatedFilter{}, opErr("filter_translate", OperationErrorValidation,
					fmt.Sprintf("operator %s expects array of objects", op), err)
			}
			for _, item := range items {
				sub, err := translateFilterMap(item)
				if err != nil {
					return translatedFilter{}, err
				}
				if op == filterOpAnd {
					out.Must = append(out.Must, sub.asMap())
				} else {
					out.Should = append(out.Should, sub.asMap())
				}
			}
		case filterOpNot:
			item, ok := value.(map[string]any)
			if !ok {
				return translatedFilter{}, filterErr(OperationErrorValidation, "operator %s expects an object", filterOpNot)
			}
			sub, err := translateFilterMap(item)
			if err != nil {
				return translatedFilter{}, err
			}
			out.MustNot = append(out.MustNot, sub.asMap())
		default:
			return translatedFilter{}, filterErr(OperationErrorUnsupportedFilter, "unsupported top-level filter operator %q", k)
		}
	}
	return out, nil
}

func translateFieldFilter(field string, value any) (translatedFilter, error) {
	out := translatedFilter{}
	typed, isOps := value.(map[string]any)
	if !isOps {
		scalar, ok := toScalarValue(value)
		if !ok {
			return translatedFilter{}, filterErr(OperationErrorValidation, "field %q expects scalar value or operator object", field)
		}
		out.Must = append(out.Must, qdrantMatchCondition(field, scalar))
		return out, nil
	}
	if len(typed) == 0 {
		return translatedFilter{}, filterErr(OperationErrorValidation, "field %q has empty operator map", field)
	}

	// All range operators on one field collapse into a single range clause.
	rng := map[string]any{}
	for _, op := range sortedKeys(typed) {
		opVal := typed[op]
		switch name := strings.ToLower(strings.TrimSpace(op)); name {
		case filterOpEq, filterOpNe:
			scalar, ok := toScalarValue(opVal)
			if !ok {
				return translatedFilter{}, filterErr(OperationErrorValidation, "operator %s for field %q expects scalar value", name, field)
			}
			if name == filterOpEq {
				out.Must = append(out.Must, qdrantMatchCondition(field, scalar))
			} else {
				out.MustNot = append(out.MustNot, qdrantMatchCondition(field, scalar))
			}
		case filterOpIn:
			values, err := toScalarSlice(opVal)
			if err != nil {
				return translatedFilter{}, opErr("filter_translate", OperationErrorValidation,
					fmt.Sprintf("operator %s for field %q expects scalar array", filterOpIn, field), err)
			}
			if len(values) == 0 {
				return translatedFilter{}, filterErr(OperationErrorValidation, "operator %s for field %q cannot be empty", filterOpIn, field)
			}
			out.Must = append(out.Must, map[string]any{
				"key":   field,
				"match": map[string]any{"any": values},
			})
		case filterOpGt, filterOpGte, filterOpLt, filterOpLte:
			n, ok := toNumber(opVal)
			if !ok {
				return translatedFilter{}, filterErr(OperationErrorValidation, "operator %s for field %q expects a number", name, field)
			}
			rng[strings.TrimPrefix(name, "$")] = n
		default:
			return translatedFilter{}, filterErr(OperationErrorUnsupportedFilter, "unsupported filter operator %q for field %q", op, field)
		}
	}
	if len(rng) > 0 {
		out.Must = append(out.Must, map[string]any{"key": field, "range": rng})
	}
	return out, nil
}

func qdrantMatchCondition(key string, value any) map[string]any {
	return map[string]any{
		"key":   key,
		"match": map[string]any{"value": value},
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toObjectSlice(value any) ([]map[string]any, error) {
	rawSlice, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("expected []any, got %T", value)
	}
	out := make([]map[string]any, 0, len(rawSlice))
	for _, item := range rawSlice {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected map[string]any in array, got %T", item)
		}
		out = append(out, obj)
	}
	return out, nil
}

func toScalarSlice(value any) ([]any, error) {
	switch typed := value.(type) {
	case []any:
		out := make([]any, 0, len(typed))
		for _, v := range typed {
			scalar, ok := toScalarValue(v)
			if !ok {
				return nil, fmt.Errorf("expected scalar, got %T", v)
			}
			out = append(out, scalar)
		}
		return out, nil
	case []string:
		return anySlice(typed), nil
	case []int:
		return anySlice(typed), nil
	case []int64:
		return anySlice(typed), nil
	case []float64:
		return anySlice(typed), nil
	case []bool:
		return anySlice(typed), nil
	default:
		return nil, fmt.Errorf("expected scalar array, got %T", value)
	}
}

func anySlice[T any](in []T) []any {
	out := make([]any, 0, len(in))
	for _, v := range in {
		out = append(out, v)
	}
	return out
}

func toNumber(value any) (float64, bool) {
	scalar, ok := toScalarValue(value)
	if !ok {
		return 0, false
	}
	switch n := scalar.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func toScalarValue(value any) (any, bool) {
	switch typed := value.(type) {
	case string, bool, int, int64, uint, uint64, float64:
		return typed, true
	case int8:
		return int(typed), true
	case int16:
		return int(typed), true
	case int32:
		return int(typed), true
	case uint8:
		return uint(typed), true
	case uint16:
		return uint(typed), true
	case uint32:
		return uint(typed), true
	case float32:
		return float64(typed), true
	case json.Number:
		if i, err := typed.Int64(); err == nil {
			return i, true
		}
		if f, err := typed.Float64(); err == nil {
			return f, true
		}
		return nil, false
	default:
		return nil, false
	}
}
