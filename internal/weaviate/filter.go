//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package weaviate

import (
	"fmt"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"

	"github.com/pgEdge/pgedge-chat-server/internal/config"
)

var operators = map[string]filters.WhereOperator{
	"=":     filters.Equal,
	"!=":    filters.NotEqual,
	"<>":    filters.NotEqual,
	">":     filters.GreaterThan,
	">=":    filters.GreaterThanEqual,
	"<":     filters.LessThan,
	"<=":    filters.LessThanEqual,
	"LIKE":  filters.Like,
	"ILIKE": filters.Like,
}

// buildWhere translates a structured filter into a where clause. IN and
// NOT IN expand to an OR of equalities and an AND of inequalities.
func buildWhere(filter *config.Filter) (*filters.WhereBuilder, error) {
	if filter == nil || len(filter.Conditions) == 0 {
		return nil, nil
	}

	logic := filters.And
	switch strings.ToUpper(filter.Logic) {
	case "", "AND":
	case "OR":
		logic = filters.Or
	default:
		return nil, fmt.Errorf("invalid logic operator: %s (must be AND or OR)", filter.Logic)
	}

	operands := make([]*filters.WhereBuilder, 0, len(filter.Conditions))
	for i, cond := range filter.Conditions {
		w, err := buildCondition(cond)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		operands = append(operands, w)
	}

	if len(operands) == 1 {
		return operands[0], nil
	}
	return filters.Where().WithOperator(logic).WithOperands(operands), nil
}

func buildCondition(cond config.FilterCondition) (*filters.WhereBuilder, error) {
	if cond.Column == "" {
		return nil, fmt.Errorf("column is required")
	}
	path := []string{cond.Column}
	op := strings.ToUpper(strings.TrimSpace(cond.Operator))

	switch op {
	case "IS NULL", "IS NOT NULL":
		return filters.Where().
			WithPath(path).
			WithOperator(filters.IsNull).
			WithValueBoolean(op == "IS NULL"), nil

	case "IN", "NOT IN":
		values, ok := cond.Value.([]any)
		if !ok || len(values) == 0 {
			return nil, fmt.Errorf("%s operator requires a non-empty array value", op)
		}
		cmp, logic := filters.Equal, filters.Or
		if op == "NOT IN" {
			cmp, logic = filters.NotEqual, filters.And
		}
		operands := make([]*filters.WhereBuilder, 0, len(values))
		for _, v := range values {
			w, err := withValue(filters.Where().WithPath(path).WithOperator(cmp), v)
			if err != nil {
				return nil, err
			}
			operands = append(operands, w)
		}
		return filters.Where().WithOperator(logic).WithOperands(operands), nil
	}

	operator, ok := operators[op]
	if !ok {
		return nil, fmt.Errorf("unsupported operator: %s", cond.Operator)
	}
	return withValue(filters.Where().WithPath(path).WithOperator(operator), cond.Value)
}

func withValue(w *filters.WhereBuilder, v any) (*filters.WhereBuilder, error) {
	switch t := v.(type) {
	case string:
		return w.WithValueText(t), nil
	case bool:
		return w.WithValueBoolean(t), nil
	case int:
		return w.WithValueInt(int64(t)), nil
	case int64:
		return w.WithValueInt(t), nil
	case float64:
		return w.WithValueNumber(t), nil
	case nil:
		return nil, fmt.Errorf("operator requires a non-nil value")
	default:
		return nil, fmt.Errorf("unsupported filter value type %T", v)
	}
}
