// Package segment implements the dynamic audience rule language: a tree of
// typed conditions combined with explicit AND/OR groups, validated once at
// load time and evaluated statelessly against recipient attributes.
package segment

import (
	"encoding/json"
	"fmt"
)

// Operator represents a comparison operator.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpGreaterThan Operator = "greater_than"
	OpGreaterOrEq Operator = "greater_or_equal"
	OpLessThan    Operator = "less_than"
	OpLessOrEq    Operator = "less_or_equal"
	OpBetween     Operator = "between"
	OpIsSet       Operator = "is_set"
	OpIsNotSet    Operator = "is_not_set"
)

// Combinator joins the children of a group.
type Combinator string

const (
	CombineAnd Combinator = "AND"
	CombineOr  Combinator = "OR"
)

// Condition is a single field comparison.
type Condition struct {
	Field          string `json:"field"`
	Operator       Operator `json:"operator"`
	Value          string `json:"value,omitempty"`
	SecondaryValue string `json:"secondary_value,omitempty"`
}

// Rule is a group node in the condition tree. Conditions are evaluated
// first, then child groups, left to right in the order given; there is no
// implicit precedence beyond the tree structure itself.
type Rule struct {
	Combinator Combinator  `json:"combinator"`
	Conditions []Condition `json:"conditions,omitempty"`
	Groups     []Rule      `json:"groups,omitempty"`
}

// requiresValue reports whether the operator needs a comparison value.
func (op Operator) requiresValue() bool {
	switch op {
	case OpIsSet, OpIsNotSet:
		return false
	}
	return true
}

func (op Operator) known() bool {
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpNotContains,
		OpGreaterThan, OpGreaterOrEq, OpLessThan, OpLessOrEq,
		OpBetween, OpIsSet, OpIsNotSet:
		return true
	}
	return false
}

// ParseRule decodes and validates a JSON rule tree. Malformed rules fail
// here, at load time, so evaluation never has to handle a bad tree.
func ParseRule(data string) (*Rule, error) {
	if data == "" {
		return nil, fmt.Errorf("empty rule")
	}
	var r Rule
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("parse rule: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks the whole tree for unknown operators, missing values and
// empty groups.
func (r *Rule) Validate() error {
	if r.Combinator != CombineAnd && r.Combinator != CombineOr {
		return fmt.Errorf("unknown combinator %q", r.Combinator)
	}
	if len(r.Conditions) == 0 && len(r.Groups) == 0 {
		return fmt.Errorf("group has no conditions or child groups")
	}
	for _, c := range r.Conditions {
		if c.Field == "" {
			return fmt.Errorf("condition missing field")
		}
		if !c.Operator.known() {
			return fmt.Errorf("unknown operator %q on field %s", c.Operator, c.Field)
		}
		if c.Operator.requiresValue() && c.Value == "" {
			return fmt.Errorf("operator %s requires a value for field %s", c.Operator, c.Field)
		}
		if c.Operator == OpBetween && c.SecondaryValue == "" {
			return fmt.Errorf("operator between requires a secondary value for field %s", c.Field)
		}
	}
	for i := range r.Groups {
		if err := r.Groups[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
