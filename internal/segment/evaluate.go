package segment

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/dispatch-engine/internal/domain"
)

// Evaluate reports whether the recipient matches the rule tree. The tree
// must have passed Validate; evaluation itself never errors.
func (r *Rule) Evaluate(rec *domain.Recipient) bool {
	and := r.Combinator == CombineAnd

	for _, c := range r.Conditions {
		matched := c.evaluate(rec)
		if and && !matched {
			return false
		}
		if !and && matched {
			return true
		}
	}
	for i := range r.Groups {
		matched := r.Groups[i].Evaluate(rec)
		if and && !matched {
			return false
		}
		if !and && matched {
			return true
		}
	}
	return and
}

func (c *Condition) evaluate(rec *domain.Recipient) bool {
	val, ok := fieldValue(rec, c.Field)

	switch c.Operator {
	case OpIsSet:
		return ok && val != ""
	case OpIsNotSet:
		return !ok || val == ""
	}
	if !ok {
		return false
	}

	switch c.Operator {
	case OpEquals:
		return looseEquals(val, c.Value)
	case OpNotEquals:
		return !looseEquals(val, c.Value)
	case OpContains:
		return strings.Contains(strings.ToLower(val), strings.ToLower(c.Value))
	case OpNotContains:
		return !strings.Contains(strings.ToLower(val), strings.ToLower(c.Value))
	case OpGreaterThan:
		return compare(val, c.Value) > 0
	case OpGreaterOrEq:
		return compare(val, c.Value) >= 0
	case OpLessThan:
		return compare(val, c.Value) < 0
	case OpLessOrEq:
		return compare(val, c.Value) <= 0
	case OpBetween:
		return compare(val, c.Value) >= 0 && compare(val, c.SecondaryValue) <= 0
	}
	return false
}

// fieldValue resolves a condition field against the recipient: built-in
// fields first, then the attributes map.
func fieldValue(rec *domain.Recipient, field string) (string, bool) {
	switch field {
	case "email":
		return rec.Email, true
	case "first_name":
		return rec.FirstName, true
	case "last_name":
		return rec.LastName, true
	case "status":
		return string(rec.Status), true
	case "engagement_score":
		return strconv.FormatFloat(rec.EngagementScore, 'f', -1, 64), true
	case "total_opens":
		return strconv.Itoa(rec.TotalOpens), true
	case "total_clicks":
		return strconv.Itoa(rec.TotalClicks), true
	case "subscribed_at":
		return rec.SubscribedAt.Format(time.RFC3339), true
	}
	v, ok := rec.Attributes[field]
	if !ok || v == nil {
		return "", false
	}
	return stringify(v), true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// looseEquals compares numerically when both sides parse as numbers, so
// "50" equals "50.0", and case-insensitively otherwise.
func looseEquals(a, b string) bool {
	if fa, errA := strconv.ParseFloat(a, 64); errA == nil {
		if fb, errB := strconv.ParseFloat(b, 64); errB == nil {
			return fa == fb
		}
	}
	return strings.EqualFold(a, b)
}

// compare orders two values numerically, as dates, or lexically, in that
// preference order. Returns -1, 0 or 1.
func compare(a, b string) int {
	if fa, errA := strconv.ParseFloat(a, 64); errA == nil {
		if fb, errB := strconv.ParseFloat(b, 64); errB == nil {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ta, errA := parseTime(a); errA == nil {
		if tb, errB := parseTime(b); errB == nil {
			switch {
			case ta.Before(tb):
				return -1
			case ta.After(tb):
				return 1
			}
			return 0
		}
	}
	return strings.Compare(a, b)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
