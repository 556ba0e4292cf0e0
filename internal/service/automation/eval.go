package automation

import (
	"context"
	"encoding/json"

	"github.com/sgunadhya/oxidesk/internal/domain"
)

// priorityRank orders priorities for greater_than / less_than. An unset
// priority ranks below low.
var priorityRank = map[string]int{
	"":                            0,
	string(domain.PriorityLow):    1,
	string(domain.PriorityMedium): 2,
	string(domain.PriorityHigh):   3,
}

// evalCondition walks the condition tree against a conversation snapshot.
// The context deadline is checked at each node so a pathological tree cannot
// stall the engine.
func evalCondition(ctx context.Context, c domain.Condition, conv *domain.Conversation) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, domain.WrapError(domain.KindTransient, err, "condition evaluation timed out")
	}
	if conv == nil {
		return false, domain.Validationf("event carries no conversation")
	}
	switch c.Kind {
	case domain.CondSimple:
		return evalSimple(c, conv)
	case domain.CondAnd:
		for _, child := range c.Conditions {
			ok, err := evalCondition(ctx, child, conv)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case domain.CondOr:
		for _, child := range c.Conditions {
			ok, err := evalCondition(ctx, child, conv)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case domain.CondNot:
		ok, err := evalCondition(ctx, c.Conditions[0], conv)
		return !ok, err
	}
	return false, domain.Validationf("unknown condition kind %q", c.Kind)
}

func evalSimple(c domain.Condition, conv *domain.Conversation) (bool, error) {
	switch c.Attribute {
	case domain.AttrTags:
		return evalTags(c, conv.Tags)
	case domain.AttrPriority:
		val := ""
		if conv.Priority != nil {
			val = string(*conv.Priority)
		}
		return evalScalar(c, val, true)
	case domain.AttrStatus:
		return evalScalar(c, string(conv.Status), false)
	case domain.AttrAssignedUserID:
		return evalScalar(c, derefOr(conv.AssignedUserID), false)
	case domain.AttrAssignedTeamID:
		return evalScalar(c, derefOr(conv.AssignedTeamID), false)
	}
	return false, domain.Validationf("unknown condition attribute %q", c.Attribute)
}

// evalTags handles the set-valued tags attribute. contains tests one tag;
// in / not_in test set intersection.
func evalTags(c domain.Condition, tags []string) (bool, error) {
	switch c.Op {
	case domain.OpContains:
		want, err := stringValue(c.Value)
		if err != nil {
			return false, err
		}
		return containsString(tags, want), nil
	case domain.OpEquals, domain.OpNotEquals:
		want, err := stringListValue(c.Value)
		if err != nil {
			return false, err
		}
		eq := sameStringSet(tags, want)
		return eq == (c.Op == domain.OpEquals), nil
	case domain.OpIn, domain.OpNotIn:
		want, err := stringListValue(c.Value)
		if err != nil {
			return false, err
		}
		hit := false
		for _, t := range tags {
			if containsString(want, t) {
				hit = true
				break
			}
		}
		return hit == (c.Op == domain.OpIn), nil
	}
	return false, domain.Validationf("operator %q is not valid for tags", c.Op)
}

// evalScalar handles the string-valued attributes. ordered enables
// greater_than / less_than via the priority ranking.
func evalScalar(c domain.Condition, val string, ordered bool) (bool, error) {
	switch c.Op {
	case domain.OpEquals, domain.OpNotEquals:
		want, err := stringValue(c.Value)
		if err != nil {
			return false, err
		}
		return (val == want) == (c.Op == domain.OpEquals), nil
	case domain.OpIn, domain.OpNotIn:
		want, err := stringListValue(c.Value)
		if err != nil {
			return false, err
		}
		return containsString(want, val) == (c.Op == domain.OpIn), nil
	case domain.OpGreaterThan, domain.OpLessThan:
		if !ordered {
			return false, domain.Validationf("operator %q requires an ordered attribute", c.Op)
		}
		want, err := stringValue(c.Value)
		if err != nil {
			return false, err
		}
		wantRank, ok := priorityRank[want]
		if !ok {
			return false, domain.Validationf("unknown priority %q in condition", want)
		}
		if c.Op == domain.OpGreaterThan {
			return priorityRank[val] > wantRank, nil
		}
		return priorityRank[val] < wantRank, nil
	case domain.OpContains:
		return false, domain.Validationf("operator contains is only valid for tags")
	}
	return false, domain.Validationf("unknown operator %q", c.Op)
}

func stringValue(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", domain.Validationf("condition value must be a string")
	}
	return s, nil
}

func stringListValue(raw json.RawMessage) ([]string, error) {
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, domain.Validationf("condition value must be a string array")
	}
	return list, nil
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, x := range a {
		if !containsString(b, x) {
			return false
		}
	}
	return true
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
