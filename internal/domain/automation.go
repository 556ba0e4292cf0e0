package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Rule priorities: higher values evaluate earlier.
const (
	MinRulePriority = 1
	MaxRulePriority = 1000
)

// ConditionAttribute is the closed set of conversation attributes a rule
// condition may reference. Unknown attributes are rejected at rule create
// time, not at evaluation time.
type ConditionAttribute string

const (
	AttrTags           ConditionAttribute = "tags"
	AttrPriority       ConditionAttribute = "priority"
	AttrStatus         ConditionAttribute = "status"
	AttrAssignedUserID ConditionAttribute = "assigned_user_id"
	AttrAssignedTeamID ConditionAttribute = "assigned_team_id"
)

// Valid reports whether a is a recognized condition attribute.
func (a ConditionAttribute) Valid() bool {
	switch a {
	case AttrTags, AttrPriority, AttrStatus, AttrAssignedUserID, AttrAssignedTeamID:
		return true
	}
	return false
}

// ConditionOp enumerates the comparison operators of the condition grammar.
type ConditionOp string

const (
	OpContains    ConditionOp = "contains"
	OpEquals      ConditionOp = "equals"
	OpNotEquals   ConditionOp = "not_equals"
	OpGreaterThan ConditionOp = "greater_than"
	OpLessThan    ConditionOp = "less_than"
	OpIn          ConditionOp = "in"
	OpNotIn       ConditionOp = "not_in"
)

// Valid reports whether o is a recognized operator.
func (o ConditionOp) Valid() bool {
	switch o {
	case OpContains, OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpIn, OpNotIn:
		return true
	}
	return false
}

// ConditionKind tags the condition union.
type ConditionKind string

const (
	CondSimple ConditionKind = "simple"
	CondAnd    ConditionKind = "and"
	CondOr     ConditionKind = "or"
	CondNot    ConditionKind = "not"
)

// Condition is the recursive rule condition: a tagged union of Simple,
// And, Or, and Not. Value stays late-bound (string/number/bool/array) and
// is validated against the attribute's type at create time.
type Condition struct {
	Kind ConditionKind `json:"kind"`

	// Simple
	Attribute ConditionAttribute `json:"attribute,omitempty"`
	Op        ConditionOp        `json:"op,omitempty"`
	Value     json.RawMessage    `json:"value,omitempty"`

	// And / Or (>= 2 children); Not (exactly 1 child)
	Conditions []Condition `json:"conditions,omitempty"`
}

// Validate checks the condition tree structurally. It is called at rule
// create time so evaluation never sees a malformed tree.
func (c Condition) Validate() error {
	switch c.Kind {
	case CondSimple:
		if !c.Attribute.Valid() {
			return Validationf("unknown condition attribute %q", c.Attribute)
		}
		if !c.Op.Valid() {
			return Validationf("unknown condition operator %q", c.Op)
		}
		if len(c.Value) == 0 {
			return Validationf("condition value is required")
		}
		return nil
	case CondAnd, CondOr:
		if len(c.Conditions) < 2 {
			return Validationf("%s condition requires at least 2 children", c.Kind)
		}
		for i, child := range c.Conditions {
			if err := child.Validate(); err != nil {
				return fmt.Errorf("%s[%d]: %w", c.Kind, i, err)
			}
		}
		return nil
	case CondNot:
		if len(c.Conditions) != 1 {
			return Validationf("not condition requires exactly 1 child")
		}
		return c.Conditions[0].Validate()
	}
	return Validationf("unknown condition kind %q", c.Kind)
}

// ActionType enumerates what a rule may do when its condition matches.
type ActionType string

const (
	ActionSetPriority  ActionType = "set_priority"
	ActionAssignToUser ActionType = "assign_to_user"
	ActionAssignToTeam ActionType = "assign_to_team"
	ActionAddTag       ActionType = "add_tag"
	ActionRemoveTag    ActionType = "remove_tag"
	ActionChangeStatus ActionType = "change_status"
)

// Action is the single typed action of a rule.
type Action struct {
	Type ActionType `json:"type"`

	Priority       *Priority           `json:"priority,omitempty"`
	UserID         *string             `json:"user_id,omitempty"`
	TeamID         *string             `json:"team_id,omitempty"`
	Tag            *string             `json:"tag,omitempty"`
	Status         *ConversationStatus `json:"status,omitempty"`
	SnoozeDuration *string             `json:"snooze_duration,omitempty"`
}

// Validate checks the action's typed parameters at create time.
func (a Action) Validate() error {
	switch a.Type {
	case ActionSetPriority:
		if a.Priority == nil || !a.Priority.Valid() {
			return Validationf("set_priority action requires a valid priority")
		}
	case ActionAssignToUser:
		if a.UserID == nil || *a.UserID == "" {
			return Validationf("assign_to_user action requires user_id")
		}
	case ActionAssignToTeam:
		if a.TeamID == nil || *a.TeamID == "" {
			return Validationf("assign_to_team action requires team_id")
		}
	case ActionAddTag, ActionRemoveTag:
		if a.Tag == nil || *a.Tag == "" {
			return Validationf("%s action requires tag", a.Type)
		}
	case ActionChangeStatus:
		if a.Status == nil || !a.Status.Valid() {
			return Validationf("change_status action requires a valid status")
		}
		if *a.Status == ConversationSnoozed && (a.SnoozeDuration == nil || *a.SnoozeDuration == "") {
			return Validationf("change_status to snoozed requires snooze_duration")
		}
	default:
		return Validationf("unknown action type %q", a.Type)
	}
	return nil
}

// AutomationRule maps event subscriptions through a condition to an action.
type AutomationRule struct {
	ID                string      `json:"id" db:"id"`
	Name              string      `json:"name" db:"name"`
	Enabled           bool        `json:"enabled" db:"enabled"`
	RuleType          string      `json:"rule_type" db:"rule_type"`
	EventSubscription []EventType `json:"event_subscription" db:"event_subscription"`
	Condition         Condition   `json:"condition" db:"condition"`
	Action            Action      `json:"action" db:"action"`
	Priority          int         `json:"priority" db:"priority"` // 1..1000, higher first
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at" db:"updated_at"`
}

// Validate checks the whole rule at create time.
func (r AutomationRule) Validate() error {
	if r.Name == "" {
		return Validationf("rule name is required")
	}
	if r.Priority < MinRulePriority || r.Priority > MaxRulePriority {
		return Validationf("rule priority must be in [%d, %d]", MinRulePriority, MaxRulePriority)
	}
	if len(r.EventSubscription) == 0 {
		return Validationf("rule must subscribe to at least one event")
	}
	for _, et := range r.EventSubscription {
		if !ValidEventType(et) {
			return Validationf("unknown event type %q in subscription", et)
		}
	}
	if err := r.Condition.Validate(); err != nil {
		return err
	}
	return r.Action.Validate()
}

// ConditionResult is the outcome of evaluating a rule condition.
type ConditionResult string

const (
	ConditionTrue  ConditionResult = "true"
	ConditionFalse ConditionResult = "false"
	ConditionError ConditionResult = "error"
)

// ActionResult is the outcome of executing a rule action.
type ActionResult string

const (
	ActionSuccess ActionResult = "success"
	ActionSkipped ActionResult = "skipped"
	ActionError   ActionResult = "error"
)

// RuleEvaluationLog is the append-only audit row written for every rule
// evaluation. The engine never deletes these.
type RuleEvaluationLog struct {
	ID               string          `json:"id" db:"id"`
	RuleID           string          `json:"rule_id" db:"rule_id"`
	EventType        EventType       `json:"event_type" db:"event_type"`
	ConversationID   *string         `json:"conversation_id,omitempty" db:"conversation_id"`
	Matched          bool            `json:"matched" db:"matched"`
	ConditionResult  ConditionResult `json:"condition_result" db:"condition_result"`
	ActionExecuted   bool            `json:"action_executed" db:"action_executed"`
	ActionResult     ActionResult    `json:"action_result" db:"action_result"`
	ErrorMessage     *string         `json:"error_message,omitempty" db:"error_message"`
	EvaluationTimeMs int64           `json:"evaluation_time_ms" db:"evaluation_time_ms"`
	CascadeDepth     int             `json:"cascade_depth" db:"cascade_depth"`
	EvaluatedAt      time.Time       `json:"evaluated_at" db:"evaluated_at"`
}
