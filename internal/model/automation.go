package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type TriggerKind string

const (
	TriggerEvent     TriggerKind = "EVENT"
	TriggerScheduled TriggerKind = "SCHEDULED"
)

type ActionType string

const (
	ActionCreateEvent    ActionType = "createEvent"
	ActionCreateBookmark ActionType = "createBookmark"
	ActionSendHTTP       ActionType = "sendHttpRequest"
	ActionSetDeviceState ActionType = "setDeviceState"
	ActionSendPush       ActionType = "sendPushNotification"
	ActionArmArea        ActionType = "armArea"
	ActionDisarmArea     ActionType = "disarmArea"
)

type ArmingScope string

const (
	ScopeSpecificAreas   ArmingScope = "SPECIFIC_AREAS"
	ScopeAllAreasInScope ArmingScope = "ALL_AREAS_IN_SCOPE"
)

type RuleOperator string

const (
	OpEq         RuleOperator = "eq"
	OpNeq        RuleOperator = "neq"
	OpIn         RuleOperator = "in"
	OpNotIn      RuleOperator = "notIn"
	OpGt         RuleOperator = "gt"
	OpGte        RuleOperator = "gte"
	OpLt         RuleOperator = "lt"
	OpLte        RuleOperator = "lte"
	OpStartsWith RuleOperator = "startsWith"
	OpContains   RuleOperator = "contains"
)

var validOperators = map[RuleOperator]struct{}{
	OpEq: {}, OpNeq: {}, OpIn: {}, OpNotIn: {}, OpGt: {}, OpGte: {},
	OpLt: {}, OpLte: {}, OpStartsWith: {}, OpContains: {},
}

// RuleNode is one node of an automation rule tree. Exactly one of
// All, Any, or the Fact/Operator pair must be set.
type RuleNode struct {
	All      []RuleNode   `json:"all,omitempty"`
	Any      []RuleNode   `json:"any,omitempty"`
	Fact     string       `json:"fact,omitempty"`
	Operator RuleOperator `json:"operator,omitempty"`
	Value    interface{}  `json:"value,omitempty"`
}

// Validate rejects structurally broken trees up front so the engine never
// has to guess at evaluation time.
func (n *RuleNode) Validate() error {
	branches := 0
	if len(n.All) > 0 {
		branches++
	}
	if len(n.Any) > 0 {
		branches++
	}
	if n.Fact != "" {
		branches++
	}
	if branches != 1 {
		return fmt.Errorf("rule node must be exactly one of all/any/leaf")
	}
	for i := range n.All {
		if err := n.All[i].Validate(); err != nil {
			return err
		}
	}
	for i := range n.Any {
		if err := n.Any[i].Validate(); err != nil {
			return err
		}
	}
	if n.Fact != "" {
		if _, ok := validOperators[n.Operator]; !ok {
			return fmt.Errorf("unknown rule operator %q", n.Operator)
		}
	}
	return nil
}

type TriggerSchedule struct {
	DaysOfWeek []int  `json:"daysOfWeek"` // 0=Sunday .. 6=Saturday
	TimeLocal  string `json:"timeLocal"`  // "HH:MM"
	TimeZone   string `json:"timeZone"`   // IANA zone name
}

// Trigger is the firing half of an automation config. EVENT triggers
// carry a condition tree evaluated against the event facts; SCHEDULED
// triggers carry a local-time schedule. A nil Conditions matches every
// event.
type Trigger struct {
	Kind       TriggerKind      `json:"kind"`
	Conditions *RuleNode        `json:"conditions,omitempty"`
	Schedule   *TriggerSchedule `json:"schedule,omitempty"`
}

// HeaderTemplate is one sendHttpRequest header; both halves support
// token substitution.
type HeaderTemplate struct {
	KeyTemplate   string `json:"keyTemplate"`
	ValueTemplate string `json:"valueTemplate"`
}

// Action is one entry of an automation's action list. Fields are a union
// across action types; Validate enforces the per-type requirements.
type Action struct {
	Type ActionType `json:"type"`

	// createEvent / createBookmark
	TargetConnectorID   *uuid.UUID `json:"targetConnectorId,omitempty"`
	SourceTemplate      string     `json:"sourceTemplate,omitempty"`
	CaptionTemplate     string     `json:"captionTemplate,omitempty"`
	DescriptionTemplate string     `json:"descriptionTemplate,omitempty"`
	NameTemplate        string     `json:"nameTemplate,omitempty"`
	DurationMsTemplate  string     `json:"durationMsTemplate,omitempty"`
	TagsTemplate        string     `json:"tagsTemplate,omitempty"` // csv after rendering

	// sendHttpRequest
	URLTemplate  string           `json:"urlTemplate,omitempty"`
	Method       string           `json:"method,omitempty"`
	Headers      []HeaderTemplate `json:"headers,omitempty"`
	BodyTemplate string           `json:"bodyTemplate,omitempty"`
	TimeoutMs    int              `json:"timeoutMs,omitempty"`

	// setDeviceState
	TargetDeviceInternalID *uuid.UUID      `json:"targetDeviceInternalId,omitempty"`
	TargetState            ActionableState `json:"targetState,omitempty"`

	// sendPushNotification
	TitleTemplate         string `json:"titleTemplate,omitempty"`
	MessageTemplate       string `json:"messageTemplate,omitempty"`
	TargetUserKeyTemplate string `json:"targetUserKeyTemplate,omitempty"`
	Priority              int    `json:"priority,omitempty"`

	// armArea / disarmArea
	Scoping       ArmingScope `json:"scoping,omitempty"`
	TargetAreaIDs []uuid.UUID `json:"targetAreaIds,omitempty"`
	ArmMode       ArmedState  `json:"armMode,omitempty"`
}

var httpMethods = map[string]struct{}{
	"GET": {}, "POST": {}, "PUT": {}, "PATCH": {}, "DELETE": {},
}

func (a *Action) Validate() error {
	switch a.Type {
	case ActionCreateEvent:
		if a.TargetConnectorID == nil {
			return fmt.Errorf("createEvent: targetConnectorId is required")
		}
		if a.CaptionTemplate == "" {
			return fmt.Errorf("createEvent: captionTemplate is required")
		}
	case ActionCreateBookmark:
		if a.TargetConnectorID == nil {
			return fmt.Errorf("createBookmark: targetConnectorId is required")
		}
		if a.NameTemplate == "" {
			return fmt.Errorf("createBookmark: nameTemplate is required")
		}
	case ActionSendHTTP:
		if a.URLTemplate == "" {
			return fmt.Errorf("sendHttpRequest: urlTemplate is required")
		}
		if _, ok := httpMethods[strings.ToUpper(a.Method)]; !ok {
			return fmt.Errorf("sendHttpRequest: unsupported method %q", a.Method)
		}
		if a.TimeoutMs < 0 {
			return fmt.Errorf("sendHttpRequest: timeoutMs must be positive")
		}
	case ActionSetDeviceState:
		if a.TargetDeviceInternalID == nil {
			return fmt.Errorf("setDeviceState: targetDeviceInternalId is required")
		}
		if !a.TargetState.Valid() {
			return fmt.Errorf("setDeviceState: invalid targetState %q", a.TargetState)
		}
	case ActionSendPush:
		if a.MessageTemplate == "" {
			return fmt.Errorf("sendPushNotification: messageTemplate is required")
		}
		if a.Priority < -2 || a.Priority > 2 {
			return fmt.Errorf("sendPushNotification: priority out of range")
		}
	case ActionArmArea, ActionDisarmArea:
		switch a.Scoping {
		case ScopeSpecificAreas:
			if len(a.TargetAreaIDs) == 0 {
				return fmt.Errorf("%s: targetAreaIds required for SPECIFIC_AREAS", a.Type)
			}
		case ScopeAllAreasInScope:
		default:
			return fmt.Errorf("%s: unknown scoping %q", a.Type, a.Scoping)
		}
		if a.Type == ActionArmArea && a.ArmMode != "" && a.ArmMode != ArmedAway && a.ArmMode != ArmedStay {
			return fmt.Errorf("armArea: armMode must be ARMED_AWAY or ARMED_STAY")
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

// AutomationConfig is the JSON config column of an automation row.
type AutomationConfig struct {
	Trigger Trigger  `json:"trigger"`
	Actions []Action `json:"actions"`
}

func (c *AutomationConfig) Validate() error {
	switch c.Trigger.Kind {
	case TriggerEvent:
		if c.Trigger.Conditions != nil {
			if err := c.Trigger.Conditions.Validate(); err != nil {
				return err
			}
		}
	case TriggerScheduled:
		s := c.Trigger.Schedule
		if s == nil {
			return fmt.Errorf("scheduled trigger requires a schedule")
		}
		if len(s.DaysOfWeek) == 0 {
			return fmt.Errorf("schedule: daysOfWeek must not be empty")
		}
		for _, d := range s.DaysOfWeek {
			if d < 0 || d > 6 {
				return fmt.Errorf("schedule: day %d out of range", d)
			}
		}
		if _, _, err := ParseClock(s.TimeLocal); err != nil {
			return fmt.Errorf("schedule: %w", err)
		}
		if s.TimeZone == "" {
			return fmt.Errorf("schedule: timeZone is required")
		}
	default:
		return fmt.Errorf("unknown trigger kind %q", c.Trigger.Kind)
	}
	if len(c.Actions) == 0 {
		return fmt.Errorf("automation requires at least one action")
	}
	for i := range c.Actions {
		if err := c.Actions[i].Validate(); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}

type ExecutionStatus string

const (
	ExecutionRunning        ExecutionStatus = "running"
	ExecutionSuccess        ExecutionStatus = "success"
	ExecutionPartialFailure ExecutionStatus = "partial_failure"
	ExecutionFailure        ExecutionStatus = "failure"
)

type ActionStatus string

const (
	ActionStatusRunning ActionStatus = "running"
	ActionStatusSuccess ActionStatus = "success"
	ActionStatusFailure ActionStatus = "failure"
	ActionStatusSkipped ActionStatus = "skipped"
)

// ParseClock parses a "HH:MM" local wall clock string.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid clock %q, want HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}
