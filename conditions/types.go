// Package conditions interprets stored rule definitions: ordered chains of
// typed segments evaluated against course, section, module and sub-element
// targets.
package conditions

import (
	"errors"
	"fmt"
	"time"

	"github.com/liamcoop/courseaudit/rules"
)

var (
	// ErrNotFound is returned when a rule set, definition or action does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidDefinition is returned when a definition fails validation.
	ErrInvalidDefinition = errors.New("invalid definition")

	// ErrAlreadyExists is returned when a rule set name or rule key is taken.
	ErrAlreadyExists = errors.New("already exists")
)

// TargetType names the kind of entity a segment addresses.
type TargetType string

const (
	TargetCourse     TargetType = "COURSE"
	TargetSection    TargetType = "SECTION"
	TargetModule     TargetType = "MODULE"
	TargetSubElement TargetType = "SUB_ELEMENT"
)

func (t TargetType) valid() bool {
	switch t {
	case TargetCourse, TargetSection, TargetModule, TargetSubElement:
		return true
	}
	return false
}

// CheckType is the kind of test a segment performs.
type CheckType string

const (
	CheckHasContent    CheckType = "HAS_CONTENT"
	CheckNotHasContent CheckType = "NOT_HAS_CONTENT"
	CheckHasSetting    CheckType = "HAS_SETTING"
	CheckNotHasSetting CheckType = "NOT_HAS_SETTING"
)

func (c CheckType) isContent() bool { return c == CheckHasContent || c == CheckNotHasContent }
func (c CheckType) isSetting() bool { return c == CheckHasSetting || c == CheckNotHasSetting }

// Operator compares a setting value with an expected value.
type Operator string

const (
	OpEquals    Operator = "EQUALS"
	OpNotEquals Operator = "NOT_EQUALS"
	OpContains  Operator = "CONTAINS"
	OpIsTrue    Operator = "IS_TRUE"
	OpIsFalse   Operator = "IS_FALSE"
)

// Operators lists every supported comparison.
var Operators = []Operator{OpEquals, OpNotEquals, OpContains, OpIsTrue, OpIsFalse}

// LogicalOperator composes a chain with the chain after it.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// ActionType is the kind of remediation an action performs.
type ActionType string

const (
	ActionChangeSetting ActionType = "CHANGE_SETTING"
	ActionAddContent    ActionType = "ADD_CONTENT"
)

// Target is the context a segment is evaluated in.
type Target interface {
	Kind() TargetType
	ID() int64
	Course() int64
}

// CourseTarget is a course context.
type CourseTarget struct {
	CourseID int64
}

func (t CourseTarget) Kind() TargetType { return TargetCourse }
func (t CourseTarget) ID() int64        { return t.CourseID }
func (t CourseTarget) Course() int64    { return t.CourseID }
func (t CourseTarget) String() string   { return fmt.Sprintf("COURSE(%d)", t.CourseID) }

// SectionTarget is a section context.
type SectionTarget struct {
	SectionID int64
	CourseID  int64
	Number    int
}

func (t SectionTarget) Kind() TargetType { return TargetSection }
func (t SectionTarget) ID() int64        { return t.SectionID }
func (t SectionTarget) Course() int64    { return t.CourseID }
func (t SectionTarget) String() string {
	return fmt.Sprintf("SECTION(%d #%d)", t.SectionID, t.Number)
}

// ModuleTarget is a course-module context.
type ModuleTarget struct {
	ModuleID  int64
	CourseID  int64
	SectionID int64
	ModName   string
}

func (t ModuleTarget) Kind() TargetType { return TargetModule }
func (t ModuleTarget) ID() int64        { return t.ModuleID }
func (t ModuleTarget) Course() int64    { return t.CourseID }
func (t ModuleTarget) String() string   { return fmt.Sprintf("MODULE(%s %d)", t.ModName, t.ModuleID) }

// SubElementTarget is a sub-element context, such as a quiz slot.
type SubElementTarget struct {
	ElementID   int64
	ModuleID    int64
	CourseID    int64
	ModName     string
	ElementKind string
}

func (t SubElementTarget) Kind() TargetType { return TargetSubElement }
func (t SubElementTarget) ID() int64        { return t.ElementID }
func (t SubElementTarget) Course() int64    { return t.CourseID }
func (t SubElementTarget) String() string {
	return fmt.Sprintf("SUB_ELEMENT(%s/%s %d)", t.ModName, t.ElementKind, t.ElementID)
}

// Segment is one typed comparison within a chain.
type Segment struct {
	ID                     int64      `json:"id" yaml:"-"`
	Order                  int        `json:"segment_order" yaml:"-"`
	TargetType             TargetType `json:"target_type" yaml:"target_type"`
	TargetIdentifier       string     `json:"target_identifier,omitempty" yaml:"target_identifier,omitempty"`
	CheckType              CheckType  `json:"check_type" yaml:"check_type"`
	ContentChildType       TargetType `json:"content_child_type,omitempty" yaml:"content_child_type,omitempty"`
	ContentChildIdentifier string     `json:"content_child_identifier,omitempty" yaml:"content_child_identifier,omitempty"`
	SettingName            string     `json:"setting_name,omitempty" yaml:"setting_name,omitempty"`
	SettingOperator        Operator   `json:"setting_operator,omitempty" yaml:"setting_operator,omitempty"`
	SettingExpectedValue   string     `json:"setting_expected_value,omitempty" yaml:"setting_expected_value,omitempty"`
}

// Chain is an ordered list of segments that all must pass, joined to the
// next chain by LogicalOperatorToNext.
type Chain struct {
	ID                    int64           `json:"id" yaml:"-"`
	Order                 int             `json:"chain_order" yaml:"-"`
	LogicalOperatorToNext LogicalOperator `json:"logical_operator_to_next" yaml:"logical_operator_to_next"`
	Segments              []Segment       `json:"segments" yaml:"segments"`
}

// Action is the remediation attached to a definition. TargetType names the
// symbolic target of the request's target map the action applies to.
type Action struct {
	ID                     int64             `json:"id" yaml:"-"`
	DefinitionID           int64             `json:"rule_id" yaml:"-"`
	ActionType             ActionType        `json:"action_type" yaml:"action_type"`
	Label                  string            `json:"label" yaml:"label"`
	TargetType             TargetType        `json:"target_type" yaml:"target_type"`
	SettingName            string            `json:"setting_name,omitempty" yaml:"setting_name,omitempty"`
	SettingValue           string            `json:"setting_value,omitempty" yaml:"setting_value,omitempty"`
	ContentChildType       TargetType        `json:"content_child_type,omitempty" yaml:"content_child_type,omitempty"`
	ContentChildIdentifier string            `json:"content_child_identifier,omitempty" yaml:"content_child_identifier,omitempty"`
	InitialSettings        map[string]string `json:"initial_settings,omitempty" yaml:"initial_settings,omitempty"`
}

// Definition is a data-defined rule.
type Definition struct {
	ID          int64            `json:"id" yaml:"-"`
	RuleSetID   int64            `json:"rule_set_id" yaml:"-"`
	Key         string           `json:"key" yaml:"key"`
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Category    rules.Category   `json:"category" yaml:"category"`
	TargetType  rules.TargetType `json:"target_type" yaml:"target_type"`
	Enabled     bool             `json:"enabled" yaml:"enabled"`
	Chains      []Chain          `json:"chains" yaml:"chains"`
	Actions     []Action         `json:"actions,omitempty" yaml:"actions,omitempty"`
	CreatedAt   time.Time        `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time        `json:"updated_at" yaml:"-"`
}

// RuleSet groups definitions.
type RuleSet struct {
	ID          int64         `json:"id" yaml:"-"`
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	Definitions []*Definition `json:"definitions,omitempty" yaml:"rules"`
	CreatedAt   time.Time     `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time     `json:"updated_at" yaml:"-"`
}
