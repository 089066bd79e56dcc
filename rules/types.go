// Package rules holds the built-in course checks and the registry that runs
// them against course, section and module targets.
package rules

import (
	"context"
	"net/url"

	"github.com/liamcoop/courseaudit/course"
)

// Category groups rules for display and filtering.
type Category string

const (
	CategoryHint         Category = "hint"
	CategoryAction       Category = "action"
	CategoryActivityType Category = "activity_type"
	CategoryActivityFlow Category = "activity_flow"
)

// Categories lists the known categories in display order.
var Categories = []Category{
	CategoryHint,
	CategoryAction,
	CategoryActivityType,
	CategoryActivityFlow,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// TargetType is the kind of entity a rule checks.
type TargetType string

const (
	TargetCourse  TargetType = "course"
	TargetSection TargetType = "section"
	TargetModule  TargetType = "module"
)

// Target is the entity a rule is evaluated against. The concrete types are
// CourseTarget, SectionTarget and ModuleTarget.
type Target interface {
	Kind() TargetType
	ID() int64
}

// CourseTarget is a whole course.
type CourseTarget struct {
	Course *course.Course
}

func (t *CourseTarget) Kind() TargetType { return TargetCourse }
func (t *CourseTarget) ID() int64        { return t.Course.ID }

// SectionTarget is a section together with the modules visible in it, in
// sequence order.
type SectionTarget struct {
	Section *course.Section
	Modules []*course.Module
}

func (t *SectionTarget) Kind() TargetType { return TargetSection }
func (t *SectionTarget) ID() int64        { return t.Section.ID }

// ModuleTarget is a single course module.
type ModuleTarget struct {
	Module *course.Module
}

func (t *ModuleTarget) Kind() TargetType { return TargetModule }
func (t *ModuleTarget) ID() int64        { return t.Module.ID }

// Result is the outcome of one rule against one target.
type Result struct {
	Status       bool       `json:"status"`
	Messages     []string   `json:"messages"`
	RuleKey      string     `json:"rule_key"`
	RuleName     string     `json:"rule_name"`
	RuleCategory Category   `json:"rule_category"`
	TargetType   TargetType `json:"target_type"`
	TargetID     int64      `json:"target_id"`
	CourseID     int64      `json:"course_id"`
}

// Action describes the remote operation that fixes a failed result.
type Action struct {
	Label    string
	Endpoint string
	Params   map[string]string
}

// EncodeParams serializes the parameters as key=value pairs sorted by key.
func (a *Action) EncodeParams() string {
	values := make(url.Values, len(a.Params))
	for k, v := range a.Params {
		values.Set(k, v)
	}
	return values.Encode()
}

// Rule is a stateless check. Check returns a nil result when the rule does
// not apply to the target. Action returns nil for passing results and for
// rules without a corrective operation.
type Rule interface {
	Key() string
	Name() string
	TargetType() TargetType
	Category() Category
	Prerequisites() []string
	Check(ctx context.Context, target Target, c *course.Course) (*Result, error)
	Action(result *Result) *Action
}

// base carries the identity shared by every built-in rule.
type base struct {
	key           string
	name          string
	targetType    TargetType
	category      Category
	prerequisites []string
}

func (b *base) Key() string            { return b.key }
func (b *base) Name() string           { return b.name }
func (b *base) TargetType() TargetType { return b.targetType }
func (b *base) Category() Category     { return b.category }

func (b *base) Prerequisites() []string {
	return append([]string(nil), b.prerequisites...)
}

func (b *base) result(target Target, c *course.Course, status bool, messages ...string) *Result {
	return &Result{
		Status:       status,
		Messages:     messages,
		RuleKey:      b.key,
		RuleName:     b.name,
		RuleCategory: b.category,
		TargetType:   target.Kind(),
		TargetID:     target.ID(),
		CourseID:     c.ID,
	}
}
