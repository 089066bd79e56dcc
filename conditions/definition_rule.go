package conditions

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/liamcoop/courseaudit/course"
	"github.com/liamcoop/courseaudit/rules"
)

// EndpointExecuteRuleAction is the remediation endpoint for stored actions.
const EndpointExecuteRuleAction = "execute_rule_action"

// DefinitionRule runs a stored definition as a rules.Rule, so stored
// definitions share the registry and auditor path with the built-in rules.
type DefinitionRule struct {
	def       *Definition
	evaluator *Evaluator
}

// NewDefinitionRule wraps a definition.
func NewDefinitionRule(def *Definition, evaluator *Evaluator) *DefinitionRule {
	return &DefinitionRule{def: def, evaluator: evaluator}
}

func (r *DefinitionRule) Key() string                  { return r.def.Key }
func (r *DefinitionRule) Name() string                 { return r.def.Name }
func (r *DefinitionRule) TargetType() rules.TargetType { return r.def.TargetType }
func (r *DefinitionRule) Category() rules.Category     { return r.def.Category }
func (r *DefinitionRule) Prerequisites() []string      { return nil }

// Definition returns the wrapped definition.
func (r *DefinitionRule) Definition() *Definition { return r.def }

func (r *DefinitionRule) Check(ctx context.Context, target rules.Target, c *course.Course) (*rules.Result, error) {
	if target.Kind() != r.def.TargetType {
		return nil, nil
	}
	start, ok := fromRuleTarget(target, c.ID)
	if !ok {
		return nil, nil
	}

	ev, err := r.evaluator.EvaluateFrom(ctx, r.def, start)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate definition %s: %w", r.def.Key, err)
	}

	res := &rules.Result{
		Status:       ev.Passed,
		RuleKey:      r.def.Key,
		RuleName:     r.def.Name,
		RuleCategory: r.def.Category,
		TargetType:   target.Kind(),
		TargetID:     target.ID(),
		CourseID:     c.ID,
	}
	if ev.Passed {
		res.Messages = []string{fmt.Sprintf("%s: passed.", r.def.Name)}
		return res, nil
	}

	msg := r.def.Description
	if msg == "" {
		msg = fmt.Sprintf("%s: not satisfied.", r.def.Name)
	}
	res.Messages = []string{msg}
	for _, step := range ev.Trace {
		if !step.Passed && step.Detail != "" {
			res.Messages = append(res.Messages, step.Detail)
			break
		}
	}
	return res, nil
}

// Action returns a descriptor for the definition's first action. The target
// map names the checked entity under the action's symbolic target type.
func (r *DefinitionRule) Action(res *rules.Result) *rules.Action {
	if res == nil || res.Status || res.RuleKey != r.def.Key || len(r.def.Actions) == 0 {
		return nil
	}
	action := r.def.Actions[0]
	if action.ID == 0 {
		return nil
	}

	targets, err := json.Marshal(map[string]int64{string(action.TargetType): res.TargetID})
	if err != nil {
		return nil
	}
	label := action.Label
	if label == "" {
		label = r.def.Name
	}
	return &rules.Action{
		Label:    label,
		Endpoint: EndpointExecuteRuleAction,
		Params: map[string]string{
			"actionid": strconv.FormatInt(action.ID, 10),
			"courseid": strconv.FormatInt(res.CourseID, 10),
			"targets":  string(targets),
		},
	}
}

// fromRuleTarget converts a registry target into an evaluation context.
func fromRuleTarget(target rules.Target, courseID int64) (Target, bool) {
	switch t := target.(type) {
	case *rules.CourseTarget:
		return CourseTarget{CourseID: t.Course.ID}, true
	case *rules.SectionTarget:
		return SectionTarget{SectionID: t.Section.ID, CourseID: courseID, Number: t.Section.Number}, true
	case *rules.ModuleTarget:
		return ModuleTarget{
			ModuleID:  t.Module.ID,
			CourseID:  courseID,
			SectionID: t.Module.SectionID,
			ModName:   t.Module.ModName,
		}, true
	}
	return nil, false
}
