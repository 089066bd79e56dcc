package conditions

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/liamcoop/courseaudit/course"
	"github.com/liamcoop/courseaudit/rules"
)

const (
	maxChains          = 50
	maxSegmentsInChain = 50
	maxActions         = 10
)

// Validate checks a definition before it is stored or evaluated. Errors wrap
// ErrInvalidDefinition.
func Validate(def *Definition) error {
	if err := validate(def); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return nil
}

func validate(def *Definition) error {
	if def == nil {
		return fmt.Errorf("definition is nil")
	}
	if err := course.ValidateIdentifier(def.Key); err != nil {
		return fmt.Errorf("invalid key %q: %w", def.Key, err)
	}
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("rule %q has no name", def.Key)
	}
	if !def.Category.Valid() {
		return fmt.Errorf("rule %q has unknown category %q", def.Key, def.Category)
	}
	switch def.TargetType {
	case rules.TargetCourse, rules.TargetSection, rules.TargetModule:
	default:
		return fmt.Errorf("rule %q has unknown target type %q", def.Key, def.TargetType)
	}

	if len(def.Chains) == 0 {
		return fmt.Errorf("rule %q must contain at least one chain", def.Key)
	}
	if len(def.Chains) > maxChains {
		return fmt.Errorf("rule %q contains %d chains, maximum allowed is %d", def.Key, len(def.Chains), maxChains)
	}

	for i, chain := range def.Chains {
		if i < len(def.Chains)-1 || chain.LogicalOperatorToNext != "" {
			if chain.LogicalOperatorToNext != LogicalAnd && chain.LogicalOperatorToNext != LogicalOr {
				return fmt.Errorf("chain %d has invalid logical operator %q (must be AND or OR)", i, chain.LogicalOperatorToNext)
			}
		}
		if len(chain.Segments) == 0 {
			return fmt.Errorf("chain %d must contain at least one segment", i)
		}
		if len(chain.Segments) > maxSegmentsInChain {
			return fmt.Errorf("chain %d contains %d segments, maximum allowed is %d", i, len(chain.Segments), maxSegmentsInChain)
		}
		for j, seg := range chain.Segments {
			if err := validateSegment(seg); err != nil {
				return fmt.Errorf("chain %d segment %d: %w", i, j, err)
			}
		}
	}

	if len(def.Actions) > maxActions {
		return fmt.Errorf("rule %q contains %d actions, maximum allowed is %d", def.Key, len(def.Actions), maxActions)
	}
	for i, action := range def.Actions {
		if err := validateAction(action, def.TargetType); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}

func validateSegment(seg Segment) error {
	if !seg.TargetType.valid() {
		return fmt.Errorf("unknown target type %q", seg.TargetType)
	}
	if strings.TrimSpace(seg.TargetIdentifier) != seg.TargetIdentifier {
		return fmt.Errorf("target identifier %q has leading/trailing whitespace", seg.TargetIdentifier)
	}
	switch seg.TargetType {
	case TargetSection:
		if seg.TargetIdentifier != "" {
			if _, err := strconv.Atoi(seg.TargetIdentifier); err != nil {
				return fmt.Errorf("section identifier %q must be a section number", seg.TargetIdentifier)
			}
		}
	case TargetModule, TargetSubElement:
		if seg.TargetIdentifier == "" {
			return fmt.Errorf("target type %s requires a target identifier", seg.TargetType)
		}
		if err := course.ValidateIdentifier(seg.TargetIdentifier); err != nil {
			return fmt.Errorf("invalid target identifier %q: %w", seg.TargetIdentifier, err)
		}
	}

	switch {
	case seg.CheckType.isContent():
		if !seg.ContentChildType.valid() || seg.ContentChildType == TargetCourse {
			return fmt.Errorf("%s requires a content child type of SECTION, MODULE or SUB_ELEMENT, got %q", seg.CheckType, seg.ContentChildType)
		}
		if seg.ContentChildType == TargetSubElement && seg.ContentChildIdentifier == "" {
			return fmt.Errorf("SUB_ELEMENT content requires a content child identifier")
		}
	case seg.CheckType.isSetting():
		if err := course.ValidateIdentifier(seg.SettingName); err != nil {
			return fmt.Errorf("invalid setting name %q: %w", seg.SettingName, err)
		}
		if !isValidOperator(seg.SettingOperator) {
			return fmt.Errorf("invalid setting operator %q (must be one of: EQUALS, NOT_EQUALS, CONTAINS, IS_TRUE, IS_FALSE)", seg.SettingOperator)
		}
	default:
		return fmt.Errorf("unknown check type %q", seg.CheckType)
	}
	return nil
}

func validateAction(action Action, ruleTarget rules.TargetType) error {
	if want := TargetType(strings.ToUpper(string(ruleTarget))); action.TargetType != want {
		return fmt.Errorf("target type %q must match the rule target %q", action.TargetType, want)
	}
	switch action.ActionType {
	case ActionChangeSetting:
		if err := course.ValidateIdentifier(action.SettingName); err != nil {
			return fmt.Errorf("invalid setting name %q: %w", action.SettingName, err)
		}
	case ActionAddContent:
		if action.TargetType != TargetSection || action.ContentChildType != TargetModule {
			return fmt.Errorf("ADD_CONTENT only supports adding a MODULE to a SECTION")
		}
		if err := course.ValidateIdentifier(action.ContentChildIdentifier); err != nil {
			return fmt.Errorf("invalid content child identifier %q: %w", action.ContentChildIdentifier, err)
		}
		for name := range action.InitialSettings {
			if err := course.ValidateIdentifier(name); err != nil {
				return fmt.Errorf("invalid initial setting %q: %w", name, err)
			}
		}
	default:
		return fmt.Errorf("unknown action type %q", action.ActionType)
	}
	return nil
}

func isValidOperator(op Operator) bool {
	for _, known := range Operators {
		if op == known {
			return true
		}
	}
	return false
}
