package conditions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/liamcoop/courseaudit/internal/logger"
)

var errUnsupportedNavigation = errors.New("unsupported navigation")

// Step records the evaluation of one segment.
type Step struct {
	Chain   int    `json:"chain"`
	Segment int    `json:"segment"`
	Context string `json:"context"`
	Subject string `json:"subject,omitempty"`
	Passed  bool   `json:"passed"`
	Next    string `json:"next,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Evaluation is the outcome of evaluating a definition.
type Evaluation struct {
	Passed bool `json:"passed"`

	// Aborted is set when an AND composition failed and the remaining
	// chains were not evaluated.
	Aborted bool   `json:"aborted"`
	Chains  []bool `json:"chains"`
	Trace   []Step `json:"trace"`
}

// Evaluator interprets definitions against live targets.
type Evaluator struct {
	resolver   Resolver
	comparator *Comparator
}

// NewEvaluator creates an evaluator navigating through resolver.
func NewEvaluator(resolver Resolver) (*Evaluator, error) {
	comparator, err := NewComparator()
	if err != nil {
		return nil, err
	}
	return &Evaluator{resolver: resolver, comparator: comparator}, nil
}

// Evaluate runs the definition starting from the course context.
func (e *Evaluator) Evaluate(ctx context.Context, def *Definition, courseID int64) (*Evaluation, error) {
	return e.EvaluateFrom(ctx, def, CourseTarget{CourseID: courseID})
}

// EvaluateFrom runs the definition with every chain starting at start.
//
// Segments inside a chain are ANDed and stop at the first failure. Chains
// are folded left to right using the operator of the preceding chain. An AND
// with a false side ends the evaluation as failed; OR results accumulate
// over all remaining chains. The last chain's operator is ignored.
func (e *Evaluator) EvaluateFrom(ctx context.Context, def *Definition, start Target) (*Evaluation, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: nil definition", ErrInvalidDefinition)
	}
	if len(def.Chains) == 0 {
		return nil, fmt.Errorf("%w: definition %q has no chains", ErrInvalidDefinition, def.Key)
	}

	chains := orderedChains(def.Chains)
	ev := &Evaluation{}

	var acc bool
	for i, chain := range chains {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if i > 0 && chains[i-1].LogicalOperatorToNext != LogicalOr && !acc {
			ev.Aborted = true
			break
		}

		passed := e.evalChain(ctx, i, chain, start, ev)
		ev.Chains = append(ev.Chains, passed)

		switch {
		case i == 0:
			acc = passed
		case chains[i-1].LogicalOperatorToNext == LogicalOr:
			acc = acc || passed
		default:
			acc = acc && passed
			if !acc {
				ev.Aborted = i < len(chains)-1
				ev.Passed = false
				return ev, nil
			}
		}
	}

	ev.Passed = acc && !ev.Aborted
	return ev, nil
}

func orderedChains(chains []Chain) []Chain {
	out := make([]Chain, len(chains))
	copy(out, chains)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	for i := range out {
		segs := make([]Segment, len(out[i].Segments))
		copy(segs, out[i].Segments)
		sort.SliceStable(segs, func(a, b int) bool { return segs[a].Order < segs[b].Order })
		out[i].Segments = segs
	}
	return out
}

// evalChain evaluates the chain's segments in order. A content segment that
// finds a child moves the context to that child for the segments after it.
func (e *Evaluator) evalChain(ctx context.Context, index int, chain Chain, start Target, ev *Evaluation) bool {
	if len(chain.Segments) == 0 {
		return false
	}
	current := start
	for j, seg := range chain.Segments {
		step, next := e.evalSegment(ctx, seg, current)
		step.Chain, step.Segment = index, j
		ev.Trace = append(ev.Trace, step)
		if !step.Passed {
			return false
		}
		if next != nil {
			current = next
		}
	}
	return true
}

// evalSegment never returns an error: anything that cannot be resolved or
// read fails the segment.
func (e *Evaluator) evalSegment(ctx context.Context, seg Segment, current Target) (Step, Target) {
	step := Step{Context: fmt.Sprint(current)}

	subject, err := e.subject(ctx, seg, current)
	if err != nil {
		step.Detail = fmt.Sprintf("cannot resolve %s from %s: %v", seg.TargetType, step.Context, err)
		if !errors.Is(err, errUnsupportedNavigation) {
			logger.Warn("Condition segment resolution failed", "segment_id", seg.ID, "context", step.Context, "error", err)
		}
		return step, nil
	}
	if subject == nil {
		step.Detail = fmt.Sprintf("no %s %q found from %s", seg.TargetType, seg.TargetIdentifier, step.Context)
		return step, nil
	}
	step.Subject = fmt.Sprint(subject)

	switch {
	case seg.CheckType.isContent():
		child, err := e.findChild(ctx, subject, seg.ContentChildType, seg.ContentChildIdentifier)
		if err != nil {
			step.Detail = fmt.Sprintf("cannot look for %s in %s: %v", seg.ContentChildType, step.Subject, err)
			if !errors.Is(err, errUnsupportedNavigation) {
				logger.Warn("Condition content lookup failed", "segment_id", seg.ID, "subject", step.Subject, "error", err)
			}
			return step, nil
		}
		if seg.CheckType == CheckHasContent {
			step.Passed = child != nil
			if child != nil {
				step.Next = fmt.Sprint(child)
				return step, child
			}
			step.Detail = fmt.Sprintf("no %s %q in %s", seg.ContentChildType, seg.ContentChildIdentifier, step.Subject)
			return step, nil
		}
		step.Passed = child == nil
		if child != nil {
			step.Detail = fmt.Sprintf("found %s", child)
		}
		return step, nil

	case seg.CheckType.isSetting():
		value, found, err := e.resolver.Setting(ctx, subject, seg.SettingName)
		if err != nil {
			step.Detail = fmt.Sprintf("cannot read %s of %s: %v", seg.SettingName, step.Subject, err)
			logger.Warn("Condition setting read failed", "segment_id", seg.ID, "subject", step.Subject, "error", err)
			return step, nil
		}
		matched := false
		if found {
			matched, err = e.comparator.Compare(seg.SettingOperator, value, seg.SettingExpectedValue)
			if err != nil {
				step.Detail = err.Error()
				return step, nil
			}
		}
		step.Detail = fmt.Sprintf("%s = %q", seg.SettingName, value)
		if !found {
			step.Detail = fmt.Sprintf("%s is not set", seg.SettingName)
		}
		step.Passed = matched == (seg.CheckType == CheckHasSetting)
		return step, nil

	default:
		step.Detail = fmt.Sprintf("unknown check type %q", seg.CheckType)
		return step, nil
	}
}

// subject resolves the entity a segment addresses from the current context.
// A nil target with a nil error means nothing matched.
func (e *Evaluator) subject(ctx context.Context, seg Segment, current Target) (Target, error) {
	id := seg.TargetIdentifier

	switch seg.TargetType {
	case TargetCourse:
		return CourseTarget{CourseID: current.Course()}, nil

	case TargetSection:
		switch t := current.(type) {
		case SectionTarget:
			if !sectionMatches(t, id) {
				return nil, nil
			}
			return t, nil
		case ModuleTarget:
			sec, err := e.resolver.Section(ctx, t.SectionID)
			if err != nil {
				return nil, err
			}
			if !sectionMatches(sec, id) {
				return nil, nil
			}
			return sec, nil
		case CourseTarget:
			return e.findChild(ctx, t, TargetSection, id)
		}

	case TargetModule:
		switch t := current.(type) {
		case ModuleTarget:
			if id != "" && t.ModName != id {
				return nil, nil
			}
			return t, nil
		case SectionTarget, CourseTarget:
			return e.findChild(ctx, t, TargetModule, id)
		}

	case TargetSubElement:
		switch t := current.(type) {
		case SubElementTarget:
			if id != "" && t.ElementKind != id {
				return nil, nil
			}
			return t, nil
		case ModuleTarget:
			return e.findChild(ctx, t, TargetSubElement, id)
		}
	}

	return nil, fmt.Errorf("%w: %s from %s", errUnsupportedNavigation, seg.TargetType, current.Kind())
}

// findChild returns the first child of parent with the given type that
// matches identifier, or nil when there is none.
func (e *Evaluator) findChild(ctx context.Context, parent Target, childType TargetType, identifier string) (Target, error) {
	switch p := parent.(type) {
	case CourseTarget:
		switch childType {
		case TargetSection:
			sections, err := e.resolver.Sections(ctx, p.CourseID)
			if err != nil {
				return nil, err
			}
			for _, s := range sections {
				if sectionMatches(s, identifier) {
					return s, nil
				}
			}
			return nil, nil
		case TargetModule:
			sections, err := e.resolver.Sections(ctx, p.CourseID)
			if err != nil {
				return nil, err
			}
			for _, s := range sections {
				m, err := e.findChild(ctx, s, TargetModule, identifier)
				if err != nil || m != nil {
					return m, err
				}
			}
			return nil, nil
		}

	case SectionTarget:
		if childType == TargetModule {
			modules, err := e.resolver.Modules(ctx, p.SectionID)
			if err != nil {
				return nil, err
			}
			for _, m := range modules {
				if identifier == "" || m.ModName == identifier {
					return m, nil
				}
			}
			return nil, nil
		}

	case ModuleTarget:
		if childType == TargetSubElement && identifier != "" {
			elements, err := e.resolver.SubElements(ctx, p, identifier)
			if err != nil {
				return nil, err
			}
			if len(elements) == 0 {
				return nil, nil
			}
			return elements[0], nil
		}
	}

	return nil, fmt.Errorf("%w: %s in %s", errUnsupportedNavigation, childType, parent.Kind())
}

func sectionMatches(s SectionTarget, identifier string) bool {
	return identifier == "" || identifier == strconv.Itoa(s.Number)
}
