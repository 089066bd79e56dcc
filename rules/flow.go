package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/liamcoop/courseaudit/course"
)

// HasConnections checks that every activity after the first in a section
// depends on completion of another activity.
type HasConnections struct {
	base
}

func NewHasConnections() *HasConnections {
	return &HasConnections{base{
		key:        "has_connections",
		name:       "Activity connections",
		targetType: TargetSection,
		category:   CategoryActivityFlow,
	}}
}

func (r *HasConnections) Check(_ context.Context, target Target, c *course.Course) (*Result, error) {
	t, ok := target.(*SectionTarget)
	if !ok {
		return nil, nil
	}
	name := t.Section.DisplayName()

	switch len(t.Modules) {
	case 0:
		return r.result(target, c, false,
			fmt.Sprintf("Section %q is empty, so there are no activities to connect.", name)), nil
	case 1:
		return r.result(target, c, false,
			fmt.Sprintf("Section %q has only one activity, so there is nothing to connect it to.", name)), nil
	}

	g := buildDependencyGraph(t.Modules)
	var unconnected []string
	for _, m := range t.Modules[1:] {
		if !g.hasIncoming(m.ID) {
			unconnected = append(unconnected, m.Name)
		}
	}
	if len(unconnected) > 0 {
		return r.result(target, c, false,
			fmt.Sprintf("%d of %d activities in section %q have no completion condition linking them to an earlier activity.",
				len(unconnected), len(t.Modules)-1, name),
			"Unconnected: "+strings.Join(unconnected, ", ")), nil
	}
	return r.result(target, c, true,
		fmt.Sprintf("All activities in section %q are connected through completion conditions.", name)), nil
}

func (r *HasConnections) Action(*Result) *Action { return nil }

// ActivityFlowHealth checks that the completion conditions of a section form
// a path from its first to its last activity without cycles or isolated
// activities.
type ActivityFlowHealth struct {
	base
}

func NewActivityFlowHealth() *ActivityFlowHealth {
	return &ActivityFlowHealth{base{
		key:           "activity_flow_health",
		name:          "Activity flow",
		targetType:    TargetSection,
		category:      CategoryActivityFlow,
		prerequisites: []string{"has_connections"},
	}}
}

func (r *ActivityFlowHealth) Check(_ context.Context, target Target, c *course.Course) (*Result, error) {
	t, ok := target.(*SectionTarget)
	if !ok || len(t.Modules) < 2 {
		return nil, nil
	}
	name := t.Section.DisplayName()
	names := make(map[int64]string, len(t.Modules))
	for _, m := range t.Modules {
		names[m.ID] = m.Name
	}
	nameList := func(ids []int64) string {
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = names[id]
		}
		return strings.Join(out, ", ")
	}

	g := buildDependencyGraph(t.Modules)
	first := t.Modules[0].ID
	last := t.Modules[len(t.Modules)-1].ID

	var problems []string
	if cycle := g.cycle(); cycle != nil {
		problems = append(problems, "Completion conditions form a cycle: "+nameList(cycle)+".")
	}

	seen := g.reachable(first)
	if !seen[last] {
		problems = append(problems,
			fmt.Sprintf("The last activity %q cannot be reached from the first activity %q.", names[last], names[first]))
	}
	var unreachable []int64
	for _, id := range g.order {
		if !seen[id] {
			unreachable = append(unreachable, id)
		}
	}
	if len(unreachable) > 0 {
		problems = append(problems, "Not reachable from the first activity: "+nameList(unreachable)+".")
	}
	if isolated := g.isolated(); len(isolated) > 0 {
		problems = append(problems, "Not linked to any other activity in the section: "+nameList(isolated)+".")
	}

	if len(problems) > 0 {
		msgs := append([]string{fmt.Sprintf("The activity flow of section %q has gaps.", name)}, problems...)
		return r.result(target, c, false, msgs...), nil
	}
	return r.result(target, c, true,
		fmt.Sprintf("Every activity in section %q is reachable from the first activity and the flow reaches the last one.", name)), nil
}

func (r *ActivityFlowHealth) Action(*Result) *Action { return nil }
