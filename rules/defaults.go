package rules

import "github.com/liamcoop/courseaudit/course"

// DefaultRegistry registers the built-in rules in display order. The reader
// serves rules that look up persisted settings.
func DefaultRegistry(reader course.Reader) *Registry {
	r := NewRegistry()
	for _, rule := range []Rule{
		NewCourseHasSummary(),
		NewHasLabel(),
		NewSectionHasQuiz(),
		NewQuizIsRepeatable(reader),
		NewQuizHasCompletion(),
		NewHasConnections(),
		NewActivityFlowHealth(),
	} {
		if !r.Register(rule) {
			panic("rules: failed to register built-in rule " + rule.Key())
		}
	}
	return r
}
