package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/liamcoop/courseaudit/course"
)

// Registry holds rules in registration order.
type Registry struct {
	rules []Rule
	byKey map[string]Rule
	mu    sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]Rule)}
}

// Register adds a rule. It returns false when the rule's category is unknown,
// its key is already taken, or one of its prerequisites has not been
// registered yet.
func (r *Registry) Register(rule Rule) bool {
	if rule == nil || rule.Key() == "" || !rule.Category().Valid() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKey[rule.Key()]; exists {
		return false
	}
	for _, key := range rule.Prerequisites() {
		prereq, ok := r.byKey[key]
		if !ok || prereq.TargetType() != rule.TargetType() {
			return false
		}
	}

	r.rules = append(r.rules, rule)
	r.byKey[rule.Key()] = rule
	return true
}

// With returns a copy of the registry with extra rules registered after the
// existing ones. Extra rules that cannot be registered are returned as
// rejected.
func (r *Registry) With(extra ...Rule) (*Registry, []Rule) {
	r.mu.RLock()
	clone := &Registry{
		rules: append([]Rule(nil), r.rules...),
		byKey: make(map[string]Rule, len(r.byKey)+len(extra)),
	}
	for k, v := range r.byKey {
		clone.byKey[k] = v
	}
	r.mu.RUnlock()

	var rejected []Rule
	for _, rule := range extra {
		if !clone.Register(rule) {
			rejected = append(rejected, rule)
		}
	}
	return clone, rejected
}

// Rules returns the registered rules in registration order, limited to the
// given categories when any are passed.
func (r *Registry) Rules(categories ...Category) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		if inCategories(rule.Category(), categories) {
			out = append(out, rule)
		}
	}
	return out
}

// Rule looks up a rule by key.
func (r *Registry) Rule(key string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.byKey[key]
	return rule, ok
}

// Run evaluates every matching rule against the target in registration
// order. Rules that do not apply to the target produce no result. A rule
// whose prerequisites did not all pass for the same target is skipped.
// Prerequisites outside the category filter are still evaluated but their
// results are not returned.
func (r *Registry) Run(ctx context.Context, target Target, c *course.Course, categories ...Category) ([]Result, error) {
	run := &registryRun{
		registry: r,
		target:   target,
		course:   c,
		done:     make(map[string]*Result),
	}

	var results []Result
	for _, rule := range r.Rules(categories...) {
		if rule.TargetType() != target.Kind() {
			continue
		}
		res, err := run.evaluate(ctx, rule)
		if err != nil {
			return nil, err
		}
		if res != nil {
			results = append(results, *res)
		}
	}
	return results, nil
}

// registryRun memoizes results per rule key for one target.
type registryRun struct {
	registry *Registry
	target   Target
	course   *course.Course
	done     map[string]*Result
}

func (run *registryRun) evaluate(ctx context.Context, rule Rule) (*Result, error) {
	if res, ok := run.done[rule.Key()]; ok {
		return res, nil
	}

	for _, key := range rule.Prerequisites() {
		prereq, ok := run.registry.Rule(key)
		if !ok {
			run.done[rule.Key()] = nil
			return nil, nil
		}
		res, err := run.evaluate(ctx, prereq)
		if err != nil {
			return nil, err
		}
		if res == nil || !res.Status {
			run.done[rule.Key()] = nil
			return nil, nil
		}
	}

	res, err := rule.Check(ctx, run.target, run.course)
	if err != nil {
		return nil, fmt.Errorf("rule %s on %s %d: %w", rule.Key(), run.target.Kind(), run.target.ID(), err)
	}
	run.done[rule.Key()] = res
	return res, nil
}

func inCategories(c Category, categories []Category) bool {
	if len(categories) == 0 {
		return true
	}
	for _, want := range categories {
		if c == want {
			return true
		}
	}
	return false
}
