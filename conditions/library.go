package conditions

import (
	"context"
	"errors"
	"fmt"

	"github.com/liamcoop/courseaudit/internal/logger"
	"github.com/liamcoop/courseaudit/rules"
)

// Library validates and stores definitions and serves the enabled ones as
// rules. The enabled list is cached until the next mutation.
type Library struct {
	store     Store
	evaluator *Evaluator
	cache     DefinitionsCache
	onChange  []func(ctx context.Context)
}

// NewLibrary creates a library over store. A nil cache selects an in-memory
// cache invalidated on mutation.
func NewLibrary(store Store, evaluator *Evaluator, cache DefinitionsCache) *Library {
	if cache == nil {
		cache = NewInMemoryDefinitionsCache(DefaultCacheConfig())
	}
	return &Library{store: store, evaluator: evaluator, cache: cache}
}

// OnChange registers fn to run after every mutation of the stored
// definitions. It must be called before the library is shared.
func (l *Library) OnChange(fn func(ctx context.Context)) {
	l.onChange = append(l.onChange, fn)
}

func (l *Library) changed(ctx context.Context) {
	l.cache.Invalidate()
	for _, fn := range l.onChange {
		fn(ctx)
	}
}

// Store returns the underlying store.
func (l *Library) Store() Store { return l.store }

// Add validates and stores a new definition.
func (l *Library) Add(ctx context.Context, def *Definition) error {
	if err := Validate(def); err != nil {
		return err
	}
	if err := l.store.Add(ctx, def); err != nil {
		return err
	}
	l.changed(ctx)
	return nil
}

// Update validates and replaces a definition.
func (l *Library) Update(ctx context.Context, def *Definition) error {
	if err := Validate(def); err != nil {
		return err
	}
	if err := l.store.Update(ctx, def); err != nil {
		return err
	}
	l.changed(ctx)
	return nil
}

// Delete removes a definition.
func (l *Library) Delete(ctx context.Context, id int64) error {
	if err := l.store.Delete(ctx, id); err != nil {
		return err
	}
	l.changed(ctx)
	return nil
}

// Import stores a rule set and its definitions. Definitions whose key
// already exists are updated in place.
func (l *Library) Import(ctx context.Context, rs *RuleSet) (created, updated int, err error) {
	for _, def := range rs.Definitions {
		if err := Validate(def); err != nil {
			return 0, 0, fmt.Errorf("rule set %q: %w", rs.Name, err)
		}
	}

	if err := l.createOrReuseRuleSet(ctx, rs); err != nil {
		return 0, 0, err
	}
	defer l.changed(ctx)

	for _, def := range rs.Definitions {
		def.RuleSetID = rs.ID
		existing, err := l.store.GetByKey(ctx, def.Key)
		if err == nil {
			def.ID = existing.ID
			if err := l.store.Update(ctx, def); err != nil {
				return created, updated, err
			}
			updated++
			continue
		}
		if err := l.store.Add(ctx, def); err != nil {
			return created, updated, err
		}
		created++
	}
	return created, updated, nil
}

// createOrReuseRuleSet stores rs, or adopts the id of the stored rule set of
// the same name so a document can be imported again.
func (l *Library) createOrReuseRuleSet(ctx context.Context, rs *RuleSet) error {
	err := l.store.CreateRuleSet(ctx, rs)
	if !errors.Is(err, ErrAlreadyExists) {
		return err
	}
	sets, listErr := l.store.RuleSets(ctx)
	if listErr != nil {
		return fmt.Errorf("failed to list rule sets: %w", listErr)
	}
	for _, existing := range sets {
		if existing.Name == rs.Name {
			rs.ID = existing.ID
			return nil
		}
	}
	return err
}

// Rules returns the enabled definitions wrapped as rules.
func (l *Library) Rules(ctx context.Context) ([]rules.Rule, error) {
	defs := l.cache.Get()
	if defs == nil {
		var err error
		defs, err = l.store.ListEnabled(ctx)
		if err != nil {
			return nil, err
		}
		l.cache.Set(defs)
	}

	out := make([]rules.Rule, 0, len(defs))
	for _, def := range defs {
		if err := Validate(def); err != nil {
			logger.Warn("Skipping invalid stored rule", "rule_key", def.Key, "error", err)
			continue
		}
		out = append(out, NewDefinitionRule(def, l.evaluator))
	}
	return out, nil
}

// Evaluate runs one stored definition against a course.
func (l *Library) Evaluate(ctx context.Context, id, courseID int64) (*Evaluation, error) {
	def, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.evaluator.Evaluate(ctx, def, courseID)
}
