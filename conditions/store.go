package conditions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store manages rule sets and rule definitions. Definitions are stored and
// returned with their chains, segments and actions in evaluation order.
type Store interface {
	CreateRuleSet(ctx context.Context, rs *RuleSet) error
	RuleSets(ctx context.Context) ([]*RuleSet, error)

	// Add stores a new definition and assigns ids to it and its parts.
	Add(ctx context.Context, def *Definition) error

	Get(ctx context.Context, id int64) (*Definition, error)
	GetByKey(ctx context.Context, key string) (*Definition, error)

	// List returns all definitions ordered by id.
	List(ctx context.Context) ([]*Definition, error)

	// ListEnabled returns enabled definitions of enabled rule sets.
	ListEnabled(ctx context.Context) ([]*Definition, error)

	// Update replaces a definition's fields, chains and actions.
	Update(ctx context.Context, def *Definition) error

	Delete(ctx context.Context, id int64) error

	// Action retrieves a single action by id.
	Action(ctx context.Context, id int64) (*Action, error)
}

// InMemoryStore implements Store using in-memory maps.
type InMemoryStore struct {
	ruleSets    map[int64]*RuleSet
	definitions map[int64]*Definition
	nextID      int64
	mu          sync.RWMutex
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		ruleSets:    make(map[int64]*RuleSet),
		definitions: make(map[int64]*Definition),
	}
}

func (s *InMemoryStore) CreateRuleSet(_ context.Context, rs *RuleSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.ruleSets {
		if existing.Name == rs.Name {
			return fmt.Errorf("rule set %q: %w", rs.Name, ErrAlreadyExists)
		}
	}
	s.nextID++
	now := time.Now()
	rs.ID = s.nextID
	rs.CreatedAt = now
	rs.UpdatedAt = now
	cp := *rs
	cp.Definitions = nil
	s.ruleSets[rs.ID] = &cp
	return nil
}

func (s *InMemoryStore) RuleSets(_ context.Context) ([]*RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*RuleSet, 0, len(s.ruleSets))
	for _, rs := range s.ruleSets {
		cp := *rs
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) Add(_ context.Context, def *Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.definitions {
		if existing.Key == def.Key {
			return fmt.Errorf("rule with key %s: %w", def.Key, ErrAlreadyExists)
		}
	}
	if def.RuleSetID != 0 {
		if _, ok := s.ruleSets[def.RuleSetID]; !ok {
			return fmt.Errorf("rule set %d: %w", def.RuleSetID, ErrNotFound)
		}
	}

	s.nextID++
	def.ID = s.nextID
	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now
	s.assignIDsLocked(def)
	s.definitions[def.ID] = cloneDefinition(def)
	return nil
}

// assignIDsLocked numbers chains, segments and actions in list order.
func (s *InMemoryStore) assignIDsLocked(def *Definition) {
	for i := range def.Chains {
		s.nextID++
		def.Chains[i].ID = s.nextID
		def.Chains[i].Order = i
		for j := range def.Chains[i].Segments {
			s.nextID++
			def.Chains[i].Segments[j].ID = s.nextID
			def.Chains[i].Segments[j].Order = j
		}
	}
	for i := range def.Actions {
		s.nextID++
		def.Actions[i].ID = s.nextID
		def.Actions[i].DefinitionID = def.ID
	}
}

func (s *InMemoryStore) Get(_ context.Context, id int64) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.definitions[id]
	if !ok {
		return nil, fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	return cloneDefinition(def), nil
}

func (s *InMemoryStore) GetByKey(_ context.Context, key string) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, def := range s.definitions {
		if def.Key == key {
			return cloneDefinition(def), nil
		}
	}
	return nil, fmt.Errorf("rule %s: %w", key, ErrNotFound)
}

func (s *InMemoryStore) List(_ context.Context) ([]*Definition, error) {
	return s.list(func(*Definition) bool { return true }), nil
}

func (s *InMemoryStore) ListEnabled(_ context.Context) ([]*Definition, error) {
	return s.list(func(def *Definition) bool {
		if !def.Enabled {
			return false
		}
		if rs, ok := s.ruleSets[def.RuleSetID]; ok && !rs.Enabled {
			return false
		}
		return true
	}), nil
}

func (s *InMemoryStore) list(keep func(*Definition) bool) []*Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Definition
	for _, def := range s.definitions {
		if keep(def) {
			out = append(out, cloneDefinition(def))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *InMemoryStore) Update(_ context.Context, def *Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.definitions[def.ID]
	if !ok {
		return fmt.Errorf("rule %d: %w", def.ID, ErrNotFound)
	}
	for id, other := range s.definitions {
		if id != def.ID && other.Key == def.Key {
			return fmt.Errorf("rule with key %s: %w", def.Key, ErrAlreadyExists)
		}
	}

	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now()
	s.assignIDsLocked(def)
	s.definitions[def.ID] = cloneDefinition(def)
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.definitions[id]; !ok {
		return fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	delete(s.definitions, id)
	return nil
}

func (s *InMemoryStore) Action(_ context.Context, id int64) (*Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, def := range s.definitions {
		for _, a := range def.Actions {
			if a.ID == id {
				cp := a
				cp.InitialSettings = cloneSettings(a.InitialSettings)
				return &cp, nil
			}
		}
	}
	return nil, fmt.Errorf("action %d: %w", id, ErrNotFound)
}

func cloneDefinition(def *Definition) *Definition {
	cp := *def
	cp.Chains = make([]Chain, len(def.Chains))
	for i, c := range def.Chains {
		cp.Chains[i] = c
		cp.Chains[i].Segments = append([]Segment(nil), c.Segments...)
	}
	cp.Actions = make([]Action, len(def.Actions))
	for i, a := range def.Actions {
		cp.Actions[i] = a
		cp.Actions[i].InitialSettings = cloneSettings(a.InitialSettings)
	}
	return &cp
}

func cloneSettings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
