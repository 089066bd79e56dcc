package course

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// InMemoryStore implements Store over in-process maps. It is used by tests
// and by local runs without a platform database.
type InMemoryStore struct {
	courses     map[int64]*Course
	sections    map[int64]*Section
	modules     map[int64]*Module
	subElements map[int64]*SubElement
	settings    map[Ref]map[string]string
	nextID      int64
	mu          sync.RWMutex
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		courses:     make(map[int64]*Course),
		sections:    make(map[int64]*Section),
		modules:     make(map[int64]*Module),
		subElements: make(map[int64]*SubElement),
		settings:    make(map[Ref]map[string]string),
		nextID:      1000,
	}
}

// PutCourse stores a course, replacing any course with the same id.
func (s *InMemoryStore) PutCourse(c *Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.courses[c.ID] = &cp
}

// PutSection stores a section. The sequence is rebuilt as modules are added
// with PutModule, so callers normally leave it empty.
func (s *InMemoryStore) PutSection(sec *Section) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sec
	cp.Sequence = append([]int64(nil), sec.Sequence...)
	s.sections[sec.ID] = &cp
}

// PutModule stores a module and appends it to its section's sequence.
func (s *InMemoryStore) PutModule(m *Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.modules[m.ID] = &cp
	if sec, ok := s.sections[m.SectionID]; ok && !containsID(sec.Sequence, m.ID) {
		sec.Sequence = append(sec.Sequence, m.ID)
	}
}

// PutSubElement stores a module sub-element.
func (s *InMemoryStore) PutSubElement(e *SubElement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.subElements[e.ID] = &cp
}

// PutSetting stores a setting value for an entity.
func (s *InMemoryStore) PutSetting(ref Ref, name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putSettingLocked(ref, name, value)
}

func (s *InMemoryStore) putSettingLocked(ref Ref, name, value string) {
	key := settingKey(ref)
	if s.settings[key] == nil {
		s.settings[key] = make(map[string]string)
	}
	s.settings[key][name] = value
}

// Course retrieves a course by id.
func (s *InMemoryStore) Course(_ context.Context, id int64) (*Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.courses[id]
	if !ok {
		return nil, fmt.Errorf("course %d: %w", id, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

// Sections returns the course's sections ordered by number.
func (s *InMemoryStore) Sections(_ context.Context, courseID int64) ([]*Section, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.courses[courseID]; !ok {
		return nil, fmt.Errorf("course %d: %w", courseID, ErrNotFound)
	}

	var out []*Section
	for _, sec := range s.sections {
		if sec.CourseID == courseID {
			out = append(out, copySection(sec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Section retrieves a section by id.
func (s *InMemoryStore) Section(_ context.Context, id int64) (*Section, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sec, ok := s.sections[id]
	if !ok {
		return nil, fmt.Errorf("section %d: %w", id, ErrNotFound)
	}
	return copySection(sec), nil
}

// Modules returns the section's modules in sequence order.
func (s *InMemoryStore) Modules(_ context.Context, sectionID int64) ([]*Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sec, ok := s.sections[sectionID]
	if !ok {
		return nil, fmt.Errorf("section %d: %w", sectionID, ErrNotFound)
	}

	out := make([]*Module, 0, len(sec.Sequence))
	for _, id := range sec.Sequence {
		if m, ok := s.modules[id]; ok {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Module retrieves a module by id.
func (s *InMemoryStore) Module(_ context.Context, id int64) (*Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.modules[id]
	if !ok {
		return nil, fmt.Errorf("module %d: %w", id, ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

// SubElements lists the module's sub-elements of the given kind ordered by id.
func (s *InMemoryStore) SubElements(_ context.Context, moduleID int64, kind string) ([]*SubElement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.modules[moduleID]; !ok {
		return nil, fmt.Errorf("module %d: %w", moduleID, ErrNotFound)
	}

	var out []*SubElement
	for _, e := range s.subElements {
		if e.ModuleID == moduleID && e.Kind == kind {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Setting reads a stored setting. Module visibility and completion are
// answered from the module record itself.
func (s *InMemoryStore) Setting(_ context.Context, ref Ref, name string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ref.Type == EntityModule {
		m, ok := s.modules[ref.ID]
		if !ok {
			return "", false, fmt.Errorf("module %d: %w", ref.ID, ErrNotFound)
		}
		switch name {
		case "visible":
			return boolString(m.Visible), true, nil
		case "completion":
			return strconv.Itoa(m.Completion), true, nil
		case "availability":
			return m.Availability, m.Availability != "", nil
		}
	}

	values, ok := s.settings[settingKey(ref)]
	if !ok {
		return "", false, nil
	}
	v, ok := values[name]
	return v, ok, nil
}

// AddModule appends a new module to the section.
func (s *InMemoryStore) AddModule(_ context.Context, sectionID int64, modName, name string, settings map[string]string) (*Module, error) {
	if err := ValidateIdentifier(modName); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	for k := range settings {
		if err := ValidateIdentifier(k); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sec, ok := s.sections[sectionID]
	if !ok {
		return nil, fmt.Errorf("section %d: %w", sectionID, ErrNotFound)
	}

	s.nextID++
	m := &Module{
		ID:        s.nextID,
		CourseID:  sec.CourseID,
		SectionID: sectionID,
		ModName:   modName,
		Instance:  s.nextID,
		Name:      name,
		Visible:   true,
	}
	s.modules[m.ID] = m
	sec.Sequence = append(sec.Sequence, m.ID)
	for k, v := range settings {
		s.putSettingLocked(m.Ref(), k, v)
	}

	cp := *m
	return &cp, nil
}

// SetSetting updates a setting of an existing entity.
func (s *InMemoryStore) SetSetting(_ context.Context, ref Ref, name, value string) error {
	if err := ValidateIdentifier(name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch ref.Type {
	case EntityCourse:
		if _, ok := s.courses[ref.ID]; !ok {
			return fmt.Errorf("course %d: %w", ref.ID, ErrNotFound)
		}
	case EntitySection:
		if _, ok := s.sections[ref.ID]; !ok {
			return fmt.Errorf("section %d: %w", ref.ID, ErrNotFound)
		}
	case EntityModule:
		m, ok := s.modules[ref.ID]
		if !ok {
			return fmt.Errorf("module %d: %w", ref.ID, ErrNotFound)
		}
		switch name {
		case "visible":
			m.Visible = value == "1" || value == "true"
			return nil
		case "completion":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%w: completion must be numeric", ErrInvalidInput)
			}
			m.Completion = n
			return nil
		}
	case EntitySubElement:
		if _, ok := s.subElements[ref.ID]; !ok {
			return fmt.Errorf("sub-element %d: %w", ref.ID, ErrNotFound)
		}
	default:
		return fmt.Errorf("%w: unknown entity type %q", ErrInvalidInput, ref.Type)
	}

	s.putSettingLocked(ref, name, value)
	return nil
}

// settingKey drops presentation-only fields so that refs built from
// different sources address the same settings.
func settingKey(ref Ref) Ref {
	return Ref{Type: ref.Type, ID: ref.ID}
}

func copySection(sec *Section) *Section {
	cp := *sec
	cp.Sequence = append([]int64(nil), sec.Sequence...)
	return &cp
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
