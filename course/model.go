// Package course models the host platform's course structure (course →
// sections → modules → sub-elements) and the narrow read/write contract the
// auditor needs from it.
package course

import "fmt"

// EntityType identifies the kind of platform entity a Ref points at.
type EntityType string

const (
	EntityCourse     EntityType = "course"
	EntitySection    EntityType = "section"
	EntityModule     EntityType = "module"
	EntitySubElement EntityType = "subelement"
)

// Ref addresses a single platform entity. ModName is set for module and
// sub-element refs, Kind for sub-element refs.
type Ref struct {
	Type    EntityType
	ID      int64
	ModName string
	Kind    string
}

func (r Ref) String() string {
	switch r.Type {
	case EntityModule:
		return fmt.Sprintf("module:%s:%d", r.ModName, r.ID)
	case EntitySubElement:
		return fmt.Sprintf("subelement:%s/%s:%d", r.ModName, r.Kind, r.ID)
	default:
		return fmt.Sprintf("%s:%d", r.Type, r.ID)
	}
}

// Course is the root of the structural model.
type Course struct {
	ID        int64
	ShortName string
	FullName  string
	Summary   string
}

// Section is a numbered container of modules. Sequence holds module ids in
// display order.
type Section struct {
	ID       int64
	CourseID int64
	Number   int
	Name     string
	Summary  string
	Visible  bool
	Sequence []int64
}

// DisplayName returns the section name, falling back to the platform's
// default naming when the section was never named.
func (s *Section) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Number == 0 {
		return "General"
	}
	return fmt.Sprintf("Section %d", s.Number)
}

// Module is a course module (an activity or resource placed in a section).
// Availability is the raw restriction JSON stored by the platform.
type Module struct {
	ID                 int64
	CourseID           int64
	SectionID          int64
	ModName            string
	Instance           int64
	Name               string
	Visible            bool
	Availability       string
	Completion         int
	DeletionInProgress bool
}

// Ref returns the module's address.
func (m *Module) Ref() Ref {
	return Ref{Type: EntityModule, ID: m.ID, ModName: m.ModName}
}

// SubElement is a child record owned by a module instance, such as a quiz
// slot or a book chapter.
type SubElement struct {
	ID       int64
	ModuleID int64
	ModName  string
	Kind     string
	Name     string
}

// Ref returns the sub-element's address.
func (e *SubElement) Ref() Ref {
	return Ref{Type: EntitySubElement, ID: e.ID, ModName: e.ModName, Kind: e.Kind}
}
