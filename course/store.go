package course

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when an addressed entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when a write is rejected before touching state.
	ErrInvalidInput = errors.New("invalid input")
)

// Reader is the read side of the platform contract. Implementations must not
// mutate platform state.
type Reader interface {
	Course(ctx context.Context, id int64) (*Course, error)

	// Sections returns the course's sections ordered by section number.
	Sections(ctx context.Context, courseID int64) ([]*Section, error)

	Section(ctx context.Context, id int64) (*Section, error)

	// Modules returns the section's modules in sequence order.
	Modules(ctx context.Context, sectionID int64) ([]*Module, error)

	Module(ctx context.Context, id int64) (*Module, error)

	// SubElements lists child records of the given kind owned by a module.
	SubElements(ctx context.Context, moduleID int64, kind string) ([]*SubElement, error)

	// Setting reads one persisted setting of an entity. The boolean is false
	// when the entity has no such setting.
	Setting(ctx context.Context, ref Ref, name string) (string, bool, error)
}

// Writer is the remediation side of the platform contract. Each call is one
// transactional unit: it either fully applies or leaves no trace.
type Writer interface {
	// AddModule creates a module instance of modName at the end of the section.
	AddModule(ctx context.Context, sectionID int64, modName, name string, settings map[string]string) (*Module, error)

	// SetSetting changes one setting of an existing entity.
	SetSetting(ctx context.Context, ref Ref, name, value string) error
}

// Store combines both sides of the contract.
type Store interface {
	Reader
	Writer
}
