package conditions

import (
	"context"
	"fmt"

	"github.com/liamcoop/courseaudit/course"
)

// Resolver looks up the entities segments navigate between.
type Resolver interface {
	Sections(ctx context.Context, courseID int64) ([]SectionTarget, error)
	Section(ctx context.Context, sectionID int64) (SectionTarget, error)

	// Modules returns the section's visible modules in sequence order.
	Modules(ctx context.Context, sectionID int64) ([]ModuleTarget, error)

	SubElements(ctx context.Context, module ModuleTarget, kind string) ([]SubElementTarget, error)

	// Setting reads one setting of the target. The boolean is false when the
	// target has no such setting.
	Setting(ctx context.Context, target Target, name string) (string, bool, error)
}

// CourseResolver implements Resolver over the platform course model.
type CourseResolver struct {
	reader course.Reader
}

func NewCourseResolver(reader course.Reader) *CourseResolver {
	return &CourseResolver{reader: reader}
}

func (r *CourseResolver) Sections(ctx context.Context, courseID int64) ([]SectionTarget, error) {
	sections, err := r.reader.Sections(ctx, courseID)
	if err != nil {
		return nil, err
	}
	out := make([]SectionTarget, len(sections))
	for i, s := range sections {
		out[i] = SectionTarget{SectionID: s.ID, CourseID: s.CourseID, Number: s.Number}
	}
	return out, nil
}

func (r *CourseResolver) Section(ctx context.Context, sectionID int64) (SectionTarget, error) {
	s, err := r.reader.Section(ctx, sectionID)
	if err != nil {
		return SectionTarget{}, err
	}
	return SectionTarget{SectionID: s.ID, CourseID: s.CourseID, Number: s.Number}, nil
}

func (r *CourseResolver) Modules(ctx context.Context, sectionID int64) ([]ModuleTarget, error) {
	modules, err := r.reader.Modules(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	out := make([]ModuleTarget, 0, len(modules))
	for _, m := range modules {
		if !m.Visible || m.DeletionInProgress {
			continue
		}
		out = append(out, ModuleTarget{ModuleID: m.ID, CourseID: m.CourseID, SectionID: m.SectionID, ModName: m.ModName})
	}
	return out, nil
}

func (r *CourseResolver) SubElements(ctx context.Context, module ModuleTarget, kind string) ([]SubElementTarget, error) {
	elements, err := r.reader.SubElements(ctx, module.ModuleID, kind)
	if err != nil {
		return nil, err
	}
	out := make([]SubElementTarget, len(elements))
	for i, e := range elements {
		out[i] = SubElementTarget{
			ElementID:   e.ID,
			ModuleID:    module.ModuleID,
			CourseID:    module.CourseID,
			ModName:     e.ModName,
			ElementKind: e.Kind,
		}
	}
	return out, nil
}

func (r *CourseResolver) Setting(ctx context.Context, target Target, name string) (string, bool, error) {
	ref, err := RefOf(target)
	if err != nil {
		return "", false, err
	}
	return r.reader.Setting(ctx, ref, name)
}

// RefOf converts a target to the platform address of the same entity.
func RefOf(target Target) (course.Ref, error) {
	switch t := target.(type) {
	case CourseTarget:
		return course.Ref{Type: course.EntityCourse, ID: t.CourseID}, nil
	case SectionTarget:
		return course.Ref{Type: course.EntitySection, ID: t.SectionID}, nil
	case ModuleTarget:
		return course.Ref{Type: course.EntityModule, ID: t.ModuleID, ModName: t.ModName}, nil
	case SubElementTarget:
		return course.Ref{Type: course.EntitySubElement, ID: t.ElementID, ModName: t.ModName, Kind: t.ElementKind}, nil
	default:
		return course.Ref{}, fmt.Errorf("unsupported target %T", target)
	}
}
