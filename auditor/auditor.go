// Package auditor runs the rule registry over a course, builds the guided
// tour steps and action map for it, and serves per-section analyses.
package auditor

import (
	"context"
	"fmt"

	"github.com/liamcoop/courseaudit/analysiscache"
	"github.com/liamcoop/courseaudit/conditions"
	"github.com/liamcoop/courseaudit/course"
	"github.com/liamcoop/courseaudit/internal/logger"
	"github.com/liamcoop/courseaudit/internal/metrics"
	"github.com/liamcoop/courseaudit/rules"
)

// Auditor evaluates rules against the sections and modules of a course.
type Auditor struct {
	reader   course.Reader
	registry *rules.Registry
	library  *conditions.Library
	cache    analysiscache.Cache
	canView  func(*course.Module) bool
	metrics  *metrics.Collector
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithLibrary adds the enabled stored definitions to every audit.
func WithLibrary(library *conditions.Library) Option {
	return func(a *Auditor) { a.library = library }
}

// WithAnalysisCache caches section analyses.
func WithAnalysisCache(cache analysiscache.Cache) Option {
	return func(a *Auditor) { a.cache = cache }
}

// WithViewerFilter hides modules the current viewer cannot see.
func WithViewerFilter(canView func(*course.Module) bool) Option {
	return func(a *Auditor) { a.canView = canView }
}

// WithMetrics records analysis cache lookups on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(a *Auditor) { a.metrics = m }
}

// New creates an auditor reading the course through reader.
func New(reader course.Reader, registry *rules.Registry, opts ...Option) *Auditor {
	a := &Auditor{reader: reader, registry: registry}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Registry returns the registry used for an audit: the built-in rules plus
// the enabled stored definitions.
func (a *Auditor) Registry(ctx context.Context) (*rules.Registry, error) {
	if a.library == nil {
		return a.registry, nil
	}
	extra, err := a.library.Rules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored rules: %w", err)
	}
	registry, rejected := a.registry.With(extra...)
	for _, rule := range rejected {
		logger.Warn("Stored rule not registered", "rule_key", rule.Key())
	}
	return registry, nil
}

// AuditSection runs every rule against the section and its visible modules.
// Results are grouped by category in display order; within a category the
// section's results come before those of its modules.
func (a *Auditor) AuditSection(ctx context.Context, sectionID int64) ([]rules.Result, error) {
	sec, err := a.reader.Section(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	c, err := a.reader.Course(ctx, sec.CourseID)
	if err != nil {
		return nil, err
	}
	registry, err := a.Registry(ctx)
	if err != nil {
		return nil, err
	}
	return a.auditSection(ctx, registry, c, sec)
}

func (a *Auditor) auditSection(ctx context.Context, registry *rules.Registry, c *course.Course, sec *course.Section) ([]rules.Result, error) {
	modules, err := a.visibleModules(ctx, sec.ID)
	if err != nil {
		return nil, err
	}

	target := &rules.SectionTarget{Section: sec, Modules: modules}
	var results []rules.Result
	for _, category := range rules.Categories {
		res, err := registry.Run(ctx, target, c, category)
		if err != nil {
			return nil, err
		}
		results = append(results, res...)

		for _, m := range modules {
			res, err := registry.Run(ctx, &rules.ModuleTarget{Module: m}, c, category)
			if err != nil {
				return nil, err
			}
			results = append(results, res...)
		}
	}
	return results, nil
}

func (a *Auditor) visibleModules(ctx context.Context, sectionID int64) ([]*course.Module, error) {
	modules, err := a.reader.Modules(ctx, sectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules of section %d: %w", sectionID, err)
	}
	out := make([]*course.Module, 0, len(modules))
	for _, m := range modules {
		if !m.Visible || m.DeletionInProgress {
			continue
		}
		if a.canView != nil && !a.canView(m) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// AuditResults audits the whole course. Sections are visited in section
// number order and each contributes one tour step; course-level results add
// a leading unattached step.
func (a *Auditor) AuditResults(ctx context.Context, courseID int64) (*Report, error) {
	c, err := a.reader.Course(ctx, courseID)
	if err != nil {
		return nil, err
	}
	sections, err := a.reader.Sections(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections of course %d: %w", courseID, err)
	}
	registry, err := a.Registry(ctx)
	if err != nil {
		return nil, err
	}
	resolver := NewActionResolver(registry)
	report := &Report{CourseID: courseID, CourseName: c.FullName, Actions: NewActionMap()}

	courseResults, err := registry.Run(ctx, &rules.CourseTarget{Course: c}, c)
	if err != nil {
		return nil, err
	}
	if len(courseResults) > 0 {
		step, err := buildStep(StepCourse, c.FullName, "", c.ID, courseResults, resolver)
		if err != nil {
			return nil, err
		}
		report.add(step, courseResults, resolver)
	}

	for _, sec := range sections {
		results, err := a.auditSection(ctx, registry, c, sec)
		if err != nil {
			return nil, err
		}
		step, err := buildStep(StepSection, sec.DisplayName(), SectionSelector(sec.Number), sec.ID, results, resolver)
		if err != nil {
			return nil, err
		}
		report.add(step, results, resolver)
	}

	logger.Debug("Course audited", "course_id", courseID, "sections", len(sections),
		"results", len(report.Results), "actions", report.Actions.Len())
	return report, nil
}
