package tour

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/liamcoop/courseaudit/auditor"
	"github.com/liamcoop/courseaudit/auditrun"
	"github.com/liamcoop/courseaudit/internal/logger"
	"github.com/liamcoop/courseaudit/internal/metrics"
)

// Created describes a freshly built tour.
type Created struct {
	TourID int64
	RunID  int64
	Report *auditor.Report
}

// Summary is a persisted audit run with its results.
type Summary struct {
	Run     *auditrun.Run
	Results []auditrun.Result
}

// Orchestrator audits a course and replaces its guided tour.
type Orchestrator struct {
	auditor *auditor.Auditor
	runs    auditrun.Store
	widget  Widget
	metrics *metrics.Collector
}

// NewOrchestrator creates an orchestrator. m may be nil.
func NewOrchestrator(a *auditor.Auditor, runs auditrun.Store, widget Widget, m *metrics.Collector) *Orchestrator {
	return &Orchestrator{auditor: a, runs: runs, widget: widget, metrics: m}
}

// CreateTour audits the course and replaces any earlier tour with a new one.
// When a step after creating the tour shell fails, the shell and its run are
// removed and the original error is returned.
func (o *Orchestrator) CreateTour(ctx context.Context, courseID int64) (created *Created, err error) {
	start := time.Now()
	defer func() { o.metrics.ObserveTour(err, time.Since(start)) }()

	report, err := o.auditor.AuditResults(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to audit course %d: %w", courseID, err)
	}

	if err := o.removeCourseTours(ctx, courseID); err != nil {
		return nil, err
	}

	t := &Tour{
		CourseID:    courseID,
		Name:        fmt.Sprintf("Course audit: %s", report.CourseName),
		Description: fmt.Sprintf("Findings of the course audit for %s.", report.CourseName),
		PathMatch:   fmt.Sprintf("/course/view.php?id=%d", courseID),
	}
	if err := o.widget.CreateTour(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create tour: %w", err)
	}

	run, err := o.runs.Create(ctx, courseID, t.ID)
	if err != nil {
		o.rollback(ctx, t.ID, 0)
		return nil, fmt.Errorf("failed to create audit run: %w", err)
	}

	if err := o.build(ctx, t.ID, run.ID, report); err != nil {
		o.rollback(ctx, t.ID, run.ID)
		return nil, err
	}

	for _, r := range report.Results {
		o.metrics.ObserveRuleResult(r.RuleKey, r.Status)
	}
	o.auditor.InvalidateAnalyses(ctx, courseID)
	logger.Info("Tour created", "course_id", courseID, "tour_id", t.ID, "run_id", run.ID,
		"steps", len(report.Steps), "failed", report.Failed())
	return &Created{TourID: t.ID, RunID: run.ID, Report: report}, nil
}

func (o *Orchestrator) build(ctx context.Context, tourID, runID int64, report *auditor.Report) error {
	for i, s := range report.Steps {
		step := stepFor(s)
		if err := o.widget.AddStep(ctx, tourID, &step); err != nil {
			return fmt.Errorf("failed to add step %d: %w", i, err)
		}
	}
	if err := o.runs.SaveResults(ctx, runID, auditrun.FromRuleResults(report.Results)); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}
	if err := o.widget.Enable(ctx, tourID); err != nil {
		return fmt.Errorf("failed to enable tour: %w", err)
	}
	return nil
}

// stepFor attaches section and module steps by CSS selector and leaves
// course steps unattached.
func stepFor(s auditor.Step) Step {
	step := Step{Title: s.Title, Content: s.Content, TargetType: TargetUnattached}
	switch s.Type {
	case auditor.StepSection, auditor.StepModule:
		if s.Target != "" {
			step.TargetType = TargetSelector
			step.TargetValue = s.Target
		}
	}
	return step
}

// removeCourseTours deletes the course's earlier tours and runs.
func (o *Orchestrator) removeCourseTours(ctx context.Context, courseID int64) error {
	runs, err := o.runs.ListByCourse(ctx, courseID)
	if err != nil {
		return fmt.Errorf("failed to list audit runs: %w", err)
	}
	for _, run := range runs {
		if run.TourID != 0 {
			if err := o.widget.DeleteTour(ctx, run.TourID); err != nil && !errors.Is(err, ErrNotFound) {
				return fmt.Errorf("failed to delete tour %d: %w", run.TourID, err)
			}
		}
		if err := o.runs.Delete(ctx, run.ID); err != nil && !errors.Is(err, auditrun.ErrNotFound) {
			return fmt.Errorf("failed to delete audit run %d: %w", run.ID, err)
		}
	}
	return nil
}

// rollback removes a partially built tour. Failures are logged only, so the
// caller can report the error that caused the rollback.
func (o *Orchestrator) rollback(ctx context.Context, tourID, runID int64) {
	ctx = context.WithoutCancel(ctx)
	if err := o.widget.DeleteTour(ctx, tourID); err != nil {
		logger.Error("Failed to delete partially created tour", "tour_id", tourID, "error", err)
	}
	if runID == 0 {
		return
	}
	if err := o.runs.Delete(ctx, runID); err != nil {
		logger.Error("Failed to delete partially created audit run", "run_id", runID, "error", err)
	}
}

// Summary returns the run and results persisted for a tour.
func (o *Orchestrator) Summary(ctx context.Context, tourID int64) (*Summary, error) {
	run, err := o.runs.ByTour(ctx, tourID)
	if err != nil {
		return nil, err
	}
	return o.summary(ctx, run)
}

// LatestSummary returns the most recent run of a course.
func (o *Orchestrator) LatestSummary(ctx context.Context, courseID int64) (*Summary, error) {
	run, err := o.runs.Latest(ctx, courseID)
	if err != nil {
		return nil, err
	}
	return o.summary(ctx, run)
}

func (o *Orchestrator) summary(ctx context.Context, run *auditrun.Run) (*Summary, error) {
	results, err := o.runs.Results(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load results of run %d: %w", run.ID, err)
	}
	return &Summary{Run: run, Results: results}, nil
}
