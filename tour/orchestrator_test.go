package tour

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/courseaudit/analysiscache"
	"github.com/liamcoop/courseaudit/auditor"
	"github.com/liamcoop/courseaudit/auditrun"
	"github.com/liamcoop/courseaudit/course"
	"github.com/liamcoop/courseaudit/rules"
)

func testCourse() *course.InMemoryStore {
	store := course.NewInMemoryStore()
	store.PutCourse(&course.Course{ID: 1, ShortName: "BIO101", FullName: "Biology", Summary: "<p>Cells and more</p>"})
	store.PutSection(&course.Section{ID: 11, CourseID: 1, Number: 1, Name: "Cells", Visible: true})
	store.PutSection(&course.Section{ID: 12, CourseID: 1, Number: 2, Visible: true})
	store.PutModule(&course.Module{ID: 100, CourseID: 1, SectionID: 11, ModName: "label", Name: "Welcome", Visible: true})
	store.PutModule(&course.Module{ID: 101, CourseID: 1, SectionID: 11, ModName: "quiz", Name: "Cell quiz", Visible: true})
	store.PutSetting(course.Ref{Type: course.EntityModule, ID: 101}, "attempts", "3")
	return store
}

func newOrchestrator(t *testing.T, runs auditrun.Store, widget Widget) (*Orchestrator, *analysiscache.InMemoryCache) {
	t.Helper()
	store := testCourse()
	cache := analysiscache.NewInMemoryCache(analysiscache.DefaultConfig())
	a := auditor.New(store, rules.DefaultRegistry(store), auditor.WithAnalysisCache(cache))
	return NewOrchestrator(a, runs, widget, nil), cache
}

func TestCreateTour(t *testing.T) {
	ctx := context.Background()
	runs := auditrun.NewInMemoryStore()
	widget := NewInMemoryWidget()
	o, _ := newOrchestrator(t, runs, widget)

	created, err := o.CreateTour(ctx, 1)
	require.NoError(t, err)

	tour, steps, ok := widget.Tour(created.TourID)
	require.True(t, ok)
	assert.True(t, tour.Enabled)
	assert.False(t, tour.MajorUpdateTime.IsZero())
	assert.Equal(t, "/course/view.php?id=1", tour.PathMatch)

	require.Len(t, steps, 3)
	assert.Equal(t, TargetUnattached, steps[0].TargetType, "course step is unattached")
	assert.Equal(t, Step{ID: steps[1].ID, TourID: created.TourID, Title: "Cells", Content: steps[1].Content,
		TargetType: TargetSelector, TargetValue: "#section-1", SortOrder: 1}, steps[1])
	assert.Equal(t, "#section-2", steps[2].TargetValue)

	summary, err := o.Summary(ctx, created.TourID)
	require.NoError(t, err)
	assert.Equal(t, created.RunID, summary.Run.ID)
	assert.Len(t, summary.Results, len(created.Report.Results))
}

func TestCreateTourReplacesPreviousTour(t *testing.T) {
	ctx := context.Background()
	runs := auditrun.NewInMemoryStore()
	widget := NewInMemoryWidget()
	o, _ := newOrchestrator(t, runs, widget)

	first, err := o.CreateTour(ctx, 1)
	require.NoError(t, err)
	second, err := o.CreateTour(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, []int64{second.TourID}, widget.TourIDs())

	courseRuns, err := runs.ListByCourse(ctx, 1)
	require.NoError(t, err)
	require.Len(t, courseRuns, 1)
	assert.Equal(t, second.RunID, courseRuns[0].ID)

	orphans, err := runs.Results(ctx, first.RunID)
	require.NoError(t, err)
	assert.Empty(t, orphans, "results of the replaced run must be deleted")

	latest, err := o.LatestSummary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, second.RunID, latest.Run.ID)
}

// failingRuns fails SaveResults after the tour shell exists.
type failingRuns struct {
	auditrun.Store
	err error
}

func (f *failingRuns) SaveResults(context.Context, int64, []auditrun.Result) error {
	return f.err
}

func TestCreateTourRollsBackOnSaveFailure(t *testing.T) {
	ctx := context.Background()
	inner := auditrun.NewInMemoryStore()
	widget := NewInMemoryWidget()
	saveErr := errors.New("connection reset")
	o, _ := newOrchestrator(t, &failingRuns{Store: inner, err: saveErr}, widget)

	_, err := o.CreateTour(ctx, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, saveErr)

	assert.Empty(t, widget.TourIDs(), "partially created tour must be removed")
	courseRuns, err := inner.ListByCourse(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, courseRuns, "no audit run may remain for the failed attempt")
}

// failingWidget fails AddStep after a number of successful calls.
type failingWidget struct {
	*InMemoryWidget
	okSteps int
}

func (f *failingWidget) AddStep(ctx context.Context, tourID int64, step *Step) error {
	if f.okSteps == 0 {
		return errors.New("step rejected")
	}
	f.okSteps--
	return f.InMemoryWidget.AddStep(ctx, tourID, step)
}

func TestCreateTourRollsBackOnStepFailure(t *testing.T) {
	ctx := context.Background()
	runs := auditrun.NewInMemoryStore()
	widget := &failingWidget{InMemoryWidget: NewInMemoryWidget(), okSteps: 1}
	o, _ := newOrchestrator(t, runs, widget)

	_, err := o.CreateTour(ctx, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step rejected")

	assert.Empty(t, widget.TourIDs())
	courseRuns, _ := runs.ListByCourse(ctx, 1)
	assert.Empty(t, courseRuns)
}

func TestCreateTourUnknownCourse(t *testing.T) {
	ctx := context.Background()
	runs := auditrun.NewInMemoryStore()
	widget := NewInMemoryWidget()
	o, _ := newOrchestrator(t, runs, widget)

	_, err := o.CreateTour(ctx, 2)
	assert.ErrorIs(t, err, course.ErrNotFound)
	assert.Empty(t, widget.TourIDs())
}

func TestCreateTourInvalidatesAnalyses(t *testing.T) {
	ctx := context.Background()
	o, cache := newOrchestrator(t, auditrun.NewInMemoryStore(), NewInMemoryWidget())

	require.NoError(t, cache.Set(ctx, 1, 11, []byte(`{}`)))
	_, err := o.CreateTour(ctx, 1)
	require.NoError(t, err)

	_, ok, _ := cache.Get(ctx, 1, 11)
	assert.False(t, ok)
}

func TestSummaryNotFound(t *testing.T) {
	o, _ := newOrchestrator(t, auditrun.NewInMemoryStore(), NewInMemoryWidget())

	_, err := o.Summary(context.Background(), 77)
	assert.ErrorIs(t, err, auditrun.ErrNotFound)
}

func TestStepFor(t *testing.T) {
	tests := []struct {
		in   auditor.Step
		want Step
	}{
		{auditor.Step{Type: auditor.StepCourse, Title: "C"}, Step{Title: "C", TargetType: TargetUnattached}},
		{auditor.Step{Type: auditor.StepSection, Title: "S", Target: "#section-3"}, Step{Title: "S", TargetType: TargetSelector, TargetValue: "#section-3"}},
		{auditor.Step{Type: auditor.StepModule, Title: "M", Target: auditor.ModuleSelector(9)}, Step{Title: "M", TargetType: TargetSelector, TargetValue: "#module-9"}},
		{auditor.Step{Type: auditor.StepSection, Title: "S"}, Step{Title: "S", TargetType: TargetUnattached}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stepFor(tt.in))
	}
}
