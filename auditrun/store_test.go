package auditrun

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/courseaudit/rules"
)

// clockedStore returns a store whose time advances one minute per call.
func clockedStore() *InMemoryStore {
	s := NewInMemoryStore()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
	return s
}

func TestInMemoryStoreRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := clockedStore()

	run, err := s.Create(ctx, 5, 50)
	require.NoError(t, err)

	results := FromRuleResults([]rules.Result{
		{Status: true, Messages: []string{"ok"}, RuleKey: "has_label", RuleCategory: rules.CategoryHint, TargetType: rules.TargetSection, TargetID: 11},
		{Status: false, Messages: []string{"3 attempts"}, RuleKey: "quiz_is_repeatable", RuleCategory: rules.CategoryActivityType, TargetType: rules.TargetModule, TargetID: 101},
	})
	require.NoError(t, s.SaveResults(ctx, run.ID, results))

	got, err := s.Results(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, run.ID, got[0].AuditID)
	assert.Equal(t, "has_label", got[0].RuleKey)
	assert.Equal(t, "module", got[1].TargetType)
	assert.Equal(t, []string{"3 attempts"}, got[1].Messages)

	byTour, err := s.ByTour(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, run.ID, byTour.ID)
	assert.True(t, byTour.TimeModified.After(byTour.TimeCreated))

	require.NoError(t, s.Delete(ctx, run.ID))
	_, err = s.Get(ctx, run.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	got, err = s.Results(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInMemoryStoreLatest(t *testing.T) {
	ctx := context.Background()
	s := clockedStore()

	first, _ := s.Create(ctx, 5, 50)
	second, _ := s.Create(ctx, 5, 51)
	_, _ = s.Create(ctx, 6, 60)

	latest, err := s.Latest(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	require.NoError(t, s.SaveResults(ctx, first.ID, nil))
	latest, err = s.Latest(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID, "latest follows modification time")

	_, err = s.Latest(ctx, 7)
	assert.ErrorIs(t, err, ErrNotFound)

	runs, err := s.ListByCourse(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestInMemoryStoreSaveResultsUnknownRun(t *testing.T) {
	s := NewInMemoryStore()
	err := s.SaveResults(context.Background(), 42, []Result{{RuleKey: "x"}})
	assert.ErrorIs(t, err, ErrNotFound)
}
