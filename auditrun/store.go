// Package auditrun persists audit runs and their per-rule results.
package auditrun

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/liamcoop/courseaudit/rules"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("audit run not found")

// Run is one audit of a course and the tour built from it.
type Run struct {
	ID           int64     `json:"id"`
	CourseID     int64     `json:"courseid"`
	TourID       int64     `json:"tourid"`
	TimeCreated  time.Time `json:"timecreated"`
	TimeModified time.Time `json:"timemodified"`
}

// Result is a persisted rule outcome.
type Result struct {
	ID           int64     `json:"id"`
	AuditID      int64     `json:"auditid"`
	RuleKey      string    `json:"rulekey"`
	RuleCategory string    `json:"rulecategory"`
	Status       bool      `json:"status"`
	Messages     []string  `json:"messages"`
	TargetType   string    `json:"targettype,omitempty"`
	TargetID     int64     `json:"targetid,omitempty"`
	TimeCreated  time.Time `json:"timecreated"`
}

// FromRuleResults converts rule outcomes into rows for SaveResults.
func FromRuleResults(results []rules.Result) []Result {
	out := make([]Result, len(results))
	for i, r := range results {
		out[i] = Result{
			RuleKey:      r.RuleKey,
			RuleCategory: string(r.RuleCategory),
			Status:       r.Status,
			Messages:     append([]string(nil), r.Messages...),
			TargetType:   string(r.TargetType),
			TargetID:     r.TargetID,
		}
	}
	return out
}

// Store manages audit runs and their results.
type Store interface {
	Create(ctx context.Context, courseID, tourID int64) (*Run, error)

	// SaveResults stores all results of a run in one transaction and touches
	// the run's modification time.
	SaveResults(ctx context.Context, runID int64, results []Result) error

	// Results returns a run's results in insertion order.
	Results(ctx context.Context, runID int64) ([]Result, error)

	Get(ctx context.Context, id int64) (*Run, error)
	ByTour(ctx context.Context, tourID int64) (*Run, error)
	ListByCourse(ctx context.Context, courseID int64) ([]*Run, error)

	// Latest returns the course's most recently modified run.
	Latest(ctx context.Context, courseID int64) (*Run, error)

	// Delete removes a run and its results in one transaction.
	Delete(ctx context.Context, id int64) error

	ListOlderThan(ctx context.Context, cutoff time.Time) ([]*Run, error)
}

// InMemoryStore implements Store using in-memory maps.
type InMemoryStore struct {
	runs    map[int64]*Run
	results map[int64][]Result
	nextID  int64
	now     func() time.Time
	mu      sync.RWMutex
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		runs:    make(map[int64]*Run),
		results: make(map[int64][]Result),
		now:     time.Now,
	}
}

func (s *InMemoryStore) Create(_ context.Context, courseID, tourID int64) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := s.now()
	run := &Run{ID: s.nextID, CourseID: courseID, TourID: tourID, TimeCreated: now, TimeModified: now}
	s.runs[run.ID] = run
	cp := *run
	return &cp, nil
}

func (s *InMemoryStore) SaveResults(_ context.Context, runID int64, results []Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %d: %w", runID, ErrNotFound)
	}

	now := s.now()
	for _, r := range results {
		s.nextID++
		r.ID = s.nextID
		r.AuditID = runID
		r.TimeCreated = now
		r.Messages = append([]string(nil), r.Messages...)
		s.results[runID] = append(s.results[runID], r)
	}
	run.TimeModified = now
	return nil
}

func (s *InMemoryStore) Results(_ context.Context, runID int64) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Result, len(s.results[runID]))
	copy(out, s.results[runID])
	return out, nil
}

func (s *InMemoryStore) Get(_ context.Context, id int64) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	cp := *run
	return &cp, nil
}

func (s *InMemoryStore) ByTour(_ context.Context, tourID int64) (*Run, error) {
	runs := s.list(func(r *Run) bool { return r.TourID == tourID })
	if len(runs) == 0 {
		return nil, fmt.Errorf("run for tour %d: %w", tourID, ErrNotFound)
	}
	return runs[len(runs)-1], nil
}

func (s *InMemoryStore) ListByCourse(_ context.Context, courseID int64) ([]*Run, error) {
	return s.list(func(r *Run) bool { return r.CourseID == courseID }), nil
}

func (s *InMemoryStore) Latest(_ context.Context, courseID int64) (*Run, error) {
	runs := s.list(func(r *Run) bool { return r.CourseID == courseID })
	if len(runs) == 0 {
		return nil, fmt.Errorf("run for course %d: %w", courseID, ErrNotFound)
	}
	latest := runs[0]
	for _, r := range runs[1:] {
		if !r.TimeModified.Before(latest.TimeModified) {
			latest = r
		}
	}
	return latest, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	delete(s.results, id)
	delete(s.runs, id)
	return nil
}

func (s *InMemoryStore) ListOlderThan(_ context.Context, cutoff time.Time) ([]*Run, error) {
	return s.list(func(r *Run) bool { return r.TimeModified.Before(cutoff) }), nil
}

func (s *InMemoryStore) list(keep func(*Run) bool) []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Run
	for _, r := range s.runs {
		if keep(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
