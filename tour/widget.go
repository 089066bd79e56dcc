// Package tour builds guided tours from course audits and keeps them in the
// platform's user tour tables.
package tour

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a tour does not exist.
var ErrNotFound = errors.New("tour not found")

// StepTargetType is how a step is attached to the page.
type StepTargetType int

// Values match the platform's step target types.
const (
	TargetSelector   StepTargetType = 0
	TargetBlock      StepTargetType = 1
	TargetUnattached StepTargetType = 2
)

// Tour is the shell of a guided tour.
type Tour struct {
	ID          int64
	CourseID    int64
	Name        string
	Description string
	PathMatch   string
	Enabled     bool

	// MajorUpdateTime resets the tour for every user who already saw it.
	MajorUpdateTime time.Time
}

// Step is one page of a tour.
type Step struct {
	ID          int64
	TourID      int64
	Title       string
	Content     string
	TargetType  StepTargetType
	TargetValue string
	SortOrder   int
}

// Widget is the guided tour store of the platform.
type Widget interface {
	// CreateTour stores a disabled tour shell and assigns its id.
	CreateTour(ctx context.Context, t *Tour) error

	// AddStep appends a step to the tour.
	AddStep(ctx context.Context, tourID int64, step *Step) error

	// Enable shows the tour and resets it for all users.
	Enable(ctx context.Context, tourID int64) error

	// DeleteTour removes the tour with its steps.
	DeleteTour(ctx context.Context, tourID int64) error
}

// InMemoryWidget implements Widget using in-memory maps.
type InMemoryWidget struct {
	tours  map[int64]*Tour
	steps  map[int64][]Step
	nextID int64
	now    func() time.Time
	mu     sync.RWMutex
}

// NewInMemoryWidget creates an empty widget store.
func NewInMemoryWidget() *InMemoryWidget {
	return &InMemoryWidget{
		tours: make(map[int64]*Tour),
		steps: make(map[int64][]Step),
		now:   time.Now,
	}
}

func (w *InMemoryWidget) CreateTour(_ context.Context, t *Tour) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextID++
	t.ID = w.nextID
	t.Enabled = false
	cp := *t
	w.tours[t.ID] = &cp
	return nil
}

func (w *InMemoryWidget) AddStep(_ context.Context, tourID int64, step *Step) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.tours[tourID]; !ok {
		return fmt.Errorf("tour %d: %w", tourID, ErrNotFound)
	}
	w.nextID++
	step.ID = w.nextID
	step.TourID = tourID
	step.SortOrder = len(w.steps[tourID])
	w.steps[tourID] = append(w.steps[tourID], *step)
	return nil
}

func (w *InMemoryWidget) Enable(_ context.Context, tourID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, ok := w.tours[tourID]
	if !ok {
		return fmt.Errorf("tour %d: %w", tourID, ErrNotFound)
	}
	t.Enabled = true
	t.MajorUpdateTime = w.now()
	return nil
}

func (w *InMemoryWidget) DeleteTour(_ context.Context, tourID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.tours[tourID]; !ok {
		return fmt.Errorf("tour %d: %w", tourID, ErrNotFound)
	}
	delete(w.tours, tourID)
	delete(w.steps, tourID)
	return nil
}

// Tour returns a stored tour and its steps.
func (w *InMemoryWidget) Tour(tourID int64) (*Tour, []Step, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	t, ok := w.tours[tourID]
	if !ok {
		return nil, nil, false
	}
	cp := *t
	return &cp, append([]Step(nil), w.steps[tourID]...), true
}

// TourIDs lists the stored tour ids in ascending order.
func (w *InMemoryWidget) TourIDs() []int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	ids := make([]int64, 0, len(w.tours))
	for id := range w.tours {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
