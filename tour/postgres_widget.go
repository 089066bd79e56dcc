package tour

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/liamcoop/courseaudit/course"
)

// stepContentFormat is the platform's HTML text format.
const stepContentFormat = 1

// tourConfig is the subset of a tour's configdata the widget manages.
type tourConfig struct {
	Placement       string              `json:"placement"`
	Orphan          bool                `json:"orphan"`
	Backdrop        bool                `json:"backdrop"`
	Reflex          bool                `json:"reflex"`
	FilterValues    map[string][]string `json:"filtervalues"`
	MajorUpdateTime int64               `json:"majorupdatetime"`
	CourseID        int64               `json:"courseaudit_courseid"`
}

// PostgresWidget implements Widget over the platform's user tour tables.
type PostgresWidget struct {
	db     *sql.DB
	prefix string
	now    func() time.Time
}

// NewPostgresWidget creates a widget store using tables named prefix+table.
func NewPostgresWidget(db *sql.DB, prefix string) (*PostgresWidget, error) {
	if prefix != "" {
		if err := course.ValidateIdentifier(prefix); err != nil {
			return nil, fmt.Errorf("invalid table prefix: %w", err)
		}
	}
	return &PostgresWidget{db: db, prefix: prefix, now: time.Now}, nil
}

func (w *PostgresWidget) table(name string) string {
	return pq.QuoteIdentifier(w.prefix + name)
}

func (w *PostgresWidget) CreateTour(ctx context.Context, t *Tour) error {
	config, err := json.Marshal(tourConfig{
		Placement:    "bottom",
		Backdrop:     true,
		FilterValues: map[string][]string{},
		CourseID:     t.CourseID,
	})
	if err != nil {
		return fmt.Errorf("failed to encode tour config: %w", err)
	}

	tours := w.table("tool_usertours_tours")
	err = w.db.QueryRowContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (name, description, pathmatch, enabled, sortorder, configdata, displaystepnumbers, endtourlabel)
		VALUES ($1, $2, $3, 0, (SELECT COALESCE(MAX(sortorder) + 1, 0) FROM %s), $4, 1, '')
		RETURNING id
	`, tours, tours), t.Name, t.Description, t.PathMatch, string(config)).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to insert tour: %w", err)
	}
	t.Enabled = false
	return nil
}

func (w *PostgresWidget) AddStep(ctx context.Context, tourID int64, step *Step) error {
	steps := w.table("tool_usertours_steps")
	err := w.db.QueryRowContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (tourid, title, content, contentformat, targettype, targetvalue, sortorder, configdata)
		VALUES ($1, $2, $3, $4, $5, $6, (SELECT COUNT(*) FROM %s WHERE tourid = $1), '{}')
		RETURNING id, sortorder
	`, steps, steps), tourID, step.Title, step.Content, stepContentFormat, int(step.TargetType), step.TargetValue).
		Scan(&step.ID, &step.SortOrder)
	if err != nil {
		return fmt.Errorf("failed to insert step: %w", err)
	}
	step.TourID = tourID
	return nil
}

// Enable marks the tour enabled and moves its major update time forward,
// which makes the platform show it again to users who completed it.
func (w *PostgresWidget) Enable(ctx context.Context, tourID int64) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	tours := w.table("tool_usertours_tours")
	var raw string
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT configdata FROM %s WHERE id = $1 FOR UPDATE`, tours), tourID).Scan(&raw)
	if err == sql.ErrNoRows {
		return fmt.Errorf("tour %d: %w", tourID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock tour: %w", err)
	}

	config := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &config); err != nil {
			return fmt.Errorf("failed to decode tour config: %w", err)
		}
	}
	config["majorupdatetime"] = w.now().Unix()
	updated, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode tour config: %w", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET enabled = 1, configdata = $1 WHERE id = $2`, tours),
		string(updated), tourID); err != nil {
		return fmt.Errorf("failed to enable tour: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tour: %w", err)
	}
	return nil
}

// DeleteTour removes the tour, its steps and the per-user completion
// preferences the platform keeps for it.
func (w *PostgresWidget) DeleteTour(ctx context.Context, tourID int64) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE tourid = $1`, w.table("tool_usertours_steps")), tourID); err != nil {
		return fmt.Errorf("failed to delete steps: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name IN ($1, $2)`, w.table("user_preferences")),
		fmt.Sprintf("tool_usertours_tour_completion_time_%d", tourID),
		fmt.Sprintf("tool_usertours_tour_reset_time_%d", tourID)); err != nil {
		return fmt.Errorf("failed to delete tour preferences: %w", err)
	}

	result, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, w.table("tool_usertours_tours")), tourID)
	if err != nil {
		return fmt.Errorf("failed to delete tour: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("tour %d: %w", tourID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}
