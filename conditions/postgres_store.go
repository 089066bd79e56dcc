package conditions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/liamcoop/courseaudit/rules"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed Store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateRuleSet(ctx context.Context, rs *RuleSet) error {
	now := time.Now()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rule_sets (name, description, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, rs.Name, rs.Description, rs.Enabled, now, now).Scan(&rs.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("rule set %q: %w", rs.Name, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to insert rule set: %w", err)
	}
	rs.CreatedAt = now
	rs.UpdatedAt = now
	return nil
}

func (s *PostgresStore) RuleSets(ctx context.Context) ([]*RuleSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, enabled, created_at, updated_at
		FROM rule_sets
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule sets: %w", err)
	}
	defer rows.Close()

	var sets []*RuleSet
	for rows.Next() {
		var rs RuleSet
		if err := rows.Scan(&rs.ID, &rs.Name, &rs.Description, &rs.Enabled, &rs.CreatedAt, &rs.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule set: %w", err)
		}
		sets = append(sets, &rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule sets: %w", err)
	}
	return sets, nil
}

// Add inserts the definition and its chains, segments and actions in one
// transaction.
func (s *PostgresStore) Add(ctx context.Context, def *Definition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO rule_definitions (rule_set_id, rule_key, name, description, category, target_type, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, nullableID(def.RuleSetID), def.Key, def.Name, def.Description, string(def.Category), string(def.TargetType),
		def.Enabled, now, now).Scan(&def.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("rule with key %s: %w", def.Key, ErrAlreadyExists)
	}
	if isForeignKeyViolation(err) {
		return fmt.Errorf("rule set %d: %w", def.RuleSetID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	if err := insertParts(ctx, tx, def); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rule: %w", err)
	}
	def.CreatedAt = now
	def.UpdatedAt = now
	return nil
}

func insertParts(ctx context.Context, tx *sql.Tx, def *Definition) error {
	for i := range def.Chains {
		chain := &def.Chains[i]
		chain.Order = i
		err := tx.QueryRowContext(ctx, `
			INSERT INTO condition_chains (rule_id, chain_order, logical_operator_to_next)
			VALUES ($1, $2, $3)
			RETURNING id
		`, def.ID, chain.Order, string(chain.LogicalOperatorToNext)).Scan(&chain.ID)
		if err != nil {
			return fmt.Errorf("failed to insert chain %d: %w", i, err)
		}

		for j := range chain.Segments {
			seg := &chain.Segments[j]
			seg.Order = j
			err := tx.QueryRowContext(ctx, `
				INSERT INTO condition_segments (chain_id, segment_order, target_type, target_identifier, check_type,
					content_child_type, content_child_identifier, setting_name, setting_operator, setting_expected_value)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				RETURNING id
			`, chain.ID, seg.Order, string(seg.TargetType), seg.TargetIdentifier, string(seg.CheckType),
				string(seg.ContentChildType), seg.ContentChildIdentifier, seg.SettingName,
				string(seg.SettingOperator), seg.SettingExpectedValue).Scan(&seg.ID)
			if err != nil {
				return fmt.Errorf("failed to insert segment %d of chain %d: %w", j, i, err)
			}
		}
	}

	for i := range def.Actions {
		action := &def.Actions[i]
		action.DefinitionID = def.ID
		settings, err := json.Marshal(action.InitialSettings)
		if err != nil {
			return fmt.Errorf("failed to encode initial settings: %w", err)
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO rule_actions (rule_id, action_order, action_type, label, target_type, setting_name, setting_value,
				content_child_type, content_child_identifier, initial_settings)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id
		`, def.ID, i, string(action.ActionType), action.Label, string(action.TargetType), action.SettingName,
			action.SettingValue, string(action.ContentChildType), action.ContentChildIdentifier, settings).Scan(&action.ID)
		if err != nil {
			return fmt.Errorf("failed to insert action %d: %w", i, err)
		}
	}
	return nil
}

const definitionColumns = `id, COALESCE(rule_set_id, 0), rule_key, name, description, category, target_type, enabled, created_at, updated_at`

func scanDefinition(row interface{ Scan(...any) error }) (*Definition, error) {
	var (
		def        Definition
		category   string
		targetType string
	)
	if err := row.Scan(&def.ID, &def.RuleSetID, &def.Key, &def.Name, &def.Description, &category, &targetType,
		&def.Enabled, &def.CreatedAt, &def.UpdatedAt); err != nil {
		return nil, err
	}
	def.Category = rules.Category(category)
	def.TargetType = rules.TargetType(targetType)
	return &def, nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Definition, error) {
	def, err := scanDefinition(s.db.QueryRowContext(ctx, `
		SELECT `+definitionColumns+`
		FROM rule_definitions
		WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	if err := s.loadParts(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

func (s *PostgresStore) GetByKey(ctx context.Context, key string) (*Definition, error) {
	def, err := scanDefinition(s.db.QueryRowContext(ctx, `
		SELECT `+definitionColumns+`
		FROM rule_definitions
		WHERE rule_key = $1
	`, key))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	if err := s.loadParts(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Definition, error) {
	return s.list(ctx, `
		SELECT `+definitionColumns+`
		FROM rule_definitions
		ORDER BY id ASC
	`)
}

func (s *PostgresStore) ListEnabled(ctx context.Context) ([]*Definition, error) {
	return s.list(ctx, `
		SELECT d.id, COALESCE(d.rule_set_id, 0), d.rule_key, d.name, d.description, d.category, d.target_type,
			d.enabled, d.created_at, d.updated_at
		FROM rule_definitions d
		LEFT JOIN rule_sets rs ON rs.id = d.rule_set_id
		WHERE d.enabled = true AND COALESCE(rs.enabled, true) = true
		ORDER BY d.id ASC
	`)
}

func (s *PostgresStore) list(ctx context.Context, query string) ([]*Definition, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var defs []*Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	for _, def := range defs {
		if err := s.loadParts(ctx, def); err != nil {
			return nil, err
		}
	}
	return defs, nil
}

// loadParts reads chains, segments and actions in their stored order.
func (s *PostgresStore) loadParts(ctx context.Context, def *Definition) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.chain_order, c.logical_operator_to_next,
			s.id, s.segment_order, s.target_type, s.target_identifier, s.check_type, s.content_child_type,
			s.content_child_identifier, s.setting_name, s.setting_operator, s.setting_expected_value
		FROM condition_chains c
		JOIN condition_segments s ON s.chain_id = c.id
		WHERE c.rule_id = $1
		ORDER BY c.chain_order ASC, s.segment_order ASC
	`, def.ID)
	if err != nil {
		return fmt.Errorf("failed to load chains of rule %d: %w", def.ID, err)
	}
	defer rows.Close()

	def.Chains = nil
	for rows.Next() {
		var (
			chainID  int64
			order    int
			op       string
			seg      Segment
			target   string
			check    string
			child    string
			operator string
		)
		if err := rows.Scan(&chainID, &order, &op, &seg.ID, &seg.Order, &target, &seg.TargetIdentifier, &check,
			&child, &seg.ContentChildIdentifier, &seg.SettingName, &operator, &seg.SettingExpectedValue); err != nil {
			return fmt.Errorf("failed to scan segment: %w", err)
		}
		seg.TargetType = TargetType(target)
		seg.CheckType = CheckType(check)
		seg.ContentChildType = TargetType(child)
		seg.SettingOperator = Operator(operator)

		if n := len(def.Chains); n == 0 || def.Chains[n-1].ID != chainID {
			def.Chains = append(def.Chains, Chain{ID: chainID, Order: order, LogicalOperatorToNext: LogicalOperator(op)})
		}
		last := &def.Chains[len(def.Chains)-1]
		last.Segments = append(last.Segments, seg)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating segments: %w", err)
	}

	actions, err := s.actions(ctx, `WHERE rule_id = $1 ORDER BY action_order ASC`, def.ID)
	if err != nil {
		return err
	}
	def.Actions = actions
	return nil
}

func (s *PostgresStore) actions(ctx context.Context, where string, arg any) ([]Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, action_type, label, target_type, setting_name, setting_value,
			content_child_type, content_child_identifier, initial_settings
		FROM rule_actions
		`+where, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to load actions: %w", err)
	}
	defer rows.Close()

	var actions []Action
	for rows.Next() {
		var (
			a          Action
			actionType string
			target     string
			child      string
			settings   []byte
		)
		if err := rows.Scan(&a.ID, &a.DefinitionID, &actionType, &a.Label, &target, &a.SettingName, &a.SettingValue,
			&child, &a.ContentChildIdentifier, &settings); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		a.ActionType = ActionType(actionType)
		a.TargetType = TargetType(target)
		a.ContentChildType = TargetType(child)
		if len(settings) > 0 {
			if err := json.Unmarshal(settings, &a.InitialSettings); err != nil {
				return nil, fmt.Errorf("failed to decode initial settings of action %d: %w", a.ID, err)
			}
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}
	return actions, nil
}

// Update rewrites the definition row and replaces its chains and actions in
// one transaction.
func (s *PostgresStore) Update(ctx context.Context, def *Definition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	def.UpdatedAt = time.Now()
	err = tx.QueryRowContext(ctx, `
		UPDATE rule_definitions
		SET rule_set_id = $1, rule_key = $2, name = $3, description = $4, category = $5, target_type = $6,
			enabled = $7, updated_at = $8
		WHERE id = $9
		RETURNING created_at
	`, nullableID(def.RuleSetID), def.Key, def.Name, def.Description, string(def.Category), string(def.TargetType),
		def.Enabled, def.UpdatedAt, def.ID).Scan(&def.CreatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("rule %d: %w", def.ID, ErrNotFound)
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("rule with key %s: %w", def.Key, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM condition_chains WHERE rule_id = $1`, def.ID); err != nil {
		return fmt.Errorf("failed to delete chains: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rule_actions WHERE rule_id = $1`, def.ID); err != nil {
		return fmt.Errorf("failed to delete actions: %w", err)
	}
	if err := insertParts(ctx, tx, def); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rule update: %w", err)
	}
	return nil
}

// Delete removes a definition. Chains, segments and actions are removed by
// cascading foreign keys.
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rule_definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Action(ctx context.Context, id int64) (*Action, error) {
	actions, err := s.actions(ctx, `WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("action %d: %w", id, ErrNotFound)
	}
	return &actions[0], nil
}

func nullableID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
