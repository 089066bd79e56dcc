package course

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// DefaultTablePrefix is the platform's default database table prefix.
const DefaultTablePrefix = "mdl_"

// PostgreSQL error codes the store reacts to.
const (
	pqUndefinedTable  = "42P01"
	pqUndefinedColumn = "42703"
)

// moduleColumns are settings stored on the course-module record rather than
// on the module's instance table.
var moduleColumns = map[string]bool{
	"visible":             true,
	"visibleoncoursepage": true,
	"completion":          true,
	"completionexpected":  true,
	"availability":        true,
	"groupmode":           true,
	"indent":              true,
	"showdescription":     true,
}

type subElementTable struct {
	table        string
	parentColumn string
	nameColumn   string
}

// subElementTables maps "modname/kind" to the table holding that kind of
// sub-element.
var subElementTables = map[string]subElementTable{
	"quiz/slot":        {table: "quiz_slots", parentColumn: "quizid", nameColumn: "slot"},
	"book/chapter":     {table: "book_chapters", parentColumn: "bookid", nameColumn: "title"},
	"lesson/page":      {table: "lesson_pages", parentColumn: "lessonid", nameColumn: "title"},
	"forum/discussion": {table: "forum_discussions", parentColumn: "forum", nameColumn: "name"},
}

// PostgresStore implements Store over the platform's PostgreSQL tables.
type PostgresStore struct {
	db     *sql.DB
	prefix string
}

// NewPostgresStore creates a store reading tables named prefix+table.
func NewPostgresStore(db *sql.DB, prefix string) (*PostgresStore, error) {
	if prefix != "" {
		if err := ValidateIdentifier(prefix); err != nil {
			return nil, fmt.Errorf("invalid table prefix: %w", err)
		}
	}
	return &PostgresStore{db: db, prefix: prefix}, nil
}

func (s *PostgresStore) table(name string) string {
	return pq.QuoteIdentifier(s.prefix + name)
}

// Course retrieves a course by id.
func (s *PostgresStore) Course(ctx context.Context, id int64) (*Course, error) {
	var c Course
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, shortname, fullname, COALESCE(summary, '')
		FROM %s
		WHERE id = $1
	`, s.table("course")), id).Scan(&c.ID, &c.ShortName, &c.FullName, &c.Summary)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("course %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	return &c, nil
}

const sectionColumns = `id, course, section, COALESCE(name, ''), COALESCE(summary, ''), COALESCE(sequence, ''), visible`

func scanSection(row interface{ Scan(...any) error }) (*Section, error) {
	var (
		sec      Section
		sequence string
		visible  int
	)
	if err := row.Scan(&sec.ID, &sec.CourseID, &sec.Number, &sec.Name, &sec.Summary, &sequence, &visible); err != nil {
		return nil, err
	}
	sec.Visible = visible != 0
	seq, err := parseSequence(sequence)
	if err != nil {
		return nil, fmt.Errorf("section %d: %w", sec.ID, err)
	}
	sec.Sequence = seq
	return &sec, nil
}

// Sections returns the course's sections ordered by section number.
func (s *PostgresStore) Sections(ctx context.Context, courseID int64) ([]*Section, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE course = $1
		ORDER BY section ASC
	`, sectionColumns, s.table("course_sections")), courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	defer rows.Close()

	var sections []*Section
	for rows.Next() {
		sec, err := scanSection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		sections = append(sections, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sections: %w", err)
	}
	return sections, nil
}

// Section retrieves a section by id.
func (s *PostgresStore) Section(ctx context.Context, id int64) (*Section, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE id = $1
	`, sectionColumns, s.table("course_sections")), id)

	sec, err := scanSection(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("section %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get section: %w", err)
	}
	return sec, nil
}

func (s *PostgresStore) moduleQuery(where string) string {
	return fmt.Sprintf(`
		SELECT cm.id, cm.course, cm.section, m.name, cm.instance, cm.visible,
			COALESCE(cm.availability, ''), cm.completion, cm.deletioninprogress
		FROM %s cm
		JOIN %s m ON m.id = cm.module
		WHERE %s
	`, s.table("course_modules"), s.table("modules"), where)
}

func scanModule(row interface{ Scan(...any) error }) (*Module, error) {
	var (
		m        Module
		visible  int
		deleting int
	)
	if err := row.Scan(&m.ID, &m.CourseID, &m.SectionID, &m.ModName, &m.Instance, &visible,
		&m.Availability, &m.Completion, &deleting); err != nil {
		return nil, err
	}
	m.Visible = visible != 0
	m.DeletionInProgress = deleting != 0
	return &m, nil
}

// Modules returns the section's modules in sequence order. Modules missing
// from the sequence are appended in id order.
func (s *PostgresStore) Modules(ctx context.Context, sectionID int64) ([]*Module, error) {
	sec, err := s.Section(ctx, sectionID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.moduleQuery("cm.section = $1"), sectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]*Module)
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan module: %w", err)
		}
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating modules: %w", err)
	}

	modules := make([]*Module, 0, len(byID))
	for _, id := range sec.Sequence {
		if m, ok := byID[id]; ok {
			modules = append(modules, m)
			delete(byID, id)
		}
	}
	var rest []*Module
	for _, m := range byID {
		rest = append(rest, m)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].ID < rest[j].ID })
	modules = append(modules, rest...)

	for _, m := range modules {
		if err := s.loadInstanceName(ctx, m); err != nil {
			return nil, err
		}
	}
	return modules, nil
}

// Module retrieves a module by id.
func (s *PostgresStore) Module(ctx context.Context, id int64) (*Module, error) {
	m, err := scanModule(s.db.QueryRowContext(ctx, s.moduleQuery("cm.id = $1"), id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("module %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module: %w", err)
	}
	if err := s.loadInstanceName(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *PostgresStore) loadInstanceName(ctx context.Context, m *Module) error {
	if err := ValidateIdentifier(m.ModName); err != nil {
		m.Name = m.ModName
		return nil
	}
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT name FROM %s WHERE id = $1`,
		s.table(m.ModName)), m.Instance).Scan(&m.Name)
	if err == sql.ErrNoRows || pqCode(err) == pqUndefinedTable {
		m.Name = m.ModName
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get %s instance %d: %w", m.ModName, m.Instance, err)
	}
	return nil
}

// SubElements lists the module's sub-elements of the given kind.
func (s *PostgresStore) SubElements(ctx context.Context, moduleID int64, kind string) ([]*SubElement, error) {
	m, err := s.Module(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	def, ok := subElementTables[m.ModName+"/"+kind]
	if !ok {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, CAST(%s AS TEXT)
		FROM %s
		WHERE %s = $1
		ORDER BY id ASC
	`, pq.QuoteIdentifier(def.nameColumn), s.table(def.table), pq.QuoteIdentifier(def.parentColumn)), m.Instance)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s sub-elements: %w", kind, err)
	}
	defer rows.Close()

	var elements []*SubElement
	for rows.Next() {
		e := &SubElement{ModuleID: moduleID, ModName: m.ModName, Kind: kind}
		if err := rows.Scan(&e.ID, &e.Name); err != nil {
			return nil, fmt.Errorf("failed to scan sub-element: %w", err)
		}
		elements = append(elements, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sub-elements: %w", err)
	}
	return elements, nil
}

// settingLocation resolves the table and row id holding a setting.
func (s *PostgresStore) settingLocation(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, ref Ref, name string) (string, int64, error) {
	switch ref.Type {
	case EntityCourse:
		return s.table("course"), ref.ID, nil
	case EntitySection:
		return s.table("course_sections"), ref.ID, nil
	case EntityModule:
		if moduleColumns[name] {
			return s.table("course_modules"), ref.ID, nil
		}
		var (
			modName  string
			instance int64
		)
		err := q.QueryRowContext(ctx, fmt.Sprintf(`
			SELECT m.name, cm.instance
			FROM %s cm
			JOIN %s m ON m.id = cm.module
			WHERE cm.id = $1
		`, s.table("course_modules"), s.table("modules")), ref.ID).Scan(&modName, &instance)
		if err == sql.ErrNoRows {
			return "", 0, fmt.Errorf("module %d: %w", ref.ID, ErrNotFound)
		}
		if err != nil {
			return "", 0, fmt.Errorf("failed to resolve module %d: %w", ref.ID, err)
		}
		if err := ValidateIdentifier(modName); err != nil {
			return "", 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return s.table(modName), instance, nil
	case EntitySubElement:
		def, ok := subElementTables[ref.ModName+"/"+ref.Kind]
		if !ok {
			return "", 0, fmt.Errorf("%w: unknown sub-element %s/%s", ErrInvalidInput, ref.ModName, ref.Kind)
		}
		return s.table(def.table), ref.ID, nil
	default:
		return "", 0, fmt.Errorf("%w: unknown entity type %q", ErrInvalidInput, ref.Type)
	}
}

// Setting reads a single column of the entity's record as text.
func (s *PostgresStore) Setting(ctx context.Context, ref Ref, name string) (string, bool, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	table, id, err := s.settingLocation(ctx, s.db, ref, name)
	if err != nil {
		return "", false, err
	}

	var value sql.NullString
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT CAST(%s AS TEXT) FROM %s WHERE id = $1`,
		pq.QuoteIdentifier(name), table), id).Scan(&value)
	switch {
	case err == sql.ErrNoRows:
		return "", false, fmt.Errorf("%s: %w", ref, ErrNotFound)
	case pqCode(err) == pqUndefinedColumn:
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("failed to read setting %s of %s: %w", name, ref, err)
	}
	if !value.Valid {
		return "", false, nil
	}
	return value.String, true, nil
}

// AddModule creates the instance record, the course-module record and the
// sequence update in a single transaction.
func (s *PostgresStore) AddModule(ctx context.Context, sectionID int64, modName, name string, settings map[string]string) (*Module, error) {
	if err := ValidateIdentifier(modName); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	keys := make([]string, 0, len(settings))
	for k := range settings {
		if err := ValidateIdentifier(k); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		courseID int64
		sequence string
	)
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT course, COALESCE(sequence, '')
		FROM %s
		WHERE id = $1
		FOR UPDATE
	`, s.table("course_sections")), sectionID).Scan(&courseID, &sequence)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("section %d: %w", sectionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock section: %w", err)
	}

	var moduleTypeID int64
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE name = $1`, s.table("modules")), modName).Scan(&moduleTypeID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: module type %q is not installed", ErrInvalidInput, modName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve module type: %w", err)
	}

	now := time.Now().Unix()
	columns := []string{"course", "name", "timemodified"}
	args := []any{courseID, name, now}
	if _, ok := settings["intro"]; !ok {
		columns = append(columns, "intro")
		args = append(args, "")
	}
	if _, ok := settings["introformat"]; !ok {
		columns = append(columns, "introformat")
		args = append(args, 1)
	}
	for _, k := range keys {
		if k == "course" || k == "name" || k == "timemodified" {
			continue
		}
		columns = append(columns, k)
		args = append(args, settings[k])
	}
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pq.QuoteIdentifier(c)
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}

	var instanceID int64
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING id`,
		s.table(modName), strings.Join(quoted, ", "), strings.Join(placeholders, ", ")), args...).Scan(&instanceID)
	if pqCode(err) == pqUndefinedColumn {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert %s instance: %w", modName, err)
	}

	var cmID int64
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (course, module, instance, section, visible, visibleold, added)
		VALUES ($1, $2, $3, $4, 1, 1, $5)
		RETURNING id
	`, s.table("course_modules")), courseID, moduleTypeID, instanceID, sectionID, now).Scan(&cmID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert course module: %w", err)
	}

	if sequence == "" {
		sequence = strconv.FormatInt(cmID, 10)
	} else {
		sequence = sequence + "," + strconv.FormatInt(cmID, 10)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET sequence = $1 WHERE id = $2`,
		s.table("course_sections")), sequence, sectionID); err != nil {
		return nil, fmt.Errorf("failed to update section sequence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit module creation: %w", err)
	}

	return &Module{
		ID:        cmID,
		CourseID:  courseID,
		SectionID: sectionID,
		ModName:   modName,
		Instance:  instanceID,
		Name:      name,
		Visible:   true,
	}, nil
}

// SetSetting locks the target row, updates one column and commits.
func (s *PostgresStore) SetSetting(ctx context.Context, ref Ref, name, value string) error {
	if err := ValidateIdentifier(name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	table, id, err := s.settingLocation(ctx, tx, ref, name)
	if err != nil {
		return err
	}

	var locked int64
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE id = $1 FOR UPDATE`, table), id).Scan(&locked)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", ref, err)
	}

	result, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE id = $2`,
		table, pq.QuoteIdentifier(name)), value, id)
	if pqCode(err) == pqUndefinedColumn {
		return fmt.Errorf("%w: %s has no setting %q", ErrInvalidInput, ref, name)
	}
	if err != nil {
		return fmt.Errorf("failed to update setting %s of %s: %w", name, ref, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit setting update: %w", err)
	}
	return nil
}

func parseSequence(sequence string) ([]int64, error) {
	sequence = strings.TrimSpace(sequence)
	if sequence == "" {
		return nil, nil
	}
	parts := strings.Split(sequence, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid module sequence %q: %w", sequence, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
