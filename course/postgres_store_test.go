package course

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewPostgresStore(db, DefaultTablePrefix)
	if err != nil {
		t.Fatalf("NewPostgresStore() failed: %v", err)
	}
	return store, mock
}

func TestNewPostgresStoreRejectsBadPrefix(t *testing.T) {
	if _, err := NewPostgresStore(nil, "mdl; drop"); err == nil {
		t.Fatal("expected invalid prefix to be rejected")
	}
}

func TestPostgresStoreCourse(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "mdl_course"`)).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "shortname", "fullname", "summary"}).
			AddRow(2, "C2", "Course Two", "About"))

	c, err := store.Course(context.Background(), 2)
	if err != nil {
		t.Fatalf("Course() failed: %v", err)
	}
	if c.ShortName != "C2" || c.Summary != "About" {
		t.Errorf("unexpected course: %+v", c)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "mdl_course"`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "shortname", "fullname", "summary"}))

	if _, err := store.Course(context.Background(), 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreSectionsParsesSequence(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "mdl_course_sections"`)).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "course", "section", "name", "summary", "sequence", "visible"}).
			AddRow(10, 2, 0, "", "", "", 1).
			AddRow(11, 2, 1, "Week 1", "", "5,7, 6", 0))

	sections, err := store.Sections(context.Background(), 2)
	if err != nil {
		t.Fatalf("Sections() failed: %v", err)
	}
	if len(sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(sections))
	}
	if len(sections[0].Sequence) != 0 {
		t.Errorf("empty sequence should parse to no modules, got %v", sections[0].Sequence)
	}
	want := []int64{5, 7, 6}
	for i, id := range want {
		if sections[1].Sequence[i] != id {
			t.Errorf("Sequence[%d] = %d, want %d", i, sections[1].Sequence[i], id)
		}
	}
	if sections[1].Visible {
		t.Error("section 11 should be hidden")
	}
}

func TestPostgresStoreSettingUndefinedColumn(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT m.name, cm.instance`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "instance"}).AddRow("quiz", 3))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT CAST("nosuch" AS TEXT) FROM "mdl_quiz"`)).
		WithArgs(int64(3)).
		WillReturnError(&pq.Error{Code: pqUndefinedColumn})

	_, ok, err := store.Setting(context.Background(), Ref{Type: EntityModule, ID: 7}, "nosuch")
	if err != nil {
		t.Fatalf("undefined column should not be an error, got %v", err)
	}
	if ok {
		t.Error("undefined column should report the setting as absent")
	}
}

func TestPostgresStoreSettingReadsInstanceTable(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT m.name, cm.instance`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "instance"}).AddRow("quiz", 3))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT CAST("attempts" AS TEXT) FROM "mdl_quiz"`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow("3"))

	v, ok, err := store.Setting(context.Background(), Ref{Type: EntityModule, ID: 7}, "attempts")
	if err != nil || !ok || v != "3" {
		t.Errorf("Setting() = %q, %v, %v; want \"3\", true, nil", v, ok, err)
	}
}

func TestPostgresStoreSetSettingRollsBackOnFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT m.name, cm.instance`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "instance"}).AddRow("quiz", 3))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM "mdl_quiz" WHERE id = $1 FOR UPDATE`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "mdl_quiz" SET "attempts" = $1 WHERE id = $2`)).
		WithArgs("0", int64(3)).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.SetSetting(context.Background(), Ref{Type: EntityModule, ID: 7}, "attempts", "0")
	if err == nil {
		t.Fatal("expected update failure to be returned")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("transaction should be rolled back: %v", err)
	}
}

func TestPostgresStoreSetSettingCommits(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM "mdl_course_modules" WHERE id = $1 FOR UPDATE`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "mdl_course_modules" SET "completion" = $1 WHERE id = $2`)).
		WithArgs("2", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.SetSetting(context.Background(), Ref{Type: EntityModule, ID: 7}, "completion", "2"); err != nil {
		t.Fatalf("SetSetting() failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreAddModule(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "mdl_course_sections"`)).
		WithArgs(int64(20)).
		WillReturnRows(sqlmock.NewRows([]string{"course", "sequence"}).AddRow(2, "5,6"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM "mdl_modules" WHERE name = $1`)).
		WithArgs("label").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "mdl_label" ("course", "name", "timemodified", "intro", "introformat") VALUES ($1, $2, $3, $4, $5) RETURNING id`)).
		WithArgs(int64(2), "Label", sqlmock.AnyArg(), "", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(40))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "mdl_course_modules"`)).
		WithArgs(int64(2), int64(12), int64(40), int64(20), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "mdl_course_sections" SET sequence = $1 WHERE id = $2`)).
		WithArgs("5,6,8", int64(20)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m, err := store.AddModule(context.Background(), 20, "label", "Label", nil)
	if err != nil {
		t.Fatalf("AddModule() failed: %v", err)
	}
	if m.ID != 8 || m.Instance != 40 || m.CourseID != 2 {
		t.Errorf("unexpected module: %+v", m)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreAddModuleIntroSetting(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "mdl_course_sections"`)).
		WithArgs(int64(20)).
		WillReturnRows(sqlmock.NewRows([]string{"course", "sequence"}).AddRow(2, ""))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM "mdl_modules" WHERE name = $1`)).
		WithArgs("label").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "mdl_label" ("course", "name", "timemodified", "introformat", "intro") VALUES ($1, $2, $3, $4, $5) RETURNING id`)).
		WithArgs(int64(2), "About Cells", sqlmock.AnyArg(), 1, "<p>Cells</p>").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(41))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "mdl_course_modules"`)).
		WithArgs(int64(2), int64(12), int64(41), int64(20), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "mdl_course_sections" SET sequence = $1 WHERE id = $2`)).
		WithArgs("9", int64(20)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if _, err := store.AddModule(context.Background(), 20, "label", "About Cells", map[string]string{"intro": "<p>Cells</p>"}); err != nil {
		t.Fatalf("AddModule() failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreAddModuleUnknownType(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "mdl_course_sections"`)).
		WithArgs(int64(20)).
		WillReturnRows(sqlmock.NewRows([]string{"course", "sequence"}).AddRow(2, ""))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM "mdl_modules" WHERE name = $1`)).
		WithArgs("scorm").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := store.AddModule(context.Background(), 20, "scorm", "x", nil)
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
