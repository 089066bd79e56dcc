package conditions

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
	return NewPostgresStore(db), mock
}

func TestPostgresStoreAdd(t *testing.T) {
	store, mock := newMockStore(t)
	def := validDefinition()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO rule_definitions`)).
		WithArgs(sqlmock.AnyArg(), "section_has_page", "Section has a page", "", "hint", "section", true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO condition_chains`)).
		WithArgs(int64(7), 0, "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(70))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO condition_segments`)).
		WithArgs(int64(70), 0, "SECTION", "", "HAS_CONTENT", "MODULE", "page", "", "", "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(700))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO rule_actions`)).
		WithArgs(int64(7), 0, "ADD_CONTENT", "Add page", "SECTION", "", "", "MODULE", "page", []byte(`{"display":"5"}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(77))
	mock.ExpectCommit()

	if err := store.Add(context.Background(), def); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if def.ID != 7 || def.Chains[0].ID != 70 || def.Chains[0].Segments[0].ID != 700 {
		t.Errorf("ids not assigned: rule %d chain %d segment %d", def.ID, def.Chains[0].ID, def.Chains[0].Segments[0].ID)
	}
	if def.Actions[0].ID != 77 || def.Actions[0].DefinitionID != 7 {
		t.Errorf("action ids not assigned: %+v", def.Actions[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreAddDuplicateKeyRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO rule_definitions`)).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := store.Add(context.Background(), validDefinition())
	if err == nil || !regexp.MustCompile(`already exists`).MatchString(err.Error()) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreDeleteNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM rule_definitions WHERE id = $1`)).
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), 9)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresStoreAddUnknownRuleSet(t *testing.T) {
	store, mock := newMockStore(t)
	def := validDefinition()
	def.RuleSetID = 3

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO rule_definitions`)).
		WillReturnError(&pq.Error{Code: "23503"})
	mock.ExpectRollback()

	err := store.Add(context.Background(), def)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
