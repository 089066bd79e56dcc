package auditrun

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
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

func TestPostgresStoreSaveResults(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE audit_runs SET time_modified = $1 WHERE id = $2`)).
		WithArgs(sqlmock.AnyArg(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO audit_results`))
	prep.ExpectExec().
		WithArgs(int64(3), "has_label", "hint", false, []byte(`["Section \"A\" has no label."]`), "section", int64(11), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().
		WithArgs(int64(3), "course_has_summary", "hint", true, []byte(`["ok"]`), "course", int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := store.SaveResults(context.Background(), 3, []Result{
		{RuleKey: "has_label", RuleCategory: "hint", Messages: []string{`Section "A" has no label.`}, TargetType: "section", TargetID: 11},
		{RuleKey: "course_has_summary", RuleCategory: "hint", Status: true, Messages: []string{"ok"}, TargetType: "course", TargetID: 1},
	})
	if err != nil {
		t.Fatalf("SaveResults() failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreSaveResultsRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE audit_runs`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO audit_results`))
	prep.ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.SaveResults(context.Background(), 3, []Result{{RuleKey: "has_label", Messages: []string{}}})
	if err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreSaveResultsUnknownRun(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE audit_runs`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.SaveResults(context.Background(), 9, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresStoreResults(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM audit_results`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "audit_id", "rule_key", "rule_category", "status", "messages", "target_type", "target_id", "time_created"}).
			AddRow(1, 3, "has_label", "hint", false, []byte(`["missing"]`), "section", 11, created))

	results, err := store.Results(context.Background(), 3)
	if err != nil {
		t.Fatalf("Results() failed: %v", err)
	}
	if len(results) != 1 || results[0].Messages[0] != "missing" || results[0].TargetID != 11 {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestPostgresStoreDelete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM audit_results WHERE audit_id = $1`)).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM audit_runs WHERE id = $1`)).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.Delete(context.Background(), 3); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreLatestNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY time_modified DESC`)).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "course_id", "tour_id", "time_created", "time_modified"}))

	_, err := store.Latest(context.Background(), 5)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
