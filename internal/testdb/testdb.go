//go:build integration

package testdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Fixture names a SQL file under testdata.
type Fixture string

const (
	// TwoSectionCourse seeds course 1 with a label and a three-attempt quiz
	// (modules 100 and 101) in section 11 and an empty section 12.
	TwoSectionCourse Fixture = "two_section_course.sql"
)

func root() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Dir(file)
}

// Start creates a PostgreSQL testcontainer, runs the service migrations and
// loads the platform schema plus any fixtures. The container is terminated
// when the test ends.
func Start(t *testing.T, fixtures ...Fixture) *sql.DB {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := postgres.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}
	connStr := fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	migrations := filepath.Join(root(), "..", "..", "migrations")
	m, err := migrate.New("file://"+migrations, connStr)
	if err != nil {
		t.Fatalf("Failed to create migration instance: %v", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	m.Close()

	Exec(t, db, "platform_schema.sql")
	for _, f := range fixtures {
		Exec(t, db, string(f))
	}
	return db
}

// Exec runs a SQL file from testdata.
func Exec(t *testing.T, db *sql.DB, name string) {
	t.Helper()
	script, err := os.ReadFile(filepath.Join(root(), "testdata", name))
	if err != nil {
		t.Fatalf("Failed to read %s: %v", name, err)
	}
	if _, err := db.Exec(string(script)); err != nil {
		t.Fatalf("Failed to load %s: %v", name, err)
	}
}
