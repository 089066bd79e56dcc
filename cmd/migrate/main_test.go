package main

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
)

type fakeMigrator struct {
	upErr      error
	version    uint
	versionErr error
	steps      int
	forced     int
	calls      []string
}

func (f *fakeMigrator) Up() error { f.calls = append(f.calls, "up"); return f.upErr }
func (f *fakeMigrator) Down() error { f.calls = append(f.calls, "down"); return nil }
func (f *fakeMigrator) Steps(n int) error {
	f.calls = append(f.calls, "steps")
	f.steps = n
	return nil
}
func (f *fakeMigrator) Version() (uint, bool, error) { return f.version, false, f.versionErr }
func (f *fakeMigrator) Force(v int) error {
	f.calls = append(f.calls, "force")
	f.forced = v
	return nil
}

func TestRun(t *testing.T) {
	tests := []struct {
		name    string
		m       *fakeMigrator
		command string
		args    []string
		wantErr bool
		check   func(t *testing.T, m *fakeMigrator)
	}{
		{
			name:    "up",
			m:       &fakeMigrator{},
			command: "up",
		},
		{
			name:    "up with no change",
			m:       &fakeMigrator{upErr: migrate.ErrNoChange},
			command: "up",
		},
		{
			name:    "up failure",
			m:       &fakeMigrator{upErr: errors.New("dirty database")},
			command: "up",
			wantErr: true,
		},
		{
			name:    "steps",
			m:       &fakeMigrator{},
			command: "steps",
			args:    []string{"-1"},
			check: func(t *testing.T, m *fakeMigrator) {
				if m.steps != -1 {
					t.Errorf("steps = %d, want -1", m.steps)
				}
			},
		},
		{
			name:    "force requires version",
			m:       &fakeMigrator{},
			command: "force",
			wantErr: true,
		},
		{
			name:    "force",
			m:       &fakeMigrator{},
			command: "force",
			args:    []string{"1"},
			check: func(t *testing.T, m *fakeMigrator) {
				if m.forced != 1 {
					t.Errorf("forced = %d, want 1", m.forced)
				}
			},
		},
		{
			name:    "version on empty database",
			m:       &fakeMigrator{versionErr: migrate.ErrNilVersion},
			command: "version",
		},
		{
			name:    "unknown command",
			m:       &fakeMigrator{},
			command: "sideways",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(tt.m, tt.command, tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("run() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, tt.m)
			}
		})
	}
}
