package course

import (
	"context"
	"errors"
	"testing"
)

func newFixtureStore() *InMemoryStore {
	s := NewInMemoryStore()
	s.PutCourse(&Course{ID: 2, ShortName: "C2", FullName: "Course Two"})
	s.PutSection(&Section{ID: 20, CourseID: 2, Number: 1, Visible: true})
	s.PutSection(&Section{ID: 10, CourseID: 2, Number: 0, Visible: true})
	s.PutModule(&Module{ID: 101, CourseID: 2, SectionID: 20, ModName: "quiz", Instance: 1, Name: "Quiz", Visible: true})
	s.PutModule(&Module{ID: 100, CourseID: 2, SectionID: 20, ModName: "label", Instance: 1, Name: "Intro", Visible: true})
	return s
}

func TestInMemoryStoreSectionsOrderedByNumber(t *testing.T) {
	s := newFixtureStore()

	sections, err := s.Sections(context.Background(), 2)
	if err != nil {
		t.Fatalf("Sections() failed: %v", err)
	}
	if len(sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(sections))
	}
	if sections[0].Number != 0 || sections[1].Number != 1 {
		t.Errorf("sections not ordered by number: %d, %d", sections[0].Number, sections[1].Number)
	}
}

func TestInMemoryStoreModulesFollowSequence(t *testing.T) {
	s := newFixtureStore()

	modules, err := s.Modules(context.Background(), 20)
	if err != nil {
		t.Fatalf("Modules() failed: %v", err)
	}
	if len(modules) != 2 {
		t.Fatalf("expected 2 modules, got %d", len(modules))
	}
	if modules[0].ID != 101 || modules[1].ID != 100 {
		t.Errorf("modules should follow insertion sequence, got %d, %d", modules[0].ID, modules[1].ID)
	}
}

func TestInMemoryStoreNotFound(t *testing.T) {
	s := newFixtureStore()
	ctx := context.Background()

	if _, err := s.Course(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("Course(99) error = %v, want ErrNotFound", err)
	}
	if _, err := s.Section(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("Section(99) error = %v, want ErrNotFound", err)
	}
	if _, err := s.Module(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("Module(99) error = %v, want ErrNotFound", err)
	}
}

func TestInMemoryStoreSettings(t *testing.T) {
	s := newFixtureStore()
	ctx := context.Background()
	quiz := Ref{Type: EntityModule, ID: 101, ModName: "quiz"}

	if _, ok, err := s.Setting(ctx, quiz, "attempts"); err != nil || ok {
		t.Fatalf("unset setting should be absent, ok=%v err=%v", ok, err)
	}

	if err := s.SetSetting(ctx, quiz, "attempts", "3"); err != nil {
		t.Fatalf("SetSetting() failed: %v", err)
	}
	v, ok, err := s.Setting(ctx, Ref{Type: EntityModule, ID: 101}, "attempts")
	if err != nil || !ok || v != "3" {
		t.Errorf("Setting() = %q, %v, %v; want \"3\", true, nil", v, ok, err)
	}

	v, ok, _ = s.Setting(ctx, quiz, "visible")
	if !ok || v != "1" {
		t.Errorf("visible = %q, want \"1\"", v)
	}
}

func TestInMemoryStoreSetSettingRejectsBadInput(t *testing.T) {
	s := newFixtureStore()
	ctx := context.Background()

	err := s.SetSetting(ctx, Ref{Type: EntityModule, ID: 101}, "Bad Name", "1")
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	err = s.SetSetting(ctx, Ref{Type: EntityModule, ID: 999}, "attempts", "1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryStoreAddModule(t *testing.T) {
	s := newFixtureStore()
	ctx := context.Background()

	m, err := s.AddModule(ctx, 10, "label", "Welcome", map[string]string{"intro": "hello"})
	if err != nil {
		t.Fatalf("AddModule() failed: %v", err)
	}
	if m.CourseID != 2 || m.SectionID != 10 || m.ModName != "label" {
		t.Errorf("unexpected module: %+v", m)
	}

	modules, _ := s.Modules(ctx, 10)
	if len(modules) != 1 || modules[0].ID != m.ID {
		t.Fatalf("new module should be appended to the section sequence, got %+v", modules)
	}

	v, ok, _ := s.Setting(ctx, m.Ref(), "intro")
	if !ok || v != "hello" {
		t.Errorf("initial setting not stored, got %q", v)
	}

	if _, err := s.AddModule(ctx, 999, "label", "x", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing section, got %v", err)
	}
}

func TestValidateIdentifier(t *testing.T) {
	valid := []string{"quiz", "attempts", "mdl_", "_x1"}
	for _, name := range valid {
		if err := ValidateIdentifier(name); err != nil {
			t.Errorf("ValidateIdentifier(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "Quiz", "1abc", "a-b", "name; drop table", "x y"}
	for _, name := range invalid {
		if err := ValidateIdentifier(name); err == nil {
			t.Errorf("ValidateIdentifier(%q) should fail", name)
		}
	}
}

func TestSectionDisplayName(t *testing.T) {
	tests := []struct {
		section Section
		want    string
	}{
		{Section{Number: 0}, "General"},
		{Section{Number: 3}, "Section 3"},
		{Section{Number: 3, Name: "Week 3"}, "Week 3"},
	}
	for _, tt := range tests {
		if got := tt.section.DisplayName(); got != tt.want {
			t.Errorf("DisplayName() = %q, want %q", got, tt.want)
		}
	}
}
