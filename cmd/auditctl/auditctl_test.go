package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/liamcoop/courseaudit/auditor"
	"github.com/liamcoop/courseaudit/auditrun"
	"github.com/liamcoop/courseaudit/conditions"
	"github.com/liamcoop/courseaudit/course"
	"github.com/liamcoop/courseaudit/internal/config"
	"github.com/liamcoop/courseaudit/rules"
	"github.com/liamcoop/courseaudit/tour"
)

type testEnv struct {
	env    *environment
	runs   *auditrun.InMemoryStore
	widget *tour.InMemoryWidget
	opened int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := course.NewInMemoryStore()
	store.PutCourse(&course.Course{ID: 1, ShortName: "BIO101", FullName: "Biology"})
	store.PutSection(&course.Section{ID: 11, CourseID: 1, Number: 1, Name: "Cells", Visible: true})
	store.PutSection(&course.Section{ID: 12, CourseID: 1, Number: 2, Visible: true})
	store.PutModule(&course.Module{ID: 100, CourseID: 1, SectionID: 11, ModName: "label", Name: "Welcome", Visible: true})
	store.PutModule(&course.Module{ID: 101, CourseID: 1, SectionID: 11, ModName: "quiz", Name: "Cell quiz", Visible: true})
	store.PutSetting(course.Ref{Type: course.EntityModule, ID: 101, ModName: "quiz"}, "attempts", "3")

	evaluator, err := conditions.NewEvaluator(conditions.NewCourseResolver(store))
	if err != nil {
		t.Fatalf("NewEvaluator() failed: %v", err)
	}
	library := conditions.NewLibrary(conditions.NewInMemoryStore(), evaluator, nil)

	te := &testEnv{
		runs:   auditrun.NewInMemoryStore(),
		widget: tour.NewInMemoryWidget(),
	}
	te.env = &environment{
		Auditor: auditor.New(store, rules.DefaultRegistry(store), auditor.WithLibrary(library)),
		Library: library,
		Runs:    te.runs,
		Tours:   te.widget,
	}
	return te
}

func (te *testEnv) open(_ context.Context, _ *config.Config) (*environment, error) {
	te.opened++
	return te.env, nil
}

// execute runs the CLI with args and returns its output.
func (te *testEnv) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(te.open, config.Default())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    outputFormat
		wantErr bool
	}{
		{"", outputTable, false},
		{"table", outputTable, false},
		{"JSON", outputJSON, false},
		{"yaml", outputYAML, false},
		{"md", outputMarkdown, false},
		{"markdown", outputMarkdown, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := parseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseOutputFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("parseOutputFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAuditTable(t *testing.T) {
	te := newTestEnv(t)

	out, err := te.execute(t, "audit", "1")
	if err != nil {
		t.Fatalf("audit failed: %v\n%s", err, out)
	}
	for _, want := range []string{"RULE", "quiz_is_repeatable", "FAIL", "Biology:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if runs, _ := te.runs.ListByCourse(context.Background(), 1); len(runs) != 0 {
		t.Error("audit must not store a run")
	}
}

func TestAuditJSON(t *testing.T) {
	te := newTestEnv(t)

	out, err := te.execute(t, "audit", "1", "-o", "json", "--failed-only")
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}

	var got auditOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if got.CourseID != 1 || got.CourseName != "Biology" {
		t.Errorf("unexpected course: %+v", got)
	}
	if got.Failed == 0 || len(got.Results) != got.Failed {
		t.Errorf("failed = %d with %d results, want only failed results", got.Failed, len(got.Results))
	}
	found := false
	for _, a := range got.Actions {
		if a.Endpoint == "enable_repeatable" && a.Params == "cmid=101&courseid=1" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing enable_repeatable action in %+v", got.Actions)
	}
}

func TestAuditYAML(t *testing.T) {
	te := newTestEnv(t)

	out, err := te.execute(t, "audit", "1", "-o", "yaml")
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}

	var got auditOutput
	if err := yaml.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid YAML: %v\n%s", err, out)
	}
	if got.CourseName != "Biology" || len(got.Results) == 0 {
		t.Errorf("unexpected output: %+v", got)
	}
	if !strings.Contains(out, "rule_key: quiz_is_repeatable") {
		t.Errorf("missing quiz result:\n%s", out)
	}
}

func TestAuditMarkdown(t *testing.T) {
	te := newTestEnv(t)

	out, err := te.execute(t, "audit", "1", "-o", "markdown")
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}
	for _, want := range []string{"# Course audit: Biology", "## Cells", "## Section 2", "## Suggested fixes", "/api/v1/actions/enable_repeatable?cmid=101&courseid=1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	for _, unwanted := range []string{"<li", "<button", "<h5>"} {
		if strings.Contains(out, unwanted) {
			t.Errorf("output still contains HTML %q:\n%s", unwanted, out)
		}
	}
}

func TestAuditRejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing id", []string{"audit"}},
		{"non numeric id", []string{"audit", "abc"}},
		{"negative id", []string{"audit", "-1"}},
		{"unknown course", []string{"audit", "99"}},
		{"unknown format", []string{"audit", "1", "-o", "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := newTestEnv(t)
			if _, err := te.execute(t, tt.args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

const ruleSetYAML = `
name: course-checks
enabled: true
rules:
  - key: course_has_quiz
    name: Course has a quiz
    category: hint
    target_type: course
    enabled: true
    chains:
      - segments:
          - target_type: COURSE
            check_type: HAS_CONTENT
            content_child_type: MODULE
            content_child_identifier: quiz
`

func writeRuleSet(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("failed to write rule set: %v", err)
	}
	return path
}

func TestImportRules(t *testing.T) {
	te := newTestEnv(t)
	path := writeRuleSet(t, ruleSetYAML)

	out, err := te.execute(t, "import-rules", path)
	if err != nil {
		t.Fatalf("import-rules failed: %v", err)
	}
	if !strings.Contains(out, `Imported rule set "course-checks": 1 created, 0 updated`) {
		t.Errorf("unexpected output: %s", out)
	}

	out, err = te.execute(t, "import-rules", path)
	if err != nil {
		t.Fatalf("second import-rules failed: %v", err)
	}
	if !strings.Contains(out, "0 created, 1 updated") {
		t.Errorf("unexpected output: %s", out)
	}

	out, err = te.execute(t, "rules")
	if err != nil {
		t.Fatalf("rules failed: %v", err)
	}
	var storedLine string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "course_has_quiz") {
			storedLine = line
		}
	}
	if !strings.Contains(storedLine, "stored") {
		t.Errorf("stored rule not listed:\n%s", out)
	}
	if !strings.Contains(out, "quiz_is_repeatable") || !strings.Contains(out, "builtin") {
		t.Errorf("built-in rules not listed:\n%s", out)
	}
}

func TestImportRulesDryRun(t *testing.T) {
	te := newTestEnv(t)
	path := writeRuleSet(t, ruleSetYAML)

	out, err := te.execute(t, "import-rules", "--dry-run", path)
	if err != nil {
		t.Fatalf("import-rules failed: %v", err)
	}
	if !strings.Contains(out, `rule set "course-checks" is valid (1 definitions)`) {
		t.Errorf("unexpected output: %s", out)
	}
	if te.opened != 0 {
		t.Error("dry run must not open the database")
	}
}

func TestImportRulesInvalid(t *testing.T) {
	te := newTestEnv(t)
	path := writeRuleSet(t, strings.Replace(ruleSetYAML, "check_type: HAS_CONTENT", "check_type: MAYBE", 1))

	if _, err := te.execute(t, "import-rules", path); err == nil {
		t.Fatal("expected invalid rule set to be rejected")
	}
	if te.opened != 0 {
		t.Error("invalid files must be rejected before opening the database")
	}
}

func TestRulesJSON(t *testing.T) {
	te := newTestEnv(t)

	out, err := te.execute(t, "rules", "-o", "json")
	if err != nil {
		t.Fatalf("rules failed: %v", err)
	}
	var infos []ruleInfo
	if err := json.Unmarshal([]byte(out), &infos); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(infos) == 0 {
		t.Fatal("expected built-in rules")
	}
	for _, info := range infos {
		if info.Source != "builtin" {
			t.Errorf("rule %s source = %q, want builtin", info.Key, info.Source)
		}
	}
}

func TestSweep(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	shell := &tour.Tour{CourseID: 1, Name: "Course audit"}
	if err := te.widget.CreateTour(ctx, shell); err != nil {
		t.Fatalf("CreateTour() failed: %v", err)
	}
	if _, err := te.runs.Create(ctx, 1, shell.ID); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	out, err := te.execute(t, "sweep", "--retention", "1ms")
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if !strings.Contains(out, "Deleted 1 audit runs") {
		t.Errorf("unexpected output: %s", out)
	}
	if runs, _ := te.runs.ListByCourse(ctx, 1); len(runs) != 0 {
		t.Error("expected the run to be swept")
	}
	if _, _, ok := te.widget.Tour(shell.ID); ok {
		t.Error("expected the tour to be deleted")
	}
}

func TestSweepKeepsRecentRuns(t *testing.T) {
	te := newTestEnv(t)
	if _, err := te.runs.Create(context.Background(), 1, 0); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	out, err := te.execute(t, "sweep")
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if !strings.Contains(out, "Deleted 0 audit runs older than 720h0m0s") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestSweepRejectsRetention(t *testing.T) {
	te := newTestEnv(t)
	_, err := te.execute(t, "sweep", "--retention", "0s")
	if err == nil || !strings.Contains(err.Error(), "retention must be positive") {
		t.Errorf("error = %v, want retention error", err)
	}
}

func TestEnvironmentFlagsOverrideConfig(t *testing.T) {
	var got *config.Config
	open := func(_ context.Context, cfg *config.Config) (*environment, error) {
		got = cfg
		return nil, errors.New("stop")
	}
	cmd := newRootCmd(open, config.Default())
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"rules", "--database", "postgres://db/courses", "--table-prefix", "m_"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected the opener error")
	}
	if got == nil || got.DatabaseURL != "postgres://db/courses" || got.TablePrefix != "m_" {
		t.Errorf("config = %+v", got)
	}
}
