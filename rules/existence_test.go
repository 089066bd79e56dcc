package rules

import (
	"context"
	"strings"
	"testing"

	"github.com/liamcoop/courseaudit/course"
)

func module(id int64, modName, name string) *course.Module {
	return &course.Module{ID: id, CourseID: 1, SectionID: 10, ModName: modName, Instance: id, Name: name, Visible: true}
}

func TestExistenceRulesDistinguishEmptySection(t *testing.T) {
	ctx := context.Background()

	for _, rule := range []Rule{NewHasLabel(), NewSectionHasQuiz(), NewHasConnections()} {
		t.Run(rule.Key(), func(t *testing.T) {
			empty, err := rule.Check(ctx, sectionTarget(), testCourse)
			if err != nil {
				t.Fatalf("Check() failed: %v", err)
			}
			if empty == nil || empty.Status {
				t.Fatalf("expected failure for empty section, got %+v", empty)
			}
			if !strings.Contains(empty.Messages[0], "empty") {
				t.Errorf("expected empty-section message, got %q", empty.Messages[0])
			}

			populated, err := rule.Check(ctx, sectionTarget(module(1, "page", "Reading")), testCourse)
			if err != nil {
				t.Fatalf("Check() failed: %v", err)
			}
			if populated.Status {
				t.Fatalf("expected failure for section without a match, got %+v", populated)
			}
			if populated.Messages[0] == empty.Messages[0] {
				t.Error("empty-section and not-found messages must differ")
			}
		})
	}
}

func TestExistenceRulesPass(t *testing.T) {
	target := sectionTarget(module(1, "label", "Intro"), module(2, "quiz", "Check"))

	for _, rule := range []Rule{NewHasLabel(), NewSectionHasQuiz()} {
		res, err := rule.Check(context.Background(), target, testCourse)
		if err != nil {
			t.Fatalf("%s: Check() failed: %v", rule.Key(), err)
		}
		if !res.Status {
			t.Errorf("%s: expected pass, got %v", rule.Key(), res.Messages)
		}
		if rule.Action(res) != nil {
			t.Errorf("%s: passing result should have no action", rule.Key())
		}
	}
}

func TestExistenceRuleNotApplicableToModules(t *testing.T) {
	res, err := NewHasLabel().Check(context.Background(), &ModuleTarget{Module: module(1, "label", "x")}, testCourse)
	if err != nil || res != nil {
		t.Errorf("expected nil result for module target, got %+v, %v", res, err)
	}
}

func TestExistenceRuleActions(t *testing.T) {
	tests := []struct {
		rule         Rule
		wantEndpoint string
	}{
		{NewHasLabel(), EndpointAddLabel},
		{NewSectionHasQuiz(), EndpointManageQuiz},
	}

	for _, tt := range tests {
		t.Run(tt.rule.Key(), func(t *testing.T) {
			res, _ := tt.rule.Check(context.Background(), sectionTarget(), testCourse)
			action := tt.rule.Action(res)
			if action == nil {
				t.Fatal("expected an action for a failed result")
			}
			if action.Endpoint != tt.wantEndpoint {
				t.Errorf("Endpoint = %s, want %s", action.Endpoint, tt.wantEndpoint)
			}
			if got := action.EncodeParams(); got != "courseid=1&sectionid=10" {
				t.Errorf("EncodeParams() = %q", got)
			}
		})
	}
}

func TestCourseHasSummary(t *testing.T) {
	tests := []struct {
		summary string
		want    bool
	}{
		{"", false},
		{"<p>&nbsp;</p>", false},
		{"<p>&#160;</p>", false},
		{"<p> &ensp; </p>", false},
		{"<div><br><p>\u00a0</p></div>", false},
		{"<p>Caf&eacute; chemistry</p>", true},
		{"<p>Learn Go.</p>", true},
	}

	rule := NewCourseHasSummary()
	for _, tt := range tests {
		c := &course.Course{ID: 1, Summary: tt.summary}
		res, err := rule.Check(context.Background(), &CourseTarget{Course: c}, c)
		if err != nil {
			t.Fatalf("Check() failed: %v", err)
		}
		if res.Status != tt.want {
			t.Errorf("summary %q: Status = %v, want %v", tt.summary, res.Status, tt.want)
		}
		if res.TargetType != TargetCourse || res.TargetID != 1 {
			t.Errorf("unexpected target tagging: %+v", res)
		}
	}
}
