package rules

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"github.com/liamcoop/courseaudit/course"
)

// Remediation endpoint names.
const (
	EndpointAddLabel         = "add_label"
	EndpointManageQuiz       = "manage_quiz"
	EndpointEnableRepeatable = "enable_repeatable"
)

// CourseHasSummary checks that the course carries a description.
type CourseHasSummary struct {
	base
}

func NewCourseHasSummary() *CourseHasSummary {
	return &CourseHasSummary{base{
		key:        "course_has_summary",
		name:       "Course summary",
		targetType: TargetCourse,
		category:   CategoryHint,
	}}
}

func (r *CourseHasSummary) Check(_ context.Context, target Target, c *course.Course) (*Result, error) {
	t, ok := target.(*CourseTarget)
	if !ok {
		return nil, nil
	}
	text, err := visibleText(t.Course.Summary)
	if err != nil {
		return nil, fmt.Errorf("failed to read course summary: %w", err)
	}
	if text == "" {
		return r.result(target, c, false,
			"The course has no summary. A short description tells learners what the course covers."), nil
	}
	return r.result(target, c, true, "The course has a summary."), nil
}

func (r *CourseHasSummary) Action(*Result) *Action { return nil }

// moduleExistence is a section rule passing when any visible module has the
// wanted module name.
type moduleExistence struct {
	base
	modName     string
	label       string
	endpoint    string
	emptyMsg    string
	notFoundMsg string
	foundMsg    string
}

func (r *moduleExistence) Check(_ context.Context, target Target, c *course.Course) (*Result, error) {
	t, ok := target.(*SectionTarget)
	if !ok {
		return nil, nil
	}
	name := t.Section.DisplayName()
	if len(t.Modules) == 0 {
		return r.result(target, c, false, fmt.Sprintf(r.emptyMsg, name)), nil
	}
	for _, m := range t.Modules {
		if m.ModName == r.modName {
			return r.result(target, c, true, fmt.Sprintf(r.foundMsg, name)), nil
		}
	}
	return r.result(target, c, false, fmt.Sprintf(r.notFoundMsg, name)), nil
}

func (r *moduleExistence) Action(res *Result) *Action {
	if res == nil || res.Status || res.RuleKey != r.key {
		return nil
	}
	return &Action{
		Label:    r.label,
		Endpoint: r.endpoint,
		Params: map[string]string{
			"sectionid": strconv.FormatInt(res.TargetID, 10),
			"courseid":  strconv.FormatInt(res.CourseID, 10),
		},
	}
}

// NewHasLabel checks that a section contains a label introducing it.
func NewHasLabel() Rule {
	return &moduleExistence{
		base: base{
			key:        "has_label",
			name:       "Section label",
			targetType: TargetSection,
			category:   CategoryHint,
		},
		modName:     "label",
		label:       "Add label",
		endpoint:    EndpointAddLabel,
		emptyMsg:    "Section %q is empty. Add a label to introduce the section.",
		notFoundMsg: "Section %q has no label introducing its content.",
		foundMsg:    "Section %q has a label.",
	}
}

// NewSectionHasQuiz checks that a section contains a quiz.
func NewSectionHasQuiz() Rule {
	return &moduleExistence{
		base: base{
			key:        "section_has_quiz",
			name:       "Section quiz",
			targetType: TargetSection,
			category:   CategoryAction,
		},
		modName:     "quiz",
		label:       "Add quiz",
		endpoint:    EndpointManageQuiz,
		emptyMsg:    "Section %q is empty, so there is no quiz to check understanding.",
		notFoundMsg: "Section %q has no quiz to check understanding.",
		foundMsg:    "Section %q contains a quiz.",
	}
}

// richText renders stored rich-text fields. Entities are decoded on the way,
// so a summary made of &#160; or &ensp; alone renders as whitespace.
var richText = md.NewConverter("", true, nil)

// visibleText returns the text a learner would see in a rich-text field.
func visibleText(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	out, err := richText.ConvertString(s)
	if err != nil {
		return "", err
	}
	return strings.TrimFunc(out, unicode.IsSpace), nil
}
