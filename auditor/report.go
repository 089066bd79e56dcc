package auditor

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/liamcoop/courseaudit/rules"
)

// StepType selects how a tour step is attached to the page.
type StepType string

const (
	StepCourse  StepType = "course"
	StepSection StepType = "section"
	StepModule  StepType = "mod"
)

// SectionSelector is the CSS selector of a section on the course page.
func SectionSelector(number int) string {
	return fmt.Sprintf("#section-%d", number)
}

// ModuleSelector is the CSS selector of a course module on the course page.
func ModuleSelector(cmID int64) string {
	return fmt.Sprintf("#module-%d", cmID)
}

// Step is one guided tour step. Target is empty for unattached steps.
type Step struct {
	Type     StepType `json:"type"`
	Title    string   `json:"title"`
	Target   string   `json:"target,omitempty"`
	TargetID int64    `json:"targetid"`
	Content  string   `json:"content"`
}

// Report is the outcome of auditing a course.
type Report struct {
	CourseID   int64          `json:"course_id"`
	CourseName string         `json:"course_name"`
	Steps      []Step         `json:"tour_details"`
	Results    []rules.Result `json:"results"`
	Actions    *ActionMap     `json:"action_details_map"`
}

func (r *Report) add(step Step, results []rules.Result, resolver *ActionResolver) {
	r.Steps = append(r.Steps, step)
	r.Results = append(r.Results, results...)
	for _, res := range results {
		if d, ok := resolver.ActionFor(res); ok {
			r.Actions.Add(d)
		}
	}
}

// Failed counts the failed results.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.Status {
			n++
		}
	}
	return n
}

var categoryTitles = map[rules.Category]string{
	rules.CategoryHint:         "Hints",
	rules.CategoryAction:       "Suggested actions",
	rules.CategoryActivityType: "Activity checks",
	rules.CategoryActivityFlow: "Activity flow",
}

// CategoryTitle returns the display title of a category.
func CategoryTitle(c rules.Category) string {
	if title, ok := categoryTitles[c]; ok {
		return title
	}
	return string(c)
}

var stepTemplate = template.Must(template.New("step").Parse(`<div class="courseaudit-step">
{{- range .Groups}}
<h5>{{.Title}}</h5>
<ul>
{{- range .Items}}
<li class="courseaudit-result courseaudit-{{if .Status}}pass{{else}}fail{{end}}">
<strong>{{if .Anchor}}<a href="{{.Anchor}}">{{.Name}}</a>{{else}}{{.Name}}{{end}}</strong>
{{- range .Messages}} <span>{{.}}</span>{{end}}
{{- if .MapKey}} <button type="button" class="courseaudit-action" data-mapkey="{{.MapKey}}">{{.Label}}</button>{{end}}
</li>
{{- end}}
</ul>
{{- else}}
<p>No checks apply here.</p>
{{- end}}
</div>`))

type stepItem struct {
	Name     string
	Anchor   string
	Status   bool
	Messages []string
	MapKey   string
	Label    string
}

type stepGroup struct {
	Title string
	Items []stepItem
}

func buildStep(typ StepType, title, target string, targetID int64, results []rules.Result, resolver *ActionResolver) (Step, error) {
	var groups []stepGroup
	for _, category := range rules.Categories {
		var items []stepItem
		for _, res := range results {
			if res.RuleCategory != category {
				continue
			}
			item := stepItem{Name: res.RuleName, Status: res.Status, Messages: res.Messages}
			if res.TargetType == rules.TargetModule {
				item.Anchor = ModuleSelector(res.TargetID)
			}
			if d, ok := resolver.ActionFor(res); ok {
				item.MapKey, item.Label = d.MapKey, d.Label
			}
			items = append(items, item)
		}
		if len(items) > 0 {
			groups = append(groups, stepGroup{Title: CategoryTitle(category), Items: items})
		}
	}

	var buf bytes.Buffer
	if err := stepTemplate.Execute(&buf, struct{ Groups []stepGroup }{groups}); err != nil {
		return Step{}, fmt.Errorf("failed to render step %q: %w", title, err)
	}
	return Step{Type: typ, Title: title, Target: target, TargetID: targetID, Content: buf.String()}, nil
}
