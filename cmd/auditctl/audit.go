package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liamcoop/courseaudit/auditor"
)

// auditResult is the serialised form of one rule result.
type auditResult struct {
	RuleKey    string   `json:"rule_key" yaml:"rule_key"`
	RuleName   string   `json:"rule_name" yaml:"rule_name"`
	Category   string   `json:"category" yaml:"category"`
	TargetType string   `json:"target_type" yaml:"target_type"`
	TargetID   int64    `json:"target_id" yaml:"target_id"`
	Status     bool     `json:"status" yaml:"status"`
	Messages   []string `json:"messages" yaml:"messages"`
}

type auditAction struct {
	MapKey   string `json:"mapkey" yaml:"mapkey"`
	Label    string `json:"label" yaml:"label"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	Params   string `json:"params" yaml:"params"`
}

type auditOutput struct {
	CourseID   int64         `json:"course_id" yaml:"course_id"`
	CourseName string        `json:"course_name" yaml:"course_name"`
	Failed     int           `json:"failed" yaml:"failed"`
	Results    []auditResult `json:"results" yaml:"results"`
	Actions    []auditAction `json:"actions" yaml:"actions"`
}

func newAuditCmd(c *cli) *cobra.Command {
	var failedOnly bool

	cmd := &cobra.Command{
		Use:   "audit COURSE_ID",
		Short: "Audit a course without creating a tour",
		Long: `Run every built-in and stored rule against a course and print the
results. Nothing is written: no tour is created and no audit run is stored.
Use -o markdown to render the tour steps as a readable report.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			courseID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || courseID <= 0 {
				return fmt.Errorf("invalid course id %q", args[0])
			}
			format, err := parseOutputFormat(c.output)
			if err != nil {
				return err
			}

			env, err := c.environment(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			report, err := env.Auditor.AuditResults(cmd.Context(), courseID)
			if err != nil {
				return fmt.Errorf("auditing course %d: %w", courseID, err)
			}
			return printReport(cmd.OutOrStdout(), format, report, failedOnly)
		},
	}

	cmd.Flags().BoolVar(&failedOnly, "failed-only", false, "Only list failed checks (table, json and yaml output)")
	return cmd
}

func toAuditOutput(report *auditor.Report, failedOnly bool) auditOutput {
	out := auditOutput{
		CourseID:   report.CourseID,
		CourseName: report.CourseName,
		Failed:     report.Failed(),
		Results:    []auditResult{},
		Actions:    []auditAction{},
	}
	for _, res := range report.Results {
		if failedOnly && res.Status {
			continue
		}
		messages := res.Messages
		if messages == nil {
			messages = []string{}
		}
		out.Results = append(out.Results, auditResult{
			RuleKey:    res.RuleKey,
			RuleName:   res.RuleName,
			Category:   string(res.RuleCategory),
			TargetType: string(res.TargetType),
			TargetID:   res.TargetID,
			Status:     res.Status,
			Messages:   messages,
		})
	}
	for _, a := range report.Actions.List() {
		out.Actions = append(out.Actions, auditAction(a))
	}
	return out
}

func printReport(w io.Writer, format outputFormat, report *auditor.Report, failedOnly bool) error {
	switch format {
	case outputJSON:
		return printJSON(w, toAuditOutput(report, failedOnly))
	case outputYAML:
		return printYAML(w, toAuditOutput(report, failedOnly))
	case outputMarkdown:
		return printMarkdownReport(w, report)
	}

	out := toAuditOutput(report, failedOnly)
	rows := make([][]string, 0, len(out.Results))
	for _, res := range out.Results {
		status := "pass"
		if !res.Status {
			status = "FAIL"
		}
		rows = append(rows, []string{
			res.RuleKey,
			res.Category,
			fmt.Sprintf("%s/%d", res.TargetType, res.TargetID),
			status,
			truncate(strings.Join(res.Messages, " "), 60),
		})
	}
	if err := printTable(w, []string{"rule", "category", "target", "status", "message"}, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%s: %d of %d checks failed\n", out.CourseName, out.Failed, len(report.Results))
	return err
}

// printMarkdownReport renders each tour step as a markdown section.
func printMarkdownReport(w io.Writer, report *auditor.Report) error {
	converter := newMarkdownConverter()

	var b strings.Builder
	fmt.Fprintf(&b, "# Course audit: %s\n\n", report.CourseName)
	fmt.Fprintf(&b, "%d of %d checks failed.\n", report.Failed(), len(report.Results))
	for _, step := range report.Steps {
		body, err := converter.ConvertString(step.Content)
		if err != nil {
			return fmt.Errorf("converting step %q: %w", step.Title, err)
		}
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", step.Title, strings.TrimSpace(body))
	}

	if actions := report.Actions.List(); len(actions) > 0 {
		b.WriteString("\n## Suggested fixes\n\n")
		for _, a := range actions {
			fmt.Fprintf(&b, "- %s: `POST /api/v1/actions/%s?%s`\n", a.Label, a.Endpoint, a.Params)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
