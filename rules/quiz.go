package rules

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/liamcoop/courseaudit/course"
)

// UnlimitedAttempts is the stored attempts value meaning no limit.
const UnlimitedAttempts = "0"

// QuizIsRepeatable checks that a quiz allows unlimited attempts.
type QuizIsRepeatable struct {
	base
	reader course.Reader
}

func NewQuizIsRepeatable(reader course.Reader) *QuizIsRepeatable {
	return &QuizIsRepeatable{
		base: base{
			key:        "quiz_is_repeatable",
			name:       "Repeatable quiz",
			targetType: TargetModule,
			category:   CategoryActivityType,
		},
		reader: reader,
	}
}

func (r *QuizIsRepeatable) Check(ctx context.Context, target Target, c *course.Course) (*Result, error) {
	t, ok := target.(*ModuleTarget)
	if !ok || t.Module.ModName != "quiz" {
		return nil, nil
	}

	attempts, found, err := r.reader.Setting(ctx, t.Module.Ref(), "attempts")
	if errors.Is(err, course.ErrNotFound) {
		// Orphaned course module: the quiz instance record is gone.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read quiz attempts: %w", err)
	}
	attempts = strings.TrimSpace(attempts)
	if !found || attempts == "" || attempts == UnlimitedAttempts {
		return r.result(target, c, true,
			fmt.Sprintf("Quiz %q allows unlimited attempts.", t.Module.Name)), nil
	}

	unit := "attempts"
	if attempts == "1" {
		unit = "attempt"
	}
	return r.result(target, c, false,
		fmt.Sprintf("Quiz %q allows only %s %s. Learners cannot retry it to practise.", t.Module.Name, attempts, unit)), nil
}

func (r *QuizIsRepeatable) Action(res *Result) *Action {
	if res == nil || res.Status || res.RuleKey != r.key {
		return nil
	}
	return &Action{
		Label:    "Allow unlimited attempts",
		Endpoint: EndpointEnableRepeatable,
		Params: map[string]string{
			"cmid":     strconv.FormatInt(res.TargetID, 10),
			"courseid": strconv.FormatInt(res.CourseID, 10),
		},
	}
}

// QuizHasCompletion checks that completion tracking is enabled on a quiz.
type QuizHasCompletion struct {
	base
}

func NewQuizHasCompletion() *QuizHasCompletion {
	return &QuizHasCompletion{base{
		key:        "quiz_has_completion",
		name:       "Quiz completion tracking",
		targetType: TargetModule,
		category:   CategoryActivityType,
	}}
}

func (r *QuizHasCompletion) Check(_ context.Context, target Target, c *course.Course) (*Result, error) {
	t, ok := target.(*ModuleTarget)
	if !ok || t.Module.ModName != "quiz" {
		return nil, nil
	}
	if t.Module.Completion == 0 {
		return r.result(target, c, false,
			fmt.Sprintf("Quiz %q does not track completion, so other activities cannot depend on it.", t.Module.Name)), nil
	}
	return r.result(target, c, true,
		fmt.Sprintf("Quiz %q tracks completion.", t.Module.Name)), nil
}

func (r *QuizHasCompletion) Action(*Result) *Action { return nil }
