// Package remediation applies the one-click fixes offered next to failed
// audit results. Every operation reads and validates the current state first
// and then performs a single write through course.Writer.
package remediation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/liamcoop/courseaudit/conditions"
	"github.com/liamcoop/courseaudit/course"
	"github.com/liamcoop/courseaudit/internal/logger"
	"github.com/liamcoop/courseaudit/internal/metrics"
	"github.com/liamcoop/courseaudit/rules"
)

// ErrInvalidInput is returned when a request is rejected before any write.
var ErrInvalidInput = course.ErrInvalidInput

// Response is the reply of every remediation endpoint.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ActionSource looks up stored rule actions. conditions.Store satisfies it.
type ActionSource interface {
	Action(ctx context.Context, id int64) (*conditions.Action, error)
}

// Invalidator drops cached analyses after a course changed.
type Invalidator func(ctx context.Context, courseID int64)

const targetsSchemaURL = "https://courseaudit.local/schemas/rule-action-targets.schema.json"

// targetsSchema constrains the symbolic target map of execute_rule_action.
const targetsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "minProperties": 1,
  "propertyNames": {"enum": ["COURSE", "SECTION", "MODULE"]},
  "additionalProperties": {"type": "integer", "minimum": 1}
}`

// Service runs remediation operations.
type Service struct {
	store      course.Store
	actions    ActionSource
	schema     *jsonschema.Schema
	invalidate Invalidator
	metrics    *metrics.Collector
}

// Option configures a Service.
type Option func(*Service)

// WithInvalidator registers a callback run after every successful write.
func WithInvalidator(fn Invalidator) Option {
	return func(s *Service) { s.invalidate = fn }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService compiles the target map schema and returns a Service.
func NewService(store course.Store, actions ActionSource, opts ...Option) (*Service, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(targetsSchemaURL, strings.NewReader(targetsSchema)); err != nil {
		return nil, fmt.Errorf("failed to load targets schema: %w", err)
	}
	schema, err := c.Compile(targetsSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile targets schema: %w", err)
	}

	s := &Service{store: store, actions: actions, schema: schema}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AddLabel appends a label introducing the section.
func (s *Service) AddLabel(ctx context.Context, sectionID, courseID int64) (*Response, error) {
	return s.record(ctx, rules.EndpointAddLabel, courseID, func() (string, error) {
		sec, err := s.section(ctx, sectionID, courseID)
		if err != nil {
			return "", err
		}
		name := sec.DisplayName()
		if _, err := s.store.AddModule(ctx, sec.ID, "label", "About "+name, map[string]string{
			"intro": fmt.Sprintf("<p>This section covers %s.</p>", name),
		}); err != nil {
			return "", fmt.Errorf("failed to add label: %w", err)
		}
		return fmt.Sprintf("Label added to section %q.", name), nil
	})
}

// AddQuiz appends a quiz that allows unlimited attempts to the section.
func (s *Service) AddQuiz(ctx context.Context, sectionID, courseID int64) (*Response, error) {
	return s.record(ctx, rules.EndpointManageQuiz, courseID, func() (string, error) {
		sec, err := s.section(ctx, sectionID, courseID)
		if err != nil {
			return "", err
		}
		name := sec.DisplayName()
		if _, err := s.store.AddModule(ctx, sec.ID, "quiz", "Quiz: "+name, map[string]string{
			"attempts": rules.UnlimitedAttempts,
		}); err != nil {
			return "", fmt.Errorf("failed to add quiz: %w", err)
		}
		return fmt.Sprintf("Quiz added to section %q.", name), nil
	})
}

// EnableUnlimitedAttempts removes the attempt limit of a quiz.
func (s *Service) EnableUnlimitedAttempts(ctx context.Context, cmID, courseID int64) (*Response, error) {
	return s.record(ctx, rules.EndpointEnableRepeatable, courseID, func() (string, error) {
		m, err := s.module(ctx, cmID, courseID)
		if err != nil {
			return "", err
		}
		if m.ModName != "quiz" {
			return "", fmt.Errorf("%w: module %d is a %s, not a quiz", ErrInvalidInput, cmID, m.ModName)
		}
		if err := s.store.SetSetting(ctx, m.Ref(), "attempts", rules.UnlimitedAttempts); err != nil {
			return "", fmt.Errorf("failed to update quiz attempts: %w", err)
		}
		return fmt.Sprintf("Quiz %q now allows unlimited attempts.", m.Name), nil
	})
}

// ExecuteRuleAction runs a stored action. targetsJSON maps symbolic target
// types to entity ids, for example {"SECTION":12}.
func (s *Service) ExecuteRuleAction(ctx context.Context, actionID, courseID int64, targetsJSON string) (*Response, error) {
	return s.record(ctx, conditions.EndpointExecuteRuleAction, courseID, func() (string, error) {
		targets, err := s.parseTargets(targetsJSON)
		if err != nil {
			return "", err
		}
		action, err := s.actions.Action(ctx, actionID)
		if err != nil {
			return "", fmt.Errorf("failed to load action %d: %w", actionID, err)
		}
		id, ok := targets[string(action.TargetType)]
		if !ok {
			return "", fmt.Errorf("%w: targets do not name a %s", ErrInvalidInput, action.TargetType)
		}

		switch action.ActionType {
		case conditions.ActionChangeSetting:
			ref, err := s.ref(ctx, action.TargetType, id, courseID)
			if err != nil {
				return "", err
			}
			if err := s.store.SetSetting(ctx, ref, action.SettingName, action.SettingValue); err != nil {
				return "", fmt.Errorf("failed to change setting %s: %w", action.SettingName, err)
			}
			return fmt.Sprintf("Setting %s changed to %q.", action.SettingName, action.SettingValue), nil

		case conditions.ActionAddContent:
			if action.TargetType != conditions.TargetSection || action.ContentChildType != conditions.TargetModule {
				return "", fmt.Errorf("%w: action %d cannot add %s content to a %s", ErrInvalidInput, actionID, action.ContentChildType, action.TargetType)
			}
			sec, err := s.section(ctx, id, courseID)
			if err != nil {
				return "", err
			}
			name := action.Label
			if name == "" {
				name = action.ContentChildIdentifier
			}
			if _, err := s.store.AddModule(ctx, sec.ID, action.ContentChildIdentifier, name, action.InitialSettings); err != nil {
				return "", fmt.Errorf("failed to add %s: %w", action.ContentChildIdentifier, err)
			}
			return fmt.Sprintf("Added %s to section %q.", action.ContentChildIdentifier, sec.DisplayName()), nil
		}
		return "", fmt.Errorf("%w: unknown action type %q", ErrInvalidInput, action.ActionType)
	})
}

// record runs op, converts its outcome into a Response and records metrics.
func (s *Service) record(ctx context.Context, endpoint string, courseID int64, op func() (string, error)) (*Response, error) {
	start := time.Now()
	msg, err := op()
	s.metrics.ObserveRemediation(endpoint, err == nil)
	if err != nil {
		logger.Warn("Remediation rejected",
			"endpoint", endpoint, "course_id", courseID, "error", err)
		return &Response{Success: false, Message: err.Error()}, err
	}

	if s.invalidate != nil {
		s.invalidate(ctx, courseID)
	}
	logger.Info("Remediation applied",
		"endpoint", endpoint, "course_id", courseID, "duration_ms", time.Since(start).Milliseconds())
	return &Response{Success: true, Message: msg}, nil
}

func (s *Service) parseTargets(raw string) (map[string]int64, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: targets are not valid JSON: %v", ErrInvalidInput, err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: invalid targets: %v", ErrInvalidInput, err)
	}

	var targets map[string]int64
	if err := json.Unmarshal([]byte(raw), &targets); err != nil {
		return nil, fmt.Errorf("%w: invalid targets: %v", ErrInvalidInput, err)
	}
	return targets, nil
}

func (s *Service) ref(ctx context.Context, typ conditions.TargetType, id, courseID int64) (course.Ref, error) {
	switch typ {
	case conditions.TargetCourse:
		if id != courseID {
			return course.Ref{}, fmt.Errorf("%w: course %d does not match request course %d", ErrInvalidInput, id, courseID)
		}
		if _, err := s.store.Course(ctx, id); err != nil {
			return course.Ref{}, fmt.Errorf("failed to load course: %w", err)
		}
		return course.Ref{Type: course.EntityCourse, ID: id}, nil
	case conditions.TargetSection:
		sec, err := s.section(ctx, id, courseID)
		if err != nil {
			return course.Ref{}, err
		}
		return course.Ref{Type: course.EntitySection, ID: sec.ID}, nil
	case conditions.TargetModule:
		m, err := s.module(ctx, id, courseID)
		if err != nil {
			return course.Ref{}, err
		}
		return m.Ref(), nil
	}
	return course.Ref{}, fmt.Errorf("%w: unsupported target type %q", ErrInvalidInput, typ)
}

func (s *Service) section(ctx context.Context, sectionID, courseID int64) (*course.Section, error) {
	if sectionID <= 0 || courseID <= 0 {
		return nil, fmt.Errorf("%w: section and course ids are required", ErrInvalidInput)
	}
	sec, err := s.store.Section(ctx, sectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load section: %w", err)
	}
	if sec.CourseID != courseID {
		return nil, fmt.Errorf("%w: section %d does not belong to course %d", ErrInvalidInput, sectionID, courseID)
	}
	return sec, nil
}

func (s *Service) module(ctx context.Context, cmID, courseID int64) (*course.Module, error) {
	if cmID <= 0 || courseID <= 0 {
		return nil, fmt.Errorf("%w: module and course ids are required", ErrInvalidInput)
	}
	m, err := s.store.Module(ctx, cmID)
	if err != nil {
		return nil, fmt.Errorf("failed to load module: %w", err)
	}
	if m.CourseID != courseID {
		return nil, fmt.Errorf("%w: module %d does not belong to course %d", ErrInvalidInput, cmID, courseID)
	}
	if m.DeletionInProgress {
		return nil, fmt.Errorf("module %d: %w", cmID, course.ErrNotFound)
	}
	return m, nil
}

// IsNotFound reports whether err names a missing course entity or action.
func IsNotFound(err error) bool {
	return errors.Is(err, course.ErrNotFound) || errors.Is(err, conditions.ErrNotFound)
}
