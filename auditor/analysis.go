package auditor

import (
	"context"
	"encoding/json"
	"math"

	"github.com/liamcoop/courseaudit/internal/logger"
	"github.com/liamcoop/courseaudit/rules"
)

// Outcome is one rule result as shown in the section analysis panel.
type Outcome struct {
	Status       bool           `json:"status"`
	Messages     []string       `json:"messages"`
	RuleName     string         `json:"rule_name"`
	RuleCategory rules.Category `json:"rule_category"`
}

// Stats counts passed and failed results. SuccessRate is a percentage
// rounded to one decimal.
type Stats struct {
	Passed      int     `json:"passed"`
	Failed      int     `json:"failed"`
	Total       int     `json:"total"`
	SuccessRate float64 `json:"success_rate"`
}

func (s *Stats) add(passed bool) {
	s.Total++
	if passed {
		s.Passed++
	} else {
		s.Failed++
	}
	s.SuccessRate = math.Round(float64(s.Passed)*1000/float64(s.Total)) / 10
}

// CategoryAnalysis groups the results of one category.
type CategoryAnalysis struct {
	Results []Outcome `json:"results"`
	Stats   Stats     `json:"stats"`
	Title   string    `json:"title"`
}

// SectionAnalysis summarises the activity checks of one section.
type SectionAnalysis struct {
	SectionID         int64            `json:"section_id"`
	SectionName       string           `json:"section_name"`
	SectionNumber     int              `json:"section_number"`
	CourseID          int64            `json:"course_id"`
	CourseShortName   string           `json:"course_shortname"`
	ActivityTypeRules CategoryAnalysis `json:"activity_type_rules"`
	ActivityFlowRules CategoryAnalysis `json:"activity_flow_rules"`
	OverallStats      Stats            `json:"overall_stats"`
}

// SectionAnalysis audits one section and summarises its activity type and
// activity flow results. Analyses are served from the cache when one is
// configured; cache failures fall back to a fresh audit.
func (a *Auditor) SectionAnalysis(ctx context.Context, sectionID int64) (*SectionAnalysis, error) {
	sec, err := a.reader.Section(ctx, sectionID)
	if err != nil {
		return nil, err
	}

	if a.cache != nil {
		data, ok, err := a.cache.Get(ctx, sec.CourseID, sec.ID)
		if err != nil {
			logger.Warn("Analysis cache read failed", "section_id", sec.ID, "error", err)
		}
		a.metrics.ObserveCacheLookup(ok)
		if ok {
			var cached SectionAnalysis
			if err := json.Unmarshal(data, &cached); err == nil {
				return &cached, nil
			}
			logger.Warn("Discarding undecodable cached analysis", "section_id", sec.ID)
		}
	}

	c, err := a.reader.Course(ctx, sec.CourseID)
	if err != nil {
		return nil, err
	}
	registry, err := a.Registry(ctx)
	if err != nil {
		return nil, err
	}
	results, err := a.auditSection(ctx, registry, c, sec)
	if err != nil {
		return nil, err
	}

	analysis := &SectionAnalysis{
		SectionID:         sec.ID,
		SectionName:       sec.DisplayName(),
		SectionNumber:     sec.Number,
		CourseID:          c.ID,
		CourseShortName:   c.ShortName,
		ActivityTypeRules: CategoryAnalysis{Results: []Outcome{}, Title: CategoryTitle(rules.CategoryActivityType)},
		ActivityFlowRules: CategoryAnalysis{Results: []Outcome{}, Title: CategoryTitle(rules.CategoryActivityFlow)},
	}
	for _, res := range results {
		var group *CategoryAnalysis
		switch res.RuleCategory {
		case rules.CategoryActivityType:
			group = &analysis.ActivityTypeRules
		case rules.CategoryActivityFlow:
			group = &analysis.ActivityFlowRules
		default:
			continue
		}
		group.Results = append(group.Results, Outcome{
			Status:       res.Status,
			Messages:     res.Messages,
			RuleName:     res.RuleName,
			RuleCategory: res.RuleCategory,
		})
		group.Stats.add(res.Status)
		analysis.OverallStats.add(res.Status)
	}

	if a.cache != nil {
		data, err := json.Marshal(analysis)
		if err == nil {
			err = a.cache.Set(ctx, c.ID, sec.ID, data)
		}
		if err != nil {
			logger.Warn("Analysis cache write failed", "section_id", sec.ID, "error", err)
		}
	}
	return analysis, nil
}

// InvalidateAnalyses drops the cached analyses of a course.
func (a *Auditor) InvalidateAnalyses(ctx context.Context, courseID int64) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Invalidate(ctx, courseID); err != nil {
		logger.Warn("Analysis cache invalidation failed", "course_id", courseID, "error", err)
	}
}

// InvalidateAllAnalyses drops every cached analysis. Stored definitions
// change the rule set of every course.
func (a *Auditor) InvalidateAllAnalyses(ctx context.Context) {
	if a.cache == nil {
		return
	}
	if err := a.cache.InvalidateAll(ctx); err != nil {
		logger.Warn("Analysis cache invalidation failed", "error", err)
	}
}
