package main

import (
	"github.com/liamcoop/courseaudit/auditor"
	"github.com/liamcoop/courseaudit/auditrun"
	"github.com/liamcoop/courseaudit/conditions"
)

// API request and response models

// TourData carries the steps of a freshly built tour
type TourData struct {
	TourDetails []auditor.Step `json:"tour_details"`
	FilterNames []string       `json:"filter_names" example:"Hints,Activity checks"`
} // @name TourData

// CreateTourResponse is returned by POST /courses/{courseId}/tour
type CreateTourResponse struct {
	Status           bool               `json:"status" example:"true"`
	Message          string             `json:"message" example:"Tour created"`
	TourID           int64              `json:"tourid,omitempty" example:"42"`
	TourData         TourData           `json:"tour_data"`
	ActionDetailsMap *auditor.ActionMap `json:"action_details_map"`
} // @name CreateTourResponse

// SummaryResult is one persisted rule result. Times are unix seconds.
type SummaryResult struct {
	ID           int64    `json:"id" example:"1"`
	AuditID      int64    `json:"auditid" example:"7"`
	RuleKey      string   `json:"rulekey" example:"has_label"`
	RuleCategory string   `json:"rulecategory" example:"hint"`
	Status       bool     `json:"status" example:"false"`
	Messages     []string `json:"messages"`
	TargetType   string   `json:"targettype" example:"section"`
	TargetID     int64    `json:"targetid" example:"12"`
	TimeCreated  int64    `json:"timecreated" example:"1700000000"`
} // @name SummaryResult

// SummaryResponse is returned by the summary endpoints
type SummaryResponse struct {
	Status  bool            `json:"status" example:"true"`
	Message string          `json:"message" example:"Results found"`
	TourID  int64           `json:"tourid,omitempty" example:"42"`
	Data    []SummaryResult `json:"data"`
} // @name SummaryResponse

// DefinitionsListResponse lists stored rule definitions
type DefinitionsListResponse struct {
	Definitions []*conditions.Definition `json:"definitions"`
} // @name DefinitionsListResponse

// EvaluateDefinitionResponse is the trace of one stored definition
type EvaluateDefinitionResponse struct {
	DefinitionID int64  `json:"definition_id" example:"3"`
	CourseID     int64  `json:"course_id" example:"1"`
	RuleKey      string `json:"rule_key" example:"course_has_quiz"`
	*conditions.Evaluation
} // @name EvaluateDefinitionResponse

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"invalid request body"`
	Details string `json:"details,omitempty" example:"unexpected end of JSON input"`
} // @name ErrorResponse

func summaryResults(results []auditrun.Result) []SummaryResult {
	out := make([]SummaryResult, 0, len(results))
	for _, r := range results {
		out = append(out, SummaryResult{
			ID:           r.ID,
			AuditID:      r.AuditID,
			RuleKey:      r.RuleKey,
			RuleCategory: r.RuleCategory,
			Status:       r.Status,
			Messages:     r.Messages,
			TargetType:   r.TargetType,
			TargetID:     r.TargetID,
			TimeCreated:  r.TimeCreated.Unix(),
		})
	}
	return out
}
