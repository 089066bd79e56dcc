package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/liamcoop/courseaudit/auditor"
	"github.com/liamcoop/courseaudit/auditrun"
	"github.com/liamcoop/courseaudit/conditions"
	"github.com/liamcoop/courseaudit/course"
	"github.com/liamcoop/courseaudit/internal/logger"
	"github.com/liamcoop/courseaudit/remediation"
	"github.com/liamcoop/courseaudit/rules"
	"github.com/liamcoop/courseaudit/tour"
)

const noResultsMessage = "No audit results found"

// Tour handlers

func (s *Server) handleCreateTour(w http.ResponseWriter, r *http.Request) {
	courseID, err := pathID(r, "courseId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid course id", err)
		return
	}

	created, err := s.deps.Tours.CreateTour(r.Context(), courseID)
	if err != nil {
		logger.Error("Failed to create tour", "course_id", courseID, "error", err)
		respondJSON(w, statusFor(err), CreateTourResponse{
			Status:           false,
			Message:          "The course audit tour could not be created",
			TourData:         TourData{TourDetails: []auditor.Step{}, FilterNames: []string{}},
			ActionDetailsMap: auditor.NewActionMap(),
		})
		return
	}

	respondJSON(w, http.StatusOK, CreateTourResponse{
		Status:  true,
		Message: fmt.Sprintf("Tour created with %d failed checks", created.Report.Failed()),
		TourID:  created.TourID,
		TourData: TourData{
			TourDetails: created.Report.Steps,
			FilterNames: filterNames(created.Report),
		},
		ActionDetailsMap: created.Report.Actions,
	})
}

// filterNames lists the titles of the categories present in the report, in
// display order.
func filterNames(report *auditor.Report) []string {
	seen := make(map[rules.Category]bool)
	for _, res := range report.Results {
		seen[res.RuleCategory] = true
	}
	names := []string{}
	for _, c := range rules.Categories {
		if seen[c] {
			names = append(names, auditor.CategoryTitle(c))
		}
	}
	return names
}

func (s *Server) handleTourSummary(w http.ResponseWriter, r *http.Request) {
	tourID, err := pathID(r, "tourId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tour id", err)
		return
	}
	summary, err := s.deps.Tours.Summary(r.Context(), tourID)
	s.respondSummary(w, summary, err)
}

func (s *Server) handleCourseSummary(w http.ResponseWriter, r *http.Request) {
	courseID, err := pathID(r, "courseId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid course id", err)
		return
	}
	summary, err := s.deps.Tours.LatestSummary(r.Context(), courseID)
	s.respondSummary(w, summary, err)
}

func (s *Server) respondSummary(w http.ResponseWriter, summary *tour.Summary, err error) {
	if errors.Is(err, auditrun.ErrNotFound) {
		respondJSON(w, http.StatusNotFound, SummaryResponse{Status: false, Message: noResultsMessage, Data: []SummaryResult{}})
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load summary", err)
		return
	}

	resp := SummaryResponse{
		Status:  len(summary.Results) > 0,
		Message: noResultsMessage,
		TourID:  summary.Run.TourID,
		Data:    summaryResults(summary.Results),
	}
	if resp.Status {
		resp.Message = fmt.Sprintf("%d results found", len(summary.Results))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSectionAnalysis(w http.ResponseWriter, r *http.Request) {
	sectionID, err := pathID(r, "sectionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid section id", err)
		return
	}

	analysis, err := s.deps.Auditor.SectionAnalysis(r.Context(), sectionID)
	if err != nil {
		respondError(w, statusFor(err), "failed to analyse section", err)
		return
	}
	respondJSON(w, http.StatusOK, analysis)
}

// Remediation handlers. Parameters arrive form-encoded, exactly as emitted
// in the action descriptors.

func (s *Server) handleAddLabel(w http.ResponseWriter, r *http.Request) {
	ids, err := formIDs(r, "sectionid", "courseid")
	if err != nil {
		respondJSON(w, http.StatusBadRequest, remediation.Response{Message: err.Error()})
		return
	}
	resp, err := s.deps.Remediation.AddLabel(r.Context(), ids[0], ids[1])
	respondRemediation(w, resp, err)
}

func (s *Server) handleAddQuiz(w http.ResponseWriter, r *http.Request) {
	ids, err := formIDs(r, "sectionid", "courseid")
	if err != nil {
		respondJSON(w, http.StatusBadRequest, remediation.Response{Message: err.Error()})
		return
	}
	resp, err := s.deps.Remediation.AddQuiz(r.Context(), ids[0], ids[1])
	respondRemediation(w, resp, err)
}

func (s *Server) handleEnableRepeatable(w http.ResponseWriter, r *http.Request) {
	ids, err := formIDs(r, "cmid", "courseid")
	if err != nil {
		respondJSON(w, http.StatusBadRequest, remediation.Response{Message: err.Error()})
		return
	}
	resp, err := s.deps.Remediation.EnableUnlimitedAttempts(r.Context(), ids[0], ids[1])
	respondRemediation(w, resp, err)
}

func (s *Server) handleExecuteRuleAction(w http.ResponseWriter, r *http.Request) {
	ids, err := formIDs(r, "actionid", "courseid")
	if err != nil {
		respondJSON(w, http.StatusBadRequest, remediation.Response{Message: err.Error()})
		return
	}
	resp, err := s.deps.Remediation.ExecuteRuleAction(r.Context(), ids[0], ids[1], r.Form.Get("targets"))
	respondRemediation(w, resp, err)
}

func respondRemediation(w http.ResponseWriter, resp *remediation.Response, err error) {
	if err != nil {
		respondJSON(w, statusFor(err), resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Definition handlers

func (s *Server) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := s.deps.Library.Store().List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list definitions", err)
		return
	}
	if defs == nil {
		defs = []*conditions.Definition{}
	}
	respondJSON(w, http.StatusOK, DefinitionsListResponse{Definitions: defs})
}

func (s *Server) handleCreateDefinition(w http.ResponseWriter, r *http.Request) {
	var def conditions.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	def.ID = 0

	if err := s.deps.Library.Add(r.Context(), &def); err != nil {
		respondError(w, statusFor(err), "failed to add definition", err)
		return
	}
	respondJSON(w, http.StatusCreated, &def)
}

func (s *Server) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid definition id", err)
		return
	}
	def, err := s.deps.Library.Store().Get(r.Context(), id)
	if err != nil {
		respondError(w, statusFor(err), "definition not found", err)
		return
	}
	respondJSON(w, http.StatusOK, def)
}

func (s *Server) handleDeleteDefinition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid definition id", err)
		return
	}
	if err := s.deps.Library.Delete(r.Context(), id); err != nil {
		respondError(w, statusFor(err), "failed to delete definition", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvaluateDefinition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid definition id", err)
		return
	}
	courseID, err := strconv.ParseInt(r.URL.Query().Get("courseId"), 10, 64)
	if err != nil || courseID <= 0 {
		respondError(w, http.StatusBadRequest, "courseId is required", err)
		return
	}

	def, err := s.deps.Library.Store().Get(r.Context(), id)
	if err != nil {
		respondError(w, statusFor(err), "definition not found", err)
		return
	}
	ev, err := s.deps.Library.Evaluate(r.Context(), id, courseID)
	if err != nil {
		respondError(w, statusFor(err), "evaluation failed", err)
		return
	}
	respondJSON(w, http.StatusOK, EvaluateDefinitionResponse{
		DefinitionID: id,
		CourseID:     courseID,
		RuleKey:      def.Key,
		Evaluation:   ev,
	})
}

// Helper functions

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return id, nil
}

// formIDs reads positive integer parameters from the query or form body.
func formIDs(r *http.Request, names ...string) ([]int64, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid form: %w", err)
	}
	ids := make([]int64, len(names))
	for i, name := range names {
		id, err := strconv.ParseInt(r.Form.Get(name), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", name)
		}
		ids[i] = id
	}
	return ids, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, course.ErrNotFound),
		errors.Is(err, conditions.ErrNotFound),
		errors.Is(err, auditrun.ErrNotFound),
		errors.Is(err, tour.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, course.ErrInvalidInput),
		errors.Is(err, conditions.ErrInvalidDefinition):
		return http.StatusBadRequest
	case errors.Is(err, conditions.ErrAlreadyExists):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
