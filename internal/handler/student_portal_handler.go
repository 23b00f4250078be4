package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-portal/internal/middleware"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/response"
	"github.com/stemsi/exstem-portal/internal/service"
	"github.com/stemsi/exstem-portal/internal/validator"
)

// StudentPortalHandler handles student-facing endpoints (exam taking).
type StudentPortalHandler struct {
	sessionService *service.ExamSessionService
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(sessionService *service.ExamSessionService) *StudentPortalHandler {
	return &StudentPortalHandler{sessionService: sessionService}
}

// studentAndExam pulls the authenticated student and the :exam_id path param.
// On failure the response has already been written.
func studentAndExam(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, examID, true
}

// GetExamDetail godoc
// GET /api/v1/student/exams/:exam_id
// Returns the exam without answer keys, the attempt timestamps and every
// answer the server already holds. A page reload starts here.
func (h *StudentPortalHandler) GetExamDetail(c *gin.Context) {
	claims, examID, ok := studentAndExam(c)
	if !ok {
		return
	}

	detail, err := h.sessionService.ExamDetail(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, detail)
}

// StartExam godoc
// POST /api/v1/student/exams/:exam_id/start
// Validates the proctor's access token and creates the attempt (idempotent).
func (h *StudentPortalHandler) StartExam(c *gin.Context) {
	claims, examID, ok := studentAndExam(c)
	if !ok {
		return
	}

	var req model.StartExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, err := h.sessionService.StartExam(c.Request.Context(), examID, claims.UserID, req.Token)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": session.Info()})
}

// GetRemainingTime godoc
// GET /api/v1/student/exams/:exam_id/time
// Returns the authoritative remaining time of the attempt.
func (h *StudentPortalHandler) GetRemainingTime(c *gin.Context) {
	claims, examID, ok := studentAndExam(c)
	if !ok {
		return
	}

	remaining, err := h.sessionService.RemainingTime(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, remaining)
}

// SaveAnswer godoc
// PUT /api/v1/student/exams/:exam_id/answers/:question_id
// Idempotent upsert of a single answer. Repeating the request is harmless.
func (h *StudentPortalHandler) SaveAnswer(c *gin.Context) {
	claims, examID, ok := studentAndExam(c)
	if !ok {
		return
	}

	questionID, err := uuid.Parse(c.Param("question_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessionService.SaveAnswer(c.Request.Context(), examID, claims.UserID, questionID, req); err != nil {
		if errors.Is(err, model.ErrInvalidAnswer) {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{
				"answer": err.Error(),
			})
			return
		}
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"question_id": questionID})
}

// Submit godoc
// POST /api/v1/student/exams/:exam_id/submit
// One-shot final submission. A repeated call answers 409 EXAM_ALREADY_SUBMITTED,
// which clients treat as success.
func (h *StudentPortalHandler) Submit(c *gin.Context) {
	claims, examID, ok := studentAndExam(c)
	if !ok {
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.sessionService.Submit(c.Request.Context(), examID, claims.UserID, req)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}
