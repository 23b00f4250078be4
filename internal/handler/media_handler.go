package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-portal/internal/response"
	"github.com/stemsi/exstem-portal/internal/service"
)

// MediaHandler handles photo answers.
type MediaHandler struct {
	mediaService   *service.MediaService
	sessionService *service.ExamSessionService
}

// NewMediaHandler creates a new MediaHandler.
func NewMediaHandler(mediaService *service.MediaService, sessionService *service.ExamSessionService) *MediaHandler {
	return &MediaHandler{mediaService: mediaService, sessionService: sessionService}
}

// UploadPhoto godoc
// POST /api/v1/student/exams/:exam_id/photos
// Stores a photographed essay answer and returns its URL. The URL is then
// saved like any other answer.
func (h *MediaHandler) UploadPhoto(c *gin.Context) {
	claims, examID, ok := studentAndExam(c)
	if !ok {
		return
	}

	if err := h.sessionService.EnsureWritable(c.Request.Context(), examID, claims.UserID); err != nil {
		failWith(c, err)
		return
	}

	file, _, err := c.Request.FormFile("file")
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}
	defer file.Close()

	url, err := h.mediaService.SavePhoto(examID.String(), file)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"url": url})
}
