package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/response"
	"github.com/stemsi/exstem-portal/internal/service"
)

// classify maps a service error onto the HTTP status and error code the
// client expects. Unknown errors become 500 INTERNAL_ERROR.
func classify(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrExamNotPublished):
		return http.StatusNotFound, response.ErrExamNotAvailable
	case errors.Is(err, service.ErrNoQuestions):
		return http.StatusUnprocessableEntity, response.ErrNoQuestions
	case errors.Is(err, service.ErrInvalidAccessToken):
		return http.StatusForbidden, response.ErrInvalidAccessToken
	case errors.Is(err, service.ErrExamWindowClosed):
		return http.StatusForbidden, response.ErrExamWindowClosed
	case errors.Is(err, service.ErrSessionNotStarted):
		return http.StatusConflict, response.ErrExamNotStarted
	case errors.Is(err, service.ErrAlreadySubmitted):
		return http.StatusConflict, response.ErrExamAlreadySubmitted
	case errors.Is(err, service.ErrChecksumMismatch):
		return http.StatusUnprocessableEntity, response.ErrChecksumMismatch
	case errors.Is(err, service.ErrUnknownQuestion):
		return http.StatusUnprocessableEntity, response.ErrUnknownQuestion
	case errors.Is(err, model.ErrInvalidAnswer):
		return http.StatusBadRequest, response.ErrInvalidPayload
	case errors.Is(err, service.ErrUnsupportedFileType):
		return http.StatusUnsupportedMediaType, response.ErrUnsupportedFile
	case errors.Is(err, service.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, response.ErrFileTooLarge
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// failWith writes the error envelope for err.
func failWith(c *gin.Context, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	response.Fail(c, status, code)
}
