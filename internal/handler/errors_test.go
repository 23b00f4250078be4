package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/response"
	"github.com/stemsi/exstem-portal/internal/service"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   response.ErrCode
	}{
		{service.ErrInvalidAccessToken, http.StatusForbidden, response.ErrInvalidAccessToken},
		{fmt.Errorf("submit: %w", service.ErrAlreadySubmitted), http.StatusConflict, response.ErrExamAlreadySubmitted},
		{service.ErrSessionNotStarted, http.StatusConflict, response.ErrExamNotStarted},
		{service.ErrExamWindowClosed, http.StatusForbidden, response.ErrExamWindowClosed},
		{fmt.Errorf("%w: abc", service.ErrUnknownQuestion), http.StatusUnprocessableEntity, response.ErrUnknownQuestion},
		{service.ErrChecksumMismatch, http.StatusUnprocessableEntity, response.ErrChecksumMismatch},
		{fmt.Errorf("q: %w", model.ErrInvalidAnswer), http.StatusBadRequest, response.ErrInvalidPayload},
		{service.ErrFileTooLarge, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge},
		{service.ErrExamNotPublished, http.StatusNotFound, response.ErrExamNotAvailable},
		{errors.New("connection reset"), http.StatusInternalServerError, response.ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, code := classify(tt.err)
			if status != tt.wantStatus || code != tt.wantCode {
				t.Fatalf("classify = (%d, %s), want (%d, %s)", status, code, tt.wantStatus, tt.wantCode)
			}
		})
	}
}
