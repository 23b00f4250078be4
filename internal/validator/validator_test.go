package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

type startBody struct {
	Token string `json:"token" binding:"required,access_token"`
}

func TestBindAccessToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	Setup()

	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"valid upper", `{"token":"K7Q2XZ"}`, ""},
		{"valid lower", `{"token":"k7q2xz"}`, ""},
		{"missing", `{}`, "token"},
		{"too short", `{"token":"AB1"}`, "token"},
		{"symbols", `{"token":"AB-12!"}`, "token"},
		{"malformed json", `{"token":`, "detail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			c.Request.Header.Set("Content-Type", "application/json")

			var dst startBody
			fields := Bind(c, &dst)
			if tt.wantField == "" {
				if fields != nil {
					t.Fatalf("unexpected errors: %v", fields)
				}
				return
			}
			if _, ok := fields[tt.wantField]; !ok {
				t.Fatalf("fields = %v, want key %q", fields, tt.wantField)
			}
		})
	}
}
