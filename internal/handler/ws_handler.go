package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/middleware"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/response"
	"github.com/stemsi/exstem-portal/internal/service"
	ws "github.com/stemsi/exstem-portal/internal/websocket"
)

// wsActionTimeout bounds the work done for one client message.
const wsActionTimeout = 15 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler serves the exam stream: the same autosave and submit operations
// as the REST endpoints, for clients that keep a socket open.
type WSHandler struct {
	sessionService *service.ExamSessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.ExamSessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// ExamWebSocketStream godoc
// WS /ws/v1/student/exams/:exam_id/stream
// Upgrades to WebSocket for autosave and submission.
func (h *WSHandler) ExamWebSocketStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exam ID"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	studentID := claims.UserID
	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("exam_id", examID.String()).
		Logger()

	// SECURITY: only a started, unsubmitted attempt may stream.
	if err := h.sessionService.EnsureWritable(c.Request.Context(), examID, studentID); err != nil {
		h.writeServiceError(conn, wsLog, err)
		return
	}

	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.RequestPayload
		err := ws.ReadJSON(conn, &msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), wsActionTimeout)
		switch msg.Action {
		case ws.ActionAutosave:
			h.handleAutosave(ctx, conn, wsLog, studentID, examID, &msg)
		case ws.ActionSubmit:
			h.handleSubmit(ctx, conn, wsLog, studentID, examID, &msg)
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong, Time: time.Now().UTC()})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, "", "unknown action: "+string(msg.Action))
		}
		cancel()
	}
}

// handleAutosave saves a single answer through the same path as the REST
// endpoint.
func (h *WSHandler) handleAutosave(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, studentID int, examID uuid.UUID, msg *ws.RequestPayload) {
	// SECURITY: Validate QID is a well-formed UUID to prevent Redis key injection.
	qid, err := uuid.Parse(msg.QID)
	if err != nil {
		ws.WriteError(conn, "INVALID_ID", "invalid q_id format")
		return
	}

	req := model.SaveAnswerRequest{QuestionType: msg.QuestionType, Answer: msg.Answer}
	if err := h.sessionService.SaveAnswer(ctx, examID, studentID, qid, req); err != nil {
		h.writeServiceError(conn, wsLog, err)
		return
	}

	ws.WriteTyped(conn, ws.SavedResponse{Event: ws.EventSaved, QID: qid.String()})
}

// handleSubmit runs the one-shot submission. A duplicate is reported as a
// submitted event with already_submitted set.
func (h *WSHandler) handleSubmit(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, studentID int, examID uuid.UUID, msg *ws.RequestPayload) {
	req := model.SubmitRequest{
		Answers:         msg.Answers,
		Checksum:        msg.Checksum,
		ClientTimestamp: msg.ClientTimestamp,
	}

	result, err := h.sessionService.Submit(ctx, examID, studentID, req)
	switch {
	case errors.Is(err, service.ErrAlreadySubmitted) && result != nil:
		ws.WriteTyped(conn, ws.SubmittedResponse{Event: ws.EventSubmitted, Result: *result, AlreadySubmitted: true})
	case err != nil:
		h.writeServiceError(conn, wsLog, err)
	default:
		ws.WriteTyped(conn, ws.SubmittedResponse{Event: ws.EventSubmitted, Result: *result})
	}
}

func (h *WSHandler) writeServiceError(conn *websocket.Conn, wsLog zerolog.Logger, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		wsLog.Error().Err(err).Msg("Stream action failed")
	}
	ws.WriteError(conn, string(code), response.GetMessage(code))
}
