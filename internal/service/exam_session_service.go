package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/checksum"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/repository"
)

// Exam session errors.
var (
	ErrExamWindowClosed  = errors.New("exam window is closed")
	ErrSessionNotStarted = errors.New("exam session not started")
	ErrAlreadySubmitted  = errors.New("exam already submitted")
	ErrChecksumMismatch  = errors.New("answer checksum mismatch")
	ErrUnknownQuestion   = errors.New("question does not belong to exam")
)

// submittedMarkerTTL bounds how long the submitted marker outlives the exam.
const submittedMarkerTTL = 48 * time.Hour

// ExamSessionService owns a student's attempt: the start gate, the
// authoritative clock, single-answer saves and the final submission.
type ExamSessionService struct {
	sessionRepo *repository.ExamSessionRepository
	answerRepo  *repository.AnswerRepository
	examSvc     *ExamService
	tokens      *AccessTokenService
	rdb         *redis.Client
	log         zerolog.Logger
	now         func() time.Time
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(
	sessionRepo *repository.ExamSessionRepository,
	answerRepo *repository.AnswerRepository,
	examSvc *ExamService,
	tokens *AccessTokenService,
	rdb *redis.Client,
	log zerolog.Logger,
) *ExamSessionService {
	return &ExamSessionService{
		sessionRepo: sessionRepo,
		answerRepo:  answerRepo,
		examSvc:     examSvc,
		tokens:      tokens,
		rdb:         rdb,
		log:         log.With().Str("component", "exam_session_service").Logger(),
		now:         time.Now,
	}
}

// StartExam checks the access token and creates the attempt. Calling it again
// for an attempt that already exists returns that attempt unchanged, so the
// start time never moves.
func (s *ExamSessionService) StartExam(ctx context.Context, examID uuid.UUID, studentID int, token string) (*model.ExamSession, error) {
	exam, err := s.examSvc.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotPublished
	}
	if err := s.tokens.Validate(ctx, examID.String(), token); err != nil {
		return nil, err
	}

	existing, err := s.sessionRepo.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing session: %w", err)
	}

	// IDEMPOTENCY CHECK: a second device or a retried request gets the same attempt.
	if existing != nil {
		if existing.Status == model.SessionStatusSubmitted {
			return existing, ErrAlreadySubmitted
		}
		s.pinStart(ctx, existing)
		return existing, nil
	}

	if !exam.OpenAt(s.now()) {
		return nil, ErrExamWindowClosed
	}

	session := &model.ExamSession{ExamID: examID, StudentID: studentID}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Concurrent start detected.
			existing, fetchErr := s.sessionRepo.GetByExamAndStudent(ctx, examID, studentID)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", fetchErr)
			}
			s.pinStart(ctx, existing)
			return existing, nil
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.pinStart(ctx, session)
	s.log.Info().
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Msg("Exam started")
	return session, nil
}

// pinStart caches the authoritative start time. Failures only cost a
// database round trip later.
func (s *ExamSessionService) pinStart(ctx context.Context, sess *model.ExamSession) {
	key := config.CacheKey.StudentExamSessionStartKey(sess.ExamID.String(), sess.StudentID)
	if err := s.rdb.Set(ctx, key, sess.StartedAt.Unix(), 0).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cache start time")
	}
}

// ExamDetail returns the exam as the student sees it, plus the state of
// their attempt and every answer the server holds for it.
func (s *ExamSessionService) ExamDetail(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamDetail, error) {
	payload, err := s.examSvc.GetExamPayload(ctx, examID)
	if err != nil {
		return nil, err
	}
	detail := &model.ExamDetail{ExamPayload: *payload}

	sess, err := s.sessionRepo.GetByExamAndStudent(ctx, examID, studentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return detail, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	detail.Attempt = sess.Info()

	saved, err := s.answerRepo.ListBySession(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	// Redis holds autosaves the worker has not flushed yet; they are newer.
	if sess.Status != model.SessionStatusSubmitted {
		cached, err := s.rdb.HGetAll(ctx, config.CacheKey.StudentAnswersKey(examID.String(), studentID)).Result()
		if err != nil {
			return nil, fmt.Errorf("get cached answers: %w", err)
		}
		for qid, raw := range cached {
			var v model.AnswerValue
			if err := json.Unmarshal([]byte(raw), &v); err != nil {
				s.log.Warn().Err(err).Str("question_id", qid).Msg("Skipping malformed cached answer")
				continue
			}
			saved[qid] = v
		}
	}
	detail.SavedAnswers = saved
	return detail, nil
}

// RemainingTime reads the server clock for one attempt.
func (s *ExamSessionService) RemainingTime(ctx context.Context, examID uuid.UUID, studentID int) (*model.RemainingTime, error) {
	payload, err := s.examSvc.GetExamPayload(ctx, examID)
	if err != nil {
		return nil, err
	}
	start, err := s.startTime(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}
	rt := ComputeRemaining(start, payload.Duration, payload.ScheduledEnd, s.now())
	return &rt, nil
}

// ComputeRemaining derives the remaining time from the start time, the
// duration and the end of the exam window, whichever ends first.
func ComputeRemaining(start time.Time, durationMinutes int, windowEnd *time.Time, now time.Time) model.RemainingTime {
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	if windowEnd != nil && windowEnd.Before(end) {
		end = *windowEnd
	}
	remaining := int(end.Sub(now) / time.Second)
	if remaining < 0 {
		remaining = 0
	}
	return model.RemainingTime{
		RemainingSeconds: remaining,
		IsExpired:        remaining == 0,
		StartedAt:        start,
		EndsAt:           end,
	}
}

// startTime reads the pinned start from Redis, falling back to PostgreSQL
// and re-pinning on a miss.
func (s *ExamSessionService) startTime(ctx context.Context, examID uuid.UUID, studentID int) (time.Time, error) {
	key := config.CacheKey.StudentExamSessionStartKey(examID.String(), studentID)
	val, err := s.rdb.Get(ctx, key).Result()
	if err == nil {
		unix, perr := strconv.ParseInt(val, 10, 64)
		if perr == nil {
			return time.Unix(unix, 0), nil
		}
		s.log.Warn().Str("value", val).Msg("Invalid start time in cache, reloading")
	} else if !errors.Is(err, redis.Nil) {
		return time.Time{}, fmt.Errorf("redis error getting start time: %w", err)
	}

	sess, err := s.sessionRepo.GetByExamAndStudent(ctx, examID, studentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrSessionNotStarted
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get session: %w", err)
	}
	s.pinStart(ctx, sess)
	return sess.StartedAt, nil
}

// questionTypes maps the exam's question ids to their types.
func (s *ExamSessionService) questionTypes(ctx context.Context, examID uuid.UUID) (map[string]model.QuestionType, error) {
	payload, err := s.examSvc.GetExamPayload(ctx, examID)
	if err != nil {
		return nil, err
	}
	types := make(map[string]model.QuestionType, len(payload.Questions))
	for _, q := range payload.Questions {
		types[q.ID.String()] = q.QuestionType
	}
	return types, nil
}

// SaveAnswer is the idempotent single-answer upsert. The answer lands in the
// Redis hash immediately; the autosave worker moves it to PostgreSQL.
func (s *ExamSessionService) SaveAnswer(ctx context.Context, examID uuid.UUID, studentID int, questionID uuid.UUID, req model.SaveAnswerRequest) error {
	types, err := s.questionTypes(ctx, examID)
	if err != nil {
		return err
	}
	qt, ok := types[questionID.String()]
	if !ok {
		return ErrUnknownQuestion
	}
	if qt != req.QuestionType {
		return fmt.Errorf("%w: question is %s", model.ErrInvalidAnswer, qt)
	}
	if err := req.Answer.Validate(qt); err != nil {
		return err
	}

	if err := s.EnsureWritable(ctx, examID, studentID); err != nil {
		return err
	}

	answerJSON, err := json.Marshal(req.Answer)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	queued, err := json.Marshal(model.PersistAnswerMessage{
		StudentID: studentID,
		ExamID:    examID.String(),
		QID:       questionID.String(),
		Answer:    req.Answer,
	})
	if err != nil {
		return fmt.Errorf("marshal queue payload: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, config.CacheKey.StudentAnswersKey(examID.String(), studentID), questionID.String(), answerJSON)
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, queued)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache answer: %w", err)
	}
	return nil
}

// EnsureWritable reports whether the attempt still accepts answers: it must
// have been started and not yet submitted.
func (s *ExamSessionService) EnsureWritable(ctx context.Context, examID uuid.UUID, studentID int) error {
	submitted, err := s.rdb.Exists(ctx, config.CacheKey.StudentSubmittedKey(examID.String(), studentID)).Result()
	if err != nil {
		return fmt.Errorf("check submitted: %w", err)
	}
	if submitted > 0 {
		return ErrAlreadySubmitted
	}
	_, err = s.startTime(ctx, examID, studentID)
	return err
}

// Submit stores the final answer set. It runs exactly once per attempt; later
// calls get ErrAlreadySubmitted together with the original result.
func (s *ExamSessionService) Submit(ctx context.Context, examID uuid.UUID, studentID int, req model.SubmitRequest) (*model.SubmitResult, error) {
	if !checksum.Verify(req.Answers, req.Checksum) {
		return nil, ErrChecksumMismatch
	}

	types, err := s.questionTypes(ctx, examID)
	if err != nil {
		return nil, err
	}
	rows := make([]repository.AnswerRow, 0, len(req.Answers))
	for qid, v := range req.Answers {
		qt, ok := types[qid]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, qid)
		}
		if err := v.Validate(qt); err != nil {
			return nil, fmt.Errorf("question %s: %w", qid, err)
		}
		rows = append(rows, repository.AnswerRow{
			ExamID:     examID,
			StudentID:  studentID,
			QuestionID: uuid.MustParse(qid),
			Answer:     v,
		})
	}

	sess, err := s.sessionRepo.Submit(ctx, examID, studentID, rows, req.Checksum, req.ClientTimestamp)
	switch {
	case errors.Is(err, repository.ErrSessionSubmitted):
		return s.result(sess, len(req.Answers)), ErrAlreadySubmitted
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrSessionNotStarted
	case err != nil:
		return nil, fmt.Errorf("submit: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.StudentSubmittedKey(examID.String(), studentID), sess.SubmittedAt.Unix(), submittedMarkerTTL)
	pipe.Del(ctx, config.CacheKey.StudentAnswersKey(examID.String(), studentID))
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Failed to update cache after submission")
	}

	s.log.Info().
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Int("answered", model.Answered(req.Answers)).
		Msg("Exam submitted")
	return s.result(sess, model.Answered(req.Answers)), nil
}

func (s *ExamSessionService) result(sess *model.ExamSession, answered int) *model.SubmitResult {
	res := &model.SubmitResult{ExamID: sess.ExamID, Answered: answered}
	if sess.SubmittedAt != nil {
		res.SubmittedAt = *sess.SubmittedAt
	}
	return res
}
