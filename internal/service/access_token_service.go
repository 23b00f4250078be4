package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/config"
)

// ErrInvalidAccessToken is returned when the token presented at the start
// gate matches neither the current nor the previous rotation.
var ErrInvalidAccessToken = errors.New("invalid access token")

// Ambiguous glyphs (0/O, 1/I/L) are left out; proctors read these aloud.
const accessTokenAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const accessTokenLength = 6

// AccessTokenService issues the rotating exam access tokens proctors hand
// out in the room.
type AccessTokenService struct {
	rdb      *redis.Client
	rotation time.Duration
	log      zerolog.Logger
}

// NewAccessTokenService creates a new AccessTokenService.
func NewAccessTokenService(rdb *redis.Client, rotation time.Duration, log zerolog.Logger) *AccessTokenService {
	return &AccessTokenService{
		rdb:      rdb,
		rotation: rotation,
		log:      log.With().Str("component", "access_token_service").Logger(),
	}
}

// Current returns the exam's current token, issuing one if none exists.
func (s *AccessTokenService) Current(ctx context.Context, examID string) (string, error) {
	tok, err := s.rdb.Get(ctx, config.CacheKey.ExamAccessTokenKey(examID)).Result()
	if err == nil {
		return tok, nil
	}
	if !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("get access token: %w", err)
	}
	return s.Rotate(ctx, examID)
}

// Rotate issues a new token and demotes the current one to previous. Both
// keys expire after two rotations so abandoned exams do not linger.
func (s *AccessTokenService) Rotate(ctx context.Context, examID string) (string, error) {
	next, err := generateAccessToken()
	if err != nil {
		return "", err
	}

	curKey := config.CacheKey.ExamAccessTokenKey(examID)
	prevKey := config.CacheKey.ExamPreviousAccessTokenKey(examID)
	ttl := 2 * s.rotation

	old, err := s.rdb.Get(ctx, curKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("get access token: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	if old != "" {
		pipe.Set(ctx, prevKey, old, ttl)
	}
	pipe.Set(ctx, curKey, next, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("store access token: %w", err)
	}

	s.log.Debug().Str("exam_id", examID).Msg("Access token rotated")
	return next, nil
}

// Validate accepts the current or the previous token, case-insensitively.
func (s *AccessTokenService) Validate(ctx context.Context, examID, token string) error {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" {
		return ErrInvalidAccessToken
	}

	vals, err := s.rdb.MGet(ctx,
		config.CacheKey.ExamAccessTokenKey(examID),
		config.CacheKey.ExamPreviousAccessTokenKey(examID),
	).Result()
	if err != nil {
		return fmt.Errorf("get access tokens: %w", err)
	}

	for _, v := range vals {
		stored, ok := v.(string)
		if ok && subtle.ConstantTimeCompare([]byte(stored), []byte(token)) == 1 {
			return nil
		}
	}
	return ErrInvalidAccessToken
}

func generateAccessToken() (string, error) {
	max := big.NewInt(int64(len(accessTokenAlphabet)))
	b := make([]byte, accessTokenLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate access token: %w", err)
		}
		b[i] = accessTokenAlphabet[n.Int64()]
	}
	return string(b), nil
}
