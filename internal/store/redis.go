package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/model"
)

// RedisStore keeps session state in a Redis instance local to the exam
// device (lab kiosks run one as a sidecar). Keys carry no TTL; they live until
// the session is cleared after submission.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) SaveAnswer(ctx context.Context, key, questionID string, v model.AnswerValue) error {
	if key == "" {
		return ErrInvalidKey
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}
	if err := s.rdb.HSet(ctx, config.CacheKey.LocalAnswersKey(key), questionID, raw).Err(); err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	return nil
}

func (s *RedisStore) Answers(ctx context.Context, key string) (map[string]model.AnswerValue, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	raw, err := s.rdb.HGetAll(ctx, config.CacheKey.LocalAnswersKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	answers := make(map[string]model.AnswerValue, len(raw))
	for qid, val := range raw {
		var v model.AnswerValue
		if err := json.Unmarshal([]byte(val), &v); err != nil {
			return nil, fmt.Errorf("decode answer %s: %w", qid, err)
		}
		answers[qid] = v
	}
	return answers, nil
}

func (s *RedisStore) SaveInputMode(ctx context.Context, key, questionID string, mode InputMode) error {
	if key == "" {
		return ErrInvalidKey
	}
	return s.rdb.HSet(ctx, config.CacheKey.LocalInputModesKey(key), questionID, string(mode)).Err()
}

func (s *RedisStore) InputModes(ctx context.Context, key string) (map[string]InputMode, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	raw, err := s.rdb.HGetAll(ctx, config.CacheKey.LocalInputModesKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("load input modes: %w", err)
	}
	modes := make(map[string]InputMode, len(raw))
	for qid, m := range raw {
		modes[qid] = InputMode(m)
	}
	return modes, nil
}

func (s *RedisStore) SaveQuestionOrder(ctx context.Context, key string, ids []string) error {
	if key == "" {
		return ErrInvalidKey
	}
	orderKey := config.CacheKey.LocalQuestionOrderKey(key)
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, orderKey)
	if len(args) > 0 {
		pipe.RPush(ctx, orderKey, args...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save question order: %w", err)
	}
	return nil
}

func (s *RedisStore) QuestionOrder(ctx context.Context, key string) ([]string, bool, error) {
	if key == "" {
		return nil, false, ErrInvalidKey
	}
	ids, err := s.rdb.LRange(ctx, config.CacheKey.LocalQuestionOrderKey(key), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("load question order: %w", err)
	}
	return ids, len(ids) > 0, nil
}

func (s *RedisStore) ClearQuestionOrder(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return s.rdb.Del(ctx, config.CacheKey.LocalQuestionOrderKey(key)).Err()
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return s.rdb.Del(ctx,
		config.CacheKey.LocalAnswersKey(key),
		config.CacheKey.LocalInputModesKey(key),
		config.CacheKey.LocalQuestionOrderKey(key),
	).Err()
}
