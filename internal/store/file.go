package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/stemsi/exstem-portal/internal/model"
)

// FileStore keeps one JSON document per session under a directory. Writes go
// to a temp file that is synced and renamed over the document.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

type document struct {
	Answers       map[string]model.AnswerValue `json:"answers"`
	InputModes    map[string]InputMode         `json:"input_modes"`
	QuestionOrder []string                     `json:"question_order,omitempty"`
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	name := strings.NewReplacer(":", "_", "/", "_", `\`, "_").Replace(key)
	return filepath.Join(s.dir, name+".json")
}

func (s *FileStore) load(key string) (*document, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	doc := &document{}
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return doc, nil
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}
	return doc, nil
}

func (s *FileStore) save(key string, doc *document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode session file: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

func (s *FileStore) update(key string, fn func(*document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(key)
	if err != nil {
		return err
	}
	fn(doc)
	return s.save(key, doc)
}

func (s *FileStore) SaveAnswer(_ context.Context, key, questionID string, v model.AnswerValue) error {
	return s.update(key, func(d *document) {
		if d.Answers == nil {
			d.Answers = make(map[string]model.AnswerValue)
		}
		d.Answers[questionID] = v
	})
}

func (s *FileStore) Answers(_ context.Context, key string) (map[string]model.AnswerValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(key)
	if err != nil {
		return nil, err
	}
	if doc.Answers == nil {
		return map[string]model.AnswerValue{}, nil
	}
	return doc.Answers, nil
}

func (s *FileStore) SaveInputMode(_ context.Context, key, questionID string, mode InputMode) error {
	return s.update(key, func(d *document) {
		if d.InputModes == nil {
			d.InputModes = make(map[string]InputMode)
		}
		d.InputModes[questionID] = mode
	})
}

func (s *FileStore) InputModes(_ context.Context, key string) (map[string]InputMode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(key)
	if err != nil {
		return nil, err
	}
	if doc.InputModes == nil {
		return map[string]InputMode{}, nil
	}
	return doc.InputModes, nil
}

func (s *FileStore) SaveQuestionOrder(_ context.Context, key string, ids []string) error {
	return s.update(key, func(d *document) {
		d.QuestionOrder = append([]string(nil), ids...)
	})
}

func (s *FileStore) QuestionOrder(_ context.Context, key string) ([]string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(key)
	if err != nil {
		return nil, false, err
	}
	return doc.QuestionOrder, len(doc.QuestionOrder) > 0, nil
}

func (s *FileStore) ClearQuestionOrder(_ context.Context, key string) error {
	return s.update(key, func(d *document) {
		d.QuestionOrder = nil
	})
}

func (s *FileStore) Clear(_ context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
