// Package examclient talks to the portal API on behalf of a student device.
// It implements session.Backend.
package examclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/session"
)

// Error codes the client reacts to.
const (
	codeInvalidAccessToken   = "INVALID_ACCESS_TOKEN"
	codeExamAlreadySubmitted = "EXAM_ALREADY_SUBMITTED"
)

// APIError is a non-2xx response carrying the portal's error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api: HTTP %d", e.Status)
	}
	return fmt.Sprintf("api: %s (%d): %s", e.Code, e.Status, e.Message)
}

// Unwrap maps the codes the session engine understands onto its sentinels.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case codeInvalidAccessToken:
		return session.ErrTokenRejected
	case codeExamAlreadySubmitted:
		return session.ErrAlreadySubmitted
	}
	return nil
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

var _ session.Backend = (*Client)(nil)

// Client is an authenticated API client.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger

	mu    sync.RWMutex
	token string
}

// New creates a client for the API rooted at baseURL (".../api/v1").
func New(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "exam_client").Logger(),
	}
}

// SetToken installs a bearer token obtained elsewhere.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Login authenticates a student and keeps the returned token.
func (c *Client) Login(ctx context.Context, nisn, password string) (*model.StudentLoginResponse, error) {
	var out model.StudentLoginResponse
	req := model.StudentLoginRequest{NISN: nisn, Password: password}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/student/login", req, &out); err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

func (c *Client) ExamDetail(ctx context.Context, examID string) (*model.ExamDetail, error) {
	var out model.ExamDetail
	if err := c.doJSON(ctx, http.MethodGet, examPath(examID, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) StartExam(ctx context.Context, examID, token string) error {
	return c.doJSON(ctx, http.MethodPost, examPath(examID, "/start"), model.StartExamRequest{Token: token}, nil)
}

func (c *Client) RemainingTime(ctx context.Context, examID string) (*model.RemainingTime, error) {
	var out model.RemainingTime
	if err := c.doJSON(ctx, http.MethodGet, examPath(examID, "/time"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PersistAnswer(ctx context.Context, examID, questionID string, qt model.QuestionType, v model.AnswerValue) error {
	body := model.SaveAnswerRequest{QuestionType: qt, Answer: v}
	return c.doJSON(ctx, http.MethodPut, examPath(examID, "/answers/"+url.PathEscape(questionID)), body, nil)
}

// UploadPhoto sends the image as multipart field "file" and returns its URL.
func (c *Client) UploadPhoto(ctx context.Context, examID, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return "", fmt.Errorf("read photo: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, http.MethodPost, examPath(examID, "/photos"), &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *Client) Submit(ctx context.Context, examID string, body model.SubmitRequest) (*model.SubmitResult, error) {
	var out model.SubmitResult
	if err := c.doJSON(ctx, http.MethodPost, examPath(examID, "/submit"), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func examPath(examID, suffix string) string {
	return "/student/exams/" + url.PathEscape(examID) + suffix
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("API call")

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode}
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode >= 300 || env.Error != nil {
		apiErr := &APIError{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Fields = env.Error.Fields
		}
		return apiErr
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
