package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key holding the JTI of a student's
// current login
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("student:%d:session", studentID)
}

// StudentExamSessionStartKey returns the cache key for a student's exam session start
func (r *CacheKeyStruct) StudentExamSessionStartKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:session_start", studentID, examID)
}

// StudentAnswersKey returns the cache key for a student's autosaved answers
func (r *CacheKeyStruct) StudentAnswersKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:answers", studentID, examID)
}

// StudentSubmittedKey marks an attempt as submitted so late autosaves are refused
// without a database round trip.
func (r *CacheKeyStruct) StudentSubmittedKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:submitted", studentID, examID)
}

// ExamPayloadKey returns the cache key for an exam's payload
func (r *CacheKeyStruct) ExamPayloadKey(examID string) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

// ExamAccessTokenKey returns the cache key for an exam's current access token
func (r *CacheKeyStruct) ExamAccessTokenKey(examID string) string {
	return fmt.Sprintf("exam:%s:access_token", examID)
}

// ExamPreviousAccessTokenKey returns the cache key for the token that was
// current before the last rotation.
func (r *CacheKeyStruct) ExamPreviousAccessTokenKey(examID string) string {
	return fmt.Sprintf("exam:%s:access_token:previous", examID)
}

// LocalAnswersKey is the device-cache hash of in-progress answers.
func (r *CacheKeyStruct) LocalAnswersKey(sessionKey string) string {
	return fmt.Sprintf("local:%s:answers", sessionKey)
}

// LocalInputModesKey is the device-cache hash of per-question input modes.
func (r *CacheKeyStruct) LocalInputModesKey(sessionKey string) string {
	return fmt.Sprintf("local:%s:input_modes", sessionKey)
}

// LocalQuestionOrderKey is the device-cache list holding the pinned question order.
func (r *CacheKeyStruct) LocalQuestionOrderKey(sessionKey string) string {
	return fmt.Sprintf("local:%s:question_order", sessionKey)
}

var CacheKey = NewCacheKeyStruct()
