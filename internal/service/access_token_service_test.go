package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestAccessTokenRotation(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	svc := NewAccessTokenService(rdb, 15*time.Minute, zerolog.Nop())
	const exam = "8a1f0d5c-4a8e-4c71-bb0e-6a3f2d9c1e77"

	first, err := svc.Current(ctx, exam)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != accessTokenLength || strings.ContainsAny(first, "0O1IL") {
		t.Fatalf("token %q", first)
	}
	again, _ := svc.Current(ctx, exam)
	if again != first {
		t.Fatalf("Current reissued: %q -> %q", first, again)
	}

	second, err := svc.Rotate(ctx, exam)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"current", second, nil},
		{"current lower case", strings.ToLower(second), nil},
		{"previous", first, nil},
		{"blank", "  ", ErrInvalidAccessToken},
		{"unknown", "ZZZZZZ", ErrInvalidAccessToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.token == "ZZZZZZ" && (first == tt.token || second == tt.token) {
				t.Skip("random collision")
			}
			if err := svc.Validate(ctx, exam, tt.token); !errors.Is(err, tt.want) {
				t.Fatalf("Validate(%q) = %v, want %v", tt.token, err, tt.want)
			}
		})
	}

	if _, err := svc.Rotate(ctx, exam); err != nil {
		t.Fatal(err)
	}
	if err := svc.Validate(ctx, exam, first); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("token two rotations old still accepted: %v", err)
	}

	mr.FastForward(31 * time.Minute)
	if err := svc.Validate(ctx, exam, second); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("expired token accepted: %v", err)
	}
}
