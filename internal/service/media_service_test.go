package service

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stemsi/exstem-portal/internal/config"
)

// Minimal PNG signature plus IHDR chunk header, enough for content sniffing.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestSavePhoto(t *testing.T) {
	dir := t.TempDir()
	svc := NewMediaService(&config.Config{UploadDir: dir, MaxUploadBytes: 64})

	tests := []struct {
		name    string
		body    []byte
		wantErr error
	}{
		{"png accepted", pngHeader, nil},
		{"text rejected", []byte("just some text, not an image"), ErrUnsupportedFileType},
		{"oversize rejected", append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 64)...), ErrFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, err := svc.SavePhoto("exam-1", bytes.NewReader(tt.body))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if !strings.HasPrefix(url, "/uploads/photos/exam-1/") || !strings.HasSuffix(url, ".png") {
				t.Errorf("url = %q", url)
			}
			name := filepath.Base(url)
			if _, err := os.Stat(filepath.Join(dir, "photos", "exam-1", name)); err != nil {
				t.Errorf("file not written: %v", err)
			}
		})
	}
}
