package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadClientDefaults(t *testing.T) {
	cfg, err := LoadClient(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error for explicit missing file, got cfg %+v", cfg)
	}

	t.Chdir(t.TempDir())
	cfg, err = LoadClient("")
	if err != nil {
		t.Fatalf("LoadClient() error = %v", err)
	}
	if cfg.Store.Driver != "file" {
		t.Errorf("Store.Driver = %q, want file", cfg.Store.Driver)
	}
	if cfg.Session.EssayDebounce != 2*time.Second {
		t.Errorf("EssayDebounce = %v, want 2s", cfg.Session.EssayDebounce)
	}
	if cfg.Session.DrainTimeout != 2*time.Minute {
		t.Errorf("DrainTimeout = %v, want 2m", cfg.Session.DrainTimeout)
	}
}

func TestLoadClientFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exam-client.yaml")
	yaml := "base_url: http://exam.local/api/v1\nnisn: \"0051234567\"\nstore:\n  driver: redis\nsession:\n  grace_period: 3s\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EXSTEM_SESSION_PASTE_DELAY", "250ms")

	cfg, err := LoadClient(path)
	if err != nil {
		t.Fatalf("LoadClient() error = %v", err)
	}
	if cfg.BaseURL != "http://exam.local/api/v1" || cfg.NISN != "0051234567" {
		t.Errorf("unexpected cfg %+v", cfg)
	}
	if cfg.Store.Driver != "redis" {
		t.Errorf("Store.Driver = %q, want redis", cfg.Store.Driver)
	}
	if cfg.Session.GracePeriod != 3*time.Second {
		t.Errorf("GracePeriod = %v, want 3s", cfg.Session.GracePeriod)
	}
	if cfg.Session.PasteDelay != 250*time.Millisecond {
		t.Errorf("PasteDelay = %v, want 250ms", cfg.Session.PasteDelay)
	}
}

func TestLoadClientRejectsUnknownDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, []byte("store:\n  driver: sqlite\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadClient(path); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
