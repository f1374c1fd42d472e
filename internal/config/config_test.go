package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"WEB_HOST", "WEB_PORT", "API_TOKEN", "DATABASE_URL",
		"ROOM_ID", "LEDGER_URL", "DETECTOR_URL", "OUTBOX_PATH",
		"MATCH_THRESHOLD", "EMBEDDING_DIM", "DEBOUNCE_COOLDOWN",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Matcher.Threshold != 0.8 {
		t.Errorf("Matcher.Threshold = %v, want 0.8", cfg.Matcher.Threshold)
	}
	if cfg.Matcher.EmbeddingDim != 128 {
		t.Errorf("Matcher.EmbeddingDim = %d, want 128", cfg.Matcher.EmbeddingDim)
	}
	if cfg.Debounce.Cooldown != 5*time.Minute {
		t.Errorf("Debounce.Cooldown = %v, want 5m", cfg.Debounce.Cooldown)
	}
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("Database.MaxOpenConns = %d, want 25", cfg.Database.MaxOpenConns)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("WEB_PORT", "9090")
	t.Setenv("MATCH_THRESHOLD", "0.75")
	t.Setenv("DEBOUNCE_COOLDOWN", "90s")
	t.Setenv("ROOM_ID", "room-7")

	cfg := Load()
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Matcher.Threshold != 0.75 {
		t.Errorf("Matcher.Threshold = %v, want 0.75", cfg.Matcher.Threshold)
	}
	if cfg.Debounce.Cooldown != 90*time.Second {
		t.Errorf("Debounce.Cooldown = %v, want 90s", cfg.Debounce.Cooldown)
	}
	if cfg.Agent.RoomID != "room-7" {
		t.Errorf("Agent.RoomID = %q, want room-7", cfg.Agent.RoomID)
	}
}

func TestLoadInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("WEB_PORT", "not-a-number")
	t.Setenv("DEBOUNCE_COOLDOWN", "-4m")

	cfg := Load()
	if cfg.Server.Port != 8080 {
		t.Errorf("invalid port must fall back, got %d", cfg.Server.Port)
	}
	if cfg.Debounce.Cooldown != 5*time.Minute {
		t.Errorf("negative cooldown must fall back, got %v", cfg.Debounce.Cooldown)
	}
}

func TestLoadRoomFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "room.yaml")
	content := []byte("room_id: r-101\nname: Room 101\ndetector_url: http://detector:8000\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write room file: %v", err)
	}

	t.Setenv("ROOM_ID", "env-room")
	cfg := Load()
	if err := cfg.LoadRoomFile(path); err != nil {
		t.Fatalf("load room file: %v", err)
	}

	if cfg.Agent.RoomID != "r-101" {
		t.Errorf("file must override env, got %q", cfg.Agent.RoomID)
	}
	if cfg.Agent.DetectorURL != "http://detector:8000" {
		t.Errorf("DetectorURL = %q", cfg.Agent.DetectorURL)
	}
	// Values absent from the file keep their env/default values.
	if cfg.Agent.LedgerURL == "" {
		t.Error("LedgerURL must keep its default")
	}
}

func TestLoadRoomFileMissing(t *testing.T) {
	cfg := Load()
	if err := cfg.LoadRoomFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing room file must error")
	}
}
