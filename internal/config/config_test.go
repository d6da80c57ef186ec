package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("defaults should load: %v", err)
	}
	if len(cfg.Quote.Endpoints) != 2 {
		t.Fatalf("expected two default endpoints, got %v", cfg.Quote.Endpoints)
	}
	if cfg.Scheduler.VisibleInterval != 30*time.Second {
		t.Fatalf("visible interval = %s", cfg.Scheduler.VisibleInterval)
	}
	if cfg.Scheduler.HiddenInterval != time.Minute || cfg.Scheduler.WorkerInterval != time.Minute {
		t.Fatalf("background intervals should be 60s: %+v", cfg.Scheduler)
	}
	if cfg.Alerting.TestExpiry != 5*time.Second || cfg.Alerting.RuleExpiry != 10*time.Second {
		t.Fatalf("unexpected expiries: %+v", cfg.Alerting)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("default driver = %s", cfg.Storage.Driver)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "dollarnow.yaml")
	body := []byte(`
scheduler:
  visible_interval: 10s
storage:
  driver: postgres
  dsn: postgres://localhost/dollarnow
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Scheduler.VisibleInterval != 10*time.Second {
		t.Fatalf("visible interval override ignored: %s", cfg.Scheduler.VisibleInterval)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Fatalf("driver override ignored: %s", cfg.Storage.Driver)
	}
}

func TestValidateTelegramSurface(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	cfg.Alerting.WorkerSurface = "telegram"
	if err := cfg.Validate(); err == nil {
		t.Fatal("telegram surface without token should fail validation")
	}
	cfg.Alerting.Telegram.BotToken = "token"
	cfg.Alerting.Telegram.ChatID = 42
	if err := cfg.Validate(); err != nil {
		t.Fatalf("telegram surface with credentials should validate: %v", err)
	}
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	cfg.Storage.Driver = "indexeddb"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown driver should fail validation")
	}
}
