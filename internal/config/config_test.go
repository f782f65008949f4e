package config

import (
	"testing"

	_ "buybox/internal/storage/sqlite"
)

// TestLoad_Defaults verifies the out-of-the-box configuration is valid and
// carries the documented defaults.
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("port=%q", cfg.Server.Port)
	}
	if cfg.Tracker.Marketplace != "amazon.co.za" || cfg.Tracker.MaxAttempts != 3 {
		t.Fatalf("tracker defaults: %#v", cfg.Tracker)
	}
	if cfg.Storage.Kind != "sqlite" || cfg.Storage.DSN != "buybox.db" {
		t.Fatalf("storage defaults: %#v", cfg.Storage)
	}
	if !cfg.Alerts.Notify.Losing || cfg.Alerts.Notify.Unknown {
		t.Fatalf("notify defaults: %#v", cfg.Alerts.Notify)
	}
	if cfg.Scheduler.IntervalMinutes != 60 {
		t.Fatalf("scheduler defaults: %#v", cfg.Scheduler)
	}
}

// TestLoad_EnvOverrides verifies BUYBOX_ variables override defaults.
func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BUYBOX_TRACKER_MARKETPLACE", "amazon.de")
	t.Setenv("BUYBOX_TRACKER_OWN_SELLER", "Bonolo Online")
	t.Setenv("BUYBOX_STORAGE_DSN", "/var/lib/buybox/data.db")
	t.Setenv("BUYBOX_SERVER_PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tracker.Marketplace != "amazon.de" || cfg.Tracker.OwnSeller != "Bonolo Online" {
		t.Fatalf("tracker env override: %#v", cfg.Tracker)
	}
	if cfg.Storage.DSN != "/var/lib/buybox/data.db" {
		t.Fatalf("storage env override: %#v", cfg.Storage)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("server env override: %#v", cfg.Server)
	}
}

// TestLoad_RejectsBadValues covers the validation failures.
func TestLoad_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"unregistered storage kind", "BUYBOX_STORAGE_KIND", "oracle"},
		{"zero attempts", "BUYBOX_TRACKER_MAX_ATTEMPTS", "0"},
		{"zero interval", "BUYBOX_SCHEDULER_INTERVAL_MINUTES", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tc.key, tc.value)
			}
		})
	}
}

// TestLoad_TelegramNeedsChatID verifies the half-configured channel is
// rejected early instead of failing at first send.
func TestLoad_TelegramNeedsChatID(t *testing.T) {
	t.Setenv("BUYBOX_ALERTS_TELEGRAM_TOKEN", "123:SECRET")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for token without chat_id")
	}
}
