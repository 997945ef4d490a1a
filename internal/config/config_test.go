package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("port = %q, want 8080", cfg.Port)
	}
	if cfg.Timezone != "Asia/Tokyo" {
		t.Fatalf("timezone = %q", cfg.Timezone)
	}
	if cfg.LeadDistance != 2 {
		t.Fatalf("lead distance = %d, want 2", cfg.LeadDistance)
	}
	if cfg.MailProvider != "log" {
		t.Fatalf("mail provider = %q, want log", cfg.MailProvider)
	}
	if cfg.NotifyTimeout != 20*time.Second {
		t.Fatalf("notify timeout = %s", cfg.NotifyTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("NOTIFY_LEAD_DISTANCE", "3")
	t.Setenv("SMTP_STARTTLS", "false")
	t.Setenv("CLINIC_CLOSED_WEEKDAYS", "Sun, Thu:PM")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("port = %q", cfg.Port)
	}
	if cfg.LeadDistance != 3 {
		t.Fatalf("lead distance = %d", cfg.LeadDistance)
	}
	if cfg.SMTPStartTLS {
		t.Fatal("expected STARTTLS off")
	}
	if cfg.ClosedWeekdays != "Sun, Thu:PM" {
		t.Fatalf("closed weekdays = %q", cfg.ClosedWeekdays)
	}
}

func TestLoadIgnoresBadNumbers(t *testing.T) {
	t.Setenv("NOTIFY_LEAD_DISTANCE", "many")
	t.Setenv("SMTP_PORT", "")

	cfg := Load()
	if cfg.LeadDistance != 2 {
		t.Fatalf("lead distance = %d, want fallback 2", cfg.LeadDistance)
	}
	if cfg.SMTPPort != 587 {
		t.Fatalf("smtp port = %d, want fallback 587", cfg.SMTPPort)
	}
}
