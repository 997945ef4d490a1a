package clock

import (
	"testing"
	"time"

	"github.com/NICOWEB-KOZUE/qtime-pet/internal/models"
)

func fixedClock(t *testing.T, value string, options Options) *clinicClock {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	at, err := time.ParseInLocation("2006-01-02 15:04", value, loc)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	c := New(loc, options).(*clinicClock)
	c.now = func() time.Time { return at }
	return c
}

func TestCurrentSession(t *testing.T) {
	cases := []struct {
		at      string
		session string
	}{
		{"2026-08-28 08:30", models.SessionAM},
		{"2026-08-28 11:59", models.SessionAM},
		{"2026-08-28 12:00", models.SessionPM},
		{"2026-08-28 18:45", models.SessionPM},
	}
	for _, tt := range cases {
		c := fixedClock(t, tt.at, Options{})
		if got := c.CurrentSession(); got != tt.session {
			t.Fatalf("CurrentSession at %s = %s, want %s", tt.at, got, tt.session)
		}
	}
}

func TestTodayUsesClinicZone(t *testing.T) {
	c := fixedClock(t, "2026-08-28 00:10", Options{})
	if got := c.Today(); got != "2026-08-28" {
		t.Fatalf("Today = %s, want 2026-08-28", got)
	}
}

func TestIsClosed(t *testing.T) {
	options := Options{
		ClosedWeekdays: ParseClosedRules("Sun, Sat:PM"),
		Holidays:       []string{"2026-01-01"},
	}
	c := fixedClock(t, "2026-08-28 09:00", options)

	cases := []struct {
		date    string
		session string
		closed  bool
	}{
		{"2026-08-30", models.SessionAM, true},  // Sunday
		{"2026-08-29", models.SessionAM, false}, // Saturday morning open
		{"2026-08-29", models.SessionPM, true},  // Saturday afternoon closed
		{"2026-08-28", models.SessionAM, false}, // Friday
		{"2026-01-01", models.SessionPM, true},  // holiday
	}
	for _, tt := range cases {
		closed, reason := c.IsClosed(tt.date, tt.session)
		if closed != tt.closed {
			t.Fatalf("IsClosed(%s, %s) = %v, want %v", tt.date, tt.session, closed, tt.closed)
		}
		if closed && reason == "" {
			t.Fatalf("IsClosed(%s, %s) closed without reason", tt.date, tt.session)
		}
	}
}

func TestParseClosedRulesSkipsInvalid(t *testing.T) {
	rules := ParseClosedRules("Sun,nope,Sat:XX,Wed:pm")
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].Weekday != time.Sunday || rules[0].Session != "" {
		t.Fatalf("unexpected first rule: %+v", rules[0])
	}
	if rules[1].Weekday != time.Wednesday || rules[1].Session != models.SessionPM {
		t.Fatalf("unexpected second rule: %+v", rules[1])
	}
}
