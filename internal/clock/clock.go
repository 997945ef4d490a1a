package clock

import (
	"strings"
	"time"

	"github.com/NICOWEB-KOZUE/qtime-pet/internal/models"
)

const DateLayout = "2006-01-02"

// Clock supplies the clinic-local calendar the queue core runs on. The
// core never reads the wall clock directly.
type Clock interface {
	Today() string
	CurrentSession() string
	IsClosed(date, session string) (bool, string)
}

type ClosedRule struct {
	Weekday time.Weekday
	Session string // empty means the whole day
}

type Options struct {
	ClosedWeekdays []ClosedRule
	Holidays       []string
}

type clinicClock struct {
	loc      *time.Location
	closed   []ClosedRule
	holidays map[string]bool
	now      func() time.Time
}

func New(loc *time.Location, options Options) Clock {
	holidays := make(map[string]bool, len(options.Holidays))
	for _, day := range options.Holidays {
		holidays[strings.TrimSpace(day)] = true
	}
	return &clinicClock{
		loc:      loc,
		closed:   options.ClosedWeekdays,
		holidays: holidays,
		now:      time.Now,
	}
}

func (c *clinicClock) Today() string {
	return c.now().In(c.loc).Format(DateLayout)
}

func (c *clinicClock) CurrentSession() string {
	if c.now().In(c.loc).Hour() < 12 {
		return models.SessionAM
	}
	return models.SessionPM
}

func (c *clinicClock) IsClosed(date, session string) (bool, string) {
	if c.holidays[date] {
		return true, "holiday"
	}
	day, err := time.ParseInLocation(DateLayout, date, c.loc)
	if err != nil {
		return false, ""
	}
	for _, rule := range c.closed {
		if rule.Weekday != day.Weekday() {
			continue
		}
		if rule.Session == "" || rule.Session == session {
			return true, "regular closing day"
		}
	}
	return false, ""
}

// ParseClosedRules parses entries like "Sun" or "Sat:PM".
func ParseClosedRules(raw string) []ClosedRule {
	var rules []ClosedRule
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		weekday, ok := weekdayFromName(parts[0])
		if !ok {
			continue
		}
		rule := ClosedRule{Weekday: weekday}
		if len(parts) == 2 {
			session := strings.ToUpper(strings.TrimSpace(parts[1]))
			if session != models.SessionAM && session != models.SessionPM {
				continue
			}
			rule.Session = session
		}
		rules = append(rules, rule)
	}
	return rules
}

func weekdayFromName(name string) (time.Weekday, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sun", "sunday":
		return time.Sunday, true
	case "mon", "monday":
		return time.Monday, true
	case "tue", "tuesday":
		return time.Tuesday, true
	case "wed", "wednesday":
		return time.Wednesday, true
	case "thu", "thursday":
		return time.Thursday, true
	case "fri", "friday":
		return time.Friday, true
	case "sat", "saturday":
		return time.Saturday, true
	default:
		return time.Sunday, false
	}
}
