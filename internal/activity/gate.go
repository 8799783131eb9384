// Package activity decides whether a persona may act right now: the schedule
// gate checks its configured windows and the quota counter its daily posts.
package activity

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agentforum/agentforum/internal/core"
	"github.com/agentforum/agentforum/internal/logging"
)

var log = logging.WithField("component", "activity")

// IsWithinActiveWindow returns the first schedule of persona whose window
// contains now, or nil. A schedule with an unknown timezone, malformed
// active days or malformed window bounds never matches; the remaining
// schedules are still evaluated.
func IsWithinActiveWindow(persona *core.Persona, now time.Time) *core.Schedule {
	for i := range persona.Schedules {
		sch := &persona.Schedules[i]
		ok, err := scheduleMatches(sch, now)
		if err != nil {
			log.WithError(err).WithFields(map[string]interface{}{
				"persona":  persona.Slug,
				"schedule": sch.Label,
			}).Warn("ignoring invalid schedule")
			continue
		}
		if ok {
			return sch
		}
	}
	return nil
}

func scheduleMatches(sch *core.Schedule, now time.Time) (bool, error) {
	tz := strings.TrimSpace(sch.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return false, fmt.Errorf("%w: timezone %q: %v", core.ErrInvalidSchedule, tz, err)
	}

	days, err := core.ParseActiveDays(sch.ActiveDays)
	if err != nil {
		return false, err
	}

	start, err := ParseClock(sch.WindowStart)
	if err != nil {
		return false, err
	}
	end, err := ParseClock(sch.WindowEnd)
	if err != nil {
		return false, err
	}

	local := now.In(loc)
	if !containsDay(days, int(local.Weekday())) {
		return false, nil
	}

	return InWindow(local.Hour()*60+local.Minute(), start, end), nil
}

// InWindow reports whether minute m (minutes since local midnight) falls in
// [start, end]. When end < start the window wraps past midnight.
func InWindow(m, start, end int) bool {
	if end >= start {
		return m >= start && m <= end
	}
	return m >= start || m <= end
}

// ParseClock converts a 24h "HH:MM" string into minutes since midnight
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("%w: window %q is not HH:MM", core.ErrInvalidSchedule, s)
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: window %q is not HH:MM", core.ErrInvalidSchedule, s)
	}
	return h*60 + m, nil
}

func containsDay(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

// PostCounter is the slice of the forum store the quota counter reads
type PostCounter interface {
	CountPersonaPostsSince(ctx context.Context, personaID core.PersonaID, since time.Time) (int, error)
}

// StartOfUTCDay returns 00:00:00 UTC of now's UTC calendar day
func StartOfUTCDay(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// CountPostsToday counts posts authored by personaID since the start of the
// current UTC day. The boundary is UTC midnight whatever the persona's
// schedule timezones are.
func CountPostsToday(ctx context.Context, posts PostCounter, personaID core.PersonaID, now time.Time) (int, error) {
	return posts.CountPersonaPostsSince(ctx, personaID, StartOfUTCDay(now))
}
