package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"backo/internal/model"
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// NextRun maps a schedule declaration and a reference instant to the next
// time the job should run. It returns nil for schedule types it does not
// recognize; validation of the declaration itself happens at job creation
// time, not here.
func NextRun(scheduleType model.ScheduleType, scheduleValue, scheduleTime string, now time.Time) *time.Time {
	hour, minute, err := parseClock(scheduleTime)
	if err != nil {
		return nil
	}

	switch scheduleType {
	case model.ScheduleOnce:
		date, err := time.ParseInLocation("2006-01-02", scheduleValue, now.Location())
		if err != nil {
			return nil
		}
		at := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, now.Location())
		return &at

	case model.ScheduleDaily:
		allowed, err := parseWeekdays(scheduleValue)
		if err != nil {
			return nil
		}

		candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		for !allowed[candidate.Weekday()] {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return &candidate

	case model.ScheduleMonthly:
		day, err := strconv.Atoi(strings.TrimSpace(scheduleValue))
		if err != nil {
			return nil
		}

		candidate := monthlyCandidate(now.Year(), now.Month(), day, hour, minute, now.Location())
		if !candidate.After(now) {
			year, month := now.Year(), now.Month()
			if month == time.December {
				year, month = year+1, time.January
			} else {
				month++
			}
			candidate = monthlyCandidate(year, month, day, hour, minute, now.Location())
		}
		return &candidate
	}

	return nil
}

// Validate rejects malformed schedule declarations so they never reach the
// dispatcher. The once-in-the-past check only applies at creation time.
func Validate(scheduleType model.ScheduleType, scheduleValue, scheduleTime string, now time.Time) error {
	if _, _, err := parseClock(scheduleTime); err != nil {
		return err
	}

	switch scheduleType {
	case model.ScheduleOnce:
		next := NextRun(scheduleType, scheduleValue, scheduleTime, now)
		if next == nil {
			return fmt.Errorf("invalid date %q, want YYYY-MM-DD", scheduleValue)
		}
		if next.Before(now) {
			return fmt.Errorf("scheduled time %s is in the past", next.Format(time.DateTime))
		}
		return nil

	case model.ScheduleDaily:
		_, err := parseWeekdays(scheduleValue)
		return err

	case model.ScheduleMonthly:
		day, err := strconv.Atoi(strings.TrimSpace(scheduleValue))
		if err != nil || day < 1 || day > 31 {
			return fmt.Errorf("invalid day of month %q", scheduleValue)
		}
		return nil
	}

	return fmt.Errorf("unknown schedule type %q", scheduleType)
}

// monthlyCandidate builds the run time for a given month, clamping the
// requested day down to the month's last day when it does not exist.
func monthlyCandidate(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
	if day > last {
		day = last
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid schedule time %q, want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

func parseWeekdays(s string) (map[time.Weekday]bool, error) {
	allowed := make(map[time.Weekday]bool)
	for _, name := range strings.Split(s, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		day, ok := weekdays[name]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		allowed[day] = true
	}

	if len(allowed) == 0 {
		return nil, fmt.Errorf("empty weekday set")
	}
	return allowed, nil
}
