package aigate

import "time"

// DefaultTimeZone is the business time zone quota periods align to when
// Config.Location is not set. The clinic product bills in Thailand, so
// daily quotas reset at midnight UTC+7.
const DefaultTimeZone = "Asia/Bangkok"

// dailyPeriod returns the calendar day containing now in loc.
func dailyPeriod(now time.Time, loc *time.Location) Period {
	start := startOfDay(now, loc)
	return Period{
		Start: start,
		End:   start.AddDate(0, 0, 1),
		Type:  PeriodTypeDaily,
	}
}

// monthlyPeriod returns the calendar month containing now in loc.
func monthlyPeriod(now time.Time, loc *time.Location) Period {
	n := now.In(loc)
	start := time.Date(n.Year(), n.Month(), 1, 0, 0, 0, 0, loc)
	return Period{
		Start: start,
		End:   start.AddDate(0, 1, 0),
		Type:  PeriodTypeMonthly,
	}
}

// periodFor maps a period type to the concrete period containing now.
func periodFor(pt PeriodType, now time.Time, loc *time.Location) (Period, error) {
	switch pt {
	case PeriodTypeDaily:
		return dailyPeriod(now, loc), nil
	case PeriodTypeMonthly:
		return monthlyPeriod(now, loc), nil
	default:
		return Period{}, ErrInvalidPeriod
	}
}

// dayWindow returns the day-aligned trailing window covering the last
// `days` calendar days in loc, today included. Start is inclusive, end
// is exclusive (end of today).
func dayWindow(now time.Time, days int, loc *time.Location) (time.Time, time.Time) {
	end := startOfDay(now, loc).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -days)
	return start, end
}

// startOfDay returns midnight of the day containing t in loc.
func startOfDay(t time.Time, loc *time.Location) time.Time {
	tt := t.In(loc)
	return time.Date(tt.Year(), tt.Month(), tt.Day(), 0, 0, 0, 0, loc)
}
