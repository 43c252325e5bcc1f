package logic

import "time"

// DayOfWeek returns the weekday of a Gregorian date using Zeller's
// congruence. month is 1-12.
func DayOfWeek(year, month, day int) time.Weekday {
	if month < 3 {
		month += 12
		year--
	}
	k := year % 100
	j := year / 100
	h := (day + 13*(month+1)/5 + k + k/4 + j/4 + 5*j) % 7
	// Zeller counts from Saturday (h=0); time.Weekday counts from Sunday.
	return time.Weekday((h + 6) % 7)
}

// firstSunday returns the day of month of the first Sunday in the month.
func firstSunday(year, month int) int {
	w := int(DayOfWeek(year, month, 1))
	return 1 + (7-w)%7
}

// DSTStart returns the day in March on which US daylight saving begins
// (second Sunday).
func DSTStart(year int) int {
	return firstSunday(year, 3) + 7
}

// DSTEnd returns the day in November on which US daylight saving ends
// (first Sunday).
func DSTEnd(year int) int {
	return firstSunday(year, 11)
}

// IsDST reports whether the calendar date of t falls in US daylight saving
// time: from 00:00 on the second Sunday of March up to, but not including,
// 00:00 on the first Sunday of November. Only the date fields of t are used.
func IsDST(t time.Time) bool {
	year, month, day := t.Date()
	switch {
	case month < time.March || month > time.November:
		return false
	case month > time.March && month < time.November:
		return true
	case month == time.March:
		return day >= DSTStart(year)
	default:
		return day < DSTEnd(year)
	}
}

// MaintenanceDue reports whether local time is inside the daily
// maintenance minute. A negative hour never fires.
func MaintenanceDue(local time.Time, hour int) bool {
	if hour < 0 {
		return false
	}
	return local.Hour() == hour && local.Minute() == 0
}
