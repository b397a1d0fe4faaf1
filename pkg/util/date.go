package util

import "time"

// LogTimeLayout is the timestamp layout of rendered run log lines.
const LogTimeLayout = "2006-01-02 15:04:05"

// EndOfDay returns the last second of t's calendar day in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, loc)
}

// FormatLogLine renders a run log line as "<local time> - <message>".
func FormatLogLine(t time.Time, loc *time.Location, msg string) string {
	return t.In(loc).Format(LogTimeLayout) + " - " + msg
}
