package util

import "time"

const Day = 24 * time.Hour

// NowMillis is the current unix time in milliseconds.
func NowMillis() int64 { return time.Now().UnixMilli() }

// DaysAgo steps back n whole days from t.
func DaysAgo(t time.Time, n int) time.Time {
	return t.Add(-time.Duration(n) * Day)
}
