package timeseries

import (
	"fmt"
	"time"
)

// DefaultWindowSize bounds a single upstream request during backfills.
const DefaultWindowSize = 7 * 24 * time.Hour

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

func (w Window) String() string {
	return fmt.Sprintf("%s -> %s", FormatUTC(w.Start), FormatUTC(w.End))
}

// Chunk splits [start, end) into consecutive windows of at most size. The
// last window is clipped to end. A non-positive size falls back to
// DefaultWindowSize; start >= end yields no windows.
func Chunk(start, end time.Time, size time.Duration) []Window {
	return ChunkWithOverlap(start, end, size, 0)
}

// ChunkWithOverlap behaves like Chunk, except every window after the first
// starts overlap before the previous window ended. Consecutive windows never
// leave a gap; the overlapping slice is re-ingested, which upserts absorb.
// An overlap that is negative or not smaller than size is ignored.
func ChunkWithOverlap(start, end time.Time, size, overlap time.Duration) []Window {
	if !start.Before(end) {
		return nil
	}
	if size <= 0 {
		size = DefaultWindowSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	var windows []Window
	current := start
	for current.Before(end) {
		windowEnd := current.Add(size)
		if windowEnd.After(end) {
			windowEnd = end
		}
		windows = append(windows, Window{Start: current, End: windowEnd})
		if !windowEnd.Before(end) {
			break
		}
		current = windowEnd.Add(-overlap)
	}
	return windows
}

// DailyWindows returns one window per UTC calendar day touching [start, end).
// The first window starts at midnight of start's day, so a partial first day
// is fetched in full.
func DailyWindows(start, end time.Time) []Window {
	if !start.Before(end) {
		return nil
	}
	start = start.UTC()
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	var windows []Window
	for day.Before(end) {
		next := day.AddDate(0, 0, 1)
		windows = append(windows, Window{Start: day, End: next})
		day = next
	}
	return windows
}
