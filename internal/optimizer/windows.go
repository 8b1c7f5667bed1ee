// Package optimizer analyzes schedule distribution and per-source change
// behaviour, and produces cron timing recommendations that can be applied
// back to the scheduler.
package optimizer

// TrafficWindow classifies hours of the day by expected platform load.
type TrafficWindow string

const (
	WindowLow    TrafficWindow = "LOW"
	WindowMedium TrafficWindow = "MEDIUM"
	WindowHigh   TrafficWindow = "HIGH"
	WindowPeak   TrafficWindow = "PEAK"
)

// windowHours maps each traffic window to its fixed set of hours.
var windowHours = map[TrafficWindow][]int{
	WindowLow:    {0, 1, 2, 3, 4, 5},
	WindowMedium: {6, 7, 8, 18, 19, 20, 21, 22, 23},
	WindowHigh:   {9, 10, 11, 14, 15, 16, 17},
	WindowPeak:   {12, 13},
}

// HoursFor returns the hours belonging to the window, or nil for an
// unknown window.
func HoursFor(w TrafficWindow) []int {
	hours, ok := windowHours[w]
	if !ok {
		return nil
	}
	out := make([]int, len(hours))
	copy(out, hours)
	return out
}

// WindowOf returns the traffic window containing the given hour.
func WindowOf(hour int) TrafficWindow {
	for w, hours := range windowHours {
		for _, h := range hours {
			if h == hour {
				return w
			}
		}
	}
	return WindowMedium
}

// IsValidWindow reports whether w names a known traffic window.
func IsValidWindow(w TrafficWindow) bool {
	_, ok := windowHours[w]
	return ok
}
