package engine

import (
	"fmt"
	"strings"
)

// Timestamp renders a native tick value (10 ms units) as HH:MM:SS.mmm.
func Timestamp(ticks int64) string {
	ms := ticks * 10
	hours := ms / 3600000
	ms -= hours * 3600000
	minutes := ms / 60000
	ms -= minutes * 60000
	seconds := ms / 1000
	ms -= seconds * 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, ms)
}

// FormatSegments renders segments in emission order. Segment text is used
// verbatim; the engine's own spacing is the only separator in the
// no-timestamp form.
func FormatSegments(segments []Segment, withTimestamps bool) string {
	var b strings.Builder
	for _, seg := range segments {
		if withTimestamps {
			fmt.Fprintf(&b, "[%s --> %s]: %s\n", Timestamp(seg.Start), Timestamp(seg.End), seg.Text)
		} else {
			b.WriteString(seg.Text)
		}
	}
	return b.String()
}
