package views

import (
	"fmt"
	"io"
	"time"

	"github.com/a-h/templ"
)

// FormatSeconds renders a latency given in seconds.
func FormatSeconds(s float64) string {
	if s < 1 {
		return fmt.Sprintf("%dms", int(s*1000+0.5))
	}
	return fmt.Sprintf("%.2fs", s)
}

func FormatPercent(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

func TimeAgo(tm time.Time) string {
	if tm.IsZero() {
		return "never"
	}
	d := time.Since(tm)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// ShortID trims a target hash for display.
func ShortID(id string) string {
	if len(id) <= 10 {
		return id
	}
	return id[:10]
}

// LatencyClass colors a latency cell; timeouts and anything slower than
// ten seconds are flagged.
func LatencyClass(seconds float64, timedOut bool) string {
	switch {
	case timedOut:
		return "bad"
	case seconds >= 10:
		return "bad"
	case seconds >= 3:
		return "warn"
	default:
		return "ok"
	}
}

// html writes markup and escaped text, keeping the first error.
type html struct {
	w   io.Writer
	err error
}

func (h *html) raw(s string) {
	if h.err != nil {
		return
	}
	_, h.err = io.WriteString(h.w, s)
}

func (h *html) text(s string) {
	h.raw(templ.EscapeString(s))
}

func (h *html) rawf(format string, args ...any) {
	h.raw(fmt.Sprintf(format, args...))
}
