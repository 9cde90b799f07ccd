// Package report renders latency summaries and measurements as terminal or
// Markdown tables.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/y0f/primotiming/internal/analytics"
	"github.com/y0f/primotiming/internal/storage"
)

// Mode controls the output format.
type Mode int

const (
	ASCII    Mode = iota // fixed-width terminal tables
	Markdown             // GitHub-flavoured Markdown tables
)

// ParseMode maps "ascii", "text" or "markdown"/"md" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ascii", "text":
		return ASCII, nil
	case "markdown", "md":
		return Markdown, nil
	}
	return ASCII, fmt.Errorf("unknown report format %q", s)
}

func newWriter(m Mode) table.Writer {
	w := table.NewWriter()
	if m == ASCII {
		w.SetStyle(table.StyleLight)
	}
	return w
}

func render(out io.Writer, w table.Writer, m Mode) error {
	var s string
	if m == Markdown {
		s = w.RenderMarkdown()
	} else {
		s = w.Render()
	}
	_, err := fmt.Fprintln(out, s)
	return err
}

func seconds(v float64) string {
	return fmt.Sprintf("%.3f", v)
}

// Summaries writes one row per target with a totals footer.
func Summaries(out io.Writer, summaries []*analytics.Summary, m Mode) error {
	w := newWriter(m)
	w.AppendHeader(table.Row{"Domain", "Inst", "Scope", "Tests", "Timeouts", "Timeout %", "Mean (s)", "StDev", "P50", "P95", "Max"})

	var tests, timeouts int
	for _, s := range summaries {
		tests += s.Count
		timeouts += s.TimedOut
		w.AppendRow(table.Row{
			s.DomainPrefix, s.Inst, s.Scope,
			s.Count, s.TimedOut, fmt.Sprintf("%.1f", s.TimeoutRate*100),
			seconds(s.Mean), seconds(s.StdDev), seconds(s.P50), seconds(s.P95), seconds(s.Max),
		})
	}
	w.AppendFooter(table.Row{"Total", "", "", tests, timeouts, "", "", "", "", "", ""})

	cfgs := []table.ColumnConfig{{Number: 3, WidthMax: 40}}
	for n := 4; n <= 11; n++ {
		cfgs = append(cfgs, table.ColumnConfig{Number: n, Align: text.AlignRight})
	}
	w.SetColumnConfigs(cfgs)
	return render(out, w, m)
}

// Measurements writes the rows as the display page shows them.
func Measurements(out io.Writer, rows []*storage.MeasurementRow, m Mode) error {
	w := newWriter(m)
	w.AppendHeader(table.Row{"Tested", "Domain", "Inst", "Scope", "Keyword", "Duration (s)", "Timed out"})
	for _, r := range rows {
		timedOut := ""
		if r.TimedOut {
			timedOut = "yes"
		}
		w.AppendRow(table.Row{
			r.TestedAt.Local().Format("2006-01-02 15:04:05"),
			r.DomainPrefix, r.Inst, r.Scope, r.Keyword, seconds(r.Duration), timedOut,
		})
	}
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, WidthMax: 40},
		{Number: 6, Align: text.AlignRight},
	})
	return render(out, w, m)
}
