package views

import (
	"context"
	"io"

	"github.com/a-h/templ"

	"github.com/y0f/primotiming/internal/analytics"
	"github.com/y0f/primotiming/internal/storage"
)

type LayoutParams struct {
	Title    string
	Version  string
	Flash    string
	BasePath string
}

type IndexParams struct {
	LayoutParams
	Hours        int
	KeywordCount int64
	Targets      []*storage.Target
	Summaries    []*analytics.Summary
	Recent       []*storage.MeasurementRow
}

const style = `body{font-family:system-ui,sans-serif;margin:2rem auto;max-width:72rem;padding:0 1rem;color:#1f2937}
table{border-collapse:collapse;width:100%;margin-bottom:2rem;font-size:.9rem}
th,td{border-bottom:1px solid #e5e7eb;padding:.35rem .6rem;text-align:left}
td.num{text-align:right;font-variant-numeric:tabular-nums}
.ok{color:#047857}.warn{color:#b45309}.bad{color:#b91c1c}
.flash{background:#eff6ff;border:1px solid #bfdbfe;padding:.5rem 1rem;margin-bottom:1rem}
form input[type=url]{width:70%;padding:.35rem}
footer{color:#6b7280;font-size:.8rem}`

// Layout wraps body in the page chrome.
func Layout(p LayoutParams, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		h.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		h.raw(`<title>`)
		h.text(p.Title)
		h.raw(` · primotiming</title><style>` + style + `</style></head><body>`)
		h.raw(`<h1>Primo search timing</h1>`)
		if p.Flash != "" {
			h.raw(`<div class="flash">`)
			h.text(p.Flash)
			h.raw(`</div>`)
		}
		if h.err != nil {
			return h.err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		h.raw(`<footer>primotiming `)
		h.text(p.Version)
		h.raw(`</footer></body></html>`)
		return h.err
	})
}

func IndexPage(p IndexParams) templ.Component {
	return Layout(p.LayoutParams, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		registerForm(h, p.BasePath)
		summaryTable(h, p)
		targetTable(h, p.Targets)
		recentTable(h, p.Recent)
		return h.err
	}))
}

func registerForm(h *html, basePath string) {
	h.raw(`<h2>Register a search page</h2>`)
	h.raw(`<form method="post" action="`)
	h.text(string(templ.URL(basePath + "/register")))
	h.raw(`"><input type="url" name="url" required placeholder="https://xxx.primo.exlibrisgroup.com/discovery/search?vid=...&amp;tab=...&amp;search_scope=..."> `)
	h.raw(`<button type="submit">Add</button></form>`)
}

func summaryTable(h *html, p IndexParams) {
	h.rawf(`<h2>Last %d hours</h2>`, p.Hours)
	h.rawf(`<p>%d targets, %d keywords loaded.</p>`, len(p.Targets), p.KeywordCount)
	if len(p.Summaries) == 0 {
		h.raw(`<p>No measurements in this window.</p>`)
		return
	}
	h.raw(`<table><thead><tr><th>Prefix</th><th>Institution</th><th>Scope</th><th>Tests</th>`)
	h.raw(`<th>Timeouts</th><th>Mean</th><th>p50</th><th>p95</th><th>Max</th><th>Last</th></tr></thead><tbody>`)
	for _, s := range p.Summaries {
		h.raw(`<tr><td>`)
		h.text(s.DomainPrefix)
		h.raw(`</td><td>`)
		h.text(s.Inst)
		h.raw(`</td><td>`)
		h.text(s.Scope)
		h.rawf(`</td><td class="num">%d</td>`, s.Count)
		h.rawf(`<td class="num %s">%s</td>`, timeoutClass(s.TimeoutRate), FormatPercent(s.TimeoutRate))
		h.rawf(`<td class="num %s">%s</td>`, LatencyClass(s.Mean, false), FormatSeconds(s.Mean))
		h.rawf(`<td class="num">%s</td><td class="num">%s</td><td class="num">%s</td>`,
			FormatSeconds(s.P50), FormatSeconds(s.P95), FormatSeconds(s.Max))
		h.raw(`<td>`)
		h.text(TimeAgo(s.LastTestedAt))
		h.raw(`</td></tr>`)
	}
	h.raw(`</tbody></table>`)
}

func timeoutClass(rate float64) string {
	switch {
	case rate == 0:
		return "ok"
	case rate < 0.1:
		return "warn"
	default:
		return "bad"
	}
}

func targetTable(h *html, targets []*storage.Target) {
	h.raw(`<h2>Targets</h2>`)
	if len(targets) == 0 {
		h.raw(`<p>No targets registered yet.</p>`)
		return
	}
	h.raw(`<table><thead><tr><th>ID</th><th>Prefix</th><th>View</th><th>Tab</th><th>Scope</th><th>Added</th></tr></thead><tbody>`)
	for _, t := range targets {
		h.raw(`<tr><td title="`)
		h.text(t.ID)
		h.raw(`"><code>`)
		h.text(ShortID(t.ID))
		h.raw(`</code></td><td>`)
		h.text(t.DomainPrefix)
		h.raw(`</td><td>`)
		h.text(t.Vid)
		h.raw(`</td><td>`)
		h.text(t.Tab)
		h.raw(`</td><td>`)
		h.text(t.Scope)
		h.raw(`</td><td>`)
		h.text(TimeAgo(t.CreatedAt))
		h.raw(`</td></tr>`)
	}
	h.raw(`</tbody></table>`)
}

func recentTable(h *html, rows []*storage.MeasurementRow) {
	h.raw(`<h2>Recent measurements</h2>`)
	if len(rows) == 0 {
		h.raw(`<p>Nothing measured yet.</p>`)
		return
	}
	h.raw(`<table><thead><tr><th>When</th><th>Prefix</th><th>Scope</th><th>Keyword</th><th>Duration</th></tr></thead><tbody>`)
	for _, r := range rows {
		h.raw(`<tr><td>`)
		h.text(r.TestedAt.UTC().Format("2006-01-02 15:04:05"))
		h.raw(`</td><td>`)
		h.text(r.DomainPrefix)
		h.raw(`</td><td>`)
		h.text(r.Scope)
		h.raw(`</td><td>`)
		h.text(r.Keyword)
		h.rawf(`</td><td class="num %s">`, LatencyClass(r.Duration, r.TimedOut))
		if r.TimedOut {
			h.raw(`timeout`)
		} else {
			h.text(FormatSeconds(r.Duration))
		}
		h.raw(`</td></tr>`)
	}
	h.raw(`</tbody></table>`)
}
