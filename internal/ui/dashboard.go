package ui

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/a-h/templ"

	"tubefetch/internal/download"
	"tubefetch/internal/store"
)

// DashboardData is everything the dashboard page renders.
type DashboardData struct {
	Version string
	Jobs    []download.Job
	History []store.Record
	Now     time.Time
}

// Dashboard renders the full HTML page: in-flight jobs and recent history.
// Progress rows are refreshed live from the /ws event stream.
func Dashboard(d DashboardData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<!doctype html><html lang="en"><head><meta charset="utf-8">`)
		b.WriteString(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		b.WriteString(`<title>tubefetch</title><style>`)
		b.WriteString(dashboardCSS)
		b.WriteString(`</style></head><body>`)
		fmt.Fprintf(&b, `<header><h1>tubefetch</h1><span class="version">v%s</span></header>`, templ.EscapeString(d.Version))

		b.WriteString(`<section><h2>Active downloads</h2>`)
		if err := QueueTable(d.Jobs).Render(ctx, &b); err != nil {
			return err
		}
		b.WriteString(`</section><section><h2>History</h2>`)
		if err := HistoryTable(d.History, d.Now).Render(ctx, &b); err != nil {
			return err
		}
		b.WriteString(`</section><script>`)
		b.WriteString(dashboardJS)
		b.WriteString(`</script></body></html>`)

		_, err := io.WriteString(w, b.String())
		return err
	})
}

// QueueTable renders the in-flight jobs table.
func QueueTable(jobs []download.Job) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<table id="queue"><thead><tr><th>ID</th><th>URL</th><th>Status</th><th>Progress</th><th>Size</th><th>Speed</th><th>ETA</th></tr></thead><tbody>`)
		if len(jobs) == 0 {
			b.WriteString(`<tr class="empty"><td colspan="7">No active downloads</td></tr>`)
		}
		for _, j := range jobs {
			fmt.Fprintf(&b, `<tr data-id="%s"><td title="%s">%s</td><td>%s</td><td class="status">%s</td>`,
				templ.EscapeString(j.ID),
				templ.EscapeString(j.ID),
				templ.EscapeString(ShortID(j.ID)),
				templ.EscapeString(TruncateWithEllipsis(j.URL, 60)),
				templ.EscapeString(string(j.Status)))
			fmt.Fprintf(&b, `<td class="progress"><progress max="100" value="%.1f"></progress> <span>%s</span></td>`,
				clampPercent(j.Progress), FormatProgress(j.Progress))
			fmt.Fprintf(&b, `<td class="size">%s / %s</td><td class="speed">%s</td><td class="eta">%s</td></tr>`,
				FormatBytes(j.DownloadedBytes), FormatBytes(j.TotalBytes), FormatSpeed(j.Speed), FormatETA(j.ETA))
		}
		b.WriteString(`</tbody></table>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// HistoryTable renders completed downloads, newest first.
func HistoryTable(records []store.Record, now time.Time) templ.Component {
	if now.IsZero() {
		now = time.Now()
	}
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<table id="history"><thead><tr><th></th><th>Title</th><th>Format</th><th>Quality</th><th>Completed</th><th></th></tr></thead><tbody>`)
		if len(records) == 0 {
			b.WriteString(`<tr class="empty"><td colspan="6">Nothing downloaded yet</td></tr>`)
		}
		for _, r := range records {
			thumb := ""
			if r.Thumbnail != "" {
				thumb = fmt.Sprintf(`<img src="%s" alt="" loading="lazy">`, templ.EscapeString(r.Thumbnail))
			}
			fmt.Fprintf(&b, `<tr><td class="thumb">%s</td><td title="%s">%s</td><td>%s</td><td>%s</td><td title="%s">%s</td>`,
				thumb,
				templ.EscapeString(r.Filename),
				templ.EscapeString(TruncateWithEllipsis(r.Title, 80)),
				templ.EscapeString(r.FormatType),
				templ.EscapeString(r.Quality),
				templ.EscapeString(r.CompletedAt.Format(time.RFC3339)),
				templ.EscapeString(FormatAgo(r.CompletedAt, now)))
			fmt.Fprintf(&b, `<td><a href="/api/downloads/%s/file">Download</a></td></tr>`,
				templ.EscapeString(url.PathEscape(r.ID)))
		}
		b.WriteString(`</tbody></table>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func clampPercent(p float64) float64 {
	return min(max(p, 0), 100)
}

const dashboardCSS = `
body{font-family:system-ui,sans-serif;margin:2rem;color:#222}
header{display:flex;align-items:baseline;gap:.75rem}
.version{color:#888;font-size:.9rem}
table{border-collapse:collapse;width:100%;margin-bottom:2rem}
th,td{text-align:left;padding:.4rem .6rem;border-bottom:1px solid #eee;font-size:.9rem}
tr.empty td{color:#888;font-style:italic}
td.thumb img{height:36px;border-radius:3px}
progress{width:8rem}
`

const dashboardJS = `
(function(){
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(proto + location.host + "/ws");
  ws.onmessage = function(msg){
    var ev; try { ev = JSON.parse(msg.data); } catch (e) { return; }
    if (ev.status === "completed" || ev.status === "error") { setTimeout(function(){ location.reload(); }, 500); return; }
    var row = document.querySelector('tr[data-id="' + ev.download_id + '"]');
    if (!row) { location.reload(); return; }
    row.querySelector(".status").textContent = ev.status;
    row.querySelector("progress").value = ev.progress;
    row.querySelector(".progress span").textContent = ev.progress.toFixed(1) + "%";
  };
  ws.onclose = function(){ setTimeout(function(){ location.reload(); }, 5000); };
})();
`
