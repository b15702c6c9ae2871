package gateway

import (
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
)

func decodeJSONBody(resp *http.Response, v any) error {
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// renderDashboard is a minimal status page, enough to eyeball scheduler
// state and snapshot freshness without a JSON client; full operational
// dashboards are expected to consume /api/v1/status instead.
func renderDashboard(s StatusResponse) string {
	return fmt.Sprintf(`<!doctype html>
<html><head><title>ORD Provider Server</title></head>
<body>
<h1>ORD Provider Server %s</h1>
<p>Scheduler state: <b>%s</b></p>
<p>Last update: %s</p>
<p>Last error: %s</p>
<p>Source: %s %s</p>
</body></html>`,
		html.EscapeString(s.Version),
		html.EscapeString(s.SchedulerState),
		s.LastUpdateTime.Format("2006-01-02T15:04:05Z07:00"),
		html.EscapeString(s.LastError),
		html.EscapeString(s.Settings.SourceType),
		html.EscapeString(s.Settings.GithubRepository),
	)
}
