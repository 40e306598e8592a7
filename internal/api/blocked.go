package api

import (
	"html/template"
	"log/slog"
	"net/http"
)

var blockedPage = template.Must(template.New("blocked").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Page blocked</title>
  <style>
    body { background: #0d1117; color: #c9d1d9; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif; margin: 0; }
    main { max-width: 640px; margin: 12vh auto; padding: 32px; border: 1px solid #f85149; border-radius: 8px; background: #161b22; }
    h1 { color: #f85149; margin-top: 0; }
    code { word-break: break-all; background: #0d1117; padding: 2px 6px; border-radius: 4px; }
    button { margin-top: 16px; background: #238636; color: #fff; border: 0; border-radius: 6px; padding: 8px 16px; font-size: 14px; cursor: pointer; }
  </style>
</head>
<body>
  <main>
    <h1>Page blocked</h1>
    <p>This navigation was classified as malicious and stopped before the page could load.</p>
    {{if .URL}}<p>Blocked address: <code>{{.URL}}</code></p>{{end}}
    <button onclick="history.back()">Go back</button>
  </main>
</body>
</html>`))

// blockedPageHandler serves the warning page that blocked tabs are sent to.
func blockedPageHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	data := struct{ URL string }{URL: r.URL.Query().Get("url")}
	if err := blockedPage.Execute(w, data); err != nil {
		slog.Debug("blocked page write failed", "error", err)
	}
}
