package api

import (
	"bytes"
	"html/template"
)

type docsLink struct {
	Href  string
	Label string
}

var docsPage = template.Must(template.New("docs").Parse(`<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>{{.Title}}</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    nav.guard-links { position: fixed; top: 12px; right: 16px; z-index: 9999; display: flex; gap: 8px; }
    nav.guard-links a { background: #161b22; border: 1px solid #30363d; border-radius: 6px; color: #58a6ff;
      font: 500 12px -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif; padding: 5px 12px; text-decoration: none; }
  </style>
</head>
<body style="height: 100vh; margin: 0; position: relative;">
  <nav class="guard-links">{{range .Links}}<a href="{{.Href}}">{{.Label}}</a>{{end}}</nav>
  <elements-api apiDescriptionUrl="/openapi.json" router="hash" layout="sidebar" tryItCredentialsPolicy="same-origin" darkMode />
</body>
</html>`))

// renderDocs builds the API reference page. The live feed link only appears
// when the event stream is mounted.
func renderDocs(title string, withFeed bool) []byte {
	links := []docsLink{{Href: "/blocked?url=https://example.invalid/", Label: "Warning page preview"}}
	if withFeed {
		links = append(links, docsLink{Href: "/api/v1/events", Label: "Live event stream"})
	}
	var buf bytes.Buffer
	if err := docsPage.Execute(&buf, struct {
		Title string
		Links []docsLink
	}{title, links}); err != nil {
		return []byte(err.Error())
	}
	return buf.Bytes()
}
