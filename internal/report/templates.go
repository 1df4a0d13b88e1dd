package report

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"

	"smartpin/api/internal/canvas"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"tags": func(pin canvas.Pin) string {
			return strings.Join(pin.Metadata.Tags, ", ")
		},
	}

	content, err := templateFS.ReadFile("templates/report.html")
	if err != nil {
		reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}
	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(string(content)))
}

// Render executes the report template.
func Render(data Data) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
</head>
<body>
  <h1>{{.Title}}</h1>
  <p>{{.Total}} pins | {{.GeneratedAt.Format "Jan 2, 2006"}}</p>
  {{range .Sections}}
  <h2>{{.Layer.Name}}</h2>
  <ul>{{range .Pins}}<li>{{.Title}} ({{.Status}})</li>{{end}}</ul>
  {{end}}
</body>
</html>`
