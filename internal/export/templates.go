package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var planTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"join":  strings.Join,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/plan.html")
	if err != nil {
		// Fallback to built-in template if file not found
		planTemplate = template.Must(template.New("plan").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	planTemplate = template.Must(template.New("plan").Funcs(funcMap).Parse(string(templateContent)))
}

// RenderPlanHTML renders the plan template with provided data.
func RenderPlanHTML(data PlanView) (string, error) {
	var buf bytes.Buffer
	if err := planTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .week { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  {{if .Summary}}<p>{{.Summary}}</p>{{end}}
  <div class="meta">{{.LearnerName}} | {{.TotalWeeks}} weeks | {{.GeneratedAt.Format "Jan 2, 2006"}}</div>
  {{range .Weeks}}<div class="week"><h2>Week {{.WeekNumber}}: {{.Title}}</h2><p>{{.Deliverable}}</p></div>{{end}}
</body>
</html>`
