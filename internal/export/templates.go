package export

import (
	"bytes"
	"html/template"
	"time"
)

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(reportTemplateHTML))

// RenderReportHTML renders the HTML used by the PDF and DOCX renderers.
func RenderReportHTML(report Report) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, report); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.StandardCode}} {{.Year}} - {{.CompanyName}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 900px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #1b5e20; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { border-collapse: collapse; width: 100%; }
    th, td { border: 1px solid #ccc; padding: 0.5rem; text-align: left; vertical-align: top; }
    th { background: #e8f5e9; }
    td.no { white-space: nowrap; font-weight: bold; }
    tr.unanswered td { color: #999; }
  </style>
</head>
<body>
  <h1>{{.StandardName}} - {{.Year}}</h1>
  <div class="meta">{{.CompanyName}} | {{.StandardCode}} | Generated {{formatDate .GeneratedAt "Jan 2, 2006 15:04"}}</div>
  <table>
    <thead>
      <tr><th>No.</th><th>Question</th><th>Theme</th><th>Answer</th><th>Status</th></tr>
    </thead>
    <tbody>
      {{range .Rows}}
      <tr{{if not .Answer}} class="unanswered"{{end}}>
        <td class="no">{{.DisplayNo}}</td>
        <td>{{.Question}}</td>
        <td>{{.Theme}}</td>
        <td>{{if .Answer}}{{.Answer}}{{else}}-{{end}}</td>
        <td>{{.Status}}</td>
      </tr>
      {{end}}
    </tbody>
  </table>
</body>
</html>`
