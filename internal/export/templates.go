package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"

	"charter/api/internal/completion"
)

//go:embed templates/*.html
var templateFS embed.FS

var charterTemplate = template.Must(
	template.New("charter.html").
		Funcs(template.FuncMap{"join": strings.Join}).
		ParseFS(templateFS, "templates/charter.html"),
)

// TemplateData is the view model of one charter document.
type TemplateData struct {
	Title       string
	PreparedBy  string
	Members     []string
	GeneratedAt time.Time
	Overall     completion.Stats
	Sections    []TemplateSection
}

type TemplateSection struct {
	Title       string
	Description string
	Stats       completion.Stats
	Questions   []TemplateQuestion
}

type TemplateQuestion struct {
	// Prompt is rendered markdown.
	Prompt  template.HTML
	Answers []TemplateAnswer
}

type TemplateAnswer struct {
	Label string
	// Content is sanitised answer markup.
	Content template.HTML
}

func RenderCharterHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := charterTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
