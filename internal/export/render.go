package export

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"

	"charter/api/internal/completion"
	"charter/api/internal/response"
)

var (
	answerPolicy = bluemonday.UGCPolicy()
	markdown     = goldmark.New()
)

// BuildTemplateData turns an export input into the document view model.
// Completion figures come from the aggregator; unanswered respondents are
// left out of the document.
func BuildTemplateData(in Input) (TemplateData, error) {
	if in.Catalog == nil {
		return TemplateData{}, ErrMissingCatalog
	}
	summary := completion.Breakdown(in.Responses, in.Catalog)

	title := "Family Charter"
	if name := strings.TrimSpace(in.Profile.FamilyName); name != "" {
		title = "The " + name + " Family Charter"
	}
	data := TemplateData{
		Title:       title,
		PreparedBy:  strings.TrimSpace(in.Profile.DisplayName),
		Members:     nonBlank(in.Profile.FamilyMembers),
		GeneratedAt: in.GeneratedAt,
		Overall:     summary.Overall,
	}

	label := response.MemberLabels(in.Profile.FamilyMembers)
	for i, section := range in.Catalog.Sections() {
		out := TemplateSection{
			Title:       section.Title,
			Description: section.Description,
			Stats:       summary.Sections[i].Stats,
		}
		answers := in.Responses[string(section.ID)]
		for _, question := range section.Questions {
			prompt, err := renderPrompt(question.Prompt)
			if err != nil {
				return TemplateData{}, err
			}
			out.Questions = append(out.Questions, TemplateQuestion{
				Prompt:  prompt,
				Answers: templateAnswers(answers[question.ID], label),
			})
		}
		data.Sections = append(data.Sections, out)
	}
	return data, nil
}

func templateAnswers(value response.Value, label response.LabelFunc) []TemplateAnswer {
	var out []TemplateAnswer
	switch value.Kind() {
	case response.KindText:
		if response.HasContent(value.Text()) {
			out = append(out, TemplateAnswer{Content: sanitize(value.Text())})
		}
	case response.KindSingle, response.KindList:
		entries := value.AsEntries()
		multiple := len(entries) > 1
		for i, entry := range entries {
			if !entry.Answered() {
				continue
			}
			name := strings.TrimSpace(entry.Name)
			if name == "" && multiple {
				name = label(i)
			}
			out = append(out, TemplateAnswer{Label: name, Content: sanitize(entry.Content)})
		}
	}
	return out
}

func renderPrompt(prompt string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(prompt), &buf); err != nil {
		return "", err
	}
	return template.HTML(answerPolicy.Sanitize(buf.String())), nil
}

// sanitize keeps user formatting and turns plain newlines into breaks.
func sanitize(content string) template.HTML {
	clean := answerPolicy.Sanitize(strings.TrimSpace(content))
	if !strings.Contains(clean, "<") {
		clean = strings.ReplaceAll(clean, "\n", "<br>")
	}
	return template.HTML(clean)
}

func nonBlank(items []string) []string {
	var out []string
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
