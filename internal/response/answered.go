package response

import (
	"strings"

	"golang.org/x/net/html"
)

// IsAnswered is the one predicate every completion figure is built on.
// It never panics; shapes it does not recognise are unanswered.
func IsAnswered(v Value) bool {
	switch v.kind {
	case KindAbsent, KindUnknown:
		return false
	case KindText:
		return HasContent(v.text)
	case KindSingle:
		return v.entry.Answered()
	case KindList:
		for _, entry := range v.entries {
			if entry.Answered() {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// HasContent reports whether s has any text left once markup is removed.
func HasContent(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	return strings.TrimSpace(StripMarkup(s)) != ""
}

// StripMarkup removes tags and decodes entities. Bold or strong elements
// whose text ends in a colon are respondent labels and are removed along
// with their text, so "<b>Name:</b>" alone strips to nothing.
func StripMarkup(s string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(s))
	var out, label strings.Builder
	labelDepth := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			// unterminated label: keep its text
			if labelDepth > 0 {
				out.WriteString(label.String())
			}
			return out.String()
		case html.TextToken:
			if labelDepth > 0 {
				label.Write(tokenizer.Text())
			} else {
				out.Write(tokenizer.Text())
			}
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if isLabelTag(name) {
				if labelDepth == 0 {
					label.Reset()
				}
				labelDepth++
			} else if labelDepth == 0 {
				out.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if isLabelTag(name) && labelDepth > 0 {
				labelDepth--
				if labelDepth == 0 {
					text := label.String()
					if !strings.HasSuffix(strings.TrimSpace(text), ":") {
						out.WriteString(text)
					}
				}
			} else if labelDepth == 0 {
				out.WriteByte(' ')
			}
		case html.SelfClosingTagToken:
			if labelDepth == 0 {
				out.WriteByte(' ')
			}
		}
	}
}

func isLabelTag(name []byte) bool {
	switch string(name) {
	case "b", "strong":
		return true
	default:
		return false
	}
}
