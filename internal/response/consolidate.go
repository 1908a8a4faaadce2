package response

import (
	"strconv"
	"strings"
)

const (
	blockSeparator = "\n\n"
	labelSeparator = ": "
)

// LabelFunc names the respondent at position index when the entry has no name.
type LabelFunc func(index int) string

// DefaultLabel is the fallback respondent label.
func DefaultLabel(index int) string {
	return "Family Member " + strconv.Itoa(index+1)
}

// MemberLabels names unnamed respondents after the family members listed at
// the same positions, falling back to DefaultLabel.
func MemberLabels(members []string) LabelFunc {
	if len(members) == 0 {
		return DefaultLabel
	}
	return func(index int) string {
		if index >= 0 && index < len(members) {
			if name := strings.TrimSpace(members[index]); name != "" {
				return name
			}
		}
		return DefaultLabel(index)
	}
}

// Consolidate joins the non-blank entries into one text block per
// respondent, "{name}: {content}", separated by a blank line.
func Consolidate(entries []Entry, label LabelFunc) string {
	if label == nil {
		label = DefaultLabel
	}
	blocks := make([]string, 0, len(entries))
	for i, entry := range entries {
		if entry.Blank() {
			continue
		}
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			name = label(i)
		}
		content := strings.TrimSpace(entry.Content)
		if content == "" {
			blocks = append(blocks, name+":")
			continue
		}
		blocks = append(blocks, name+labelSeparator+content)
	}
	return strings.Join(blocks, blockSeparator)
}

// SplitConsolidated reverses Consolidate for text whose names and contents
// do not themselves contain the separators.
func SplitConsolidated(text string) []Entry {
	if strings.TrimSpace(text) == "" {
		return []Entry{}
	}
	blocks := strings.Split(text, blockSeparator)
	entries := make([]Entry, 0, len(blocks))
	for _, block := range blocks {
		if strings.TrimSpace(block) == "" {
			continue
		}
		if name, content, ok := strings.Cut(block, labelSeparator); ok {
			entries = append(entries, Entry{Name: name, Content: content})
			continue
		}
		if name, ok := strings.CutSuffix(block, ":"); ok {
			entries = append(entries, Entry{Name: name})
			continue
		}
		entries = append(entries, Entry{Content: block})
	}
	return entries
}
