// Package completion rolls per-question answer status up into section and
// overall progress. Every percentage shown anywhere in the application is
// produced here.
package completion

import (
	"charter/api/internal/catalog"
	"charter/api/internal/response"
)

type Stats struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// Complete reports whether every question is answered.
func (s Stats) Complete() bool {
	return s.Total > 0 && s.Completed == s.Total
}

// Percentage rounds 100*completed/total half up using integer arithmetic.
// A zero total yields zero.
func Percentage(completed, total int) int {
	if total <= 0 || completed <= 0 {
		return 0
	}
	if completed >= total {
		return 100
	}
	return (200*completed + total) / (2 * total)
}

func newStats(completed, total int) Stats {
	return Stats{Completed: completed, Total: total, Percentage: Percentage(completed, total)}
}

// Section counts the section's questions whose stored value is answered.
// Entries for question ids outside the section are ignored; questions
// without an entry count as unanswered.
func Section(answers response.Answers, section catalog.Section) Stats {
	completed := 0
	for _, question := range section.Questions {
		if value, ok := answers[question.ID]; ok && response.IsAnswered(value) {
			completed++
		}
	}
	return newStats(completed, len(section.Questions))
}

// Overall sums every catalog section. Sections missing from the store add
// their questions to the total and nothing to completed.
func Overall(sections response.Sections, cat *catalog.Catalog) Stats {
	completed, total := 0, 0
	for _, section := range cat.Sections() {
		stats := Section(sections[string(section.ID)], section)
		completed += stats.Completed
		total += stats.Total
	}
	return newStats(completed, total)
}

type SectionSummary struct {
	ID       catalog.SectionID `json:"id"`
	Title    string            `json:"title"`
	Stats    Stats             `json:"stats"`
	Complete bool              `json:"complete"`
	// Answered is indexed by question position.
	Answered []bool `json:"answered"`
}

type Summary struct {
	Overall  Stats            `json:"overall"`
	Sections []SectionSummary `json:"sections"`
}

// SectionBreakdown is one section's stats with the answered flag of each
// question.
func SectionBreakdown(answers response.Answers, section catalog.Section) SectionSummary {
	stats := Section(answers, section)
	answered := make([]bool, len(section.Questions))
	for i, question := range section.Questions {
		answered[i] = response.IsAnswered(answers[question.ID])
	}
	return SectionSummary{
		ID:       section.ID,
		Title:    section.Title,
		Stats:    stats,
		Complete: stats.Complete(),
		Answered: answered,
	}
}

// Breakdown is the per-section and overall view used by the dashboard, the
// export and the admin pages.
func Breakdown(sections response.Sections, cat *catalog.Catalog) Summary {
	summary := Summary{Sections: make([]SectionSummary, 0)}
	completed, total := 0, 0
	for _, section := range cat.Sections() {
		item := SectionBreakdown(sections[string(section.ID)], section)
		summary.Sections = append(summary.Sections, item)
		completed += item.Stats.Completed
		total += item.Stats.Total
	}
	summary.Overall = newStats(completed, total)
	return summary
}

// Find returns the summary for one section.
func (s Summary) Find(id catalog.SectionID) (SectionSummary, bool) {
	for _, section := range s.Sections {
		if section.ID == id {
			return section, true
		}
	}
	return SectionSummary{}, false
}
