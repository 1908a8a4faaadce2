// Package catalog holds the static set of charter pillars and their questions.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SectionID identifies one pillar of the charter.
type SectionID string

const (
	SectionVision        SectionID = "vision"
	SectionValues        SectionID = "values"
	SectionGovernance    SectionID = "governance"
	SectionEducation     SectionID = "education"
	SectionPhilanthropy  SectionID = "philanthropy"
	SectionCommunication SectionID = "communication"
)

// KnownSections lists every section identifier the application accepts.
func KnownSections() []SectionID {
	return []SectionID{
		SectionVision,
		SectionValues,
		SectionGovernance,
		SectionEducation,
		SectionPhilanthropy,
		SectionCommunication,
	}
}

// IsKnown reports whether id is one of the fixed section identifiers.
func IsKnown(id string) bool {
	for _, known := range KnownSections() {
		if string(known) == id {
			return true
		}
	}
	return false
}

type Question struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
}

type Section struct {
	ID          SectionID  `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Questions   []Question `json:"questions"`
}

// HasQuestion reports whether questionID addresses one of the section's positions.
func (s Section) HasQuestion(questionID string) bool {
	index, ok := QuestionIndex(questionID)
	return ok && index < len(s.Questions)
}

// Catalog is the ordered, read-only list of sections.
type Catalog struct {
	sections []Section
	byID     map[SectionID]int
}

var (
	ErrUnknownSectionID   = errors.New("unknown section id")
	ErrDuplicateSectionID = errors.New("duplicate section id")
	ErrMissingSection     = errors.New("missing section")
)

//go:embed pillars.yaml
var pillarsYAML []byte

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	cat, err := Parse(pillarsYAML)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded pillars.yaml is invalid: %v", err))
	}
	return cat
}

type fileSection struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Questions   []string `yaml:"questions"`
}

type file struct {
	Sections []fileSection `yaml:"sections"`
}

// Parse decodes a pillar file. Every known section must appear exactly once.
func Parse(data []byte) (*Catalog, error) {
	var parsed file
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	sections := make([]Section, 0, len(parsed.Sections))
	for _, raw := range parsed.Sections {
		section := Section{
			ID:          SectionID(strings.TrimSpace(raw.ID)),
			Title:       strings.TrimSpace(raw.Title),
			Description: strings.TrimSpace(raw.Description),
		}
		for _, prompt := range raw.Questions {
			section.Questions = append(section.Questions, Question{Prompt: strings.TrimSpace(prompt)})
		}
		sections = append(sections, section)
	}

	cat, err := New(sections)
	if err != nil {
		return nil, err
	}
	for _, known := range KnownSections() {
		if _, ok := cat.byID[known]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingSection, known)
		}
	}
	return cat, nil
}

// New builds a catalog from an ordered subset of the known sections.
// Question ids are reassigned from position.
func New(sections []Section) (*Catalog, error) {
	cat := &Catalog{byID: make(map[SectionID]int, len(sections))}
	for _, section := range sections {
		if !IsKnown(string(section.ID)) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSectionID, section.ID)
		}
		if _, dup := cat.byID[section.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSectionID, section.ID)
		}
		questions := make([]Question, 0, len(section.Questions))
		for i, question := range section.Questions {
			questions = append(questions, Question{ID: QuestionID(i), Prompt: question.Prompt})
		}
		section.Questions = questions
		cat.byID[section.ID] = len(cat.sections)
		cat.sections = append(cat.sections, section)
	}
	return cat, nil
}

// Prompts is a small helper for building sections in code.
func Prompts(prompts ...string) []Question {
	questions := make([]Question, 0, len(prompts))
	for i, prompt := range prompts {
		questions = append(questions, Question{ID: QuestionID(i), Prompt: prompt})
	}
	return questions
}

// Sections returns a copy of the ordered section list.
func (c *Catalog) Sections() []Section {
	out := make([]Section, 0, len(c.sections))
	for _, section := range c.sections {
		out = append(out, cloneSection(section))
	}
	return out
}

// Section looks up one section by id.
func (c *Catalog) Section(id string) (Section, bool) {
	index, ok := c.byID[SectionID(id)]
	if !ok {
		return Section{}, false
	}
	return cloneSection(c.sections[index]), true
}

// Contains reports whether the catalog has a section with this id.
func (c *Catalog) Contains(id string) bool {
	_, ok := c.byID[SectionID(id)]
	return ok
}

// TotalQuestions is the static number of questions across all sections.
func (c *Catalog) TotalQuestions() int {
	total := 0
	for _, section := range c.sections {
		total += len(section.Questions)
	}
	return total
}

// QuestionID derives the stable identifier for the question at index.
func QuestionID(index int) string {
	return "q" + strconv.Itoa(index+1)
}

// QuestionIndex is the inverse of QuestionID.
func QuestionIndex(questionID string) (int, bool) {
	if !strings.HasPrefix(questionID, "q") {
		return 0, false
	}
	digits := questionID[1:]
	if digits == "" || digits[0] == '0' {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 0, false
	}
	return n - 1, true
}

func cloneSection(section Section) Section {
	section.Questions = append([]Question(nil), section.Questions...)
	return section
}
