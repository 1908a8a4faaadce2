// Package responsestore owns the in-memory answers of one participant while
// they work through the charter. All writes go through the named operations
// below and are checked by the section guard first.
package responsestore

import (
	"errors"
	"strconv"
	"sync"

	"charter/api/internal/catalog"
	"charter/api/internal/guard"
	"charter/api/internal/response"
)

var (
	ErrUnknownQuestion   = errors.New("unknown question")
	ErrInvalidIndex      = errors.New("invalid response index")
	ErrUnknownField      = errors.New("unknown field")
	ErrNotTrailingSlot   = errors.New("only the last response slot can be removed")
	ErrMalformedResponse = errors.New("malformed response")
)

// Field selects which part of a respondent slot SetField writes.
type Field string

const (
	FieldName    Field = "name"
	FieldContent Field = "content"
)

type Store struct {
	mu       sync.Mutex
	catalog  *catalog.Catalog
	guard    *guard.Guard
	sections response.Sections
}

func New(cat *catalog.Catalog, g *guard.Guard) *Store {
	return &Store{
		catalog:  cat,
		guard:    g,
		sections: make(response.Sections),
	}
}

// SetField writes one field of one respondent slot, creating the section,
// question and any missing slots up to index.
func (s *Store) SetField(sectionID, questionID string, index int, field Field, value string) error {
	const caller = "responsestore.SetField"
	if err := s.CheckSlot(sectionID, questionID, index, caller); err != nil {
		return err
	}
	if field != FieldName && field != FieldContent {
		return s.guard.Reject("field", string(field), caller, ErrUnknownField)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	answers := s.answersLocked(sectionID)
	entries := answers[questionID].AsEntries()
	for len(entries) <= index {
		entries = append(entries, response.Entry{})
	}
	switch field {
	case FieldName:
		entries[index].Name = value
	case FieldContent:
		entries[index].Content = value
	}
	answers[questionID] = response.List(entries...)
	return nil
}

// ReplaceList replaces the question's value wholesale.
func (s *Store) ReplaceList(sectionID, questionID string, entries []response.Entry) error {
	const caller = "responsestore.ReplaceList"
	if err := s.checkQuestion(sectionID, questionID, caller); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.answersLocked(sectionID)[questionID] = response.List(entries...)
	return nil
}

// Load applies a fetched section. Fetched values replace whatever the store
// held for those questions; question ids outside the section are dropped.
// Nothing is written if the section id is unknown or any value is malformed.
func (s *Store) Load(sectionID string, fetched response.Answers) error {
	const caller = "responsestore.Load"
	if err := s.guard.Check(sectionID, caller); err != nil {
		return err
	}
	section, _ := s.catalog.Section(sectionID)

	accepted := make(response.Answers, len(fetched))
	for questionID, value := range fetched {
		if !section.HasQuestion(questionID) {
			_ = s.guard.Reject("question", questionID, caller, ErrUnknownQuestion)
			continue
		}
		if value.Kind() == response.KindUnknown {
			return s.guard.Reject("response", questionID, caller, ErrMalformedResponse)
		}
		accepted[questionID] = value.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	answers := s.answersLocked(sectionID)
	for questionID, value := range accepted {
		answers[questionID] = value
	}
	return nil
}

// SoftClear empties a slot's name and content and keeps its position, so
// later slots keep the indexes persisted records were saved under.
func (s *Store) SoftClear(sectionID, questionID string, index int) error {
	const caller = "responsestore.SoftClear"
	if err := s.CheckSlot(sectionID, questionID, index, caller); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	answers, ok := s.sections[sectionID]
	if !ok {
		return nil
	}
	value, ok := answers[questionID]
	if !ok {
		return nil
	}
	entries := value.AsEntries()
	if index >= len(entries) {
		return nil
	}
	entries[index] = response.Entry{}
	answers[questionID] = response.List(entries...)
	return nil
}

// HardRemove splices a slot out of the list. Only the trailing slot may be
// removed; removing any other slot would shift the indexes of the slots
// after it away from their persisted records.
func (s *Store) HardRemove(sectionID, questionID string, index int) error {
	const caller = "responsestore.HardRemove"
	if err := s.CheckSlot(sectionID, questionID, index, caller); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	answers, ok := s.sections[sectionID]
	if !ok {
		return nil
	}
	value, ok := answers[questionID]
	if !ok {
		return nil
	}
	entries := value.AsEntries()
	if index >= len(entries) {
		return nil
	}
	if index != len(entries)-1 {
		return ErrNotTrailingSlot
	}
	answers[questionID] = response.List(entries[:index]...)
	return nil
}

// Get returns a copy of one stored value.
func (s *Store) Get(sectionID, questionID string) (response.Value, bool) {
	if !s.guard.AssertValidSection(sectionID, "responsestore.Get") {
		return response.Value{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.sections[sectionID][questionID]
	if !ok {
		return response.Value{}, false
	}
	return value.Clone(), true
}

// Entry returns one respondent slot of a question.
func (s *Store) Entry(sectionID, questionID string, index int) (response.Entry, bool) {
	value, ok := s.Get(sectionID, questionID)
	if !ok {
		return response.Entry{}, false
	}
	entries := value.AsEntries()
	if index < 0 || index >= len(entries) {
		return response.Entry{}, false
	}
	return entries[index], true
}

// Section returns a copy of one section's answers.
func (s *Store) Section(sectionID string) (response.Answers, error) {
	if err := s.guard.Check(sectionID, "responsestore.Section"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sections[sectionID].Clone(), nil
}

// Snapshot returns a deep copy of every stored answer.
func (s *Store) Snapshot() response.Sections {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sections.Clone()
}

// Consolidated renders a question's respondents as one text block. The
// result is a derived view; the store keeps the per-respondent list.
func (s *Store) Consolidated(sectionID, questionID string, label response.LabelFunc) (string, error) {
	if err := s.checkQuestion(sectionID, questionID, "responsestore.Consolidated"); err != nil {
		return "", err
	}
	value, _ := s.Get(sectionID, questionID)
	return response.Consolidate(value.AsEntries(), label), nil
}

// Reset discards everything, as on logout or leaving the charter.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sections = make(response.Sections)
}

func (s *Store) answersLocked(sectionID string) response.Answers {
	answers, ok := s.sections[sectionID]
	if !ok {
		answers = make(response.Answers)
		s.sections[sectionID] = answers
	}
	return answers
}

func (s *Store) checkQuestion(sectionID, questionID, caller string) error {
	if err := s.guard.Check(sectionID, caller); err != nil {
		return err
	}
	section, _ := s.catalog.Section(sectionID)
	if !section.HasQuestion(questionID) {
		return s.guard.Reject("question", questionID, caller, ErrUnknownQuestion)
	}
	return nil
}

// CheckSlot validates a slot address without touching the store.
func (s *Store) CheckSlot(sectionID, questionID string, index int, caller string) error {
	if err := s.checkQuestion(sectionID, questionID, caller); err != nil {
		return err
	}
	if index < 0 {
		return s.guard.Reject("index", strconv.Itoa(index), caller, ErrInvalidIndex)
	}
	return nil
}
