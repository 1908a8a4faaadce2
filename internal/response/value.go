// Package response models the answer a participant gives to one question and
// decides whether that answer counts toward completion.
package response

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ErrInvalidJSON is returned when a value is not JSON at all.
var ErrInvalidJSON = errors.New("response: invalid JSON value")

// Kind discriminates the shapes a stored answer can take.
type Kind uint8

const (
	// KindAbsent is the zero value: no answer has been stored.
	KindAbsent Kind = iota
	// KindText is a single consolidated answer, possibly HTML.
	KindText
	// KindSingle is one family member's named answer.
	KindSingle
	// KindList holds one entry per family member.
	KindList
	// KindUnknown is any decoded shape that is none of the above.
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindText:
		return "text"
	case KindSingle:
		return "single"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Entry is one respondent's answer.
type Entry struct {
	Name    string `json:"name,omitempty"`
	Content string `json:"content,omitempty"`
}

// Answered reports whether the entry carries substantive content.
// A name on its own does not count.
func (e Entry) Answered() bool {
	return HasContent(e.Content)
}

// Blank reports whether the entry has neither a name nor content.
func (e Entry) Blank() bool {
	return !HasContent(e.Name) && !HasContent(e.Content)
}

// Value is the tagged union stored per question slot.
type Value struct {
	kind    Kind
	text    string
	entry   Entry
	entries []Entry
	raw     json.RawMessage
}

func Text(s string) Value {
	return Value{kind: KindText, text: s}
}

func Single(e Entry) Value {
	return Value{kind: KindSingle, entry: e}
}

// List copies entries into a new list value. A nil slice yields an empty list.
func List(entries ...Entry) Value {
	return Value{kind: KindList, entries: append([]Entry{}, entries...)}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) Text() string { return v.text }

func (v Value) Entry() Entry { return v.entry }

// Entries returns a copy of the list entries.
func (v Value) Entries() []Entry {
	if v.kind != KindList {
		return nil
	}
	return append([]Entry{}, v.entries...)
}

// AsEntries normalises any answer into per-respondent form. Legacy text
// becomes the content of the first respondent.
func (v Value) AsEntries() []Entry {
	switch v.kind {
	case KindText:
		return []Entry{{Content: v.text}}
	case KindSingle:
		return []Entry{v.entry}
	case KindList:
		return append([]Entry{}, v.entries...)
	default:
		return []Entry{}
	}
}

// Clone returns a value that shares no memory with v.
func (v Value) Clone() Value {
	out := v
	if v.entries != nil {
		out.entries = append([]Entry{}, v.entries...)
	}
	if v.raw != nil {
		out.raw = append(json.RawMessage{}, v.raw...)
	}
	return out
}

// Equal compares two values by kind and content.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindText:
		return v.text == other.text
	case KindSingle:
		return v.entry == other.entry
	case KindList:
		if len(v.entries) != len(other.entries) {
			return false
		}
		for i := range v.entries {
			if v.entries[i] != other.entries[i] {
				return false
			}
		}
		return true
	case KindUnknown:
		return bytes.Equal(v.raw, other.raw)
	default:
		return true
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindText:
		return json.Marshal(v.text)
	case KindSingle:
		return json.Marshal(v.entry)
	case KindList:
		return json.Marshal(v.Entries())
	case KindUnknown:
		if len(v.raw) == 0 {
			return []byte("null"), nil
		}
		return v.raw, nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON never fails on well-formed JSON: shapes that are not a
// string, an entry object or an entry array decode as KindUnknown.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	*v = Value{}
	if len(trimmed) == 0 {
		return nil
	}
	switch trimmed[0] {
	case 'n':
		if bytes.Equal(trimmed, []byte("null")) {
			return nil
		}
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			*v = Text(s)
			return nil
		}
	case '{':
		var e Entry
		if err := json.Unmarshal(trimmed, &e); err == nil {
			*v = Single(e)
			return nil
		}
	case '[':
		var entries []Entry
		if err := json.Unmarshal(trimmed, &entries); err == nil {
			*v = List(entries...)
			return nil
		}
	}
	if !json.Valid(trimmed) {
		return ErrInvalidJSON
	}
	*v = Value{kind: KindUnknown, raw: append(json.RawMessage{}, trimmed...)}
	return nil
}

// Answers maps question id to the stored value for one section.
type Answers map[string]Value

// Sections maps section id to that section's answers.
type Sections map[string]Answers

func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for questionID, value := range a {
		out[questionID] = value.Clone()
	}
	return out
}

func (s Sections) Clone() Sections {
	out := make(Sections, len(s))
	for sectionID, answers := range s {
		out[sectionID] = answers.Clone()
	}
	return out
}
