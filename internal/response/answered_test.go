package response

import (
	"encoding/json"
	"testing"
)

func TestIsAnsweredFalseCases(t *testing.T) {
	cases := []struct {
		name  string
		value Value
	}{
		{name: "absent", value: Value{}},
		{name: "empty text", value: Text("")},
		{name: "empty paragraph", value: Text("<p></p>")},
		{name: "whitespace content", value: Single(Entry{Content: "  "})},
		{name: "empty list", value: List()},
		{name: "name without content", value: List(Entry{Name: "A", Content: ""})},
		{name: "label and whitespace only", value: Text("<b>Name:</b>\n")},
		{name: "non-breaking space only", value: Text("<p>&nbsp;</p>")},
		{name: "line breaks only", value: Text("<p><br/></p>\n\t")},
		{name: "single name only", value: Single(Entry{Name: "Bob"})},
		{name: "unknown shape", value: decode(t, `42`)},
		{name: "unknown object shape", value: decode(t, `{"content": 7}`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if IsAnswered(tc.value) {
				t.Fatalf("IsAnswered(%s) = true, want false", tc.name)
			}
		})
	}
}

func TestIsAnsweredTrueCases(t *testing.T) {
	cases := []struct {
		name  string
		value Value
	}{
		{name: "plain text", value: Text("hello")},
		{name: "html text", value: Text("<p><em>we</em> agree</p>")},
		{name: "label followed by content", value: Text("<b>Bob:</b> yes")},
		{name: "bold word without colon", value: Text("<strong>Always</strong>")},
		{name: "single content", value: Single(Entry{Content: "yes"})},
		{name: "list first", value: List(Entry{Content: "yes"}, Entry{Name: "B"})},
		{name: "list last", value: List(Entry{Name: "Bob"}, Entry{}, Entry{Content: "<p>yes</p>"})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !IsAnswered(tc.value) {
				t.Fatalf("IsAnswered(%s) = false, want true", tc.name)
			}
		})
	}
}

func TestIsAnsweredAnyPositionInList(t *testing.T) {
	for size := 1; size <= 6; size++ {
		for position := 0; position < size; position++ {
			entries := make([]Entry, size)
			for i := range entries {
				entries[i] = Entry{Name: "member", Content: "<p> </p>"}
			}
			entries[position].Content = "answer"
			if !IsAnswered(List(entries...)) {
				t.Fatalf("size %d, answer at %d: IsAnswered = false", size, position)
			}
		}
	}
}

func TestStripMarkup(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "plain", want: "plain"},
		{in: "<p>a &amp; b</p>", want: "a & b"},
		{in: "<b>Ann:</b> first", want: "first"},
		{in: "<b>Note</b> here", want: "Note here"},
		{in: "<p>one</p><p>two</p>", want: "one  two"},
	}
	for _, tc := range cases {
		if got := trim(StripMarkup(tc.in)); got != tc.want {
			t.Fatalf("StripMarkup(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValueJSONShapes(t *testing.T) {
	cases := []struct {
		raw  string
		kind Kind
	}{
		{raw: `null`, kind: KindAbsent},
		{raw: `"legacy"`, kind: KindText},
		{raw: `{"name":"Ann","content":"yes"}`, kind: KindSingle},
		{raw: `[{"name":"Ann"},{"content":"x"}]`, kind: KindList},
		{raw: `[]`, kind: KindList},
		{raw: `true`, kind: KindUnknown},
		{raw: `[1,2]`, kind: KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			value := decode(t, tc.raw)
			if value.Kind() != tc.kind {
				t.Fatalf("kind = %s, want %s", value.Kind(), tc.kind)
			}
			encoded, err := json.Marshal(value)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if again := decode(t, string(encoded)); !again.Equal(value) {
				t.Fatalf("re-decoded %s != original", encoded)
			}
		})
	}
}

func TestValueUnmarshalRejectsInvalidJSON(t *testing.T) {
	var value Value
	if err := value.UnmarshalJSON([]byte(`{nope`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestAsEntries(t *testing.T) {
	if got := Text("x").AsEntries(); len(got) != 1 || got[0].Content != "x" {
		t.Fatalf("Text.AsEntries() = %+v", got)
	}
	if got := Single(Entry{Name: "A"}).AsEntries(); len(got) != 1 || got[0].Name != "A" {
		t.Fatalf("Single.AsEntries() = %+v", got)
	}
	if got := (Value{}).AsEntries(); len(got) != 0 {
		t.Fatalf("Absent.AsEntries() = %+v", got)
	}
}

func TestCloneDoesNotShare(t *testing.T) {
	original := List(Entry{Content: "a"})
	clone := original.Clone()
	clone.entries[0].Content = "b"
	if original.Entries()[0].Content != "a" {
		t.Fatal("clone shares entries with original")
	}
}

func decode(t *testing.T, raw string) Value {
	t.Helper()
	var value Value
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		t.Fatalf("Unmarshal(%s) error = %v", raw, err)
	}
	return value
}

func trim(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\n') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\n') {
		s = s[:len(s)-1]
	}
	return s
}
