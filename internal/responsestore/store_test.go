package responsestore

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"charter/api/internal/catalog"
	"charter/api/internal/completion"
	"charter/api/internal/guard"
	"charter/api/internal/response"
)

const (
	vision = string(catalog.SectionVision)
	values = string(catalog.SectionValues)
)

func newTestStore(t *testing.T) (*Store, *guard.Guard) {
	t.Helper()
	cat := catalog.Default()
	g := guard.New(cat, zap.NewNop())
	return New(cat, g), g
}

func snapshotJSON(t *testing.T, s *Store) string {
	t.Helper()
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	return string(data)
}

func TestSetFieldCreatesIntermediateSlots(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.SetField(vision, "q2", 2, FieldContent, "third"); err != nil {
		t.Fatalf("SetField() error = %v", err)
	}
	value, ok := s.Get(vision, "q2")
	if !ok {
		t.Fatal("value not stored")
	}
	want := []response.Entry{{}, {}, {Content: "third"}}
	if diff := cmp.Diff(want, value.Entries()); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}

	if err := s.SetField(vision, "q2", 0, FieldName, "Ann"); err != nil {
		t.Fatalf("SetField(name) error = %v", err)
	}
	entry, _ := s.Entry(vision, "q2", 0)
	if entry.Name != "Ann" || entry.Content != "" {
		t.Fatalf("slot 0 = %+v", entry)
	}
}

func TestSetFieldConvertsLegacyText(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Load(vision, response.Answers{"q1": response.Text("legacy answer")}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := s.SetField(vision, "q1", 1, FieldContent, "second"); err != nil {
		t.Fatalf("SetField() error = %v", err)
	}
	value, _ := s.Get(vision, "q1")
	want := []response.Entry{{Content: "legacy answer"}, {Content: "second"}}
	if diff := cmp.Diff(want, value.Entries()); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestUnknownSectionWritesLeaveStoreUnchanged(t *testing.T) {
	s, g := newTestStore(t)
	if err := s.SetField(vision, "q1", 0, FieldContent, "keep"); err != nil {
		t.Fatalf("SetField() error = %v", err)
	}
	before := snapshotJSON(t, s)

	writes := []func() error{
		func() error { return s.SetField("bogus", "q1", 0, FieldContent, "x") },
		func() error { return s.ReplaceList("bogus", "q1", []response.Entry{{Content: "x"}}) },
		func() error { return s.Load("bogus", response.Answers{"q1": response.Text("x")}) },
		func() error { return s.SoftClear("bogus", "q1", 0) },
		func() error { return s.HardRemove("bogus", "q1", 0) },
	}
	for i, write := range writes {
		err := write()
		if !errors.Is(err, guard.ErrUnknownSection) {
			t.Fatalf("write %d error = %v, want ErrUnknownSection", i, err)
		}
	}

	if after := snapshotJSON(t, s); after != before {
		t.Fatalf("store changed:\nbefore %s\nafter  %s", before, after)
	}
	if _, ok := s.Snapshot()["bogus"]; ok {
		t.Fatal("bogus section key was created")
	}
	if g.Rejections() != int64(len(writes)) {
		t.Fatalf("Rejections() = %d, want %d", g.Rejections(), len(writes))
	}
}

func TestRejectsQuestionAndIndexOutsideCatalog(t *testing.T) {
	s, _ := newTestStore(t)
	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "question past end", err: s.SetField(values, "q9", 0, FieldContent, "x"), want: ErrUnknownQuestion},
		{name: "free-form question", err: s.ReplaceList(values, "intro", nil), want: ErrUnknownQuestion},
		{name: "negative index", err: s.SetField(values, "q1", -1, FieldContent, "x"), want: ErrInvalidIndex},
		{name: "bad field", err: s.SetField(values, "q1", 0, Field("email"), "x"), want: ErrUnknownField},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !errors.Is(tc.err, tc.want) {
				t.Fatalf("error = %v, want %v", tc.err, tc.want)
			}
		})
	}
	if len(s.Snapshot()) != 0 {
		t.Fatalf("store should be empty, got %v", s.Snapshot())
	}
}

func TestReplaceListIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	entries := []response.Entry{{Name: "Ann", Content: "a"}, {Name: "Bob", Content: "b"}}

	if err := s.ReplaceList(values, "q2", entries); err != nil {
		t.Fatalf("ReplaceList() error = %v", err)
	}
	once := snapshotJSON(t, s)
	if err := s.ReplaceList(values, "q2", entries); err != nil {
		t.Fatalf("ReplaceList() error = %v", err)
	}
	if twice := snapshotJSON(t, s); twice != once {
		t.Fatalf("second ReplaceList changed state:\n%s\n%s", once, twice)
	}

	entries[0].Content = "mutated by caller"
	value, _ := s.Get(values, "q2")
	if value.Entries()[0].Content != "a" {
		t.Fatal("store aliases the caller's slice")
	}
}

func TestLoadSupersedesLocalEdits(t *testing.T) {
	s, _ := newTestStore(t)
	_ = s.SetField(values, "q1", 0, FieldContent, "speculative")
	_ = s.SetField(values, "q2", 0, FieldContent, "untouched by fetch")

	err := s.Load(values, response.Answers{
		"q1":  response.List(response.Entry{Name: "Ann", Content: "persisted"}),
		"q99": response.Text("foreign"),
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	answers, err := s.Section(values)
	if err != nil {
		t.Fatalf("Section() error = %v", err)
	}
	if got := answers["q1"].Entries()[0].Content; got != "persisted" {
		t.Fatalf("q1 content = %q, want persisted", got)
	}
	if got := answers["q2"].Entries()[0].Content; got != "untouched by fetch" {
		t.Fatalf("q2 content = %q", got)
	}
	if _, ok := answers["q99"]; ok {
		t.Fatal("foreign question id was loaded")
	}
}

func TestLoadRejectsMalformedWithoutPartialWrite(t *testing.T) {
	s, _ := newTestStore(t)
	var unknown response.Value
	if err := json.Unmarshal([]byte(`12`), &unknown); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	err := s.Load(values, response.Answers{"q1": response.Text("ok"), "q2": unknown})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("Load() error = %v, want ErrMalformedResponse", err)
	}
	if len(s.Snapshot()) != 0 {
		t.Fatalf("partial write: %v", s.Snapshot())
	}
}

func TestSoftClearKeepsPositions(t *testing.T) {
	s, _ := newTestStore(t)
	_ = s.ReplaceList(values, "q1", []response.Entry{{Name: "Ann", Content: "a"}, {Name: "Bob", Content: "b"}, {Name: "Cy", Content: "c"}})

	if err := s.SoftClear(values, "q1", 1); err != nil {
		t.Fatalf("SoftClear() error = %v", err)
	}
	value, _ := s.Get(values, "q1")
	want := []response.Entry{{Name: "Ann", Content: "a"}, {}, {Name: "Cy", Content: "c"}}
	if diff := cmp.Diff(want, value.Entries()); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}

	if err := s.SoftClear(values, "q3", 4); err != nil {
		t.Fatalf("SoftClear() on empty question error = %v", err)
	}
	if _, ok := s.Get(values, "q3"); ok {
		t.Fatal("SoftClear created a question entry")
	}
}

func TestHardRemoveOnlyTrimsTrailingSlot(t *testing.T) {
	s, _ := newTestStore(t)
	_ = s.ReplaceList(values, "q1", []response.Entry{{Content: "a"}, {Content: "b"}})

	if err := s.HardRemove(values, "q1", 0); !errors.Is(err, ErrNotTrailingSlot) {
		t.Fatalf("HardRemove(0) error = %v, want ErrNotTrailingSlot", err)
	}
	if err := s.HardRemove(values, "q1", 1); err != nil {
		t.Fatalf("HardRemove(1) error = %v", err)
	}
	value, _ := s.Get(values, "q1")
	if diff := cmp.Diff([]response.Entry{{Content: "a"}}, value.Entries()); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestConsolidatedIsDerivedView(t *testing.T) {
	s, _ := newTestStore(t)
	_ = s.ReplaceList(values, "q1", []response.Entry{{Name: "Ann", Content: "a"}, {}, {Content: "c"}})

	text, err := s.Consolidated(values, "q1", nil)
	if err != nil {
		t.Fatalf("Consolidated() error = %v", err)
	}
	if text != "Ann: a\n\nFamily Member 3: c" {
		t.Fatalf("Consolidated() = %q", text)
	}
	value, _ := s.Get(values, "q1")
	if value.Kind() != response.KindList || len(value.Entries()) != 3 {
		t.Fatalf("store representation changed: %s", value.Kind())
	}
}

func TestSnapshotFeedsCompletion(t *testing.T) {
	s, _ := newTestStore(t)
	cat := catalog.Default()
	_ = s.SetField(vision, "q1", 0, FieldContent, "hello")
	_ = s.SetField(vision, "q2", 1, FieldName, "Bob")
	_ = s.SetField(vision, "q3", 0, FieldContent, "<p></p>")

	section, _ := cat.Section(vision)
	got := completion.Section(s.Snapshot()[vision], section)
	if got.Completed != 1 || got.Total != 3 || got.Percentage != 33 {
		t.Fatalf("Section() = %+v", got)
	}
}

func TestReset(t *testing.T) {
	s, _ := newTestStore(t)
	_ = s.SetField(vision, "q1", 0, FieldContent, "hello")
	s.Reset()
	if len(s.Snapshot()) != 0 {
		t.Fatal("Reset() left data behind")
	}
}
