package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"charter/api/internal/guard"
	"charter/api/internal/response"
	"charter/api/internal/store"
)

func TestSetFieldThenSavePersistsSlot(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	session := participantSession(t, svc, fs)
	ctx := context.Background()

	view, err := svc.SetField(ctx, session, "vision", "q1", 0, FieldInput{Name: ptr("Ana"), Content: ptr("A shared home")})
	if err != nil {
		t.Fatalf("SetField() error = %v", err)
	}
	if view.Saved {
		t.Fatalf("expected edit to be pending, not saved")
	}
	if view.Stats.Completed != 1 || view.Stats.Total != 2 || view.Stats.Percentage != 50 {
		t.Fatalf("unexpected stats %+v", view.Stats)
	}
	if _, ok := fs.slot(session.UserID, "vision", "q1", 0); ok {
		t.Fatalf("slot persisted before save")
	}

	saved, err := svc.Save(ctx, session, "vision", "q1", 0)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !saved.Saved {
		t.Fatalf("expected saved view")
	}
	entry, ok := fs.slot(session.UserID, "vision", "q1", 0)
	if !ok {
		t.Fatalf("slot not persisted")
	}
	if diff := cmp.Diff(response.Entry{Name: "Ana", Content: "A shared home"}, entry); diff != "" {
		t.Fatalf("persisted entry mismatch (-want +got):\n%s", diff)
	}
}

func TestAutosaveFiresAfterQuietPeriod(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	clock := &manualClock{}
	svc.clock = clock
	session := participantSession(t, svc, fs)
	ctx := context.Background()

	for _, text := range []string{"F", "Fa", "Family first"} {
		if _, err := svc.SetField(ctx, session, "values", "q1", 0, FieldInput{Content: ptr(text)}); err != nil {
			t.Fatalf("SetField(%q) error = %v", text, err)
		}
	}
	clock.fireAll()

	if got := fs.saves(); got != 1 {
		t.Fatalf("expected one debounced save, got %d", got)
	}
	entry, _ := fs.slot(session.UserID, "values", "q1", 0)
	if entry.Content != "Family first" {
		t.Fatalf("expected last edit to win, got %q", entry.Content)
	}
}

func TestUnknownSectionWriteIsRejectedWithoutMutation(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	session := participantSession(t, svc, fs)
	ctx := context.Background()

	if _, err := svc.SetField(ctx, session, "vision", "q1", 0, FieldInput{Content: ptr("kept")}); err != nil {
		t.Fatalf("SetField() error = %v", err)
	}
	ws, _ := svc.lookupWorkspace(session.UserID)
	before := ws.store.Snapshot()

	_, err := svc.SetField(ctx, session, "education", "q1", 0, FieldInput{Content: ptr("lost")})
	var validation *guard.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	status, code, _, _ := mapError(err)
	if status != http.StatusUnprocessableEntity || code != "CANNOT_SAVE" {
		t.Fatalf("expected 422 CANNOT_SAVE, got %d %s", status, code)
	}
	if diff := cmp.Diff(before, ws.store.Snapshot()); diff != "" {
		t.Fatalf("snapshot changed (-before +after):\n%s", diff)
	}
	if ws.scheduler.Pending() != 1 {
		t.Fatalf("expected only the valid edit pending, got %d", ws.scheduler.Pending())
	}
}

func TestSetFieldRejectsSlotsPastRespondentCap(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	session := participantSession(t, svc, fs)

	_, err := svc.SetField(context.Background(), session, "vision", "q1", 3, FieldInput{Content: ptr("too many")})
	status, code, _, _ := mapError(err)
	if status != http.StatusUnprocessableEntity || code != "CANNOT_SAVE" {
		t.Fatalf("expected 422 CANNOT_SAVE, got %d %s (%v)", status, code, err)
	}
}

func TestSaveFailureKeepsLocalAnswer(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	session := participantSession(t, svc, fs)
	ctx := context.Background()

	if _, err := svc.SetField(ctx, session, "vision", "q2", 0, FieldInput{Content: ptr("Because")}); err != nil {
		t.Fatalf("SetField() error = %v", err)
	}
	fs.mu.Lock()
	fs.saveErr = errors.New("connection reset")
	fs.mu.Unlock()

	_, err := svc.Save(ctx, session, "vision", "q2", 0)
	status, code, _, _ := mapError(err)
	if status != http.StatusBadGateway || code != "SAVE_FAILED" {
		t.Fatalf("expected 502 SAVE_FAILED, got %d %s", status, code)
	}

	view, err := svc.LoadSection(ctx, session, "vision")
	if err != nil {
		t.Fatalf("LoadSection() error = %v", err)
	}
	entries := view.Answers["q2"].AsEntries()
	if len(entries) != 1 || entries[0].Content != "Because" {
		t.Fatalf("local answer lost after failed save: %+v", entries)
	}
	if diff := cmp.Diff([]string{"vision/q2/0"}, view.Unsaved); diff != "" {
		t.Fatalf("unsaved mismatch (-want +got):\n%s", diff)
	}
}

func TestClearKeepsLaterSlotPositions(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	session := participantSession(t, svc, fs)
	ctx := context.Background()

	entries := []response.Entry{{Name: "Ana", Content: "one"}, {Name: "Ben", Content: "two"}, {Name: "Cy", Content: "three"}}
	if _, err := svc.ReplaceList(ctx, session, "vision", "q1", entries); err != nil {
		t.Fatalf("ReplaceList() error = %v", err)
	}
	if _, err := svc.Clear(ctx, session, "vision", "q1", 1, false); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	ws, _ := svc.lookupWorkspace(session.UserID)
	value, _ := ws.store.Get("vision", "q1")
	want := []response.Entry{{Name: "Ana", Content: "one"}, {}, {Name: "Cy", Content: "three"}}
	if diff := cmp.Diff(want, value.AsEntries()); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
	cleared, ok := fs.slot(session.UserID, "vision", "q1", 1)
	if !ok || !cleared.Blank() {
		t.Fatalf("expected blank slot persisted at index 1, got %+v ok=%v", cleared, ok)
	}
	third, _ := fs.slot(session.UserID, "vision", "q1", 2)
	if third.Content != "three" {
		t.Fatalf("slot 2 moved: %+v", third)
	}
}

func TestTrimOnlyRemovesTrailingSlot(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	session := participantSession(t, svc, fs)
	ctx := context.Background()

	entries := []response.Entry{{Content: "one"}, {Content: "two"}}
	if _, err := svc.ReplaceList(ctx, session, "vision", "q1", entries); err != nil {
		t.Fatalf("ReplaceList() error = %v", err)
	}

	_, err := svc.Clear(ctx, session, "vision", "q1", 0, true)
	status, code, _, _ := mapError(err)
	if status != http.StatusConflict || code != "NOT_TRAILING_SLOT" {
		t.Fatalf("expected 409 NOT_TRAILING_SLOT, got %d %s", status, code)
	}

	if _, err := svc.Clear(ctx, session, "vision", "q1", 1, true); err != nil {
		t.Fatalf("Clear(trim) error = %v", err)
	}
	if _, ok := fs.slot(session.UserID, "vision", "q1", 1); ok {
		t.Fatalf("trailing slot still persisted")
	}
	if _, ok := fs.slot(session.UserID, "vision", "q1", 0); !ok {
		t.Fatalf("first slot was removed")
	}
}

func TestReplaceListDeletesStaleSlots(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	session := participantSession(t, svc, fs)
	ctx := context.Background()

	three := []response.Entry{{Content: "a"}, {Content: "b"}, {Content: "c"}}
	if _, err := svc.ReplaceList(ctx, session, "values", "q1", three); err != nil {
		t.Fatalf("ReplaceList() error = %v", err)
	}
	view, err := svc.ReplaceList(ctx, session, "values", "q1", []response.Entry{{Content: "only"}})
	if err != nil {
		t.Fatalf("ReplaceList() error = %v", err)
	}
	if got := fs.slotCount(session.UserID); got != 1 {
		t.Fatalf("expected 1 persisted slot, got %d", got)
	}
	if view.Stats.Completed != 1 || view.Stats.Total != 1 {
		t.Fatalf("unexpected stats %+v", view.Stats)
	}

	again, err := svc.ReplaceList(ctx, session, "values", "q1", []response.Entry{{Content: "only"}})
	if err != nil {
		t.Fatalf("ReplaceList() error = %v", err)
	}
	if !again.Value.Equal(view.Value) {
		t.Fatalf("replacing with the same list changed the value")
	}
}

func TestConsolidateUsesFamilyMemberLabels(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	session := participantSession(t, svc, fs)
	ctx := context.Background()
	fs.profiles[session.UserID] = store.Profile{FamilyName: "Rivera", FamilyMembers: []string{"Abuela", "Dad"}}

	entries := []response.Entry{{Content: "Stay close"}, {Content: "Work hard"}, {Content: "Travel"}}
	if _, err := svc.ReplaceList(ctx, session, "vision", "q1", entries); err != nil {
		t.Fatalf("ReplaceList() error = %v", err)
	}
	view, err := svc.Consolidate(ctx, session, "vision", "q1")
	if err != nil {
		t.Fatalf("Consolidate() error = %v", err)
	}
	want := "Abuela: Stay close\n\nDad: Work hard\n\nFamily Member 3: Travel"
	if view.Text != want {
		t.Fatalf("Consolidate() = %q, want %q", view.Text, want)
	}
	if got := fs.consolidated[session.UserID+"/vision/q1"]; got != want {
		t.Fatalf("persisted consolidated = %q", got)
	}
}

func TestLoadSectionUnknownIsNotFound(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	session := participantSession(t, svc, fs)

	_, err := svc.LoadSection(context.Background(), session, "education")
	status, code, _, _ := mapError(err)
	if status != http.StatusNotFound || code != "SECTION_NOT_FOUND" {
		t.Fatalf("expected 404 SECTION_NOT_FOUND, got %d %s", status, code)
	}
}

func TestLoadSectionReadsSavedAnswers(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	session := participantSession(t, svc, fs)
	ctx := context.Background()
	_ = fs.SaveSlot(ctx, session.UserID, "vision", "q2", 1, "Ben", "<p>Legacy matters</p>")

	view, err := svc.LoadSection(ctx, session, "vision")
	if err != nil {
		t.Fatalf("LoadSection() error = %v", err)
	}
	if diff := cmp.Diff([]bool{false, true}, view.Answered); diff != "" {
		t.Fatalf("answered mismatch (-want +got):\n%s", diff)
	}
	if view.Stats.Percentage != 50 || view.Complete {
		t.Fatalf("unexpected stats %+v complete=%v", view.Stats, view.Complete)
	}
}

func TestCloseWorkspaceCancelsPendingAutosave(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	clock := &manualClock{}
	svc.clock = clock
	session := participantSession(t, svc, fs)
	ctx := context.Background()

	if _, err := svc.SetField(ctx, session, "vision", "q1", 0, FieldInput{Content: ptr("draft")}); err != nil {
		t.Fatalf("SetField() error = %v", err)
	}
	if !svc.CloseWorkspace(session.UserID) {
		t.Fatalf("expected an open workspace to close")
	}
	clock.fireAll()
	if got := fs.saves(); got != 0 {
		t.Fatalf("expected no saves after close, got %d", got)
	}
	if svc.CloseWorkspace(session.UserID) {
		t.Fatalf("second close should report nothing to close")
	}
}

func TestCompletionNoticeSentOnce(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	mail := &fakeMailer{configured: true}
	svc.mailer = mail
	svc.cfg.AdminEmail = "office@example.com"
	session := participantSession(t, svc, fs)
	fs.profiles[session.UserID] = store.Profile{FamilyName: "Rivera"}
	ctx := context.Background()

	answer := func(sectionID, questionID, text string) {
		t.Helper()
		if _, err := svc.SetField(ctx, session, sectionID, questionID, 0, FieldInput{Content: ptr(text)}); err != nil {
			t.Fatalf("SetField() error = %v", err)
		}
		if _, err := svc.Save(ctx, session, sectionID, questionID, 0); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	answer("vision", "q1", "Together")
	answer("vision", "q2", "Roots")
	svc.background.Wait()
	if got := len(mail.completions()); got != 0 {
		t.Fatalf("notice sent before completion: %d", got)
	}

	answer("values", "q1", "Honesty")
	answer("values", "q1", "Honesty, always")
	svc.background.Wait()

	sent := mail.completions()
	if len(sent) != 1 {
		t.Fatalf("expected exactly one notice, got %d", len(sent))
	}
	if sent[0].FamilyName != "Rivera" || sent[0].Questions != 3 || sent[0].Participant != "Avery" {
		t.Fatalf("unexpected notice %+v", sent[0])
	}
	if !strings.HasSuffix(sent[0].AdminURL, "/admin/participants/"+session.UserID) {
		t.Fatalf("unexpected admin url %q", sent[0].AdminURL)
	}

	summary, err := svc.Completion(ctx, session)
	if err != nil {
		t.Fatalf("Completion() error = %v", err)
	}
	if summary.Overall.Percentage != 100 {
		t.Fatalf("expected 100%%, got %d", summary.Overall.Percentage)
	}
}

func TestSaveProfileValidatesMembers(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	session := participantSession(t, svc, fs)
	ctx := context.Background()

	_, err := svc.SaveProfile(ctx, session, ProfileInput{FamilyName: "Rivera", FamilyMembers: []string{"a", "b", "c", "d"}})
	status, _, _, _ := mapError(err)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for too many members, got %d", status)
	}

	payload, err := svc.SaveProfile(ctx, session, ProfileInput{FamilyName: "  Rivera ", FamilyMembers: []string{" Abuela "}})
	if err != nil {
		t.Fatalf("SaveProfile() error = %v", err)
	}
	if payload["familyName"] != "Rivera" || payload["displayName"] != "Avery" {
		t.Fatalf("unexpected profile payload %+v", payload)
	}
	if diff := cmp.Diff([]string{"Abuela"}, fs.profiles[session.UserID].FamilyMembers); diff != "" {
		t.Fatalf("members mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadSectionKeepsEditWhileSaveInFlight(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	clock := &manualClock{}
	svc.clock = clock
	session := participantSession(t, svc, fs)
	ctx := context.Background()

	if _, err := svc.SetField(ctx, session, "vision", "q1", 0, FieldInput{Content: ptr("old")}); err != nil {
		t.Fatalf("SetField() error = %v", err)
	}
	if _, err := svc.Save(ctx, session, "vision", "q1", 0); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	entered, release := fs.holdSaves()
	t.Cleanup(release)
	if _, err := svc.SetField(ctx, session, "vision", "q1", 0, FieldInput{Content: ptr("new text")}); err != nil {
		t.Fatalf("SetField() error = %v", err)
	}
	fired := make(chan struct{})
	go func() {
		clock.fireAll()
		close(fired)
	}()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("autosave never reached the store")
	}

	view, err := svc.LoadSection(ctx, session, "vision")
	if err != nil {
		t.Fatalf("LoadSection() error = %v", err)
	}
	if got := view.Answers["q1"].AsEntries()[0].Content; got != "new text" {
		t.Fatalf("content during save = %q, want %q", got, "new text")
	}

	release()
	<-fired
	saved, _ := fs.slot(session.UserID, "vision", "q1", 0)
	if saved.Content != "new text" {
		t.Fatalf("saved content = %q, want %q", saved.Content, "new text")
	}

	view, err = svc.LoadSection(ctx, session, "vision")
	if err != nil {
		t.Fatalf("LoadSection() error = %v", err)
	}
	if got := view.Answers["q1"].AsEntries()[0].Content; got != "new text" {
		t.Fatalf("content after save = %q, want %q", got, "new text")
	}
}

func TestLoadSectionRefetchesWhenIdle(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	session := participantSession(t, svc, fs)
	ctx := context.Background()

	if _, err := svc.LoadSection(ctx, session, "values"); err != nil {
		t.Fatalf("LoadSection() error = %v", err)
	}
	if err := fs.SaveSlot(ctx, session.UserID, "values", "q1", 0, "", "Saved elsewhere"); err != nil {
		t.Fatalf("SaveSlot() error = %v", err)
	}

	view, err := svc.LoadSection(ctx, session, "values")
	if err != nil {
		t.Fatalf("LoadSection() error = %v", err)
	}
	if got := view.Answers["q1"].AsEntries(); len(got) != 1 || got[0].Content != "Saved elsewhere" {
		t.Fatalf("unexpected answers %+v", got)
	}
	if !view.Complete || !view.Answered[0] {
		t.Fatalf("expected the section to be complete, got %+v", view)
	}
}

func TestSaveRejectsUnknownSlot(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	session := participantSession(t, svc, fs)
	ctx := context.Background()

	tests := []struct {
		name       string
		sectionID  string
		questionID string
		index      int
	}{
		{name: "unknown section", sectionID: "education", questionID: "q1", index: 0},
		{name: "unknown question", sectionID: "vision", questionID: "q99", index: 0},
		{name: "negative index", sectionID: "vision", questionID: "q1", index: -1},
		{name: "past respondent cap", sectionID: "vision", questionID: "q1", index: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Save(ctx, session, tt.sectionID, tt.questionID, tt.index)
			var validation *guard.ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
	if got := fs.saves(); got != 0 {
		t.Fatalf("expected no saves, got %d", got)
	}
}
