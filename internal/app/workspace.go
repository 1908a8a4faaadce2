package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"charter/api/internal/autosave"
	"charter/api/internal/catalog"
	"charter/api/internal/completion"
	"charter/api/internal/response"
	"charter/api/internal/responsestore"
)

// workspace is one participant's open charter: the owned response store and
// the autosave scheduler that persists its slots.
type workspace struct {
	userID    string
	store     *responsestore.Store
	scheduler *autosave.Scheduler
	// edits is held shared by every local write and its save hand-off, and
	// exclusively by a refetch, so a refetch never lands between the two.
	edits sync.RWMutex

	mu       sync.Mutex
	complete bool
	failed   map[autosave.SlotKey]error
}

func (w *workspace) close() {
	w.scheduler.Close()
	w.store.Reset()
}

// markComplete records the charter's completeness and reports whether it
// just became complete.
func (w *workspace) markComplete(complete bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	became := complete && !w.complete
	w.complete = complete
	return became
}

func (w *workspace) recordFailure(key autosave.SlotKey, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failed[key] = err
}

func (w *workspace) clearFailure(key autosave.SlotKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.failed, key)
}

func (w *workspace) hasFailures() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.failed) > 0
}

// unsaved lists slots of sectionID whose last autosave failed.
func (w *workspace) unsaved(sectionID string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0)
	for key := range w.failed {
		if key.SectionID == sectionID {
			out = append(out, key.String())
		}
	}
	sort.Strings(out)
	return out
}

func (s *Service) newWorkspace(userID string) *workspace {
	ws := &workspace{
		userID: userID,
		store:  responsestore.New(s.catalog, s.guard),
		failed: make(map[autosave.SlotKey]error),
	}
	ws.scheduler = autosave.New(s.cfg.AutosaveDelay,
		autosave.WithClock(s.clock),
		autosave.WithLogger(s.logger.With(zap.String("user_id", userID))),
		autosave.WithErrorHandler(ws.recordFailure),
	)
	return ws
}

// openWorkspace returns the participant's workspace, loading every saved
// section on first use.
func (s *Service) openWorkspace(ctx context.Context, userID string) (*workspace, bool, error) {
	s.wsMu.Lock()
	if ws, ok := s.workspaces[userID]; ok {
		s.wsMu.Unlock()
		return ws, false, nil
	}
	s.wsMu.Unlock()

	fetched, err := s.store.FetchAllResponses(ctx, userID)
	if err != nil {
		s.logger.Error("fetch responses failed", zap.String("user_id", userID), zap.Error(err))
		return nil, false, domainError(http.StatusBadGateway, "LOAD_FAILED", "Your charter could not be loaded", nil)
	}
	ws := s.newWorkspace(userID)
	for _, section := range s.catalog.Sections() {
		answers, ok := fetched[string(section.ID)]
		if !ok {
			continue
		}
		if err := ws.store.Load(string(section.ID), answers); err != nil {
			ws.close()
			return nil, false, fmt.Errorf("load section %s: %w", section.ID, err)
		}
	}
	ws.complete = completion.Overall(ws.store.Snapshot(), s.catalog).Complete()

	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	if existing, ok := s.workspaces[userID]; ok {
		ws.close()
		return existing, false, nil
	}
	s.workspaces[userID] = ws
	return ws, true, nil
}

func (s *Service) lookupWorkspace(userID string) (*workspace, bool) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	ws, ok := s.workspaces[userID]
	return ws, ok
}

// CloseWorkspace cancels pending autosaves and discards the participant's
// answers from memory.
func (s *Service) CloseWorkspace(userID string) bool {
	s.wsMu.Lock()
	ws, ok := s.workspaces[userID]
	delete(s.workspaces, userID)
	s.wsMu.Unlock()
	if !ok {
		return false
	}
	ws.close()
	return true
}

type SectionView struct {
	Section  catalog.Section  `json:"section"`
	Answers  response.Answers `json:"answers"`
	Stats    completion.Stats `json:"stats"`
	Complete bool             `json:"complete"`
	Answered []bool           `json:"answered"`
	Unsaved  []string         `json:"unsaved"`
}

func (s *Service) sectionView(ws *workspace, section catalog.Section) (SectionView, error) {
	answers, err := ws.store.Section(string(section.ID))
	if err != nil {
		return SectionView{}, err
	}
	if answers == nil {
		answers = response.Answers{}
	}
	summary := completion.SectionBreakdown(answers, section)
	return SectionView{
		Section:  section,
		Answers:  answers,
		Stats:    summary.Stats,
		Complete: summary.Complete,
		Answered: summary.Answered,
		Unsaved:  ws.unsaved(string(section.ID)),
	}, nil
}

// LoadSection fetches a section and applies it to the workspace. When a save
// is pending, running or has failed, the local answers are newer than the
// database and the refetch is skipped.
func (s *Service) LoadSection(ctx context.Context, session Session, sectionID string) (SectionView, error) {
	if !s.guard.AssertValidSection(sectionID, "app.LoadSection") {
		return SectionView{}, domainError(http.StatusNotFound, "SECTION_NOT_FOUND", "Section not found", map[string]any{"sectionId": sectionID})
	}
	section, _ := s.catalog.Section(sectionID)

	ws, opened, err := s.openWorkspace(ctx, session.UserID)
	if err != nil {
		return SectionView{}, err
	}
	if !opened {
		if err := s.refetchSection(ctx, ws, sectionID); err != nil {
			return SectionView{}, err
		}
	}
	return s.sectionView(ws, section)
}

func (s *Service) refetchSection(ctx context.Context, ws *workspace, sectionID string) error {
	ws.edits.Lock()
	defer ws.edits.Unlock()
	if ws.scheduler.Busy() || ws.hasFailures() {
		return nil
	}
	fetched, err := s.store.FetchSectionResponses(ctx, ws.userID, sectionID)
	if err != nil {
		s.logger.Error("fetch section failed", zap.String("user_id", ws.userID), zap.String("section_id", sectionID), zap.Error(err))
		return domainError(http.StatusBadGateway, "LOAD_FAILED", "Section could not be loaded", nil)
	}
	return ws.store.Load(sectionID, fetched)
}

type FieldInput struct {
	Name    *string `json:"name"`
	Content *string `json:"content"`
}

type SlotView struct {
	SectionID  string           `json:"sectionId"`
	QuestionID string           `json:"questionId"`
	Index      int              `json:"index"`
	Entry      response.Entry   `json:"entry"`
	Stats      completion.Stats `json:"stats"`
	Saved      bool             `json:"saved"`
}

func (s *Service) slotView(ws *workspace, key autosave.SlotKey, saved bool) SlotView {
	entry, _ := ws.store.Entry(key.SectionID, key.QuestionID, key.Index)
	view := SlotView{
		SectionID:  key.SectionID,
		QuestionID: key.QuestionID,
		Index:      key.Index,
		Entry:      entry,
		Saved:      saved,
	}
	if section, ok := s.catalog.Section(key.SectionID); ok {
		answers, _ := ws.store.Section(key.SectionID)
		view.Stats = completion.Section(answers, section)
	}
	return view
}

func (s *Service) checkRespondent(index int, caller string) error {
	if index >= s.maxRespondents() {
		return s.guard.Reject("index", strconv.Itoa(index), caller, responsestore.ErrInvalidIndex)
	}
	return nil
}

// SetField edits one slot and schedules its autosave.
func (s *Service) SetField(ctx context.Context, session Session, sectionID, questionID string, index int, input FieldInput) (SlotView, error) {
	const caller = "app.SetField"
	if err := s.checkRespondent(index, caller); err != nil {
		return SlotView{}, err
	}
	if input.Name == nil && input.Content == nil {
		return SlotView{}, s.guard.Reject("field", "", caller, responsestore.ErrUnknownField)
	}
	ws, _, err := s.openWorkspace(ctx, session.UserID)
	if err != nil {
		return SlotView{}, err
	}
	ws.edits.RLock()
	defer ws.edits.RUnlock()
	if input.Name != nil {
		if err := ws.store.SetField(sectionID, questionID, index, responsestore.FieldName, *input.Name); err != nil {
			return SlotView{}, err
		}
	}
	if input.Content != nil {
		if err := ws.store.SetField(sectionID, questionID, index, responsestore.FieldContent, *input.Content); err != nil {
			return SlotView{}, err
		}
	}

	key := autosave.SlotKey{SectionID: sectionID, QuestionID: questionID, Index: index}
	if err := ws.scheduler.Schedule(key, s.saveTask(ws, key)); err != nil {
		if errors.Is(err, autosave.ErrClosed) {
			return SlotView{}, domainError(http.StatusConflict, "WORKSPACE_CLOSED", "The charter was closed; reload to continue", nil)
		}
		return SlotView{}, err
	}
	return s.slotView(ws, key, false), nil
}

// Save persists a slot now. A pending autosave is run in place; otherwise
// the slot's current value is written.
func (s *Service) Save(ctx context.Context, session Session, sectionID, questionID string, index int) (SlotView, error) {
	const caller = "app.Save"
	if err := s.checkRespondent(index, caller); err != nil {
		return SlotView{}, err
	}
	ws, _, err := s.openWorkspace(ctx, session.UserID)
	if err != nil {
		return SlotView{}, err
	}
	if err := ws.store.CheckSlot(sectionID, questionID, index, caller); err != nil {
		return SlotView{}, err
	}
	ws.edits.RLock()
	defer ws.edits.RUnlock()
	key := autosave.SlotKey{SectionID: sectionID, QuestionID: questionID, Index: index}
	ran, err := ws.scheduler.Flush(ctx, key)
	if errors.Is(err, autosave.ErrClosed) {
		return SlotView{}, domainError(http.StatusConflict, "WORKSPACE_CLOSED", "The charter was closed; reload to continue", nil)
	}
	if !ran && err == nil {
		err = s.persistSlot(ctx, ws, key)
	}
	if err != nil {
		ws.recordFailure(key, err)
		return SlotView{}, saveFailed(err)
	}
	return s.slotView(ws, key, true), nil
}

// Clear empties a slot in place. With trim it removes the trailing slot
// instead.
func (s *Service) Clear(ctx context.Context, session Session, sectionID, questionID string, index int, trim bool) (SlotView, error) {
	ws, _, err := s.openWorkspace(ctx, session.UserID)
	if err != nil {
		return SlotView{}, err
	}
	ws.edits.RLock()
	defer ws.edits.RUnlock()
	key := autosave.SlotKey{SectionID: sectionID, QuestionID: questionID, Index: index}
	if !trim {
		if err := ws.store.SoftClear(sectionID, questionID, index); err != nil {
			return SlotView{}, err
		}
		ws.scheduler.Cancel(key)
		if err := s.persistSlot(ctx, ws, key); err != nil {
			ws.recordFailure(key, err)
			return SlotView{}, saveFailed(err)
		}
		return s.slotView(ws, key, true), nil
	}

	if err := ws.store.HardRemove(sectionID, questionID, index); err != nil {
		return SlotView{}, err
	}
	ws.scheduler.Cancel(key)
	if err := s.removeSlot(ctx, ws, key); err != nil {
		return SlotView{}, saveFailed(err)
	}
	s.afterSave(ws, sectionID)
	return s.slotView(ws, key, true), nil
}

type QuestionView struct {
	SectionID  string           `json:"sectionId"`
	QuestionID string           `json:"questionId"`
	Value      response.Value   `json:"value"`
	Stats      completion.Stats `json:"stats"`
}

func (s *Service) questionView(ws *workspace, sectionID, questionID string) QuestionView {
	value, _ := ws.store.Get(sectionID, questionID)
	view := QuestionView{SectionID: sectionID, QuestionID: questionID, Value: value}
	if section, ok := s.catalog.Section(sectionID); ok {
		answers, _ := ws.store.Section(sectionID)
		view.Stats = completion.Section(answers, section)
	}
	return view
}

// ReplaceList replaces a question's respondents and saves every slot.
// Persisted slots past the new length are deleted.
func (s *Service) ReplaceList(ctx context.Context, session Session, sectionID, questionID string, entries []response.Entry) (QuestionView, error) {
	const caller = "app.ReplaceList"
	if len(entries) > s.maxRespondents() {
		return QuestionView{}, s.guard.Reject("responses", strconv.Itoa(len(entries)), caller, responsestore.ErrInvalidIndex)
	}
	ws, _, err := s.openWorkspace(ctx, session.UserID)
	if err != nil {
		return QuestionView{}, err
	}
	ws.edits.RLock()
	defer ws.edits.RUnlock()
	previous, _ := ws.store.Get(sectionID, questionID)
	oldLen := len(previous.AsEntries())
	if err := ws.store.ReplaceList(sectionID, questionID, entries); err != nil {
		return QuestionView{}, err
	}

	for index, entry := range entries {
		key := autosave.SlotKey{SectionID: sectionID, QuestionID: questionID, Index: index}
		ws.scheduler.Cancel(key)
		if err := s.store.SaveSlot(ctx, session.UserID, sectionID, questionID, index, entry.Name, entry.Content); err != nil {
			ws.recordFailure(key, err)
			return QuestionView{}, saveFailed(fmt.Errorf("save slot %s: %w", key, err))
		}
		ws.clearFailure(key)
		s.indexSlot(session.UserID, key, entry)
	}
	for index := len(entries); index < oldLen; index++ {
		key := autosave.SlotKey{SectionID: sectionID, QuestionID: questionID, Index: index}
		ws.scheduler.Cancel(key)
		if err := s.removeSlot(ctx, ws, key); err != nil {
			return QuestionView{}, saveFailed(err)
		}
	}
	s.afterSave(ws, sectionID)
	return s.questionView(ws, sectionID, questionID), nil
}

type ConsolidatedView struct {
	SectionID  string `json:"sectionId"`
	QuestionID string `json:"questionId"`
	Text       string `json:"text"`
}

// Consolidate renders a question's respondents as one labelled block and
// stores it next to the per-respondent slots.
func (s *Service) Consolidate(ctx context.Context, session Session, sectionID, questionID string) (ConsolidatedView, error) {
	ws, _, err := s.openWorkspace(ctx, session.UserID)
	if err != nil {
		return ConsolidatedView{}, err
	}
	var members []string
	profile, err := s.store.GetProfile(ctx, session.UserID)
	if err != nil {
		s.logger.Warn("profile lookup failed, using default labels", zap.String("user_id", session.UserID), zap.Error(err))
	} else if profile != nil {
		members = profile.FamilyMembers
	}
	text, err := ws.store.Consolidated(sectionID, questionID, response.MemberLabels(members))
	if err != nil {
		return ConsolidatedView{}, err
	}
	if err := s.store.SaveConsolidated(ctx, session.UserID, sectionID, questionID, text); err != nil {
		return ConsolidatedView{}, saveFailed(err)
	}
	return ConsolidatedView{SectionID: sectionID, QuestionID: questionID, Text: text}, nil
}

// Completion is the dashboard breakdown of the participant's workspace.
func (s *Service) Completion(ctx context.Context, session Session) (completion.Summary, error) {
	ws, _, err := s.openWorkspace(ctx, session.UserID)
	if err != nil {
		return completion.Summary{}, err
	}
	return completion.Breakdown(ws.store.Snapshot(), s.catalog), nil
}

func (s *Service) saveTask(ws *workspace, key autosave.SlotKey) autosave.Task {
	return func(ctx context.Context) error {
		return s.persistSlot(ctx, ws, key)
	}
}

// persistSlot writes the slot's current value. A slot that no longer
// exists locally has nothing to save.
func (s *Service) persistSlot(ctx context.Context, ws *workspace, key autosave.SlotKey) error {
	entry, ok := ws.store.Entry(key.SectionID, key.QuestionID, key.Index)
	if !ok {
		return nil
	}
	if err := s.store.SaveSlot(ctx, ws.userID, key.SectionID, key.QuestionID, key.Index, entry.Name, entry.Content); err != nil {
		return fmt.Errorf("save slot %s: %w", key, err)
	}
	ws.clearFailure(key)
	s.indexSlot(ws.userID, key, entry)
	s.afterSave(ws, key.SectionID)
	return nil
}

func (s *Service) removeSlot(ctx context.Context, ws *workspace, key autosave.SlotKey) error {
	if err := s.store.DeleteSlot(ctx, ws.userID, key.SectionID, key.QuestionID, key.Index); err != nil {
		return fmt.Errorf("delete slot %s: %w", key, err)
	}
	ws.clearFailure(key)
	s.indexSlot(ws.userID, key, response.Entry{})
	return nil
}

func (s *Service) indexSlot(userID string, key autosave.SlotKey, entry response.Entry) {
	if s.search == nil {
		return
	}
	s.search.IndexSlot(userID, key.SectionID, key.QuestionID, key.Index, entry)
}

// afterSave refreshes the completion projection and sends the completion
// notice the first time every question is answered.
func (s *Service) afterSave(ws *workspace, sectionID string) {
	summary := completion.Breakdown(ws.store.Snapshot(), s.catalog)
	if section, ok := summary.Find(catalog.SectionID(sectionID)); ok {
		s.projection.UpdateSectionCompletion(ws.userID, sectionID, section.Stats.Percentage, section.Complete)
	}
	s.projection.UpdateOverallCompletion(ws.userID, summary.Overall.Percentage)
	if ws.markComplete(summary.Overall.Complete()) {
		s.notifyComplete(ws.userID, summary)
	}
}
