package app

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"charter/api/internal/autosave"
	"charter/api/internal/catalog"
	"charter/api/internal/config"
	"charter/api/internal/email"
	"charter/api/internal/export"
	"charter/api/internal/history"
	"charter/api/internal/response"
	"charter/api/internal/store"
)

type slotAddr struct {
	userID, sectionID, questionID string
	index                         int
}

// fakeStore is an in-memory dataStore and sessionStore.
type fakeStore struct {
	mu           sync.Mutex
	users        map[string]store.User
	profiles     map[string]store.Profile
	slots        map[slotAddr]response.Entry
	consolidated map[string]string
	refresh      map[string]store.User
	revoked      map[string]bool

	saveErr   error
	pingErr   error
	saveCalls int

	// saveGate, when set, holds every SaveSlot until it is closed.
	saveGate    chan struct{}
	saveEntered chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:        make(map[string]store.User),
		profiles:     make(map[string]store.Profile),
		slots:        make(map[slotAddr]response.Entry),
		consolidated: make(map[string]string),
		refresh:      make(map[string]store.User),
		revoked:      make(map[string]bool),
	}
}

func (f *fakeStore) addUser(user store.User) store.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return user
}

func (f *fakeStore) slot(userID, sectionID, questionID string, index int) (response.Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.slots[slotAddr{userID, sectionID, questionID, index}]
	return entry, ok
}

func (f *fakeStore) slotCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for addr := range f.slots {
		if addr.userID == userID {
			n++
		}
	}
	return n
}

func (f *fakeStore) saves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveCalls
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) sectionsLocked(userID string) response.Sections {
	grouped := make(map[string]map[string][]slotAddr)
	for addr := range f.slots {
		if addr.userID != userID {
			continue
		}
		if grouped[addr.sectionID] == nil {
			grouped[addr.sectionID] = make(map[string][]slotAddr)
		}
		grouped[addr.sectionID][addr.questionID] = append(grouped[addr.sectionID][addr.questionID], addr)
	}
	out := make(response.Sections)
	for sectionID, questions := range grouped {
		answers := make(response.Answers)
		for questionID, addrs := range questions {
			sort.Slice(addrs, func(i, j int) bool { return addrs[i].index < addrs[j].index })
			entries := make([]response.Entry, addrs[len(addrs)-1].index+1)
			for _, addr := range addrs {
				entries[addr.index] = f.slots[addr]
			}
			answers[questionID] = response.List(entries...)
		}
		out[sectionID] = answers
	}
	return out
}

func (f *fakeStore) FetchSectionResponses(_ context.Context, userID, sectionID string) (response.Answers, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	answers := f.sectionsLocked(userID)[sectionID]
	if answers == nil {
		answers = response.Answers{}
	}
	return answers, nil
}

func (f *fakeStore) FetchAllResponses(_ context.Context, userID string) (response.Sections, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sectionsLocked(userID), nil
}

// holdSaves makes SaveSlot block. It returns a channel signalled as each
// save starts and a release func.
func (f *fakeStore) holdSaves() (<-chan struct{}, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	entered := make(chan struct{}, 4)
	f.saveGate, f.saveEntered = gate, entered
	var once sync.Once
	return entered, func() {
		once.Do(func() {
			f.mu.Lock()
			f.saveGate = nil
			f.mu.Unlock()
			close(gate)
		})
	}
}

func (f *fakeStore) SaveSlot(_ context.Context, userID, sectionID, questionID string, index int, name, content string) error {
	f.mu.Lock()
	gate, entered := f.saveGate, f.saveEntered
	f.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.slots[slotAddr{userID, sectionID, questionID, index}] = response.Entry{Name: name, Content: content}
	return nil
}

func (f *fakeStore) DeleteSlot(_ context.Context, userID, sectionID, questionID string, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	delete(f.slots, slotAddr{userID, sectionID, questionID, index})
	return nil
}

func (f *fakeStore) SaveConsolidated(_ context.Context, userID, sectionID, questionID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.consolidated[userID+"/"+sectionID+"/"+questionID] = text
	return nil
}

func (f *fakeStore) GetProfile(_ context.Context, userID string) (*store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &profile, nil
}

func (f *fakeStore) SaveProfile(_ context.Context, userID string, profile store.Profile) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return store.Profile{}, f.saveErr
	}
	profile.UserID = userID
	profile.UpdatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.profiles[userID] = profile
	return profile, nil
}

func (f *fakeStore) ListParticipants(context.Context) ([]store.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Participant, 0)
	for _, user := range f.users {
		if user.Role != "participant" {
			continue
		}
		item := store.Participant{User: user}
		if profile, ok := f.profiles[user.ID]; ok {
			item.Profile = &profile
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].User.ID < items[j].User.ID })
	return items, nil
}

func (f *fakeStore) Ping(context.Context) error {
	return f.pingErr
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash string, user store.User, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = user
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.refresh[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

type fakeMailer struct {
	mu         sync.Mutex
	configured bool
	completed  []email.CharterCompleteData
	recipients []string
}

func (m *fakeMailer) IsConfigured() bool { return m.configured }

func (m *fakeMailer) SendVerificationEmail(string, string, string) error { return nil }

func (m *fakeMailer) SendPasswordResetEmail(string, string, string) error { return nil }

func (m *fakeMailer) SendCharterComplete(to string, data email.CharterCompleteData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recipients = append(m.recipients, to)
	m.completed = append(m.completed, data)
	return nil
}

func (m *fakeMailer) completions() []email.CharterCompleteData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]email.CharterCompleteData(nil), m.completed...)
}

type fakeExporter struct {
	mu     sync.Mutex
	inputs []export.Input
	err    error
}

func (e *fakeExporter) Export(_ context.Context, in export.Input, format export.Format) (*export.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.inputs = append(e.inputs, in)
	return &export.Result{
		Data:     []byte("<html>charter</html>"),
		Filename: "charter." + string(format),
		MimeType: "text/html; charset=utf-8",
	}, nil
}

type fakeHistory struct {
	mu       sync.Mutex
	recorded []history.Snapshot
	commits  []store.CommitInfo
}

func (h *fakeHistory) Record(_ string, snap history.Snapshot, author, message string) (store.CommitInfo, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recorded = append(h.recorded, snap)
	commit := store.CommitInfo{Hash: fmt.Sprintf("c%d", len(h.recorded)), Message: message, Author: author}
	h.commits = append([]store.CommitInfo{commit}, h.commits...)
	return commit, true, nil
}

func (h *fakeHistory) History(string, int) ([]store.CommitInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]store.CommitInfo{}, h.commits...), nil
}

func (h *fakeHistory) Version(_ string, hash string) (history.Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, commit := range h.commits {
		if commit.Hash == hash {
			return h.recorded[len(h.recorded)-1-i], nil
		}
	}
	return history.Snapshot{}, history.ErrNoHistory
}

// manualClock fires timers only when told to.
type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

func (c *manualClock) AfterFunc(_ time.Duration, fn func()) autosave.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &manualTimer{clock: c, fn: fn}
	c.timers = append(c.timers, timer)
	return timer
}

// fireAll runs every active timer in the caller's goroutine.
func (c *manualClock) fireAll() {
	c.mu.Lock()
	due := make([]func(), 0, len(c.timers))
	for _, timer := range c.timers {
		if !timer.stopped {
			timer.stopped = true
			due = append(due, timer.fn)
		}
	}
	c.timers = nil
	c.mu.Unlock()
	for _, fn := range due {
		fn()
	}
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]catalog.Section{
		{ID: catalog.SectionVision, Title: "Vision", Questions: catalog.Prompts("Where do we want to be?", "Why?")},
		{ID: catalog.SectionValues, Title: "Values", Questions: catalog.Prompts("What do we hold dear?")},
	})
	if err != nil {
		t.Fatalf("catalog.New() error = %v", err)
	}
	return cat
}

func newTestService(t *testing.T, fs *fakeStore) *Service {
	t.Helper()
	svc := New(config.Config{
		JWTSecret:      "test-secret",
		AccessTTL:      time.Hour,
		RefreshTTL:     24 * time.Hour,
		AutosaveDelay:  time.Hour,
		MaxRespondents: 3,
		PublicURL:      "https://charter.example",
	}, Dependencies{Catalog: testCatalog(t), Logger: zap.NewNop()})
	svc.store = fs
	svc.sessions = fs
	t.Cleanup(svc.Close)
	return svc
}

func participantSession(t *testing.T, svc *Service, fs *fakeStore) Session {
	t.Helper()
	user := fs.addUser(store.User{ID: "usr_avery", DisplayName: "Avery", Email: "avery@example.com", Role: "participant", IsEmailVerified: true})
	session, err := svc.issueSession(context.Background(), user)
	if err != nil {
		t.Fatalf("issueSession() error = %v", err)
	}
	return session
}

func adminSession(t *testing.T, svc *Service, fs *fakeStore) Session {
	t.Helper()
	user := fs.addUser(store.User{ID: "usr_admin", DisplayName: "Morgan", Email: "admin@example.com", Role: "admin", IsEmailVerified: true})
	session, err := svc.issueSession(context.Background(), user)
	if err != nil {
		t.Fatalf("issueSession() error = %v", err)
	}
	return session
}

func ptr(s string) *string { return &s }
