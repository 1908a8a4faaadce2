package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"charter/api/internal/archive"
	"charter/api/internal/auth"
	"charter/api/internal/authpw"
	"charter/api/internal/autosave"
	"charter/api/internal/catalog"
	"charter/api/internal/config"
	"charter/api/internal/email"
	"charter/api/internal/export"
	"charter/api/internal/guard"
	"charter/api/internal/history"
	"charter/api/internal/projection"
	"charter/api/internal/rbac"
	"charter/api/internal/response"
	"charter/api/internal/search"
	"charter/api/internal/store"
	"charter/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         rbac.Role
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	FetchSectionResponses(context.Context, string, string) (response.Answers, error)
	FetchAllResponses(context.Context, string) (response.Sections, error)
	SaveSlot(context.Context, string, string, string, int, string, string) error
	DeleteSlot(context.Context, string, string, string, int) error
	SaveConsolidated(context.Context, string, string, string, string) error
	GetProfile(context.Context, string) (*store.Profile, error)
	SaveProfile(context.Context, string, store.Profile) (store.Profile, error)
	ListParticipants(context.Context) ([]store.Participant, error)
	Ping(ctx context.Context) error
}

// sessionStore keeps refresh sessions and revoked access tokens. Redis when
// configured, otherwise the Postgres tables.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, store.User, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendCharterComplete(to string, data email.CharterCompleteData) error
}

type exporter interface {
	Export(ctx context.Context, in export.Input, format export.Format) (*export.Result, error)
}

type historyStore interface {
	Record(profileID string, snap history.Snapshot, author, message string) (store.CommitInfo, bool, error)
	History(profileID string, limit int) ([]store.CommitInfo, error)
	Version(profileID, hash string) (history.Snapshot, error)
}

type answerSearch interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexSlot(userID, sectionID, questionID string, slot int, entry response.Entry)
}

// Dependencies are the collaborators wired by cmd/api. Optional ones may be
// nil: Sessions falls back to Store, a nil Archive disables archiving, a nil
// Search disables indexing and admin search.
type Dependencies struct {
	Store      *store.PostgresStore
	Sessions   sessionStore
	Catalog    *catalog.Catalog
	Auth       *authpw.Service
	Email      *email.Service
	Projection *projection.Service
	Exporter   *export.Service
	History    *history.Service
	Archive    *archive.Archive
	Search     *search.Service
	Logger     *zap.Logger
}

type Service struct {
	cfg        config.Config
	catalog    *catalog.Catalog
	guard      *guard.Guard
	store      dataStore
	sessions   sessionStore
	auth       *authpw.Service
	mailer     mailer
	projection *projection.Service
	exporter   exporter
	history    historyStore
	archive    *archive.Archive
	search     answerSearch
	logger     *zap.Logger
	clock      autosave.Clock

	// separateSessions is set when sessions live outside Postgres.
	separateSessions bool

	wsMu       sync.Mutex
	workspaces map[string]*workspace
	background sync.WaitGroup
}

func New(cfg config.Config, deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cat := deps.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	svc := &Service{
		cfg:        cfg,
		catalog:    cat,
		guard:      guard.New(cat, logger),
		auth:       deps.Auth,
		projection: deps.Projection,
		archive:    deps.Archive,
		logger:     logger.Named("app"),
		clock:      autosave.RealClock(),
		workspaces: make(map[string]*workspace),
	}
	if deps.Store != nil {
		svc.store = deps.Store
		svc.sessions = deps.Store
	}
	if deps.Sessions != nil {
		svc.sessions = deps.Sessions
		svc.separateSessions = true
	}
	if deps.Email != nil {
		svc.mailer = deps.Email
	}
	if deps.Exporter != nil {
		svc.exporter = deps.Exporter
	}
	if deps.History != nil {
		svc.history = deps.History
	}
	if deps.Search != nil {
		svc.search = deps.Search
	}
	if svc.projection == nil {
		svc.projection = projection.New(nil, logger)
	}
	return svc
}

// Close tears down every open workspace and waits for background work.
func (s *Service) Close() {
	s.wsMu.Lock()
	open := s.workspaces
	s.workspaces = make(map[string]*workspace)
	s.wsMu.Unlock()
	for _, ws := range open {
		ws.close()
	}
	s.background.Wait()
	s.projection.Wait()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingSessions checks the session backend when it supports it.
func (s *Service) PingSessions(ctx context.Context) (bool, error) {
	if !s.separateSessions {
		return false, nil
	}
	pinger, ok := s.sessions.(interface{ Ping(context.Context) error })
	if !ok {
		return false, nil
	}
	return true, pinger.Ping(ctx)
}

func (s *Service) Catalog() []catalog.Section {
	return s.catalog.Sections()
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.auth
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")
	role := rbac.Normalize(user.Role)

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.DisplayName,
		Email: user.Email,
		Role:  string(role),
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Email:     claims.Email,
		Role:      rbac.Normalize(claims.Role),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Logout revokes the tokens and closes the participant's workspace.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token failed", zap.String("user_id", session.UserID), zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh session failed", zap.String("user_id", session.UserID), zap.Error(err))
		}
	}
	s.CloseWorkspace(session.UserID)
	return nil
}

// SignUp registers a participant and sends the verification link when mail
// is configured. The returned token is only meant for the dev bypass.
func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (*authpw.SignUpResponse, error) {
	if s.auth == nil {
		return nil, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	resp, err := s.auth.SignUp(ctx, req)
	if err != nil {
		return nil, err
	}
	if s.SMTPConfigured() {
		link := s.link("/verify-email", resp.VerificationToken)
		to, name := strings.TrimSpace(req.Email), strings.TrimSpace(req.DisplayName)
		s.goBackground(func() {
			if err := s.mailer.SendVerificationEmail(to, name, link); err != nil {
				s.logger.Warn("verification email failed", zap.String("user_id", resp.UserID), zap.Error(err))
			}
		})
	}
	return resp, nil
}

// RequestPasswordReset never reveals whether the address exists.
func (s *Service) RequestPasswordReset(ctx context.Context, address string) (string, error) {
	if s.auth == nil {
		return "", domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	token, err := s.auth.RequestPasswordReset(ctx, address)
	if err != nil {
		s.logger.Warn("password reset request failed", zap.Error(err))
		return "", nil
	}
	if token != "" && s.SMTPConfigured() {
		link := s.link("/reset-password", token)
		to := strings.TrimSpace(address)
		s.goBackground(func() {
			if err := s.mailer.SendPasswordResetEmail(to, to, link); err != nil {
				s.logger.Warn("password reset email failed", zap.Error(err))
			}
		})
	}
	return token, nil
}

func (s *Service) link(path, token string) string {
	return strings.TrimRight(s.cfg.PublicURL, "/") + path + "?token=" + token
}

func (s *Service) goBackground(fn func()) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		fn()
	}()
}

type ProfileInput struct {
	FamilyName    string   `json:"familyName"`
	DisplayName   string   `json:"displayName"`
	FamilyMembers []string `json:"familyMembers"`
}

func profilePayload(userID string, profile *store.Profile, fallbackName string) map[string]any {
	if profile == nil {
		return map[string]any{
			"userId":        userID,
			"familyName":    "",
			"displayName":   fallbackName,
			"familyMembers": []string{},
			"updatedAt":     nil,
		}
	}
	members := profile.FamilyMembers
	if members == nil {
		members = []string{}
	}
	return map[string]any{
		"userId":        userID,
		"familyName":    profile.FamilyName,
		"displayName":   profile.DisplayName,
		"familyMembers": members,
		"updatedAt":     profile.UpdatedAt,
	}
}

func (s *Service) GetProfile(ctx context.Context, session Session) (map[string]any, error) {
	profile, err := s.store.GetProfile(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return profilePayload(session.UserID, profile, session.UserName), nil
}

func (s *Service) SaveProfile(ctx context.Context, session Session, input ProfileInput) (map[string]any, error) {
	familyName := strings.TrimSpace(input.FamilyName)
	if familyName == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "familyName is required", nil)
	}
	if len(input.FamilyMembers) > s.maxRespondents() {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("at most %d family members", s.maxRespondents()), nil)
	}
	members := make([]string, 0, len(input.FamilyMembers))
	for _, member := range input.FamilyMembers {
		members = append(members, strings.TrimSpace(member))
	}
	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		displayName = session.UserName
	}

	saved, err := s.store.SaveProfile(ctx, session.UserID, store.Profile{
		UserID:        session.UserID,
		FamilyName:    familyName,
		DisplayName:   displayName,
		FamilyMembers: members,
	})
	if err != nil {
		return nil, saveFailed(err)
	}
	return profilePayload(session.UserID, &saved, session.UserName), nil
}

func (s *Service) maxRespondents() int {
	if s.cfg.MaxRespondents <= 0 {
		return 12
	}
	return s.cfg.MaxRespondents
}
