package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"charter/api/internal/completion"
	"charter/api/internal/email"
	"charter/api/internal/export"
	"charter/api/internal/history"
	"charter/api/internal/response"
	"charter/api/internal/store"
)

const (
	notifyTimeout  = 10 * time.Second
	archiveTimeout = 30 * time.Second
	historyLimit   = 50
)

// notifyComplete tells the administrator that a participant answered every
// question. Without mail or an admin address it is only logged.
func (s *Service) notifyComplete(userID string, summary completion.Summary) {
	s.logger.Info("charter completed",
		zap.String("user_id", userID),
		zap.Int("questions", summary.Overall.Total),
	)
	if !s.SMTPConfigured() || strings.TrimSpace(s.cfg.AdminEmail) == "" {
		return
	}
	s.goBackground(func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		user, err := s.store.GetUserByID(ctx, userID)
		if err != nil {
			s.logger.Warn("completion notice skipped, user lookup failed", zap.String("user_id", userID), zap.Error(err))
			return
		}
		familyName := ""
		if profile, err := s.store.GetProfile(ctx, userID); err == nil && profile != nil {
			familyName = profile.FamilyName
		}
		data := email.CharterCompleteData{
			Participant: user.DisplayName,
			FamilyName:  familyName,
			Email:       user.Email,
			Sections:    len(summary.Sections),
			Questions:   summary.Overall.Total,
			AdminURL:    strings.TrimRight(s.cfg.PublicURL, "/") + "/admin/participants/" + userID,
		}
		if err := s.mailer.SendCharterComplete(s.cfg.AdminEmail, data); err != nil {
			s.logger.Warn("completion notice failed", zap.String("user_id", userID), zap.Error(err))
		}
	})
}

// charterSnapshot returns the participant's answers: the open workspace's
// when there is one, the saved answers otherwise.
func (s *Service) charterSnapshot(ctx context.Context, userID string) (response.Sections, error) {
	if ws, ok := s.lookupWorkspace(userID); ok {
		return ws.store.Snapshot(), nil
	}
	sections, err := s.store.FetchAllResponses(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch responses: %w", err)
	}
	return sections, nil
}

// loadCharter reads the profile and answers concurrently.
func (s *Service) loadCharter(ctx context.Context, userID string) (*store.Profile, response.Sections, error) {
	var (
		profile   *store.Profile
		responses response.Sections
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.store.GetProfile(gctx, userID)
		if err != nil {
			return fmt.Errorf("get profile: %w", err)
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		r, err := s.charterSnapshot(gctx, userID)
		if err != nil {
			return err
		}
		responses = r
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return profile, responses, nil
}

// Export renders the charter, records the version in history and archives
// the file when object storage is configured.
func (s *Service) Export(ctx context.Context, session Session, rawFormat string) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, domainError(http.StatusBadRequest, "INVALID_FORMAT", err.Error(), map[string]any{"supported": []string{"html", "pdf", "docx"}})
	}

	profile, responses, err := s.loadCharter(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	exportProfile := export.Profile{DisplayName: session.UserName}
	if profile != nil {
		exportProfile.FamilyName = profile.FamilyName
		exportProfile.FamilyMembers = profile.FamilyMembers
		if profile.DisplayName != "" {
			exportProfile.DisplayName = profile.DisplayName
		}
	}

	result, err := s.exporter.Export(ctx, export.Input{
		Profile:   exportProfile,
		Responses: responses,
		Catalog:   s.catalog,
	}, format)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
			return nil, &DomainError{Status: http.StatusServiceUnavailable, Code: "EXPORT_DEPENDENCY_MISSING", Message: err.Error(), Err: err}
		}
		return nil, &DomainError{Status: http.StatusInternalServerError, Code: "EXPORT_FAILED", Message: "Export failed", Err: err}
	}

	overall := completion.Overall(responses, s.catalog)
	s.recordHistory(session, exportProfile, overall.Percentage, responses, format)
	s.archiveExport(session.UserID, result)
	return result, nil
}

func (s *Service) recordHistory(session Session, profile export.Profile, percentage int, responses response.Sections, format export.Format) {
	if s.history == nil {
		return
	}
	snap := history.Snapshot{
		FamilyName:    profile.FamilyName,
		FamilyMembers: profile.FamilyMembers,
		Completion:    percentage,
		Responses:     responses,
	}
	message := fmt.Sprintf("Export %s at %d%% complete", format, percentage)
	commit, created, err := s.history.Record(session.UserID, snap, session.UserName, message)
	if err != nil {
		s.logger.Warn("history record failed", zap.String("user_id", session.UserID), zap.Error(err))
		return
	}
	if created {
		s.logger.Info("history recorded", zap.String("user_id", session.UserID), zap.String("hash", commit.Hash))
	}
}

func (s *Service) archiveExport(userID string, result *export.Result) {
	if s.archive == nil {
		return
	}
	data := append([]byte(nil), result.Data...)
	filename, mimeType := result.Filename, result.MimeType
	s.goBackground(func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		object, err := s.archive.Put(ctx, userID, filename, mimeType, data)
		if err != nil {
			s.logger.Warn("export archive failed", zap.String("user_id", userID), zap.Error(err))
			return
		}
		s.logger.Info("export archived", zap.String("user_id", userID), zap.String("key", object.Key), zap.Int64("size", object.Size))
	})
}

// History lists the participant's exported versions, newest first.
func (s *Service) History(_ context.Context, userID string) (map[string]any, error) {
	items := make([]store.CommitInfo, 0)
	if s.history != nil {
		found, err := s.history.History(userID, historyLimit)
		if err != nil {
			return nil, fmt.Errorf("read history: %w", err)
		}
		items = found
	}
	return map[string]any{"userId": userID, "history": items}, nil
}

// HistoryVersion returns one recorded snapshot with its completion figures.
func (s *Service) HistoryVersion(_ context.Context, userID, hash string) (map[string]any, error) {
	if s.history == nil {
		return nil, domainError(http.StatusNotFound, "VERSION_NOT_FOUND", "Version not found", nil)
	}
	snap, err := s.history.Version(userID, hash)
	if err != nil {
		if !errors.Is(err, history.ErrNoHistory) {
			s.logger.Info("history version lookup failed", zap.String("user_id", userID), zap.String("hash", hash), zap.Error(err))
		}
		return nil, domainError(http.StatusNotFound, "VERSION_NOT_FOUND", "Version not found", map[string]any{"hash": hash})
	}
	return map[string]any{
		"hash":          hash,
		"familyName":    snap.FamilyName,
		"familyMembers": snap.FamilyMembers,
		"completion":    completion.Breakdown(snap.Responses, s.catalog),
		"responses":     snap.Responses,
	}, nil
}
