package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"charter/api/internal/completion"
	"charter/api/internal/rbac"
	"charter/api/internal/search"
	"charter/api/internal/store"
)

const adminFanOut = 8

type ParticipantSummary struct {
	UserID          string             `json:"userId"`
	DisplayName     string             `json:"displayName"`
	Email           string             `json:"email"`
	EmailVerified   bool               `json:"emailVerified"`
	FamilyName      string             `json:"familyName"`
	Completion      completion.Summary `json:"completion"`
	CachedOverall   *int               `json:"cachedOverall,omitempty"`
	WorkspaceIsOpen bool               `json:"workspaceOpen"`
}

func (s *Service) requireAdmin(session Session) error {
	if !s.Can(session.Role, rbac.ActionViewAll) {
		return forbidden()
	}
	return nil
}

// AdminParticipants summarises every participant's progress. Figures are
// recomputed from answers; the cached projection is only reported
// alongside as a hint.
func (s *Service) AdminParticipants(ctx context.Context, session Session) ([]ParticipantSummary, error) {
	if err := s.requireAdmin(session); err != nil {
		return nil, err
	}
	participants, err := s.store.ListParticipants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	out := make([]ParticipantSummary, len(participants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(adminFanOut)
	for i, participant := range participants {
		i, participant := i, participant
		g.Go(func() error {
			summary, err := s.participantSummary(gctx, participant)
			if err != nil {
				return err
			}
			out[i] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) participantSummary(ctx context.Context, participant store.Participant) (ParticipantSummary, error) {
	user := participant.User
	responses, err := s.charterSnapshot(ctx, user.ID)
	if err != nil {
		return ParticipantSummary{}, fmt.Errorf("participant %s: %w", user.ID, err)
	}
	_, open := s.lookupWorkspace(user.ID)
	summary := ParticipantSummary{
		UserID:          user.ID,
		DisplayName:     user.DisplayName,
		Email:           user.Email,
		EmailVerified:   user.IsEmailVerified,
		Completion:      completion.Breakdown(responses, s.catalog),
		WorkspaceIsOpen: open,
	}
	if participant.Profile != nil {
		summary.FamilyName = participant.Profile.FamilyName
		if participant.Profile.DisplayName != "" {
			summary.DisplayName = participant.Profile.DisplayName
		}
	}
	cached, err := s.projection.Read(ctx, user.ID)
	if err != nil {
		s.logger.Debug("completion projection unavailable", zap.String("user_id", user.ID), zap.Error(err))
	} else if len(cached.Sections) > 0 || cached.Overall > 0 {
		overall := cached.Overall
		summary.CachedOverall = &overall
	}
	return summary, nil
}

// AdminParticipant returns one participant's profile, answers, breakdown and
// export history.
func (s *Service) AdminParticipant(ctx context.Context, session Session, userID string) (map[string]any, error) {
	if err := s.requireAdmin(session); err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile, responses, err := s.loadCharter(ctx, userID)
	if err != nil {
		return nil, err
	}
	versions, err := s.History(ctx, userID)
	if err != nil {
		s.logger.Warn("participant history unavailable", zap.String("user_id", userID), zap.Error(err))
		versions = map[string]any{"history": []store.CommitInfo{}}
	}
	return map[string]any{
		"user": map[string]any{
			"id":            user.ID,
			"displayName":   user.DisplayName,
			"email":         user.Email,
			"role":          rbac.Normalize(user.Role),
			"emailVerified": user.IsEmailVerified,
			"createdAt":     user.CreatedAt,
		},
		"profile":    profilePayload(userID, profile, user.DisplayName),
		"completion": completion.Breakdown(responses, s.catalog),
		"responses":  responses,
		"history":    versions["history"],
	}, nil
}

// AdminSearch finds answers across every charter.
func (s *Service) AdminSearch(ctx context.Context, session Session, q search.Query) (search.Response, error) {
	if err := s.requireAdmin(session); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text, Backend: "none"}, nil
	}
	return s.search.Search(ctx, q), nil
}
