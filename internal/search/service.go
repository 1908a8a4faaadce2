package search

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"charter/api/internal/response"
)

// Backend is a searchable and indexable answer store.
type Backend interface {
	Searcher
	Indexer
}

type recordLoader interface {
	LoadAllRecords(ctx context.Context) ([]AnswerRecord, error)
}

// Service is the facade that tries the primary index first and falls back
// to Postgres full-text search.
type Service struct {
	primary  Backend
	fallback Searcher
	logger   *zap.Logger
}

// NewService creates a search service. primary may be nil when Meilisearch
// is not configured.
func NewService(primary Backend, fallback Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{primary: primary, fallback: fallback, logger: logger.Named("search")}
}

func (s *Service) primaryReady() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search never fails; backend errors yield an empty response.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q = normalizeQuery(q)
	empty := Response{Results: []Result{}, Query: q.Text}
	if q.Text == "" {
		return empty
	}
	if s.primaryReady() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}
	if s.fallback == nil {
		return empty
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("pgfts error", zap.Error(err))
		return empty
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "postgres"}
}

// IndexSlot indexes one respondent slot without waiting. A slot with no
// text is removed from the index instead.
func (s *Service) IndexSlot(userID, sectionID, questionID string, slot int, entry response.Entry) {
	if !s.primaryReady() {
		return
	}
	record := AnswerRecord{
		ID:         RecordID(userID, sectionID, questionID, slot),
		UserID:     userID,
		SectionID:  sectionID,
		QuestionID: questionID,
		Slot:       slot,
		Name:       strings.TrimSpace(entry.Name),
		Content:    strings.TrimSpace(response.StripMarkup(entry.Content)),
	}
	go func() {
		var err error
		if entry.Blank() {
			err = s.primary.DeleteAnswer(record.ID)
		} else {
			err = s.primary.IndexAnswers([]AnswerRecord{record})
		}
		if err != nil {
			s.logger.Warn("index answer failed", zap.String("id", record.ID), zap.Error(err))
		}
	}()
}

// ReindexAll pushes every saved slot from loader into the primary index.
func (s *Service) ReindexAll(ctx context.Context, loader recordLoader) {
	if !s.primaryReady() || loader == nil {
		return
	}
	records, err := loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("reindex load failed", zap.Error(err))
		return
	}
	if err := s.primary.IndexAnswers(records); err != nil {
		s.logger.Error("reindex answers failed", zap.Int("count", len(records)), zap.Error(err))
		return
	}
	s.logger.Info("reindexed answers", zap.Int("count", len(records)))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
