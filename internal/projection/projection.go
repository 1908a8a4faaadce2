// Package projection caches per-profile completion figures in Redis for
// dashboards. Writes are best effort: they run in the background and a
// failure is only logged. Readers must treat cached numbers as a hint.
package projection

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix    = "charter:completion:"
	overallField = "overall"
	writeTimeout = 5 * time.Second
)

// SectionEntry is the cached state of one section.
type SectionEntry struct {
	Percentage int  `json:"percentage"`
	Complete   bool `json:"complete"`
}

// Snapshot is everything cached for one profile.
type Snapshot struct {
	Overall  int                     `json:"overall"`
	Sections map[string]SectionEntry `json:"sections"`
}

type Service struct {
	client *redis.Client
	logger *zap.Logger
	wg     sync.WaitGroup
}

// New returns a projection service. A nil client gives a service whose
// updates are dropped and whose reads return an empty snapshot.
func New(client *redis.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{client: client, logger: logger.Named("projection")}
}

func key(profileID string) string {
	return keyPrefix + profileID
}

func sectionField(sectionID string) string {
	return "section:" + sectionID
}

// UpdateSectionCompletion records a section's percentage without waiting.
func (s *Service) UpdateSectionCompletion(profileID, sectionID string, percentage int, isComplete bool) {
	value := strconv.Itoa(percentage)
	if isComplete {
		value += ":complete"
	}
	s.write(profileID, sectionField(sectionID), value)
}

// UpdateOverallCompletion records the overall percentage without waiting.
func (s *Service) UpdateOverallCompletion(profileID string, percentage int) {
	s.write(profileID, overallField, strconv.Itoa(percentage))
}

func (s *Service) write(profileID, field, value string) {
	if s.client == nil || profileID == "" {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := s.client.HSet(ctx, key(profileID), field, value).Err(); err != nil {
			s.logger.Warn("completion projection write failed",
				zap.String("profile_id", profileID),
				zap.String("field", field),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until every background write issued so far has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Read returns the cached snapshot. A missing key yields an empty snapshot.
func (s *Service) Read(ctx context.Context, profileID string) (Snapshot, error) {
	out := Snapshot{Sections: map[string]SectionEntry{}}
	if s.client == nil {
		return out, nil
	}
	fields, err := s.client.HGetAll(ctx, key(profileID)).Result()
	if errors.Is(err, redis.Nil) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("read completion projection: %w", err)
	}
	for field, value := range fields {
		if field == overallField {
			out.Overall, _ = strconv.Atoi(value)
			continue
		}
		sectionID, ok := strings.CutPrefix(field, "section:")
		if !ok {
			continue
		}
		raw, complete := strings.CutSuffix(value, ":complete")
		percentage, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		out.Sections[sectionID] = SectionEntry{Percentage: percentage, Complete: complete}
	}
	return out, nil
}

// Forget drops a profile's cached figures.
func (s *Service) Forget(ctx context.Context, profileID string) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Del(ctx, key(profileID)).Err(); err != nil {
		return fmt.Errorf("forget completion projection: %w", err)
	}
	return nil
}
