// Package search lets administrators find answers across every charter.
// Meilisearch is preferred; PostgreSQL full-text search is the fallback.
package search

import (
	"context"
	"strconv"
	"strings"
)

// Result is a single answer hit.
type Result struct {
	ID         string `json:"id"`
	UserID     string `json:"userId"`
	SectionID  string `json:"sectionId"`
	QuestionID string `json:"questionId"`
	Slot       int    `json:"slot"`
	Name       string `json:"name,omitempty"`
	Snippet    string `json:"snippet"`
}

type Query struct {
	Text          string
	FilterSection string
	FilterUserID  string
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer pushes answers into a search index.
type Indexer interface {
	IndexAnswers(records []AnswerRecord) error
	DeleteAnswer(id string) error
}

// AnswerRecord is the data indexed for one respondent slot. Content is
// plain text with markup removed.
type AnswerRecord struct {
	ID         string `json:"id"`
	UserID     string `json:"userId"`
	SectionID  string `json:"sectionId"`
	QuestionID string `json:"questionId"`
	Slot       int    `json:"slot"`
	Name       string `json:"name"`
	Content    string `json:"content"`
}

// RecordID builds the index id of a slot. Meilisearch ids allow only
// letters, digits, '-' and '_'.
func RecordID(userID, sectionID, questionID string, slot int) string {
	return strings.Join([]string{userID, sectionID, questionID, strconv.Itoa(slot)}, "-")
}

func normalizeQuery(q Query) Query {
	q.Text = strings.TrimSpace(q.Text)
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
