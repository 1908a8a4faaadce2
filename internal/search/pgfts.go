package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"charter/api/internal/response"
)

// PgFTS searches response_slots through its generated tsvector column.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres the API is down anyway.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	q = normalizeQuery(q)
	if q.Text == "" {
		return nil, 0, nil
	}
	where, args := pgWhere(q)

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM response_slots WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT user_id, section_id, question_id, slot_index, name,
			ts_headline('english', content, plainto_tsquery('english', $1),
				'StartSel=<mark>,StopSel=</mark>,MaxFragments=1,MaxWords=30') AS snippet
		FROM response_slots
		WHERE %s
		ORDER BY ts_rank(fts, plainto_tsquery('english', $1)) DESC, updated_at DESC
		LIMIT %d OFFSET %d`, where, q.Limit, q.Offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.UserID, &r.SectionID, &r.QuestionID, &r.Slot, &r.Name, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.ID = RecordID(r.UserID, r.SectionID, r.QuestionID, r.Slot)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

func pgWhere(q Query) (string, []any) {
	clauses := []string{"fts @@ plainto_tsquery('english', $1)"}
	args := []any{q.Text}
	if q.FilterSection != "" {
		args = append(args, q.FilterSection)
		clauses = append(clauses, fmt.Sprintf("section_id = $%d", len(args)))
	}
	if q.FilterUserID != "" {
		args = append(args, q.FilterUserID)
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

// LoadAllRecords returns every saved slot for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]AnswerRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id, section_id, question_id, slot_index, name, content
		FROM response_slots
	`)
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	defer rows.Close()

	records := make([]AnswerRecord, 0)
	for rows.Next() {
		var r AnswerRecord
		if err := rows.Scan(&r.UserID, &r.SectionID, &r.QuestionID, &r.Slot, &r.Name, &r.Content); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		r.ID = RecordID(r.UserID, r.SectionID, r.QuestionID, r.Slot)
		r.Content = strings.TrimSpace(response.StripMarkup(r.Content))
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return records, nil
}
