package store

import (
	"context"
	"fmt"
	"sort"

	"charter/api/internal/response"
)

// FetchSectionResponses assembles one section's answers for a user. Slots
// become a list per question; a question with only a consolidated record is
// returned as legacy text.
func (s *PostgresStore) FetchSectionResponses(ctx context.Context, userID, sectionID string) (response.Answers, error) {
	slots, err := s.querySlots(ctx, `
		SELECT user_id, section_id, question_id, slot_index, name, content, updated_at
		FROM response_slots
		WHERE user_id=$1 AND section_id=$2
	`, userID, sectionID)
	if err != nil {
		return nil, err
	}
	consolidated, err := s.queryConsolidated(ctx, `
		SELECT user_id, section_id, question_id, body, updated_at
		FROM consolidated_answers
		WHERE user_id=$1 AND section_id=$2
	`, userID, sectionID)
	if err != nil {
		return nil, err
	}
	return assembleSections(slots, consolidated)[sectionID], nil
}

// FetchAllResponses returns every section the user has answered.
func (s *PostgresStore) FetchAllResponses(ctx context.Context, userID string) (response.Sections, error) {
	slots, err := s.querySlots(ctx, `
		SELECT user_id, section_id, question_id, slot_index, name, content, updated_at
		FROM response_slots
		WHERE user_id=$1
	`, userID)
	if err != nil {
		return nil, err
	}
	consolidated, err := s.queryConsolidated(ctx, `
		SELECT user_id, section_id, question_id, body, updated_at
		FROM consolidated_answers
		WHERE user_id=$1
	`, userID)
	if err != nil {
		return nil, err
	}
	return assembleSections(slots, consolidated), nil
}

// SaveSlot upserts one respondent slot.
func (s *PostgresStore) SaveSlot(ctx context.Context, userID, sectionID, questionID string, index int, name, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO response_slots (user_id, section_id, question_id, slot_index, name, content)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, section_id, question_id, slot_index) DO UPDATE
			SET name=EXCLUDED.name, content=EXCLUDED.content, updated_at=NOW()
	`, userID, sectionID, questionID, index, name, content)
	if err != nil {
		return fmt.Errorf("save response slot: %w", err)
	}
	return nil
}

// DeleteSlot removes one slot record. Deleting a missing slot is not an error.
func (s *PostgresStore) DeleteSlot(ctx context.Context, userID, sectionID, questionID string, index int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM response_slots
		WHERE user_id=$1 AND section_id=$2 AND question_id=$3 AND slot_index=$4
	`, userID, sectionID, questionID, index)
	if err != nil {
		return fmt.Errorf("delete response slot: %w", err)
	}
	return nil
}

// SaveConsolidated upserts the combined text record of a question.
func (s *PostgresStore) SaveConsolidated(ctx context.Context, userID, sectionID, questionID, text string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consolidated_answers (user_id, section_id, question_id, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, section_id, question_id) DO UPDATE
			SET body=EXCLUDED.body, updated_at=NOW()
	`, userID, sectionID, questionID, text)
	if err != nil {
		return fmt.Errorf("save consolidated answer: %w", err)
	}
	return nil
}

func (s *PostgresStore) querySlots(ctx context.Context, query string, args ...any) ([]ResponseSlot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query response slots: %w", err)
	}
	defer rows.Close()

	slots := make([]ResponseSlot, 0)
	for rows.Next() {
		var slot ResponseSlot
		if err := rows.Scan(&slot.UserID, &slot.SectionID, &slot.QuestionID, &slot.Index, &slot.Name, &slot.Content, &slot.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan response slot: %w", err)
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate response slots: %w", err)
	}
	return slots, nil
}

func (s *PostgresStore) queryConsolidated(ctx context.Context, query string, args ...any) ([]ConsolidatedAnswer, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query consolidated answers: %w", err)
	}
	defer rows.Close()

	items := make([]ConsolidatedAnswer, 0)
	for rows.Next() {
		var item ConsolidatedAnswer
		if err := rows.Scan(&item.UserID, &item.SectionID, &item.QuestionID, &item.Body, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan consolidated answer: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consolidated answers: %w", err)
	}
	return items, nil
}

// assembleSections groups slot rows into per-question lists. Missing slot
// indexes are filled with empty entries so positions match the saved
// indexes. Consolidated text is used only where a question has no slots.
func assembleSections(slots []ResponseSlot, consolidated []ConsolidatedAnswer) response.Sections {
	type questionKey struct{ section, question string }
	grouped := make(map[questionKey][]ResponseSlot)
	for _, slot := range slots {
		if slot.Index < 0 {
			continue
		}
		key := questionKey{slot.SectionID, slot.QuestionID}
		grouped[key] = append(grouped[key], slot)
	}

	out := make(response.Sections)
	put := func(sectionID, questionID string, value response.Value) {
		answers, ok := out[sectionID]
		if !ok {
			answers = make(response.Answers)
			out[sectionID] = answers
		}
		answers[questionID] = value
	}

	for key, group := range grouped {
		sort.Slice(group, func(i, j int) bool { return group[i].Index < group[j].Index })
		entries := make([]response.Entry, group[len(group)-1].Index+1)
		for _, slot := range group {
			entries[slot.Index] = response.Entry{Name: slot.Name, Content: slot.Content}
		}
		put(key.section, key.question, response.List(entries...))
	}
	for _, item := range consolidated {
		if _, ok := grouped[questionKey{item.SectionID, item.QuestionID}]; ok {
			continue
		}
		put(item.SectionID, item.QuestionID, response.Text(item.Body))
	}
	return out
}
