// ABOUTME: Memory summary persistence with single-current-summary semantics
// ABOUTME: ReplaceSummary retires the prior summary and enforces contiguous ranges

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ActiveSummary returns the conversation's current summary.
// Returns ErrNotFound when the conversation has never been consolidated.
func (s *SQLiteStore) ActiveSummary(ctx context.Context, conversationID string) (*MemorySummary, error) {
	query := `
		SELECT id, conversation_id, content, from_sequence, through_sequence, created_at, superseded_at
		FROM memory_summaries
		WHERE conversation_id = ? AND superseded_at IS NULL
	`

	summary, err := scanSummary(s.db.QueryRowContext(ctx, query, conversationID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying summary: %w", err)
	}
	return summary, nil
}

// ReplaceSummary installs a new current summary, retiring the previous one
// in the same transaction. The new range must begin immediately after the
// retired summary's range, or at sequence 1 when the conversation has no
// summary yet; otherwise ErrSummaryOverlap is returned and nothing changes.
func (s *SQLiteStore) ReplaceSummary(ctx context.Context, summary *MemorySummary) error {
	if summary.FromSequence < 1 || summary.ThroughSequence < summary.FromSequence {
		return ErrSummaryOverlap
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)

	var prevID string
	var prevThrough int64
	err = tx.QueryRowContext(ctx,
		`SELECT id, through_sequence FROM memory_summaries WHERE conversation_id = ? AND superseded_at IS NULL`,
		summary.ConversationID,
	).Scan(&prevID, &prevThrough)

	switch {
	case err == sql.ErrNoRows:
		if summary.FromSequence != 1 {
			return ErrSummaryOverlap
		}
	case err != nil:
		return fmt.Errorf("querying current summary: %w", err)
	default:
		if summary.FromSequence != prevThrough+1 {
			return ErrSummaryOverlap
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE memory_summaries SET superseded_at = ? WHERE id = ?`, now, prevID); err != nil {
			return fmt.Errorf("retiring summary: %w", err)
		}
	}

	query := `
		INSERT INTO memory_summaries (id, conversation_id, content, from_sequence, through_sequence, created_at, superseded_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)
	`

	_, err = tx.ExecContext(ctx, query,
		summary.ID,
		summary.ConversationID,
		summary.Content,
		summary.FromSequence,
		summary.ThroughSequence,
		summary.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing summary: %w", err)
	}

	s.logger.Debug("replaced summary",
		"conversation", summary.ConversationID,
		"from", summary.FromSequence,
		"through", summary.ThroughSequence)
	return nil
}

// ListSummaries returns all summaries for a conversation, current first,
// then older ranges in descending order
func (s *SQLiteStore) ListSummaries(ctx context.Context, conversationID string) ([]*MemorySummary, error) {
	query := `
		SELECT id, conversation_id, content, from_sequence, through_sequence, created_at, superseded_at
		FROM memory_summaries
		WHERE conversation_id = ?
		ORDER BY from_sequence DESC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*MemorySummary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating summaries: %w", err)
	}

	return summaries, nil
}

// scanSummary scans one summary row including its nullable superseded_at
func scanSummary(row rowScanner) (*MemorySummary, error) {
	var summary MemorySummary
	var createdAtStr string
	var supersededAtStr sql.NullString

	err := row.Scan(
		&summary.ID,
		&summary.ConversationID,
		&summary.Content,
		&summary.FromSequence,
		&summary.ThroughSequence,
		&createdAtStr,
		&supersededAtStr,
	)
	if err != nil {
		return nil, err
	}

	summary.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	if supersededAtStr.Valid {
		t, err := time.Parse(time.RFC3339, supersededAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing superseded_at: %w", err)
		}
		summary.SupersededAt = &t
	}

	return &summary, nil
}
