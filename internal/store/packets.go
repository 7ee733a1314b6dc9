// ABOUTME: Analysis packet persistence for the audit and explanation read path
// ABOUTME: Serializes per-stage results as JSON alongside the completeness flag

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SavePacket persists the aggregated pipeline result for one message.
// Returns ErrNotFound if the referenced message doesn't exist.
func (s *SQLiteStore) SavePacket(ctx context.Context, packet *AnalysisPacket) error {
	stagesJSON, err := json.Marshal(packet.Stages)
	if err != nil {
		return fmt.Errorf("marshaling stages: %w", err)
	}

	complete := 0
	if packet.Complete {
		complete = 1
	}

	query := `
		INSERT INTO analysis_packets (message_id, conversation_id, stages_json, complete, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		packet.MessageID,
		packet.ConversationID,
		string(stagesJSON),
		complete,
		packet.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return ErrNotFound
		}
		return fmt.Errorf("inserting packet: %w", err)
	}

	s.logger.Debug("saved packet", "message", packet.MessageID, "complete", packet.Complete)
	return nil
}

// GetPacket retrieves the analysis packet for a message.
// Returns ErrNotFound if no packet was saved for the message.
func (s *SQLiteStore) GetPacket(ctx context.Context, messageID string) (*AnalysisPacket, error) {
	query := `
		SELECT message_id, conversation_id, stages_json, complete, created_at
		FROM analysis_packets
		WHERE message_id = ?
	`

	var packet AnalysisPacket
	var stagesJSON, createdAtStr string
	var complete int

	err := s.db.QueryRowContext(ctx, query, messageID).Scan(
		&packet.MessageID,
		&packet.ConversationID,
		&stagesJSON,
		&complete,
		&createdAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying packet: %w", err)
	}

	if err := json.Unmarshal([]byte(stagesJSON), &packet.Stages); err != nil {
		return nil, fmt.Errorf("unmarshaling stages: %w", err)
	}
	packet.Complete = complete != 0

	packet.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &packet, nil
}
