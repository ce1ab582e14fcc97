package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/wppcrm/internal/gateway"
)

// RecordOutbox journals a new optimistic send.
func (db *DB) RecordOutbox(e *OutboxEntry) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (temp_id, conversation_id, message_type, body, author_name, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TempID, e.ConversationID, e.MessageType, e.Body, e.AuthorName, e.State, now, now)
	return err
}

// MarkOutbox moves a journaled send to state, keeping errMsg when non-empty.
func (db *DB) MarkOutbox(tempID, state, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE outbox SET state = ?,
			error_message = CASE WHEN ? != '' THEN ? ELSE error_message END,
			updated_at = ?
		WHERE temp_id = ?`, state, errMsg, errMsg, now, tempID)
	return err
}

// GetOutbox returns one journaled send or gateway.ErrNotFound.
func (db *DB) GetOutbox(tempID string) (*OutboxEntry, error) {
	var e OutboxEntry
	err := db.QueryRow(`
		SELECT temp_id, conversation_id, message_type, body, author_name, state, error_message, created_at, updated_at
		FROM outbox WHERE temp_id = ?`, tempID).Scan(&e.TempID, &e.ConversationID, &e.MessageType, &e.Body,
		&e.AuthorName, &e.State, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("outbox %s: %w", tempID, gateway.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get outbox %s: %w", tempID, err)
	}
	return &e, nil
}

// ListOutbox returns the journaled sends of a conversation, oldest first.
// An empty conversationID lists every conversation.
func (db *DB) ListOutbox(conversationID string, limit int) ([]OutboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.DB.Query(`
		SELECT temp_id, conversation_id, message_type, body, author_name, state, error_message, created_at, updated_at
		FROM outbox
		WHERE ? = '' OR conversation_id = ?
		ORDER BY created_at ASC, temp_id ASC
		LIMIT ?`, conversationID, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.TempID, &e.ConversationID, &e.MessageType, &e.Body, &e.AuthorName,
			&e.State, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountOutbox returns the number of journaled sends per state.
func (db *DB) CountOutbox() (map[string]int64, error) {
	rows, err := db.DB.Query(`SELECT state, COUNT(*) FROM outbox GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}
