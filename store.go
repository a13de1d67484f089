package main

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// MessageStore is the SQLite ledger of every LXMF message this node has
// seen, keyed by message hash.
type MessageStore struct {
	db *sql.DB
}

// boolToInt converts a Go bool to an integer for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// NewMessageStore opens the database at dbPath, enables WAL mode with a
// 5000ms busy timeout, and creates the schema.
func NewMessageStore(dbPath string) (*MessageStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(appSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &MessageStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *MessageStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// UpsertMessage inserts a message or, when the hash already exists, replaces
// every mutable field with the newer snapshot. The network's latest word for
// a message always wins; created_at is only set on first insert.
func (s *MessageStore) UpsertMessage(hash, sourceHash, destinationHash string, isIncoming bool, state MessageState, progress float64, title, content, fields string, timestamp float64) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO lxmf_messages (hash, source_hash, destination_hash, is_incoming, state, progress, title, content, fields, timestamp, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			source_hash      = excluded.source_hash,
			destination_hash = excluded.destination_hash,
			is_incoming      = excluded.is_incoming,
			state            = excluded.state,
			progress         = excluded.progress,
			title            = excluded.title,
			content          = excluded.content,
			fields           = excluded.fields,
			timestamp        = excluded.timestamp,
			updated_at       = excluded.updated_at
	`, hash, sourceHash, destinationHash, boolToInt(isIncoming), string(state), progress, title, content, fields, timestamp, now, now)
	if err != nil {
		return fmt.Errorf("upsert message %s: %w", hash, err)
	}
	return nil
}

// MessagesBetween returns every message exchanged between two addresses, in
// both directions, ordered oldest first by insertion order.
func (s *MessageStore) MessagesBetween(sourceHash, destinationHash string) ([]MessageRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, hash, source_hash, destination_hash, is_incoming, state, progress, title, content, fields, timestamp, created_at, updated_at
		FROM lxmf_messages
		WHERE (source_hash = ? AND destination_hash = ?)
		   OR (source_hash = ? AND destination_hash = ?)
		ORDER BY id ASC
	`, sourceHash, destinationHash, destinationHash, sourceHash)
	if err != nil {
		return nil, fmt.Errorf("query messages between %s and %s: %w", sourceHash, destinationHash, err)
	}
	defer rows.Close()

	messages := make([]MessageRecord, 0)
	for rows.Next() {
		rec, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// MessageByHash returns the stored record for a message hash, or nil when
// the hash is unknown.
func (s *MessageStore) MessageByHash(hash string) (*MessageRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, hash, source_hash, destination_hash, is_incoming, state, progress, title, content, fields, timestamp, created_at, updated_at
		FROM lxmf_messages
		WHERE hash = ?
	`, hash)
	if err != nil {
		return nil, fmt.Errorf("query message %s: %w", hash, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query message %s: %w", hash, err)
		}
		return nil, nil
	}
	rec, err := scanMessage(rows)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// TotalMessageCount returns the number of ledger rows.
func (s *MessageStore) TotalMessageCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM lxmf_messages`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

func scanMessage(rows *sql.Rows) (MessageRecord, error) {
	var rec MessageRecord
	var isIncoming int
	var state string
	if err := rows.Scan(&rec.ID, &rec.Hash, &rec.SourceHash, &rec.DestinationHash, &isIncoming, &state,
		&rec.Progress, &rec.Title, &rec.Content, &rec.Fields, &rec.Timestamp, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return MessageRecord{}, fmt.Errorf("scan message: %w", err)
	}
	rec.IsIncoming = isIncoming != 0
	rec.State = MessageState(state)
	return rec, nil
}
