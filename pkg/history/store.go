// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package history persists every routed message into SQLite for post-run
// audit. The store subscribes to the router as a best-effort listener; a
// write failure never blocks routing.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/teradata-labs/chorus/pkg/types"
)

// Store records routed messages into a SQLite database.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	insert *sql.Stmt
	logger *zap.Logger
}

// Open creates (or reuses) the message table at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		message_id TEXT PRIMARY KEY,
		event TEXT NOT NULL,
		source TEXT NOT NULL,
		destination TEXT,
		channel TEXT,
		content TEXT,
		timestamp INTEGER NOT NULL,
		envelope BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_source ON messages(source);
	CREATE INDEX IF NOT EXISTS idx_messages_destination ON messages(destination);
	CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel);
	CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}

	insert, err := db.Prepare(`INSERT OR IGNORE INTO messages
		(message_id, event, source, destination, channel, content, timestamp, envelope)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}

	return &Store{db: db, insert: insert, logger: logger}, nil
}

// Record persists one routed message. Matches the router listener signature;
// failures are logged, never returned.
func (s *Store) Record(msg *types.Message) {
	envelope, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("history encode failed", zap.String("id", msg.ID), zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.insert.Exec(msg.ID, string(msg.Type()), msg.Source, msg.Destination,
		msg.Channel, msg.Content, msg.Timestamp, envelope); err != nil {
		s.logger.Warn("history insert failed", zap.String("id", msg.ID), zap.Error(err))
	}
}

// Query selects recorded messages. Zero-valued filter fields match anything.
type Query struct {
	Source      types.Identifier
	Destination types.Identifier
	Channel     string
	SinceTick   int64
	Limit       int
}

// Select returns the recorded messages matching q in timestamp order.
func (s *Store) Select(q Query) ([]*types.Message, error) {
	var where []string
	var args []any
	if q.Source != "" {
		where = append(where, "source = ?")
		args = append(args, q.Source)
	}
	if q.Destination != "" {
		where = append(where, "destination = ?")
		args = append(args, q.Destination)
	}
	if q.Channel != "" {
		where = append(where, "channel = ?")
		args = append(args, q.Channel)
	}
	if q.SinceTick > 0 {
		where = append(where, "timestamp >= ?")
		args = append(args, q.SinceTick)
	}

	query := "SELECT envelope FROM messages"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []*types.Message
	for rows.Next() {
		var envelope []byte
		if err := rows.Scan(&envelope); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		var msg types.Message
		if err := json.Unmarshal(envelope, &msg); err != nil {
			return nil, fmt.Errorf("decode history envelope: %w", err)
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

// Count returns the number of recorded messages.
func (s *Store) Count() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&n)
	return n, err
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insert.Close(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}
