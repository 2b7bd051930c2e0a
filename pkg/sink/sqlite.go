package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	errs "feedharvest/pkg/errors"
	"feedharvest/pkg/models"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS records (
	feed            TEXT NOT NULL,
	identity        TEXT NOT NULL,
	post_id         TEXT NOT NULL DEFAULT '',
	link            TEXT NOT NULL DEFAULT '',
	author_name     TEXT NOT NULL DEFAULT '',
	author_handle   TEXT NOT NULL DEFAULT '',
	text            TEXT NOT NULL DEFAULT '',
	timestamp       TEXT NOT NULL DEFAULT '',
	likes           TEXT NOT NULL DEFAULT '',
	retweets        TEXT NOT NULL DEFAULT '',
	replies         TEXT NOT NULL DEFAULT '',
	image_urls      TEXT NOT NULL DEFAULT '',
	is_reply        INTEGER NOT NULL DEFAULT 0,
	reply_to        TEXT NOT NULL DEFAULT '',
	conversation_id TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL,
	harvested_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (feed, identity)
)`

const sqliteInsert = `INSERT INTO records (
	feed, identity, post_id, link, author_name, author_handle, text, timestamp,
	likes, retweets, replies, image_urls, is_reply, reply_to, conversation_id, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(feed, identity) DO NOTHING`

// SQLite is a records database shared by every job
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path. Pass ":memory:" for
// an in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection: jobs append concurrently and SQLite has a single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode=WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating records table: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Sink returns a sink writing rows for feed
func (s *SQLite) Sink(feed string) *SQLiteSink {
	return &SQLiteSink{db: s.db, feed: feed}
}

// Count returns the number of rows stored for feed
func (s *SQLite) Count(ctx context.Context, feed string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records WHERE feed = ?", feed).Scan(&n)
	return n, err
}

// Identities returns the stored identities for feed in insertion order
func (s *SQLite) Identities(ctx context.Context, feed string) ([]string, error) {
	return sqliteIdentities(ctx, s.db, feed)
}

func sqliteIdentities(ctx context.Context, db *sql.DB, feed string) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT identity FROM records WHERE feed = ? ORDER BY rowid", feed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SQLiteSink writes one feed's records into a shared SQLite database
type SQLiteSink struct {
	db   *sql.DB
	feed string
}

// Append inserts the record; a row that already exists is left alone
func (s *SQLiteSink) Append(ctx context.Context, r models.Record) error {
	p := r.Post
	_, err := s.db.ExecContext(ctx, sqliteInsert,
		s.feed, r.Identity, p.ID, p.Link, p.AuthorName, p.AuthorHandle, p.Text, p.Timestamp,
		p.Likes, p.Reposts, p.Replies, strings.Join(p.ImageURLs, "|"), p.IsReply, p.ReplyTo,
		p.ConversationID, r.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return errs.New(errs.KindSinkWriteError, "sqlite insert", err)
	}
	return nil
}

// Identities returns the identities already stored for the sink's feed
func (s *SQLiteSink) Identities(ctx context.Context) ([]string, error) {
	return sqliteIdentities(ctx, s.db, s.feed)
}

// Close does nothing; the database is closed by its owner
func (s *SQLiteSink) Close() error {
	return nil
}
