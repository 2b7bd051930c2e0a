package sink

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	errs "feedharvest/pkg/errors"
	"feedharvest/pkg/models"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS harvested_records (
	feed            TEXT NOT NULL,
	identity        TEXT NOT NULL,
	post_id         TEXT NOT NULL DEFAULT '',
	link            TEXT NOT NULL DEFAULT '',
	author_name     TEXT NOT NULL DEFAULT '',
	author_handle   TEXT NOT NULL DEFAULT '',
	text            TEXT NOT NULL DEFAULT '',
	timestamp_raw   TEXT NOT NULL DEFAULT '',
	likes           TEXT NOT NULL DEFAULT '',
	retweets        TEXT NOT NULL DEFAULT '',
	replies         TEXT NOT NULL DEFAULT '',
	image_urls      TEXT[] NOT NULL DEFAULT '{}',
	is_reply        BOOLEAN NOT NULL DEFAULT FALSE,
	reply_to        TEXT NOT NULL DEFAULT '',
	conversation_id TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	harvested_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (feed, identity)
)`

const postgresInsert = `INSERT INTO harvested_records (
	feed, identity, post_id, link, author_name, author_handle, text, timestamp_raw,
	likes, retweets, replies, image_urls, is_reply, reply_to, conversation_id, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (feed, identity) DO NOTHING`

// Postgres is a records database shared by every job
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and creates the records table if needed
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating records table: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Sink returns a sink writing rows for feed
func (p *Postgres) Sink(feed string) *PostgresSink {
	return &PostgresSink{pool: p.pool, feed: feed}
}

// Count returns the number of rows stored for feed
func (p *Postgres) Count(ctx context.Context, feed string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM harvested_records WHERE feed = $1", feed).Scan(&n)
	return n, err
}

// Close closes the pool
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// PostgresSink writes one feed's records into a shared pool
type PostgresSink struct {
	pool *pgxpool.Pool
	feed string
}

// Append inserts the record; a row that already exists is left alone
func (s *PostgresSink) Append(ctx context.Context, r models.Record) error {
	p := r.Post
	images := p.ImageURLs
	if images == nil {
		images = []string{}
	}
	_, err := s.pool.Exec(ctx, postgresInsert,
		s.feed, r.Identity, p.ID, p.Link, p.AuthorName, p.AuthorHandle, p.Text, p.Timestamp,
		p.Likes, p.Reposts, p.Replies, images, p.IsReply, p.ReplyTo, p.ConversationID, r.CreatedAt)
	if err != nil {
		return errs.New(errs.KindSinkWriteError, "postgres insert", err)
	}
	return nil
}

// Identities returns the identities already stored for the sink's feed
func (s *PostgresSink) Identities(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT identity FROM harvested_records WHERE feed = $1", s.feed)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Close does nothing; the pool is closed by its owner
func (s *PostgresSink) Close() error {
	return nil
}
