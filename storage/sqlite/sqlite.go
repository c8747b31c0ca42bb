// Package sqlite stores blobs and feed updates in a SQLite database.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"xdao.co/feedsync/contenthash"
	"xdao.co/feedsync/feed"
	"xdao.co/feedsync/identity"
	"xdao.co/feedsync/storage"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - no schema
// 1 - blobs and feeds tables
// 2 - index on feeds.hash for reverse lookups
const currentSchemaVersion = 2

type Store struct {
	db *sql.DB
}

var (
	_ storage.Blobs     = (*Store)(nil)
	_ storage.FeedStore = (*Store)(nil)
)

// Open creates or opens a SQLite database at path and applies pragmas and
// migrations. Use ":memory:" for a private in-memory database.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: connect: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 2 {
		if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_feeds_hash ON feeds(hash)"); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (s *Store) Write(ctx context.Context, data []byte) (contenthash.Hash, error) {
	h := contenthash.Sum(data)
	if data == nil {
		data = []byte{}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs (hash, data) VALUES (?, ?) ON CONFLICT(hash) DO NOTHING`,
		h.String(), data)
	if err != nil {
		return "", fmt.Errorf("sqlite: insert blob: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		existing, err := s.Read(ctx, h)
		if err != nil || !bytes.Equal(existing, data) {
			return "", storage.ErrImmutable
		}
	}
	return h, nil
}

func (s *Store) Read(ctx context.Context, h contenthash.Hash) ([]byte, error) {
	if _, err := contenthash.Parse(string(h)); err != nil {
		return nil, storage.ErrInvalidHash
	}
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE hash = ?`, h.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: read blob: %w", err)
	}
	if data == nil {
		data = []byte{}
	}
	if !h.Matches(data) {
		return nil, storage.ErrHashMismatch
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, u feed.Update) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	var stored *feed.Update
	cur, err := getFeed(ctx, tx, u.Address, u.Topic)
	switch {
	case err == nil:
		stored = &cur
	case storage.IsNotFound(err):
	default:
		return err
	}
	if err := storage.CheckUpdate(stored, u); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO feeds (address, topic, hash, epoch_time, epoch_level, protocol_version, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address, topic) DO UPDATE SET
			hash = excluded.hash,
			epoch_time = excluded.epoch_time,
			epoch_level = excluded.epoch_level,
			protocol_version = excluded.protocol_version,
			signature = excluded.signature`,
		u.Address.Hex(), u.Topic.Hex(), u.Hash.String(),
		u.Epoch.Time, u.Epoch.Level, u.ProtocolVersion, u.Signature)
	if err != nil {
		return fmt.Errorf("sqlite: upsert feed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, address identity.Address, topic feed.Topic) (feed.Update, error) {
	return getFeed(ctx, s.db, address, topic)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getFeed(ctx context.Context, q queryer, address identity.Address, topic feed.Topic) (feed.Update, error) {
	u := feed.Update{Address: address, Topic: topic}
	var hash string
	err := q.QueryRowContext(ctx, `
		SELECT hash, epoch_time, epoch_level, protocol_version, signature
		FROM feeds WHERE address = ? AND topic = ?`,
		address.Hex(), topic.Hex(),
	).Scan(&hash, &u.Epoch.Time, &u.Epoch.Level, &u.ProtocolVersion, &u.Signature)
	if errors.Is(err, sql.ErrNoRows) {
		return feed.Update{}, storage.ErrNotFound
	}
	if err != nil {
		return feed.Update{}, fmt.Errorf("sqlite: read feed: %w", err)
	}
	u.Hash = contenthash.Hash(hash)
	return u, nil
}
