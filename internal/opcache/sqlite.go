// ABOUTME: SQLite-backed cache of raw encrypted chat envelopes using modernc.org/sqlite.
// ABOUTME: Idempotent puts keyed by account and history index; ciphertext only.

package opcache

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/faireye-hive/hiveshorts/internal/chatops"
	"github.com/faireye-hive/hiveshorts/internal/hive"
)

// Cache stores raw chat envelopes in SQLite.
type Cache struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (or creates) a cache at the given path. Use ":memory:" for
// tests. Parent directories are created if needed.
func New(path string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "opcache")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	// The in-memory DSN yields a distinct database per connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS chat_envelopes (
			account    TEXT NOT NULL,
			idx        INTEGER NOT NULL,
			message_id TEXT NOT NULL,
			sender     TEXT NOT NULL,
			recipient  TEXT NOT NULL,
			peer       TEXT NOT NULL,
			ciphertext TEXT NOT NULL,
			timestamp  TEXT NOT NULL,
			PRIMARY KEY (account, idx)
		)
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("envelope cache initialized", "path", path)
	return &Cache{db: db, logger: logger}, nil
}

// Put stores envelopes observed in account's history. Already-cached
// entries are ignored, so replaying the same window is harmless.
func (c *Cache) Put(ctx context.Context, account string, envelopes []chatops.Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}

	query := `
		INSERT OR IGNORE INTO chat_envelopes (
			account, idx, message_id, sender, recipient, peer, ciphertext, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, env := range envelopes {
		_, err := c.db.ExecContext(ctx, query,
			account,
			env.Index,
			env.ID,
			env.Sender,
			env.Recipient,
			env.Peer,
			env.Ciphertext,
			env.Timestamp.UTC().Format(hive.TimeFormat),
		)
		if err != nil {
			return fmt.Errorf("caching envelope %s: %w", env.ID, err)
		}
	}

	c.logger.Debug("envelopes cached", "account", account, "count", len(envelopes))
	return nil
}

// Load returns all cached envelopes for an account, oldest first.
func (c *Cache) Load(ctx context.Context, account string) ([]chatops.Envelope, error) {
	query := `
		SELECT idx, message_id, sender, recipient, peer, ciphertext, timestamp
		FROM chat_envelopes
		WHERE account = ?
		ORDER BY idx ASC
	`
	rows, err := c.db.QueryContext(ctx, query, account)
	if err != nil {
		return nil, fmt.Errorf("querying cached envelopes: %w", err)
	}
	defer rows.Close()

	var envelopes []chatops.Envelope
	for rows.Next() {
		var env chatops.Envelope
		var ts string
		if err := rows.Scan(&env.Index, &env.ID, &env.Sender, &env.Recipient, &env.Peer, &env.Ciphertext, &ts); err != nil {
			return nil, fmt.Errorf("scanning cached envelope: %w", err)
		}
		parsed, err := time.Parse(hive.TimeFormat, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing cached timestamp %q: %w", ts, err)
		}
		env.Timestamp = parsed.UTC()
		envelopes = append(envelopes, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cached envelopes: %w", err)
	}
	return envelopes, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
