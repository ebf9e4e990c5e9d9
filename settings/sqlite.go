package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/domveil/elemid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS domain_rules (
	domain     TEXT PRIMARY KEY,
	enabled    INTEGER NOT NULL DEFAULT 1,
	elements   TEXT NOT NULL DEFAULT '[]',
	updated_at INTEGER NOT NULL
);
`

// SQLite is the Store implementation backing domveil's persistence.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// SQLiteOption configures Open.
type SQLiteOption func(*SQLite)

// WithLogger sets a custom logger for degraded-read warnings.
func WithLogger(l *slog.Logger) SQLiteOption {
	return func(s *SQLite) { s.logger = l }
}

// Open opens (creating if needed) the settings database with the
// production pragmas applied and the schema ensured.
func Open(path string, opts ...SQLiteOption) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("settings: mkdir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("settings: open %s: %w", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 10000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("settings: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("settings: apply schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("settings: ping: %w", err)
	}

	s := &SQLite{db: db, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// OpenMemory returns an in-memory store for tests, closed on cleanup.
func OpenMemory(t *testing.T) *SQLite {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	s := &SQLite{db: db, logger: slog.Default()}
	t.Cleanup(func() { s.Close() })
	return s
}

// Close releases the underlying database.
func (s *SQLite) Close() error { return s.db.Close() }

// DB exposes the handle for the admin surface.
func (s *SQLite) DB() *sql.DB { return s.db }

// Get implements Store. Unknown domains, storage errors, and rows that
// fail validation all degrade to the default rule set; errors are
// logged, never surfaced; a missing rule set is a steady-state
// condition, not a failure.
func (s *SQLite) Get(ctx context.Context, domain string) RuleSet {
	var enabled bool
	var elements string
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled, elements FROM domain_rules WHERE domain = ?`, domain).
		Scan(&enabled, &elements)
	if errors.Is(err, sql.ErrNoRows) {
		return Default()
	}
	if err != nil {
		s.logger.Warn("settings: read failed, using defaults", "domain", domain, "error", err)
		return Default()
	}

	rs, err := decodeRow(domain, enabled, elements)
	if err != nil {
		s.logger.Warn("settings: stored rule set invalid, using defaults", "domain", domain, "error", err)
		return Default()
	}
	return rs
}

// Set implements Store. Validation failure rejects the whole write.
func (s *SQLite) Set(ctx context.Context, domain string, rs RuleSet) error {
	if err := ValidateDomain(domain); err != nil {
		return err
	}
	if err := ValidateRuleSet(domain, rs); err != nil {
		return err
	}

	elements, err := json.Marshal(rs.HiddenElements)
	if err != nil {
		return fmt.Errorf("settings: marshal elements for %s: %w", domain, err)
	}
	if rs.HiddenElements == nil {
		elements = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO domain_rules (domain, enabled, elements, updated_at)
		VALUES (?,?,?,?)
		ON CONFLICT(domain) DO UPDATE SET
			enabled = excluded.enabled,
			elements = excluded.elements,
			updated_at = excluded.updated_at`,
		domain, rs.Enabled, string(elements), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("settings: write %s: %w", domain, err)
	}
	return nil
}

// Remove implements Store.
func (s *SQLite) Remove(ctx context.Context, domain string) error {
	if err := ValidateDomain(domain); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM domain_rules WHERE domain = ?`, domain); err != nil {
		return fmt.Errorf("settings: remove %s: %w", domain, err)
	}
	return nil
}

// ClearAll implements Store.
func (s *SQLite) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM domain_rules`); err != nil {
		return fmt.Errorf("settings: clear all: %w", err)
	}
	return nil
}

// ListAll implements Store. Rows failing validation are skipped.
func (s *SQLite) ListAll(ctx context.Context) (map[string]RuleSet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain, enabled, elements FROM domain_rules ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("settings: list: %w", err)
	}
	defer rows.Close()

	out := make(map[string]RuleSet)
	for rows.Next() {
		var domain, elements string
		var enabled bool
		if err := rows.Scan(&domain, &enabled, &elements); err != nil {
			return nil, fmt.Errorf("settings: scan: %w", err)
		}
		rs, err := decodeRow(domain, enabled, elements)
		if err != nil {
			s.logger.Warn("settings: skipping invalid stored rule set", "domain", domain, "error", err)
			continue
		}
		out[domain] = rs
	}
	return out, rows.Err()
}

func decodeRow(domain string, enabled bool, elements string) (RuleSet, error) {
	var recs []elemid.Record
	if err := json.Unmarshal([]byte(elements), &recs); err != nil {
		return RuleSet{}, fmt.Errorf("elements column: %w", err)
	}
	rs := RuleSet{HiddenElements: recs, Enabled: enabled}
	if err := ValidateRuleSet(domain, rs); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}
