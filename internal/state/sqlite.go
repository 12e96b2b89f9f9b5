package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite state store instance.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger}
}

// NewWithDB wraps an existing connection. Migrations are not run.
func NewWithDB(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	s := NewSQLiteStore(logger)
	s.db = db
	return s
}

// Open opens the database at path and applies migrations.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(ctx context.Context, path string) error {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveManifest writes the invocation and all its rows in one transaction.
func (s *SQLiteStore) SaveManifest(ctx context.Context, m *Manifest) (err error) {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	inv := m.Invocation
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO invocations (id, adapter, target, status, started_at, finished_at, node_count, error_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Adapter, inv.Target, string(inv.Status), inv.StartedAt, inv.FinishedAt, inv.NodeCount, inv.ErrorCount,
	); err != nil {
		return fmt.Errorf("failed to save invocation: %w", err)
	}

	for _, n := range m.Nodes {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO nodes (invocation_id, id, package, kind, name, file, materialized, content_hash, body)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inv.ID, n.ID, n.Package, string(n.Kind), n.Name, n.File, n.Materialized, n.Hash, n.Text,
		); err != nil {
			return fmt.Errorf("failed to save node %s: %w", n.ID, err)
		}
	}

	for _, e := range m.Edges {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO edges (invocation_id, parent_id, child_id) VALUES (?, ?, ?)`,
			inv.ID, e.Parent, e.Child,
		); err != nil {
			return fmt.Errorf("failed to save edge %s -> %s: %w", e.Parent, e.Child, err)
		}
	}

	for _, mac := range m.Macros {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO macros (invocation_id, package, name, prefix, signature, file, line)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			inv.ID, mac.Package, mac.Name, mac.Prefix, mac.Signature, mac.File, mac.Line,
		); err != nil {
			return fmt.Errorf("failed to save macro %s.%s: %w", mac.Package, mac.Name, err)
		}
	}

	for i, d := range m.Diagnostics {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO diagnostics (invocation_id, seq, kind, severity, message, file, line, col, artifact)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inv.ID, i, d.Kind, d.Severity, d.Message, d.File, d.Line, d.Column, d.Artifact,
		); err != nil {
			return fmt.Errorf("failed to save diagnostic: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit manifest: %w", err)
	}

	s.logger.Debug("saved manifest",
		"invocation_id", inv.ID,
		"nodes", len(m.Nodes),
		"edges", len(m.Edges),
		"diagnostics", len(m.Diagnostics))
	return nil
}

// LatestManifest loads the newest successful invocation with all its rows.
func (s *SQLiteStore) LatestManifest(ctx context.Context) (*Manifest, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	m := &Manifest{}
	inv := &m.Invocation
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, adapter, target, status, started_at, finished_at, node_count, error_count
		 FROM invocations WHERE status = ? ORDER BY started_at DESC, finished_at DESC LIMIT 1`,
		string(StatusSuccess),
	).Scan(&inv.ID, &inv.Adapter, &inv.Target, &status, &inv.StartedAt, &inv.FinishedAt, &inv.NodeCount, &inv.ErrorCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoManifest
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invocation: %w", err)
	}
	inv.Status = Status(status)

	if m.Nodes, err = s.nodes(ctx, inv.ID); err != nil {
		return nil, err
	}
	if m.Edges, err = s.edges(ctx, inv.ID); err != nil {
		return nil, err
	}
	if m.Macros, err = s.macros(ctx, inv.ID); err != nil {
		return nil, err
	}
	if m.Diagnostics, err = s.diagnostics(ctx, inv.ID); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *SQLiteStore) nodes(ctx context.Context, invocation string) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, package, kind, name, file, materialized, content_hash, body
		 FROM nodes WHERE invocation_id = ? ORDER BY id`, invocation)
	if err != nil {
		return nil, fmt.Errorf("failed to get nodes: %w", err)
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		var n Node
		var kind string
		if err := rows.Scan(&n.ID, &n.Package, &kind, &n.Name, &n.File, &n.Materialized, &n.Hash, &n.Text); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		n.Kind = NodeKind(kind)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) edges(ctx context.Context, invocation string) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT parent_id, child_id FROM edges WHERE invocation_id = ? ORDER BY parent_id, child_id`, invocation)
	if err != nil {
		return nil, fmt.Errorf("failed to get edges: %w", err)
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.Parent, &e.Child); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) macros(ctx context.Context, invocation string) ([]Macro, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT package, name, prefix, signature, file, line
		 FROM macros WHERE invocation_id = ? ORDER BY package, name`, invocation)
	if err != nil {
		return nil, fmt.Errorf("failed to get macros: %w", err)
	}
	defer rows.Close()

	var out []Macro
	for rows.Next() {
		var m Macro
		if err := rows.Scan(&m.Package, &m.Name, &m.Prefix, &m.Signature, &m.File, &m.Line); err != nil {
			return nil, fmt.Errorf("failed to scan macro: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) diagnostics(ctx context.Context, invocation string) ([]Diagnostic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, severity, message, file, line, col, artifact
		 FROM diagnostics WHERE invocation_id = ? ORDER BY seq`, invocation)
	if err != nil {
		return nil, fmt.Errorf("failed to get diagnostics: %w", err)
	}
	defer rows.Close()

	var out []Diagnostic
	for rows.Next() {
		var d Diagnostic
		if err := rows.Scan(&d.Kind, &d.Severity, &d.Message, &d.File, &d.Line, &d.Column, &d.Artifact); err != nil {
			return nil, fmt.Errorf("failed to scan diagnostic: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Invocations lists recent invocations, newest first.
func (s *SQLiteStore) Invocations(ctx context.Context, limit int) ([]Invocation, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, adapter, target, status, started_at, finished_at, node_count, error_count
		 FROM invocations ORDER BY started_at DESC, finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list invocations: %w", err)
	}
	defer rows.Close()

	var out []Invocation
	for rows.Next() {
		var inv Invocation
		var status string
		if err := rows.Scan(&inv.ID, &inv.Adapter, &inv.Target, &status, &inv.StartedAt, &inv.FinishedAt, &inv.NodeCount, &inv.ErrorCount); err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		inv.Status = Status(status)
		out = append(out, inv)
	}
	return out, rows.Err()
}

// Prune keeps the newest keep invocations. Rows of deleted invocations go
// with them.
func (s *SQLiteStore) Prune(ctx context.Context, keep int) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("database not opened")
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM invocations WHERE id NOT IN (
			SELECT id FROM invocations ORDER BY started_at DESC, finished_at DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune invocations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Debug("pruned invocations", "deleted", n, "kept", keep)
	}
	return n, nil
}
