package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS nodes (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	label     TEXT NOT NULL,
	key_name  TEXT,
	key_value TEXT,
	props     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS nodes_by_key ON nodes(label, key_name, key_value);
CREATE TABLE IF NOT EXISTS edges (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	from_id INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
	to_id   INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
	type    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS edges_by_type ON edges(type);
`

const (
	sqliteSelectKeyed    = `SELECT id FROM nodes WHERE label = ? AND key_name = ? AND key_value = ?`
	sqliteInsertNode     = `INSERT INTO nodes (label, key_name, key_value, props) VALUES (?, ?, ?, ?)`
	sqliteInsertEdge     = `INSERT INTO edges (from_id, to_id, type) VALUES (?, ?, ?)`
	sqliteNodeStats      = `SELECT label, COUNT(*) FROM nodes GROUP BY label`
	sqliteEdgeStats      = `SELECT type, COUNT(*) FROM edges GROUP BY type`
	sqliteUniqueIndexDDL = `CREATE UNIQUE INDEX IF NOT EXISTS %s ON nodes(key_value) WHERE label = '%s' AND key_name = '%s'`
)

// NewSQLiteClient opens (or creates) a single-file property graph backed by
// SQLite. Writers are serialized through one connection, so concurrent
// ingestion workers queue on BeginTx instead of failing with SQLITE_BUSY.
func NewSQLiteClient(ctx context.Context, path string) (Client, error) {
	if path == "" {
		return nil, ErrMissingURI
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &ConnectionError{Err: fmt.Errorf("open sqlite %s: %w", path, err)}
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &ConnectionError{Err: fmt.Errorf("ping sqlite %s: %w", path, err)}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create graph tables: %w", err)
	}
	return &sqliteClient{db: db}, nil
}

type sqliteClient struct {
	db *sql.DB
}

func (c *sqliteClient) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		if terr := deadlineError("begin", err); terr != nil {
			return nil, terr
		}
		return nil, &TransactionError{Op: "begin", Err: err}
	}
	return &sqliteTx{tx: tx}, nil
}

func (c *sqliteClient) EnsureSchema(ctx context.Context, constraints []KeyConstraint) error {
	for _, kc := range constraints {
		if err := checkIdentifiers(string(kc.Label), kc.Property); err != nil {
			return err
		}
		name := strings.ToLower(fmt.Sprintf("nodes_%s_%s_unique", kc.Label, kc.Property))
		ddl := fmt.Sprintf(sqliteUniqueIndexDDL, name, kc.Label, kc.Property)
		if _, err := c.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure constraint %s.%s: %w", kc.Label, kc.Property, err)
		}
	}
	return nil
}

func (c *sqliteClient) ClearAll(ctx context.Context) (retErr error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear graph: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `DELETE FROM edges`); err != nil {
		return fmt.Errorf("clear edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes`); err != nil {
		return fmt.Errorf("clear nodes: %w", err)
	}
	return tx.Commit()
}

func (c *sqliteClient) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Nodes: make(map[Label]int64), Edges: make(map[RelType]int64)}
	if err := c.count(ctx, sqliteNodeStats, func(name string, n int64) { stats.Nodes[Label(name)] = n }); err != nil {
		return Stats{}, fmt.Errorf("count nodes: %w", err)
	}
	if err := c.count(ctx, sqliteEdgeStats, func(name string, n int64) { stats.Edges[RelType(name)] = n }); err != nil {
		return Stats{}, fmt.Errorf("count edges: %w", err)
	}
	return stats, nil
}

func (c *sqliteClient) count(ctx context.Context, query string, set func(string, int64)) error {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			name  string
			total int64
		)
		if err := rows.Scan(&name, &total); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		set(name, total)
	}
	return rows.Err()
}

func (c *sqliteClient) VerifyConnectivity(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return &ConnectionError{Err: err}
	}
	return nil
}

func (c *sqliteClient) Close(context.Context) error {
	return c.db.Close()
}

type sqliteTx struct {
	tx     *sql.Tx
	closed bool
}

func (t *sqliteTx) UpsertNode(ctx context.Context, label Label, key string, attrs map[string]any) (NodeID, error) {
	if t.closed {
		return 0, &TransactionError{Op: "upsert node", Err: ErrTxClosed}
	}
	if err := checkIdentifiers(string(label), key); err != nil {
		return 0, err
	}
	value, ok := attrs[key]
	if !ok {
		return 0, fmt.Errorf("upsert %s: key property %q missing from attributes", label, key)
	}
	keyValue := fmt.Sprint(value)
	op := "upsert " + string(label)

	var id int64
	err := t.tx.QueryRowContext(ctx, sqliteSelectKeyed, string(label), key, keyValue).Scan(&id)
	switch {
	case err == nil:
		return NodeID(id), nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, classifySQLiteError(op, err)
	}
	return t.insert(ctx, op, label, key, keyValue, attrs)
}

func (t *sqliteTx) CreateNode(ctx context.Context, label Label, attrs map[string]any) (NodeID, error) {
	if t.closed {
		return 0, &TransactionError{Op: "create node", Err: ErrTxClosed}
	}
	if err := checkIdentifiers(string(label)); err != nil {
		return 0, err
	}
	return t.insert(ctx, "create "+string(label), label, "", "", attrs)
}

func (t *sqliteTx) CreateEdge(ctx context.Context, from, to NodeID, rel RelType) error {
	if t.closed {
		return &TransactionError{Op: "create edge", Err: ErrTxClosed}
	}
	if err := checkIdentifiers(string(rel)); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, sqliteInsertEdge, int64(from), int64(to), string(rel)); err != nil {
		return classifySQLiteError("create "+string(rel), err)
	}
	return nil
}

func (t *sqliteTx) Commit(context.Context) error {
	if t.closed {
		return &TransactionError{Op: "commit", Err: ErrTxClosed}
	}
	t.closed = true
	if err := t.tx.Commit(); err != nil {
		if terr := deadlineError("commit", err); terr != nil {
			return terr
		}
		if isBusy(err) {
			return &WriteConflictError{Op: "commit", Retryable: true, Err: err}
		}
		return &TransactionError{Op: "commit", Err: err}
	}
	return nil
}

func (t *sqliteTx) Rollback(context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return &TransactionError{Op: "rollback", Err: err}
	}
	return nil
}

func (t *sqliteTx) insert(ctx context.Context, op string, label Label, key, keyValue string, attrs map[string]any) (NodeID, error) {
	props, err := json.Marshal(attrs)
	if err != nil {
		return 0, fmt.Errorf("%s: encode properties: %w", op, err)
	}
	res, err := t.tx.ExecContext(ctx, sqliteInsertNode, string(label), nullable(key), nullable(keyValue), string(props))
	if err != nil {
		return 0, classifySQLiteError(op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, classifySQLiteError(op, err)
	}
	return NodeID(id), nil
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func classifySQLiteError(op string, err error) error {
	if terr := deadlineError(op, err); terr != nil {
		return terr
	}
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return &WriteConflictError{Op: op, Retryable: true, Err: err}
		}
	}
	return &WriteConflictError{Op: op, Retryable: isBusy(err), Err: err}
}

func isBusy(err error) bool {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	primary := sqlErr.Code() & 0xff
	return primary == sqlite3.SQLITE_BUSY || primary == sqlite3.SQLITE_LOCKED
}
