package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	logx "schedbot/pkg/logx"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; this also serializes Update transactions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) FindOne(ctx context.Context, f Filter) (*Record, bool, error) {
	where, args := whereClause(f, sqlitePlaceholder)
	var doc []byte
	err := s.db.QueryRowContext(ctx, "SELECT doc FROM entries"+where+" ORDER BY id LIMIT 1", args...).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	r, err := decodeDoc(doc)
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

func (s *sqliteStore) Find(ctx context.Context, f Filter) ([]*Record, error) {
	where, args := whereClause(f, sqlitePlaceholder)
	rows, err := s.db.QueryContext(ctx, "SELECT doc FROM entries"+where+" ORDER BY start_unix, id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*Record, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		r, err := decodeDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Count(ctx context.Context, f Filter) (int, error) {
	where, args := whereClause(f, sqlitePlaceholder)
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries"+where, args...).Scan(&n)
	return n, err
}

func (s *sqliteStore) Insert(ctx context.Context, r *Record) error {
	if r == nil || r.ID == 0 {
		return nack("insert", ErrInvalidRecord)
	}
	doc, err := json.Marshal(r)
	if err != nil {
		return nack("insert", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO entries(id, workspace_id, channel_id, start_unix, doc) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		int64(r.ID), r.WorkspaceID, r.ChannelID, r.Start.Unix(), string(doc),
	)
	if err != nil {
		return nack("insert", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nack("insert", err)
	} else if n == 0 {
		return ErrDuplicateID
	}
	return nil
}

func (s *sqliteStore) Replace(ctx context.Context, r *Record) error {
	if r == nil || r.ID == 0 {
		return nack("replace", ErrInvalidRecord)
	}
	return nack("replace", s.write(ctx, s.db, r))
}

func (s *sqliteStore) Update(ctx context.Context, id uint32, fn func(r *Record) error) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nack("update", err)
	}
	defer func() { _ = tx.Rollback() }()

	var doc []byte
	err = tx.QueryRowContext(ctx, "SELECT doc FROM entries WHERE id = ?", int64(id)).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, nack("update", err)
	}
	r, err := decodeDoc(doc)
	if err != nil {
		return nil, nack("update", err)
	}
	if err := fn(r); err != nil {
		return nil, err
	}
	r.ID = id
	if err := s.write(ctx, tx, r); err != nil {
		return nil, nack("update", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nack("update", err)
	}
	return r, nil
}

func (s *sqliteStore) Delete(ctx context.Context, id uint32) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", int64(id))
	if err != nil {
		return nack("delete", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nack("delete", err)
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *sqliteStore) write(ctx context.Context, ex sqlExecer, r *Record) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	res, err := ex.ExecContext(ctx,
		"UPDATE entries SET workspace_id = ?, channel_id = ?, start_unix = ?, doc = ? WHERE id = ?",
		r.WorkspaceID, r.ChannelID, r.Start.Unix(), string(doc), int64(r.ID),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
