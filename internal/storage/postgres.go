package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	logx "schedbot/pkg/logx"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed postgres_schema.sql
var postgresSchema string

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Debug("postgres store opened", logx.String("host", pcfg.ConnConfig.Host), logx.String("database", pcfg.ConnConfig.Database))
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *postgresStore) FindOne(ctx context.Context, f Filter) (*Record, bool, error) {
	where, args := whereClause(f, pgPlaceholder)
	var doc []byte
	err := s.pool.QueryRow(ctx, "SELECT doc FROM entries"+where+" ORDER BY id LIMIT 1", args...).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (s *postgresStore) Find(ctx context.Context, f Filter) ([]*Record, error) {
	where, args := whereClause(f, pgPlaceholder)
	rows, err := s.pool.Query(ctx, "SELECT doc FROM entries"+where+" ORDER BY start_at, id", args...)
	if err != nil {
		return nil, err
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(docs))
	for _, doc := range docs {
		r, err := decodeDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *postgresStore) Count(ctx context.Context, f Filter) (int, error) {
	where, args := whereClause(f, pgPlaceholder)
	var n int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM entries"+where, args...).Scan(&n)
	return n, err
}

func (s *postgresStore) Insert(ctx context.Context, r *Record) error {
	if r == nil || r.ID == 0 {
		return nack("insert", ErrInvalidRecord)
	}
	doc, err := json.Marshal(r)
	if err != nil {
		return nack("insert", err)
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO entries(id, workspace_id, channel_id, start_at, doc) VALUES($1,$2,$3,$4,$5)
		 ON CONFLICT (id) DO NOTHING`,
		int64(r.ID), r.WorkspaceID, r.ChannelID, r.Start, doc,
	)
	if err != nil {
		return nack("insert", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateID
	}
	return nil
}

func (s *postgresStore) Replace(ctx context.Context, r *Record) error {
	if r == nil || r.ID == 0 {
		return nack("replace", ErrInvalidRecord)
	}
	return nack("replace", pgWrite(ctx, s.pool, r))
}

// Update locks the row for the duration of fn so concurrent partial updates
// from other processes serialize on it.
func (s *postgresStore) Update(ctx context.Context, id uint32, fn func(r *Record) error) (*Record, error) {
	var (
		out    *Record
		fnErr  error
		missed bool
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var doc []byte
		err := tx.QueryRow(ctx, "SELECT doc FROM entries WHERE id = $1 FOR UPDATE", int64(id)).Scan(&doc)
		if errors.Is(err, pgx.ErrNoRows) {
			missed = true
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		r, err := decodeDoc(doc)
		if err != nil {
			return err
		}
		if fnErr = fn(r); fnErr != nil {
			return fnErr
		}
		r.ID = id
		if err := pgWrite(ctx, tx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	switch {
	case missed:
		return nil, ErrNotFound
	case fnErr != nil:
		return nil, fnErr
	case err != nil:
		return nil, nack("update", err)
	}
	return out, nil
}

func (s *postgresStore) Delete(ctx context.Context, id uint32) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM entries WHERE id = $1", int64(id))
	if err != nil {
		return nack("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func pgWrite(ctx context.Context, ex pgExecer, r *Record) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	tag, err := ex.Exec(ctx,
		"UPDATE entries SET workspace_id = $1, channel_id = $2, start_at = $3, doc = $4 WHERE id = $5",
		r.WorkspaceID, r.ChannelID, r.Start, doc, int64(r.ID),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
