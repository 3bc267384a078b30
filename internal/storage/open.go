package storage

import (
	"context"
	"errors"
	"fmt"
	logx "schedbot/pkg/logx"
	"strings"
)

// Open initializes the configured store. An empty driver selects "memory".
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "pgx":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// nack marks err as a failed write.
func nack(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateID) || errors.Is(err, ErrNotAcknowledged) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrNotAcknowledged, op, err)
}
