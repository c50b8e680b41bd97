//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	logx "gcpacer/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	keep int

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
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
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	keep := cfg.keep()
	st := &sqliteStore{db: db, log: log, keep: keep, pruneEvery: uint64(max(keep/4, 1))}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Byte counts are stored as the int64 bit pattern of the uint64 so that
// "max" (MaxUint64) survives the round trip.
func (s *sqliteStore) AppendCollection(ctx context.Context, rec CollectionRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections(at, run, epoch, policy, reason, live_set, target_before, target_after, pause_ns)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		rec.At.UTC().Format(time.RFC3339Nano), rec.Run, int64(rec.Epoch), rec.Policy, rec.Reason,
		int64(rec.LiveSetBytes), int64(rec.TargetBefore), int64(rec.TargetAfter), int64(rec.Pause),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if perr := s.prune(pctx); perr != nil {
			s.log.Debug("journal prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) RecentCollections(ctx context.Context, limit int) ([]CollectionRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, run, epoch, policy, reason, live_set, target_before, target_after, pause_ns
		 FROM collections ORDER BY id DESC LIMIT ?`, clampLimit(limit, s.keep))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CollectionRecord
	for rows.Next() {
		var (
			at                               string
			epoch, live, before, after, paus int64
			rec                              CollectionRecord
		)
		if err := rows.Scan(&at, &rec.Run, &epoch, &rec.Policy, &rec.Reason, &live, &before, &after, &paus); err != nil {
			return nil, err
		}
		rec.At, _ = time.Parse(time.RFC3339Nano, at)
		rec.Epoch = uint64(epoch)
		rec.LiveSetBytes = uint64(live)
		rec.TargetBefore = uint64(before)
		rec.TargetAfter = uint64(after)
		rec.Pause = time.Duration(paus)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// prune drops everything but the newest keep rows.
func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM collections WHERE id <= (SELECT id FROM collections ORDER BY id DESC LIMIT 1 OFFSET ?)`, s.keep)
	return err
}
