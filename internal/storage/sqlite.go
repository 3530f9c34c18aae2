package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	logx "releasebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers; SQLite would otherwise return SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrationsSQL); err != nil {
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

func (s *sqliteStore) Insert(ctx context.Context, chatID string, messageID int, sentAt time.Time) (Record, error) {
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sent_messages(chat_id, message_id, sent_at) VALUES(?,?,?)`,
		chatID, messageID, sentAt.UnixMilli(),
	)
	if err != nil {
		return Record{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Record{}, err
	}
	return Record{ID: id, ChatID: chatID, MessageID: messageID, SentAt: time.UnixMilli(sentAt.UnixMilli())}, nil
}

func (s *sqliteStore) OlderThan(ctx context.Context, cutoff time.Time) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, message_id, sent_at FROM sent_messages WHERE sent_at < ? ORDER BY sent_at, id`,
		cutoff.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r  Record
			ms int64
		)
		if err := rows.Scan(&r.ID, &r.ChatID, &r.MessageID, &ms); err != nil {
			return nil, err
		}
		r.SentAt = time.UnixMilli(ms)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sent_messages WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sent_messages`).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}
