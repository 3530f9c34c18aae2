package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage. An empty Driver means "sqlite".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is one message the relay sent. Records are immutable; the only
// mutation is deletion after the remote message is gone.
type Record struct {
	ID        int64     `json:"id"`
	ChatID    string    `json:"chat_id"`
	MessageID int       `json:"message_id"`
	SentAt    time.Time `json:"sent_at"`
}

// Store is safe for concurrent use: webhook handlers insert while the
// retention sweep lists and deletes.
type Store interface {
	// Insert assigns a new ID. A zero sentAt means now.
	Insert(ctx context.Context, chatID string, messageID int, sentAt time.Time) (Record, error)
	// OlderThan returns records with SentAt strictly before cutoff, oldest first.
	OlderThan(ctx context.Context, cutoff time.Time) ([]Record, error)
	// Delete removes a record. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
	Close() error
}
