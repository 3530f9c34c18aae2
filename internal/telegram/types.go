// Package telegram is the outbound Bot API client used by the relay and the
// retention sweep. Every operation is a single attempt bounded by a timeout;
// callers decide what a failure means.
package telegram

import (
	"errors"
	"time"
)

var (
	// ErrDisabled is returned by every call when no bot token is configured.
	ErrDisabled = errors.New("telegram messaging disabled (no bot token)")
	// ErrBadResponse means the API answered OK but without the expected fields.
	ErrBadResponse = errors.New("telegram: unexpected response shape")
)

// Chat addresses a chat (numeric id or @username) and optional forum topic.
type Chat struct {
	ID       string
	ThreadID int
}

// Upload is the result of a document upload.
type Upload struct {
	FileID    string // reusable reference for resends
	MessageID int
}

// DeleteResult distinguishes the two successful deletion outcomes.
type DeleteResult int

const (
	Deleted DeleteResult = iota + 1
	AlreadyAbsent
)

func (r DeleteResult) String() string {
	switch r {
	case Deleted:
		return "deleted"
	case AlreadyAbsent:
		return "already_absent"
	default:
		return "unknown"
	}
}

// Config configures the client. Zero values fall back to defaults.
type Config struct {
	Token          string
	APIURL         string        // default https://api.telegram.org
	RequestTimeout time.Duration // metadata calls; default 10s
	UploadTimeout  time.Duration // document uploads; default 180s
	RatePerSec     int           // outbound call budget; default 20
}

const (
	DefaultAPIURL         = "https://api.telegram.org"
	DefaultRequestTimeout = 10 * time.Second
	DefaultUploadTimeout  = 180 * time.Second
	DefaultRatePerSec     = 20
)

func (c Config) withDefaults() Config {
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = DefaultUploadTimeout
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = DefaultRatePerSec
	}
	return c
}
