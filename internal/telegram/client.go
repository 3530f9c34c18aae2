package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "releasebot/pkg/logx"
)

// Client wraps two telebot instances sharing one token: meta for short
// calls and transfer for uploads, each with its own http.Client timeout.
type Client struct {
	cfg Config
	log logx.Logger

	meta     *tele.Bot
	transfer *tele.Bot
	http     *http.Client
	limiter  *rate.Limiter
}

// recipient lets telebot address chats by @username as well as by id.
type recipient string

func (r recipient) Recipient() string { return string(r) }

// New builds a client. An empty token yields a disabled client whose calls
// fail fast with ErrDisabled.
func New(cfg Config, log logx.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	cfg.Token = strings.TrimSpace(cfg.Token)
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{
		cfg:     cfg,
		log:     log,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
	if cfg.Token == "" {
		return c, nil
	}

	var err error
	if c.meta, err = c.newBot(cfg.RequestTimeout); err != nil {
		return nil, err
	}
	if c.transfer, err = c.newBot(cfg.UploadTimeout); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) newBot(timeout time.Duration) (*tele.Bot, error) {
	// Offline skips getMe: the client never polls and must not touch the
	// network at construction time.
	return tele.NewBot(tele.Settings{
		URL:     c.cfg.APIURL,
		Token:   c.cfg.Token,
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
		OnError: func(err error, _ tele.Context) {
			c.log.Warn("telebot error", logx.Err(err))
		},
	})
}

// SetLogger replaces the logger. Call it before the client is shared.
func (c *Client) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		c.log = log
	}
}

// Enabled reports whether a bot token is configured.
func (c *Client) Enabled() bool { return c != nil && c.meta != nil }

func (c *Client) sendOptions(to Chat, mode tele.ParseMode) *tele.SendOptions {
	return &tele.SendOptions{ParseMode: mode, ThreadID: to.ThreadID}
}

func (c *Client) wait(ctx context.Context) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.limiter.Wait(ctx)
}

// SendText posts a Markdown message and returns its message id.
func (c *Client) SendText(ctx context.Context, to Chat, text string) (int, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	msg, err := c.meta.Send(recipient(to.ID), text, c.sendOptions(to, tele.ModeMarkdown))
	if err != nil {
		return 0, fmt.Errorf("sendMessage to %s: %w", to.ID, redact(err, c.cfg.Token))
	}
	if msg == nil || msg.ID == 0 {
		return 0, fmt.Errorf("sendMessage to %s: %w", to.ID, ErrBadResponse)
	}
	return msg.ID, nil
}

// UploadDocument uploads r as a document named name and returns the file id
// Telegram assigned, so later sends can reuse it.
func (c *Client) UploadDocument(ctx context.Context, to Chat, caption string, r io.Reader, name string) (Upload, error) {
	if err := c.wait(ctx); err != nil {
		return Upload{}, err
	}
	doc := &tele.Document{
		File:     tele.FromReader(r),
		FileName: name,
		Caption:  caption,
	}
	msg, err := c.transfer.Send(recipient(to.ID), doc, c.sendOptions(to, tele.ModeMarkdown))
	if err != nil {
		return Upload{}, fmt.Errorf("sendDocument upload %q to %s: %w", name, to.ID, redact(err, c.cfg.Token))
	}
	if msg == nil || msg.Document == nil || msg.Document.FileID == "" {
		return Upload{}, fmt.Errorf("sendDocument upload %q to %s: %w", name, to.ID, ErrBadResponse)
	}
	return Upload{FileID: msg.Document.FileID, MessageID: msg.ID}, nil
}

// SendDocumentByRef resends a previously uploaded document by file id.
func (c *Client) SendDocumentByRef(ctx context.Context, to Chat, caption, fileID string) (int, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	doc := &tele.Document{File: tele.File{FileID: fileID}, Caption: caption}
	msg, err := c.meta.Send(recipient(to.ID), doc, c.sendOptions(to, tele.ModeMarkdown))
	if err != nil {
		return 0, fmt.Errorf("sendDocument by ref to %s: %w", to.ID, redact(err, c.cfg.Token))
	}
	if msg == nil || msg.ID == 0 {
		return 0, fmt.Errorf("sendDocument by ref to %s: %w", to.ID, ErrBadResponse)
	}
	return msg.ID, nil
}

// SendLog posts plain text without a parse mode. It satisfies logx.Sender.
func (c *Client) SendLog(ctx context.Context, chatID string, threadID int, text string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.meta.Send(recipient(chatID), text, &tele.SendOptions{ThreadID: threadID, DisableWebPagePreview: true})
	return redact(err, c.cfg.Token)
}
