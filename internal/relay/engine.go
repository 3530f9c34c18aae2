// Package relay turns GitHub release webhooks into Telegram messages: one
// text announcement per destination plus every release asset, uploaded once
// and re-sent by file id to the remaining destinations.
package relay

import (
	"context"
	"io"
	"time"

	"releasebot/internal/filecache"
	"releasebot/internal/metrics"
	"releasebot/internal/storage"
	"releasebot/internal/telegram"
	logx "releasebot/pkg/logx"
)

// MaxAssetSize is the Bot API upload limit; larger assets are skipped.
const MaxAssetSize = 50 << 20

// Messenger is the outbound subset of the Telegram client the engine uses.
type Messenger interface {
	SendText(ctx context.Context, to telegram.Chat, text string) (int, error)
	UploadDocument(ctx context.Context, to telegram.Chat, caption string, r io.Reader, name string) (telegram.Upload, error)
	SendDocumentByRef(ctx context.Context, to telegram.Chat, caption, fileID string) (int, error)
}

// Recorder persists sent messages for the retention sweep.
type Recorder interface {
	Insert(ctx context.Context, chatID string, messageID int, sentAt time.Time) (storage.Record, error)
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusIgnored Status = "ignored"
	StatusError   Status = "error"
)

// Outcome is what the webhook caller sees.
type Outcome struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

type Options struct {
	Messenger Messenger
	Fetcher   Fetcher // default: NewHTTPFetcher(DefaultDownloadTimeout)
	Cache     *filecache.Cache
	Records   Recorder
	Settings  func() Settings
	Metrics   *metrics.Metrics
	Log       logx.Logger
	Now       func() time.Time
}

// Engine is safe for concurrent use; each Handle call reads its own
// Settings snapshot.
type Engine struct {
	msg      Messenger
	fetch    Fetcher
	cache    *filecache.Cache
	records  Recorder
	settings func() Settings
	metrics  *metrics.Metrics
	log      logx.Logger
	now      func() time.Time
}

func New(opts Options) *Engine {
	e := &Engine{
		msg:      opts.Messenger,
		fetch:    opts.Fetcher,
		cache:    opts.Cache,
		records:  opts.Records,
		settings: opts.Settings,
		metrics:  opts.Metrics,
		log:      opts.Log,
		now:      opts.Now,
	}
	if e.fetch == nil {
		e.fetch = NewHTTPFetcher(DefaultDownloadTimeout)
	}
	if e.cache == nil {
		e.cache = filecache.New()
	}
	if e.settings == nil {
		e.settings = func() Settings { return Settings{} }
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

func ignored() Outcome { return Outcome{Status: StatusIgnored} }

// Handle processes one webhook. The returned error is non-nil only for
// ErrMalformedPayload; delivery failures are logged and never surface.
func (e *Engine) Handle(ctx context.Context, eventType string, body []byte) (Outcome, error) {
	start := e.now()
	out, err := e.handle(ctx, eventType, body)
	e.metrics.WebhookEvent(string(out.Status))
	if out.Status == StatusSuccess {
		e.metrics.ObserveHandle(e.now().Sub(start))
	}
	return out, err
}

func (e *Engine) handle(ctx context.Context, eventType string, body []byte) (Outcome, error) {
	if eventType != "release" {
		e.log.Debug("event ignored", logx.String("event", eventType))
		return ignored(), nil
	}

	p, owner, err := decodePayload(body)
	if err != nil {
		e.log.Warn("release payload rejected", logx.Err(err))
		return Outcome{Status: StatusError, Message: "Malformed payload"}, err
	}

	set := e.settings()
	if !set.ownerAllowed(owner) {
		e.log.Debug("release ignored (owner mismatch)", logx.String("owner", owner), logx.String("target_user", set.TargetUser))
		return ignored(), nil
	}
	if len(set.Destinations) == 0 {
		e.log.Warn("release ignored: no targets configured", logx.String("owner", owner))
		return ignored(), nil
	}
	if a := p.action(); a != "published" {
		e.log.Debug("release ignored (action)", logx.String("action", a))
		return ignored(), nil
	}

	ev, err := p.event()
	if err != nil {
		e.log.Warn("release payload rejected", logx.Err(err))
		return Outcome{Status: StatusError, Message: "Malformed payload"}, err
	}

	log := e.log.With(logx.String("repo", ev.RepoFullName), logx.String("tag", ev.TagName))
	log.Info("release published", logx.Int("assets", len(ev.Assets)), logx.Int("targets", len(set.Destinations)))

	e.announce(ctx, log, ev, set.Destinations)

	targets := matching(set.Destinations, ev.TagName)
	for _, a := range ev.Assets {
		e.deliverAsset(ctx, log, ev, a, targets)
	}
	return Outcome{Status: StatusSuccess}, nil
}

func (e *Engine) announce(ctx context.Context, log logx.Logger, ev ReleaseEvent, dests []Destination) {
	text := announcement(ev)
	for _, d := range dests {
		if !d.Accepts(ev.TagName) {
			log.Debug("target skipped by tag filter", logx.String("chat_id", d.ChatID), logx.String("filter_tag", d.FilterTag))
			continue
		}
		id, err := e.msg.SendText(ctx, d.chat(), text)
		e.metrics.Delivery(metrics.KindText, err == nil)
		if err != nil {
			log.Warn("announcement failed", logx.String("chat_id", d.ChatID), logx.Err(err))
			continue
		}
		e.record(ctx, log, d.ChatID, id)
	}
}

func (e *Engine) deliverAsset(ctx context.Context, log logx.Logger, ev ReleaseEvent, a Asset, targets []Destination) {
	log = log.With(logx.String("asset", a.Name))
	if a.Size > MaxAssetSize {
		log.Info("asset skipped (too large)", logx.Int64("size", a.Size))
		e.metrics.AssetSkipped(metrics.SkipTooLarge)
		return
	}
	if len(targets) == 0 {
		e.metrics.AssetSkipped(metrics.SkipNoTargets)
		return
	}

	name := SanitizeFileName(a.Name)
	if name != a.Name {
		log.Debug("asset renamed", logx.String("file_name", name))
	}
	caption := assetCaption(ev, name)

	if fileID, ok := e.cache.Get(a.DownloadURL); ok {
		e.metrics.CacheLookup(true)
		e.resend(ctx, log, caption, fileID, targets)
		return
	}
	e.metrics.CacheLookup(false)

	body, err := e.fetch.Fetch(ctx, a.DownloadURL)
	if err != nil {
		log.Warn("asset download failed", logx.String("url", a.DownloadURL), logx.Err(err))
		e.metrics.AssetSkipped(metrics.SkipDownloadFailed)
		return
	}
	first := targets[0]
	up, err := e.msg.UploadDocument(ctx, first.chat(), caption, body, name)
	_ = body.Close()
	e.metrics.Delivery(metrics.KindUpload, err == nil)
	if err != nil {
		log.Warn("asset upload failed", logx.String("chat_id", first.ChatID), logx.Err(err))
		e.metrics.AssetSkipped(metrics.SkipUploadFailed)
		return
	}
	e.cache.Put(a.DownloadURL, up.FileID)
	e.record(ctx, log, first.ChatID, up.MessageID)
	e.resend(ctx, log, caption, up.FileID, targets[1:])
}

func (e *Engine) resend(ctx context.Context, log logx.Logger, caption, fileID string, targets []Destination) {
	for _, d := range targets {
		id, err := e.msg.SendDocumentByRef(ctx, d.chat(), caption, fileID)
		e.metrics.Delivery(metrics.KindResend, err == nil)
		if err != nil {
			log.Warn("asset resend failed", logx.String("chat_id", d.ChatID), logx.Err(err))
			continue
		}
		e.record(ctx, log, d.ChatID, id)
	}
}

func (e *Engine) record(ctx context.Context, log logx.Logger, chatID string, messageID int) {
	if e.records == nil || messageID == 0 {
		return
	}
	if _, err := e.records.Insert(ctx, chatID, messageID, e.now()); err != nil {
		log.Error("delivery record failed", logx.String("chat_id", chatID), logx.Int("message_id", messageID), logx.Err(err))
	}
}
