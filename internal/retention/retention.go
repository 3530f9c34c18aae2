// Package retention deletes relayed Telegram messages once they are older
// than the retention window and drops their delivery records.
package retention

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"releasebot/internal/metrics"
	"releasebot/internal/storage"
	"releasebot/internal/telegram"
	logx "releasebot/pkg/logx"
)

const (
	DefaultSchedule = "@every 24h"
	DefaultMaxAge   = 7 * 24 * time.Hour
)

// Records is the part of storage.Store a sweep needs.
type Records interface {
	OlderThan(ctx context.Context, cutoff time.Time) ([]storage.Record, error)
	Delete(ctx context.Context, id int64) error
}

// Deleter removes a message remotely.
type Deleter interface {
	DeleteMessage(ctx context.Context, chatID string, messageID int) (telegram.DeleteResult, error)
}

type Options struct {
	Records    Records
	Deleter    Deleter
	MaxAge     time.Duration // default 7 days
	Schedule   string        // cron line, descriptor or Go duration; default @every 24h
	RunOnStart bool
	Metrics    *metrics.Metrics
	Log        logx.Logger
	Now        func() time.Time
}

// Report summarizes one sweep.
type Report struct {
	Scanned int
	Removed int
	Kept    int
}

type Job struct {
	records    Records
	deleter    Deleter
	maxAge     time.Duration
	sched      cron.Schedule
	runOnStart bool
	metrics    *metrics.Metrics
	log        logx.Logger
	now        func() time.Time
}

func New(opts Options) (*Job, error) {
	if opts.Records == nil || opts.Deleter == nil {
		return nil, fmt.Errorf("retention: records and deleter are required")
	}
	sched, err := ParseSchedule(opts.Schedule)
	if err != nil {
		return nil, err
	}
	j := &Job{
		records:    opts.Records,
		deleter:    opts.Deleter,
		maxAge:     opts.MaxAge,
		sched:      sched,
		runOnStart: opts.RunOnStart,
		metrics:    opts.Metrics,
		log:        opts.Log,
		now:        opts.Now,
	}
	if j.maxAge <= 0 {
		j.maxAge = DefaultMaxAge
	}
	if j.log.IsZero() {
		j.log = logx.Nop()
	}
	if j.now == nil {
		j.now = time.Now
	}
	return j, nil
}

// ParseSchedule accepts a standard 5-field cron line, a descriptor such as
// "@daily" or "@every 6h", or a bare Go duration ("12h").
func ParseSchedule(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		s = DefaultSchedule
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < time.Second {
			return nil, fmt.Errorf("retention schedule %q: interval must be at least 1s", raw)
		}
		return cron.Every(d), nil
	}
	sched, err := cron.ParseStandard(s)
	if err != nil {
		return nil, fmt.Errorf("retention schedule %q: %w", raw, err)
	}
	if sched.Next(time.Now()).IsZero() {
		return nil, fmt.Errorf("retention schedule %q: never fires", raw)
	}
	return sched, nil
}

// Sweep runs one pass. Per-record failures are logged and the record is kept
// for the next pass; the returned error only reports a failed listing.
//
// Once started, a record's delete is not interrupted by ctx; ctx is checked
// between records.
func (j *Job) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	cutoff := j.now().Add(-j.maxAge)
	recs, err := j.records.OlderThan(ctx, cutoff)
	if err != nil {
		return rep, fmt.Errorf("list expired records: %w", err)
	}
	rep.Scanned = len(recs)

	work := context.WithoutCancel(ctx)
	for _, r := range recs {
		if ctx.Err() != nil {
			rep.Kept += rep.Scanned - rep.Removed - rep.Kept
			break
		}
		if j.sweepOne(work, r) {
			rep.Removed++
		} else {
			rep.Kept++
		}
	}
	j.metrics.CleanupRun()
	j.log.Info("retention sweep done",
		logx.Int("scanned", rep.Scanned), logx.Int("removed", rep.Removed), logx.Int("kept", rep.Kept),
		logx.Time("cutoff", cutoff))
	return rep, nil
}

func (j *Job) sweepOne(ctx context.Context, r storage.Record) bool {
	log := j.log.With(logx.String("chat_id", r.ChatID), logx.Int("message_id", r.MessageID))
	res, err := j.deleter.DeleteMessage(ctx, r.ChatID, r.MessageID)
	if err != nil {
		log.Warn("remote delete failed; keeping record", logx.Err(err))
		j.metrics.CleanupRecord(false)
		return false
	}
	if err := j.records.Delete(ctx, r.ID); err != nil {
		log.Error("record delete failed", logx.Int64("id", r.ID), logx.Err(err))
		j.metrics.CleanupRecord(false)
		return false
	}
	log.Debug("message cleaned up", logx.String("result", res.String()))
	j.metrics.CleanupRecord(true)
	return true
}

// Run sweeps on schedule until ctx is done. A panicking or failing sweep is
// logged and the loop keeps going.
func (j *Job) Run(ctx context.Context) error {
	if j.runOnStart {
		j.safeSweep(ctx)
	}
	for {
		now := j.now()
		next := j.sched.Next(now)
		if next.IsZero() {
			j.log.Error("retention schedule has no next run; sweep loop stopped")
			return nil
		}
		j.log.Debug("retention sweep scheduled", logx.Time("next", next))
		t := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		j.safeSweep(ctx)
	}
}

func (j *Job) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			j.log.Error("retention sweep panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	if _, err := j.Sweep(ctx); err != nil {
		j.log.Error("retention sweep failed", logx.Err(err))
	}
}
