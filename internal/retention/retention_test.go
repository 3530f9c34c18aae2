package retention

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"releasebot/internal/storage"
	"releasebot/internal/telegram"
	logx "releasebot/pkg/logx"
)

type fakeDeleter struct {
	mu      sync.Mutex
	calls   []int
	results map[int]telegram.DeleteResult
	fail    map[int]bool
	panicOn int
}

func (f *fakeDeleter) DeleteMessage(_ context.Context, _ string, messageID int) (telegram.DeleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, messageID)
	if f.panicOn != 0 && messageID == f.panicOn {
		panic("deleter exploded")
	}
	if f.fail[messageID] {
		return 0, errors.New("network unreachable")
	}
	if r, ok := f.results[messageID]; ok {
		return r, nil
	}
	return telegram.Deleted, nil
}

func (f *fakeDeleter) called() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

func openStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "sent.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSweep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := openStore(t)

	insert := func(msgID int, age time.Duration) {
		if _, err := st.Insert(ctx, "@chan", msgID, now.Add(-age)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	insert(1, 8*24*time.Hour)  // deleted remotely
	insert(2, 9*24*time.Hour)  // already gone
	insert(3, 10*24*time.Hour) // network failure
	insert(4, 2*24*time.Hour)  // inside the window

	del := &fakeDeleter{
		results: map[int]telegram.DeleteResult{2: telegram.AlreadyAbsent},
		fail:    map[int]bool{3: true},
	}
	job, err := New(Options{Records: st, Deleter: del, Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rep, err := job.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep != (Report{Scanned: 3, Removed: 2, Kept: 1}) {
		t.Fatalf("report = %+v", rep)
	}
	for _, id := range del.called() {
		if id == 4 {
			t.Fatal("record inside the retention window was touched")
		}
	}
	left, err := st.OlderThan(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("OlderThan: %v", err)
	}
	got := map[int]bool{}
	for _, r := range left {
		got[r.MessageID] = true
	}
	if len(got) != 2 || !got[3] || !got[4] {
		t.Fatalf("remaining messages = %v, want 3 and 4", got)
	}

	// The failed record is retried by the next sweep.
	del.mu.Lock()
	del.fail = nil
	del.mu.Unlock()
	rep, err = job.Sweep(ctx)
	if err != nil || rep.Removed != 1 || rep.Kept != 0 {
		t.Fatalf("second sweep = %+v, %v", rep, err)
	}
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"", base.Add(24 * time.Hour)},
		{"@every 6h", base.Add(6 * time.Hour)},
		{"30m", base.Add(30 * time.Minute)},
		{"0 3 * * *", base.Add(3 * time.Hour)},
		{"@daily", base.Add(24 * time.Hour)},
	}
	for _, tt := range tests {
		s, err := ParseSchedule(tt.in)
		if err != nil {
			t.Fatalf("ParseSchedule(%q): %v", tt.in, err)
		}
		if got := s.Next(base); !got.Equal(tt.want) {
			t.Errorf("ParseSchedule(%q).Next = %v, want %v", tt.in, got, tt.want)
		}
	}
	for _, bad := range []string{"every day", "100ms", "61 * * * *", "0 0 30 2 *"} {
		if _, err := ParseSchedule(bad); err == nil {
			t.Errorf("ParseSchedule(%q) accepted", bad)
		}
	}
}

func TestRunSurvivesPanicAndStops(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	ctx := context.Background()
	old := time.Now().Add(-30 * 24 * time.Hour)
	for _, id := range []int{1, 2} {
		if _, err := st.Insert(ctx, "@chan", id, old); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	del := &fakeDeleter{panicOn: 1}
	job, err := New(Options{Records: st, Deleter: del, Schedule: "1s", RunOnStart: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- job.Run(runCtx) }()

	// The first sweep panics on message 1; a later scheduled sweep runs again.
	deadline := time.Now().Add(5 * time.Second)
	for len(del.called()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("scheduled sweep never ran after panic")
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestSweepStopsBetweenRecordsOnCancel(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	ctx := context.Background()
	old := time.Now().Add(-30 * 24 * time.Hour)
	for _, id := range []int{1, 2, 3} {
		if _, err := st.Insert(ctx, "@chan", id, old); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	job, err := New(Options{Records: st, Deleter: &fakeDeleter{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	rep, _ := job.Sweep(cctx)
	if rep.Removed != 0 {
		t.Fatalf("canceled sweep removed %d records", rep.Removed)
	}
	if n, _ := st.Count(ctx); n != 3 {
		t.Fatalf("records = %d, want 3", n)
	}
}

type neverSchedule struct{}

func (neverSchedule) Next(time.Time) time.Time { return time.Time{} }

type countingRecords struct {
	mu sync.Mutex
	n  int
}

func (c *countingRecords) OlderThan(context.Context, time.Time) ([]storage.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return nil, nil
}

func (c *countingRecords) Delete(context.Context, int64) error { return nil }

func TestRunStopsWhenScheduleNeverFires(t *testing.T) {
	t.Parallel()
	recs := &countingRecords{}
	job, err := New(Options{Records: recs, Deleter: &fakeDeleter{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	job.sched = neverSchedule{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("Run kept looping on a schedule with no next time")
	}
	if recs.n != 0 {
		t.Fatalf("sweeps = %d, want 0", recs.n)
	}
}

func TestNewRejectsImpossibleSchedule(t *testing.T) {
	t.Parallel()
	if _, err := New(Options{Records: &countingRecords{}, Deleter: &fakeDeleter{}, Schedule: "0 0 30 2 *"}); err == nil {
		t.Fatal("New accepted a schedule that never fires")
	}
}
