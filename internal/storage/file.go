package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "releasebot/pkg/logx"
)

// fileStore keeps records in memory and persists them as:
//   - <prefix>.snapshot.json (periodic snapshot)
//   - <prefix>.journal.jsonl (append-only add/del journal)
//
// The journal is compacted into the snapshot every compactEvery writes.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File

	records map[int64]Record
	nextID  int64
	writes  int
}

const compactEvery = 500

type journalOp struct {
	Op     string `json:"op"` // "add" | "del"
	Record Record `json:"record"`
}

type snapshot struct {
	NextID  int64    `json:"next_id"`
	Records []Record `json:"records"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
		records:      map[int64]Record{},
		nextID:       1,
	}
	journalPath := prefix + ".journal.jsonl"
	if err := s.loadSnapshot(); err != nil && !os.IsNotExist(err) {
		log.Warn("record snapshot unreadable; starting from journal", logx.Err(err))
	}
	if err := s.replayJournal(journalPath); err != nil && !os.IsNotExist(err) {
		log.Warn("record journal replay failed", logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) Insert(ctx context.Context, chatID string, messageID int, sentAt time.Time) (Record, error) {
	_ = ctx
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return Record{}, ErrClosed
	}
	r := Record{ID: s.nextID, ChatID: chatID, MessageID: messageID, SentAt: time.UnixMilli(sentAt.UnixMilli())}
	if err := s.appendLocked(journalOp{Op: "add", Record: r}); err != nil {
		return Record{}, err
	}
	s.nextID++
	s.records[r.ID] = r
	return r, nil
}

func (s *fileStore) OlderThan(ctx context.Context, cutoff time.Time) ([]Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	out := make([]Record, 0)
	for _, r := range s.records {
		if r.SentAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *fileStore) Delete(ctx context.Context, id int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	r, ok := s.records[id]
	if !ok {
		return nil
	}
	if err := s.appendLocked(journalOp{Op: "del", Record: r}); err != nil {
		return err
	}
	delete(s.records, id)
	return nil
}

func (s *fileStore) Count(ctx context.Context) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return 0, ErrClosed
	}
	return len(s.records), nil
}

func (s *fileStore) appendLocked(op journalOp) error {
	if err := json.NewEncoder(s.journal).Encode(op); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("record journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	snap := snapshot{NextID: s.nextID, Records: make([]Record, 0, len(s.records))}
	for _, r := range s.records {
		snap.Records = append(snap.Records, r)
	}
	sortRecords(snap.Records)

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, r := range snap.Records {
		s.records[r.ID] = r
	}
	if snap.NextID > s.nextID {
		s.nextID = snap.NextID
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var op journalOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil || op.Record.ID == 0 {
			// Torn tail write from a crash.
			continue
		}
		switch op.Op {
		case "add":
			s.records[op.Record.ID] = op.Record
		case "del":
			delete(s.records, op.Record.ID)
		}
		if op.Record.ID >= s.nextID {
			s.nextID = op.Record.ID + 1
		}
	}
	return sc.Err()
}

func sortRecords(rs []Record) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].SentAt.Equal(rs[j].SentAt) {
			return rs[i].SentAt.Before(rs[j].SentAt)
		}
		return rs[i].ID < rs[j].ID
	})
}
