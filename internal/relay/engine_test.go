package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"releasebot/internal/filecache"
	"releasebot/internal/storage"
	"releasebot/internal/telegram"
)

type sent struct {
	Op      string // text, upload, ref
	ChatID  string
	Thread  int
	Text    string
	FileID  string
	Name    string
	Content string
}

type fakeMessenger struct {
	mu       sync.Mutex
	calls    []sent
	nextID   int
	failChat map[string]bool
	failOp   map[string]bool
}

func (f *fakeMessenger) add(s sent) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
	if f.failChat[s.ChatID] || f.failOp[s.Op] {
		return 0, errors.New("boom")
	}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeMessenger) SendText(_ context.Context, to telegram.Chat, text string) (int, error) {
	return f.add(sent{Op: "text", ChatID: to.ID, Thread: to.ThreadID, Text: text})
}

func (f *fakeMessenger) UploadDocument(_ context.Context, to telegram.Chat, caption string, r io.Reader, name string) (telegram.Upload, error) {
	b, _ := io.ReadAll(r)
	id, err := f.add(sent{Op: "upload", ChatID: to.ID, Thread: to.ThreadID, Text: caption, Name: name, Content: string(b)})
	if err != nil {
		return telegram.Upload{}, err
	}
	return telegram.Upload{FileID: "file-" + name, MessageID: id}, nil
}

func (f *fakeMessenger) SendDocumentByRef(_ context.Context, to telegram.Chat, caption, fileID string) (int, error) {
	return f.add(sent{Op: "ref", ChatID: to.ID, Thread: to.ThreadID, Text: caption, FileID: fileID})
}

func (f *fakeMessenger) ops() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.calls...)
}

func (f *fakeMessenger) count(op string) int {
	n := 0
	for _, c := range f.ops() {
		if c.Op == op {
			n++
		}
	}
	return n
}

type fakeFetcher struct {
	mu      sync.Mutex
	fetched []string
	fail    bool
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, url)
	if f.fail {
		return nil, errors.New("connection reset")
	}
	return io.NopCloser(strings.NewReader("bytes of " + url)), nil
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

type memRecorder struct {
	mu   sync.Mutex
	recs []storage.Record
	fail bool
}

func (m *memRecorder) Insert(_ context.Context, chatID string, messageID int, sentAt time.Time) (storage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return storage.Record{}, errors.New("disk full")
	}
	r := storage.Record{ID: int64(len(m.recs) + 1), ChatID: chatID, MessageID: messageID, SentAt: sentAt}
	m.recs = append(m.recs, r)
	return r, nil
}

func (m *memRecorder) all() []storage.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.Record(nil), m.recs...)
}

type harness struct {
	engine *Engine
	msg    *fakeMessenger
	fetch  *fakeFetcher
	rec    *memRecorder
	cache  *filecache.Cache
}

func newHarness(dests ...Destination) *harness {
	h := &harness{
		msg:   &fakeMessenger{failChat: map[string]bool{}, failOp: map[string]bool{}},
		fetch: &fakeFetcher{},
		rec:   &memRecorder{},
		cache: filecache.New(),
	}
	h.engine = New(Options{
		Messenger: h.msg,
		Fetcher:   h.fetch,
		Cache:     h.cache,
		Records:   h.rec,
		Settings: func() Settings {
			return Settings{TargetUser: "Octocat", Destinations: dests}
		},
	})
	return h
}

type testAsset struct {
	Name string `json:"name"`
	URL  string `json:"browser_download_url"`
	Size int64  `json:"size"`
}

func releaseBody(t *testing.T, action, owner, tag string, assets ...testAsset) []byte {
	t.Helper()
	if assets == nil {
		assets = []testAsset{}
	}
	b, err := json.Marshal(map[string]any{
		"action": action,
		"repository": map[string]any{
			"full_name": owner + "/hello_world",
			"owner":     map[string]any{"login": owner},
		},
		"release": map[string]any{
			"tag_name": tag,
			"html_url": "https://github.com/" + owner + "/hello_world/releases/" + tag,
			"name":     nil,
			"author":   map[string]any{"login": "monalisa"},
			"assets":   assets,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestIgnoredEventsMakeNoCalls(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		event string
		body  func(t *testing.T) []byte
	}{
		{name: "other event", event: "push", body: func(t *testing.T) []byte { return []byte(`not even json`) }},
		{name: "owner mismatch", event: "release", body: func(t *testing.T) []byte { return releaseBody(t, "published", "someone", "v1") }},
		{name: "not published", event: "release", body: func(t *testing.T) []byte {
			return releaseBody(t, "created", "octocat", "v1", testAsset{Name: "a.zip", URL: "u", Size: 1})
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(Destination{ChatID: "@a"})
			out, err := h.engine.Handle(context.Background(), tt.event, tt.body(t))
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if out.Status != StatusIgnored {
				t.Fatalf("status = %s, want ignored", out.Status)
			}
			if n := len(h.msg.ops()); n != 0 {
				t.Fatalf("remote calls = %d, want 0", n)
			}
			if h.fetch.count() != 0 {
				t.Fatal("asset downloaded for ignored event")
			}
		})
	}
}

func TestNoDestinationsIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness()
	out, err := h.engine.Handle(context.Background(), "release", releaseBody(t, "published", "octocat", "v1"))
	if err != nil || out.Status != StatusIgnored {
		t.Fatalf("out = %+v, err = %v", out, err)
	}
}

func TestOwnerMatchIsCaseInsensitive(t *testing.T) {
	t.Parallel()
	h := newHarness(Destination{ChatID: "@a"})
	out, err := h.engine.Handle(context.Background(), "release", releaseBody(t, "published", "OCTOCAT", "v1"))
	if err != nil || out.Status != StatusSuccess {
		t.Fatalf("out = %+v, err = %v", out, err)
	}
	if h.msg.count("text") != 1 {
		t.Fatalf("text sends = %d, want 1", h.msg.count("text"))
	}
}

func TestEmptyTargetUserAcceptsAnyOwner(t *testing.T) {
	t.Parallel()
	msg := &fakeMessenger{}
	e := New(Options{
		Messenger: msg,
		Fetcher:   &fakeFetcher{},
		Settings:  func() Settings { return Settings{Destinations: []Destination{{ChatID: "@a"}}} },
	})
	out, err := e.Handle(context.Background(), "release", releaseBody(t, "published", "anyone", "v1"))
	if err != nil || out.Status != StatusSuccess {
		t.Fatalf("out = %+v, err = %v", out, err)
	}
}

func TestMalformedPayload(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{`},
		{name: "no owner", body: `{"action":"published","repository":{"full_name":"x/y"}}`},
		{name: "no tag", body: `{"action":"published","repository":{"full_name":"octocat/y","owner":{"login":"octocat"}},
			"release":{"html_url":"u","author":{"login":"a"}}}`},
		{name: "asset without url", body: `{"action":"published","repository":{"full_name":"octocat/y","owner":{"login":"octocat"}},
			"release":{"tag_name":"v1","html_url":"u","author":{"login":"a"},"assets":[{"name":"a.zip","size":1}]}}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(Destination{ChatID: "@a"})
			out, err := h.engine.Handle(context.Background(), "release", []byte(tt.body))
			if !errors.Is(err, ErrMalformedPayload) {
				t.Fatalf("err = %v, want ErrMalformedPayload", err)
			}
			if out.Status != StatusError {
				t.Fatalf("status = %s, want error", out.Status)
			}
			if n := len(h.msg.ops()); n != 0 {
				t.Fatalf("remote calls = %d, want 0", n)
			}
		})
	}
}

func TestFilterTagExcludesDestinationEntirely(t *testing.T) {
	t.Parallel()
	h := newHarness(
		Destination{ChatID: "@stable"},
		Destination{ChatID: "@nightly", FilterTag: "Nightly"},
	)
	body := releaseBody(t, "published", "octocat", "v1.0.0", testAsset{Name: "app.zip", URL: "https://dl/app.zip", Size: 10})
	if _, err := h.engine.Handle(context.Background(), "release", body); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	for _, c := range h.msg.ops() {
		if c.ChatID == "@nightly" {
			t.Fatalf("filtered destination received %s", c.Op)
		}
	}

	h2 := newHarness(Destination{ChatID: "@nightly", FilterTag: "Nightly", ThreadID: 9})
	body = releaseBody(t, "published", "octocat", "v2-NIGHTLY", testAsset{Name: "app.zip", URL: "https://dl/app.zip", Size: 10})
	if _, err := h2.engine.Handle(context.Background(), "release", body); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	ops := h2.msg.ops()
	if len(ops) != 2 || ops[0].Op != "text" || ops[1].Op != "upload" || ops[1].Thread != 9 {
		t.Fatalf("ops = %+v", ops)
	}
}

func TestFirstTargetUploadsOthersResend(t *testing.T) {
	t.Parallel()
	h := newHarness(Destination{ChatID: "@one"}, Destination{ChatID: "@two"})
	body := releaseBody(t, "published", "octocat", "v1.2.3", testAsset{Name: "tool.v1.2.3.tar.gz", URL: "https://dl/tool", Size: 1024})
	out, err := h.engine.Handle(context.Background(), "release", body)
	if err != nil || out.Status != StatusSuccess {
		t.Fatalf("out = %+v, err = %v", out, err)
	}

	var uploads, refs []sent
	for _, c := range h.msg.ops() {
		switch c.Op {
		case "upload":
			uploads = append(uploads, c)
		case "ref":
			refs = append(refs, c)
		}
	}
	if len(uploads) != 1 || uploads[0].ChatID != "@one" {
		t.Fatalf("uploads = %+v", uploads)
	}
	if uploads[0].Name != "tool-v1-2-3-tar.gz" || uploads[0].Content != "bytes of https://dl/tool" {
		t.Fatalf("upload = %+v", uploads[0])
	}
	if len(refs) != 1 || refs[0].ChatID != "@two" || refs[0].FileID != "file-tool-v1-2-3-tar.gz" {
		t.Fatalf("refs = %+v", refs)
	}
	// Two announcements plus one upload plus one resend.
	if got := len(h.rec.all()); got != 4 {
		t.Fatalf("records = %d, want 4", got)
	}
	if id, ok := h.cache.Get("https://dl/tool"); !ok || id != "file-tool-v1-2-3-tar.gz" {
		t.Fatalf("cache = %q, %v", id, ok)
	}
}

func TestCachedAssetIsNotDownloadedAgain(t *testing.T) {
	t.Parallel()
	h := newHarness(Destination{ChatID: "@one"}, Destination{ChatID: "@two"})
	h.cache.Put("https://dl/app.zip", "cached-id")

	body := releaseBody(t, "published", "octocat", "v1", testAsset{Name: "app.zip", URL: "https://dl/app.zip", Size: 5})
	if _, err := h.engine.Handle(context.Background(), "release", body); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if h.fetch.count() != 0 {
		t.Fatal("cached asset was downloaded")
	}
	if h.msg.count("upload") != 0 {
		t.Fatal("cached asset was uploaded")
	}
	var refs []string
	for _, c := range h.msg.ops() {
		if c.Op == "ref" {
			if c.FileID != "cached-id" {
				t.Fatalf("resend used %q", c.FileID)
			}
			refs = append(refs, c.ChatID)
		}
	}
	if strings.Join(refs, ",") != "@one,@two" {
		t.Fatalf("resends = %v", refs)
	}
}

func TestSecondEventReusesUpload(t *testing.T) {
	t.Parallel()
	h := newHarness(Destination{ChatID: "@one"})
	body := releaseBody(t, "published", "octocat", "v1", testAsset{Name: "app.zip", URL: "https://dl/app.zip", Size: 5})
	for i := 0; i < 2; i++ {
		if _, err := h.engine.Handle(context.Background(), "release", body); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	if h.fetch.count() != 1 || h.msg.count("upload") != 1 || h.msg.count("ref") != 1 {
		t.Fatalf("fetch=%d upload=%d ref=%d", h.fetch.count(), h.msg.count("upload"), h.msg.count("ref"))
	}
}

func TestOversizedAssetSkipped(t *testing.T) {
	t.Parallel()
	h := newHarness(Destination{ChatID: "@one"})
	body := releaseBody(t, "published", "octocat", "v1",
		testAsset{Name: "huge.iso", URL: "https://dl/huge", Size: MaxAssetSize + 1},
		testAsset{Name: "exact.bin", URL: "https://dl/exact", Size: MaxAssetSize},
	)
	if _, err := h.engine.Handle(context.Background(), "release", body); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	for _, c := range h.msg.ops() {
		if c.Name == "huge.iso" {
			t.Fatal("oversized asset was sent")
		}
	}
	if h.fetch.count() != 1 {
		t.Fatalf("downloads = %d, want 1 (only the asset at the limit)", h.fetch.count())
	}
	// Announcement plus the asset at the limit.
	if got := len(h.rec.all()); got != 2 {
		t.Fatalf("records = %d, want 2", got)
	}
}

func TestFailuresDoNotStopFanOut(t *testing.T) {
	t.Parallel()
	h := newHarness(Destination{ChatID: "@down"}, Destination{ChatID: "@up"})
	h.msg.failChat["@down"] = true
	body := releaseBody(t, "published", "octocat", "v1", testAsset{Name: "a.zip", URL: "https://dl/a", Size: 1})
	out, err := h.engine.Handle(context.Background(), "release", body)
	if err != nil || out.Status != StatusSuccess {
		t.Fatalf("out = %+v, err = %v", out, err)
	}
	recs := h.rec.all()
	if len(recs) != 1 || recs[0].ChatID != "@up" {
		t.Fatalf("records = %+v", recs)
	}
	// The upload to the first target failed; no other target is tried.
	if h.msg.count("ref") != 0 {
		t.Fatal("resend attempted after failed upload")
	}
	if h.cache.Len() != 0 {
		t.Fatal("failed upload was cached")
	}
}

func TestDownloadFailureSkipsAssetOnly(t *testing.T) {
	t.Parallel()
	h := newHarness(Destination{ChatID: "@one"})
	h.fetch.fail = true
	body := releaseBody(t, "published", "octocat", "v1",
		testAsset{Name: "a.zip", URL: "https://dl/a", Size: 1},
		testAsset{Name: "b.zip", URL: "https://dl/b", Size: 1},
	)
	out, err := h.engine.Handle(context.Background(), "release", body)
	if err != nil || out.Status != StatusSuccess {
		t.Fatalf("out = %+v, err = %v", out, err)
	}
	if h.fetch.count() != 2 {
		t.Fatalf("downloads = %d, want 2", h.fetch.count())
	}
	if h.msg.count("text") != 1 || h.msg.count("upload") != 0 {
		t.Fatalf("ops = %+v", h.msg.ops())
	}
}

func TestRecordFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	h := newHarness(Destination{ChatID: "@one"})
	h.rec.fail = true
	out, err := h.engine.Handle(context.Background(), "release", releaseBody(t, "published", "octocat", "v1"))
	if err != nil || out.Status != StatusSuccess {
		t.Fatalf("out = %+v, err = %v", out, err)
	}
}

func TestNoMatchingTargetSkipsDownload(t *testing.T) {
	t.Parallel()
	h := newHarness(Destination{ChatID: "@beta", FilterTag: "beta"})
	body := releaseBody(t, "published", "octocat", "v1", testAsset{Name: "a.zip", URL: "https://dl/a", Size: 1})
	if _, err := h.engine.Handle(context.Background(), "release", body); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if h.fetch.count() != 0 || len(h.msg.ops()) != 0 {
		t.Fatalf("fetch=%d ops=%+v", h.fetch.count(), h.msg.ops())
	}
}

func TestConcurrentHandle(t *testing.T) {
	t.Parallel()
	h := newHarness(Destination{ChatID: "@one"}, Destination{ChatID: "@two"})
	body := releaseBody(t, "published", "octocat", "v1", testAsset{Name: "a.zip", URL: "https://dl/a", Size: 1})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.engine.Handle(context.Background(), "release", body); err != nil {
				t.Errorf("Handle: %v", err)
			}
		}()
	}
	wg.Wait()
	// Each event yields two announcements and two asset deliveries.
	if got := len(h.rec.all()); got != 8*4 {
		t.Fatalf("records = %d, want %d", got, 8*4)
	}
}
