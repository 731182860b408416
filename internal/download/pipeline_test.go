package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/batchtube/batchtube/internal/backend"
	"github.com/batchtube/batchtube/internal/store"
)

// fakeBackend is a scriptable Backend. resolveErrs and fetchErrs are
// consumed one per call; a nil entry (or running out) means success.
type fakeBackend struct {
	mu          sync.Mutex
	resolveErrs []error
	fetchErrs   []error
	candidates  []backend.Candidate

	resolveCalls int
	fetchCalls   int

	fetchDelay  time.Duration
	inFlight    int32
	maxInFlight int32

	playlistTitle string
	playlistURLs  []string
	playlistErr   error
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) nextErr(errs []error, n int) error {
	if n < len(errs) {
		return errs[n]
	}
	return nil
}

func (f *fakeBackend) Resolve(ctx context.Context, url string) (*backend.ResolvedItem, error) {
	f.mu.Lock()
	err := f.nextErr(f.resolveErrs, f.resolveCalls)
	f.resolveCalls++
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	cands := f.candidates
	if cands == nil {
		cands = []backend.Candidate{
			{Kind: backend.KindVideo, Itag: 22, Quality: "720p", Ext: "mp4", ContentLength: 4, SourceURL: url, Title: "Item " + url},
			{Kind: backend.KindAudio, Itag: 140, Quality: "128k", Ext: "m4a", ContentLength: 4, SourceURL: url, Title: "Item " + url},
		}
	}
	return &backend.ResolvedItem{ID: url, Title: "Item " + url, Author: "Author", Candidates: cands}, nil
}

func (f *fakeBackend) Fetch(ctx context.Context, c backend.Candidate, destDir string, fn backend.ProgressFunc) (string, error) {
	f.mu.Lock()
	err := f.nextErr(f.fetchErrs, f.fetchCalls)
	f.fetchCalls++
	f.mu.Unlock()

	cur := atomic.AddInt32(&f.inFlight, 1)
	for {
		prev := atomic.LoadInt32(&f.maxInFlight)
		if cur <= prev || atomic.CompareAndSwapInt32(&f.maxInFlight, prev, cur) {
			break
		}
	}
	defer atomic.AddInt32(&f.inFlight, -1)

	if f.fetchDelay > 0 {
		select {
		case <-time.After(f.fetchDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	fn(2, 4)
	fn(4, 4)
	name := backend.SafeFileName(c.Title)
	if name == "media" {
		name = "item"
	}
	path := filepath.Join(destDir, name+"."+c.Ext)
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeBackend) Playlist(ctx context.Context, url string) (string, []string, error) {
	if f.playlistErr != nil {
		return "", nil, f.playlistErr
	}
	return f.playlistTitle, f.playlistURLs, nil
}

// recordingSink captures every published update.
type recordingSink struct {
	mu      sync.Mutex
	updates []Update
}

func (s *recordingSink) Publish(u Update) {
	s.mu.Lock()
	s.updates = append(s.updates, u)
	s.mu.Unlock()
}

func (s *recordingSink) statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.updates))
	for _, u := range s.updates {
		out = append(out, u.Status)
	}
	return out
}

func newTestPipeline(fake *fakeBackend) (*Pipeline, *[]time.Duration) {
	p := New(backend.NewAdapter(fake, nil))
	slept := &[]time.Duration{}
	p.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return ctx.Err()
	}
	p.transcodeAvailable = func() bool { return false }
	return p, slept
}

func TestDownloadItemSuccess(t *testing.T) {
	fake := &fakeBackend{}
	p, _ := newTestPipeline(fake)
	sink := &recordingSink{}
	p.Sink = sink

	res := p.DownloadItem(context.Background(), "https://youtu.be/abc", t.TempDir(), DefaultPolicy())
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}
	if res.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", res.Attempts)
	}
	if res.URL != "https://www.youtube.com/watch?v=abc" {
		t.Fatalf("url not normalized: %s", res.URL)
	}
	if _, err := os.Stat(res.Path); err != nil {
		t.Fatalf("result path missing: %v", err)
	}

	st := sink.statuses()
	if len(st) < 3 || st[0] != StatusQueued || st[1] != StatusDownloading || st[len(st)-1] != StatusCompleted {
		t.Fatalf("status sequence = %v", st)
	}
}

func TestDownloadItemRetriesThenSucceeds(t *testing.T) {
	boom := errors.New("connection reset")
	fake := &fakeBackend{resolveErrs: []error{boom, boom}}
	p, slept := newTestPipeline(fake)

	pol := DefaultPolicy() // MaxRetries 2, BackoffFactor 1.5
	res := p.DownloadItem(context.Background(), "https://youtu.be/abc", t.TempDir(), pol)
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}
	if res.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", res.Attempts)
	}
	want := []time.Duration{1500 * time.Millisecond, 3 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("slept %v, want %v", *slept, want)
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Fatalf("backoff %d = %v, want %v", i, (*slept)[i], d)
		}
	}
}

func TestDownloadItemExhaustsRetries(t *testing.T) {
	boom := errors.New("stream read failed")
	fake := &fakeBackend{fetchErrs: []error{boom, boom, boom, boom}}
	p, slept := newTestPipeline(fake)

	res := p.DownloadItem(context.Background(), "https://youtu.be/abc", t.TempDir(), DefaultPolicy())
	if res.Status != StatusError {
		t.Fatalf("status = %s, want error", res.Status)
	}
	if res.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", res.Attempts)
	}
	if len(*slept) != 2 {
		t.Fatalf("slept %d times, want 2", len(*slept))
	}
	if res.Err == nil || !errors.Is(res.Err, boom) {
		t.Fatalf("result error %v does not wrap the last failure", res.Err)
	}
}

func TestDownloadItemSkipStatesDoNotRetry(t *testing.T) {
	cases := []struct {
		name string
		pol  Policy
		cand []backend.Candidate
		want Status
	}{
		{
			name: "no audio",
			pol:  AudioPolicy(),
			cand: []backend.Candidate{{Kind: backend.KindVideo, Itag: 22, Quality: "720p", Ext: "mp4"}},
			want: StatusNoAudio,
		},
		{
			name: "no matching stream",
			pol:  DefaultPolicy(),
			cand: []backend.Candidate{},
			want: StatusNoMatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeBackend{candidates: tc.cand}
			if len(tc.cand) == 0 {
				fake.candidates = []backend.Candidate{}
			}
			p, slept := newTestPipeline(fake)
			res := p.DownloadItem(context.Background(), "https://youtu.be/abc", t.TempDir(), tc.pol)
			if res.Status != tc.want {
				t.Fatalf("status = %s, want %s", res.Status, tc.want)
			}
			if res.Attempts != 1 {
				t.Fatalf("attempts = %d, want 1", res.Attempts)
			}
			if len(*slept) != 0 {
				t.Fatalf("slept %v on a non-retryable failure", *slept)
			}
		})
	}
}

func TestDownloadItemZeroValuePolicyStillRetries(t *testing.T) {
	boom := errors.New("connection reset")
	fake := &fakeBackend{resolveErrs: []error{boom}}
	p, slept := newTestPipeline(fake)

	res := p.DownloadItem(context.Background(), "https://youtu.be/abc", t.TempDir(), Policy{Kind: backend.KindVideo})
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}
	if res.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", res.Attempts)
	}
	if len(*slept) != 1 || (*slept)[0] != 1500*time.Millisecond {
		t.Fatalf("slept %v, want one 1.5s backoff", *slept)
	}
}

func TestDownloadItemNegativeRetriesDisablesRetrying(t *testing.T) {
	boom := errors.New("stream read failed")
	fake := &fakeBackend{fetchErrs: []error{boom, boom, boom}}
	p, slept := newTestPipeline(fake)

	res := p.DownloadItem(context.Background(), "https://youtu.be/abc", t.TempDir(),
		Policy{Kind: backend.KindVideo, MaxRetries: -1})
	if res.Status != StatusError {
		t.Fatalf("status = %s, want error", res.Status)
	}
	if res.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", res.Attempts)
	}
	if len(*slept) != 0 {
		t.Fatalf("slept %v with retries disabled", *slept)
	}
}

func TestDownloadItemPersistsProgress(t *testing.T) {
	fake := &fakeBackend{}
	p, _ := newTestPipeline(fake)
	dir := t.TempDir()
	p.Store = store.New(dir)

	res := p.DownloadItem(context.Background(), "https://youtu.be/abc", dir, DefaultPolicy())
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s", res.Status)
	}
	if res.ID == "" {
		t.Fatal("no record id assigned")
	}
	rec := p.Store.Read(res.ID)
	if rec.Status != StatusCompleted.String() {
		t.Fatalf("stored status = %q", rec.Status)
	}
	if rec.Title != res.Title {
		t.Fatalf("stored title = %q, want %q", rec.Title, res.Title)
	}
	if rec.Downloaded == 0 || rec.Downloaded != rec.Total {
		t.Fatalf("stored counters = %d/%d", rec.Downloaded, rec.Total)
	}
}

// interruptedPrimary reports partial progress against a large total and
// then dies mid-transfer.
type interruptedPrimary struct{}

func (interruptedPrimary) Name() string { return "primary" }

func (interruptedPrimary) Resolve(ctx context.Context, url string) (*backend.ResolvedItem, error) {
	return &backend.ResolvedItem{
		Title: "Clip",
		Candidates: []backend.Candidate{
			{Kind: backend.KindVideo, Itag: 22, Quality: "720p", Ext: "mp4", ContentLength: 10, Origin: backend.OriginPrimary, SourceURL: url, Title: "Clip"},
		},
	}, nil
}

func (interruptedPrimary) Fetch(ctx context.Context, c backend.Candidate, destDir string, fn backend.ProgressFunc) (string, error) {
	fn(5, 10)
	return "", errors.New("connection reset mid-stream")
}

func (interruptedPrimary) Playlist(ctx context.Context, url string) (string, []string, error) {
	return "", nil, errors.New("not a playlist")
}

// smallerFallback restarts the same logical transfer with a smaller total.
type smallerFallback struct{}

func (smallerFallback) Name() string { return "fallback" }

func (smallerFallback) Resolve(ctx context.Context, url string) (*backend.ResolvedItem, error) {
	return nil, errors.New("unused")
}

func (smallerFallback) Fetch(ctx context.Context, c backend.Candidate, destDir string, fn backend.ProgressFunc) (string, error) {
	fn(1, 3)
	fn(3, 3)
	p := filepath.Join(destDir, "clip.mp4")
	if err := os.WriteFile(p, []byte("xyz"), 0o644); err != nil {
		return "", err
	}
	return p, nil
}

func (smallerFallback) Playlist(ctx context.Context, url string) (string, []string, error) {
	return "", nil, errors.New("unused")
}

func TestDownloadItemFallbackHandoffKeepsCountersWithinTotal(t *testing.T) {
	p := New(backend.NewAdapter(interruptedPrimary{}, smallerFallback{}))
	p.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	p.transcodeAvailable = func() bool { return false }
	sink := &recordingSink{}
	p.Sink = sink

	res := p.DownloadItem(context.Background(), "https://youtu.be/abc", t.TempDir(), DefaultPolicy())
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, u := range sink.updates {
		if u.Total > 0 && u.Received > u.Total {
			t.Fatalf("published Received=%d > Total=%d (status %s)", u.Received, u.Total, u.Status)
		}
	}
}

func TestDownloadItemTranscodesAudio(t *testing.T) {
	fake := &fakeBackend{}
	p, _ := newTestPipeline(fake)
	p.transcodeAvailable = func() bool { return true }

	var tagged string
	p.toMP3 = func(path string) (string, error) {
		out := path[:len(path)-len(filepath.Ext(path))] + ".mp3"
		if err := os.Rename(path, out); err != nil {
			return "", err
		}
		return out, nil
	}
	p.embedTags = func(path, title, artist string) error {
		tagged = fmt.Sprintf("%s|%s|%s", filepath.Ext(path), title, artist)
		return nil
	}

	res := p.DownloadItem(context.Background(), "https://youtu.be/abc", t.TempDir(), AudioPolicy())
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}
	if filepath.Ext(res.Path) != ".mp3" {
		t.Fatalf("path = %s, want .mp3", res.Path)
	}
	if tagged != ".mp3|"+res.Title+"|Author" {
		t.Fatalf("tags = %q", tagged)
	}
}

func TestDownloadItemTranscodeFailureKeepsOriginal(t *testing.T) {
	fake := &fakeBackend{}
	p, _ := newTestPipeline(fake)
	p.transcodeAvailable = func() bool { return true }
	p.toMP3 = func(path string) (string, error) { return "", errors.New("ffmpeg exploded") }

	res := p.DownloadItem(context.Background(), "https://youtu.be/abc", t.TempDir(), AudioPolicy())
	if res.Status != StatusCompleted {
		t.Fatalf("transcode failure must not fail the download, got %s (%v)", res.Status, res.Err)
	}
	if filepath.Ext(res.Path) != ".m4a" {
		t.Fatalf("path = %s, want original .m4a", res.Path)
	}
}
