package download

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/batchtube/batchtube/internal/backend"
	"github.com/batchtube/batchtube/internal/store"
)

func TestDownloadPlaylistPartialFailure(t *testing.T) {
	boom := errors.New("stream read failed")
	fake := &fakeBackend{
		playlistTitle: "Mix",
		playlistURLs: []string{
			"https://youtu.be/a",
			"https://youtu.be/b",
			"https://youtu.be/c",
		},
		// item order is serialized by concurrency 1, so the second
		// fetch fails on every attempt while the others succeed
		fetchErrs: []error{nil, boom, boom, boom, nil},
	}
	p, _ := newTestPipeline(fake)

	pol := DefaultPolicy()
	res, err := p.DownloadPlaylist(context.Background(), "https://www.youtube.com/playlist?list=PL1", t.TempDir(), pol, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Title != "Mix" {
		t.Fatalf("title = %q", res.Title)
	}
	if res.Completed() != 2 || res.Failed() != 1 {
		t.Fatalf("completed = %d, failed = %d", res.Completed(), res.Failed())
	}
	if len(res.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(res.Items))
	}
	if res.Items[1].Status != StatusError {
		t.Fatalf("item 1 status = %s, want error", res.Items[1].Status)
	}
	if res.Items[1].Error == "" {
		t.Fatal("failed item carries no error text")
	}
	for _, i := range []int{0, 2} {
		if res.Items[i].Status != StatusCompleted {
			t.Fatalf("item %d status = %s", i, res.Items[i].Status)
		}
	}
}

func TestDownloadPlaylistConcurrencyBound(t *testing.T) {
	urls := make([]string, 6)
	for i := range urls {
		urls[i] = "https://youtu.be/v" + string(rune('a'+i))
	}
	fake := &fakeBackend{
		playlistTitle: "Big",
		playlistURLs:  urls,
		fetchDelay:    20 * time.Millisecond,
	}
	p, _ := newTestPipeline(fake)

	res, err := p.DownloadPlaylist(context.Background(), "https://www.youtube.com/playlist?list=PL1", t.TempDir(), DefaultPolicy(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Completed() != 6 {
		t.Fatalf("completed = %d, want 6", res.Completed())
	}
	if fake.maxInFlight > 2 {
		t.Fatalf("observed %d concurrent fetches with limit 2", fake.maxInFlight)
	}
	if fake.maxInFlight < 2 {
		t.Logf("pool never overlapped (max in flight %d)", fake.maxInFlight)
	}
}

func TestDownloadPlaylistConcurrencyClamped(t *testing.T) {
	fake := &fakeBackend{playlistTitle: "One", playlistURLs: []string{"https://youtu.be/a"}}
	p, _ := newTestPipeline(fake)

	for _, c := range []int{0, -4, 100} {
		if _, err := p.DownloadPlaylist(context.Background(), "https://www.youtube.com/playlist?list=PL1", t.TempDir(), DefaultPolicy(), c); err != nil {
			t.Fatalf("concurrency %d: %v", c, err)
		}
	}
}

func TestDownloadPlaylistEmpty(t *testing.T) {
	fake := &fakeBackend{playlistTitle: "Empty"}
	p, _ := newTestPipeline(fake)

	_, err := p.DownloadPlaylist(context.Background(), "https://www.youtube.com/playlist?list=PL1", t.TempDir(), DefaultPolicy(), 2)
	if !errors.Is(err, backend.ErrEmptyPlaylist) {
		t.Fatalf("want ErrEmptyPlaylist, got %v", err)
	}
}

func TestDownloadPlaylistPerItemProgressRecords(t *testing.T) {
	fake := &fakeBackend{
		playlistTitle: "Mix",
		playlistURLs:  []string{"https://youtu.be/a", "https://youtu.be/b"},
	}
	p, _ := newTestPipeline(fake)
	dir := t.TempDir()
	p.Store = store.New(dir)

	res, err := p.DownloadPlaylist(context.Background(), "https://www.youtube.com/playlist?list=PL1", dir, DefaultPolicy(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range res.Items {
		id := res.ID + "_" + string(rune('0'+i))
		rec := p.Store.Read(id)
		if rec.Status != StatusCompleted.String() {
			t.Fatalf("record %s status = %q", id, rec.Status)
		}
	}
	if ids := p.Store.List(); len(ids) != 2 {
		t.Fatalf("store holds %d records, want 2", len(ids))
	}
}
