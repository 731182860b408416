package download

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	minConcurrency     = 1
	maxConcurrency     = 8
	defaultConcurrency = 3
)

// ItemOutcome is the per-position summary a playlist run keeps for every
// item, successful or not.
type ItemOutcome struct {
	URL    string
	Title  string
	Status Status
	Error  string
}

// PlaylistResult aggregates a whole playlist run. Downloaded holds final
// file paths in completion order, which under concurrent workers is not
// playlist order; Items is keyed by zero-based playlist position.
type PlaylistResult struct {
	ID         string // run identifier, prefixes per-item progress records
	Title      string
	Downloaded []string
	Items      map[int]ItemOutcome
}

// Completed counts items that reached StatusCompleted.
func (r *PlaylistResult) Completed() int { return len(r.Downloaded) }

// Failed counts items that ended in a non-completed terminal state.
func (r *PlaylistResult) Failed() int { return len(r.Items) - len(r.Downloaded) }

// DownloadPlaylist enumerates a playlist and downloads every item through
// a bounded worker pool. concurrency is clamped to [1,8], with 0 meaning
// the default of 3. One item failing never aborts the rest; only
// enumeration errors (including an empty playlist) are returned.
func (p *Pipeline) DownloadPlaylist(ctx context.Context, playlistURL, destDir string, pol Policy, concurrency int) (*PlaylistResult, error) {
	title, urls, err := p.Backends.Playlist(ctx, playlistURL)
	if err != nil {
		return nil, err
	}

	switch {
	case concurrency <= 0:
		concurrency = defaultConcurrency
	case concurrency > maxConcurrency:
		concurrency = maxConcurrency
	case concurrency < minConcurrency:
		concurrency = minConcurrency
	}

	runID := uuid.New().String()
	result := &PlaylistResult{
		ID:    runID,
		Title: title,
		Items: make(map[int]ItemOutcome, len(urls)),
	}
	logf(p.Logger, LogInfo, "playlist %q: %d items, %d workers", title, len(urls), concurrency)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			recordID := ""
			if p.Store != nil {
				recordID = fmt.Sprintf("%s_%d", runID, i)
			}
			res := p.downloadItem(ctx, u, destDir, pol, recordID, i, runID)

			mu.Lock()
			defer mu.Unlock()
			outcome := ItemOutcome{URL: res.URL, Title: res.Title, Status: res.Status}
			if res.Err != nil {
				outcome.Error = res.Err.Error()
			}
			result.Items[i] = outcome
			if res.Status == StatusCompleted {
				result.Downloaded = append(result.Downloaded, res.Path)
			}
			return nil
		})
	}
	g.Wait()

	logf(p.Logger, LogInfo, "playlist %q done: %d completed, %d failed or skipped",
		title, result.Completed(), result.Failed())
	return result, nil
}
