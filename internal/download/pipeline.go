// Package download drives single-item and playlist downloads over the
// backend adapter: URL normalization, candidate selection, retry with
// exponential backoff, progress reporting, optional transcode and
// catalog recording.
package download

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/batchtube/batchtube/internal/backend"
	"github.com/batchtube/batchtube/internal/catalog"
	"github.com/batchtube/batchtube/internal/store"
	"github.com/batchtube/batchtube/internal/transcode"
)

// Pipeline runs downloads end to end. Backends is required; every other
// collaborator is optional and nil simply disables that concern.
type Pipeline struct {
	Backends *backend.Adapter
	Store    *store.Store // durable per-item progress records
	Catalog  *catalog.DB  // completed-download index
	Sink     ProgressSink // live observer, fanned out via MultiSink if needed
	Logger   Logger

	// test seams, defaulted by New
	transcodeAvailable func() bool
	toMP3              func(path string) (string, error)
	embedTags          func(path, title, artist string) error
	sleep              func(ctx context.Context, d time.Duration) error
}

// New returns a Pipeline wired to the given adapter with the real
// transcoder and clock.
func New(backends *backend.Adapter) *Pipeline {
	return &Pipeline{
		Backends:           backends,
		transcodeAvailable: transcode.Available,
		toMP3:              transcode.ToMP3,
		embedTags:          transcode.EmbedTags,
		sleep:              sleepContext,
	}
}

// ItemResult is the outcome of one item download, terminal states only.
type ItemResult struct {
	ID       string
	URL      string // normalized form
	Title    string
	Path     string // final file path, empty unless completed
	Status   Status
	Attempts int
	Err      error
}

// DownloadItem downloads one item synchronously and blocks until it
// reaches a terminal state. The returned result's Err is nil only for
// StatusCompleted; the skip states no-match and no-audio carry their
// sentinel so callers can distinguish them from hard failures.
func (p *Pipeline) DownloadItem(ctx context.Context, rawURL, destDir string, pol Policy) ItemResult {
	id := ""
	if p.Store != nil {
		id = uuid.New().String()
	}
	return p.downloadItem(ctx, rawURL, destDir, pol, id, -1, "")
}

func (p *Pipeline) downloadItem(ctx context.Context, rawURL, destDir string, pol Policy, id string, index int, playlistID string) ItemResult {
	pol = pol.withDefaults()
	url := Normalize(rawURL)
	tracker := newStatusTracker()
	title := ""

	sink := MultiSink{p.Sink, StoreSink(p.Store)}
	emit := func(status Status, received, total int64, speed float64, eta int64, errMsg string) {
		if !tracker.to(status) {
			return
		}
		sink.Publish(Update{
			ID: id, URL: url, Title: title, Index: index,
			Status: status, Received: received, Total: total,
			Speed: speed, ETA: eta, Err: errMsg,
		})
	}

	emit(StatusQueued, 0, 0, 0, 0, "")

	var lastErr error
	attempts := 0
	for {
		attempts++
		path, item, cand, err := p.attempt(ctx, url, destDir, pol, &title, emit)
		if err == nil {
			path = p.finish(path, item, cand, pol, playlistID, index)
			size, _ := fileSize(path)
			emit(StatusCompleted, size, size, 0, 0, "")
			return ItemResult{ID: id, URL: url, Title: title, Path: path, Status: StatusCompleted, Attempts: attempts}
		}
		lastErr = err

		switch {
		case errors.Is(err, backend.ErrNoAudio):
			emit(StatusNoAudio, 0, 0, 0, 0, err.Error())
			return ItemResult{ID: id, URL: url, Title: title, Status: StatusNoAudio, Attempts: attempts, Err: err}
		case errors.Is(err, backend.ErrNoMatchingStream):
			emit(StatusNoMatch, 0, 0, 0, 0, err.Error())
			return ItemResult{ID: id, URL: url, Title: title, Status: StatusNoMatch, Attempts: attempts, Err: err}
		}

		if ctx.Err() != nil || !backend.Retryable(err) || attempts > pol.MaxRetries {
			break
		}
		delay := backoffDelay(pol.BackoffFactor, attempts)
		logf(p.Logger, LogWarn, "download %s attempt %d failed, retrying in %s: %v", url, attempts, delay, err)
		if serr := p.sleep(ctx, delay); serr != nil {
			lastErr = serr
			break
		}
	}

	logf(p.Logger, LogError, "download %s failed after %d attempts: %v", url, attempts, lastErr)
	emit(StatusError, 0, 0, 0, 0, lastErr.Error())
	return ItemResult{ID: id, URL: url, Title: title, Status: StatusError, Attempts: attempts, Err: lastErr}
}

// attempt performs one resolve+select+fetch cycle. The progress meter is
// local to the attempt so retries restart speed and ETA from scratch.
func (p *Pipeline) attempt(ctx context.Context, url, destDir string, pol Policy, title *string, emit func(Status, int64, int64, float64, int64, string)) (string, *backend.ResolvedItem, backend.Candidate, error) {
	item, err := p.Backends.Resolve(ctx, url)
	if err != nil {
		return "", nil, backend.Candidate{}, err
	}
	*title = item.Title
	cand, err := selectCandidate(item, pol)
	if err != nil {
		return "", item, backend.Candidate{}, err
	}

	meter := newRateMeter()
	emit(StatusDownloading, 0, cand.ContentLength, 0, 0, "")
	path, err := p.Backends.Fetch(ctx, cand, destDir, func(received, total int64) {
		r, speed, eta := meter.sample(received, total)
		emit(StatusDownloading, r, total, speed, eta, "")
	})
	if err != nil {
		return "", item, cand, err
	}
	return path, item, cand, nil
}

// finish applies the best-effort post-download steps: MP3 transcode and
// tagging for audio, then catalog recording. None of them can fail the
// download.
func (p *Pipeline) finish(path string, item *backend.ResolvedItem, cand backend.Candidate, pol Policy, playlistID string, index int) string {
	if pol.Kind == backend.KindAudio && pol.Transcode {
		if p.transcodeAvailable != nil && p.transcodeAvailable() {
			out, err := p.toMP3(path)
			if err != nil {
				logf(p.Logger, LogWarn, "transcode %s: %v", path, &backend.TranscodeError{Path: path, Err: err})
			} else {
				path = out
				if err := p.embedTags(path, item.Title, item.Author); err != nil {
					logf(p.Logger, LogWarn, "tag %s: %v", path, err)
				}
			}
		} else {
			logf(p.Logger, LogInfo, "ffmpeg not found, keeping %s untranscoded", path)
		}
	}

	if p.Catalog != nil {
		size, _ := fileSize(path)
		_, err := p.Catalog.Upsert(catalog.Entry{
			Title: item.Title, Artist: item.Author,
			MediaKind: string(pol.Kind), FilePath: path,
			SourceURL: cand.SourceURL, Quality: cand.Quality,
			Format: cand.Ext, FileSize: size,
			Backend: string(cand.Origin), PlaylistID: playlistID, PlaylistIndex: index,
		})
		if err != nil {
			logf(p.Logger, LogWarn, "catalog record %s: %v", path, err)
		}
	}
	return path
}

// backoffDelay is the wait before the attempt after failedAttempts, using
// base seconds doubled per prior failure.
func backoffDelay(base float64, failedAttempts int) time.Duration {
	secs := base * math.Pow(2, float64(failedAttempts-1))
	return time.Duration(secs * float64(time.Second))
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Size(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
