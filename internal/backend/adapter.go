package backend

import (
	"context"
)

// Adapter composes the primary strategy with an optional fallback. Every
// operation tries primary first and transparently retries the same logical
// request on the fallback, tagging results with the strategy that served
// them. The adapter holds no state between calls.
type Adapter struct {
	primary  Backend
	fallback Backend // nil when unavailable
}

// NewAdapter wires the two strategies together. fallback may be nil.
func NewAdapter(primary, fallback Backend) *Adapter {
	return &Adapter{primary: primary, fallback: fallback}
}

// HasFallback reports whether a fallback strategy is configured.
func (a *Adapter) HasFallback() bool { return a.fallback != nil }

// Resolve returns the available encodings for one item URL.
func (a *Adapter) Resolve(ctx context.Context, url string) (*ResolvedItem, error) {
	item, primaryErr := a.primary.Resolve(ctx, url)
	if primaryErr == nil {
		item.Origin = OriginPrimary
		return item, nil
	}
	if a.fallback == nil {
		return nil, &ResolutionError{URL: url, PrimaryErr: primaryErr}
	}

	item, fallbackErr := a.fallback.Resolve(ctx, url)
	if fallbackErr != nil {
		return nil, &ResolutionError{URL: url, PrimaryErr: primaryErr, FallbackErr: fallbackErr}
	}
	item.Origin = OriginFallback
	return item, nil
}

// Fetch transfers the selected candidate into destDir. A primary transfer
// failure is retried once through the fallback for the same logical request
// (same source URL and media kind) before giving up.
func (a *Adapter) Fetch(ctx context.Context, c Candidate, destDir string, fn ProgressFunc) (string, error) {
	backend := a.primary
	if c.Origin == OriginFallback {
		backend = a.fallback
		if backend == nil {
			backend = a.primary
		}
	}

	path, err := backend.Fetch(ctx, c, destDir, fn)
	if err == nil {
		return path, nil
	}
	if ctx.Err() != nil {
		return "", &TransferError{URL: c.SourceURL, Backend: c.Origin, Err: err}
	}

	if c.Origin == OriginPrimary && a.fallback != nil {
		// Same logical request, re-expressed for yt-dlp: let it pick its
		// own concrete format for the requested kind.
		retry := Candidate{
			Kind:      c.Kind,
			Origin:    OriginFallback,
			SourceURL: c.SourceURL,
			Title:     c.Title,
		}
		path, fallbackErr := a.fallback.Fetch(ctx, retry, destDir, fn)
		if fallbackErr == nil {
			return path, nil
		}
		return "", &TransferError{URL: c.SourceURL, Backend: OriginPrimary, Err: err, FallbackErr: fallbackErr}
	}
	return "", &TransferError{URL: c.SourceURL, Backend: c.Origin, Err: err}
}

// Playlist enumerates an ordered list of item URLs, falling back to flat
// enumeration when the primary strategy cannot parse the playlist.
func (a *Adapter) Playlist(ctx context.Context, url string) (string, []string, error) {
	title, urls, primaryErr := a.primary.Playlist(ctx, url)
	if primaryErr == nil {
		if len(urls) == 0 {
			return "", nil, ErrEmptyPlaylist
		}
		return title, urls, nil
	}
	if a.fallback == nil {
		return "", nil, &PlaylistResolutionError{URL: url, PrimaryErr: primaryErr}
	}

	title, urls, fallbackErr := a.fallback.Playlist(ctx, url)
	if fallbackErr != nil {
		return "", nil, &PlaylistResolutionError{URL: url, PrimaryErr: primaryErr, FallbackErr: fallbackErr}
	}
	if len(urls) == 0 {
		return "", nil, ErrEmptyPlaylist
	}
	return title, urls, nil
}
