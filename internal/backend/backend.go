package backend

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Kind distinguishes the two media kinds a candidate can carry.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// Origin tags which strategy produced a resolution or candidate, so callers
// branch on an explicit variant instead of probing object shape.
type Origin string

const (
	OriginPrimary  Origin = "primary"
	OriginFallback Origin = "fallback"
)

// Candidate is one retrievable encoding of an item. Immutable once resolved.
type Candidate struct {
	Kind          Kind
	Itag          int    // primary-origin stream tag
	FormatID      string // fallback-origin format selector
	MimeType      string
	Quality       string // resolution label ("720p") or bitrate label ("128k")
	Height        int
	Bitrate       int
	Ext           string
	ContentLength int64
	VideoOnly     bool // adaptive track without an audio stream
	Origin        Origin
	SourceURL     string
	Title         string
}

// ResolvedItem is the outcome of resolving one identifier.
type ResolvedItem struct {
	ID         string
	Title      string
	Author     string
	Candidates []Candidate
	Origin     Origin
}

// ProgressFunc receives raw byte counters at the backend's native chunking
// frequency. total may be zero when the backend cannot determine it.
type ProgressFunc func(received, total int64)

// Backend is one resolution+transfer strategy.
type Backend interface {
	Name() string
	Resolve(ctx context.Context, url string) (*ResolvedItem, error)
	Fetch(ctx context.Context, c Candidate, destDir string, fn ProgressFunc) (string, error)
	// Playlist enumerates an ordered list of item URLs for a playlist
	// identifier, returning the playlist title alongside.
	Playlist(ctx context.Context, url string) (string, []string, error)
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9 ._\-()\[\]]`)

// SafeFileName strips a title down to alphanumerics plus a small punctuation
// allow-list so concurrent workers never produce paths with separators.
func SafeFileName(title string) string {
	clean := unsafeFilenameChars.ReplaceAllString(title, "")
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return "media"
	}
	return clean
}

func labelForBitrate(bitrate int) string {
	if bitrate <= 0 {
		return ""
	}
	return fmt.Sprintf("%dk", bitrate/1000)
}
