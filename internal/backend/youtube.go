package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kkdai/youtube/v2"
)

const (
	minChunkSize     int64 = 256 * 1024      // keeps progress responsive on small files
	maxChunkSize     int64 = 2 * 1024 * 1024 // cap to avoid excessive requests on large files
	targetChunkCount int64 = 64
)

// youtubeAPI is the slice of the YouTube client the primary backend needs.
// Decoupling from the concrete youtube.Client enables testing with fakes.
type youtubeAPI interface {
	GetVideoContext(ctx context.Context, url string) (*youtube.Video, error)
	GetPlaylistContext(ctx context.Context, url string) (*youtube.Playlist, error)
	GetStreamContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error)
}

// clientMu guards the package-global client identity the youtube library
// keys innertube requests on. Playlist enumeration wants the web identity,
// stream fetches the android one.
var clientMu sync.Mutex

// Primary resolves and transfers through the YouTube innertube API.
type Primary struct {
	timeout   time.Duration
	newClient func(chunkSize int64) youtubeAPI
}

// NewPrimary builds the primary strategy with a retrying, header-pinning
// HTTP client.
func NewPrimary(timeout time.Duration) *Primary {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &Primary{
		timeout: timeout,
		newClient: func(chunkSize int64) youtubeAPI {
			return &youtube.Client{
				HTTPClient: newHTTPClient(timeout),
				ChunkSize:  chunkSize,
			}
		},
	}
}

func (p *Primary) Name() string { return string(OriginPrimary) }

func (p *Primary) Resolve(ctx context.Context, url string) (*ResolvedItem, error) {
	clientMu.Lock()
	youtube.DefaultClient = youtube.AndroidClient
	clientMu.Unlock()

	video, err := p.newClient(0).GetVideoContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetching metadata: %w", err)
	}
	return resolvedFromVideo(video, url), nil
}

func resolvedFromVideo(video *youtube.Video, url string) *ResolvedItem {
	item := &ResolvedItem{
		ID:     video.ID,
		Title:  video.Title,
		Author: video.Author,
		Origin: OriginPrimary,
	}

	var videos, adaptive, audios []Candidate
	for i := range video.Formats {
		f := &video.Formats[i]
		c := Candidate{
			Itag:          f.ItagNo,
			MimeType:      f.MimeType,
			Height:        f.Height,
			Bitrate:       bitrateForFormat(f),
			Ext:           mimeToExt(f.MimeType),
			ContentLength: f.ContentLength,
			Origin:        OriginPrimary,
			SourceURL:     url,
			Title:         video.Title,
		}
		switch {
		case f.Width == 0 && f.Height == 0:
			if f.AudioChannels == 0 {
				continue
			}
			c.Kind = KindAudio
			c.Quality = labelForBitrate(c.Bitrate)
			audios = append(audios, c)
		default:
			c.Kind = KindVideo
			c.Quality = f.QualityLabel
			if c.Quality == "" {
				c.Quality = fmt.Sprintf("%dp", f.Height)
			}
			if f.AudioChannels == 0 {
				c.VideoOnly = true
				adaptive = append(adaptive, c)
			} else {
				videos = append(videos, c)
			}
		}
	}

	// Best-first within each group; mp4/m4a win ties for compatibility.
	// Adaptive video-only tracks rank after every progressive one, so they
	// are chosen only when no progressive candidate serves the request.
	sortVideoCandidates(videos)
	sortVideoCandidates(adaptive)
	sort.SliceStable(audios, func(i, j int) bool {
		if audios[i].Bitrate != audios[j].Bitrate {
			return audios[i].Bitrate > audios[j].Bitrate
		}
		return containerRank(audios[i].Ext) < containerRank(audios[j].Ext)
	})

	item.Candidates = append(append(videos, adaptive...), audios...)
	return item
}

func sortVideoCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Height != cands[j].Height {
			return cands[i].Height > cands[j].Height
		}
		if cands[i].Bitrate != cands[j].Bitrate {
			return cands[i].Bitrate > cands[j].Bitrate
		}
		return containerRank(cands[i].Ext) < containerRank(cands[j].Ext)
	})
}

func containerRank(ext string) int {
	switch ext {
	case "mp4", "m4a":
		return 0
	case "webm":
		return 1
	default:
		return 2
	}
}

func (p *Primary) Fetch(ctx context.Context, c Candidate, destDir string, fn ProgressFunc) (string, error) {
	client := p.newClient(chunkSizeFor(c.ContentLength))

	clientMu.Lock()
	youtube.DefaultClient = youtube.AndroidClient
	clientMu.Unlock()

	// Stream URLs expire, so re-resolve the video for this transfer rather
	// than caching anything across attempts.
	video, err := client.GetVideoContext(ctx, c.SourceURL)
	if err != nil {
		return "", fmt.Errorf("fetching metadata: %w", err)
	}
	var format *youtube.Format
	for i := range video.Formats {
		if video.Formats[i].ItagNo == c.Itag {
			format = &video.Formats[i]
			break
		}
	}
	if format == nil {
		return "", fmt.Errorf("itag %d no longer offered for %s", c.Itag, c.SourceURL)
	}

	stream, size, err := client.GetStreamContext(ctx, video, format)
	if err != nil {
		return "", fmt.Errorf("starting stream: %w", err)
	}
	defer stream.Close()
	if size <= 0 && format.ContentLength > 0 {
		size = format.ContentLength
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	title := c.Title
	if title == "" {
		title = video.Title
	}
	outputPath := filepath.Join(destDir, SafeFileName(title)+"."+c.Ext)
	partPath := outputPath + ".part"

	file, err := os.Create(partPath)
	if err != nil {
		return "", fmt.Errorf("opening output file: %w", err)
	}

	var writer io.Writer = file
	if fn != nil {
		writer = io.MultiWriter(file, &countingWriter{total: size, fn: fn})
	}
	_, err = copyWithContext(ctx, writer, stream)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(partPath)
		return "", fmt.Errorf("download failed: %w", err)
	}

	if err := os.Rename(partPath, outputPath); err != nil {
		os.Remove(partPath)
		return "", fmt.Errorf("finalizing output file: %w", err)
	}
	return outputPath, nil
}

func (p *Primary) Playlist(ctx context.Context, url string) (string, []string, error) {
	clientMu.Lock()
	saved := youtube.DefaultClient
	youtube.DefaultClient = youtube.WebClient
	playlist, err := p.newClient(0).GetPlaylistContext(ctx, url)
	youtube.DefaultClient = saved
	clientMu.Unlock()
	if err != nil {
		return "", nil, fmt.Errorf("fetching playlist: %w", err)
	}

	urls := make([]string, 0, len(playlist.Videos))
	for _, entry := range playlist.Videos {
		if entry == nil || entry.ID == "" {
			continue
		}
		urls = append(urls, watchURLForID(entry.ID))
	}
	return playlist.Title, urls, nil
}

// chunkSizeFor picks a chunk size that keeps progress updates frequent
// without spawning thousands of requests.
func chunkSizeFor(contentLength int64) int64 {
	if contentLength <= 0 {
		return 0
	}
	chunk := contentLength / targetChunkCount
	if chunk < minChunkSize {
		return minChunkSize
	}
	if chunk > maxChunkSize {
		return maxChunkSize
	}
	return chunk
}

func bitrateForFormat(f *youtube.Format) int {
	if f.Bitrate > 0 {
		return f.Bitrate
	}
	if f.AverageBitrate > 0 {
		return f.AverageBitrate
	}
	return 0
}

func mimeToExt(mime string) string {
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	if mime == "audio/mp4" {
		return "m4a"
	}
	parts := strings.Split(mime, "/")
	if len(parts) == 2 {
		switch parts[1] {
		case "3gpp":
			return "3gp"
		default:
			return parts[1]
		}
	}
	return "bin"
}

func watchURLForID(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// countingWriter forwards cumulative byte counts to a ProgressFunc at the
// stream's native write granularity.
type countingWriter struct {
	received int64
	total    int64
	fn       ProgressFunc
}

func (w *countingWriter) Write(b []byte) (int, error) {
	w.received += int64(len(b))
	w.fn(w.received, w.total)
	return len(b), nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	select {
	case <-r.ctx.Done():
		return 0, r.ctx.Err()
	default:
		return r.r.Read(p)
	}
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, &contextReader{ctx: ctx, r: src})
}
