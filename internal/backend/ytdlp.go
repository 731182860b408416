package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

// Fallback resolves and transfers through the yt-dlp tool. It is only
// consulted when the primary strategy fails, mirroring how the tool itself
// survives innertube changes that break lighter clients.
type Fallback struct{}

// NewFallback returns the yt-dlp strategy, or nil when the tool is not on
// PATH. A nil Fallback disables fallback entirely.
func NewFallback() *Fallback {
	if !ytdlpAvailable() {
		return nil
	}
	return &Fallback{}
}

func ytdlpAvailable() bool {
	_, err := exec.LookPath("yt-dlp")
	return err == nil
}

func (f *Fallback) Name() string { return string(OriginFallback) }

// ytdlpInfo is the slice of yt-dlp's JSON dump the fallback cares about.
type ytdlpInfo struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Uploader string        `json:"uploader"`
	Formats  []ytdlpFormat `json:"formats"`
	Entries  []ytdlpEntry  `json:"entries"`
}

type ytdlpFormat struct {
	FormatID string  `json:"format_id"`
	Ext      string  `json:"ext"`
	VCodec   string  `json:"vcodec"`
	ACodec   string  `json:"acodec"`
	Height   int     `json:"height"`
	ABR      float64 `json:"abr"`
	Filesize int64   `json:"filesize"`
}

type ytdlpEntry struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	WebpageURL string `json:"webpage_url"`
}

func (f *Fallback) Resolve(ctx context.Context, url string) (*ResolvedItem, error) {
	res, err := ytdlp.New().
		SkipDownload().
		DumpSingleJSON().
		Run(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp metadata: %w", err)
	}

	var info ytdlpInfo
	if err := json.Unmarshal([]byte(res.Stdout), &info); err != nil {
		return nil, fmt.Errorf("parsing yt-dlp metadata: %w", err)
	}

	item := &ResolvedItem{
		ID:     info.ID,
		Title:  info.Title,
		Author: info.Uploader,
		Origin: OriginFallback,
	}
	var videos, adaptive, audios []Candidate
	for _, ff := range info.Formats {
		hasAudio := ff.ACodec != "" && ff.ACodec != "none"
		hasVideo := ff.VCodec != "" && ff.VCodec != "none"
		if !hasAudio && !hasVideo {
			continue // storyboard/image tracks
		}
		c := Candidate{
			FormatID:  ff.FormatID,
			Ext:       ff.Ext,
			Bitrate:   int(ff.ABR * 1000),
			Height:    ff.Height,
			Origin:    OriginFallback,
			SourceURL: url,
			Title:     info.Title,
		}
		if ff.Filesize > 0 {
			c.ContentLength = ff.Filesize
		}
		switch {
		case !hasVideo:
			c.Kind = KindAudio
			c.Quality = labelForBitrate(c.Bitrate)
			audios = append(audios, c)
		case !hasAudio:
			c.Kind = KindVideo
			c.Quality = fmt.Sprintf("%dp", ff.Height)
			c.VideoOnly = true
			adaptive = append(adaptive, c)
		default:
			c.Kind = KindVideo
			c.Quality = fmt.Sprintf("%dp", ff.Height)
			videos = append(videos, c)
		}
	}
	// Adaptive video-only tracks rank after every progressive one.
	sortVideoCandidates(videos)
	sortVideoCandidates(adaptive)
	sort.SliceStable(audios, func(i, j int) bool {
		if audios[i].Bitrate != audios[j].Bitrate {
			return audios[i].Bitrate > audios[j].Bitrate
		}
		return containerRank(audios[i].Ext) < containerRank(audios[j].Ext)
	})
	item.Candidates = append(append(videos, adaptive...), audios...)
	return item, nil
}

func (f *Fallback) Fetch(ctx context.Context, c Candidate, destDir string, fn ProgressFunc) (string, error) {
	dl := ytdlp.New().
		ForceOverwrites().
		RestrictFilenames().
		Output(filepath.Join(destDir, "%(title)s.%(ext)s"))

	switch {
	case c.FormatID != "":
		dl = dl.Format(c.FormatID)
	case c.Kind == KindAudio:
		dl = dl.Format("bestaudio/best")
	default:
		dl = dl.Format("best")
	}

	if fn != nil {
		dl.ProgressFunc(500*time.Millisecond, func(update ytdlp.ProgressUpdate) {
			fn(int64(update.DownloadedBytes), int64(update.TotalBytes))
		})
	}

	res, err := dl.Run(ctx, c.SourceURL)
	if err != nil {
		return "", fmt.Errorf("yt-dlp download: %w", err)
	}

	infos, err := res.GetExtractedInfo()
	if err != nil || len(infos) == 0 || infos[0].Filename == nil {
		return "", errors.New("yt-dlp did not report an output file")
	}
	return *infos[0].Filename, nil
}

func (f *Fallback) Playlist(ctx context.Context, url string) (string, []string, error) {
	res, err := ytdlp.New().
		SkipDownload().
		FlatPlaylist().
		DumpSingleJSON().
		Run(ctx, url)
	if err != nil {
		return "", nil, fmt.Errorf("yt-dlp flat playlist: %w", err)
	}

	var info ytdlpInfo
	if err := json.Unmarshal([]byte(res.Stdout), &info); err != nil {
		return "", nil, fmt.Errorf("parsing yt-dlp playlist: %w", err)
	}

	urls := make([]string, 0, len(info.Entries))
	for _, entry := range info.Entries {
		switch {
		case entry.WebpageURL != "":
			urls = append(urls, entry.WebpageURL)
		case entry.URL != "":
			urls = append(urls, entry.URL)
		case entry.ID != "":
			urls = append(urls, watchURLForID(entry.ID))
		}
	}
	return info.Title, urls, nil
}
