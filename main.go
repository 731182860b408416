// batchtube downloads single videos and whole playlists from the command
// line, preferring the native YouTube client and falling back to yt-dlp
// when it is installed.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/batchtube/batchtube/internal/backend"
	"github.com/batchtube/batchtube/internal/catalog"
	"github.com/batchtube/batchtube/internal/download"
	"github.com/batchtube/batchtube/internal/store"
)

func main() {
	var (
		dir         string
		audio       bool
		resolution  string
		playlist    bool
		concurrency int
		retries     int
		backoff     float64
		timeout     time.Duration
		noTranscode bool
		noProgress  bool
		catalogPath string
		logLevel    string
		quiet       bool
	)

	flag.StringVar(&dir, "o", ".", "output directory")
	flag.BoolVar(&audio, "audio", false, "download best available audio only")
	flag.StringVar(&resolution, "resolution", "", "preferred video resolution (e.g. 1080p, 720p)")
	flag.BoolVar(&playlist, "playlist", false, "treat every url as a playlist")
	flag.IntVar(&concurrency, "concurrency", 0, "parallel playlist downloads (1-8, 0=default)")
	flag.IntVar(&retries, "retries", 2, "extra attempts per item after the first failure (0 disables retrying)")
	flag.Float64Var(&backoff, "backoff", 1.5, "base retry delay in seconds, doubled per attempt")
	flag.DurationVar(&timeout, "timeout", 3*time.Minute, "per-request timeout")
	flag.BoolVar(&noTranscode, "no-transcode", false, "keep audio in its native container instead of converting to mp3")
	flag.BoolVar(&noProgress, "no-progress-files", false, "do not write durable progress records under the output directory")
	flag.StringVar(&catalogPath, "catalog", "", "path to an sqlite catalog of completed downloads (empty disables)")
	flag.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.BoolVar(&quiet, "quiet", false, "suppress progress output (errors still shown)")
	flag.Parse()

	urls := flag.Args()
	if len(urls) == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s [options] <url> [url...]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	primary := backend.NewPrimary(timeout)
	var fallback backend.Backend
	if f := backend.NewFallback(); f != nil {
		fallback = f
	}
	adapter := backend.NewAdapter(primary, fallback)

	p := download.New(adapter)
	logger := download.NewLogger(parseLogLevel(logLevel))
	p.Logger = logger
	if !noProgress {
		st := store.New(dir)
		st.SetLogf(func(format string, args ...any) {
			logger.Log(download.LogWarn, fmt.Sprintf(format, args...))
		})
		p.Store = st
	}
	if catalogPath != "" {
		cat, err := catalog.Open(catalogPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: opening catalog: %v\n", err)
			os.Exit(1)
		}
		defer cat.Close()
		p.Catalog = cat
	}
	if !quiet {
		p.Sink = newConsoleSink()
	}

	pol := download.Policy{
		Kind:          backend.KindVideo,
		Resolution:    resolution,
		MaxRetries:    retries,
		BackoffFactor: backoff,
	}
	if retries <= 0 {
		pol.MaxRetries = -1
	}
	if audio {
		pol.Kind = backend.KindAudio
		pol.Transcode = !noTranscode
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitCode := 0
	for _, u := range urls {
		if playlist || isPlaylistURL(u) {
			res, err := p.DownloadPlaylist(ctx, u, dir, pol, concurrency)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				exitCode = 1
				continue
			}
			if !quiet {
				fmt.Fprintf(os.Stderr, "playlist %q: %d of %d downloaded\n", res.Title, res.Completed(), len(res.Items))
			}
			if res.Failed() > 0 {
				exitCode = 1
			}
		} else {
			res := p.DownloadItem(ctx, u, dir, pol)
			if res.Status != download.StatusCompleted {
				fmt.Fprintf(os.Stderr, "error: %s: %v\n", u, res.Err)
				exitCode = 1
			}
		}
		if ctx.Err() != nil {
			break
		}
	}
	os.Exit(exitCode)
}

func parseLogLevel(s string) download.LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return download.LogDebug
	case "warn":
		return download.LogWarn
	case "error":
		return download.LogError
	default:
		return download.LogInfo
	}
}

// isPlaylistURL detects playlist identifiers without forcing callers to
// pass -playlist: either a /playlist path or a bare list= parameter with
// no video id.
func isPlaylistURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if strings.HasPrefix(parsed.Path, "/playlist") {
		return true
	}
	q := parsed.Query()
	return q.Get("list") != "" && q.Get("v") == ""
}

// consoleSink prints one line per state change plus throttled transfer
// updates, safe for concurrent playlist workers.
type consoleSink struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newConsoleSink() *consoleSink {
	return &consoleSink{last: make(map[string]time.Time)}
}

func (s *consoleSink) Publish(u download.Update) {
	key := u.ID
	if key == "" {
		key = u.URL
	}
	label := u.Title
	if label == "" {
		label = u.URL
	}
	if u.Index >= 0 {
		label = fmt.Sprintf("[%d] %s", u.Index+1, label)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch u.Status {
	case download.StatusDownloading:
		now := time.Now()
		if now.Sub(s.last[key]) < time.Second {
			return
		}
		s.last[key] = now
		if u.Total > 0 {
			fmt.Fprintf(os.Stderr, "%s: %s / %s (%s/s, eta %ds)\n",
				label, humanBytes(u.Received), humanBytes(u.Total), humanBytes(int64(u.Speed)), u.ETA)
		} else {
			fmt.Fprintf(os.Stderr, "%s: %s (%s/s)\n", label, humanBytes(u.Received), humanBytes(int64(u.Speed)))
		}
	case download.StatusError:
		fmt.Fprintf(os.Stderr, "%s: failed: %s\n", label, u.Err)
	default:
		fmt.Fprintf(os.Stderr, "%s: %s\n", label, u.Status)
	}
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
