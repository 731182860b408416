package download

import "github.com/batchtube/batchtube/internal/backend"

// Policy describes what a caller wants out of a download: the media kind,
// an optional exact resolution preference, and the retry budget.
type Policy struct {
	// Kind selects video or audio candidates.
	Kind backend.Kind

	// Resolution, when non-empty, asks for the candidate whose quality
	// label matches it exactly ("720p", "1080p"). When no candidate
	// carries that label the best available one is used instead.
	Resolution string

	// Transcode converts audio downloads to MP3 and embeds title and
	// artist tags when a transcoder is present. Failures are logged and
	// the untranscoded file is kept.
	Transcode bool

	// MaxRetries is the number of additional attempts after the first
	// failed one. Zero means use the default of 2, so a zero-value Policy
	// still retries; negative disables retrying entirely.
	MaxRetries int

	// BackoffFactor is the base delay in seconds between attempts; the
	// wait before attempt n+1 is BackoffFactor * 2^(n-1). Zero or
	// negative means use the default of 1.5.
	BackoffFactor float64
}

const (
	defaultMaxRetries    = 2
	defaultBackoffFactor = 1.5
)

func (p Policy) withDefaults() Policy {
	switch {
	case p.MaxRetries == 0:
		p.MaxRetries = defaultMaxRetries
	case p.MaxRetries < 0:
		p.MaxRetries = 0
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = defaultBackoffFactor
	}
	return p
}

// DefaultPolicy is a best-quality video download with the standard retry
// budget.
func DefaultPolicy() Policy {
	return Policy{Kind: backend.KindVideo, MaxRetries: defaultMaxRetries, BackoffFactor: defaultBackoffFactor}
}

// AudioPolicy is an audio download that transcodes to MP3 when possible.
func AudioPolicy() Policy {
	return Policy{Kind: backend.KindAudio, Transcode: true, MaxRetries: defaultMaxRetries, BackoffFactor: defaultBackoffFactor}
}
