package download

import (
	"fmt"
	"log"
	"os"

	"github.com/batchtube/batchtube/internal/store"
)

// Update is one point-in-time view of an item's download state. Received,
// Total, Speed and ETA are only meaningful while Status is downloading;
// Index is -1 for standalone items and the zero-based playlist position
// otherwise.
type Update struct {
	ID       string
	URL      string
	Title    string
	Index    int
	Status   Status
	Received int64
	Total    int64
	Speed    float64 // bytes per second, current attempt only
	ETA      int64   // seconds, 0 when unknown
	Err      string
}

// A ProgressSink observes download updates. Implementations must tolerate
// being called from multiple goroutines and should return quickly; slow
// sinks stall the transfer that feeds them.
type ProgressSink interface {
	Publish(u Update)
}

// SinkFunc adapts a function to the ProgressSink interface.
type SinkFunc func(u Update)

func (f SinkFunc) Publish(u Update) { f(u) }

// MultiSink fans one update out to several sinks in order.
type MultiSink []ProgressSink

func (m MultiSink) Publish(u Update) {
	for _, s := range m {
		if s != nil {
			s.Publish(u)
		}
	}
}

// StoreSink persists every update it sees to a durable progress store,
// keyed by the update's ID. Updates without an ID are ignored.
func StoreSink(s *store.Store) ProgressSink {
	return SinkFunc(func(u Update) {
		if s == nil || u.ID == "" {
			return
		}
		s.Write(u.ID, store.Record{
			Title:      u.Title,
			Status:     u.Status.String(),
			Downloaded: u.Received,
			Total:      u.Total,
			Speed:      u.Speed,
			ETA:        u.ETA,
			Error:      u.Err,
		})
	})
}

// LogLevel orders log severities for the Logger interface.
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
)

func (l LogLevel) String() string {
	switch l {
	case LogDebug:
		return "DEBUG"
	case LogInfo:
		return "INFO"
	case LogWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}

// Logger receives diagnostic messages from the pipeline. The zero value
// of components that take a Logger treats nil as "discard".
type Logger interface {
	Log(level LogLevel, msg string)
}

type stderrLogger struct {
	min LogLevel
	l   *log.Logger
}

// NewLogger returns a Logger writing timestamped lines to stderr,
// dropping anything below min.
func NewLogger(min LogLevel) Logger {
	return &stderrLogger{min: min, l: log.New(os.Stderr, "", log.LstdFlags)}
}

func (s *stderrLogger) Log(level LogLevel, msg string) {
	if level < s.min {
		return
	}
	s.l.Printf("[%s] %s", level, msg)
}

func logf(l Logger, level LogLevel, format string, args ...any) {
	if l == nil {
		return
	}
	l.Log(level, fmt.Sprintf(format, args...))
}
