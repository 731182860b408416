// Package store persists per-download progress records as JSON files so
// that status survives process boundaries and UI reconnects. Consumers
// poll; there is no notification channel.
package store

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
)

const progressDirName = ".progress"

// Record is the durable form of one download's progress snapshot. Fields
// are additive: readers must tolerate absent speed/eta (playlist audio
// items only report byte counters).
type Record struct {
	Title      string  `json:"title,omitempty"`
	Status     string  `json:"status,omitempty"`
	Filename   string  `json:"filename,omitempty"`
	Downloaded int64   `json:"downloaded"`
	Total      int64   `json:"total,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
	ETA        int64   `json:"eta,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Store writes records under <dir>/.progress, one file per tracked id.
// Writes are atomic-replace per id; each download owns a distinct id, so
// concurrent workers never contend on the same file.
type Store struct {
	dir  string
	logf func(format string, args ...any)
}

// New returns a store scoped to a destination directory. The progress
// directory is created lazily on first write.
func New(dir string) *Store {
	return &Store{dir: filepath.Join(dir, progressDirName), logf: log.Printf}
}

// SetLogf redirects the store's diagnostics, which otherwise go to the
// stdlib logger. A nil argument is ignored.
func (s *Store) SetLogf(f func(format string, args ...any)) {
	if f != nil {
		s.logf = f
	}
}

// Path returns the record file path for an id.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Write serializes the record and atomically replaces the file for id.
// Durability is best-effort: failures are logged, never returned, so a
// broken disk cannot fail a download that otherwise succeeded.
func (s *Store) Write(id string, rec Record) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.logf("progress store: creating %s: %v", s.dir, err)
		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		s.logf("progress store: encoding record %s: %v", id, err)
		return
	}

	target := s.Path(id)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logf("progress store: writing %s: %v", tmp, err)
		return
	}
	if err := os.Rename(tmp, target); err != nil {
		s.logf("progress store: replacing %s: %v", target, err)
		os.Remove(tmp)
	}
}

// Read returns the last successfully written record for id, or a zero
// record if none exists or the file is unreadable. It never fails.
func (s *Store) Read(id string) Record {
	var rec Record
	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		return rec
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}
	}
	return rec
}

// List enumerates the ids of all currently tracked records.
func (s *Store) List() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids
}
