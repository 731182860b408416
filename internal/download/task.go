package download

import (
	"context"

	"github.com/google/uuid"
)

// Task is a handle to a download running in the background. Its ID
// doubles as the progress-store key, so an observer can follow the
// transfer by polling the store while the owner waits on Done.
type Task struct {
	ID string

	cancel context.CancelFunc
	done   chan struct{}
	result ItemResult
}

// StartItem launches DownloadItem on its own goroutine and returns
// immediately. Cancel stops the transfer; the task still settles into a
// terminal state observable through Wait.
func (p *Pipeline) StartItem(ctx context.Context, rawURL, destDir string, pol Policy) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{ID: uuid.New().String(), cancel: cancel, done: make(chan struct{})}
	go func() {
		defer cancel()
		t.result = p.downloadItem(ctx, rawURL, destDir, pol, t.ID, -1, "")
		close(t.done)
	}()
	return t
}

// Cancel requests the download stop. Safe to call more than once and
// after completion.
func (t *Task) Cancel() { t.cancel() }

// Done is closed once the task has reached a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes and returns its result.
func (t *Task) Wait() ItemResult {
	<-t.done
	return t.result
}
