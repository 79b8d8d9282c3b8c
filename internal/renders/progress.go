package renders

import (
	"context"
	"sync"

	v1 "subforge/internal/contracts/renderer/v1"
	"subforge/internal/pkg/logger"
)

// progressWriter journals progress on its own goroutine so event delivery
// never waits on the database. Only the latest unwritten event per
// operation is kept.
type progressWriter struct {
	journal Journal
	log     *logger.Logger

	mu     sync.Mutex
	latest map[string]v1.ProgressEvent
	order  []string

	wake     chan struct{}
	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once
}

func newProgressWriter(journal Journal, log *logger.Logger) *progressWriter {
	w := &progressWriter{
		journal: journal,
		log:     log,
		latest:  make(map[string]v1.ProgressEvent),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// offer queues ev, replacing any unwritten event of the same operation.
// It never blocks.
func (w *progressWriter) offer(ev v1.ProgressEvent) {
	w.mu.Lock()
	if _, queued := w.latest[ev.OperationID]; !queued {
		w.order = append(w.order, ev.OperationID)
	}
	w.latest[ev.OperationID] = ev
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *progressWriter) run() {
	defer close(w.done)
	for {
		select {
		case <-w.wake:
			w.flush()
		case <-w.quit:
			w.flush()
			return
		}
	}
}

func (w *progressWriter) flush() {
	for {
		w.mu.Lock()
		if len(w.order) == 0 {
			w.mu.Unlock()
			return
		}
		batch := make([]v1.ProgressEvent, 0, len(w.order))
		for _, id := range w.order {
			batch = append(batch, w.latest[id])
		}
		w.order = w.order[:0]
		clear(w.latest)
		w.mu.Unlock()

		for _, ev := range batch {
			ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
			if err := w.journal.UpdateProgress(ctx, ev.OperationID, ev.Percent, ev.Stage); err != nil {
				w.log.WithOperationID(ev.OperationID).Warn("journal progress failed", "error", err.Error())
			}
			cancel()
		}
	}
}

// stop writes what is still queued and ends the goroutine, or gives up
// when ctx ends. It is safe to call more than once.
func (w *progressWriter) stop(ctx context.Context) error {
	w.quitOnce.Do(func() { close(w.quit) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
