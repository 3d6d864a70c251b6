package stats

import (
	"context"

	"github.com/rs/zerolog"
)

// Incrementer is the persistence side of a Writer.
type Incrementer interface {
	Increment(ctx context.Context, ext string) error
}

// Writer persists counter increments off the event path. Record never
// blocks; a full queue or a failed write is logged and the increment is
// lost for durability only.
type Writer struct {
	store  Incrementer
	queue  chan string
	logger zerolog.Logger

	done chan struct{}
}

func NewWriter(store Incrementer, buffer int, logger zerolog.Logger) *Writer {
	if buffer <= 0 {
		buffer = 256
	}
	return &Writer{
		store:  store,
		queue:  make(chan string, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Record queues one increment for ext.
func (w *Writer) Record(ext string) {
	select {
	case w.queue <- ext:
	default:
		w.logger.Warn().Str("extension", ext).Msg("stats queue full, increment dropped")
	}
}

// Run drains the queue until ctx is done, then flushes what is left.
func (w *Writer) Run(ctx context.Context) {
	defer close(w.done)

	// in-flight writes outlive cancellation
	writeCtx := context.WithoutCancel(ctx)
	for {
		select {
		case ext := <-w.queue:
			w.write(writeCtx, ext)
		case <-ctx.Done():
			w.flush(writeCtx)
			return
		}
	}
}

// Wait blocks until Run has returned.
func (w *Writer) Wait() {
	<-w.done
}

func (w *Writer) flush(ctx context.Context) {
	for {
		select {
		case ext := <-w.queue:
			w.write(ctx, ext)
		default:
			return
		}
	}
}

func (w *Writer) write(ctx context.Context, ext string) {
	if err := w.store.Increment(ctx, ext); err != nil {
		w.logger.Error().Err(err).Str("extension", ext).Msg("failed to persist calls made")
	}
}
