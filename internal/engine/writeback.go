package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lazypower/fade/internal/store"
)

// writeback applies post-retrieval score updates off the request path.
// Failures are logged, never returned to the caller.
type writeback struct {
	vs      store.VectorStore
	queue   chan []store.PayloadUpdate
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newWriteback(vs store.VectorStore, size int) *writeback {
	if size <= 0 {
		size = 256
	}
	w := &writeback{
		vs:      vs,
		queue:   make(chan []store.PayloadUpdate, size),
		timeout: 30 * time.Second,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

// enqueue hands updates to the worker. A full queue drops the batch; the
// access boost is lost but the store stays consistent.
func (w *writeback) enqueue(updates []store.PayloadUpdate) {
	if len(updates) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		log.Printf("writeback: closed, dropping %d updates", len(updates))
		return
	}

	select {
	case w.queue <- updates:
	default:
		log.Printf("writeback: queue full, dropping %d updates", len(updates))
	}
}

func (w *writeback) loop() {
	defer close(w.done)
	for updates := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		if err := w.vs.SetPayloads(ctx, updates, false); err != nil {
			log.Printf("writeback: update %d items: %v", len(updates), err)
		}
		cancel()
	}
}

// close stops accepting updates and waits for queued ones to be applied.
func (w *writeback) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()
	<-w.done
}
