// Package notify persists user notifications off the request path.
package notify

import (
	"sync"

	"drive-go/internal/drive"
)

// DefaultQueueSize is the number of notifications buffered before new ones
// are dropped.
const DefaultQueueSize = 256

// DBNotifier queues notifications and writes them to the database from a
// single background goroutine. Notify never blocks; when the queue is full the
// notification is dropped and logged.
type DBNotifier struct {
	store  drive.Database
	logger drive.Logger
	queue  chan drive.Notification

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDBNotifier starts the writer goroutine. Call Close to flush and stop it.
func NewDBNotifier(store drive.Database, logger drive.Logger, queueSize int) *DBNotifier {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = drive.NewNopLogger()
	}
	n := &DBNotifier{
		store:  store,
		logger: logger,
		queue:  make(chan drive.Notification, queueSize),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

func (n *DBNotifier) Notify(note drive.Notification) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.logger.Warn("notification dropped after close", "user_id", note.UserID, "type", note.Type)
		return
	}
	select {
	case n.queue <- note:
	default:
		n.logger.Warn("notification queue full, dropping", "user_id", note.UserID, "type", note.Type)
	}
}

func (n *DBNotifier) run() {
	defer n.wg.Done()
	for note := range n.queue {
		if err := n.store.CreateNotification(&note); err != nil {
			n.logger.Error("failed to store notification", "user_id", note.UserID, "error", err)
		}
	}
}

// Close stops accepting notifications and waits until the queued ones are
// written.
func (n *DBNotifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	n.wg.Wait()
	return nil
}

var _ drive.Notifier = (*DBNotifier)(nil)
