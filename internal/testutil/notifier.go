package testutil

import (
	"sync"

	"drive-go/internal/drive"
)

// RecordingNotifier keeps every notification it is handed.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []drive.Notification
}

func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (n *RecordingNotifier) Notify(note drive.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
}

// Sent returns a copy of the notifications received so far.
func (n *RecordingNotifier) Sent() []drive.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]drive.Notification(nil), n.sent...)
}
