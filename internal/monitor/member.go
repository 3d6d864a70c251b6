package monitor

import "time"

// MemberState is one agent extension inside one queue. Availability is
// extension-global, pause and callsTaken are per queue.
type MemberState struct {
	Queue      string    `json:"queue"`
	Member     string    `json:"member"`
	Name       string    `json:"name"`
	Status     Status    `json:"status"`
	StatusText string    `json:"statusText"`
	Paused     bool      `json:"paused"`
	CallsTaken int       `json:"callsTaken"`
	CallsMade  int       `json:"callsMade"`
	LastCall   int64     `json:"lastCall"`
	Timestamp  time.Time `json:"timestamp"`
}

// SetStatus keeps StatusText in step with Status.
func (m *MemberState) SetStatus(s Status) {
	m.Status = s
	m.StatusText = s.Text()
}

// Snapshot is the full state sent to an observer on connect.
type Snapshot struct {
	Queues     map[string][]MemberState `json:"queues"`
	QueueNames map[string]string        `json:"queueNames"`
	Stats      SnapshotStats            `json:"stats"`
}

type SnapshotStats struct {
	CallsWaiting map[string]int `json:"callsWaiting"`
}
