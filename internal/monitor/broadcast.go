package monitor

import "time"

// Observer channel names.
const (
	ChannelInitialState      = "initial-state"
	ChannelQueueMemberUpdate = "queue-member-update"
	ChannelQueueCallEnter    = "queue-call-enter"
	ChannelQueueCallLeave    = "queue-call-leave"
	ChannelAgentPause        = "agent-pause"
)

// CallerUpdate is sent on queue-call-enter and queue-call-leave.
type CallerUpdate struct {
	Queue  string `json:"queue"`
	Count  int    `json:"count"`
	Caller string `json:"caller,omitempty"`
}

// AgentPause is sent on agent-pause.
type AgentPause struct {
	Queue     string    `json:"queue"`
	Member    string    `json:"member"`
	Name      string    `json:"name"`
	Paused    bool      `json:"paused"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}
