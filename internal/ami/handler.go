package ami

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"queuewatch/internal/monitor"
)

// Publisher fans payloads out to observers without blocking.
type Publisher interface {
	Publish(channel string, payload any)
}

// CallRecorder persists one outbound call for an extension.
type CallRecorder interface {
	Record(ext string)
}

// Commander accepts outbound actions.
type Commander interface {
	Send(a Action) error
}

// EventSource is what Run consumes; *Source implements it.
type EventSource interface {
	Commander
	Events() <-chan Event
	Generation() uint64
}

type HandlerConfig struct {
	// IgnoreContexts are dialplan contexts whose dial completions are
	// queue distribution, not agent-initiated calls.
	IgnoreContexts []string

	// PollInterval of the QueueStatus safety poll.
	PollInterval time.Duration

	Now func() time.Time
}

// Handler normalises typed events into table mutations and broadcasts.
type Handler struct {
	table    *monitor.Table
	pub      Publisher
	recorder CallRecorder
	logger   zerolog.Logger

	ignore       map[string]bool
	pollInterval time.Duration
	now          func() time.Time
}

func NewHandler(
	table *monitor.Table,
	pub Publisher,
	recorder CallRecorder,
	cfg HandlerConfig,
	logger zerolog.Logger,
) *Handler {
	ignore := make(map[string]bool, len(cfg.IgnoreContexts))
	for _, c := range cfg.IgnoreContexts {
		ignore[c] = true
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handler{
		table:        table,
		pub:          pub,
		recorder:     recorder,
		logger:       logger.With().Str("component", "handler").Logger(),
		ignore:       ignore,
		pollInterval: cfg.PollInterval,
		now:          cfg.Now,
	}
}

// Run consumes src until ctx is done or the stream closes. Every
// Connected triggers one QueueStatus per tracked queue, and the same poll
// repeats on PollInterval while connected.
func (h *Handler) Run(ctx context.Context, src EventSource) {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	connected := false
	events := src.Events()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case Connected:
				// a lagging handler may still hold the Connected of a
				// session that is already gone; only the latest polls
				if e.Generation != src.Generation() {
					h.logger.Debug().Uint64("generation", e.Generation).Msg("stale connect ignored")
					continue
				}
				connected = true
				h.PollAll(src, "connect")
			case Disconnected:
				connected = false
			default:
				h.Handle(ev)
			}

		case <-ticker.C:
			if connected {
				h.PollAll(src, "periodic")
			}
		}
	}
}

// PollAll issues one QueueStatus per tracked queue.
func (h *Handler) PollAll(cmd Commander, reason string) {
	ids := h.table.QueueIDs()
	for _, id := range ids {
		if err := cmd.Send(QueueStatus(id)); err != nil {
			h.logger.Warn().Err(err).Str("queue", id).Msg("queue status poll not sent")
		}
	}
	h.logger.Info().Str("reason", reason).Int("queues", len(ids)).Msg("queue status poll")
}

// Handle applies a single event. It never fails: bad input is logged and
// dropped.
func (h *Handler) Handle(ev Event) {
	switch e := ev.(type) {
	case DialEnd:
		h.onDialEnd(e)
	case ExtensionStatus:
		h.onExtensionStatus(e)
	case DeviceStateChange:
		h.onDeviceState(e)
	case QueueMemberStatus:
		h.onQueueMember(e)
	case QueueCallerJoin:
		h.onCallerJoin(e)
	case QueueCallerLeave:
		h.onCallerLeave(e)
	case QueueMemberPause:
		h.onPause(e)
	case QueueParams:
		h.table.SetWaiting(e.Queue, e.Calls)
	default:
		h.logger.Debug().Str("event", ev.EventName()).Msg("event ignored")
	}
}

func (h *Handler) onDialEnd(e DialEnd) {
	if e.DialStatus != "ANSWER" {
		return
	}
	if h.ignore[e.Context] || h.ignore[e.DestContext] {
		h.logger.Debug().
			Str("context", e.Context).
			Str("dest_context", e.DestContext).
			Msg("ignoring queue/internal dial")
		return
	}

	ext, ok := monitor.ExtractExtension(e.Channel)
	if !ok {
		h.logger.Warn().
			Err(&MalformedEventError{Event: e.EventName(), Field: "Channel", Value: e.Channel}).
			Msg("dropping malformed event")
		return
	}

	// memory first, persistence is best effort
	updated := h.table.RecordCall(ext)
	h.recorder.Record(ext)

	h.logger.Info().
		Str("extension", ext).
		Int("queues", len(updated)).
		Msg("outbound call counted")
	h.publishMembers(updated)
}

func (h *Handler) onExtensionStatus(e ExtensionStatus) {
	status := monitor.ExtensionStatusFromRaw(e.Status)
	h.setExtensionStatus(e.Exten, status)
}

func (h *Handler) onDeviceState(e DeviceStateChange) {
	if monitor.IsVirtualDevice(e.Device) {
		return
	}
	ext, ok := monitor.ExtractExtension(e.Device)
	if !ok {
		// trunks and named devices carry no extension
		h.logger.Debug().Str("device", e.Device).Msg("device without extension")
		return
	}
	h.setExtensionStatus(ext, monitor.FromDeviceState(e.State))
}

func (h *Handler) setExtensionStatus(ext string, status monitor.Status) {
	updated := h.table.UpdateExtension(ext, func(m *monitor.MemberState) {
		m.SetStatus(status)
	})
	if len(updated) == 0 {
		h.logger.Debug().Str("extension", ext).Msg("status for untracked extension")
		return
	}
	h.publishMembers(updated)
}

func (h *Handler) onQueueMember(e QueueMemberStatus) {
	ext := memberExtension(e.StateInterface, e.Interface, e.MemberName)
	if ext == "" {
		h.logger.Warn().
			Err(&MalformedEventError{Event: e.EventName(), Field: "StateInterface"}).
			Str("queue", e.Queue).
			Msg("dropping malformed event")
		return
	}

	// name and callsMade are never carried by this event and stay as known
	previous := -1
	m := h.table.Upsert(e.Queue, ext, e.MemberName, func(m *monitor.MemberState) {
		if e.CallsTaken < m.CallsTaken {
			previous = m.CallsTaken
		}
		m.Paused = e.Paused
		m.SetStatus(monitor.QueueMemberStatusFromRaw(e.Status))
		m.CallsTaken = e.CallsTaken
		m.LastCall = e.LastCall
	})
	if previous >= 0 {
		h.logger.Warn().
			Str("queue", e.Queue).
			Str("extension", ext).
			Int("previous", previous).
			Int("reported", e.CallsTaken).
			Msg("calls taken went backwards, keeping previous")
	}
	h.pub.Publish(monitor.ChannelQueueMemberUpdate, m)
}

func (h *Handler) onCallerJoin(e QueueCallerJoin) {
	var n int
	if e.HasCount {
		n = h.table.SetWaiting(e.Queue, e.Count)
	} else {
		n = h.table.AdjustWaiting(e.Queue, 1)
	}
	h.pub.Publish(monitor.ChannelQueueCallEnter, monitor.CallerUpdate{
		Queue:  e.Queue,
		Count:  n,
		Caller: e.CallerIDNum,
	})
}

func (h *Handler) onCallerLeave(e QueueCallerLeave) {
	var n int
	if e.HasCount {
		n = h.table.SetWaiting(e.Queue, e.Count)
	} else {
		n = h.table.AdjustWaiting(e.Queue, -1)
	}
	h.pub.Publish(monitor.ChannelQueueCallLeave, monitor.CallerUpdate{
		Queue: e.Queue,
		Count: n,
	})
}

func (h *Handler) onPause(e QueueMemberPause) {
	ext := memberExtension("", e.Interface, e.MemberName)
	if ext == "" {
		h.logger.Warn().
			Err(&MalformedEventError{Event: e.EventName(), Field: "Interface"}).
			Msg("dropping malformed event")
		return
	}

	m := h.table.Upsert(e.Queue, ext, e.MemberName, func(m *monitor.MemberState) {
		m.Paused = e.Paused
	})

	reason := e.Reason
	if reason == "" && e.Paused {
		reason = "Paused"
	}
	h.pub.Publish(monitor.ChannelQueueMemberUpdate, m)
	h.pub.Publish(monitor.ChannelAgentPause, monitor.AgentPause{
		Queue:     e.Queue,
		Member:    ext,
		Name:      m.Name,
		Paused:    e.Paused,
		Reason:    reason,
		Timestamp: h.now(),
	})
}

func (h *Handler) publishMembers(ms []monitor.MemberState) {
	for _, m := range ms {
		h.pub.Publish(monitor.ChannelQueueMemberUpdate, m)
	}
}

// memberExtension picks the extension from the state interface, then the
// interface, then the raw member name.
func memberExtension(stateInterface, iface, memberName string) string {
	for _, v := range []string{stateInterface, iface} {
		if ext, ok := monitor.ExtractExtension(v); ok {
			return ext
		}
	}
	return memberName
}
