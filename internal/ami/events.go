package ami

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Event is a typed AMI event or a connection lifecycle marker.
type Event interface {
	EventName() string
}

// Connected is emitted each time a session is authenticated.
type Connected struct {
	Banner     string
	Generation uint64
}

// Disconnected is emitted when an established session ends.
type Disconnected struct {
	Err        error
	Generation uint64
}

type DialEnd struct {
	Channel     string
	DestChannel string
	DialStatus  string
	Context     string
	DestContext string
}

type ExtensionStatus struct {
	Exten      string
	Context    string
	Status     string
	StatusText string
}

type DeviceStateChange struct {
	Device string
	State  string
}

// QueueMemberStatus covers both the unsolicited QueueMemberStatus event
// and the QueueMember rows answering a QueueStatus poll.
type QueueMemberStatus struct {
	Queue          string
	MemberName     string
	Interface      string
	StateInterface string
	Status         string
	Paused         bool
	CallsTaken     int
	LastCall       int64
	Polled         bool
}

type QueueCallerJoin struct {
	Queue       string
	CallerIDNum string
	Count       int
	HasCount    bool
}

type QueueCallerLeave struct {
	Queue    string
	Count    int
	HasCount bool
}

type QueueMemberPause struct {
	Queue      string
	MemberName string
	Interface  string
	Paused     bool
	Reason     string
}

// QueueParams answers a QueueStatus poll with queue-level counters.
type QueueParams struct {
	Queue string
	Calls int
}

func (Connected) EventName() string         { return "Connected" }
func (Disconnected) EventName() string      { return "Disconnected" }
func (DialEnd) EventName() string           { return "DialEnd" }
func (ExtensionStatus) EventName() string   { return "ExtensionStatus" }
func (DeviceStateChange) EventName() string { return "DeviceStateChange" }
func (QueueMemberStatus) EventName() string { return "QueueMemberStatus" }
func (QueueCallerJoin) EventName() string   { return "QueueCallerJoin" }
func (QueueCallerLeave) EventName() string  { return "QueueCallerLeave" }
func (QueueMemberPause) EventName() string  { return "QueueMemberPause" }
func (QueueParams) EventName() string       { return "QueueParams" }

// ErrUnhandledEvent marks event kinds the engine does not consume.
var ErrUnhandledEvent = errors.New("ami: unhandled event")

// MalformedEventError is returned when a required field is missing or
// unparsable. The event is dropped.
type MalformedEventError struct {
	Event string
	Field string
	Value string
}

func (e *MalformedEventError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("ami: malformed %s event: bad %s %q", e.Event, e.Field, e.Value)
	}
	return fmt.Sprintf("ami: malformed %s event: missing %s", e.Event, e.Field)
}

// ParseEvent converts a raw message into its typed variant.
func ParseEvent(m Message) (Event, error) {
	name := m.Get("Event")
	p := parser{msg: m, event: name}

	var ev Event
	switch strings.ToLower(name) {
	case "dialend":
		ev = DialEnd{
			Channel:     p.required("Channel"),
			DestChannel: m.Get("DestChannel"),
			DialStatus:  p.required("DialStatus"),
			Context:     m.Get("Context"),
			DestContext: m.Get("DestContext"),
		}

	case "extensionstatus":
		ev = ExtensionStatus{
			Exten:      p.required("Exten"),
			Context:    m.Get("Context"),
			Status:     p.required("Status"),
			StatusText: m.Get("StatusText"),
		}

	case "devicestatechange":
		ev = DeviceStateChange{
			Device: p.required("Device"),
			State:  p.required("State"),
		}

	case "queuememberstatus", "queuemember":
		qm := QueueMemberStatus{
			Queue:          p.required("Queue"),
			MemberName:     m.Get("MemberName"),
			Interface:      m.Get("Interface"),
			StateInterface: m.Get("StateInterface"),
			Status:         m.Get("Status"),
			Paused:         m.Get("Paused") == "1",
			CallsTaken:     p.optionalInt("CallsTaken"),
			LastCall:       int64(p.optionalInt("LastCall")),
			Polled:         strings.EqualFold(name, "QueueMember"),
		}
		if qm.MemberName == "" && qm.Interface == "" && qm.StateInterface == "" {
			p.missing("StateInterface")
		}
		// QueueMember rows name the agent "Name" on older releases
		if qm.MemberName == "" {
			qm.MemberName = m.Get("Name")
		}
		ev = qm

	case "queuecallerjoin", "join":
		count, has := p.countField()
		ev = QueueCallerJoin{
			Queue:       p.required("Queue"),
			CallerIDNum: m.Get("CallerIDNum"),
			Count:       count,
			HasCount:    has,
		}

	case "queuecallerleave", "leave":
		count, has := p.countField()
		ev = QueueCallerLeave{
			Queue:    p.required("Queue"),
			Count:    count,
			HasCount: has,
		}

	case "queuememberpause", "queuememberpaused":
		reason := m.Get("PausedReason")
		if reason == "" {
			reason = m.Get("Reason")
		}
		qp := QueueMemberPause{
			Queue:      p.required("Queue"),
			MemberName: m.Get("MemberName"),
			Interface:  m.Get("Interface"),
			Paused:     p.required("Paused") == "1",
			Reason:     reason,
		}
		if qp.MemberName == "" && qp.Interface == "" {
			p.missing("Interface")
		}
		ev = qp

	case "queueparams":
		ev = QueueParams{
			Queue: p.required("Queue"),
			Calls: p.optionalInt("Calls"),
		}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnhandledEvent, name)
	}

	if p.err != nil {
		return nil, p.err
	}
	return ev, nil
}

// parser records the first field error while building a variant.
type parser struct {
	msg   Message
	event string
	err   error
}

func (p *parser) required(key string) string {
	v := p.msg.Get(key)
	if v == "" {
		p.missing(key)
	}
	return v
}

func (p *parser) missing(key string) {
	if p.err == nil {
		p.err = &MalformedEventError{Event: p.event, Field: key}
	}
}

func (p *parser) optionalInt(key string) int {
	v := p.msg.Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		if p.err == nil {
			p.err = &MalformedEventError{Event: p.event, Field: key, Value: v}
		}
		return 0
	}
	return n
}

func (p *parser) countField() (int, bool) {
	v := p.msg.Get("Count")
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		// a broken count falls back to local arithmetic
		return 0, false
	}
	return n, true
}
