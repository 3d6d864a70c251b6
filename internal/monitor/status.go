package monitor

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Status is the canonical member availability. Every raw AMI status
// vocabulary is normalised into it.
type Status int

const (
	StatusIdle Status = iota
	StatusInUse
	StatusBusy
	StatusUnavailable
	StatusRinging
	StatusOnHold
)

var statusCodes = map[Status]string{
	StatusIdle:        "0",
	StatusInUse:       "1",
	StatusBusy:        "2",
	StatusUnavailable: "4",
	StatusRinging:     "8",
	StatusOnHold:      "16",
}

var statusTexts = map[Status]string{
	StatusIdle:        "Idle",
	StatusInUse:       "In Use",
	StatusBusy:        "Busy",
	StatusUnavailable: "Unavailable",
	StatusRinging:     "Ringing",
	StatusOnHold:      "On Hold",
}

// Code is the wire code sent to dashboards. It reuses the ExtensionStatus
// numbering the dashboard already understands.
func (s Status) Code() string {
	if c, ok := statusCodes[s]; ok {
		return c
	}
	return statusCodes[StatusUnavailable]
}

func (s Status) Text() string {
	if t, ok := statusTexts[s]; ok {
		return t
	}
	return statusTexts[StatusUnavailable]
}

func (s Status) String() string { return s.Text() }

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Code())
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var code string
	if err := json.Unmarshal(b, &code); err != nil {
		return err
	}
	for st, c := range statusCodes {
		if c == code {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status code %q", code)
}

// FromExtensionStatus maps the ExtensionStatus "Status" field.
func FromExtensionStatus(code int) Status {
	switch code {
	case 0:
		return StatusIdle
	case 1:
		return StatusInUse
	case 2:
		return StatusBusy
	case 4:
		return StatusUnavailable
	case 8:
		return StatusRinging
	case 16:
		return StatusOnHold
	}
	return StatusUnavailable
}

// FromDeviceState maps the DeviceStateChange "State" field.
func FromDeviceState(state string) Status {
	switch state {
	case "NOT_INUSE":
		return StatusIdle
	case "INUSE":
		return StatusInUse
	case "BUSY":
		return StatusBusy
	case "UNAVAILABLE":
		return StatusUnavailable
	case "RINGING":
		return StatusRinging
	case "ONHOLD":
		return StatusOnHold
	}
	return StatusUnavailable
}

// FromQueueMemberStatus maps the QueueMember/QueueMemberStatus "Status"
// field (1 not in use, 2 in use, 3 busy, 4 invalid, 5 unavailable,
// 6 ringing).
func FromQueueMemberStatus(code int) Status {
	switch code {
	case 1:
		return StatusIdle
	case 2:
		return StatusInUse
	case 3:
		return StatusBusy
	case 4, 5:
		return StatusUnavailable
	case 6:
		return StatusRinging
	}
	return StatusUnavailable
}

// parseCode accepts a raw numeric string, falling back to Unavailable when
// it is not a number.
func parseCode(raw string, mapping func(int) Status) Status {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return StatusUnavailable
	}
	return mapping(n)
}

// ExtensionStatusFromRaw and QueueMemberStatusFromRaw take the unparsed AMI
// field value.
func ExtensionStatusFromRaw(raw string) Status {
	return parseCode(raw, FromExtensionStatus)
}

func QueueMemberStatusFromRaw(raw string) Status {
	return parseCode(raw, FromQueueMemberStatus)
}
