package monitor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromExtensionStatus(t *testing.T) {
	cases := map[int]Status{
		0:  StatusIdle,
		1:  StatusInUse,
		2:  StatusBusy,
		4:  StatusUnavailable,
		8:  StatusRinging,
		16: StatusOnHold,
		3:  StatusUnavailable,
		-1: StatusUnavailable,
		32: StatusUnavailable,
	}
	for raw, want := range cases {
		assert.Equal(t, want, FromExtensionStatus(raw), "raw %d", raw)
	}
}

func TestFromDeviceState(t *testing.T) {
	cases := map[string]Status{
		"NOT_INUSE":   StatusIdle,
		"INUSE":       StatusInUse,
		"BUSY":        StatusBusy,
		"UNAVAILABLE": StatusUnavailable,
		"RINGING":     StatusRinging,
		"ONHOLD":      StatusOnHold,
		"RINGINUSE":   StatusUnavailable,
		"INVALID":     StatusUnavailable,
		"":            StatusUnavailable,
	}
	for raw, want := range cases {
		assert.Equal(t, want, FromDeviceState(raw), "raw %q", raw)
	}
}

func TestFromQueueMemberStatus(t *testing.T) {
	cases := map[int]Status{
		1: StatusIdle,
		2: StatusInUse,
		3: StatusBusy,
		4: StatusUnavailable,
		5: StatusUnavailable,
		6: StatusRinging,
		0: StatusUnavailable,
		7: StatusUnavailable,
		8: StatusUnavailable,
	}
	for raw, want := range cases {
		assert.Equal(t, want, FromQueueMemberStatus(raw), "raw %d", raw)
	}
}

func TestRawParsing(t *testing.T) {
	assert.Equal(t, StatusRinging, ExtensionStatusFromRaw("8"))
	assert.Equal(t, StatusUnavailable, ExtensionStatusFromRaw("ringing"))
	assert.Equal(t, StatusIdle, QueueMemberStatusFromRaw("1"))
	assert.Equal(t, StatusUnavailable, QueueMemberStatusFromRaw(""))
}

func TestStatusJSON(t *testing.T) {
	b, err := json.Marshal(StatusOnHold)
	require.NoError(t, err)
	assert.JSONEq(t, `"16"`, string(b))

	var s Status
	require.NoError(t, json.Unmarshal([]byte(`"1"`), &s))
	assert.Equal(t, StatusInUse, s)
	assert.Error(t, json.Unmarshal([]byte(`"3"`), &s))

	assert.Equal(t, "Unavailable", Status(99).Text())
	assert.Equal(t, "4", Status(99).Code())
}
