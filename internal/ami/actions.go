package ami

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Action is an outbound AMI command.
type Action struct {
	Name   string
	ID     string
	Params map[string]string
}

// Encode renders the action in wire format, params sorted by key.
func (a Action) Encode() []byte {
	var b strings.Builder
	b.WriteString("Action: " + a.Name + "\r\n")
	if a.ID != "" {
		b.WriteString("ActionID: " + a.ID + "\r\n")
	}

	keys := make([]string, 0, len(a.Params))
	for k := range a.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k + ": " + a.Params[k] + "\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

func newActionID() string {
	return uuid.NewString()
}

// QueueStatus asks the manager to replay QueueParams/QueueMember events
// for one queue.
func QueueStatus(queue string) Action {
	return Action{
		Name:   "QueueStatus",
		Params: map[string]string{"Queue": queue},
	}
}

func Ping() Action {
	return Action{Name: "Ping"}
}

func Login(username, secret string) Action {
	return Action{
		Name: "Login",
		Params: map[string]string{
			"Username": username,
			"Secret":   secret,
			"Events":   "on",
		},
	}
}
