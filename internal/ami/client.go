package ami

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// Message is one AMI packet. Keys are stored lower-cased because field
// casing differs between Asterisk versions and event kinds.
type Message map[string]string

func (m Message) Get(key string) string {
	return m[strings.ToLower(key)]
}

// Has reports whether the key was present, even with an empty value.
func (m Message) Has(key string) bool {
	_, ok := m[strings.ToLower(key)]
	return ok
}

// DialFunc opens the transport connection. net.Dialer.DialContext fits.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Conn speaks the AMI line protocol over one transport connection.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader

	wmu sync.Mutex
}

func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn: conn,
		r:    bufio.NewReader(conn),
	}
}

// ReadBanner consumes the "Asterisk Call Manager/x.y" greeting.
func (c *Conn) ReadBanner() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimSpace(line)
	if !strings.Contains(line, "Call Manager") {
		return "", fmt.Errorf("unexpected banner %q", line)
	}
	return line, nil
}

// ReadMessage reads lines up to the blank line terminating a packet.
// Leading blank lines are skipped.
func (c *Conn) ReadMessage() (Message, error) {
	msg := make(Message)

	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			return nil, err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			if len(msg) == 0 {
				continue
			}
			return msg, nil
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) == 2 {
			msg[strings.ToLower(strings.TrimSpace(parts[0]))] = strings.TrimSpace(parts[1])
		}
	}
}

// Write sends an action. Safe for concurrent use.
func (c *Conn) Write(a Action) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	_, err := c.conn.Write(a.Encode())
	return err
}

// Login authenticates and waits for the matching response.
func (c *Conn) Login(username, secret string) error {
	a := Login(username, secret)
	a.ID = newActionID()
	if err := c.Write(a); err != nil {
		return fmt.Errorf("send login: %w", err)
	}

	for {
		msg, err := c.ReadMessage()
		if err != nil {
			return fmt.Errorf("read login response: %w", err)
		}
		if msg.Get("Response") == "" || msg.Get("ActionID") != a.ID {
			continue
		}
		if !strings.EqualFold(msg.Get("Response"), "Success") {
			return fmt.Errorf("%w: %s", ErrAuthFailed, msg.Get("Message"))
		}
		return nil
	}
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

var ErrAuthFailed = errors.New("ami: authentication failed")
