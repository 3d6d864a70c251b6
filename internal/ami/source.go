package ami

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "disconnected"
}

var (
	ErrNotConnected = errors.New("ami: not connected")
	ErrQueueFull    = errors.New("ami: command queue full")
)

type SourceConfig struct {
	Addr     string
	Username string
	Password string

	// ReconnectDelay between attempts. Retries never stop.
	ReconnectDelay time.Duration

	// PingInterval enables keep-alive pings; a link silent for two
	// intervals is dropped. Zero disables it.
	PingInterval time.Duration

	// HandshakeTimeout bounds the banner and login exchange. Defaults to
	// 10s.
	HandshakeTimeout time.Duration

	// Dial defaults to a net.Dialer with a 5s timeout.
	Dial DialFunc

	// RawLog, when set, receives every inbound packet.
	RawLog *zerolog.Logger
}

// Source owns the manager connection. It turns the packet stream into
// typed events and writes queued commands while a session is up.
type Source struct {
	cfg    SourceConfig
	logger zerolog.Logger

	events   chan Event
	commands chan Action

	mu    sync.RWMutex
	state State

	// generation counts authenticated sessions
	generation uint64
}

func NewSource(cfg SourceConfig, logger zerolog.Logger) *Source {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Dial == nil {
		d := &net.Dialer{Timeout: 5 * time.Second}
		cfg.Dial = d.DialContext
	}
	return &Source{
		cfg:      cfg,
		logger:   logger.With().Str("component", "ami").Str("addr", cfg.Addr).Logger(),
		events:   make(chan Event, 256),
		commands: make(chan Action, 256),
	}
}

// Events is closed when Run returns.
func (s *Source) Events() <-chan Event {
	return s.events
}

func (s *Source) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Generation identifies the latest authenticated session. Lifecycle
// events carry the generation they belong to.
func (s *Source) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

func (s *Source) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()

	if prev != next {
		s.logger.Info().
			Stringer("from", prev).
			Stringer("to", next).
			Msg("ami state change")
	}
}

// Send queues a command for the current session. Commands are
// fire-and-forget; answers arrive as events.
func (s *Source) Send(a Action) error {
	if s.State() != StateConnected {
		return ErrNotConnected
	}
	if a.ID == "" {
		a.ID = newActionID()
	}
	select {
	case s.commands <- a:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run keeps a session up until ctx is cancelled.
func (s *Source) Run(ctx context.Context) {
	defer close(s.events)

	for {
		s.setState(StateConnecting)
		gen, err := s.session(ctx)
		s.setState(StateDisconnected)

		if ctx.Err() != nil {
			s.logger.Info().Msg("ami source stopped")
			return
		}

		if gen > 0 {
			s.emit(ctx, Disconnected{Err: err, Generation: gen})
		}
		s.logger.Warn().
			Err(err).
			Dur("retry_in", s.cfg.ReconnectDelay).
			Msg("ami connection lost")

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("ami source stopped")
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

// session returns the generation of the session once it authenticated,
// zero otherwise.
func (s *Source) session(ctx context.Context) (uint64, error) {
	nc, err := s.cfg.Dial(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return 0, err
	}
	conn := NewConn(nc)

	done := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(done)
		conn.Close()
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	// a peer that accepts but stays silent must not stall the retry loop
	conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	banner, err := conn.ReadBanner()
	if err != nil {
		return 0, fmt.Errorf("read banner: %w", err)
	}
	if err := conn.Login(s.cfg.Username, s.cfg.Password); err != nil {
		return 0, err
	}
	conn.SetReadDeadline(time.Time{})

	s.dropStale()
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.mu.Unlock()
	s.setState(StateConnected)
	s.logger.Info().Str("banner", banner).Uint64("generation", gen).Msg("ami connected")
	s.emit(ctx, Connected{Banner: banner, Generation: gen})

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop(conn, done)
	}()

	return gen, s.readLoop(ctx, conn)
}

func (s *Source) readLoop(ctx context.Context, conn *Conn) error {
	for {
		if s.cfg.PingInterval > 0 {
			conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingInterval))
		}

		msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.logRaw(msg)

		if msg.Get("Event") == "" {
			if msg.Get("Response") == "Error" {
				s.logger.Warn().
					Str("action_id", msg.Get("ActionID")).
					Str("message", msg.Get("Message")).
					Msg("ami action failed")
			}
			continue
		}

		ev, err := ParseEvent(msg)
		if errors.Is(err, ErrUnhandledEvent) {
			continue
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("dropping malformed event")
			continue
		}
		s.emit(ctx, ev)
	}
}

func (s *Source) writeLoop(conn *Conn, done <-chan struct{}) {
	var ping <-chan time.Time
	if s.cfg.PingInterval > 0 {
		t := time.NewTicker(s.cfg.PingInterval)
		defer t.Stop()
		ping = t.C
	}

	for {
		var a Action
		select {
		case <-done:
			return
		case a = <-s.commands:
		case <-ping:
			a = Ping()
			a.ID = newActionID()
		}

		if err := conn.Write(a); err != nil {
			s.logger.Warn().Err(err).Str("action", a.Name).Msg("ami write failed")
			conn.Close()
			return
		}
		s.logger.Debug().Str("action", a.Name).Str("action_id", a.ID).Msg("ami action sent")
	}
}

// dropStale discards commands queued for a previous session; the handler
// re-polls on every Connected.
func (s *Source) dropStale() {
	for {
		select {
		case <-s.commands:
		default:
			return
		}
	}
}

func (s *Source) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func (s *Source) logRaw(msg Message) {
	if s.cfg.RawLog == nil {
		return
	}
	e := s.cfg.RawLog.Log()
	for k, v := range msg {
		e = e.Str(k, v)
	}
	e.Send()
}
