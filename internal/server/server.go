// Package server accepts relay commands on a TCP port: one JSON payload per
// connection, one connection at a time, no response.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/sweeney/pc-switch/internal/logic"
)

// MaxPayload caps how much a client may send before the payload is
// considered malformed.
const MaxPayload = 1024

// DefaultReadTimeout is how long a client has to send a complete payload.
const DefaultReadTimeout = 3 * time.Second

// acceptBackoff is the pause after a temporary accept error.
const acceptBackoff = 50 * time.Millisecond

// trailingGrace is how long a client that keeps its side open may take
// to send anything after the payload.
const trailingGrace = 20 * time.Millisecond

// errTimedOut marks a connection whose payload did not arrive in time.
var errTimedOut = errors.New("timed out waiting for command")

// errTrailingData marks a payload followed by more than whitespace.
var errTrailingData = errors.New("data after command")

// Actuator performs a decoded command on the server's relay channel.
type Actuator interface {
	Name() string
	Actuate(ctx context.Context, kind logic.CommandKind) (time.Duration, error)
}

// Server serves one relay channel on one listener.
type Server struct {
	ln          net.Listener
	act         Actuator
	readTimeout time.Duration
	notifier    logic.Notifier
	now         func() time.Time
}

// New creates a Server. notifier may be nil.
func New(ln net.Listener, act Actuator, readTimeout time.Duration, notifier logic.Notifier) *Server {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &Server{
		ln:          ln,
		act:         act,
		readTimeout: readTimeout,
		notifier:    notifier,
		now:         time.Now,
	}
}

// Channel returns the relay channel name.
func (s *Server) Channel() string {
	return s.act.Name()
}

// Addr returns the listener address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts connections until ctx is done, handling each one to
// completion before accepting the next. The listener is closed when ctx
// ends. It returns ctx's error on shutdown and any other error when the
// listener or the relay fails.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.ln.Close() })
	defer stop()

	log.Printf("server %s: listening on %s", s.Channel(), s.ln.Addr())
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				log.Printf("server %s: accept: %v", s.Channel(), err)
				time.Sleep(acceptBackoff)
				continue
			}
			return fmt.Errorf("server %s: accept: %w", s.Channel(), err)
		}

		if err := s.handle(ctx, conn); err != nil {
			return err
		}
	}
}

// handle processes exactly one command and always closes conn. Only
// actuation failures are returned; client mistakes are logged.
func (s *Server) handle(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	log.Printf("server %s: connection from %s", s.Channel(), remote)

	deadline := s.now().Add(s.readTimeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		log.Printf("server %s: set deadline: %v", s.Channel(), err)
		return nil
	}

	raw, err := readPayload(conn, deadline)
	if errors.Is(err, errTimedOut) {
		log.Printf("server %s: timed out after %v waiting for %s", s.Channel(), s.readTimeout, remote)
		s.notify(logic.Event{Type: logic.EventTimeout, Remote: remote})
		return nil
	}

	var cmd logic.Command
	if err != nil {
		cmd = logic.Command{Kind: logic.CommandInvalid, Reason: logic.ReasonMalformed}
		if errors.Is(err, io.EOF) {
			cmd.Reason = logic.ReasonEmpty
		}
	} else {
		cmd = logic.ParseCommand(raw)
	}

	switch cmd.Kind {
	case logic.CommandPowerOn, logic.CommandForceShutdown:
		log.Printf("server %s: command %s from %s", s.Channel(), cmd.Kind, remote)
		d, err := s.act.Actuate(ctx, cmd.Kind)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("server %s: %w", s.Channel(), err)
		}
		s.notify(logic.Event{Type: logic.EventPulse, Command: cmd.Kind, Duration: d, Remote: remote})
	case logic.CommandInvalid:
		if cmd.Reason == logic.ReasonUnrecognized {
			log.Printf("server %s: unrecognized command %q from %s", s.Channel(), cmd.Value, remote)
		} else {
			log.Printf("server %s: invalid command from %s (%s)", s.Channel(), remote, cmd.Reason)
		}
		s.notify(logic.Event{Type: logic.EventRejected, Reason: cmd.Reason, Remote: remote})
	}
	return nil
}

// readPayload reads until one complete JSON value has arrived and only
// whitespace follows it. It returns errTimedOut when the read deadline
// passes before the value is complete, io.EOF when the client closed
// without sending anything, and another error for anything malformed,
// oversized or followed by trailing data.
func readPayload(conn net.Conn, deadline time.Time) (json.RawMessage, error) {
	lr := io.LimitReader(conn, MaxPayload)
	dec := json.NewDecoder(lr)
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, errTimedOut
		}
		return nil, err
	}

	if grace := time.Now().Add(trailingGrace); grace.Before(deadline) {
		if err := conn.SetReadDeadline(grace); err != nil {
			return nil, err
		}
	}
	if err := drainWhitespace(io.MultiReader(dec.Buffered(), lr)); err != nil {
		return nil, err
	}
	return raw, nil
}

// drainWhitespace reads r until EOF or a read timeout and fails on the
// first byte that is not JSON whitespace.
func drainWhitespace(r io.Reader) error {
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			switch b {
			case ' ', '\t', '\r', '\n':
			default:
				return errTrailingData
			}
		}
		if err == nil {
			continue
		}
		var ne net.Error
		if errors.Is(err, io.EOF) || (errors.As(err, &ne) && ne.Timeout()) {
			return nil
		}
		return err
	}
}

func (s *Server) notify(e logic.Event) {
	if s.notifier == nil {
		return
	}
	e.Timestamp = s.now()
	e.Channel = s.Channel()
	s.notifier.Notify(e)
}
