// Package gateway turns a discordgo session into an ordered event stream.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// ErrClosed is returned by Next once the gateway has been closed.
var ErrClosed = errors.New("gateway closed")

// Intents requested on identify.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsMessageContent |
	discordgo.IntentsDirectMessages

const defaultBufferSize = 256

// State is the connection state of the gateway.
type State string

const (
	StateConnecting   State = "connecting"
	StateReady        State = "ready"
	StateStreaming    State = "streaming"
	StateReconnecting State = "reconnecting"
	StateTerminated   State = "terminated"
)

// Conn is the part of *discordgo.Session the gateway drives.
type Conn interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	UpdateGameStatus(idle int, name string) error
}

// Gateway forwards every session event, in arrival order, to a single consumer.
type Gateway struct {
	logger  *slog.Logger
	conn    Conn
	session *discordgo.Session
	status  string

	events    chan any
	done      chan struct{}
	closeOnce sync.Once
	remove    func()

	mu        sync.RWMutex
	state     State
	changedAt time.Time
}

// New creates a gateway for a bot token. The connection is opened by Open.
func New(log *slog.Logger, token, status string) (*Gateway, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = Intents
	// Handlers run on the read loop, so the channel below sees events in order.
	session.SyncEvents = true
	// The snapshot store keeps its own state from the forwarded events.
	session.StateEnabled = false
	return newGateway(log, session, session, status, defaultBufferSize), nil
}

func newGateway(log *slog.Logger, conn Conn, session *discordgo.Session, status string, buffer int) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}
	g := &Gateway{
		logger:    log.With(slog.String("component", "gateway")),
		conn:      conn,
		session:   session,
		status:    strings.TrimSpace(status),
		events:    make(chan any, buffer),
		done:      make(chan struct{}),
		state:     StateConnecting,
		changedAt: time.Now(),
	}
	g.remove = conn.AddHandler(g.onEvent)
	return g
}

// Open connects to the gateway. Reconnects after that are handled by discordgo.
func (g *Gateway) Open() error {
	g.logger.Info("gateway connecting")
	if err := g.conn.Open(); err != nil {
		g.setState(StateTerminated)
		return fmt.Errorf("open gateway: %w", err)
	}
	return nil
}

// Close terminates the connection and unblocks Next. Safe to call more than once.
func (g *Gateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		g.setState(StateTerminated)
		close(g.done)
		if g.remove != nil {
			g.remove()
		}
		err = g.conn.Close()
	})
	return err
}

// Next returns the next event. It returns ErrClosed after Close and ctx.Err()
// when ctx is done.
func (g *Gateway) Next(ctx context.Context) (any, error) {
	select {
	case <-g.done:
		return nil, ErrClosed
	default:
	}
	select {
	case ev := <-g.events:
		return ev, nil
	case <-g.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// State reports the current connection state.
func (g *Gateway) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// StateSince reports when the current state was entered.
func (g *Gateway) StateSince() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.changedAt
}

// Session exposes the underlying session for REST calls.
func (g *Gateway) Session() *discordgo.Session {
	return g.session
}

// AnnouncePresence sets the configured status text. It runs after every Ready.
func (g *Gateway) AnnouncePresence(ctx context.Context, ready *discordgo.Ready) error {
	if g.status == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := g.conn.UpdateGameStatus(0, g.status); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	attrs := []any{slog.String("status", g.status)}
	if ready != nil && ready.User != nil {
		attrs = append(attrs, slog.String("user", ready.User.Username), slog.Int("guilds", len(ready.Guilds)))
	}
	g.logger.Info("presence announced", attrs...)
	return nil
}

// onEvent runs on the session's read loop. Blocking here applies backpressure
// to the connection rather than reordering events.
func (g *Gateway) onEvent(_ *discordgo.Session, event interface{}) {
	// Raw envelopes duplicate the typed event dispatched alongside them.
	if _, raw := event.(*discordgo.Event); raw {
		return
	}
	g.transition(event)
	select {
	case g.events <- event:
	case <-g.done:
	}
}

func (g *Gateway) transition(event interface{}) {
	switch event.(type) {
	case *discordgo.Connect:
		g.setState(StateConnecting)
	case *discordgo.Ready:
		g.setState(StateReady)
	case *discordgo.Resumed:
		g.setState(StateStreaming)
	case *discordgo.Disconnect:
		g.setState(StateReconnecting)
	default:
		if g.State() == StateReady {
			g.setState(StateStreaming)
		}
	}
}

func (g *Gateway) setState(next State) {
	g.mu.Lock()
	prev := g.state
	if prev == next || prev == StateTerminated {
		g.mu.Unlock()
		return
	}
	g.state = next
	g.changedAt = time.Now()
	g.mu.Unlock()
	g.logger.Info("gateway state changed", slog.String("from", string(prev)), slog.String("to", string(next)))
}
