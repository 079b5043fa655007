package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/memohai/expander/internal/expand"
	"github.com/memohai/expander/internal/metrics"
)

// maxTrackedUsers caps the per-user limiter map.
const maxTrackedUsers = 4096

// EventSource yields gateway events in arrival order. A returned error is fatal.
type EventSource interface {
	Next(ctx context.Context) (any, error)
}

// Snapshot is the write side of the gateway snapshot.
type Snapshot interface {
	Apply(event any) error
}

// Handler processes one inbound message.
type Handler interface {
	Handle(ctx context.Context, msg expand.InboundMessage) (expand.Outcome, error)
}

// ReadyFunc runs once per Ready event, including after reconnects.
type ReadyFunc func(ctx context.Context, ready *discordgo.Ready) error

// Options tunes the dispatcher.
type Options struct {
	// MaxConcurrency bounds running handlers. Zero or less means unbounded.
	MaxConcurrency int
	// UserRatePerMinute limits how often one author can trigger the pipeline.
	// Zero disables the limiter.
	UserRatePerMinute int
	// OnReady announces presence after (re)connects.
	OnReady ReadyFunc
}

// Dispatcher consumes gateway events one at a time. Each event is applied to the
// snapshot before anything else sees it; message-create events are then handed
// to independent handler goroutines.
type Dispatcher struct {
	logger   *slog.Logger
	snapshot Snapshot
	handler  Handler
	opts     Options

	sem *semaphore.Weighted

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(log *slog.Logger, snapshot Snapshot, handler Handler, opts Options) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		logger:   log.With(slog.String("component", "dispatcher")),
		snapshot: snapshot,
		handler:  handler,
		opts:     opts,
		limiters: map[string]*rate.Limiter{},
	}
	if opts.MaxConcurrency > 0 {
		d.sem = semaphore.NewWeighted(int64(opts.MaxConcurrency))
	}
	return d
}

// Run consumes events until the source fails or ctx is cancelled. Handlers
// already started keep running; use Wait to drain them.
func (d *Dispatcher) Run(ctx context.Context, source EventSource) error {
	if source == nil {
		return fmt.Errorf("event source is required")
	}
	d.logger.Info("dispatcher start",
		slog.Int("max_concurrency", d.opts.MaxConcurrency),
		slog.Int("user_rate_per_minute", d.opts.UserRatePerMinute),
	)
	for {
		event, err := source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				d.logger.Info("dispatcher stop")
				return nil
			}
			d.logger.Error("event stream terminated", slog.Any("error", err))
			return err
		}
		d.dispatch(ctx, event)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, event any) {
	if event == nil {
		return
	}
	metrics.GatewayEvents.WithLabelValues(eventType(event)).Inc()

	// Must complete before any handler for this event starts.
	if d.snapshot != nil {
		if err := d.snapshot.Apply(event); err != nil {
			metrics.SnapshotApplyErrors.Inc()
			d.logger.Debug("snapshot apply failed", slog.String("event", eventType(event)), slog.Any("error", err))
		}
	}

	switch e := event.(type) {
	case *discordgo.MessageCreate:
		if e.Message == nil || e.Author == nil || e.Author.Bot {
			return
		}
		msg := inboundFromEvent(e)
		if !d.allow(msg.AuthorID) {
			metrics.Throttled.Inc()
			d.logger.Debug("trigger throttled", slog.String("user_id", msg.AuthorID), slog.String("message_id", msg.ID))
			return
		}
		d.spawn(ctx, msg)
	case *discordgo.Ready:
		if d.opts.OnReady == nil {
			return
		}
		if err := d.opts.OnReady(ctx, e); err != nil {
			d.logger.Warn("ready hook failed", slog.Any("error", err))
		}
	}
}

func (d *Dispatcher) spawn(ctx context.Context, msg expand.InboundMessage) {
	// Handlers run to completion even if the consuming loop is cancelled.
	taskCtx := context.WithoutCancel(ctx)
	taskID := uuid.NewString()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if d.sem != nil {
			if err := d.sem.Acquire(taskCtx, 1); err != nil {
				return
			}
			defer d.sem.Release(1)
		}
		d.inFlight.Add(1)
		metrics.InFlight.Inc()
		defer func() {
			d.inFlight.Add(-1)
			metrics.InFlight.Dec()
		}()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("handler panic",
					slog.String("task_id", taskID),
					slog.String("message_id", msg.ID),
					slog.Any("panic", r),
				)
			}
		}()

		outcome, err := d.handler.Handle(taskCtx, msg)
		if err != nil {
			d.logger.Error("handle message failed",
				slog.String("task_id", taskID),
				slog.String("message_id", msg.ID),
				slog.String("channel_id", msg.ChannelID),
				slog.String("outcome", string(outcome)),
				slog.Any("error", err),
			)
			return
		}
		if outcome != expand.OutcomeNoLink {
			d.logger.Debug("message handled",
				slog.String("task_id", taskID),
				slog.String("message_id", msg.ID),
				slog.String("outcome", string(outcome)),
			)
		}
	}()
}

func (d *Dispatcher) allow(userID string) bool {
	if d.opts.UserRatePerMinute <= 0 {
		return true
	}
	d.limitersMu.Lock()
	defer d.limitersMu.Unlock()
	l, ok := d.limiters[userID]
	if !ok {
		if len(d.limiters) >= maxTrackedUsers {
			d.pruneLimitersLocked()
		}
		every := rate.Every(time.Minute / time.Duration(d.opts.UserRatePerMinute))
		l = rate.NewLimiter(every, d.opts.UserRatePerMinute)
		d.limiters[userID] = l
	}
	return l.Allow()
}

// pruneLimitersLocked drops limiters that have refilled completely, then
// evicts arbitrary entries if the map is still at the cap.
func (d *Dispatcher) pruneLimitersLocked() {
	burst := float64(d.opts.UserRatePerMinute)
	for k, l := range d.limiters {
		if l.Tokens() >= burst {
			delete(d.limiters, k)
		}
	}
	for k := range d.limiters {
		if len(d.limiters) < maxTrackedUsers {
			break
		}
		delete(d.limiters, k)
	}
}

// Wait blocks until all started handlers return or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight reports the number of handlers currently running.
func (d *Dispatcher) InFlight() int64 {
	return d.inFlight.Load()
}

func inboundFromEvent(e *discordgo.MessageCreate) expand.InboundMessage {
	msg := expand.InboundMessage{
		ID:        e.ID,
		ChannelID: e.ChannelID,
		GuildID:   e.GuildID,
		Content:   e.Content,
	}
	if e.Author != nil {
		msg.AuthorID = e.Author.ID
		msg.AuthorIsBot = e.Author.Bot
	}
	return msg
}

func eventType(event any) string {
	switch event.(type) {
	case *discordgo.Ready:
		return "ready"
	case *discordgo.Resumed:
		return "resumed"
	case *discordgo.MessageCreate:
		return "message_create"
	case *discordgo.MessageUpdate:
		return "message_update"
	case *discordgo.MessageDelete:
		return "message_delete"
	case *discordgo.GuildCreate:
		return "guild_create"
	case *discordgo.ChannelCreate, *discordgo.ChannelUpdate, *discordgo.ChannelDelete:
		return "channel"
	case *discordgo.Connect, *discordgo.Disconnect:
		return "connection"
	default:
		return "other"
	}
}
