package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/expander/internal/expand"
)

var errStreamClosed = errors.New("stream closed")

// sliceSource replays events and then reports a fatal error.
type sliceSource struct {
	mu     sync.Mutex
	events []any
}

func (s *sliceSource) Next(ctx context.Context) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.events) == 0 {
		return nil, errStreamClosed
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

type recordingSnapshot struct {
	mu      sync.Mutex
	applied map[string]bool
	order   []string
}

func newRecordingSnapshot() *recordingSnapshot {
	return &recordingSnapshot{applied: map[string]bool{}}
}

func (s *recordingSnapshot) Apply(event any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mc, ok := event.(*discordgo.MessageCreate); ok && mc.Message != nil {
		s.applied[mc.ID] = true
		s.order = append(s.order, mc.ID)
	}
	return nil
}

func (s *recordingSnapshot) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied[id]
}

type recordingHandler struct {
	mu       sync.Mutex
	snapshot *recordingSnapshot
	handled  []expand.InboundMessage
	sawApply map[string]bool
	block    chan struct{}
	running  atomic.Int64
	peak     atomic.Int64
	err      error
}

func (h *recordingHandler) Handle(ctx context.Context, msg expand.InboundMessage) (expand.Outcome, error) {
	n := h.running.Add(1)
	defer h.running.Add(-1)
	for {
		peak := h.peak.Load()
		if n <= peak || h.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	h.handled = append(h.handled, msg)
	if h.snapshot != nil {
		if h.sawApply == nil {
			h.sawApply = map[string]bool{}
		}
		h.sawApply[msg.ID] = h.snapshot.has(msg.ID)
	}
	h.mu.Unlock()
	if h.err != nil {
		return expand.OutcomeFailed, h.err
	}
	return expand.OutcomePosted, nil
}

func (h *recordingHandler) Handled() []expand.InboundMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]expand.InboundMessage(nil), h.handled...)
}

func messageCreate(id string, bot bool) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        id,
		ChannelID: "c-" + id,
		GuildID:   "g1",
		Content:   "https://discord.com/channels/1/2/3 from " + id,
		Author:    &discordgo.User{ID: "u-" + id, Bot: bot},
	}}
}

func TestDispatcher_AppliesSnapshotBeforeHandling(t *testing.T) {
	t.Parallel()

	snap := newRecordingSnapshot()
	handler := &recordingHandler{snapshot: snap}
	d := NewDispatcher(nil, snap, handler, Options{})

	source := &sliceSource{events: []any{messageCreate("m1", false), messageCreate("m2", false)}}
	err := d.Run(context.Background(), source)
	assert.ErrorIs(t, err, errStreamClosed)
	require.NoError(t, d.Wait(context.Background()))

	assert.Equal(t, []string{"m1", "m2"}, snap.order)
	assert.Equal(t, map[string]bool{"m1": true, "m2": true}, handler.sawApply)
}

func TestDispatcher_SkipsBotAuthors(t *testing.T) {
	t.Parallel()

	snap := newRecordingSnapshot()
	handler := &recordingHandler{}
	d := NewDispatcher(nil, snap, handler, Options{})

	source := &sliceSource{events: []any{
		messageCreate("bot", true),
		&discordgo.MessageCreate{Message: &discordgo.Message{ID: "no-author"}},
		&discordgo.MessageCreate{},
		messageCreate("human", false),
	}}
	_ = d.Run(context.Background(), source)
	require.NoError(t, d.Wait(context.Background()))

	handled := handler.Handled()
	require.Len(t, handled, 1)
	assert.Equal(t, "human", handled[0].ID)
	// Bot messages still reach the snapshot.
	assert.True(t, snap.has("bot"))
}

func TestDispatcher_ConvertsInboundMessage(t *testing.T) {
	t.Parallel()

	handler := &recordingHandler{}
	d := NewDispatcher(nil, nil, handler, Options{})
	_ = d.Run(context.Background(), &sliceSource{events: []any{messageCreate("m1", false)}})
	require.NoError(t, d.Wait(context.Background()))

	require.Len(t, handler.Handled(), 1)
	assert.Equal(t, expand.InboundMessage{
		ID:        "m1",
		ChannelID: "c-m1",
		GuildID:   "g1",
		AuthorID:  "u-m1",
		Content:   "https://discord.com/channels/1/2/3 from m1",
	}, handler.Handled()[0])
}

func TestDispatcher_ReadyHookRunsEveryReady(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	d := NewDispatcher(nil, newRecordingSnapshot(), &recordingHandler{}, Options{
		OnReady: func(ctx context.Context, ready *discordgo.Ready) error {
			calls.Add(1)
			return errors.New("presence failed")
		},
	})
	source := &sliceSource{events: []any{&discordgo.Ready{}, &discordgo.Resumed{}, &discordgo.Ready{}, &discordgo.TypingStart{}}}
	err := d.Run(context.Background(), source)
	assert.ErrorIs(t, err, errStreamClosed)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDispatcher_HandlerErrorsAreContained(t *testing.T) {
	t.Parallel()

	handler := &recordingHandler{err: errors.New("post failed")}
	d := NewDispatcher(nil, nil, handler, Options{})

	events := make([]any, 0, 5)
	for i := 0; i < 5; i++ {
		events = append(events, messageCreate(fmt.Sprintf("m%d", i), false))
	}
	err := d.Run(context.Background(), &sliceSource{events: events})
	assert.ErrorIs(t, err, errStreamClosed)
	require.NoError(t, d.Wait(context.Background()))
	assert.Len(t, handler.Handled(), 5)
}

func TestDispatcher_UnboundedConcurrencyByDefault(t *testing.T) {
	t.Parallel()

	const n = 16
	handler := &recordingHandler{block: make(chan struct{})}
	d := NewDispatcher(nil, nil, handler, Options{})

	events := make([]any, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, messageCreate(fmt.Sprintf("m%d", i), false))
	}
	_ = d.Run(context.Background(), &sliceSource{events: events})

	require.Eventually(t, func() bool { return handler.running.Load() == n }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(n), d.InFlight())
	close(handler.block)
	require.NoError(t, d.Wait(context.Background()))

	handled := handler.Handled()
	require.Len(t, handled, n)
	seen := map[string]bool{}
	for _, msg := range handled {
		assert.Equal(t, "c-"+msg.ID, msg.ChannelID)
		assert.Equal(t, "u-"+msg.ID, msg.AuthorID)
		seen[msg.ID] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, int64(0), d.InFlight())
}

func TestDispatcher_MaxConcurrencyBoundsHandlers(t *testing.T) {
	t.Parallel()

	const n = 10
	handler := &recordingHandler{block: make(chan struct{})}
	d := NewDispatcher(nil, nil, handler, Options{MaxConcurrency: 3})

	events := make([]any, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, messageCreate(fmt.Sprintf("m%d", i), false))
	}
	// The loop must not block on the cap.
	err := d.Run(context.Background(), &sliceSource{events: events})
	assert.ErrorIs(t, err, errStreamClosed)

	require.Eventually(t, func() bool { return handler.running.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	close(handler.block)
	require.NoError(t, d.Wait(context.Background()))

	assert.Len(t, handler.Handled(), n)
	assert.LessOrEqual(t, handler.peak.Load(), int64(3))
}

func TestDispatcher_UserRateLimit(t *testing.T) {
	t.Parallel()

	handler := &recordingHandler{}
	d := NewDispatcher(nil, nil, handler, Options{UserRatePerMinute: 2})

	events := make([]any, 0, 5)
	for i := 0; i < 5; i++ {
		mc := messageCreate(fmt.Sprintf("m%d", i), false)
		mc.Author.ID = "same-user"
		events = append(events, mc)
	}
	events = append(events, messageCreate("other", false))
	_ = d.Run(context.Background(), &sliceSource{events: events})
	require.NoError(t, d.Wait(context.Background()))

	assert.Len(t, handler.Handled(), 3)
}

func TestDispatcher_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewDispatcher(nil, nil, &recordingHandler{}, Options{})
	err := d.Run(ctx, &sliceSource{events: []any{messageCreate("m1", false)}})
	assert.NoError(t, err)
}

func TestDispatcher_RequiresSource(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil, nil, &recordingHandler{}, Options{})
	assert.Error(t, d.Run(context.Background(), nil))
}

func TestDispatcher_WaitHonoursContext(t *testing.T) {
	t.Parallel()

	handler := &recordingHandler{block: make(chan struct{})}
	defer close(handler.block)
	d := NewDispatcher(nil, nil, handler, Options{})
	_ = d.Run(context.Background(), &sliceSource{events: []any{messageCreate("m1", false)}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Wait(ctx), context.DeadlineExceeded)
}
