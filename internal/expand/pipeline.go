package expand

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/memohai/expander/internal/link"
	"github.com/memohai/expander/internal/metrics"
)

// Outcome is the result of handling one inbound message.
type Outcome string

const (
	OutcomeNoLink   Outcome = "no_link"
	OutcomeNotFound Outcome = "not_found"
	OutcomePosted   Outcome = "posted"
	OutcomeFailed   Outcome = "failed"
)

// Pipeline turns an inbound message containing a message link into a posted summary.
// A Pipeline holds no per-message state and is safe for concurrent use.
type Pipeline struct {
	logger   *slog.Logger
	matcher  *link.Matcher
	resolver *Resolver
	poster   Poster
	opts     SummaryOptions
}

// NewPipeline assembles a pipeline.
func NewPipeline(log *slog.Logger, matcher *link.Matcher, resolver *Resolver, poster Poster, opts SummaryOptions) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		logger:   log.With(slog.String("component", "pipeline")),
		matcher:  matcher,
		resolver: resolver,
		poster:   poster,
		opts:     opts,
	}
}

// Handle runs match, resolve, build and post for one message. A message that
// cannot be found returns OutcomeNotFound with a nil error. Failures after the
// message was found are returned as errors.
func (p *Pipeline) Handle(ctx context.Context, msg InboundMessage) (outcome Outcome, err error) {
	start := time.Now()
	defer func() {
		metrics.Expansions.WithLabelValues(string(outcome)).Inc()
		if outcome != OutcomeNoLink {
			metrics.ExpansionDuration.Observe(time.Since(start).Seconds())
		}
	}()

	target, ok := p.matcher.Match(msg.Content)
	if !ok {
		return OutcomeNoLink, nil
	}
	if target.ChannelID == msg.ChannelID && target.MessageID == msg.ID {
		return OutcomeNoLink, nil
	}

	resolved, err := p.resolver.ResolveMessage(ctx, target.ChannelID, target.MessageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			p.logger.Debug("linked message not found",
				slog.String("message_id", msg.ID),
				slog.String("target_channel_id", target.ChannelID),
				slog.String("target_message_id", target.MessageID),
				slog.Any("error", err),
			)
			return OutcomeNotFound, nil
		}
		return OutcomeFailed, err
	}

	author, err := p.resolver.ResolveAuthor(ctx, resolved.AuthorID)
	if err != nil {
		return OutcomeFailed, err
	}

	summary, err := BuildSummary(resolved, author, p.opts)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("build summary for %s: %w", resolved.ID, err)
	}

	if err := p.poster.PostEmbed(ctx, msg.ChannelID, summary.Embed()); err != nil {
		return OutcomeFailed, err
	}
	p.logger.Info("summary posted",
		slog.String("message_id", msg.ID),
		slog.String("channel_id", msg.ChannelID),
		slog.String("target_message_id", resolved.ID),
	)
	return OutcomePosted, nil
}
