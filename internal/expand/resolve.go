package expand

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/expander/internal/metrics"
)

// resolveWithFallback consults the snapshot first and falls back to a single
// remote fetch on a miss.
func resolveWithFallback[T any](ctx context.Context, lookup func() (T, bool), fetch func(context.Context) (T, error)) (T, Source, error) {
	if v, ok := lookup(); ok {
		return v, SourceSnapshot, nil
	}
	v, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, SourceRemote, err
	}
	return v, SourceRemote, nil
}

// Resolver materializes linked messages and their authors.
type Resolver struct {
	logger   *slog.Logger
	snapshot SnapshotReader
	fetcher  Fetcher
}

// NewResolver creates a resolver over a snapshot and a REST fetcher.
func NewResolver(log *slog.Logger, snapshot SnapshotReader, fetcher Fetcher) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		logger:   log.With(slog.String("component", "resolver")),
		snapshot: snapshot,
		fetcher:  fetcher,
	}
}

// ResolveMessage locates a message and the name of its channel. Every failure
// is reported as ErrNotFound.
func (r *Resolver) ResolveMessage(ctx context.Context, channelID, messageID string) (ResolvedMessage, error) {
	msg, source, err := resolveWithFallback(ctx,
		func() (*discordgo.Message, bool) { return r.snapshot.Message(channelID, messageID) },
		func(ctx context.Context) (*discordgo.Message, error) {
			return r.fetcher.FetchMessage(ctx, channelID, messageID)
		},
	)
	metrics.ObserveLookup("message", string(source), err)
	if err != nil {
		return ResolvedMessage{}, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var ch *discordgo.Channel
	if source == SourceSnapshot {
		// A cached message implies a cached channel; anything else is an inconsistent snapshot.
		cached, ok := r.snapshot.Channel(channelID)
		if !ok {
			r.logger.Warn("snapshot has message without channel",
				slog.String("channel_id", channelID),
				slog.String("message_id", messageID),
			)
			metrics.ObserveLookup("channel", string(SourceSnapshot), ErrNotFound)
			return ResolvedMessage{}, fmt.Errorf("%w: channel %s missing from snapshot", ErrNotFound, channelID)
		}
		ch = cached
		metrics.ObserveLookup("channel", string(SourceSnapshot), nil)
	} else {
		var chSource Source
		ch, chSource, err = resolveWithFallback(ctx,
			func() (*discordgo.Channel, bool) { return r.snapshot.Channel(channelID) },
			func(ctx context.Context) (*discordgo.Channel, error) { return r.fetcher.FetchChannel(ctx, channelID) },
		)
		metrics.ObserveLookup("channel", string(chSource), err)
		if err != nil {
			return ResolvedMessage{}, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
	}

	resolved, err := normalizeMessage(msg, ch)
	if err != nil {
		return ResolvedMessage{}, err
	}
	r.logger.Debug("message resolved",
		slog.String("channel_id", channelID),
		slog.String("message_id", messageID),
		slog.String("source", string(source)),
	)
	return resolved, nil
}

// ResolveAuthor loads the author of a resolved message. A failed remote fetch
// is a hard error.
func (r *Resolver) ResolveAuthor(ctx context.Context, userID string) (ResolvedAuthor, error) {
	if strings.TrimSpace(userID) == "" {
		return ResolvedAuthor{}, fmt.Errorf("%w: empty author id", ErrAuthorUnavailable)
	}
	u, source, err := resolveWithFallback(ctx,
		func() (*discordgo.User, bool) { return r.snapshot.User(userID) },
		func(ctx context.Context) (*discordgo.User, error) { return r.fetcher.FetchUser(ctx, userID) },
	)
	metrics.ObserveLookup("user", string(source), err)
	if err != nil {
		return ResolvedAuthor{}, fmt.Errorf("%w: %w", ErrAuthorUnavailable, err)
	}
	return normalizeAuthor(u), nil
}

func normalizeMessage(msg *discordgo.Message, ch *discordgo.Channel) (ResolvedMessage, error) {
	if msg == nil {
		return ResolvedMessage{}, ErrNotFound
	}
	if ch == nil || ch.Name == "" {
		return ResolvedMessage{}, fmt.Errorf("%w: channel of message %s has no name", ErrNotFound, msg.ID)
	}
	out := ResolvedMessage{
		ID:          msg.ID,
		ChannelID:   msg.ChannelID,
		Content:     msg.Content,
		ChannelName: ch.Name,
	}
	if msg.Author != nil {
		out.AuthorID = msg.Author.ID
	}
	if len(msg.Attachments) > 0 && msg.Attachments[0] != nil {
		out.ImageURL = msg.Attachments[0].URL
	}
	if out.ChannelID == "" {
		out.ChannelID = ch.ID
	}
	return out, nil
}

// normalizeAuthor prefers the global display name over the account username.
func normalizeAuthor(u *discordgo.User) ResolvedAuthor {
	name := u.GlobalName
	if name == "" {
		name = u.Username
	}
	return ResolvedAuthor{
		ID:          u.ID,
		DisplayName: name,
		AvatarHash:  u.Avatar,
	}
}

// IsSoft reports whether err ends the pipeline without being worth an error log.
func IsSoft(err error) bool {
	return errors.Is(err, ErrNotFound)
}
