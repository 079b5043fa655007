package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

var (
	// ErrNotFound marks a lookup of an object that does not exist (or was deleted).
	ErrNotFound = errors.New("remote: not found")
	// ErrForbidden marks a lookup rejected for lack of access.
	ErrForbidden = errors.New("remote: forbidden")
)

// Session is the subset of *discordgo.Session used for REST lookups and posting.
type Session interface {
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Resolver performs single-attempt REST calls. Retries and rate limiting are
// left to discordgo's request layer.
type Resolver struct {
	logger  *slog.Logger
	session Session
}

// NewResolver wraps a discordgo session.
func NewResolver(log *slog.Logger, session Session) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		logger:  log.With(slog.String("component", "remote")),
		session: session,
	}
}

// FetchMessage loads a message by channel and id.
func (r *Resolver) FetchMessage(ctx context.Context, channelID, messageID string) (*discordgo.Message, error) {
	if r.session == nil {
		return nil, fmt.Errorf("remote session not configured")
	}
	msg, err := r.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch message %s/%s: %w", channelID, messageID, classify(err))
	}
	if msg == nil {
		return nil, fmt.Errorf("fetch message %s/%s: %w", channelID, messageID, ErrNotFound)
	}
	return msg, nil
}

// FetchChannel loads a channel by id.
func (r *Resolver) FetchChannel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	if r.session == nil {
		return nil, fmt.Errorf("remote session not configured")
	}
	ch, err := r.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch channel %s: %w", channelID, classify(err))
	}
	if ch == nil {
		return nil, fmt.Errorf("fetch channel %s: %w", channelID, ErrNotFound)
	}
	return ch, nil
}

// FetchUser loads a user by id.
func (r *Resolver) FetchUser(ctx context.Context, userID string) (*discordgo.User, error) {
	if r.session == nil {
		return nil, fmt.Errorf("remote session not configured")
	}
	u, err := r.session.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch user %s: %w", userID, classify(err))
	}
	if u == nil {
		return nil, fmt.Errorf("fetch user %s: %w", userID, ErrNotFound)
	}
	return u, nil
}

// PostEmbed sends one embed to a channel.
func (r *Resolver) PostEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error {
	if r.session == nil {
		return fmt.Errorf("remote session not configured")
	}
	if embed == nil {
		return fmt.Errorf("embed is required")
	}
	msg, err := r.session.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("post embed to %s: %w", channelID, classify(err))
	}
	if msg != nil {
		r.logger.Debug("embed posted", slog.String("channel_id", channelID), slog.String("message_id", msg.ID))
	}
	return nil
}

// classify tags REST errors with ErrNotFound or ErrForbidden where the
// response makes the distinction unambiguous.
func classify(err error) error {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return err
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownUser:
			return errors.Join(ErrNotFound, err)
		case discordgo.ErrCodeMissingAccess, discordgo.ErrCodeMissingPermissions:
			return errors.Join(ErrForbidden, err)
		}
	}
	if restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusNotFound:
			return errors.Join(ErrNotFound, err)
		case http.StatusForbidden:
			return errors.Join(ErrForbidden, err)
		}
	}
	return err
}

// IsNotFound reports whether err marks a missing remote object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
