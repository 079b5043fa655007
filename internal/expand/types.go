package expand

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/expander/internal/prune"
)

// DefaultColor is the accent color of posted summaries.
const DefaultColor = 0x02CAF7

var (
	// ErrNotFound means the linked message (or its channel) could not be located.
	// It covers deleted messages, missing access and transient failures alike and
	// leads to no post.
	ErrNotFound = errors.New("linked message not found")
	// ErrAuthorUnavailable means the author of a located message could not be loaded.
	ErrAuthorUnavailable = errors.New("author unavailable")
	// ErrMissingAvatar means the author has no avatar and no fallback is allowed.
	ErrMissingAvatar = errors.New("author has no avatar")
	// ErrTimestamp means the message id could not be decoded into a creation time.
	ErrTimestamp = errors.New("message timestamp undecodable")
)

// Source records where a lookup was satisfied.
type Source string

const (
	SourceSnapshot Source = "snapshot"
	SourceRemote   Source = "remote"
)

// InboundMessage is a message-create event reduced to what the pipeline reads.
type InboundMessage struct {
	ID          string
	ChannelID   string
	GuildID     string
	AuthorID    string
	AuthorIsBot bool
	Content     string
}

// ResolvedMessage is a linked message normalized from either the snapshot or REST.
type ResolvedMessage struct {
	ID          string
	ChannelID   string
	Content     string
	AuthorID    string
	ChannelName string
	// ImageURL is the first attachment's URL, empty when there are no attachments.
	ImageURL string
}

// HasImage reports whether the source message had at least one attachment.
func (m ResolvedMessage) HasImage() bool {
	return m.ImageURL != ""
}

// ResolvedAuthor is the author of a linked message.
type ResolvedAuthor struct {
	ID          string
	DisplayName string
	AvatarHash  string
}

// Summary is the embed posted in place of a link. Build it with BuildSummary.
type Summary struct {
	Description   string
	AuthorName    string
	AuthorIconURL string
	Footer        string
	Color         int
	Timestamp     time.Time
	ImageURL      string
}

// Embed renders the summary as a new discordgo embed. Text fields longer than
// Discord accepts are cut with an ellipsis.
func (s Summary) Embed() *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Type:        discordgo.EmbedTypeRich,
		Description: prune.Runes(s.Description, prune.EmbedDescriptionLimit, ""),
		Color:       s.Color,
		Author: &discordgo.MessageEmbedAuthor{
			Name:    prune.Runes(s.AuthorName, prune.EmbedAuthorNameLimit, ""),
			IconURL: s.AuthorIconURL,
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: prune.Runes(s.Footer, prune.EmbedFooterTextLimit, ""),
		},
	}
	if !s.Timestamp.IsZero() {
		embed.Timestamp = s.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	if s.ImageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: s.ImageURL}
	}
	return embed
}

// SnapshotReader is the read side of the gateway snapshot.
type SnapshotReader interface {
	Message(channelID, messageID string) (*discordgo.Message, bool)
	Channel(channelID string) (*discordgo.Channel, bool)
	User(userID string) (*discordgo.User, bool)
}

// Fetcher loads objects over REST when the snapshot misses.
type Fetcher interface {
	FetchMessage(ctx context.Context, channelID, messageID string) (*discordgo.Message, error)
	FetchChannel(ctx context.Context, channelID string) (*discordgo.Channel, error)
	FetchUser(ctx context.Context, userID string) (*discordgo.User, error)
}

// Poster delivers embeds.
type Poster interface {
	PostEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error
}
