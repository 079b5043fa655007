package expand

import (
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/expander/internal/snowflake"
)

// SummaryOptions tunes BuildSummary.
type SummaryOptions struct {
	// Color is the accent color; zero selects DefaultColor.
	Color int
	// DefaultAvatarFallback uses Discord's default avatar for authors without one.
	// When false (the default) such authors fail the build with ErrMissingAvatar.
	// Whether authors without an avatar should be expandable at all is an open
	// product question, so the fallback stays opt-in.
	DefaultAvatarFallback bool
}

// BuildSummary renders a resolved message and author into a Summary.
// The result depends only on its inputs.
func BuildSummary(msg ResolvedMessage, author ResolvedAuthor, opts SummaryOptions) (Summary, error) {
	icon, err := avatarURL(author, opts.DefaultAvatarFallback)
	if err != nil {
		return Summary{}, err
	}
	ts, err := snowflake.Timestamp(msg.ID)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %w", ErrTimestamp, err)
	}
	color := opts.Color
	if color == 0 {
		color = DefaultColor
	}
	return Summary{
		Description:   msg.Content,
		AuthorName:    author.DisplayName,
		AuthorIconURL: icon,
		Footer:        msg.ChannelName,
		Color:         color,
		Timestamp:     ts,
		ImageURL:      msg.ImageURL,
	}, nil
}

// avatarURL builds https://cdn.discordapp.com/avatars/<id>/<hash>.png.
func avatarURL(author ResolvedAuthor, fallback bool) (string, error) {
	if author.AvatarHash != "" {
		return discordgo.EndpointUserAvatar(author.ID, author.AvatarHash), nil
	}
	if fallback {
		return discordgo.EndpointCDN + "embed/avatars/" + strconv.Itoa(defaultAvatarIndex(author.ID)) + ".png", nil
	}
	return "", fmt.Errorf("%w: user %s", ErrMissingAvatar, author.ID)
}

// defaultAvatarIndex follows Discord's rule for migrated usernames: (id >> 22) % 6.
func defaultAvatarIndex(userID string) int {
	id, err := strconv.ParseUint(userID, 10, 64)
	if err != nil {
		return 0
	}
	return int((id >> 22) % 6)
}
