package link

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultHosts lists the Discord web hosts that serve message permalinks.
var DefaultHosts = []string{
	"discord.com",
	"discordapp.com",
	"ptb.discord.com",
	"canary.discord.com",
	"ptb.discordapp.com",
	"canary.discordapp.com",
}

// Link identifies a message referenced by a permalink.
type Link struct {
	GuildID   string
	ChannelID string
	MessageID string
}

// Matcher extracts message permalinks of the form
// https://<host>/channels/<guild>/<channel>/<message> from message text.
type Matcher struct {
	re *regexp.Regexp
}

// NewMatcher builds a matcher for the given hosts. An empty list selects DefaultHosts.
func NewMatcher(hosts []string) (*Matcher, error) {
	if len(hosts) == 0 {
		hosts = DefaultHosts
	}
	alternatives := make([]string, 0, len(hosts))
	for _, host := range hosts {
		host = strings.ToLower(strings.TrimSpace(host))
		if host == "" {
			continue
		}
		alternatives = append(alternatives, regexp.QuoteMeta(host))
	}
	if len(alternatives) == 0 {
		return nil, fmt.Errorf("link matcher: no usable hosts")
	}
	pattern := `https://(?:` + strings.Join(alternatives, "|") + `)/channels/(\d+)/(\d+)/(\d+)`
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("link matcher: compile pattern: %w", err)
	}
	return &Matcher{re: re}, nil
}

// MustNewMatcher is NewMatcher that panics on error.
func MustNewMatcher(hosts []string) *Matcher {
	m, err := NewMatcher(hosts)
	if err != nil {
		panic(err)
	}
	return m
}

// Match returns the first permalink found in text. Later links are ignored.
// Numeric groups that do not fit in a uint64 yield no match.
func (m *Matcher) Match(text string) (Link, bool) {
	if m == nil || text == "" {
		return Link{}, false
	}
	groups := m.re.FindStringSubmatch(text)
	if len(groups) != 4 {
		return Link{}, false
	}
	guildID, ok := parseID(groups[1])
	if !ok {
		return Link{}, false
	}
	channelID, ok := parseID(groups[2])
	if !ok {
		return Link{}, false
	}
	messageID, ok := parseID(groups[3])
	if !ok {
		return Link{}, false
	}
	return Link{
		GuildID:   guildID,
		ChannelID: channelID,
		MessageID: messageID,
	}, true
}

// parseID normalizes a decimal snowflake, dropping leading zeros.
func parseID(raw string) (string, bool) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return "", false
	}
	return strconv.FormatUint(v, 10), true
}
