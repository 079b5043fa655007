package snapshot

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// DefaultMessageCacheSize is the number of recent messages kept per channel.
const DefaultMessageCacheSize = 100

// Store is the locally maintained view of gateway objects. Lookups return copies
// and are safe to call concurrently with Apply. Apply is called by a single writer.
type Store interface {
	Message(channelID, messageID string) (*discordgo.Message, bool)
	Channel(channelID string) (*discordgo.Channel, bool)
	User(userID string) (*discordgo.User, bool)
	Apply(event any) error
}

// State is a Store backed by discordgo's in-memory state plus a user index,
// which discordgo does not keep on its own.
type State struct {
	state *discordgo.State
	// discordgo.State.OnInterface skips everything but Ready unless the session
	// it is handed has state enabled. The gateway session itself runs stateless.
	session *discordgo.Session

	usersMu sync.RWMutex
	users   map[string]discordgo.User
}

// NewState creates an empty snapshot keeping up to messageCacheSize messages per channel.
func NewState(messageCacheSize int) *State {
	if messageCacheSize <= 0 {
		messageCacheSize = DefaultMessageCacheSize
	}
	state := discordgo.NewState()
	state.MaxMessageCount = messageCacheSize
	state.TrackVoice = false
	state.TrackPresences = false
	state.TrackEmojis = false
	return &State{
		state:   state,
		session: &discordgo.Session{StateEnabled: true},
		users:   make(map[string]discordgo.User),
	}
}

// Apply folds one gateway event into the snapshot.
func (s *State) Apply(event any) error {
	s.indexUsers(event)
	return s.state.OnInterface(s.session, event)
}

// Message returns a copy of a cached message.
func (s *State) Message(channelID, messageID string) (*discordgo.Message, bool) {
	if channelID == "" || messageID == "" {
		return nil, false
	}
	msg, err := s.state.Message(channelID, messageID)
	if err != nil || msg == nil {
		return nil, false
	}
	s.state.RLock()
	defer s.state.RUnlock()
	out := *msg
	if msg.Author != nil {
		author := *msg.Author
		out.Author = &author
	}
	out.Attachments = copyAttachments(msg.Attachments)
	out.Embeds = nil
	out.Mentions = nil
	out.MessageReference = nil
	out.ReferencedMessage = nil
	return &out, true
}

// Channel returns a copy of a cached channel, thread or private channel.
func (s *State) Channel(channelID string) (*discordgo.Channel, bool) {
	if channelID == "" {
		return nil, false
	}
	ch, err := s.state.Channel(channelID)
	if err != nil || ch == nil {
		return nil, false
	}
	s.state.RLock()
	defer s.state.RUnlock()
	out := discordgo.Channel{
		ID:       ch.ID,
		GuildID:  ch.GuildID,
		Name:     ch.Name,
		Type:     ch.Type,
		ParentID: ch.ParentID,
	}
	return &out, true
}

// User returns a copy of a user observed on the gateway.
func (s *State) User(userID string) (*discordgo.User, bool) {
	if userID == "" {
		return nil, false
	}
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, false
	}
	return &u, true
}

func (s *State) indexUsers(event any) {
	switch e := event.(type) {
	case *discordgo.Ready:
		s.putUser(e.User)
		for _, g := range e.Guilds {
			s.putMembers(g)
		}
	case *discordgo.GuildCreate:
		s.putMembers(e.Guild)
	case *discordgo.GuildMemberAdd:
		if e.Member != nil {
			s.putUser(e.Member.User)
		}
	case *discordgo.GuildMemberUpdate:
		if e.Member != nil {
			s.putUser(e.Member.User)
		}
	case *discordgo.GuildMembersChunk:
		for _, m := range e.Members {
			if m != nil {
				s.putUser(m.User)
			}
		}
	case *discordgo.UserUpdate:
		s.putUser(e.User)
	case *discordgo.MessageCreate:
		s.putMessageUsers(e.Message)
	case *discordgo.MessageUpdate:
		s.putMessageUsers(e.Message)
	}
}

func (s *State) putMembers(g *discordgo.Guild) {
	if g == nil {
		return
	}
	for _, m := range g.Members {
		if m != nil {
			s.putUser(m.User)
		}
	}
}

func (s *State) putMessageUsers(m *discordgo.Message) {
	if m == nil {
		return
	}
	// Webhook authors carry a synthetic user that must not shadow a real one.
	if m.WebhookID == "" {
		s.putUser(m.Author)
	}
	for _, u := range m.Mentions {
		s.putUser(u)
	}
}

func (s *State) putUser(u *discordgo.User) {
	if u == nil || u.ID == "" {
		return
	}
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	s.users[u.ID] = *u
}

func copyAttachments(in []*discordgo.MessageAttachment) []*discordgo.MessageAttachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]*discordgo.MessageAttachment, 0, len(in))
	for _, att := range in {
		if att == nil {
			continue
		}
		c := *att
		out = append(out, &c)
	}
	return out
}
