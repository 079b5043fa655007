package expand

import (
	"context"
	"errors"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/expander/internal/remote"
)

type fakeSnapshot struct {
	messages map[string]*discordgo.Message
	channels map[string]*discordgo.Channel
	users    map[string]*discordgo.User
}

func newFakeSnapshot() *fakeSnapshot {
	return &fakeSnapshot{
		messages: map[string]*discordgo.Message{},
		channels: map[string]*discordgo.Channel{},
		users:    map[string]*discordgo.User{},
	}
}

func (s *fakeSnapshot) Message(channelID, messageID string) (*discordgo.Message, bool) {
	m, ok := s.messages[channelID+"/"+messageID]
	return m, ok
}

func (s *fakeSnapshot) Channel(channelID string) (*discordgo.Channel, bool) {
	c, ok := s.channels[channelID]
	return c, ok
}

func (s *fakeSnapshot) User(userID string) (*discordgo.User, bool) {
	u, ok := s.users[userID]
	return u, ok
}

type fakeFetcher struct {
	mu       sync.Mutex
	messages map[string]*discordgo.Message
	channels map[string]*discordgo.Channel
	users    map[string]*discordgo.User
	userErr  error
	calls    []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		messages: map[string]*discordgo.Message{},
		channels: map[string]*discordgo.Channel{},
		users:    map[string]*discordgo.User{},
	}
}

func (f *fakeFetcher) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeFetcher) FetchMessage(ctx context.Context, channelID, messageID string) (*discordgo.Message, error) {
	f.record("message:" + channelID + "/" + messageID)
	if m, ok := f.messages[channelID+"/"+messageID]; ok {
		return m, nil
	}
	return nil, remote.ErrNotFound
}

func (f *fakeFetcher) FetchChannel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	f.record("channel:" + channelID)
	if c, ok := f.channels[channelID]; ok {
		return c, nil
	}
	return nil, remote.ErrNotFound
}

func (f *fakeFetcher) FetchUser(ctx context.Context, userID string) (*discordgo.User, error) {
	f.record("user:" + userID)
	if f.userErr != nil {
		return nil, f.userErr
	}
	if u, ok := f.users[userID]; ok {
		return u, nil
	}
	return nil, remote.ErrNotFound
}

type postedEmbed struct {
	channelID string
	embed     *discordgo.MessageEmbed
}

type fakePoster struct {
	mu     sync.Mutex
	posted []postedEmbed
	err    error
}

func (p *fakePoster) PostEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posted = append(p.posted, postedEmbed{channelID: channelID, embed: embed})
	return nil
}

func (p *fakePoster) Posted() []postedEmbed {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]postedEmbed(nil), p.posted...)
}

var errBoom = errors.New("boom")

const (
	testChannelID = "2"
	testMessageID = "175928847299117063"
	testAuthorID  = "42"
)

func testMessage() *discordgo.Message {
	return &discordgo.Message{
		ID:        testMessageID,
		ChannelID: testChannelID,
		Content:   "**hello** <@1>",
		Author:    &discordgo.User{ID: testAuthorID},
		Attachments: []*discordgo.MessageAttachment{
			{ID: "a1", URL: "https://cdn.discordapp.com/attachments/2/a1/first.png"},
			{ID: "a2", URL: "https://cdn.discordapp.com/attachments/2/a2/second.png"},
		},
	}
}

func testChannel() *discordgo.Channel {
	return &discordgo.Channel{ID: testChannelID, Name: "general"}
}

func testUser() *discordgo.User {
	return &discordgo.User{ID: testAuthorID, Username: "alice", GlobalName: "Alice", Avatar: "abc123"}
}
