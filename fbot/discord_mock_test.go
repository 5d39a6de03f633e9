package fbot

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// sentMessage records one outbound message from fakeSessionHandler.
type sentMessage struct {
	ChannelID string
	MessageID string
	Content   string
	Embed     *discordgo.MessageEmbed
	ReplyTo   string
	Edited    bool
}

// fakeSessionHandler is an in-memory DiscordSessionHandler that records
// everything sent through it.
type fakeSessionHandler struct {
	mu        sync.Mutex
	nextID    int
	sent      []sentMessage
	responses []*discordgo.InteractionResponse

	// failAfter makes sends fail once this many messages were sent.
	// Zero means never fail.
	failAfter int

	typingChannels []string
	commands       []*discordgo.ApplicationCommand
	customStatus   string
}

var _ DiscordSessionHandler = (*fakeSessionHandler)(nil)

func newFakeSessionHandler() *fakeSessionHandler {
	return &fakeSessionHandler{}
}

func (f *fakeSessionHandler) record(msg sentMessage) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter > 0 && len(f.sent) >= f.failAfter {
		return nil, fmt.Errorf("send quota reached")
	}
	f.nextID++
	msg.MessageID = fmt.Sprintf("msg-%d", f.nextID)
	f.sent = append(f.sent, msg)
	return &discordgo.Message{
		ID:        msg.MessageID,
		ChannelID: msg.ChannelID,
	}, nil
}

func (f *fakeSessionHandler) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeSessionHandler) Open() error  { return nil }
func (f *fakeSessionHandler) Close() error { return nil }

func (f *fakeSessionHandler) AddHandler(any) func() {
	return func() {}
}

func (f *fakeSessionHandler) SetLogLevel(slog.Level) error { return nil }

func (f *fakeSessionHandler) ChannelTyping(
	channelID string,
	_ ...discordgo.RequestOption,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typingChannels = append(f.typingChannels, channelID)
	return nil
}

func (f *fakeSessionHandler) ChannelMessageSend(
	channelID string,
	content string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return f.record(sentMessage{ChannelID: channelID, Content: content})
}

func (f *fakeSessionHandler) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg := sentMessage{ChannelID: channelID, Content: content}
	if reference != nil {
		msg.ReplyTo = reference.MessageID
	}
	return f.record(msg)
}

func (f *fakeSessionHandler) ChannelMessageSendEmbed(
	channelID string,
	embed *discordgo.MessageEmbed,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return f.record(sentMessage{ChannelID: channelID, Embed: embed})
}

func (f *fakeSessionHandler) ChannelMessageSendEmbedReply(
	channelID string,
	embed *discordgo.MessageEmbed,
	reference *discordgo.MessageReference,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg := sentMessage{ChannelID: channelID, Embed: embed}
	if reference != nil {
		msg.ReplyTo = reference.MessageID
	}
	return f.record(msg)
}

func (f *fakeSessionHandler) ChannelMessageEditEmbed(
	channelID string,
	messageID string,
	embed *discordgo.MessageEmbed,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(
		f.sent, sentMessage{
			ChannelID: channelID,
			MessageID: messageID,
			Embed:     embed,
			Edited:    true,
		},
	)
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

func (f *fakeSessionHandler) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeSessionHandler) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = commands
	return commands, nil
}

func (f *fakeSessionHandler) UpdateCustomStatus(status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customStatus = status
	return nil
}
