package fbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	sessionRoleUser      = "user"
	sessionRoleAssistant = "assistant"
)

// handlerInteractionCreate dispatches slash command interactions.
func (b *Bot) handlerInteractionCreate() func(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	return func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		switch i.ApplicationCommandData().Name {
		case DiscordSlashCommandAIChat:
			b.handleAIChatCommand(i)
		case DiscordSlashCommandEndChat:
			b.handleEndChatCommand(i)
		}
	}
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// respondEphemeral sends a private text response to an interaction.
func (b *Bot) respondEphemeral(i *discordgo.InteractionCreate, content string) {
	err := b.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
	if err != nil {
		b.logger.Error("error responding to interaction", tint.Err(err))
	}
}

// handleAIChatCommand starts a session in the interaction's channel. An
// initial prompt or file attachment, when given, becomes the first user
// turn and gets an immediate response.
func (b *Bot) handleAIChatCommand(i *discordgo.InteractionCreate) {
	user := interactionUser(i)
	if user == nil {
		return
	}
	if !b.aiEnabled.Load() {
		b.respondEphemeral(i, "AI chat is currently disabled.")
		return
	}

	data := i.ApplicationCommandData()
	var command string
	var initialPrompt string
	var attachment *discordgo.MessageAttachment
	for _, option := range data.Options {
		switch option.Name {
		case aiChatModelOption:
			command = option.StringValue()
		case aiChatPromptOption:
			initialPrompt = strings.TrimSpace(option.StringValue())
		case aiChatFileOption:
			if id, isString := option.Value.(string); isString && data.Resolved != nil {
				attachment = data.Resolved.Attachments[id]
			}
		}
	}
	route, ok := b.commands[command]
	if !ok {
		b.respondEphemeral(i, "Unknown model selection.")
		return
	}

	sess, err := b.sessions.Start(i.ChannelID, user.ID, route.Command, route.ModelID)
	if errors.Is(err, ErrSessionActive) {
		b.respondEphemeral(
			i,
			"There is already an active AI chat session in this channel.",
		)
		return
	}
	if err != nil {
		b.logger.Error("error starting session", tint.Err(err))
		b.respondEphemeral(i, "❌ Failed to start AI chat session")
		return
	}

	log := b.logger.With(
		loggerNameKey, "session_chat",
		"channel_id", i.ChannelID,
		"user_id", user.ID,
	)
	ctx, cancel := context.WithTimeout(b.runCtx, b.config.Chat.RequestTimeout)
	defer cancel()

	var fileNote string
	var fileContent string
	if attachment != nil {
		result := b.extractor.Extract(WithLogger(ctx, log), attachment)
		if result.OK {
			fileContent = result.Text
			fileNote = "\nFile `" + attachment.Filename + "` read successfully."
		} else {
			log.Warn(
				"initial attachment extraction failed",
				"attachment", result.Name,
				"reason", result.Reason,
			)
			fileNote = "\n⚠️ Failed to read file `" + attachment.Filename +
				"`. Chat started without file."
		}
	}

	firstPrompt := initialPrompt
	if fileContent != "" {
		firstPrompt += "\n\n--- File Content: " + attachment.Filename +
			" ---\n" + fileContent + "\n--- End of File ---"
	}
	if firstPrompt != "" {
		sess, err = b.sessions.AppendTurn(
			i.ChannelID,
			user.ID,
			sessionRoleUser,
			firstPrompt,
		)
		if err != nil {
			log.Error("error recording initial prompt", tint.Err(err))
			firstPrompt = ""
		}
	}

	welcome := &discordgo.MessageEmbed{
		Title: "🤖 AI Chat Session Started",
		Description: "You can now chat with " + route.DisplayName +
			" in this channel!\nJust send your messages normally and the AI " +
			"will respond." + fileNote,
		Color: colorAnswer,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "📝 Commands",
				Value: "`/endchat` - End the AI chat session\n" +
					"Just type your message to continue chatting!",
			},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Model: " + route.DisplayName,
		},
	}
	err = b.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{welcome},
			},
		},
	)
	if err != nil {
		b.logger.Error("error sending session welcome", tint.Err(err))
	}

	if firstPrompt != "" {
		b.deliverSessionOpening(ctx, log, route, sess, i.ChannelID)
	}
}

// deliverSessionOpening generates and posts the first response for a
// session started with an initial prompt or file.
func (b *Bot) deliverSessionOpening(
	ctx context.Context,
	log *slog.Logger,
	route modelRoute,
	sess *Session,
	channelID string,
) {
	provider, ok := b.providers[route.ProviderName]
	if !ok {
		log.Error(
			"session references unknown provider",
			"provider", route.ProviderName,
		)
		return
	}
	answer, err := provider.Generate(ctx, transcriptPrompt(sess), route.ModelID)
	if err != nil {
		log.Error("session generation failed", tint.Err(err))
		_ = b.discord.channelMessageSend(
			channelID,
			"❌ Failed to generate a response: "+truncate(err.Error(), 500),
		)
		return
	}
	if route.PostProcess != nil {
		answer = route.PostProcess(answer)
	}
	if _, err = b.sessions.AppendTurn(
		channelID,
		sess.OwnerID,
		sessionRoleAssistant,
		answer,
	); err != nil {
		log.Warn("error appending assistant turn", tint.Err(err))
	}
	b.deliverSessionChunks(ctx, log, channelID, nil, answer)
}

// handleEndChatCommand ends the channel's session, if the caller owns it.
func (b *Bot) handleEndChatCommand(i *discordgo.InteractionCreate) {
	user := interactionUser(i)
	if user == nil {
		return
	}
	_, err := b.sessions.End(i.ChannelID, user.ID)
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionNotOwner):
		b.respondEphemeral(
			i,
			"You do not have an active AI chat session in this channel.",
		)
	case err != nil:
		b.logger.Error("error ending session", tint.Err(err))
		b.respondEphemeral(i, "❌ Failed to end AI chat session")
	default:
		b.respondEphemeral(
			i,
			"Your AI chat session has ended. This channel will remain open "+
				"for further discussion.",
		)
	}
}

// handleSessionMessage continues an active session with a new user
// message. Non-owner messages are ignored.
func (b *Bot) handleSessionMessage(
	ctx context.Context,
	sess *Session,
	m *discordgo.MessageCreate,
	content string,
) {
	if m.Author.ID != sess.OwnerID || content == "" {
		return
	}
	log := b.logger.With(
		loggerNameKey, "session_chat",
		"channel_id", m.ChannelID,
		"user_id", m.Author.ID,
	)

	route, ok := b.commands[sess.Command]
	if !ok {
		log.Error("session references unknown command", "command", sess.Command)
		return
	}
	provider, ok := b.providers[route.ProviderName]
	if !ok {
		log.Error("session references unknown provider", "provider", route.ProviderName)
		return
	}

	sess, err := b.sessions.AppendTurn(
		m.ChannelID,
		m.Author.ID,
		sessionRoleUser,
		content,
	)
	if err != nil {
		log.Error("error appending user turn", tint.Err(err))
		return
	}

	if typingErr := b.discord.session.ChannelTyping(m.ChannelID); typingErr != nil {
		log.Warn("error sending typing indicator", tint.Err(typingErr))
	}

	ctx, cancel := context.WithTimeout(ctx, b.config.Chat.RequestTimeout)
	defer cancel()

	answer, err := provider.Generate(ctx, transcriptPrompt(sess), route.ModelID)
	if err != nil {
		log.Error("session generation failed", tint.Err(err))
		_ = b.discord.channelMessageSend(
			m.ChannelID,
			"❌ Failed to generate a response: "+truncate(err.Error(), 500),
		)
		return
	}
	if route.PostProcess != nil {
		answer = route.PostProcess(answer)
	}

	if _, err = b.sessions.AppendTurn(
		m.ChannelID,
		m.Author.ID,
		sessionRoleAssistant,
		answer,
	); err != nil {
		// session may have expired or been ended mid-generation
		log.Warn("error appending assistant turn", tint.Err(err))
	}

	b.deliverSessionAnswer(ctx, log, m, answer)
}

// deliverSessionAnswer posts a session response as chained plain-text
// replies to the triggering message, stopping at the first failure.
func (b *Bot) deliverSessionAnswer(
	ctx context.Context,
	log *slog.Logger,
	m *discordgo.MessageCreate,
	answer string,
) {
	b.deliverSessionChunks(ctx, log, m.ChannelID, m.Reference(), answer)
}

// deliverSessionChunks posts a session response in plain-text chunks. A nil
// reference starts an unthreaded chain; each continuation replies to the
// previous chunk.
func (b *Bot) deliverSessionChunks(
	ctx context.Context,
	log *slog.Logger,
	channelID string,
	reference *discordgo.MessageReference,
	answer string,
) {
	chunks := splitMessage("🤖 "+answer, discordMaxMessageLength)
	for i, chunk := range chunks {
		if i > 0 {
			if err := b.chunkLimiter.Wait(ctx); err != nil {
				return
			}
		}
		var msg *discordgo.Message
		var err error
		if reference == nil {
			msg, err = b.discord.session.ChannelMessageSend(channelID, chunk)
		} else {
			msg, err = b.discord.session.ChannelMessageSendReply(
				channelID,
				chunk,
				reference,
			)
		}
		if err != nil {
			log.Error(
				"error delivering session chunk",
				tint.Err(err),
				"part", i+1,
			)
			return
		}
		reference = msg.Reference()
	}
}

// transcriptPrompt flattens a session transcript into a single prompt with
// the latest user message last.
func transcriptPrompt(sess *Session) string {
	var b strings.Builder
	for _, turn := range sess.Turns {
		switch turn.Role {
		case sessionRoleUser:
			fmt.Fprintf(&b, "User: %s\n", turn.Content)
		case sessionRoleAssistant:
			fmt.Fprintf(&b, "Assistant: %s\n", turn.Content)
		}
	}
	b.WriteString("Assistant:")
	return b.String()
}
