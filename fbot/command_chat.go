package fbot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

// chatRequestState tracks a chat request through the pipeline, mostly for
// logging and the audit record.
type chatRequestState string

const (
	chatStateReceived            chatRequestState = "received"
	chatStateAttachmentsResolved chatRequestState = "attachments_resolved"
	chatStatePromptBuilt         chatRequestState = "prompt_built"
	chatStateProviderDispatched  chatRequestState = "provider_dispatched"
	chatStateResponseChunked     chatRequestState = "response_chunked"
	chatStateDelivered           chatRequestState = "delivered"
	chatStateErrored             chatRequestState = "errored"
)

// chatRequest carries one prefix-command request through attachment
// extraction, generation and delivery.
type chatRequest struct {
	id      string
	route   modelRoute
	message *discordgo.MessageCreate

	question    string
	fileContent string
	prompt      string

	attachments int
	partsSent   int
	state       chatRequestState

	logger *slog.Logger
}

func (r *chatRequest) setState(state chatRequestState) {
	r.state = state
	r.logger.Debug("chat request state", "state", string(state))
}

// handlerMessageCreate routes incoming guild messages. Messages in a
// channel with a live session go to the session flow, "f."-prefixed
// messages go to the command flow.
func (b *Bot) handlerMessageCreate() func(
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
			return
		}
		content := strings.TrimSpace(m.Content)
		if content == "" && len(m.Attachments) == 0 {
			return
		}

		if !strings.HasPrefix(content, "f.") {
			if sess, err := b.sessions.Get(m.ChannelID); err == nil {
				go b.handleSessionMessage(b.runCtx, sess, m, content)
			}
			return
		}

		if !b.aiEnabled.Load() {
			b.logger.Info(
				"ai disabled, refusing command",
				"channel_id", m.ChannelID,
				"user_id", m.Author.ID,
			)
			_ = b.discord.channelMessageSend(
				m.ChannelID,
				"AI chat is currently disabled.",
			)
			return
		}

		if content == "f.ai" {
			if _, err := b.discord.session.ChannelMessageSendEmbed(
				m.ChannelID,
				usageEmbed(),
			); err != nil {
				b.logger.Error("error sending usage embed", tint.Err(err))
			}
			return
		}

		command, _, _ := strings.Cut(content, " ")
		route, ok := b.commands[command]
		if !ok {
			return
		}
		go b.handleChatCommand(b.runCtx, route, m, content)
	}
}

// handleChatCommand runs the full pipeline for a single prefix command.
func (b *Bot) handleChatCommand(
	ctx context.Context,
	route modelRoute,
	m *discordgo.MessageCreate,
	content string,
) {
	req := &chatRequest{
		id:       uuid.NewString(),
		route:    route,
		message:  m,
		question: strings.TrimSpace(strings.TrimPrefix(content, route.Command)),
	}
	req.logger = b.logger.With(
		loggerNameKey, "chat",
		"request_id", req.id,
		"command", route.Command,
		"user_id", m.Author.ID,
	)
	req.setState(chatStateReceived)

	if req.question == "" && len(m.Attachments) == 0 {
		_ = b.discord.channelMessageSend(
			m.ChannelID,
			fmt.Sprintf(
				"Please write down the issue you want to ask after `%s`.",
				route.Command,
			),
		)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, b.config.Chat.RequestTimeout)
	defer cancel()
	ctx = WithLogger(ctx, req.logger)

	req.fileContent = b.resolveAttachments(ctx, req)
	req.setState(chatStateAttachmentsResolved)

	req.prompt = buildPrompt(req.question, req.fileContent)
	req.setState(chatStatePromptBuilt)

	b.metricRequests.Add(1)
	if err := b.generateAndDeliver(ctx, req); err != nil {
		req.setState(chatStateErrored)
		b.metricRequestsFailed.Add(1)
		req.logger.Error("chat request failed", tint.Err(err))
		b.recordChat(req, err)
		b.discord.auditLog(
			auditDetails{
				Title:       route.DisplayName + " AI Processing Failure",
				Description: "**Question:** " + truncate(req.question, 1024),
				Color:       colorError,
				Fields: []*discordgo.MessageEmbedField{
					{Name: "Error", Value: truncate(err.Error(), 1024)},
					{Name: "User", Value: m.Author.Mention(), Inline: true},
				},
			},
		)
		return
	}
	req.setState(chatStateDelivered)
	b.recordChat(req, nil)
	b.discord.auditLog(
		auditDetails{
			Title:         route.DisplayName + " Request Processed",
			Description:   "**Question:** " + truncate(req.question, 1024),
			Color:         colorAnswer,
			AuthorName:    m.Author.Username,
			AuthorIconURL: m.Author.AvatarURL(""),
			Fields: []*discordgo.MessageEmbedField{
				{Name: "User", Value: m.Author.Mention(), Inline: true},
				{
					Name:   "Parts Sent",
					Value:  fmt.Sprintf("%d", req.partsSent),
					Inline: true,
				},
			},
		},
	)
}

// resolveAttachments extracts every attachment and wraps each result in a
// per-file envelope. Failed extractions stay in the envelope as their
// failure marker so the model sees what was attempted, and the requester
// gets a notice naming the files that failed.
func (b *Bot) resolveAttachments(ctx context.Context, req *chatRequest) string {
	if len(req.message.Attachments) == 0 {
		return ""
	}
	req.attachments = len(req.message.Attachments)
	results := b.extractor.ExtractAll(ctx, req.message.Attachments)

	var failed []string
	var content strings.Builder
	for _, result := range results {
		if !result.OK {
			req.logger.Warn(
				"attachment extraction failed",
				"attachment", result.Name,
				"reason", result.Reason,
			)
			failed = append(failed, result.Name)
		}
		content.WriteString(
			fmt.Sprintf(
				"--- File: %s ---\n%s\n--- End of %s ---\n\n",
				result.Name,
				result.Text,
				result.Name,
			),
		)
	}
	if len(failed) > 0 {
		if sendErr := b.discord.channelMessageSend(
			req.message.ChannelID,
			"⚠️ Failed to read attachment(s): `"+
				strings.Join(failed, "`, `")+"`",
		); sendErr != nil {
			req.logger.Error(
				"error sending attachment failure notice",
				tint.Err(sendErr),
			)
		}
	}
	return content.String()
}

// buildPrompt wraps extracted file content in its envelope. An empty
// extraction leaves the question untouched.
func buildPrompt(question string, fileContent string) string {
	if fileContent == "" {
		return question
	}
	return question +
		"\n\n[File Content Start]\n" + fileContent + "[File Content End]"
}

// generateAndDeliver calls the provider and posts the chunked answer.
// Thinking routes get a placeholder embed first, then edit the first chunk
// into it.
func (b *Bot) generateAndDeliver(ctx context.Context, req *chatRequest) error {
	provider, ok := b.providers[req.route.ProviderName]
	if !ok {
		err := fmt.Errorf("no provider registered for %q", req.route.ProviderName)
		_, _ = b.discord.session.ChannelMessageSendEmbedReply(
			req.message.ChannelID,
			errorEmbed(req.route, req.message.Author.Mention(), err),
			req.message.Reference(),
		)
		return err
	}

	var thinkingMsg *discordgo.Message
	if req.route.Thinking {
		msg, err := b.discord.session.ChannelMessageSendEmbedReply(
			req.message.ChannelID,
			thinkingEmbed(req.route),
			req.message.Reference(),
		)
		if err != nil {
			return fmt.Errorf("error sending placeholder: %w", err)
		}
		thinkingMsg = msg
	}

	req.setState(chatStateProviderDispatched)
	answer, err := provider.Generate(ctx, req.prompt, req.route.ModelID)
	if err != nil {
		if thinkingMsg != nil {
			_, _ = b.discord.session.ChannelMessageEditEmbed(
				thinkingMsg.ChannelID,
				thinkingMsg.ID,
				errorEmbed(req.route, req.message.Author.Mention(), err),
			)
		} else {
			_, _ = b.discord.session.ChannelMessageSendEmbedReply(
				req.message.ChannelID,
				errorEmbed(req.route, req.message.Author.Mention(), err),
				req.message.Reference(),
			)
		}
		return err
	}

	if req.route.PostProcess != nil {
		answer = req.route.PostProcess(answer)
	}

	chunks := splitMessage(answer, discordMaxEmbedLength)
	req.setState(chatStateResponseChunked)
	if len(chunks) == 0 {
		return ErrEmptyResponse
	}

	partsSent, err := b.deliverChunks(ctx, req, chunks, thinkingMsg)
	req.partsSent = partsSent
	return err
}

// deliverChunks posts chunks in order, each continuation replying to the
// previous message. Delivery stops at the first failure with no retry.
func (b *Bot) deliverChunks(
	ctx context.Context,
	req *chatRequest,
	chunks []string,
	thinkingMsg *discordgo.Message,
) (int, error) {
	username := req.message.Author.Username

	var lastMsg *discordgo.Message
	var err error
	if thinkingMsg != nil {
		lastMsg, err = b.discord.session.ChannelMessageEditEmbed(
			thinkingMsg.ChannelID,
			thinkingMsg.ID,
			answerEmbed(req.route, username, chunks[0]),
		)
	} else {
		lastMsg, err = b.discord.session.ChannelMessageSendEmbedReply(
			req.message.ChannelID,
			answerEmbed(req.route, username, chunks[0]),
			req.message.Reference(),
		)
	}
	if err != nil {
		return 0, fmt.Errorf("error delivering first chunk: %w", err)
	}

	for i := 1; i < len(chunks); i++ {
		if waitErr := b.chunkLimiter.Wait(ctx); waitErr != nil {
			return i, waitErr
		}
		lastMsg, err = b.discord.session.ChannelMessageSendEmbedReply(
			req.message.ChannelID,
			continuationEmbed(req.route, i+1, chunks[i]),
			lastMsg.Reference(),
		)
		if err != nil {
			return i, fmt.Errorf("error delivering chunk %d: %w", i+1, err)
		}
	}
	return len(chunks), nil
}

// recordChat persists an audit row for the request. A nil database makes
// this a no-op.
func (b *Bot) recordChat(req *chatRequest, reqErr error) {
	if b.db == nil {
		return
	}
	record := ChatRecord{
		RequestID:   req.id,
		UserID:      req.message.Author.ID,
		Username:    req.message.Author.Username,
		ChannelID:   req.message.ChannelID,
		MessageID:   req.message.ID,
		Command:     req.route.Command,
		ModelID:     req.route.ModelID,
		Provider:    req.route.ProviderName,
		Prompt:      truncate(req.question, 4000),
		Attachments: req.attachments,
		PartsSent:   req.partsSent,
		State:       string(req.state),
	}
	if reqErr != nil {
		record.Error = reqErr.Error()
	}
	if err := b.db.Create(&record).Error; err != nil {
		req.logger.Error("error saving chat record", tint.Err(err))
	}
}
