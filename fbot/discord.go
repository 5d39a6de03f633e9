package fbot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	// DiscordSlashCommandAIChat starts a conversational session in the
	// current channel.
	DiscordSlashCommandAIChat = "aichat"

	// DiscordSlashCommandEndChat ends the channel's session.
	DiscordSlashCommandEndChat = "endchat"

	aiChatModelOption  = "model"
	aiChatPromptOption = "initial_prompt"
	aiChatFileOption   = "file"
)

// Embed accent colors.
const (
	colorBlurple = 0x5865f2
	colorWorking = 0xffa500
	colorAnswer  = 0x00ffed
	colorError   = 0xed4245
)

const embedFooterDisclaimer = "AI-generated content may be inaccurate"

// Discord owns the gateway connection, slash command registration and the
// event handlers feeding the chat pipeline.
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	logger                      *slog.Logger
	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	connected                   atomic.Bool
	discordgoRemoveHandlerFuncs []func()
	bot                         *Bot
}

// newDiscord initializes a new Discord instance with the provided configuration
func newDiscord(config *DiscordConfig) (*Discord, error) {
	d := &Discord{
		config:                      config,
		discordgoRemoveHandlerFuncs: []func(){},
	}
	if config.Token == "" {
		return nil, fmt.Errorf("discord token not set")
	}
	return d, nil
}

// newSession initializes the underlying discordgo session, wrapped in
// [DiscordSession].
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{
		logger: d.logger.With(loggerNameKey, "discord_session_handler"),
	}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = false
	disc.StateEnabled = true
	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     d.config.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)
	disc.Identify.Intents = d.config.GatewayIntents
	session.session = disc
	if d.config.httpClient != nil {
		disc.Client = d.config.httpClient
	}

	if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
		return session, err
	}
	return session, nil
}

// appCommandAIChat creates the ApplicationCommand that starts a session.
func (*Discord) appCommandAIChat() *discordgo.ApplicationCommand {
	routes := defaultModelRouteList()
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(routes))
	for _, route := range routes {
		choices = append(
			choices, &discordgo.ApplicationCommandOptionChoice{
				Name:  route.DisplayName,
				Value: route.Command,
			},
		)
	}
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandAIChat,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Start an AI chat session in this channel",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        aiChatModelOption,
				Description: "Model to chat with",
				Required:    true,
				Choices:     choices,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        aiChatPromptOption,
				Description: "First message or topic (optional)",
			},
			{
				Type:        discordgo.ApplicationCommandOptionAttachment,
				Name:        aiChatFileOption,
				Description: "Upload a file (text, pdf, docx, etc) for the AI",
			},
		},
	}
}

// appCommandEndChat creates the ApplicationCommand that ends a session.
func (*Discord) appCommandEndChat() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandEndChat,
		Type:        discordgo.ChatApplicationCommand,
		Description: "End the active AI chat session in this channel",
	}
}

// registerCommands sends the bot's commands to the discord bulk overwrite
// endpoint
func (d *Discord) registerCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	commands := []*discordgo.ApplicationCommand{
		d.appCommandAIChat(),
		d.appCommandEndChat(),
	}
	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("created command", "command", c.Name)
	}
	return created, nil
}

// channelMessageSend sends the given message to the given discord channel ID
func (d *Discord) channelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) error {
	_, err := d.session.ChannelMessageSend(channelID, message, opts...)
	return err
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(s *discordgo.Session, _ *discordgo.Ready) {
		d.logger.Info(
			"ready",
			"session_id", s.State.SessionID,
			"user_id", s.State.User.ID,
			"username", s.State.User.Username,
		)
		if d.config.CustomStatus != "" {
			if err := d.session.UpdateCustomStatus(d.config.CustomStatus); err != nil {
				d.logger.Error("error setting custom status", tint.Err(err))
			}
		}
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(s *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)

		var sessionID string
		var userID string
		var username string
		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
			if s.State.User != nil {
				userID = s.State.User.ID
				username = s.State.User.Username
			}
		}
		d.logger.Info(
			"connected",
			"session_id", sessionID,
			slog.Group("user", "id", userID, "username", username),
		)
		if d.config.NotificationChannelID != "" && d.config.StartupMessage != "" {
			if sendErr := d.channelMessageSend(
				d.config.NotificationChannelID,
				d.config.StartupMessage,
				discordgo.WithRetryOnRatelimit(false),
				discordgo.WithRestRetries(1),
			); sendErr != nil {
				d.logger.Error("unable to send startup message", tint.Err(sendErr))
			}
		}
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)

		var sessionID string
		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
		}
		d.logger.Info("disconnected", "session_id", sessionID)
	}
}

// auditLog posts an audit embed to the configured log channel. A missing
// log channel makes this a no-op.
func (d *Discord) auditLog(details auditDetails) {
	if d.config.LogChannelID == "" {
		return
	}
	embed := &discordgo.MessageEmbed{
		Title:       details.Title,
		Description: details.Description,
		Color:       details.Color,
		Fields:      details.Fields,
		Timestamp:   time.Now().Format(time.RFC3339),
	}
	if details.AuthorName != "" {
		embed.Author = &discordgo.MessageEmbedAuthor{
			Name:    details.AuthorName,
			IconURL: details.AuthorIconURL,
		}
	}
	if _, err := d.session.ChannelMessageSendEmbed(
		d.config.LogChannelID,
		embed,
	); err != nil {
		d.logger.Error("error sending audit log", tint.Err(err))
	}
}

// auditDetails describes an audit embed for the log channel.
type auditDetails struct {
	Title         string
	Description   string
	Color         int
	AuthorName    string
	AuthorIconURL string
	Fields        []*discordgo.MessageEmbedField
}

// usageEmbed is the help card posted in response to a bare "f.ai",
// generated from the route list.
func usageEmbed() *discordgo.MessageEmbed {
	var description strings.Builder
	description.WriteString("**Use the following command to ask the AI:**\n\n")
	for _, route := range defaultModelRouteList() {
		fmt.Fprintf(
			&description,
			"**%s:**\n`%s [your question]`\n",
			route.DisplayName,
			route.Command,
		)
	}
	description.WriteString(
		"_You can also attach files (documents and images) to include " +
			"their content in your question!_",
	)
	return &discordgo.MessageEmbed{
		Title:       "How to Use AI Chat",
		Description: description.String(),
		Color:       colorBlurple,
	}
}

// thinkingEmbed is the placeholder posted while a slow model generates.
func thinkingEmbed(route modelRoute) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Description: "thinking...",
		Color:       colorWorking,
		Author: &discordgo.MessageEmbedAuthor{
			Name:    "Powered by " + route.DisplayName,
			IconURL: route.IconURL,
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// answerEmbed carries the first chunk of a model response.
func answerEmbed(route modelRoute, username string, chunk string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Answer for " + username,
		Description: chunk,
		Color:       colorAnswer,
		Author: &discordgo.MessageEmbedAuthor{
			Name:    "Powered by " + route.DisplayName,
			IconURL: route.IconURL,
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: embedFooterDisclaimer},
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// continuationEmbed carries chunk number part (1-based) of a multi-part
// response.
func continuationEmbed(route modelRoute, part int, chunk string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Continued Answer [Part %d]", part),
		Description: chunk,
		Color:       colorAnswer,
		Author: &discordgo.MessageEmbedAuthor{
			Name:    "Powered by " + route.DisplayName,
			IconURL: route.IconURL,
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: embedFooterDisclaimer},
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// errorEmbed reports a failed generation back to the channel.
func errorEmbed(route modelRoute, userMention string, err error) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "⚠️ Processing Error",
		Description: "Failed to generate " + route.DisplayName + " response",
		Color:       colorError,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Error", Value: truncate(err.Error(), 1024)},
			{Name: "User", Value: userMention},
		},
	}
}

// modelRouteOrder is the presentation order of the chat commands, derived
// from the route list.
var modelRouteOrder = func() []string {
	routes := defaultModelRouteList()
	order := make([]string, len(routes))
	for i, route := range routes {
		order[i] = route.Command
	}
	return order
}()

// DiscordSessionHandler is the subset of discordgo.Session methods this bot
// uses, extracted to enable testing with a mock gateway.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error

	// ChannelTyping shows the typing indicator in a channel
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error

	// ChannelMessageSend sends a plain message to a channel
	ChannelMessageSend(
		channelID string,
		content string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageSendReply sends a plain message as a reply
	ChannelMessageSendReply(
		channelID string,
		content string,
		reference *discordgo.MessageReference,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageSendEmbed sends an embed to a channel
	ChannelMessageSendEmbed(
		channelID string,
		embed *discordgo.MessageEmbed,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageSendEmbedReply sends an embed as a reply
	ChannelMessageSendEmbedReply(
		channelID string,
		embed *discordgo.MessageEmbed,
		reference *discordgo.MessageReference,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageEditEmbed replaces the embed on an existing message
	ChannelMessageEditEmbed(
		channelID string,
		messageID string,
		embed *discordgo.MessageEmbed,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// ApplicationCommandBulkOverwrite replaces the registered commands
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// UpdateCustomStatus sets the bot's custom status text
	UpdateCustomStatus(status string) error
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.session.Client = client
}

func (d DiscordSession) ChannelTyping(
	channelID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.ChannelTyping(channelID, options...)
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSend(channelID, content, options...)
}

func (d DiscordSession) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendReply(
		channelID, content, reference, options...,
	)
	if err != nil {
		d.logger.Error(
			"error sending message reply",
			tint.Err(err),
			"channel_id", channelID,
		)
	}
	return msg, err
}

func (d DiscordSession) ChannelMessageSendEmbed(
	channelID string,
	embed *discordgo.MessageEmbed,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSendEmbed(channelID, embed, options...)
}

func (d DiscordSession) ChannelMessageSendEmbedReply(
	channelID string,
	embed *discordgo.MessageEmbed,
	reference *discordgo.MessageReference,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendEmbedReply(
		channelID, embed, reference, options...,
	)
	if err != nil {
		d.logger.Error(
			"error sending embed reply",
			tint.Err(err),
			"channel_id", channelID,
		)
	}
	return msg, err
}

func (d DiscordSession) ChannelMessageEditEmbed(
	channelID string,
	messageID string,
	embed *discordgo.MessageEmbed,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageEditEmbed(channelID, messageID, embed, options...)
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return d.session.ApplicationCommandBulkOverwrite(
		appID, guildID, commands, options...,
	)
}

func (d DiscordSession) UpdateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}
