package fbot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Bot is the top-level object wiring the Discord gateway, the AI
// providers, session state and the supporting services together.
type Bot struct {
	config *Config
	logger *slog.Logger

	db       *gorm.DB
	discord  *Discord
	sessions *SessionStore

	extractor *AttachmentExtractor
	providers map[string]Provider
	commands  map[string]modelRoute

	quotes *quotePoster
	api    *API
	cron   *cron.Cron

	aiEnabled            atomic.Bool
	chunkLimiter         *rate.Limiter
	startedAt            time.Time
	metricRequests       atomic.Int64
	metricRequestsFailed atomic.Int64

	// runCtx is the lifetime context handlers use for background work,
	// set when Run starts.
	runCtx context.Context

	signalStop chan os.Signal
}

// New creates a Bot from config. It validates config, connects the
// database and builds every component, but does not open the gateway.
func New(ctx context.Context, config *Config) (*Bot, error) {
	if config == nil {
		config = DefaultConfig()
	}
	logHandler := newLogHandler(config.LogLevel)
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	if config.Discord == nil || config.Discord.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	if len(config.Gemini.APIKeys) == 0 {
		return nil, fmt.Errorf("at least one gemini api key is required")
	}
	if config.Together.APIKey == "" {
		return nil, fmt.Errorf("together api key is required")
	}

	b := &Bot{
		config:       config,
		logger:       logger.With(loggerNameKey, "fbot"),
		sessions:     NewSessionStore(logger),
		commands:     defaultModelRoutes(),
		chunkLimiter: rate.NewLimiter(rate.Every(config.Chat.ChunkDelay), 1),
	}
	b.aiEnabled.Store(true)
	b.logger.Info("initializing bot", "config", config)

	if config.StartupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.StartupTimeout)
		defer cancel()
	}

	db, err := initDB(
		ctx,
		config.DatabaseType,
		config.Database,
		newGORMLogger(logHandler, DefaultDatabaseSlowThreshold),
	)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	b.db = db

	discord, err := newDiscord(config.Discord)
	if err != nil {
		return nil, err
	}
	discord.logger = logger.With(loggerNameKey, "discord")
	discord.bot = b
	b.discord = discord

	session, err := discord.newSession()
	if err != nil {
		return nil, err
	}
	discord.session = session

	b.extractor = NewAttachmentExtractor(config.Chat, config.HTTPClient, logger)
	b.providers = map[string]Provider{
		providerNameGemini: NewGeminiProvider(
			config.Gemini,
			config.HTTPClient,
			logger,
		),
		providerNameTogether: NewTogetherProvider(
			config.Together,
			config.HTTPClient,
			logger,
		),
	}

	if config.Quote != nil && config.Quote.Enabled {
		b.quotes = newQuotePoster(config.Quote, config.HTTPClient, b)
	}
	if config.API != nil && config.API.Enabled {
		b.api = newAPI(b, config.API)
	}
	return b, nil
}

// SetAIEnabled flips the global AI chat toggle.
func (b *Bot) SetAIEnabled(enabled bool) {
	b.aiEnabled.Store(enabled)
	b.logger.Info("ai chat toggled", "enabled", enabled)
}

// Run opens the gateway, registers commands and blocks until ctx is
// canceled or a termination signal arrives.
func (b *Bot) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.runCtx = ctx
	b.startedAt = time.Now()

	b.discord.discordgoRemoveHandlerFuncs = []func(){
		b.discord.session.AddHandler(b.discord.handlerReady()),
		b.discord.session.AddHandler(b.discord.handlerConnect()),
		b.discord.session.AddHandler(b.discord.handlerDisconnect()),
		b.discord.session.AddHandler(b.handlerMessageCreate()),
		b.discord.session.AddHandler(b.handlerInteractionCreate()),
	}

	if err := b.discord.session.Open(); err != nil {
		return fmt.Errorf("error opening discord connection: %w", err)
	}
	defer func() {
		if err := b.discord.session.Close(); err != nil {
			b.logger.Error("error closing discord connection", tint.Err(err))
		}
		for _, removeHandler := range b.discord.discordgoRemoveHandlerFuncs {
			removeHandler()
		}
	}()

	if _, err := b.discord.registerCommands(
		discordgo.WithRetryOnRatelimit(false),
		discordgo.WithRestRetries(2),
	); err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}

	go b.sweepSessions(ctx)

	if b.quotes != nil {
		b.cron = cron.New()
		if _, err := b.cron.AddFunc(
			b.config.Quote.Schedule,
			b.quotes.run,
		); err != nil {
			return fmt.Errorf("invalid quote schedule: %w", err)
		}
		b.cron.Start()
		defer b.cron.Stop()
	}

	apiErr := make(chan error, 1)
	if b.api != nil {
		go func() {
			if err := b.api.Serve(ctx); err != nil {
				apiErr <- err
			}
		}()
	}

	b.signalStop = make(chan os.Signal, 1)
	signal.Notify(b.signalStop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(b.signalStop)

	b.logger.Info("bot running")
	select {
	case <-ctx.Done():
		b.logger.Info("context canceled, shutting down")
		return nil
	case sig := <-b.signalStop:
		b.logger.Info("signal received, shutting down", "signal", sig.String())
		return nil
	case err := <-apiErr:
		return fmt.Errorf("api server failed: %w", err)
	}
}

// sweepSessions periodically expires idle chat sessions.
func (b *Bot) sweepSessions(ctx context.Context) {
	interval := b.config.Chat.SessionSweepInterval
	if interval <= 0 {
		interval = DefaultSessionSweepEvery
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := b.sessions.SweepExpired(
				b.config.Chat.SessionMaxIdle,
			); removed > 0 {
				b.logger.Info("swept idle sessions", "removed", removed)
			}
		}
	}
}
