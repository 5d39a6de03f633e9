//nolint:lll // struct tags can't be split
package fbot

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	EnvvarSetEnvPrefix = "FBOT_ENV_PREFIX"
	DefaultEnvPrefix   = "FBOT"

	DefaultDatabaseType = "sqlite"
	DefaultDatabase     = "fbot.sqlite3"

	DefaultLogLevel          = slog.LevelInfo
	DefaultDiscordLogLevel   = slog.LevelWarn
	DefaultDiscordgoLogLevel = slog.LevelWarn
	DefaultDatabaseLogLevel  = slog.LevelInfo
	DefaultProviderLogLevel  = slog.LevelInfo
	DefaultAPILogLevel       = slog.LevelInfo

	DefaultStartupTimeout        = 30 * time.Second
	DefaultShutdownTimeout       = 60 * time.Second
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond

	DefaultGeminiBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	DefaultTogetherBaseURL = "https://api.together.ai/v1"
	DefaultProviderTimeout = 2 * time.Minute

	// DefaultSessionMaxIdle is how long a chat session may sit without
	// activity before the background sweep removes it.
	DefaultSessionMaxIdle      = 30 * time.Minute
	DefaultSessionSweepEvery   = 5 * time.Minute
	DefaultMaxAttachmentText   = 20000
	DefaultAttachmentTempDir   = "temp"
	DefaultDownloadTimeout     = 30 * time.Second
	DefaultRequestTimeout      = 5 * time.Minute
	DefaultChunkDelay          = time.Second
	DefaultDiscordCustomStatus = "f.ai to chat with me!"
	DefaultStartupMessage      = "I'm here!"

	DefaultQuoteSchedule = "0 7 * * *"
	DefaultQuoteURL      = "https://zenquotes.io/api/random"

	DefaultAPIListen       = "127.0.0.1:5000"
	defaultListenNetwork   = "tcp"
	DefaultAPIReadTimeout  = 5 * time.Second
	DefaultAPIWriteTimeout = 10 * time.Second
	DefaultAPIIdleTimeout  = 30 * time.Second

	// discordMaxMessageLength is Discord's hard limit for plain-text
	// message content. Plain-text deliveries are chunked slightly under it.
	discordMaxMessageLength = 2000

	// discordMaxEmbedLength is Discord's limit for a single embed
	// description, used for rich-formatted deliveries.
	discordMaxEmbedLength = 4096

	// DefaultDiscordGatewayIntent includes message content, which the
	// prefix commands and session replies require.
	DefaultDiscordGatewayIntent = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentDirectMessages |
		discordgo.IntentMessageContent
)

// Config is the top-level bot configuration, loaded via viper in cmd.
type Config struct {
	// Database connection string (file path for sqlite, DSN for postgres)
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType is either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for flagging slow queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout bounds bot initialization
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time allowed for a graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// Discord configures the bot's Discord connection
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Gemini configures the Gemini provider family
	Gemini *GeminiConfig `yaml:"gemini" mapstructure:"gemini" json:"gemini"`

	// Together configures the Together AI provider family
	Together *TogetherConfig `yaml:"together" mapstructure:"together" json:"together"`

	// Chat configures session lifetimes and the attachment pipeline
	Chat *ChatConfig `yaml:"chat" mapstructure:"chat" json:"chat"`

	// Quote configures the scheduled quote-of-the-day job
	Quote *QuoteConfig `yaml:"quote" mapstructure:"quote" json:"quote"`

	// API configures the read-only status API
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID used when registering slash commands. Empty=global commands.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// LogChannelID receives audit embeds for processed/failed AI requests.
	// Empty disables the mirror.
	LogChannelID string `yaml:"log_channel_id" mapstructure:"log_channel_id" json:"log_channel_id"`

	// NotificationChannelID receives StartupMessage on gateway connect
	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	httpClient *http.Client
}

// GeminiConfig configures the Gemini REST provider. Multiple API keys may
// be given; quota failures rotate to the next key.
type GeminiConfig struct {
	APIKeys  []string       `yaml:"api_keys" mapstructure:"api_keys" json:"api_keys" log:"[redacted]"`
	BaseURL  string         `yaml:"base_url" mapstructure:"base_url" json:"base_url"`
	Timeout  time.Duration  `yaml:"timeout" mapstructure:"timeout" json:"timeout"`
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// TogetherConfig configures the Together AI chat-completions provider.
type TogetherConfig struct {
	APIKey   string         `yaml:"api_key" mapstructure:"api_key" json:"api_key" log:"[redacted]"`
	BaseURL  string         `yaml:"base_url" mapstructure:"base_url" json:"base_url"`
	Timeout  time.Duration  `yaml:"timeout" mapstructure:"timeout" json:"timeout"`
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// ChatConfig configures session lifecycle and the attachment pipeline.
type ChatConfig struct {
	// SessionMaxIdle is the idle window after which a session expires
	SessionMaxIdle time.Duration `yaml:"session_max_idle" mapstructure:"session_max_idle" json:"session_max_idle"`

	// SessionSweepInterval is how often the background sweep runs
	SessionSweepInterval time.Duration `yaml:"session_sweep_interval" mapstructure:"session_sweep_interval" json:"session_sweep_interval"`

	// MaxAttachmentText bounds the extracted text per attachment
	MaxAttachmentText int `yaml:"max_attachment_text" mapstructure:"max_attachment_text" json:"max_attachment_text"`

	// TempDir holds transient attachment downloads
	TempDir string `yaml:"temp_dir" mapstructure:"temp_dir" json:"temp_dir"`

	// DownloadTimeout bounds a single attachment fetch
	DownloadTimeout time.Duration `yaml:"download_timeout" mapstructure:"download_timeout" json:"download_timeout"`

	// ChunkDelay paces sequential chunk deliveries within one response
	ChunkDelay time.Duration `yaml:"chunk_delay" mapstructure:"chunk_delay" json:"chunk_delay"`

	// RequestTimeout bounds one chat request end to end, covering
	// attachment extraction, generation and delivery
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout"`
}

// QuoteConfig configures the scheduled quote-of-the-day post.
type QuoteConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Schedule  string `yaml:"schedule" mapstructure:"schedule" json:"schedule"`
	ChannelID string `yaml:"channel_id" mapstructure:"channel_id" json:"channel_id" binding:"required_if=Enabled true"`
	URL       string `yaml:"url" mapstructure:"url" json:"url"`
}

// APIConfig configures the read-only status API server.
type APIConfig struct {
	Enabled           bool           `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Listen            string         `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true,hostname|filepath"`
	ListenNetwork     string         `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,oneof=tcp tcp4 tcp6 unix"`
	LogLevel          *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
	ReadTimeout       time.Duration  `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration  `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration  `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration  `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	geminiLogLevel := &slog.LevelVar{}
	togetherLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	geminiLogLevel.Set(DefaultProviderLogLevel)
	togetherLogLevel.Set(DefaultProviderLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		Database:              DefaultDatabase,
		DatabaseType:          DefaultDatabaseType,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			StartupMessage:    DefaultStartupMessage,
			CustomStatus:      DefaultDiscordCustomStatus,
		},
		Gemini: &GeminiConfig{
			BaseURL:  DefaultGeminiBaseURL,
			Timeout:  DefaultProviderTimeout,
			LogLevel: geminiLogLevel,
		},
		Together: &TogetherConfig{
			BaseURL:  DefaultTogetherBaseURL,
			Timeout:  DefaultProviderTimeout,
			LogLevel: togetherLogLevel,
		},
		Chat: &ChatConfig{
			SessionMaxIdle:       DefaultSessionMaxIdle,
			SessionSweepInterval: DefaultSessionSweepEvery,
			MaxAttachmentText:    DefaultMaxAttachmentText,
			TempDir:              DefaultAttachmentTempDir,
			DownloadTimeout:      DefaultDownloadTimeout,
			ChunkDelay:           DefaultChunkDelay,
			RequestTimeout:       DefaultRequestTimeout,
		},
		Quote: &QuoteConfig{
			Schedule: DefaultQuoteSchedule,
			URL:      DefaultQuoteURL,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadTimeout:       DefaultAPIReadTimeout,
			ReadHeaderTimeout: DefaultAPIReadTimeout,
			WriteTimeout:      DefaultAPIWriteTimeout,
			IdleTimeout:       DefaultAPIIdleTimeout,
		},
	}
}
