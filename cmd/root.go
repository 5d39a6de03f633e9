package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yajidms/fbot/fbot"
)

var (
	cfg        = fbot.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "fbot [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(cfg, viper.DecodeHook(configDecodeHook()))
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func configDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		LevelToStringHookFunc(),
	)
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("error loading env file %s: %v", configFile, err)
		}
	}

	viper.SetDefault("database", fbot.DefaultDatabase)
	viper.SetDefault("database_type", fbot.DefaultDatabaseType)
	viper.SetDefault("database_log_level", fbot.DefaultDatabaseLogLevel.String())

	viper.SetDefault("log_level", fbot.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", fbot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", fbot.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.log_channel_id", "")
	viper.SetDefault("discord.notification_channel_id", "")
	viper.SetDefault("discord.startup_message", fbot.DefaultStartupMessage)
	viper.SetDefault("discord.custom_status", fbot.DefaultDiscordCustomStatus)
	viper.SetDefault("discord.gateway_intents", fbot.DefaultDiscordGatewayIntent)
	viper.SetDefault("discord.log_level", fbot.DefaultDiscordLogLevel.String())
	viper.SetDefault(
		"discord.discordgo_log_level",
		fbot.DefaultDiscordgoLogLevel.String(),
	)

	// Provider config
	viper.SetDefault("gemini.api_keys", []string{})
	viper.SetDefault("gemini.base_url", fbot.DefaultGeminiBaseURL)
	viper.SetDefault("gemini.timeout", fbot.DefaultProviderTimeout)
	viper.SetDefault("gemini.log_level", fbot.DefaultProviderLogLevel.String())
	viper.SetDefault("together.api_key", "")
	viper.SetDefault("together.base_url", fbot.DefaultTogetherBaseURL)
	viper.SetDefault("together.timeout", fbot.DefaultProviderTimeout)
	viper.SetDefault("together.log_level", fbot.DefaultProviderLogLevel.String())

	// Chat config
	viper.SetDefault("chat.session_max_idle", fbot.DefaultSessionMaxIdle)
	viper.SetDefault("chat.session_sweep_interval", fbot.DefaultSessionSweepEvery)
	viper.SetDefault("chat.max_attachment_text", fbot.DefaultMaxAttachmentText)
	viper.SetDefault("chat.temp_dir", fbot.DefaultAttachmentTempDir)
	viper.SetDefault("chat.download_timeout", fbot.DefaultDownloadTimeout)
	viper.SetDefault("chat.chunk_delay", fbot.DefaultChunkDelay)
	viper.SetDefault("chat.request_timeout", fbot.DefaultRequestTimeout)

	// Quote config
	viper.SetDefault("quote.enabled", false)
	viper.SetDefault("quote.schedule", fbot.DefaultQuoteSchedule)
	viper.SetDefault("quote.channel_id", "")
	viper.SetDefault("quote.url", fbot.DefaultQuoteURL)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", fbot.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", fbot.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", fbot.DefaultAPIReadTimeout)
	viper.SetDefault("api.read_header_timeout", fbot.DefaultAPIReadTimeout)
	viper.SetDefault("api.write_timeout", fbot.DefaultAPIWriteTimeout)
	viper.SetDefault("api.idle_timeout", fbot.DefaultAPIIdleTimeout)

	envPrefix := os.Getenv(fbot.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = fbot.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types. Env vars arrive as a single
	// comma-separated string.
	if raw := viper.GetString("gemini.api_keys"); raw != "" {
		keys := strings.Split(raw, ",")
		for i, key := range keys {
			keys[i] = strings.TrimSpace(key)
		}
		viper.Set("gemini.api_keys", keys)
	}

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"gemini.log_level",
		"together.log_level",
		"api.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to load before reading configuration",
	)
}
