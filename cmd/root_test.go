package cmd

import (
	"log/slog"
	"reflect"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yajidms/fbot/fbot"
)

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}

func TestInitConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Setenv("FBOT_DISCORD_TOKEN", "token-from-env")
	t.Setenv("FBOT_GEMINI_API_KEYS", "key-a,key-b")

	initConfig()

	assert.Equal(t, fbot.DefaultDatabase, viper.GetString("database"))
	assert.Equal(t, fbot.DefaultDatabaseType, viper.GetString("database_type"))
	assert.Equal(t, "token-from-env", viper.GetString("discord.token"))
	assert.Equal(
		t,
		[]string{"key-a", "key-b"},
		viper.GetStringSlice("gemini.api_keys"),
	)
	assert.Equal(
		t,
		fbot.DefaultGeminiBaseURL,
		viper.GetString("gemini.base_url"),
	)
	assert.Equal(t, fbot.DefaultQuoteSchedule, viper.GetString("quote.schedule"))
	assert.False(t, viper.GetBool("api.enabled"))

	assertLogLevel(t, fbot.DefaultLogLevel, viper.Get("log_level"))
	assertLogLevel(t, fbot.DefaultDiscordLogLevel, viper.Get("discord.log_level"))
	assertLogLevel(
		t,
		fbot.DefaultDatabaseLogLevel,
		viper.Get("database_log_level"),
	)
}

func TestInitConfigLogLevelOverride(t *testing.T) {
	viper.Reset()
	t.Setenv("FBOT_LOG_LEVEL", "DEBUG")

	initConfig()

	assertLogLevel(t, slog.LevelDebug, viper.Get("log_level"))
}

func TestLevelToStringHookFunc(t *testing.T) {
	hook := LevelToStringHookFunc()

	result, err := hook(
		reflect.TypeOf(""),
		reflect.TypeOf(&slog.LevelVar{}),
		"WARN",
	)
	require.NoError(t, err)
	assertLogLevel(t, slog.LevelWarn, result)

	_, err = hook(
		reflect.TypeOf(""),
		reflect.TypeOf(&slog.LevelVar{}),
		"NOPE",
	)
	assert.Error(t, err)

	// non-level targets pass through untouched
	passthrough, err := hook(
		reflect.TypeOf(""),
		reflect.TypeOf(""),
		"hello",
	)
	require.NoError(t, err)
	assert.Equal(t, "hello", passthrough)
}

func TestUnmarshalConfig(t *testing.T) {
	viper.Reset()
	t.Setenv("FBOT_DISCORD_TOKEN", "tok")
	t.Setenv("FBOT_GEMINI_API_KEYS", "k1,k2,k3")
	t.Setenv("FBOT_TOGETHER_API_KEY", "tk")
	t.Setenv("FBOT_CHAT_SESSION_MAX_IDLE", "45m")

	initConfig()

	config := fbot.DefaultConfig()
	err := viper.Unmarshal(config, viper.DecodeHook(configDecodeHook()))
	require.NoError(t, err)

	assert.Equal(t, "tok", config.Discord.Token)
	assert.Equal(t, []string{"k1", "k2", "k3"}, config.Gemini.APIKeys)
	assert.Equal(t, "tk", config.Together.APIKey)
	assert.Equal(t, "45m0s", config.Chat.SessionMaxIdle.String())
}
