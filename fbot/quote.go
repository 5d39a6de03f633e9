package fbot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// zenQuote is one entry from the zenquotes.io response array.
type zenQuote struct {
	Quote  string `json:"q"`
	Author string `json:"a"`
}

// quotePoster fetches a quote of the day and posts it to a channel on the
// configured cron schedule.
type quotePoster struct {
	config     *QuoteConfig
	httpClient *http.Client
	logger     *slog.Logger
	bot        *Bot
}

func newQuotePoster(config *QuoteConfig, httpClient *http.Client, bot *Bot) *quotePoster {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &quotePoster{
		config:     config,
		httpClient: httpClient,
		logger:     bot.logger.With(loggerNameKey, "quotes"),
		bot:        bot,
	}
}

// fetch retrieves a quote from the configured endpoint.
func (q *quotePoster) fetch(ctx context.Context) (*zenQuote, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		q.config.URL,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	resp, err := q.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching quote: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected quote api status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading quote response: %w", err)
	}

	var quotes []zenQuote
	if err = json.Unmarshal(body, &quotes); err != nil {
		return nil, fmt.Errorf("error parsing quote response: %w", err)
	}
	if len(quotes) == 0 || quotes[0].Quote == "" {
		return nil, fmt.Errorf("quote api returned no quotes")
	}
	return &quotes[0], nil
}

// run fetches and posts one quote. Bound to the cron schedule in
// [Bot.Run].
func (q *quotePoster) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	quote, err := q.fetch(ctx)
	if err != nil {
		q.logger.Error("error fetching quote", tint.Err(err))
		return
	}

	embed := &discordgo.MessageEmbed{
		Title:       "💬 Quote of the Day",
		Description: fmt.Sprintf("*\"%s\"*\n\n— **%s**", quote.Quote, quote.Author),
		Color:       colorBlurple,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Powered by zenquotes.io"},
		Timestamp:   time.Now().Format(time.RFC3339),
	}
	if _, err = q.bot.discord.session.ChannelMessageSendEmbed(
		q.config.ChannelID,
		embed,
	); err != nil {
		q.logger.Error("error posting quote", tint.Err(err))
		return
	}
	q.logger.Info("posted quote of the day", "author", quote.Author)

	if q.bot.db != nil {
		record := QuoteRecord{
			Quote:     quote.Quote,
			Author:    quote.Author,
			ChannelID: q.config.ChannelID,
		}
		if err = q.bot.db.Create(&record).Error; err != nil {
			q.logger.Error("error saving quote record", tint.Err(err))
		}
	}
}
