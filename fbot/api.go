package fbot

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

const xRequestIDHeader = "X-Request-ID"

// API is the read-only status server. It exposes liveness and a small
// operational snapshot, nothing that mutates bot state.
type API struct {
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger
	bot        *Bot
}

// newAPI initializes the status API without starting it.
func newAPI(b *Bot, config *APIConfig) *API {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	api := &API{
		config: config,
		engine: r,
		logger: b.logger.With(loggerNameKey, "api"),
		bot:    b,
	}
	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		api.loggingMiddleware(),
	)
	r.GET("/healthz", api.healthzHandler)
	r.GET("/status", api.statusHandler)
	return api
}

// Serve listens and blocks until ctx is canceled or the server fails.
// Cancellation triggers a graceful shutdown bounded by the configured
// shutdown timeout.
func (a *API) Serve(ctx context.Context) error {
	listener, err := net.Listen(a.config.ListenNetwork, a.config.Listen)
	if err != nil {
		return err
	}
	a.listener = listener
	a.logger.Info("api listening", "address", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownTimeout := a.bot.config.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = DefaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		return a.httpServer.Shutdown(shutdownCtx)
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(xRequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(xRequestIDHeader, requestID)
		c.Header(xRequestIDHeader, requestID)
		c.Next()
	}
}

func (a *API) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.logger.Info(
			"request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"request_id", c.GetString(xRequestIDHeader),
		)
		for _, ginErr := range c.Errors {
			a.logger.Error("request error", tint.Err(ginErr))
		}
	}
}

func (a *API) healthzHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// botStatus is the /status response payload.
type botStatus struct {
	Uptime           string         `json:"uptime"`
	DiscordConnected bool           `json:"discord_connected"`
	AIEnabled        bool           `json:"ai_enabled"`
	ActiveSessions   int            `json:"active_sessions"`
	Requests         int64          `json:"requests"`
	RequestsFailed   int64          `json:"requests_failed"`
	Commands         []string       `json:"commands"`
	GatewayMetrics   gatewayMetrics `json:"gateway"`
}

type gatewayMetrics struct {
	Connects    int64 `json:"connects"`
	Disconnects int64 `json:"disconnects"`
}

func (a *API) statusHandler(c *gin.Context) {
	commands := make([]string, 0, len(a.bot.commands))
	for _, command := range modelRouteOrder {
		if _, ok := a.bot.commands[command]; ok {
			commands = append(commands, command)
		}
	}
	c.JSON(
		http.StatusOK, botStatus{
			Uptime:           time.Since(a.bot.startedAt).Round(time.Second).String(),
			DiscordConnected: a.bot.discord.connected.Load(),
			AIEnabled:        a.bot.aiEnabled.Load(),
			ActiveSessions:   a.bot.sessions.ActiveCount(),
			Requests:         a.bot.metricRequests.Load(),
			RequestsFailed:   a.bot.metricRequestsFailed.Load(),
			Commands:         commands,
			GatewayMetrics: gatewayMetrics{
				Connects:    a.bot.discord.metricConnects.Load(),
				Disconnects: a.bot.discord.metricDisconnects.Load(),
			},
		},
	)
}
