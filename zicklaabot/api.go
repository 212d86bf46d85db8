package zicklaabot

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

const (
	apiPathHealth = "/healthz"
	apiPathStatus = "/status"
)

// API is a small status/health HTTP server. It exposes no mutating
// endpoints; it exists so process supervisors and dashboards can see
// whether the bot is alive and connected.
type API struct {
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger
	bot        *ZicklaaBot
}

type statusResponse struct {
	Status           string    `json:"status"`
	StartedAt        time.Time `json:"started_at"`
	UptimeSeconds    float64   `json:"uptime_seconds"`
	DiscordConnected bool      `json:"discord_connected"`
	PendingReminders int64     `json:"pending_reminders"`
}

func newAPI(b *ZicklaaBot, config *APIConfig) (*API, error) {
	setupLogger := slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	api := &API{
		config: config,
		engine: r,
		bot:    b,
		logger: setupLogger.With(loggerNameKey, "api"),
	}

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	api.httpServer = httpServer

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"*"}
	}

	r.Use(gin.Recovery(), cors.New(corsConfig))

	r.GET(apiPathHealth, api.healthCheck)
	r.GET(apiPathStatus, api.status)

	return api, nil
}

// Serve listens and serves until the context is canceled. A bot with
// no configured listen address runs without the API.
func (a *API) Serve(ctx context.Context) error {
	if a.config.Listen == "" {
		a.logger.InfoContext(ctx, "no listen address set, api disabled")
		return nil
	}

	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return err
		}
		a.listener = ln
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			5*time.Second,
		)
		defer cancel()
		_ = a.httpServer.Shutdown(shutdownCtx)
	}()

	a.logger.InfoContext(ctx, "api listening", "address", a.listener.Addr().String())
	return a.httpServer.Serve(a.listener)
}

func (a *API) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) status(c *gin.Context) {
	resp := statusResponse{
		Status:    "ok",
		StartedAt: a.bot.startedAt,
	}
	if !a.bot.startedAt.IsZero() {
		resp.UptimeSeconds = time.Since(a.bot.startedAt).Seconds()
	}
	if a.bot.discord != nil {
		resp.DiscordConnected = a.bot.discord.connected.Load()
	}
	if a.bot.scheduler != nil {
		count, err := a.bot.scheduler.PendingCount(c.Request.Context())
		if err != nil {
			a.logger.Error("error counting pending reminders", tint.Err(err))
		} else {
			resp.PendingReminders = count
		}
	}
	c.JSON(http.StatusOK, resp)
}
