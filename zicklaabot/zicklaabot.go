package zicklaabot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

var defaultLogWriter io.Writer = os.Stdout

// ZicklaaBot is the top-level bot instance: it owns the database, the
// Discord session, the reminder scheduler, the markov generator, the
// reaction handlers and the status API, and wires them together in
// [ZicklaaBot.Run].
type ZicklaaBot struct {
	config *Config

	// Pointer to a read-only GORM connection. This is from an
	// overabundance of caution for using SQLite.
	db *gorm.DB

	// gorm.DB wrapper for write/update/delete operations. The only
	// difference from [ZicklaaBot.db] is that, when using sqlite,
	// a mutex is used.
	writeDB DBI

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// Handles discord integration, sessions
	discord *Discord

	// Background reminder delivery loop
	scheduler *Scheduler

	// Markov sentence generator, also the scheduler's fallback
	// text source
	generator *SentenceGenerator

	// Reaction-driven favorites/starboard handlers
	starboard *Starboard

	// Status/health HTTP API
	api *API

	// Per-user pagination sessions for `/remindme list`
	listSessions *listSessionCache

	// signalStop enables an explicit stop signal to be sent to the bot
	signalStop chan struct{}

	// signalReady has a value sent on it when Run has finished
	// startup: database migrated, discord session open, commands
	// registered, scheduler running.
	signalReady chan struct{}

	// A signal is sent on this channel when shutdown has finished
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// The time Run was called
	startedAt time.Time

	timezone *time.Location
}

// New creates a ZicklaaBot instance from the given config. The
// returned bot is not yet connected to anything; call
// [ZicklaaBot.Run] to start it.
func New(config *Config) (*ZicklaaBot, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	b := &ZicklaaBot{
		config:        config,
		signalReady:   make(chan struct{}, 1),
		eventShutdown: make(chan struct{}, 1),
		listSessions:  newListSessionCache(),
	}

	b.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     b.config.LogLevel,
			AddSource: true,
		},
	)

	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	loc, err := time.LoadLocation(config.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid timezone %q: %w", config.Timezone, err))
		loc = time.UTC
	}
	b.timezone = loc

	b.config.Discord.httpClient = b.config.HTTPClient

	disc, err := newDiscord(b.config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     b.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	if disc != nil {
		disc.logger = slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     b.config.Discord.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "discord")
		disc.bot = b
		b.discord = disc
	}

	generator, err := NewSentenceGenerator(b.config.Markov, b.logger)
	if err != nil {
		errs = append(errs, err)
	}
	b.generator = generator

	api, err := newAPI(b, config.API)
	if err != nil {
		errs = append(errs, err)
	}
	b.api = api

	return b, errors.Join(errs...)
}

// ValidateConfig validates the bot's configuration.
func (b *ZicklaaBot) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

// RegisterSlashCommands registers the bot's slash commands via the
// bulk overwrite endpoint.
func (b *ZicklaaBot) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return b.discord.registerCommands(options...)
}

// Run starts the bot: opens the database, connects to Discord,
// registers commands, starts the reminder scheduler and the status
// API, and blocks until the context is canceled or Stop is called.
func (b *ZicklaaBot) Run(ctx context.Context) error {
	// prevents concurrent runs
	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.signalStop = make(chan struct{}, 1)
	b.startedAt = time.Now()
	logger := b.logger

	if err := b.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", b.config))

	if b.signalReady == nil {
		b.signalReady = make(chan struct{}, 1)
	}

	// the 'runtime' context - canceling it triggers a graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.signalStop:
			b.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			b.logger.Warn("context canceled, sending stop signal")
			b.signalStop <- struct{}{}
		}
	}()

	runtimeWG := &sync.WaitGroup{}

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	if err := b.initDB(startCtx); err != nil {
		logger.ErrorContext(ctx, "error initializing database", tint.Err(err))
		return err
	}

	b.starboard = newStarboard(b, b.config.Starboard)
	b.scheduler = newScheduler(b, b.config.Reminder)

	go func() {
		httpErr := b.api.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			b.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
		}
	}()

	if discErr := b.initDiscordSession(ctx, runtimeWG); discErr != nil {
		b.logger.ErrorContext(ctx, "error creating discord session", tint.Err(discErr))
		return discErr
	}

	if openErr := b.discord.session.Open(); openErr != nil {
		b.logger.ErrorContext(ctx, "error opening discord session", tint.Err(openErr))
		return openErr
	}

	if _, cmdErr := b.RegisterSlashCommands(); cmdErr != nil {
		return cmdErr
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		b.scheduler.Watch(ctx)
	}()

	b.signalReady <- struct{}{}
	b.logger.InfoContext(ctx, "sent ready signal")

	<-ctx.Done()

	return b.shutdown(ctx, runtimeWG)
}

// Stop signals a running bot to shut down.
func (b *ZicklaaBot) Stop() {
	if b.signalStop != nil {
		b.signalStop <- struct{}{}
	}
}

func (b *ZicklaaBot) initDB(ctx context.Context) error {
	db, err := CreateDB(ctx, b.config.DatabaseType, b.config.Database)
	if err != nil {
		return err
	}
	b.db = db
	b.writeDB = NewDatabase(
		db,
		b.logger,
		b.config.DatabaseType != dbTypeSQLite,
	)
	return nil
}

func (b *ZicklaaBot) initDiscordSession(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	logger := b.logger.With(loggerNameKey, "discord_session")

	if b.discord.session == nil {
		disc, discErr := b.discord.newSession()
		if discErr != nil {
			return fmt.Errorf("error creating discord session: %w", discErr)
		}
		b.discord.session = disc
	}

	ctx = WithLogger(ctx, logger)

	for _, h := range b.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	b.discord.discordgoRemoveHandlerFuncs = []func(){
		b.discord.session.AddHandler(b.discord.handlerConnect()),
		b.discord.session.AddHandler(b.discord.handlerDisconnect()),
		b.discord.session.AddHandler(b.discord.handlerReady()),
		b.discord.session.AddHandler(
			func(
				_ *discordgo.Session,
				i *discordgo.InteractionCreate,
			) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					b.handleInteraction(ctx, i)
				}()
			},
		),
		b.discord.session.AddHandler(
			func(
				_ *discordgo.Session,
				r *discordgo.MessageReactionAdd,
			) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					b.starboard.handleReactionAdd(ctx, r)
				}()
			},
		),
	}

	return nil
}

// handleInteraction routes an incoming interaction to the matching
// command or component handler. Panics and errors are contained here
// so a bad interaction never takes down the gateway handler.
func (b *ZicklaaBot) handleInteraction(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	logger := b.logger.With(
		slog.Group("interaction", interactionLogAttrs(*i)...),
	)
	ctx = WithLogger(ctx, logger)

	defer func() {
		if rv := recover(); rv != nil {
			logger.ErrorContext(ctx, "interaction handler panicked", "panic", rv)
		}
	}()

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		switch data.Name {
		case DiscordSlashCommandRemind:
			b.handleRemindCommand(ctx, i)
		case DiscordSlashCommandSchwarm:
			b.handleSchwarmCommand(ctx, i)
		default:
			logger.WarnContext(ctx, "unknown command", "command", data.Name)
		}
	case discordgo.InteractionMessageComponent:
		b.handleListComponent(ctx, i)
	default:
		logger.DebugContext(ctx, "ignoring interaction type", "type", i.Type)
	}
}

func (b *ZicklaaBot) shutdown(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	logger := b.logger
	logger.Warn("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		b.config.ShutdownTimeout,
	)
	defer shutdownCancel()

	defer func() {
		b.eventShutdown <- struct{}{}
	}()

	if b.discord != nil && b.discord.session != nil {
		if closeErr := b.discord.session.Close(); closeErr != nil {
			logger.Error("error closing discord session", tint.Err(closeErr))
		}
	}

	done := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait()
		done <- struct{}{}
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Error("shutdown timed out")
		return fmt.Errorf("shutdown timed out after %s", b.config.ShutdownTimeout)
	}
}
