package zicklaabot

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"github.com/go-playground/validator/v10"
)

const (
	EnvvarSetEnvPrefix = "ZICKLAABOT_ENV_PREFIX"
	DefaultEnvPrefix   = "ZB"

	DefaultDatabaseType          = "sqlite"
	DefaultDatabase              = "zicklaabot.sqlite3"
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelInfo

	DefaultLogLevel          = slog.LevelInfo
	DefaultDiscordLogLevel   = slog.LevelWarn
	DefaultDiscordgoLogLevel = slog.LevelWarn
	DefaultAPILogLevel       = slog.LevelInfo

	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultTimezone = "Europe/Berlin"

	// DefaultReminderPollInterval bounds worst-case delivery lateness:
	// a reminder due at T is sent no later than T + poll interval.
	DefaultReminderPollInterval = 10 * time.Second

	// DefaultReminderSendsPerSecond paces outbound reminder deliveries so a
	// backlog of overdue reminders can't trip Discord rate limits.
	DefaultReminderSendsPerSecond = 1

	DefaultListPageBudget   = 4096 - 300
	DefaultListTextMaxChars = 180

	DefaultStarboardThreshold = 3
	DefaultStarEmoji          = "⭐"
	DefaultFavEmoji           = "🔖"

	DefaultMarkovOrder     = 1
	DefaultMarkovMaxTokens = 50

	DefaultDiscordGatewayIntent = discordgo.IntentsAllWithoutPrivileged |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMessageReactions
	DefaultDiscordCustomStatus   = "/remindme mit mir!"
	DefaultDiscordStartupMessage = "Bin wieder da!"
	DefaultDiscordErrorMessage   = "Da ist was schiefgelaufen!"

	discordMaxMessageLength = 2000

	DefaultAPIListen         = "127.0.0.1:5000"
	defaultListenNetwork     = "tcp"
	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second
	DefaultCORSMaxAge        = 12 * time.Hour
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodHead,
		http.MethodOptions,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Cache-Control",
	}
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

//nolint:gochecknoinits // gotta register the validators
func init() {
	structValidator.SetTagName("binding")
}

// Config is the top-level bot configuration, loaded by cmd/ via viper.
type Config struct {
	// Database connection string, or SQLite file path
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Timezone is the IANA name of the single local zone all absolute
	// times are parsed and rendered in
	Timezone string `yaml:"timezone" mapstructure:"timezone" json:"timezone" binding:"required"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// Reminder configures the reminder subsystem
	Reminder *ReminderConfig `yaml:"reminder" mapstructure:"reminder" json:"reminder"`

	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Starboard configures the reaction-driven starboard/favorites feature
	Starboard *StarboardConfig `yaml:"starboard" mapstructure:"starboard" json:"starboard"`

	// Markov configures the markov sentence generator
	Markov *MarkovConfig `yaml:"markov" mapstructure:"markov" json:"markov"`

	// API configures the status/ops HTTP server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// ReminderConfig configures the reminder scheduler and list presentation.
type ReminderConfig struct {
	// PollInterval is how often the scheduler checks for a due reminder
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval" json:"poll_interval" binding:"required,min=1s"`

	// SendsPerSecond limits outbound delivery sends
	SendsPerSecond float64 `yaml:"sends_per_second" mapstructure:"sends_per_second" json:"sends_per_second" binding:"required,gt=0"`

	// ListPageBudget is the soft character budget for one page of the
	// reminder list (kept under the embed description hard limit)
	ListPageBudget int `yaml:"list_page_budget" mapstructure:"list_page_budget" json:"list_page_budget" binding:"required,min=200,max=4096"`

	// ListTextMaxChars truncates reminder text in list lines
	ListTextMaxChars int `yaml:"list_text_max_chars" mapstructure:"list_text_max_chars" json:"list_text_max_chars" binding:"required,min=10"`
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// If NotificationChannelID is set, StartupMessage is sent there
	// whenever the bot connects to the discord gateway
	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// CustomStatus is the bot user's presence text
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// ErrorMessage is the generic user-facing message sent when a
	// command fails for reasons the user can't fix
	ErrorMessage string `yaml:"error_message" mapstructure:"error_message" json:"error_message"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// StarboardConfig configures the reaction handlers. The feature is inactive
// when ChannelID is empty.
type StarboardConfig struct {
	// ChannelID is the channel starred messages get reposted into
	ChannelID string `yaml:"channel_id" mapstructure:"channel_id" json:"channel_id"`

	// Threshold is the star reaction count at which a message is reposted
	Threshold int `yaml:"threshold" mapstructure:"threshold" json:"threshold" binding:"required_with=ChannelID,omitempty,min=1"`

	StarEmoji string `yaml:"star_emoji" mapstructure:"star_emoji" json:"star_emoji"`
	FavEmoji  string `yaml:"fav_emoji" mapstructure:"fav_emoji" json:"fav_emoji"`
}

// MarkovConfig configures the sentence generator. The generator is inactive
// (and fallback reminder text degrades to a fixed phrase) when CorpusPath
// is empty.
type MarkovConfig struct {
	// CorpusPath points at a UTF-8 text file, one sentence per line
	CorpusPath string `yaml:"corpus_path" mapstructure:"corpus_path" json:"corpus_path"`

	// Order is the markov chain order
	Order int `yaml:"order" mapstructure:"order" json:"order" binding:"required,min=1,max=3"`

	// MaxTokens aborts a generation that never reaches an end token
	MaxTokens int `yaml:"max_tokens" mapstructure:"max_tokens" json:"max_tokens" binding:"required,min=5"`
}

// APIConfig configures the status HTTP server. The server is not started
// when Listen is empty.
type APIConfig struct {
	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"omitempty,oneof=tcp tcp4 tcp6 unix"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	MaxAge       time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins: c.AllowOrigins,
		AllowMethods: c.AllowMethods,
		AllowHeaders: c.AllowHeaders,
		MaxAge:       c.MaxAge,
	}
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	return CORSConfig{
		AllowOrigins: []string{},
		AllowMethods: defaultMethods,
		AllowHeaders: defaultHeaders,
		MaxAge:       DefaultCORSMaxAge,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		Timezone:              DefaultTimezone,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Reminder: &ReminderConfig{
			PollInterval:     DefaultReminderPollInterval,
			SendsPerSecond:   DefaultReminderSendsPerSecond,
			ListPageBudget:   DefaultListPageBudget,
			ListTextMaxChars: DefaultListTextMaxChars,
		},
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			StartupMessage:    DefaultDiscordStartupMessage,
			CustomStatus:      DefaultDiscordCustomStatus,
			ErrorMessage:      DefaultDiscordErrorMessage,
		},
		Starboard: &StarboardConfig{
			Threshold: DefaultStarboardThreshold,
			StarEmoji: DefaultStarEmoji,
			FavEmoji:  DefaultFavEmoji,
		},
		Markov: &MarkovConfig{
			Order:     DefaultMarkovOrder,
			MaxTokens: DefaultMarkovMaxTokens,
		},
		API: &APIConfig{
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}
