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
	"github.com/zicklaa/zicklaabot/zicklaabot"
)

var (
	cfg        = zicklaabot.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "zicklaabot [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
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
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
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
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", zicklaabot.DefaultDatabase)
	viper.SetDefault("database_type", zicklaabot.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		zicklaabot.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		zicklaabot.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", zicklaabot.DefaultLogLevel.String())
	viper.SetDefault("timezone", zicklaabot.DefaultTimezone)

	viper.SetDefault("startup_timeout", zicklaabot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", zicklaabot.DefaultShutdownTimeout)

	// Reminder config
	viper.SetDefault(
		"reminder.poll_interval",
		zicklaabot.DefaultReminderPollInterval,
	)
	viper.SetDefault(
		"reminder.sends_per_second",
		zicklaabot.DefaultReminderSendsPerSecond,
	)
	viper.SetDefault(
		"reminder.list_page_budget",
		zicklaabot.DefaultListPageBudget,
	)
	viper.SetDefault(
		"reminder.list_text_max_chars",
		zicklaabot.DefaultListTextMaxChars,
	)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault(
		"discord.log_level",
		zicklaabot.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		zicklaabot.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		zicklaabot.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault("discord.notification_channel_id", "")
	viper.SetDefault(
		"discord.startup_message",
		zicklaabot.DefaultDiscordStartupMessage,
	)
	viper.SetDefault(
		"discord.custom_status",
		zicklaabot.DefaultDiscordCustomStatus,
	)
	viper.SetDefault(
		"discord.error_message",
		zicklaabot.DefaultDiscordErrorMessage,
	)

	// Starboard config
	viper.SetDefault("starboard.channel_id", "")
	viper.SetDefault("starboard.threshold", zicklaabot.DefaultStarboardThreshold)
	viper.SetDefault("starboard.star_emoji", zicklaabot.DefaultStarEmoji)
	viper.SetDefault("starboard.fav_emoji", zicklaabot.DefaultFavEmoji)

	// Markov config
	viper.SetDefault("markov.corpus_path", "")
	viper.SetDefault("markov.order", zicklaabot.DefaultMarkovOrder)
	viper.SetDefault("markov.max_tokens", zicklaabot.DefaultMarkovMaxTokens)

	// API config
	viper.SetDefault("api.listen", zicklaabot.DefaultAPIListen)
	viper.SetDefault("api.log_level", zicklaabot.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", zicklaabot.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		zicklaabot.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", zicklaabot.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", zicklaabot.DefaultIdleTimeout)

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		zicklaabot.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		zicklaabot.DefaultCORSAllowMethods,
	)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", zicklaabot.DefaultCORSMaxAge)

	envPrefix := os.Getenv(zicklaabot.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = zicklaabot.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
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
		"Config file to use",
	)
}
