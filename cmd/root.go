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

	"github.com/castellanbot/castellan/castellan"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = castellan.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "castellan [flags]",
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
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", castellan.DefaultDatabase)
	viper.SetDefault("database_type", castellan.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		castellan.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		castellan.DefaultDatabaseLogLevel.String(),
	)
	viper.SetDefault("log_level", castellan.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", castellan.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", castellan.DefaultShutdownTimeout)
	viper.SetDefault("session_ttl", castellan.DefaultSessionTTL)
	viper.SetDefault(
		"session_sweep_interval",
		castellan.DefaultSessionSweepInterval,
	)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault(
		"discord.log_level",
		castellan.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		castellan.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		castellan.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault("discord.notification_channel_id", "")
	viper.SetDefault(
		"discord.startup_message",
		castellan.DefaultDiscordStartupMessage,
	)
	viper.SetDefault(
		"discord.notify_rate_per_second",
		castellan.DefaultNotifyRatePerSecond,
	)
	viper.SetDefault("discord.notify_burst", castellan.DefaultNotifyBurst)

	// OpenAI config
	viper.SetDefault("openai.token", "")
	viper.SetDefault("openai.model", castellan.DefaultOpenAIModel)
	viper.SetDefault("openai.log_level", castellan.DefaultOpenAILogLevel.String())

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", castellan.DefaultAPIListen)
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.admin_username", "")
	viper.SetDefault("api.admin_password_hash", "")
	viper.SetDefault("api.session_max_age", castellan.DefaultAPISessionMaxAge)
	viper.SetDefault("api.read_timeout", castellan.DefaultAPIReadTimeout)
	viper.SetDefault("api.write_timeout", castellan.DefaultAPIWriteTimeout)
	viper.SetDefault("api.idle_timeout", castellan.DefaultAPIIdleTimeout)
	viper.SetDefault("api.development", false)
	viper.SetDefault("api.log_level", castellan.DefaultAPILogLevel.String())

	// API: CORS config
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.allow_methods", castellan.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.allow_headers", castellan.DefaultCORSAllowHeaders)
	viper.SetDefault("api.cors.allow_credentials", true)
	viper.SetDefault("api.cors.max_age", castellan.DefaultCORSMaxAge)

	envPrefix := os.Getenv(castellan.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = castellan.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"openai.log_level",
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
