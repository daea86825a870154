//nolint:lll // struct tags can't be split
package castellan

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
)

const (
	EnvvarSetEnvPrefix = "CASTELLAN_ENV_PREFIX"
	DefaultEnvPrefix   = "CSTL"

	DefaultDatabaseType          = "sqlite"
	DefaultDatabase              = "castellan.sqlite3"
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelInfo

	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	// DefaultSessionTTL is how long an abandoned multi-page application
	// session is retained before the sweeper evicts it. 0 disables eviction.
	DefaultSessionTTL           = 30 * time.Minute
	DefaultSessionSweepInterval = time.Minute

	DefaultDiscordLogLevel       = slog.LevelWarn
	DefaultDiscordgoLogLevel     = slog.LevelWarn
	DefaultDiscordStartupMessage = "I'm here!"

	// DefaultNotifyRatePerSecond limits best-effort outbound notifications
	// (applicant DMs, log/results channel posts, role grants).
	DefaultNotifyRatePerSecond = 2
	DefaultNotifyBurst         = 4

	DiscordSlashCommandApplications = "applications"
	DiscordSlashCommandVerification = "verification"
	DiscordSlashCommandSticky       = "sticky"

	DefaultAPIListen         = "127.0.0.1:5000"
	DefaultAPILogLevel       = slog.LevelInfo
	DefaultAPISessionMaxAge  = 6 * time.Hour
	DefaultAPIReadTimeout    = 5 * time.Second
	DefaultAPIWriteTimeout   = 10 * time.Second
	DefaultAPIIdleTimeout    = 30 * time.Second
	defaultListenNetwork     = "tcp"
	DefaultCORSMaxAge        = 12 * time.Hour
	DefaultOpenAILogLevel    = slog.LevelInfo
	DefaultOpenAIModel       = "gpt-4o-mini"
	discordMaxMessageLength  = 2000
	DefaultStickyMinInterval = 10 * time.Second
)

// DefaultDiscordGatewayIntent includes the privileged intents the bot needs
// for member join events and sticky-message reposting.
const DefaultDiscordGatewayIntent = discordgo.IntentsAllWithoutPrivileged |
	discordgo.IntentsGuildMembers | discordgo.IntentMessageContent

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodDelete,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Requested-With",
		"Cache-Control",
	}
)

// Config is the top-level bot configuration, loaded via viper from
// environment variables and/or an env file.
type Config struct {
	// Database connection string, or SQLite file path
	Database string `yaml:"database" mapstructure:"database" json:"database" validate:"required"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" validate:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// SessionTTL is the maximum age of an in-flight application session.
	// Sessions older than this are evicted by the sweeper. 0 disables eviction.
	SessionTTL time.Duration `yaml:"session_ttl" mapstructure:"session_ttl" json:"session_ttl"`

	// SessionSweepInterval is how often abandoned sessions are swept
	SessionSweepInterval time.Duration `yaml:"session_sweep_interval" mapstructure:"session_sweep_interval" json:"session_sweep_interval"`

	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord" validate:"required"`

	// API configures the backend review API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// OpenAI optionally configures reviewer-facing application summaries
	OpenAI *OpenAIConfig `yaml:"openai" mapstructure:"openai" json:"openai"`

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
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" validate:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" validate:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// If set, the bot sends StartupMessage to this channel whenever it
	// connects to the discord gateway.
	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// NotifyRatePerSecond / NotifyBurst bound the rate of best-effort
	// outbound notifications (DMs, log posts, role grants)
	NotifyRatePerSecond float64 `yaml:"notify_rate_per_second" mapstructure:"notify_rate_per_second" json:"notify_rate_per_second"`
	NotifyBurst         int     `yaml:"notify_burst" mapstructure:"notify_burst" json:"notify_burst"`

	httpClient *http.Client
}

// APIConfig configures the backend review API server.
//
//nolint:lll // can't break tags
type APIConfig struct {
	// Determines if the API server should be started
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000")
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen"`

	// Secret used to authenticate API session cookies. If empty, a random
	// secret is generated on startup (sessions won't survive a restart).
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]"`

	// AdminUsername / AdminPasswordHash are the credentials accepted by the
	// login endpoint. The hash is an argon2id string as produced by
	// `castellan init`.
	AdminUsername     string `yaml:"admin_username" mapstructure:"admin_username" json:"admin_username"`
	AdminPasswordHash string `yaml:"admin_password_hash" mapstructure:"admin_password_hash" json:"admin_password_hash" log:"[redacted]"`

	SessionMaxAge time.Duration `yaml:"session_max_age" mapstructure:"session_max_age" json:"session_max_age"`

	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`

	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Development enables gin debug mode and the pprof endpoints
	Development bool `yaml:"development" mapstructure:"development" json:"development"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// CORSConfig sets CORS options for the API server.
//
//nolint:lll // struct tags
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

// OpenAIConfig optionally enables reviewer-facing summaries of submitted
// applications. Disabled when Token is empty.
//
//nolint:lll // struct tags
type OpenAIConfig struct {
	Token    string         `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`
	Model    string         `yaml:"model" mapstructure:"model" json:"model"`
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// DefaultConfig returns a Config with all defaults set.
func DefaultConfig() *Config {
	return &Config{
		Database:              DefaultDatabase,
		DatabaseType:          DefaultDatabaseType,
		DatabaseLogLevel:      newLevelVar(DefaultDatabaseLogLevel),
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              newLevelVar(DefaultLogLevel),
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		SessionTTL:            DefaultSessionTTL,
		SessionSweepInterval:  DefaultSessionSweepInterval,
		Discord: &DiscordConfig{
			LogLevel:            newLevelVar(DefaultDiscordLogLevel),
			DiscordGoLogLevel:   newLevelVar(DefaultDiscordgoLogLevel),
			GatewayIntents:      DefaultDiscordGatewayIntent,
			StartupMessage:      DefaultDiscordStartupMessage,
			NotifyRatePerSecond: DefaultNotifyRatePerSecond,
			NotifyBurst:         DefaultNotifyBurst,
		},
		API: &APIConfig{
			Listen:        DefaultAPIListen,
			SessionMaxAge: DefaultAPISessionMaxAge,
			ReadTimeout:   DefaultAPIReadTimeout,
			WriteTimeout:  DefaultAPIWriteTimeout,
			IdleTimeout:   DefaultAPIIdleTimeout,
			LogLevel:      newLevelVar(DefaultAPILogLevel),
			CORS: CORSConfig{
				AllowMethods:     DefaultCORSAllowMethods,
				AllowHeaders:     DefaultCORSAllowHeaders,
				AllowCredentials: true,
				MaxAge:           DefaultCORSMaxAge,
			},
		},
		OpenAI: &OpenAIConfig{
			Model:    DefaultOpenAIModel,
			LogLevel: newLevelVar(DefaultOpenAILogLevel),
		},
	}
}

func newLevelVar(lvl slog.Level) *slog.LevelVar {
	v := &slog.LevelVar{}
	v.Set(lvl)
	return v
}

// validateConfig checks required fields and enum constraints, returning a
// descriptive error for the first violation found.
func validateConfig(c *Config) error {
	v := validator.New()
	err := v.Struct(c)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if errors.As(err, &errs) && len(errs) > 0 {
		e := errs[0]
		return fmt.Errorf(
			"invalid config: field %q failed %q validation",
			e.Namespace(), e.Tag(),
		)
	}
	return fmt.Errorf("invalid config: %w", err)
}
