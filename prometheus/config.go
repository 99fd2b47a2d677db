//nolint:lll // struct tags can't be split
package prometheus

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
)

const (
	EnvvarSetEnvPrefix = "PROMETHEUS_ENV_PREFIX"
	DefaultEnvPrefix   = "PROM"

	DefaultDataDir         = "configuration"
	DefaultBackupDir       = "backups"
	DefaultDatabase        = "prometheus.sqlite3"
	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultDiscordLogLevel   = slog.LevelWarn
	DefaultDiscordgoLogLevel = slog.LevelWarn
	DefaultDatabaseLogLevel  = slog.LevelInfo
	DefaultDeployLogLevel    = slog.LevelInfo

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond

	// DefaultDeployListen matches the port the CI pipeline is configured to
	// call. The listener binds all interfaces; the host firewall is expected
	// to keep it private.
	DefaultDeployListen        = ":3030"
	DefaultDeployListenNetwork = "tcp"
	DefaultReadTimeout         = 5 * time.Second
	DefaultWriteTimeout        = 10 * time.Second
	DefaultIdleTimeout         = 30 * time.Second
	DefaultDeployStageDelay    = time.Second

	// DefaultDeployWebhookTimeout bounds the outbound POST to the Discord
	// webhook used by /deploytest. The CI caller has a short budget of its
	// own, so this stays tight.
	DefaultDeployWebhookTimeout = 5 * time.Second

	DefaultRateLimitWindow = time.Minute
	DefaultRateLimitMax    = 10
	DefaultRateLimitSweep  = time.Hour

	DefaultDiscordStartupMessage = "Prometheus online. Ready to transmit digital artifacts."
	DefaultDiscordErrorMessage   = "❌ An error occurred while processing this command."

	// DefaultGatewayIntents covers guilds, members (join greetings and invite
	// attribution), reactions (access roles) and invites (use-count diffing).
	DefaultGatewayIntents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsGuildInvites
)

// DefaultBaseReward is the K-Credit value of a single credited invite before
// the tier multiplier is applied.
const DefaultBaseReward = 1.0

// Config is the full startup configuration for the bot. Values are populated
// by viper (env vars / .env via the cmd package) and validated once at load;
// nothing here changes at runtime — the runtime-mutable state lives in the
// JSON catalog store.
type Config struct {
	// DataDir is the directory holding the flat JSON state files (catalogs,
	// ticket config, invite ledger, bot config, deploy message pointer).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir" json:"data_dir" binding:"required"`

	// BackupDir receives timestamped copies of the JSON files on /backup.
	BackupDir string `yaml:"backup_dir" mapstructure:"backup_dir" json:"backup_dir" binding:"required"`

	// Database is the sqlite path for the local audit store (interaction log,
	// ticket lifecycle records).
	Database string `yaml:"database" mapstructure:"database" json:"database" binding:"required"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout bounds initialization. If it elapses, startup aborts.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time allowed for a graceful shutdown before
	// connections are force-closed.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// Discord configures the bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord" binding:"required"`

	// Deploy configures the CI deployment notifier and its HTTP listener
	Deploy *DeployConfig `yaml:"deploy" mapstructure:"deploy" json:"deploy" binding:"required"`

	// RateLimit configures the per-user fixed-window command limiter
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit" json:"rate_limit"`

	// InviteProgram configures the invite-referral reward ledger
	InviteProgram InviteProgramConfig `yaml:"invite_program" mapstructure:"invite_program" json:"invite_program"`

	HTTPClient *http.Client `log:"[redacted]"`
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID is the single community this bot serves. Slash commands are
	// registered against it rather than globally.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id" binding:"required"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// StartupMessage, if set, is sent to the deploy monitor channel whenever
	// the bot connects to the gateway.
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// DeployConfig configures the deployment-status notifier: the channel the
// status message lives in, the outbound webhook used by /deploytest, and the
// HTTP listener the CI pipeline calls.
//
//nolint:lll // can't break tags
type DeployConfig struct {
	// The address and port on which the listener accepts CI calls.
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required,hostname_port|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required,oneof=tcp tcp4 tcp6 unix"`

	// MonitorChannelID is the channel the deployment status message is posted
	// to. Empty disables the notifier (calls degrade to logged warnings).
	MonitorChannelID string `yaml:"monitor_channel_id" mapstructure:"monitor_channel_id" json:"monitor_channel_id"`

	// WebhookURL is the Discord webhook /deploytest posts to.
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url" json:"webhook_url" log:"[redacted]"`

	// WebhookTimeout bounds the outbound webhook POST.
	WebhookTimeout time.Duration `yaml:"webhook_timeout" mapstructure:"webhook_timeout" json:"webhook_timeout"`

	// StageDelay is the base delay between the canned presentation stages
	// fired after /deploy. Stage N lands at N*StageDelay.
	StageDelay time.Duration `yaml:"stage_delay" mapstructure:"stage_delay" json:"stage_delay"`

	// The logging level for the deploy subsystem.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"min=1s"`

	// Maximum amount to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"min=1s"`
}

// RateLimitConfig configures the fixed-window per-user interaction limiter.
type RateLimitConfig struct {
	// Window is the fixed window length.
	Window time.Duration `yaml:"window" mapstructure:"window" json:"window" binding:"min=1s"`

	// MaxPerWindow is the number of interactions allowed per window.
	MaxPerWindow int `yaml:"max_per_window" mapstructure:"max_per_window" json:"max_per_window" binding:"min=1"`

	// SweepInterval is how often stale entries are evicted.
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval" json:"sweep_interval" binding:"min=1s"`
}

// InviteProgramConfig configures the invite-reward ledger. Tiers must be
// strictly increasing in MinInvites; this is checked at load.
type InviteProgramConfig struct {
	// BaseReward is the K-Credit value of one credited invite before the tier
	// multiplier applies.
	BaseReward float64 `yaml:"base_reward" mapstructure:"base_reward" json:"base_reward" binding:"gt=0"`

	// Tiers is the static tier table, ordered by ascending threshold.
	Tiers []RewardTier `yaml:"tiers" mapstructure:"tiers" json:"tiers" binding:"required,dive"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// Validate checks the loaded configuration against its binding tags plus the
// cross-field invariants the tags can't express. Called once at startup;
// failures are fatal.
func (c *Config) Validate() error {
	v := validator.New()
	v.SetTagName("binding")
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	prev := 0
	for i, tier := range c.InviteProgram.Tiers {
		if tier.MinInvites <= prev && i > 0 {
			return fmt.Errorf(
				"invalid config: invite tier thresholds must be strictly increasing (tier %q)",
				tier.ID,
			)
		}
		if tier.Multiplier < 1.0 {
			return fmt.Errorf(
				"invalid config: invite tier %q multiplier must be >= 1.0",
				tier.ID,
			)
		}
		prev = tier.MinInvites
	}
	return nil
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	deployLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	deployLogLevel.Set(DefaultDeployLogLevel)

	return &Config{
		DataDir:               DefaultDataDir,
		BackupDir:             DefaultBackupDir,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			GatewayIntents:    DefaultGatewayIntents,
			StartupMessage:    DefaultDiscordStartupMessage,
		},
		Deploy: &DeployConfig{
			Listen:         DefaultDeployListen,
			ListenNetwork:  DefaultDeployListenNetwork,
			LogLevel:       deployLogLevel,
			StageDelay:     DefaultDeployStageDelay,
			WebhookTimeout: DefaultDeployWebhookTimeout,
			ReadTimeout:    DefaultReadTimeout,
			WriteTimeout:   DefaultWriteTimeout,
			IdleTimeout:    DefaultIdleTimeout,
		},
		RateLimit: RateLimitConfig{
			Window:        DefaultRateLimitWindow,
			MaxPerWindow:  DefaultRateLimitMax,
			SweepInterval: DefaultRateLimitSweep,
		},
		InviteProgram: InviteProgramConfig{
			BaseReward: DefaultBaseReward,
			Tiers:      DefaultTierTable(),
		},
	}
}
