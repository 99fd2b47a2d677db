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
	"github.com/kentiq/prometheus/prometheus"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = prometheus.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "prometheus [flags]",
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

	viper.SetDefault("data_dir", prometheus.DefaultDataDir)
	viper.SetDefault("backup_dir", prometheus.DefaultBackupDir)
	viper.SetDefault("database", prometheus.DefaultDatabase)
	viper.SetDefault(
		"database_slow_threshold",
		prometheus.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		prometheus.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", prometheus.DefaultLogLevel.String())

	viper.SetDefault("startup_timeout", prometheus.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", prometheus.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault(
		"discord.log_level",
		prometheus.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		prometheus.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		prometheus.DefaultGatewayIntents,
	)
	viper.SetDefault(
		"discord.startup_message",
		prometheus.DefaultDiscordStartupMessage,
	)

	// Deploy notifier and its HTTP listener
	viper.SetDefault("deploy.listen", prometheus.DefaultDeployListen)
	viper.SetDefault(
		"deploy.listen_network",
		prometheus.DefaultDeployListenNetwork,
	)
	viper.SetDefault("deploy.monitor_channel_id", "")
	viper.SetDefault("deploy.webhook_url", "")
	viper.SetDefault(
		"deploy.webhook_timeout",
		prometheus.DefaultDeployWebhookTimeout,
	)
	viper.SetDefault("deploy.stage_delay", prometheus.DefaultDeployStageDelay)
	viper.SetDefault(
		"deploy.log_level",
		prometheus.DefaultDeployLogLevel.String(),
	)
	viper.SetDefault("deploy.read_timeout", prometheus.DefaultReadTimeout)
	viper.SetDefault("deploy.write_timeout", prometheus.DefaultWriteTimeout)
	viper.SetDefault("deploy.idle_timeout", prometheus.DefaultIdleTimeout)

	// Rate limiter
	viper.SetDefault("rate_limit.window", prometheus.DefaultRateLimitWindow)
	viper.SetDefault(
		"rate_limit.max_per_window",
		prometheus.DefaultRateLimitMax,
	)
	viper.SetDefault(
		"rate_limit.sweep_interval",
		prometheus.DefaultRateLimitSweep,
	)

	// Invite program
	viper.SetDefault(
		"invite_program.base_reward",
		prometheus.DefaultBaseReward,
	)

	envPrefix := os.Getenv(prometheus.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = prometheus.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	logLevelVar, err := levelStringToLevelVar(viper.GetString("log_level"))
	if err != nil {
		log.Fatalf("error parsing log_level: %v", err)
	}
	viper.Set("log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(
		viper.GetString("discord.log_level"),
	)
	if err != nil {
		log.Fatalf("error parsing discord log level: %v", err)
	}
	viper.Set("discord.log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(
		viper.GetString("discord.discordgo_log_level"),
	)
	if err != nil {
		log.Fatalf("error parsing discordgo log level: %v", err)
	}
	viper.Set("discord.discordgo_log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(
		viper.GetString("database_log_level"),
	)
	if err != nil {
		log.Fatalf("error parsing database log level: %v", err)
	}
	viper.Set("database_log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(
		viper.GetString("deploy.log_level"),
	)
	if err != nil {
		log.Fatalf("error parsing deploy log level: %v", err)
	}
	viper.Set("deploy.log_level", logLevelVar)
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
