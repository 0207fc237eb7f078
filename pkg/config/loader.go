package config

import (
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from a file and environment variables.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.auth.jwtSecret", "default-secret-key-change-me")
	v.SetDefault("server.connectionLimit.maxPerIdentity", 0)
	v.SetDefault("server.connectionLimit.mode", "reject")
	v.SetDefault("transport.readTimeout", "60s")
	v.SetDefault("chat.store", "memory")
	v.SetDefault("chat.sqlitePath", "codex.db")
	v.SetDefault("chat.redisAddr", "localhost:6379")
	v.SetDefault("chat.historyLimit", 100)
	v.SetDefault("chat.redisHistoryCap", 500)
	v.SetDefault("call.ringTimeout", "30s")
	v.SetDefault("presence.leaveDelay", "100ms")
	v.SetDefault("review.endpoint", "")
	v.SetDefault("review.timeout", "15s")

	// 2. Set config file details
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".") // look for config in the working directory

	// 3. Set up environment variable handling
	v.SetEnvPrefix("CODEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
