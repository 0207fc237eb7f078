package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Chat      ChatConfig     `mapstructure:"chat"`
	Call      CallConfig     `mapstructure:"call"`
	Presence  PresenceConfig `mapstructure:"presence"`
	Review    ReviewConfig   `mapstructure:"review"`
	LogLevel  string         `mapstructure:"logLevel"`
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

// ConnectionLimitConfig caps simultaneous connections per identity.
// Zero means unlimited, which keeps "latest session wins" duplicate logins
// possible without tearing down the older socket.
type ConnectionLimitConfig struct {
	MaxPerIdentity int    `mapstructure:"maxPerIdentity"`
	Mode           string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

// ChatConfig selects and tunes the chat history store.
type ChatConfig struct {
	Store           string `mapstructure:"store"` // "memory", "sqlite" or "redis"
	SQLitePath      string `mapstructure:"sqlitePath"`
	RedisAddr       string `mapstructure:"redisAddr"`
	HistoryLimit    int    `mapstructure:"historyLimit"`
	RedisHistoryCap int    `mapstructure:"redisHistoryCap"`
}

type CallConfig struct {
	RingTimeout time.Duration `mapstructure:"ringTimeout"`
}

// PresenceConfig tunes the disconnect coalescing window: the active-user
// list is recomputed this long after a disconnect so a quick reconnect
// does not flicker in the member list.
type PresenceConfig struct {
	LeaveDelay time.Duration `mapstructure:"leaveDelay"`
}

type ReviewConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"apiKey"`
	Timeout  time.Duration `mapstructure:"timeout"`
}
