package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. CHATRELAY_HTTP_PORT
const EnvPrefix = "CHATRELAY"

// ConfigFileEnv names a config file when no -config flag is given
const ConfigFileEnv = EnvPrefix + "_CONFIG_FILE"

// Store backends
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// Identity provider modes
const (
	AuthHeader = "header"
	AuthJWT    = "jwt"
)

// Conversation directory modes
const (
	DirectoryOpen     = "open"
	DirectoryDatabase = "database"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	HTTP      *HTTPConfig      `mapstructure:"http"`
	WebSocket *WebSocketConfig `mapstructure:"websocket"`
	Session   *SessionConfig   `mapstructure:"session"`
	RateLimit *RateLimitConfig `mapstructure:"rate_limit"`
	Store     *StoreConfig     `mapstructure:"store"`
	Redis     *RedisConfig     `mapstructure:"redis"`
	Database  *DatabaseConfig  `mapstructure:"database"`
	Auth      *AuthConfig      `mapstructure:"auth"`
	Directory *DirectoryConfig `mapstructure:"directory"`
	Log       *LogConfig       `mapstructure:"log"`
}

type HTTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// FUNCTIONAL DISCOVERY: WriteTimeout bounds a single push to one client so a
// stalled socket never holds up the rest of the room
type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxFrameSize   int64         `mapstructure:"max_frame_size"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type SessionConfig struct {
	HistoryLimit     int `mapstructure:"history_limit"`
	MaxContentLength int `mapstructure:"max_content_length"`
}

type RateLimitConfig struct {
	MaxPerWindow    int           `mapstructure:"max_per_window"`
	Window          time.Duration `mapstructure:"window"`
	IdleTTL         time.Duration `mapstructure:"idle_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type StoreConfig struct {
	Backend   string        `mapstructure:"backend"`
	MaxLength int           `mapstructure:"max_length"`
	TTL       time.Duration `mapstructure:"ttl"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// FUNCTIONAL DISCOVERY: Database configuration supports SQLite optimizations
type DatabaseConfig struct {
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	Mode   string `mapstructure:"mode"`
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type DirectoryConfig struct {
	Mode string `mapstructure:"mode"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// FUNCTIONAL DISCOVERY: Defaults run a single node with in-memory history,
// a 30s heartbeat and the one-message-per-second budget
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     100,
			MaxFrameSize:   64 * 1024,
			AllowedOrigins: []string{},
		},
		Session: &SessionConfig{
			HistoryLimit:     50,
			MaxContentLength: 4096,
		},
		RateLimit: &RateLimitConfig{
			MaxPerWindow:    1,
			Window:          time.Second,
			IdleTTL:         5 * time.Minute,
			CleanupInterval: time.Minute,
		},
		Store: &StoreConfig{
			Backend:   StoreMemory,
			MaxLength: 1000,
			TTL:       7 * 24 * time.Hour,
			Timeout:   2 * time.Second,
		},
		Redis: &RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "chat",
		},
		Database: &DatabaseConfig{
			Path:    "./chatrelay.db",
			Timeout: 30 * time.Second,
		},
		Auth: &AuthConfig{
			Mode: AuthHeader,
		},
		Directory: &DirectoryConfig{
			Mode: DirectoryOpen,
		},
		Log: &LogConfig{
			Level: "info",
		},
	}
}

// Address returns host:port for the HTTP listener
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// UsesDatabase reports whether any component needs the SQLite database
func (c *Config) UsesDatabase() bool {
	return c.Store.Backend == StoreSQLite || c.Directory.Mode == DirectoryDatabase
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
// Critical for preventing runtime failures in production deployment
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	// Port 0 asks the kernel for a free port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP shutdown timeout must be positive")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxFrameSize <= 0 {
		return fmt.Errorf("WebSocket max frame size must be positive")
	}

	if c.Session == nil {
		return fmt.Errorf("session configuration is required")
	}
	if c.Session.HistoryLimit < 0 {
		return fmt.Errorf("session history limit cannot be negative")
	}
	if c.Session.MaxContentLength <= 0 {
		return fmt.Errorf("session max content length must be positive")
	}

	if c.RateLimit == nil {
		return fmt.Errorf("rate limit configuration is required")
	}
	if c.RateLimit.MaxPerWindow <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit budget and window must be positive")
	}
	if c.RateLimit.IdleTTL < c.RateLimit.Window {
		return fmt.Errorf("rate limit idle ttl must be at least the window")
	}
	if c.RateLimit.CleanupInterval <= 0 {
		return fmt.Errorf("rate limit cleanup interval must be positive")
	}

	if c.Store == nil {
		return fmt.Errorf("store configuration is required")
	}
	switch c.Store.Backend {
	case StoreMemory, StoreRedis, StoreSQLite:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.MaxLength < 0 {
		return fmt.Errorf("store max length cannot be negative")
	}
	if c.Store.Timeout <= 0 {
		return fmt.Errorf("store timeout must be positive")
	}

	if c.Redis == nil {
		return fmt.Errorf("redis configuration is required")
	}
	if c.Store.Backend == StoreRedis && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required for the redis store")
	}

	if c.Directory == nil {
		return fmt.Errorf("directory configuration is required")
	}
	switch c.Directory.Mode {
	case DirectoryOpen, DirectoryDatabase:
	default:
		return fmt.Errorf("unknown directory mode %q", c.Directory.Mode)
	}

	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.UsesDatabase() {
		if c.Database.Path == "" {
			return fmt.Errorf("database path cannot be empty")
		}
		if c.Database.Timeout <= 0 {
			return fmt.Errorf("database timeout must be positive")
		}
	}

	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}
	switch c.Auth.Mode {
	case AuthHeader:
	case AuthJWT:
		if c.Auth.Secret == "" {
			return fmt.Errorf("auth secret is required for jwt mode")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.Auth.Mode)
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv applies during Unmarshal
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("http.host", d.HTTP.Host)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.shutdown_timeout", d.HTTP.ShutdownTimeout)

	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.read_timeout", d.WebSocket.ReadTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.buffer_size", d.WebSocket.BufferSize)
	v.SetDefault("websocket.max_frame_size", d.WebSocket.MaxFrameSize)
	v.SetDefault("websocket.allowed_origins", d.WebSocket.AllowedOrigins)

	v.SetDefault("session.history_limit", d.Session.HistoryLimit)
	v.SetDefault("session.max_content_length", d.Session.MaxContentLength)

	v.SetDefault("rate_limit.max_per_window", d.RateLimit.MaxPerWindow)
	v.SetDefault("rate_limit.window", d.RateLimit.Window)
	v.SetDefault("rate_limit.idle_ttl", d.RateLimit.IdleTTL)
	v.SetDefault("rate_limit.cleanup_interval", d.RateLimit.CleanupInterval)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.max_length", d.Store.MaxLength)
	v.SetDefault("store.ttl", d.Store.TTL)
	v.SetDefault("store.timeout", d.Store.Timeout)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.prefix", d.Redis.Prefix)

	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.timeout", d.Database.Timeout)

	v.SetDefault("auth.mode", d.Auth.Mode)
	v.SetDefault("auth.secret", d.Auth.Secret)
	v.SetDefault("auth.issuer", d.Auth.Issuer)

	v.SetDefault("directory.mode", d.Directory.Mode)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
}

// Load builds the configuration with precedence env > file > defaults.
// An empty path falls back to CHATRELAY_CONFIG_FILE; with neither set no
// file is read. A named file that cannot be read is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
