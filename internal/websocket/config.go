package websocket

import "time"

// Config controls transport timing and limits for every connection
type Config struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
	MaxFrameSize int64

	// AllowedOrigins lists accepted Origin hosts. Empty means same host
	// only; "*" accepts any origin.
	AllowedOrigins []string
}

// DefaultConfig returns production transport settings
func DefaultConfig() Config {
	return Config{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		BufferSize:   100,
		MaxFrameSize: 64 * 1024,
	}
}
