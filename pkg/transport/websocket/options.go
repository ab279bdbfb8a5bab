package websocket

import (
	"time"
)

// ConnOptions represents per-connection transport options
type ConnOptions struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxFrameSize   int64
	SendBufferSize int
}

// DefaultConnOptions returns default connection options
func DefaultConnOptions() ConnOptions {
	return ConnOptions{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxFrameSize:   512 * 1024, // 512KB
		SendBufferSize: 256,
	}
}
