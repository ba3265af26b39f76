package coordinator

import (
	"time"

	"github.com/durable-streams/core/internal/storage"
)

// Config holds every tunable of the per-stream runtime (spec §8's
// "Configuration is a fixed struct with the recognized options
// enumerated").
type Config struct {
	LongPollTimeout      time.Duration
	LongPollCacheSeconds int
	SSEReconnectInterval time.Duration
	WSWriteTimeout       time.Duration
	MaxChunkBytes        int
	ReadCoalesceWindow   time.Duration
	WaiterStagger        time.Duration
	IdleEvictAfter       time.Duration
	Rotation             storage.RotationConfig
}

// DefaultConfig mirrors the teacher's handler defaults, extended with
// the new tunables this runtime adds.
func DefaultConfig() Config {
	return Config{
		LongPollTimeout:      30 * time.Second,
		LongPollCacheSeconds: 5,
		SSEReconnectInterval: 60 * time.Second,
		WSWriteTimeout:       10 * time.Second,
		MaxChunkBytes:        1 << 20,
		ReadCoalesceWindow:   25 * time.Millisecond,
		WaiterStagger:        250 * time.Millisecond,
		IdleEvictAfter:       10 * time.Minute,
		Rotation:             storage.DefaultRotationConfig,
	}
}
