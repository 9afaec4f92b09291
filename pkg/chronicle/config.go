package chronicle

import "time"

// Config holds the tunables spec.md §6 exposes, plain fields with
// defaults applied at construction (no env-var loader or flag library:
// the teacher configures its EventStore the same way, through a struct
// passed to a constructor).
type Config struct {
	WorkerCount             int
	QueueDepth              int
	LockTimeoutMillis       int
	SubscriberTimeoutMillis int
	NTPServers              []string
}

// DefaultConfig returns spec.md §6's defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:             0, // 0 means "CPU count", resolved in Builder.Build
		QueueDepth:              1024,
		LockTimeoutMillis:       30000,
		SubscriberTimeoutMillis: 5000,
		NTPServers:              []string{"localhost"},
	}
}

func (c Config) lockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMillis) * time.Millisecond
}

func (c Config) subscriberTimeout() time.Duration {
	return time.Duration(c.SubscriberTimeoutMillis) * time.Millisecond
}
