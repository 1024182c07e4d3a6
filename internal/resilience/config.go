package resilience

import (
	"time"

	"github.com/sells-group/churnops/internal/config"
)

// FromConfig converts the retry section of the configuration. Zero values
// keep the defaults.
func FromConfig(c config.RetryConfig) RetryConfig {
	cfg := DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	if c.InitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(c.InitialBackoffMs) * time.Millisecond
	}
	if c.MaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(c.MaxBackoffMs) * time.Millisecond
	}
	if c.Multiplier > 0 {
		cfg.Multiplier = c.Multiplier
	}
	if c.JitterFraction >= 0 {
		cfg.JitterFraction = c.JitterFraction
	}
	return cfg
}
