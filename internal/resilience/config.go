package resilience

import (
	"time"

	"github.com/sells-group/bureau-cli/internal/config"
)

// FromConfig converts the breaker section of the application config.
// Unset values keep the defaults.
func FromConfig(cfg config.BreakerConfig) BreakerConfig {
	out := DefaultBreakerConfig()
	if cfg.FailureThreshold > 0 {
		out.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.ResetTimeoutSecs > 0 {
		out.ResetTimeout = time.Duration(cfg.ResetTimeoutSecs) * time.Second
	}
	return out
}
