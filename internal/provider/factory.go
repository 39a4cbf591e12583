// internal/provider/factory.go
package provider

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/webpilot-ai/webpilot/internal/config"
)

// New constructs the configured provider for a given model-space display
// size.
func New(cfg config.ProviderConfig, displayWidth, displayHeight int, logger *zap.Logger) (Provider, error) {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	switch strings.ToLower(cfg.Kind) {
	case "anthropic":
		return NewConversationalProvider(cfg.Anthropic, displayWidth, displayHeight, limiter, logger)
	case "ollama":
		return NewStatelessProvider(cfg.Ollama, limiter, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}
