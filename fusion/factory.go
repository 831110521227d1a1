package fusion

import (
	"fmt"
	"strings"

	"github.com/creatorlens/onboarding-rag/config"
)

// NewStrategy constructs the strategy named in cfg. Empty means weighted.
func NewStrategy(cfg config.FusionConfig) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Strategy)) {
	case "", "weighted":
		return NewWeightedStrategy(), nil
	case "rrf":
		return NewRRFStrategy(cfg.RRFK), nil
	case "distribution":
		return NewDistributionStrategy(NewWeightedStrategy()), nil
	default:
		return nil, fmt.Errorf("unsupported fusion strategy: %s", cfg.Strategy)
	}
}
