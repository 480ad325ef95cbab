// Package registry resolves a model.Tier to a concrete Anthropic model ID
// and its per-tier pricing, per §4.4 of the spec.
package registry

import (
	"fmt"

	"github.com/aaronbassett/paige/internal/model"
)

// tier describes the provider model ID and pricing for one model.Tier.
type tier struct {
	modelID string
	pricing model.Pricing
}

// Static is the default Resolver, mapping tiers to Claude model IDs and
// published per-million-token pricing (as of the spec's writing).
type Static struct {
	tiers map[model.Tier]tier
}

// New builds the default tier registry.
func New() *Static {
	return &Static{
		tiers: map[model.Tier]tier{
			model.TierHaiku: {
				modelID: "claude-haiku-4-5-20251001",
				pricing: model.Pricing{InputPerMillion: 1.0, OutputPerMillion: 5.0},
			},
			model.TierSonnet: {
				modelID: "claude-sonnet-4-5-20250929",
				pricing: model.Pricing{InputPerMillion: 3.0, OutputPerMillion: 15.0},
			},
			model.TierOpus: {
				modelID: "claude-opus-4-1-20250805",
				pricing: model.Pricing{InputPerMillion: 15.0, OutputPerMillion: 75.0},
			},
		},
	}
}

// Resolve implements model.Resolver.
func (s *Static) Resolve(t model.Tier) (string, model.Pricing, error) {
	entry, ok := s.tiers[t]
	if !ok {
		return "", model.Pricing{}, fmt.Errorf("registry: unknown model tier %q", t)
	}
	return entry.modelID, entry.pricing, nil
}
