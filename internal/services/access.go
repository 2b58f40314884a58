package services

import (
	"github.com/google/uuid"

	"github.com/apimarket/gateway/internal/models"
)

// Mode is the execution mode the access gate selects for a request.
type Mode int

const (
	ModeDenied Mode = iota
	ModeFull
	ModePublicTest
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModePublicTest:
		return "public_test"
	default:
		return "denied"
	}
}

// FullAccess decides the mode for the authenticated proxy route. Owners and
// purchasers get the full path; everyone else is denied. Both checks are
// re-run against the store on every request, never cached here.
func FullAccess(api *models.RegisteredAPI, callerID uuid.UUID, purchased bool) Mode {
	if api.OwnerID == callerID || purchased {
		return ModeFull
	}
	return ModeDenied
}

// PublicTestAccess decides the mode for the unauthenticated test route.
// Ownership and purchases are never consulted here: the caller is denied
// only when the endpoint restricts public testing, or the API is PAID with
// public testing disabled. The endpoint may be nil when the test call names
// no registered endpoint.
func PublicTestAccess(api *models.RegisteredAPI, endpoint *models.Endpoint) Mode {
	if endpoint != nil && endpoint.RestrictPublicTesting {
		return ModeDenied
	}
	if api.PricingModel == models.PricingPaid && !api.AllowPublicTesting {
		return ModeDenied
	}
	return ModePublicTest
}

// EffectiveRateLimit resolves the per-minute limit for an authenticated
// call: endpoint override, then API key override, then the API default.
func EffectiveRateLimit(api *models.RegisteredAPI, endpoint *models.Endpoint, key *models.APIKey) int {
	if endpoint != nil && endpoint.RateLimit != nil && *endpoint.RateLimit > 0 {
		return *endpoint.RateLimit
	}
	if key != nil && key.RateLimit != nil && *key.RateLimit > 0 {
		return *key.RateLimit
	}
	return api.RateLimit
}
