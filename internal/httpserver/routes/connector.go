package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/realmlink/internal/httpserver/deps"
	"github.com/MrSnakeDoc/realmlink/internal/httpserver/mw"
)

func init() { Register(registerConnector) }

// The handler accepts every method itself so that unsupported ones get its
// error envelope instead of a bare 405.
func registerConnector(r chi.Router, d deps.Deps) {
	r.With(
		mw.EnforceHost(d.AllowedHosts, d.Logger),
		mw.RateLimit(mw.RateLimitConfig{
			Burst:             d.RateBurst,
			RefillPerIPPerMin: d.RateRefillMin,
			MaxEntries:        10000,
			TrustProxy:        d.TrustProxy,
			Logger:            d.Logger,
		}),
	).Handle(d.Connector.Endpoint(), d.Connector)
}
