package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/realmlink/internal/httpserver/deps"
	"github.com/MrSnakeDoc/realmlink/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/realmlink/internal/httpserver/mw"
)

func init() { Register(registerPing) }

func registerPing(r chi.Router, d deps.Deps) {
	r.With(
		mw.EnforceHost(d.AllowedHosts, d.Logger),
		mw.RequireSignedPeer(d.Registry, d.Logger),
	).Get("/api/ping", handlers.Ping(d))
}
