package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/realmlink/internal/httpserver/deps"
)

// Registrar mounts one group of routes. Groups apply their own guards
// with r.With.
type Registrar func(r chi.Router, d deps.Deps)

var registrars []Registrar

// Register adds a route group; called from init in this package.
func Register(reg Registrar) {
	registrars = append(registrars, reg)
}

// RegisterAll mounts every registered group. Called once from NewRouter.
func RegisterAll(r chi.Router, d deps.Deps) {
	for _, reg := range registrars {
		reg(r, d)
	}
}
