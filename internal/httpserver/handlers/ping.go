package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/MrSnakeDoc/realmlink/internal/httpserver/deps"
	"github.com/MrSnakeDoc/realmlink/internal/httpserver/mw"
)

type pingResponse struct {
	Success string            `json:"success"`
	Service map[string]string `json:"service"`
	Realm   string            `json:"realm"`
}

// Ping answers a verified peer with its own public data.
func Ping(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peer, ok := mw.PeerFrom(r.Context())
		if !ok {
			mw.WriteError(w, "No service given.")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pingResponse{
			Success: "pong",
			Service: peer.PublicData(),
			Realm:   peer.RealmUUID,
		})
	}
}
