package mw

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/MrSnakeDoc/realmlink/internal/domain"
	"github.com/MrSnakeDoc/realmlink/internal/logger"
	"github.com/MrSnakeDoc/realmlink/internal/secure"
)

// PeerResolver finds the calling service within a realm.
type PeerResolver interface {
	Discover(ctx context.Context, wanted, realm string) (*domain.Record, error)
}

type peerKey struct{}

// RequireSignedPeer admits only requests signed by a known service.
//
// The request must name its realm and the calling service; the service is
// discovered in that realm and the signature is checked against its secret.
// Failures answer 400 with an {"error": ...} body.
func RequireSignedPeer(reg PeerResolver, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			in, err := secure.ReadRequest(r)
			if err != nil {
				WriteError(w, err.Error())
				return
			}

			realm := in.Param("realm")
			if realm == "" {
				WriteError(w, "No realm given.")
				return
			}
			service := in.Param("service")
			if service == "" {
				WriteError(w, "No service given.")
				return
			}

			peer, err := reg.Discover(r.Context(), service, realm)
			if err != nil {
				log.Warn("peer discovery failed",
					logger.String("service", service),
					logger.String("realm", realm),
					logger.Error(err))
				WriteError(w, err.Error())
				return
			}

			if in.Signature() == "" {
				WriteError(w, "No signature given.")
				return
			}
			if !in.Verify(peer.Secret) {
				log.Warn("peer request with invalid signature",
					logger.String("service", service),
					logger.String("realm", realm),
					logger.String("path", r.URL.Path))
				WriteError(w, (&domain.SignatureError{}).Error())
				return
			}

			ctx := context.WithValue(r.Context(), peerKey{}, peer)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PeerFrom returns the peer verified by RequireSignedPeer.
func PeerFrom(ctx context.Context) (*domain.Record, bool) {
	peer, ok := ctx.Value(peerKey{}).(*domain.Record)
	return peer, ok && peer != nil
}

// WriteError answers 400 with {"error": msg}.
func WriteError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
