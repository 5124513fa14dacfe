package connector

import (
	"context"
	"net/http"
	"net/url"

	"github.com/MrSnakeDoc/realmlink/internal/domain"
	"github.com/MrSnakeDoc/realmlink/internal/logger"
	"github.com/MrSnakeDoc/realmlink/internal/secure"
)

// minNonceLength is exclusive: a nonce must be longer than this.
const minNonceLength = 5

// setupPlaceholderSecret lets "this" pass validation before the real secret
// has been exchanged.
const setupPlaceholderSecret = "pending"

// setup creates the Connector (unless known) and "this", trading the nonce
// for the secret of this service.
//
// The Connector record is validated first but only persisted once the
// secret exchange succeeded. If persisting "this" fails afterwards, the
// new Connector record is removed again.
func (h *Handler) setup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	in, err := secure.ReadRequest(r)
	if err != nil {
		fail(w, err.Error())
		return
	}

	state, err := h.reg.State(ctx)
	if err != nil {
		fail(w, err.Error())
		return
	}
	if state.Configured() {
		fail(w, "Service has already been set up.")
		return
	}

	var connector *domain.Record
	newConnector := false
	if state.ConnectorPresent {
		if connector, err = h.reg.Connector(ctx); err != nil {
			fail(w, err.Error())
			return
		}
	} else {
		data := connectorEntry(in.Body)
		if data == nil {
			fail(w, "No Connector data given.")
			return
		}
		connector = recordFrom(data)
		connector.Function = domain.FunctionConnector
		connector.IsThis = false
		connector.Normalize()
		if err := domain.Validate(connector); err != nil {
			fail(w, "Setting up the Connector failed: "+err.Error())
			return
		}
		newConnector = true
	}

	data := thisEntry(in.Body)
	if data == nil {
		fail(w, "No data for this service given.")
		return
	}
	this, err := h.prepareThis(ctx, connector, data)
	if err != nil {
		fail(w, err.Error())
		return
	}

	if newConnector {
		if err := h.reg.Create(ctx, connector); err != nil {
			fail(w, "Setting up the Connector failed: "+err.Error())
			return
		}
		h.logger.Info("connector created",
			logger.String("uuid", connector.UUID),
			logger.String("url", connector.URL))
	}

	if err := h.reg.Create(ctx, this); err != nil {
		if newConnector {
			if derr := h.reg.Delete(ctx, connector); derr != nil {
				h.logger.Error("failed to remove connector after failed setup",
					logger.String("uuid", connector.UUID),
					logger.Error(derr))
			}
		}
		fail(w, "Setting up this service failed: "+err.Error())
		return
	}

	h.logger.Info("this service configured",
		logger.String("uuid", this.UUID),
		logger.String("function", this.Function),
		logger.String("url", this.URL))
	succeed(w, http.StatusCreated, "Setup successful")
}

// prepareThis validates the "this" entry and exchanges its nonce for the
// secret issued by the Connector.
func (h *Handler) prepareThis(ctx context.Context, connector *domain.Record, data map[string]any) (*domain.Record, error) {
	if _, given := data["secret"]; given {
		return nil, &domain.SetupError{Msg: "Secret is not allowed."}
	}

	nonce, _ := data["nonce"].(string)
	if nonce == "" {
		return nil, &domain.SetupError{Msg: "No nonce given."}
	}

	this := recordFrom(data)
	this.IsThis = true
	this.RealmUUID = ""
	this.Secret = setupPlaceholderSecret
	this.Normalize()
	if err := domain.Validate(this); err != nil {
		return nil, &domain.SetupError{Msg: "Setting up this service failed: " + err.Error()}
	}

	if len(nonce) <= minNonceLength {
		return nil, &domain.SetupError{Msg: "Nonce is invalid."}
	}

	resp, err := h.fetcher.FetchJSON(ctx, connector.URL+"/services/"+url.PathEscape(this.UUID)+"/secret")
	if err != nil {
		return nil, err
	}
	ciphertext := resp.Field("secret")
	signature := resp.Field("sign")
	if ciphertext == "" || !secure.Equal(secure.Sign(ciphertext, nonce), signature) {
		return nil, &domain.SetupError{Msg: "Nonce is invalid."}
	}

	secret, err := secure.Decrypt(ciphertext, nonce)
	if err != nil {
		return nil, &domain.SetupError{Msg: "Nonce is invalid."}
	}
	this.Secret = secret
	return this, nil
}
