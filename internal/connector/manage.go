package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrSnakeDoc/realmlink/internal/domain"
	"github.com/MrSnakeDoc/realmlink/internal/logger"
	"github.com/MrSnakeDoc/realmlink/internal/secure"
)

// verified reads r and checks that it is signed with the secret of this
// service, which it returns along with the decoded request.
func (h *Handler) verified(ctx context.Context, r *http.Request) (*domain.Record, *secure.Incoming, error) {
	this, err := h.reg.This(ctx)
	if err != nil {
		return nil, nil, err
	}
	in, ok, err := secure.VerifyRequest(r, this.Secret)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		h.logger.Warn("rejected connector request with invalid signature",
			logger.String("method", r.Method),
			logger.String("remote_ip", r.RemoteAddr))
		return nil, nil, &domain.SignatureError{}
	}
	return this, in, nil
}

// info returns the public data of this service and of the Connector.
func (h *Handler) info(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	this, _, err := h.verified(ctx, r)
	if err != nil {
		fail(w, err.Error())
		return
	}
	out := map[string]any{"this": this.PublicData()}

	connector, err := h.reg.Connector(ctx)
	switch {
	case err == nil:
		out["connector"] = connector.PublicData()
	case !domain.IsConfigurationError(err):
		fail(w, err.Error())
		return
	}

	render(w, http.StatusOK, out)
}

// update patches the records named by the UUID keys of the body. Entries
// are applied in key order and are not rolled back when a later one fails.
func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, in, err := h.verified(ctx, r)
	if err != nil {
		fail(w, err.Error())
		return
	}

	updated := 0
	for _, id := range sortedKeys(in.Body) {
		if isAuthParam(id) {
			continue
		}
		if !domain.IsUUID(id) {
			fail(w, "Invalid UUID: "+id)
			return
		}
		patch, ok := in.Body[id].(map[string]any)
		if !ok {
			fail(w, "Invalid data for "+id)
			return
		}

		var realm *string
		if _, narrowed := patch["realm_uuid"]; narrowed {
			v := stringField(patch, "realm_uuid")
			realm = &v
		}

		records, err := h.reg.FindByUUID(ctx, id, realm)
		if err != nil {
			fail(w, err.Error())
			return
		}
		if len(records) == 0 {
			fail(w, "No service found for "+id)
			return
		}

		for _, rec := range records {
			applyPatch(rec, patch)
			if err := h.reg.Save(ctx, rec); err != nil {
				fail(w, fmt.Sprintf("Updating %s (realm %s) failed: %s", id, realmName(rec.RealmUUID), err.Error()))
				return
			}
			updated++
		}
	}

	h.logger.Info("services updated", logger.Int("records", updated))
	succeed(w, http.StatusOK, "Services updated.")
}

// remove deletes every record whose UUID is listed. Unknown UUIDs are
// skipped.
func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, in, err := h.verified(ctx, r)
	if err != nil {
		fail(w, err.Error())
		return
	}

	uuids, ok := in.List("uuids")
	if !ok {
		fail(w, "Provide list of uuids.")
		return
	}

	deleted := 0
	for _, id := range uuids {
		records, err := h.reg.FindByUUID(ctx, id, nil)
		if err != nil {
			fail(w, fmt.Sprintf("Deleting %s failed: %s", id, err.Error()))
			return
		}
		for _, rec := range records {
			if err := h.reg.Delete(ctx, rec); err != nil && !errors.Is(err, domain.ErrNotFound) {
				fail(w, fmt.Sprintf("Deleting %s failed: %s", id, err.Error()))
				return
			}
			deleted++
		}
	}

	h.logger.Info("services deleted",
		logger.Int("requested", len(uuids)),
		logger.Int("records", deleted))
	succeed(w, http.StatusOK, "Services have been deleted.")
}

func realmName(realm string) string {
	if realm == "" {
		return "none"
	}
	return realm
}

// isAuthParam reports parameters added by signed clients that carry no
// record data.
func isAuthParam(key string) bool {
	return key == "realm" || key == "service"
}
