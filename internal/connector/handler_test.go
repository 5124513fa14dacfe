package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/MrSnakeDoc/realmlink/internal/client"
	"github.com/MrSnakeDoc/realmlink/internal/domain"
	"github.com/MrSnakeDoc/realmlink/internal/logger"
	"github.com/MrSnakeDoc/realmlink/internal/registry"
	"github.com/MrSnakeDoc/realmlink/internal/secure"
	"github.com/MrSnakeDoc/realmlink/internal/store/memory"
)

const (
	thisUUID      = "344b4b8088fb012dd3e558b035f038ab"
	thisSecret    = "EaDai5nz16DbQTWQuuFdd4WcAiZYRPDwZTn2IQeXbPE4yBg3rr"
	connectorUUID = "60dfef509a8e012d599558b035f038ab"
	nonce         = "hkO2ssb28Gks19s9h2hdhbBs83hdis"
	uploaderUUID  = "ddeb4500668e012d47bb58b035f038ab"
	realm         = "e33f0d9093f9012d0dbc58b035f038ab"
	otherRealm    = "12ab69f099a4012d4df558b035f038ab"
	endpointURL   = "http://manager.local/connector"
)

func thisRecord() *domain.Record {
	return &domain.Record{UUID: thisUUID, Function: "manager", URL: "http://manager.local", Secret: thisSecret, IsThis: true}
}

func connectorRecord(u string) *domain.Record {
	return &domain.Record{UUID: connectorUUID, Function: domain.FunctionConnector, URL: u}
}

func uploaderIn(realmUUID string) *domain.Record {
	return &domain.Record{UUID: uploaderUUID, Function: "uploader", URL: "http://uploader.local", RealmUUID: realmUUID, Secret: "uploader-secret"}
}

func newHandler(t *testing.T, records ...*domain.Record) (*Handler, *registry.Registry) {
	t.Helper()
	log := logger.New("error", false)
	reg := registry.New(memory.New(), registry.WithLogger(log))
	for _, rec := range records {
		if err := reg.Create(context.Background(), rec); err != nil {
			t.Fatalf("Create(%s) error = %v", rec.Function, err)
		}
	}
	return New(reg, nil, WithLogger(log)), reg
}

// newSecretServer stands in for the secret-reveal endpoint of the Connector.
func newSecretServer(t *testing.T, secret, key string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/services/"+thisUUID+"/secret" {
			http.NotFound(w, r)
			return
		}
		ciphertext, err := secure.Encrypt(secret, key)
		if err != nil {
			t.Errorf("Encrypt() error = %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"secret": ciphertext,
			"sign":   secure.Sign(ciphertext, key),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func serve(h http.Handler, req *http.Request) (int, map[string]any, http.Header) {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec.Code, body, rec.Header()
}

func postJSON(t *testing.T, target string, payload any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func signed(t *testing.T, method string, params secure.Params, key string) *http.Request {
	t.Helper()
	s, err := secure.SignRequest(method, endpointURL, params, key)
	if err != nil {
		t.Fatalf("SignRequest() error = %v", err)
	}
	var body io.Reader
	if s.Body != nil {
		body = bytes.NewReader(s.Body)
	}
	return httptest.NewRequest(s.Method, s.URL, body)
}

var errDiskFull = errors.New("disk full")

// faultyStore fails the operations it is told to fail.
type faultyStore struct {
	*memory.Store
	failCreateThis bool
	failDelete     bool
}

func (s *faultyStore) Create(ctx context.Context, r *domain.Record) error {
	if s.failCreateThis && r.IsThis {
		return errDiskFull
	}
	return s.Store.Create(ctx, r)
}

func (s *faultyStore) Delete(ctx context.Context, r *domain.Record) error {
	if s.failDelete {
		return errDiskFull
	}
	return s.Store.Delete(ctx, r)
}

func newFaultyHandler(t *testing.T, store *faultyStore, records ...*domain.Record) (*Handler, *registry.Registry) {
	t.Helper()
	log := logger.New("error", false)
	reg := registry.New(store, registry.WithLogger(log))
	for _, rec := range records {
		if err := reg.Create(context.Background(), rec); err != nil {
			t.Fatalf("Create(%s) error = %v", rec.Function, err)
		}
	}
	return New(reg, nil, WithLogger(log)), reg
}

func thisPayload() map[string]any {
	return map[string]any{"uuid": thisUUID, "url": "http://manager.local/", "function": "manager", "nonce": nonce}
}

func wantError(t *testing.T, code int, body map[string]any, msg string) {
	t.Helper()
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
	if body[KeyError] != msg {
		t.Errorf("error = %v, want %q", body[KeyError], msg)
	}
}

func wantSuccess(t *testing.T, code, status int, body map[string]any, msg string) {
	t.Helper()
	if code != status {
		t.Errorf("status = %d, want %d (body %v)", code, status, body)
	}
	if body[KeySuccess] != msg {
		t.Errorf("success = %v, want %q (body %v)", body[KeySuccess], msg, body)
	}
}

func TestGuards(t *testing.T) {
	h, _ := newHandler(t)

	code, body, header := serve(h, httptest.NewRequest(http.MethodGet, "http://manager.local/other", nil))
	wantError(t, code, body, "This app must be configured to respond to /connector path.")
	if header.Get("Content-Type") != ContentType {
		t.Errorf("Content-Type = %q", header.Get("Content-Type"))
	}

	code, body, _ = serve(h, httptest.NewRequest(http.MethodHead, endpointURL, nil))
	wantError(t, code, body, "Invalid request method: head")

	code, body, _ = serve(h, httptest.NewRequest(http.MethodPatch, endpointURL, nil))
	wantError(t, code, body, "Invalid request method: patch")
}

func TestSetupSuccess(t *testing.T) {
	ctx := context.Background()
	srv := newSecretServer(t, thisSecret, nonce)
	h, reg := newHandler(t)

	code, body, _ := serve(h, postJSON(t, endpointURL, map[string]any{
		"connector": map[string]any{"uuid": connectorUUID, "url": srv.URL + "/"},
		"this":      thisPayload(),
	}))
	wantSuccess(t, code, http.StatusCreated, body, "Setup successful")

	this, err := reg.This(ctx)
	if err != nil {
		t.Fatalf("This() error = %v", err)
	}
	if this.Secret != thisSecret {
		t.Errorf("this secret = %q, want %q", this.Secret, thisSecret)
	}
	if this.URL != "http://manager.local" {
		t.Errorf("this url = %q", this.URL)
	}
	conn, err := reg.Connector(ctx)
	if err != nil {
		t.Fatalf("Connector() error = %v", err)
	}
	if conn.URL != srv.URL || conn.Secret != "" {
		t.Errorf("connector = %+v", conn)
	}

	code, body, _ = serve(h, postJSON(t, endpointURL, map[string]any{"this": thisPayload()}))
	wantError(t, code, body, "Service has already been set up.")
}

func TestSetupWithExistingConnectorAndTaggedEntries(t *testing.T) {
	srv := newSecretServer(t, thisSecret, nonce)
	h, reg := newHandler(t, connectorRecord(srv.URL))

	entry := thisPayload()
	entry["this"] = true
	code, body, _ := serve(h, postJSON(t, endpointURL, map[string]any{thisUUID: entry}))
	wantSuccess(t, code, http.StatusCreated, body, "Setup successful")

	if _, err := reg.This(context.Background()); err != nil {
		t.Errorf("This() error = %v", err)
	}
}

func TestSetupFailures(t *testing.T) {
	srv := newSecretServer(t, thisSecret, nonce)
	wrongKey := newSecretServer(t, thisSecret, "another-nonce-value")

	withoutNonce := thisPayload()
	delete(withoutNonce, "nonce")
	withSecret := thisPayload()
	withSecret["secret"] = "mine"
	shortNonce := thisPayload()
	shortNonce["nonce"] = "abcde"
	invalidThis := thisPayload()
	invalidThis["uuid"] = "nope"

	tests := []struct {
		name      string
		connector *domain.Record
		payload   map[string]any
		want      string
	}{
		{
			name:    "no connector data",
			payload: map[string]any{"this": thisPayload()},
			want:    "No Connector data given.",
		},
		{
			name: "invalid connector",
			payload: map[string]any{
				"connector": map[string]any{"uuid": connectorUUID, "url": srv.URL, "secret": "x"},
				"this":      thisPayload(),
			},
			want: "Setting up the Connector failed: secret is not allowed for connector",
		},
		{
			name:      "no this data",
			connector: connectorRecord(srv.URL),
			payload:   map[string]any{},
			want:      "No data for this service given.",
		},
		{
			name:      "secret given",
			connector: connectorRecord(srv.URL),
			payload:   map[string]any{"this": withSecret},
			want:      "Secret is not allowed.",
		},
		{
			name:      "no nonce",
			connector: connectorRecord(srv.URL),
			payload:   map[string]any{"this": withoutNonce},
			want:      "No nonce given.",
		},
		{
			name:      "invalid this",
			connector: connectorRecord(srv.URL),
			payload:   map[string]any{"this": invalidThis},
			want:      "Setting up this service failed: uuid is invalid",
		},
		{
			name:      "short nonce",
			connector: connectorRecord(srv.URL),
			payload:   map[string]any{"this": shortNonce},
			want:      "Nonce is invalid.",
		},
		{
			name:      "signature made with another nonce",
			connector: connectorRecord(wrongKey.URL),
			payload:   map[string]any{"this": thisPayload()},
			want:      "Nonce is invalid.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var records []*domain.Record
			if tt.connector != nil {
				records = append(records, tt.connector)
			}
			h, reg := newHandler(t, records...)

			code, body, _ := serve(h, postJSON(t, endpointURL, tt.payload))
			wantError(t, code, body, tt.want)

			state, err := reg.State(context.Background())
			if err != nil {
				t.Fatalf("State() error = %v", err)
			}
			if state.Configured() {
				t.Error("this was created despite the failure")
			}
			if state.ConnectorPresent != (tt.connector != nil) {
				t.Errorf("ConnectorPresent = %v after failed setup", state.ConnectorPresent)
			}
		})
	}
}

func TestSetupDoesNotPersistConnectorWhenExchangeFails(t *testing.T) {
	srv := newSecretServer(t, thisSecret, "another-nonce-value")
	h, reg := newHandler(t)

	code, body, _ := serve(h, postJSON(t, endpointURL, map[string]any{
		"connector": map[string]any{"uuid": connectorUUID, "url": srv.URL},
		"this":      thisPayload(),
	}))
	wantError(t, code, body, "Nonce is invalid.")

	if _, err := reg.Connector(context.Background()); !domain.IsConfigurationError(err) {
		t.Errorf("Connector() error = %v, want no connector", err)
	}
}

type panickingFetcher struct{}

func (panickingFetcher) FetchJSON(context.Context, string) (*client.Response, error) {
	panic("connector exploded")
}

func TestPanicsAreRendered(t *testing.T) {
	reg := registry.New(memory.New())
	if err := reg.Create(context.Background(), connectorRecord("https://connector.local")); err != nil {
		t.Fatal(err)
	}
	h := New(reg, panickingFetcher{})

	code, body, _ := serve(h, postJSON(t, endpointURL, map[string]any{"this": thisPayload()}))
	wantError(t, code, body, "connector exploded")
}

func TestInfo(t *testing.T) {
	h, _ := newHandler(t, thisRecord(), connectorRecord("https://connector.local"))

	code, body, _ := serve(h, signed(t, http.MethodGet, nil, thisSecret))
	if code != http.StatusOK {
		t.Fatalf("status = %d, body %v", code, body)
	}
	this, _ := body["this"].(map[string]any)
	if this["uuid"] != thisUUID || this["function"] != "manager" || this["url"] != "http://manager.local" {
		t.Errorf("this = %v", this)
	}
	if _, leaked := this["secret"]; leaked {
		t.Error("info exposes the secret")
	}
	conn, _ := body["connector"].(map[string]any)
	if conn["uuid"] != connectorUUID {
		t.Errorf("connector = %v", conn)
	}

	code, body, _ = serve(h, signed(t, http.MethodGet, nil, "wrong"))
	wantError(t, code, body, "Invalid signature.")
}

func TestInfoWithoutConnectorOrThis(t *testing.T) {
	h, _ := newHandler(t, thisRecord())
	code, body, _ := serve(h, signed(t, http.MethodGet, nil, thisSecret))
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if _, ok := body["connector"]; ok {
		t.Errorf("connector present without record: %v", body)
	}

	h, _ = newHandler(t)
	code, body, _ = serve(h, signed(t, http.MethodGet, nil, thisSecret))
	wantError(t, code, body, "This service has not been configured yet. Use your Connector to set it up.")
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	h, reg := newHandler(t, thisRecord(), uploaderIn(realm), uploaderIn(otherRealm))

	params := secure.Params{uploaderUUID: map[string]any{"url": "http://new.local/"}}
	code, body, _ := serve(h, signed(t, http.MethodPut, params, thisSecret))
	wantSuccess(t, code, http.StatusOK, body, "Services updated.")

	found, _ := reg.FindByUUID(ctx, uploaderUUID, nil)
	if len(found) != 2 {
		t.Fatalf("FindByUUID() = %d records", len(found))
	}
	for _, rec := range found {
		if rec.URL != "http://new.local" {
			t.Errorf("record in %s has url %q", rec.RealmUUID, rec.URL)
		}
	}
	this, _ := reg.This(ctx)
	if this.URL != "http://manager.local" {
		t.Errorf("this was modified: %+v", this)
	}
}

func TestUpdateNarrowedByRealm(t *testing.T) {
	ctx := context.Background()
	h, reg := newHandler(t, thisRecord(), uploaderIn(realm), uploaderIn(otherRealm))

	params := secure.Params{uploaderUUID: map[string]any{"url": "http://narrow.local", "realm_uuid": realm}}
	code, body, _ := serve(h, signed(t, http.MethodPut, params, thisSecret))
	wantSuccess(t, code, http.StatusOK, body, "Services updated.")

	in, _ := reg.Local(ctx, uploaderUUID, realm)
	out, _ := reg.Local(ctx, uploaderUUID, otherRealm)
	if in.URL != "http://narrow.local" || out.URL != "http://uploader.local" {
		t.Errorf("urls = %q / %q", in.URL, out.URL)
	}
}

func TestUpdateFailures(t *testing.T) {
	tests := []struct {
		name   string
		params secure.Params
		key    string
		want   string
	}{
		{
			name:   "invalid uuid",
			params: secure.Params{"not-a-uuid": map[string]any{"url": "http://x.local"}},
			key:    thisSecret,
			want:   "Invalid UUID: not-a-uuid",
		},
		{
			name:   "unknown uuid",
			params: secure.Params{"c0861d609247012d0a8b58b035f038ab": map[string]any{"url": "http://x.local"}},
			key:    thisSecret,
			want:   "No service found for c0861d609247012d0a8b58b035f038ab",
		},
		{
			name:   "invalid patch",
			params: secure.Params{uploaderUUID: map[string]any{"url": "ftp://x.local"}},
			key:    thisSecret,
			want:   "Updating " + uploaderUUID + " (realm " + realm + ") failed: url is invalid",
		},
		{
			name:   "bad signature",
			params: secure.Params{uploaderUUID: map[string]any{"url": "http://x.local"}},
			key:    "wrong",
			want:   "Invalid signature.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, reg := newHandler(t, thisRecord(), uploaderIn(realm))
			code, body, _ := serve(h, signed(t, http.MethodPut, tt.params, tt.key))
			wantError(t, code, body, tt.want)

			rec, _ := reg.Local(context.Background(), uploaderUUID, realm)
			if rec.URL != "http://uploader.local" {
				t.Errorf("record changed to %q", rec.URL)
			}
		})
	}
}

func TestUpdateIgnoresAuthParams(t *testing.T) {
	h, _ := newHandler(t, thisRecord(), uploaderIn(realm))
	params := secure.Params{
		"realm":      "",
		"service":    connectorUUID,
		uploaderUUID: map[string]any{"url": "http://x.local"},
	}
	code, body, _ := serve(h, signed(t, http.MethodPut, params, thisSecret))
	wantSuccess(t, code, http.StatusOK, body, "Services updated.")
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	h, reg := newHandler(t, thisRecord(), uploaderIn(realm), uploaderIn(otherRealm))

	params := secure.Params{"uuids": []string{"unknown-id", uploaderUUID}}
	code, body, _ := serve(h, signed(t, http.MethodDelete, params, thisSecret))
	wantSuccess(t, code, http.StatusOK, body, "Services have been deleted.")

	found, _ := reg.FindByUUID(ctx, uploaderUUID, nil)
	if len(found) != 0 {
		t.Errorf("uploader records left: %d", len(found))
	}
	if _, err := reg.This(ctx); err != nil {
		t.Errorf("this removed: %v", err)
	}
}

func TestRemoveFailures(t *testing.T) {
	h, _ := newHandler(t, thisRecord(), uploaderIn(realm))

	code, body, _ := serve(h, signed(t, http.MethodDelete, nil, thisSecret))
	wantError(t, code, body, "Provide list of uuids.")

	req := signed(t, http.MethodDelete, secure.Params{"uuids": []string{uploaderUUID}}, thisSecret)
	q := req.URL.Query()
	q.Add("uuids", thisUUID)
	req.URL.RawQuery = q.Encode()
	code, body, _ = serve(h, req)
	wantError(t, code, body, "Invalid signature.")
}

func TestCustomEndpoint(t *testing.T) {
	reg := registry.New(memory.New())
	h := New(reg, nil, WithEndpoint("/bootstrap"))

	u, _ := url.Parse("http://manager.local/connector")
	code, body, _ := serve(h, httptest.NewRequest(http.MethodGet, u.String(), nil))
	wantError(t, code, body, "This app must be configured to respond to /bootstrap path.")
	if h.Endpoint() != "/bootstrap" {
		t.Errorf("Endpoint() = %q", h.Endpoint())
	}
}

func TestSetupRemovesConnectorWhenThisCannotBeStored(t *testing.T) {
	ctx := context.Background()
	srv := newSecretServer(t, thisSecret, nonce)
	h, reg := newFaultyHandler(t, &faultyStore{Store: memory.New(), failCreateThis: true})

	code, body, _ := serve(h, postJSON(t, endpointURL, map[string]any{
		"connector": map[string]any{"uuid": connectorUUID, "url": srv.URL},
		"this":      thisPayload(),
	}))
	wantError(t, code, body, "Setting up this service failed: create service: disk full")

	if _, err := reg.Connector(ctx); !domain.IsConfigurationError(err) {
		t.Errorf("Connector() error = %v, want configuration error", err)
	}
	if _, err := reg.This(ctx); !domain.IsConfigurationError(err) {
		t.Errorf("This() error = %v, want configuration error", err)
	}
}

func TestSetupKeepsExistingConnectorWhenThisCannotBeStored(t *testing.T) {
	srv := newSecretServer(t, thisSecret, nonce)
	h, reg := newFaultyHandler(t, &faultyStore{Store: memory.New(), failCreateThis: true}, connectorRecord(srv.URL))

	code, body, _ := serve(h, postJSON(t, endpointURL, map[string]any{"this": thisPayload()}))
	wantError(t, code, body, "Setting up this service failed: create service: disk full")

	if _, err := reg.Connector(context.Background()); err != nil {
		t.Errorf("Connector() error = %v, want the existing connector", err)
	}
}

func TestRemoveAbortsWhenDeleteFails(t *testing.T) {
	store := &faultyStore{Store: memory.New()}
	h, reg := newFaultyHandler(t, store, thisRecord(), uploaderIn(realm))
	store.failDelete = true

	params := secure.Params{"uuids": []string{uploaderUUID}}
	code, body, _ := serve(h, signed(t, http.MethodDelete, params, thisSecret))
	wantError(t, code, body, "Deleting "+uploaderUUID+" failed: delete service: disk full")

	found, _ := reg.FindByUUID(context.Background(), uploaderUUID, nil)
	if len(found) != 1 {
		t.Errorf("uploader records = %d, want 1", len(found))
	}
}
