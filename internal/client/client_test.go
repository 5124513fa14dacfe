package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrSnakeDoc/realmlink/internal/domain"
	"github.com/MrSnakeDoc/realmlink/internal/secure"
)

const (
	thisSecret     = "EaDai5nz16DbQTWQuuFdd4WcAiZYRPDwZTn2IQeXbPE4yBg3rr"
	uploaderSecret = "uploader-secret"
	realm          = "e33f0d9093f9012d0dbc58b035f038ab"
)

type staticThis struct {
	rec *domain.Record
	err error
}

func (s staticThis) This(context.Context) (*domain.Record, error) {
	return s.rec, s.err
}

func thisRecord() *domain.Record {
	return &domain.Record{
		UUID:     "344b4b8088fb012dd3e558b035f038ab",
		Function: "manager",
		URL:      "http://manager.local",
		Secret:   thisSecret,
		IsThis:   true,
	}
}

// captured records what a test server received.
type captured struct {
	method   string
	path     string
	realm    string
	service  string
	verified map[string]bool
}

func newPeer(t *testing.T, keys ...string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{verified: map[string]bool{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		in, err := secure.ReadRequest(r)
		if err != nil {
			t.Errorf("ReadRequest() error = %v", err)
			return
		}
		got.method = r.Method
		got.path = r.URL.Path
		got.realm = in.Param("realm")
		got.service = in.Param("service")
		for _, k := range keys {
			got.verified[k] = in.Verify(k)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":"ok"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestSendInjectsAuthParamsAndSignsWithTargetSecret(t *testing.T) {
	for _, verb := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
		t.Run(verb, func(t *testing.T) {
			srv, got := newPeer(t, uploaderSecret, thisSecret)
			target := &domain.Record{
				UUID:      "ddeb4500668e012d47bb58b035f038ab",
				Function:  "uploader",
				URL:       srv.URL,
				RealmUUID: realm,
				Secret:    uploaderSecret,
			}

			c := New(staticThis{rec: thisRecord()})
			resp, err := c.Send(context.Background(), verb, target, "success", nil)
			if err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			if !resp.OK() || resp.Field("success") != "ok" {
				t.Errorf("response = %d %s", resp.StatusCode, resp.String())
			}
			if got.method != verb || got.path != "/success" {
				t.Errorf("received %s %s, want %s /success", got.method, got.path, verb)
			}
			if got.realm != realm || got.service != thisRecord().UUID {
				t.Errorf("realm/service = %q/%q", got.realm, got.service)
			}
			if !got.verified[uploaderSecret] {
				t.Error("request not signed with target secret")
			}
			if got.verified[thisSecret] {
				t.Error("request unexpectedly verifies with this secret")
			}
		})
	}
}

func TestSendToConnectorUsesThisSecret(t *testing.T) {
	srv, got := newPeer(t, thisSecret)
	connector := &domain.Record{
		UUID:     "60dfef509a8e012d599558b035f038ab",
		Function: domain.FunctionConnector,
		URL:      srv.URL,
	}

	c := New(staticThis{rec: thisRecord()})
	if _, err := c.Get(context.Background(), connector, "/services/uploader", secure.Params{"realm": realm}); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.verified[thisSecret] {
		t.Error("request to connector not signed with this secret")
	}
	if got.realm != realm {
		t.Errorf("caller realm should override injected one, got %q", got.realm)
	}
}

func TestSendFailsBeforeIO(t *testing.T) {
	tests := []struct {
		name    string
		this    ThisResolver
		target  *domain.Record
		wantErr func(error) bool
	}{
		{
			name:   "nil target",
			this:   staticThis{rec: thisRecord()},
			target: nil,
			wantErr: func(err error) bool {
				var se *domain.ServiceError
				return errors.As(err, &se)
			},
		},
		{
			name:   "target without url",
			this:   staticThis{rec: thisRecord()},
			target: &domain.Record{UUID: "x", Function: "uploader", Secret: "s"},
			wantErr: func(err error) bool {
				var se *domain.ServiceError
				return errors.As(err, &se)
			},
		},
		{
			name:   "this missing",
			this:   staticThis{err: &domain.ConfigurationError{Msg: "not configured"}},
			target: &domain.Record{UUID: "x", Function: "uploader", URL: "http://127.0.0.1:1", Secret: "s"},
			wantErr: domain.IsConfigurationError,
		},
		{
			name:    "no resolver",
			this:    nil,
			target:  &domain.Record{UUID: "x", Function: "uploader", URL: "http://127.0.0.1:1", Secret: "s"},
			wantErr: domain.IsConfigurationError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.this)
			_, err := c.Get(context.Background(), tt.target, "/x", nil)
			if err == nil || !tt.wantErr(err) {
				t.Errorf("Get() error = %v", err)
			}
		})
	}
}

func TestTransportErrorsAreWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	c := New(staticThis{rec: thisRecord()})
	target := &domain.Record{UUID: "x", Function: "uploader", URL: addr, RealmUUID: realm, Secret: "s"}
	_, err := c.Get(context.Background(), target, "/x", nil)

	var re *RequestError
	if !errors.As(err, &re) {
		t.Fatalf("Get() error = %v, want *RequestError", err)
	}
	if re.Op != http.MethodGet || re.Unwrap() == nil {
		t.Errorf("RequestError = %+v", re)
	}
}

func TestTimeoutIsRequestError(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := New(nil, WithTimeout(50*time.Millisecond))
	_, err := c.FetchJSON(context.Background(), srv.URL)

	var re *RequestError
	if !errors.As(err, &re) {
		t.Errorf("FetchJSON() error = %v, want *RequestError", err)
	}
}

func TestNonJSONBodyIsOpaque(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>nope</html>"))
	}))
	defer srv.Close()

	c := New(nil)
	resp, err := c.FetchJSON(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchJSON() error = %v", err)
	}
	if resp.Data != nil || resp.JSON() != nil {
		t.Errorf("Data = %v, want nil for HTML body", resp.Data)
	}
	if resp.String() != "<html>nope</html>" {
		t.Errorf("String() = %q", resp.String())
	}
}

func TestDoSignsForAbsoluteURL(t *testing.T) {
	srv, got := newPeer(t, thisSecret)

	c := New(nil)
	resp, err := c.Do(context.Background(), "delete", srv.URL+"/connector", secure.Params{"uuids": []string{"a", "b"}}, thisSecret)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !resp.OK() {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if got.method != http.MethodDelete || !got.verified[thisSecret] {
		t.Errorf("received %s verified=%v", got.method, got.verified[thisSecret])
	}
}
