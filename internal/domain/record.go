package domain

import (
	"strings"

	"github.com/google/uuid"
)

// FunctionConnector is the reserved function of the Connector record.
const FunctionConnector = "connector"

// Record is one entry of the service registry.
//
// A record is identified by the pair (UUID, RealmUUID). An empty RealmUUID
// stands for the null realm, which only the Connector and "this" may use.
type Record struct {
	// UUID is the opaque identifier of the service.
	UUID string `json:"uuid"`

	// Function is the role name, e.g. "manager" or "uploader".
	// "connector" is reserved for the Connector.
	Function string `json:"function"`

	// URL is the base address of the service, without trailing slash.
	URL string `json:"url"`

	// RealmUUID scopes the record to a tenant. Empty means no realm.
	RealmUUID string `json:"realm_uuid,omitempty"`

	// Secret is the shared signing key for requests involving this service.
	// Held in plaintext in memory; stores encrypt it at rest.
	Secret string `json:"secret,omitempty"`

	// IsThis marks the identity of the local service.
	IsThis bool `json:"this,omitempty"`
}

// SetURL assigns the URL with trailing slashes removed.
func (r *Record) SetURL(raw string) {
	r.URL = NormalizeURL(raw)
}

// Normalize brings all derived fields into canonical form.
func (r *Record) Normalize() {
	r.URL = NormalizeURL(r.URL)
	r.UUID = strings.TrimSpace(r.UUID)
	r.RealmUUID = strings.TrimSpace(r.RealmUUID)
}

// IsConnector reports whether the record describes the Connector.
func (r *Record) IsConnector() bool {
	return r.Function == FunctionConnector
}

// PublicData returns the fields that may be exposed to other parties.
func (r *Record) PublicData() map[string]string {
	return map[string]string{
		"uuid":     r.UUID,
		"function": r.Function,
		"url":      r.URL,
	}
}

// Domain returns the URL without its scheme.
func (r *Record) Domain() string {
	d := strings.TrimPrefix(r.URL, "https://")
	return strings.TrimPrefix(d, "http://")
}

// Clone returns a copy that can be mutated independently.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// NormalizeURL strips trailing slashes.
func NormalizeURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

// IsUUID reports whether s parses as a UUID (dashed or 32 hex digits).
func IsUUID(s string) bool {
	if s == "" {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// NewUUID returns a fresh UUID in the compact 32 hex digit form.
func NewUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
