package manifest

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/realmlink/internal/domain"
	"github.com/MrSnakeDoc/realmlink/internal/secure"
)

// NonceLength is the length of generated nonces.
const NonceLength = 32

// Entry describes one service in a bootstrap manifest.
type Entry struct {
	UUID      string `yaml:"uuid"`
	Function  string `yaml:"function,omitempty"`
	URL       string `yaml:"url"`
	RealmUUID string `yaml:"realm_uuid,omitempty"`
	Secret    string `yaml:"secret,omitempty"`
	Nonce     string `yaml:"nonce,omitempty"`
}

// Manifest is the setup payload for a service's connector endpoint.
// Connector may be omitted when the target already knows its Connector.
// The Connector carries no secret: requests to it are signed with the
// secret it issues to this service.
type Manifest struct {
	Connector *Entry `yaml:"connector,omitempty"`
	This      Entry  `yaml:"this"`
}

// Loader reads a manifest from a YAML file.
type Loader struct {
	filePath string
}

// NewLoader creates a loader for filePath.
func NewLoader(filePath string) *Loader {
	return &Loader{filePath: filePath}
}

// Load reads, expands and parses the manifest file.
func (l *Loader) Load() (*Manifest, error) {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes a manifest. ${VAR} references are replaced with the value
// of the environment variable VAR.
func Parse(data []byte) (*Manifest, error) {
	data = expandEnv(data)

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest yaml: %w", err)
	}
	return &m, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := envRef.FindSubmatch(ref)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Validate checks the fields the target cannot supply itself.
func (m *Manifest) Validate() error {
	var err error
	if c := m.Connector; c != nil {
		if !domain.IsUUID(c.UUID) {
			err = multierr.Append(err, errors.New("connector: uuid is invalid"))
		}
		if c.URL == "" {
			err = multierr.Append(err, errors.New("connector: url is required"))
		}
		if c.Secret != "" {
			err = multierr.Append(err, errors.New("connector: secret is not allowed"))
		}
	}
	if !domain.IsUUID(m.This.UUID) {
		err = multierr.Append(err, errors.New("this: uuid is invalid"))
	}
	if m.This.URL == "" {
		err = multierr.Append(err, errors.New("this: url is required"))
	}
	if m.This.Function == "" {
		err = multierr.Append(err, errors.New("this: function is required"))
	}
	if m.This.Secret != "" {
		err = multierr.Append(err, errors.New("this: secret is not allowed, it is issued by the Connector"))
	}
	return err
}

// EnsureNonce generates a nonce for this when the manifest has none. It
// reports whether a nonce was generated.
func (m *Manifest) EnsureNonce() (bool, error) {
	if m.This.Nonce != "" {
		return false, nil
	}
	nonce, err := secure.RandomKey(NonceLength)
	if err != nil {
		return false, err
	}
	m.This.Nonce = nonce
	return true, nil
}

// Payload returns the request parameters for a setup call.
func (m *Manifest) Payload() map[string]any {
	out := map[string]any{"this": m.This.params()}
	if m.Connector != nil {
		c := m.Connector.params()
		c["function"] = domain.FunctionConnector
		delete(c, "secret")
		out["connector"] = c
	}
	return out
}

func (e Entry) params() map[string]any {
	out := map[string]any{
		"uuid": e.UUID,
		"url":  e.URL,
	}
	set := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	set("function", e.Function)
	set("realm_uuid", e.RealmUUID)
	set("secret", e.Secret)
	set("nonce", e.Nonce)
	return out
}
