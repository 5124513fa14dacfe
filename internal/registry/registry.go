// Package registry resolves services by function or UUID within a realm.
//
// Lookups are served from the local store first. A miss in a realm is
// resolved once through the Connector and cached locally; nothing expires,
// and only Connector-initiated updates or deletions change cached records.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/MrSnakeDoc/realmlink/internal/client"
	"github.com/MrSnakeDoc/realmlink/internal/domain"
	"github.com/MrSnakeDoc/realmlink/internal/logger"
	"github.com/MrSnakeDoc/realmlink/internal/secure"
)

const (
	msgThisMissing      = "This service has not been configured yet. Use your Connector to set it up."
	msgConnectorMissing = "No Connector has been assigned to this service yet. Use your Connector to perform the assignment."
)

// Store persists records. Create must be an atomic check-and-insert.
type Store interface {
	Create(ctx context.Context, r *domain.Record) error
	Save(ctx context.Context, r *domain.Record) error
	Delete(ctx context.Context, r *domain.Record) error
	Find(ctx context.Context, q domain.Query) ([]*domain.Record, error)
	Ping(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
}

// Registry is the service registry of one process.
type Registry struct {
	store  Store
	client *client.Client
	logger logger.Logger
	remote func(ctx context.Context, wanted, realm string) (*domain.Record, error)
}

// Option configures a Registry.
type Option func(*registryOptions)

type registryOptions struct {
	logger     logger.Logger
	clientOpts []client.Option
}

// WithLogger sets the logger of the registry and its client.
func WithLogger(l logger.Logger) Option {
	return func(o *registryOptions) {
		o.logger = l
	}
}

// WithClientOptions configures the client used to reach the Connector.
func WithClientOptions(opts ...client.Option) Option {
	return func(o *registryOptions) {
		o.clientOpts = append(o.clientOpts, opts...)
	}
}

// New creates a registry over store.
func New(store Store, opts ...Option) *Registry {
	o := registryOptions{logger: logger.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Registry{
		store:  store,
		logger: o.logger,
	}
	clientOpts := append([]client.Option{client.WithLogger(o.logger)}, o.clientOpts...)
	r.client = client.New(r, clientOpts...)
	r.remote = r.Remote
	return r
}

// Client returns the signed request client bound to this registry.
func (r *Registry) Client() *client.Client {
	return r.client
}

// This returns the identity of the local service.
func (r *Registry) This(ctx context.Context) (*domain.Record, error) {
	found, err := r.store.Find(ctx, domain.ThisQuery())
	if err != nil {
		return nil, fmt.Errorf("find this service: %w", err)
	}
	if len(found) == 0 {
		return nil, &domain.ConfigurationError{Msg: msgThisMissing}
	}
	return found[0], nil
}

// Connector returns the realm-less Connector record.
func (r *Registry) Connector(ctx context.Context) (*domain.Record, error) {
	found, err := r.store.Find(ctx, domain.ByFunction(domain.FunctionConnector, ""))
	if err != nil {
		return nil, fmt.Errorf("find connector: %w", err)
	}
	if len(found) == 0 {
		return nil, &domain.ConfigurationError{Msg: msgConnectorMissing}
	}
	return found[0], nil
}

// Local looks wanted up in realm without touching the network. wanted is
// matched against the uuid when it looks like one, else against the
// function. It returns nil, nil on a miss.
func (r *Registry) Local(ctx context.Context, wanted, realm string) (*domain.Record, error) {
	q := domain.ByFunction(wanted, realm)
	if domain.IsUUID(wanted) {
		q = domain.ByUUID(wanted, realm)
	}
	found, err := r.store.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", wanted, err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

// Discover returns the local record for wanted in realm, fetching it from
// the Connector on a miss.
func (r *Registry) Discover(ctx context.Context, wanted, realm string) (*domain.Record, error) {
	rec, err := r.Local(ctx, wanted, realm)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		r.logger.Debug("service found locally",
			logger.String("wanted", wanted),
			logger.String("realm", realm))
		return rec, nil
	}
	return r.remote(ctx, wanted, realm)
}

// Remote fetches wanted in realm from the Connector and stores it. Callers
// should prefer Discover.
func (r *Registry) Remote(ctx context.Context, wanted, realm string) (*domain.Record, error) {
	if realm == "" {
		return nil, domain.ErrRealmRequired
	}

	connector, err := r.Connector(ctx)
	if err != nil {
		return nil, err
	}
	this, err := r.This(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Get(ctx, connector, "/services/"+url.PathEscape(wanted), secure.Params{"realm": realm})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, domain.ConnectorErrorf("The Connector could not provide %s (status %d). Response was: %s", wanted, resp.StatusCode, resp.String())
	}

	ciphertext := resp.Field("secret")
	if ciphertext == "" {
		return nil, domain.ConnectorErrorf("The Connector did not return a secret for %s. Response was: %s", wanted, resp.String())
	}
	secret, err := secure.Decrypt(ciphertext, this.Secret)
	if err != nil {
		return nil, domain.ConnectorErrorf("The secret returned for %s could not be decrypted: %v", wanted, err)
	}

	rec := &domain.Record{
		UUID:      resp.Field("uuid"),
		Function:  resp.Field("function"),
		URL:       resp.Field("url"),
		RealmUUID: realm,
		Secret:    secret,
	}
	if err := r.Create(ctx, rec); err != nil {
		return nil, err
	}

	r.logger.Info("service discovered through connector",
		logger.String("wanted", wanted),
		logger.String("uuid", rec.UUID),
		logger.String("function", rec.Function),
		logger.String("realm", realm))
	return rec, nil
}

// Create validates and persists a new record. A duplicate (uuid, realm)
// pair is reported as a validation error on uuid.
func (r *Registry) Create(ctx context.Context, rec *domain.Record) error {
	rec.Normalize()
	if err := domain.Validate(rec); err != nil {
		return err
	}
	if err := r.store.Create(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrTaken) {
			return domain.TakenError()
		}
		return fmt.Errorf("create service: %w", err)
	}
	return nil
}

// Save validates and persists changes to an existing record.
func (r *Registry) Save(ctx context.Context, rec *domain.Record) error {
	rec.Normalize()
	if err := domain.Validate(rec); err != nil {
		return err
	}
	if err := r.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("save service: %w", err)
	}
	return nil
}

// Delete removes rec from the store.
func (r *Registry) Delete(ctx context.Context, rec *domain.Record) error {
	if err := r.store.Delete(ctx, rec); err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	return nil
}

// FindByUUID returns every record with uuid. A nil realm matches all realms;
// a non-nil one narrows to that realm ("" is the null realm).
func (r *Registry) FindByUUID(ctx context.Context, uuid string, realm *string) ([]*domain.Record, error) {
	q := domain.ByUUIDAnyRealm(uuid)
	if realm != nil {
		q = domain.ByUUID(uuid, *realm)
	}
	found, err := r.store.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", uuid, err)
	}
	return found, nil
}

// Ping checks that the store is reachable.
func (r *Registry) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// Count returns the number of stored records across all realms.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	n, err := r.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count services: %w", err)
	}
	return n, nil
}
