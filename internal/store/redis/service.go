package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/realmlink/internal/domain"
	"github.com/MrSnakeDoc/realmlink/internal/secure"
)

// createScript inserts a record only if its key is free and, for the root
// "this" record, only if no other one exists.
//
// KEYS: record, all set, this pointer. ARGV: payload, is root this ("1"/"0").
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
if ARGV[2] == '1' then
	if redis.call('EXISTS', KEYS[3]) == 1 then
		return 0
	end
	redis.call('SET', KEYS[3], KEYS[1])
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SADD', KEYS[2], KEYS[1])
return 1
`)

// deleteScript removes a record, its index entry and the this pointer if it
// referenced the record. Returns the number of deleted records.
var deleteScript = redis.NewScript(`
local n = redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], KEYS[1])
if redis.call('GET', KEYS[3]) == KEYS[1] then
	redis.call('DEL', KEYS[3])
end
return n
`)

// Store persists registry records in Redis.
// Secrets are encrypted at rest with the storage key.
type Store struct {
	client     *redis.Client
	storageKey string
}

// NewStore creates a new Redis store
func NewStore(client *redis.Client, storageKey string) *Store {
	return &Store{
		client:     client,
		storageKey: storageKey,
	}
}

// Create stores a new record atomically. It returns domain.ErrTaken when the
// (uuid, realm) pair or a root "this" record already exists.
func (s *Store) Create(ctx context.Context, r *domain.Record) error {
	data, err := s.marshal(r)
	if err != nil {
		return err
	}

	rootThis := "0"
	if r.IsThis && r.RealmUUID == "" {
		rootThis = "1"
	}

	keys := []string{ServiceKey(r.RealmUUID, r.UUID), AllServicesKey(), ThisKey()}
	created, err := createScript.Run(ctx, s.client, keys, data, rootThis).Int()
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	if created == 0 {
		return domain.ErrTaken
	}
	return nil
}

// Save overwrites an existing record.
func (s *Store) Save(ctx context.Context, r *domain.Record) error {
	data, err := s.marshal(r)
	if err != nil {
		return err
	}

	ok, err := s.client.SetXX(ctx, ServiceKey(r.RealmUUID, r.UUID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to save service: %w", err)
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, r *domain.Record) error {
	keys := []string{ServiceKey(r.RealmUUID, r.UUID), AllServicesKey(), ThisKey()}
	n, err := deleteScript.Run(ctx, s.client, keys).Int()
	if err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Find returns every record matching q.
func (s *Store) Find(ctx context.Context, q domain.Query) ([]*domain.Record, error) {
	// Exact identity lookups skip the scan.
	if q.UUID != nil && !q.AnyRealm {
		return s.findKeys(ctx, q, []string{ServiceKey(q.RealmUUID, *q.UUID)})
	}
	if q.IsThis != nil && *q.IsThis && !q.AnyRealm && q.RealmUUID == "" {
		key, err := s.client.Get(ctx, ThisKey()).Result()
		if errors.Is(err, redis.Nil) {
			return []*domain.Record{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get this service: %w", err)
		}
		return s.findKeys(ctx, q, []string{key})
	}

	keys, err := s.client.SMembers(ctx, AllServicesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get service keys: %w", err)
	}
	return s.findKeys(ctx, q, narrowKeys(q, keys))
}

// narrowKeys drops index entries whose key already rules out a match.
func narrowKeys(q domain.Query, keys []string) []string {
	out := keys[:0]
	for _, k := range keys {
		realm, uuid, err := SplitServiceKey(k)
		if err != nil {
			continue
		}
		if !q.AnyRealm && realm != q.RealmUUID {
			continue
		}
		if q.UUID != nil && uuid != *q.UUID {
			continue
		}
		out = append(out, k)
	}
	return out
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	return s.client.SCard(ctx, AllServicesKey()).Result()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) findKeys(ctx context.Context, q domain.Query, keys []string) ([]*domain.Record, error) {
	if len(keys) == 0 {
		return []*domain.Record{}, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get services: %w", err)
	}

	records := make([]*domain.Record, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entries can outlive their record briefly; skip them.
			continue
		}
		r, err := s.unmarshal(raw)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", keys[i], err)
		}
		if q.Matches(r) {
			records = append(records, r)
		}
	}
	sortRecords(records)
	return records, nil
}

func (s *Store) marshal(r *domain.Record) (string, error) {
	stored := *r
	if stored.Secret != "" {
		enc, err := secure.Encrypt(stored.Secret, s.storageKey)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt secret: %w", err)
		}
		stored.Secret = enc
	}
	data, err := json.Marshal(&stored)
	if err != nil {
		return "", fmt.Errorf("failed to marshal service: %w", err)
	}
	return string(data), nil
}

func (s *Store) unmarshal(raw string) (*domain.Record, error) {
	var r domain.Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal service: %w", err)
	}
	if r.Secret != "" {
		plain, err := secure.Decrypt(r.Secret, s.storageKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt secret: %w", err)
		}
		r.Secret = plain
	}
	return &r, nil
}
