package redis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MrSnakeDoc/realmlink/internal/domain"
)

const (
	// KeyPrefixService is the prefix for record keys
	KeyPrefixService = "realmlink:service:"
	// KeyAllServices is the key for the set of all record keys
	KeyAllServices = "realmlink:services:all"
	// KeyThis points at the record key of this service
	KeyThis = "realmlink:this"

	// nullRealm stands for the empty realm in keys
	nullRealm = "_"
)

// ServiceKey returns the Redis key for a record identified by realm and uuid.
func ServiceKey(realm, uuid string) string {
	if realm == "" {
		realm = nullRealm
	}
	return KeyPrefixService + realm + ":" + uuid
}

// AllServicesKey returns the key for the set of all record keys
func AllServicesKey() string {
	return KeyAllServices
}

// ThisKey returns the key holding the record key of this service
func ThisKey() string {
	return KeyThis
}

// SplitServiceKey extracts realm and uuid from a record key.
func SplitServiceKey(key string) (realm, uuid string, err error) {
	if !strings.HasPrefix(key, KeyPrefixService) {
		return "", "", fmt.Errorf("invalid service key: %s", key)
	}
	parts := strings.SplitN(key[len(KeyPrefixService):], ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", fmt.Errorf("invalid service key: %s", key)
	}
	if parts[0] == nullRealm {
		parts[0] = ""
	}
	return parts[0], parts[1], nil
}

// sortRecords orders records by realm, then uuid, like the memory store.
func sortRecords(records []*domain.Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].RealmUUID != records[j].RealmUUID {
			return records[i].RealmUUID < records[j].RealmUUID
		}
		return records[i].UUID < records[j].UUID
	})
}
