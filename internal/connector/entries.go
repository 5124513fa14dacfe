package connector

import (
	"fmt"
	"sort"

	"github.com/MrSnakeDoc/realmlink/internal/domain"
	"github.com/MrSnakeDoc/realmlink/internal/secure"
)

// connectorEntry returns the entry under "connector" or, failing that, the
// first entry (by key) whose function is "connector".
func connectorEntry(body map[string]any) map[string]any {
	if data, ok := body["connector"].(map[string]any); ok {
		return data
	}
	return findEntry(body, func(data map[string]any) bool {
		return stringField(data, "function") == domain.FunctionConnector
	})
}

// thisEntry returns the entry under "this" or, failing that, the first
// entry (by key) flagged with this=true.
func thisEntry(body map[string]any) map[string]any {
	if data, ok := body["this"].(map[string]any); ok {
		return data
	}
	return findEntry(body, func(data map[string]any) bool {
		return boolField(data, "this")
	})
}

func findEntry(body map[string]any, match func(map[string]any) bool) map[string]any {
	for _, key := range sortedKeys(body) {
		data, ok := body[key].(map[string]any)
		if ok && match(data) {
			return data
		}
	}
	return nil
}

// recordFrom reads the record fields of an entry.
func recordFrom(data map[string]any) *domain.Record {
	return &domain.Record{
		UUID:      stringField(data, "uuid"),
		Function:  stringField(data, "function"),
		URL:       stringField(data, "url"),
		RealmUUID: stringField(data, "realm_uuid"),
		Secret:    stringField(data, "secret"),
		IsThis:    boolField(data, "this"),
	}
}

// applyPatch sets the mutable fields present in patch. Identity fields
// (uuid, realm_uuid, this) are never rewritten.
func applyPatch(r *domain.Record, patch map[string]any) {
	if _, ok := patch["url"]; ok {
		r.SetURL(stringField(patch, "url"))
	}
	if _, ok := patch["function"]; ok {
		r.Function = stringField(patch, "function")
	}
	if _, ok := patch["secret"]; ok {
		r.Secret = stringField(patch, "secret")
	}
}

func stringField(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func boolField(data map[string]any, key string) bool {
	switch v := data[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	default:
		return false
	}
}

func sortedKeys(body map[string]any) []string {
	keys := make([]string, 0, len(body))
	for k := range body {
		if k != secure.SignatureParam {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
