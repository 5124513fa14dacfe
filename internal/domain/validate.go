package domain

import (
	"net/url"
	"strings"
)

// Violation kinds.
const (
	KindBlank      = "blank"
	KindInvalid    = "invalid"
	KindTaken      = "taken"
	KindNotAllowed = "not_allowed"
)

// Violation is a single failed validation rule.
type Violation struct {
	Field   string
	Kind    string
	Message string
}

// ValidationError aggregates every rule a record failed.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Message)
	}
	return strings.Join(msgs, ", ")
}

// Has reports whether a violation of the given kind exists on field.
func (e *ValidationError) Has(field, kind string) bool {
	for _, v := range e.Violations {
		if v.Field == field && v.Kind == kind {
			return true
		}
	}
	return false
}

func (e *ValidationError) add(field, kind, msg string) {
	e.Violations = append(e.Violations, Violation{Field: field, Kind: kind, Message: msg})
}

// TakenError is the violation reported when (uuid, realm_uuid) is not unique.
func TakenError() *ValidationError {
	e := &ValidationError{}
	e.add("uuid", KindTaken, "uuid is already taken")
	return e
}

// Validate checks r against the record invariants that can be decided
// without the store. Uniqueness is enforced by the store on create.
// It returns nil or a *ValidationError.
func Validate(r *Record) error {
	e := &ValidationError{}

	switch {
	case r.UUID == "":
		e.add("uuid", KindBlank, "uuid can't be blank")
	case !IsUUID(r.UUID):
		e.add("uuid", KindInvalid, "uuid is invalid")
	}

	if r.Function == "" {
		e.add("function", KindBlank, "function can't be blank")
	}

	validateURL(e, r.URL)

	if r.RealmUUID != "" && !IsUUID(r.RealmUUID) {
		e.add("realm_uuid", KindInvalid, "realm_uuid is invalid")
	}
	if r.RealmUUID == "" && !r.IsConnector() && !r.IsThis {
		e.add("realm_uuid", KindBlank, "realm_uuid can't be blank")
	}

	if r.IsConnector() {
		if r.Secret != "" {
			e.add("secret", KindNotAllowed, "secret is not allowed for connector")
		}
	} else if r.Secret == "" {
		e.add("secret", KindBlank, "secret can't be blank")
	}

	if len(e.Violations) == 0 {
		return nil
	}
	return e
}

func validateURL(e *ValidationError, raw string) {
	if raw == "" {
		e.add("url", KindBlank, "url can't be blank")
		return
	}
	if strings.HasSuffix(raw, "/") {
		e.add("url", KindInvalid, "url must not end with a slash")
		return
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		e.add("url", KindInvalid, "url is invalid")
	}
}
