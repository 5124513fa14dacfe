package domain

// Query selects records from a store. Nil fields do not constrain.
//
// RealmUUID is always compared unless AnyRealm is set; the empty string
// matches the null realm.
type Query struct {
	UUID      *string
	Function  *string
	RealmUUID string
	AnyRealm  bool
	IsThis    *bool
}

// Matches reports whether r satisfies q.
func (q Query) Matches(r *Record) bool {
	if q.UUID != nil && r.UUID != *q.UUID {
		return false
	}
	if q.Function != nil && r.Function != *q.Function {
		return false
	}
	if !q.AnyRealm && r.RealmUUID != q.RealmUUID {
		return false
	}
	if q.IsThis != nil && r.IsThis != *q.IsThis {
		return false
	}
	return true
}

// ByUUID selects records with the given UUID in realm.
func ByUUID(id, realm string) Query {
	return Query{UUID: &id, RealmUUID: realm}
}

// ByUUIDAnyRealm selects records with the given UUID regardless of realm.
func ByUUIDAnyRealm(id string) Query {
	return Query{UUID: &id, AnyRealm: true}
}

// ByFunction selects records with the given function in realm.
func ByFunction(fn, realm string) Query {
	return Query{Function: &fn, RealmUUID: realm}
}

// ThisQuery selects the realm-less "this" record.
func ThisQuery() Query {
	t := true
	return Query{IsThis: &t}
}
