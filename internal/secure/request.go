package secure

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// SignatureParam is the parameter carrying the request signature.
const SignatureParam = "sign"

// Params are the parameters of a signed request. Values are strings, numbers,
// booleans, lists or nested maps; query transport supports only scalars and
// lists of scalars.
type Params map[string]any

// SignedRequest is an outbound request ready to be sent.
type SignedRequest struct {
	Method string
	URL    string
	Body   []byte // nil for query transport
}

// UsesBody reports whether parameters of method travel in a JSON body.
// GET, HEAD and DELETE carry them in the query string.
func UsesBody(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

// SignRequest adds params to the request for method and rawURL and signs it
// with key. Parameters already present in rawURL's query are kept and signed.
func SignRequest(method, rawURL string, params Params, key string) (*SignedRequest, error) {
	method = strings.ToUpper(method)
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	query := u.Query()
	query.Del(SignatureParam)

	if !UsesBody(method) {
		for k, v := range params {
			if k == SignatureParam {
				continue
			}
			vals, err := queryValues(v)
			if err != nil {
				return nil, fmt.Errorf("param %q: %w", k, err)
			}
			query[k] = vals
		}
		query.Set(SignatureParam, Sign(canonical(method, u, query, ""), key))
		u.RawQuery = query.Encode()
		return &SignedRequest{Method: method, URL: u.String()}, nil
	}

	body, err := canonicalJSON(params)
	if err != nil {
		return nil, err
	}
	signature := Sign(canonical(method, u, query, body), key)

	var decoded map[string]any
	if err := decodeJSON([]byte(body), &decoded); err != nil {
		return nil, err
	}
	decoded[SignatureParam] = signature
	payload, err := json.Marshal(decoded)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}

	u.RawQuery = query.Encode()
	return &SignedRequest{Method: method, URL: u.String(), Body: payload}, nil
}

// Incoming is a received request decoded for signature checks.
type Incoming struct {
	Method string
	URL    *url.URL
	Query  url.Values
	Body   map[string]any // nil when the request carried no JSON body
}

// ReadRequest decodes r. A JSON object body is decoded for every method but
// GET and HEAD, so a DELETE may carry its parameters either way. r.Body is
// restored so later handlers can read it again.
func ReadRequest(r *http.Request) (*Incoming, error) {
	in := &Incoming{
		Method: strings.ToUpper(r.Method),
		URL:    r.URL,
		Query:  r.URL.Query(),
	}
	if in.Method == http.MethodGet || in.Method == http.MethodHead || r.Body == nil {
		return in, nil
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))

	if len(bytes.TrimSpace(raw)) == 0 {
		return in, nil
	}
	var body map[string]any
	if err := decodeJSON(raw, &body); err != nil {
		return nil, err
	}
	in.Body = body
	return in, nil
}

// Signature returns the signature the request claims, from the body first,
// then from the query.
func (in *Incoming) Signature() string {
	if s, ok := in.Body[SignatureParam].(string); ok && s != "" {
		return s
	}
	return in.Query.Get(SignatureParam)
}

// Param returns a scalar parameter from the body or, failing that, the query.
func (in *Incoming) Param(name string) string {
	if v, ok := in.Body[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return in.Query.Get(name)
}

// List returns a list parameter from the body or the query. ok is false when
// the parameter is absent.
func (in *Incoming) List(name string) (vals []string, ok bool) {
	if v, present := in.Body[name]; present {
		switch t := v.(type) {
		case []any:
			out := make([]string, 0, len(t))
			for _, item := range t {
				out = append(out, fmt.Sprint(item))
			}
			return out, true
		case string:
			return []string{t}, true
		default:
			return nil, false
		}
	}
	if vals, present := in.Query[name]; present {
		return vals, true
	}
	if vals, present := in.Query[name+"[]"]; present {
		return vals, true
	}
	return nil, false
}

// Verify reports whether the request is signed with key.
func (in *Incoming) Verify(key string) bool {
	sig := in.Signature()
	if sig == "" || key == "" {
		return false
	}

	query := cloneValues(in.Query)
	query.Del(SignatureParam)

	body := ""
	if in.Body != nil {
		rest := make(map[string]any, len(in.Body))
		for k, v := range in.Body {
			if k != SignatureParam {
				rest[k] = v
			}
		}
		b, err := json.Marshal(rest)
		if err != nil {
			return false
		}
		body = string(b)
	}

	return Equal(Sign(canonical(in.Method, in.URL, query, body), key), sig)
}

// VerifyRequest reads r and checks its signature against key. The decoded
// request is returned either way.
func VerifyRequest(r *http.Request, key string) (*Incoming, bool, error) {
	in, err := ReadRequest(r)
	if err != nil {
		return nil, false, err
	}
	return in, in.Verify(key), nil
}

func canonical(method string, u *url.URL, query url.Values, body string) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return strings.Join([]string{method, path, query.Encode(), body}, "\n")
}

// canonicalJSON encodes params as compact JSON with sorted keys, without
// the signature parameter. Numbers keep their textual form.
func canonicalJSON(params Params) (string, error) {
	rest := make(map[string]any, len(params))
	for k, v := range params {
		if k != SignatureParam {
			rest[k] = v
		}
	}
	first, err := json.Marshal(rest)
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}
	var normalized map[string]any
	if err := decodeJSON(first, &normalized); err != nil {
		return "", err
	}
	out, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}
	return string(out), nil
}

func decodeJSON(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func queryValues(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return []string{""}, nil
	case string:
		return []string{t}, nil
	case []string:
		return append([]string(nil), t...), nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if _, nested := item.(map[string]any); nested {
				return nil, fmt.Errorf("nested values are not supported in query")
			}
			out = append(out, fmt.Sprint(item))
		}
		return out, nil
	case map[string]any, Params:
		return nil, fmt.Errorf("nested values are not supported in query")
	default:
		return []string{fmt.Sprint(t)}, nil
	}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
