package connector

import (
	"encoding/json"
	"net/http"
)

// ContentType is sent with every response, success or not.
const ContentType = "text/javascript; charset=utf-8"

// Envelope keys.
const (
	KeySuccess = "success"
	KeyError   = "error"
)

func render(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func fail(w http.ResponseWriter, msg string) {
	render(w, http.StatusBadRequest, map[string]string{KeyError: msg})
}

func succeed(w http.ResponseWriter, status int, msg string) {
	render(w, status, map[string]string{KeySuccess: msg})
}
