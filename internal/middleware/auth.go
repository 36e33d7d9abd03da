package middleware

import (
	"crypto/subtle"
	"net/http"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// publicPaths are exempt from API key authentication.
var publicPaths = map[string]bool{
	"/health": true,
}

// APIKey returns middleware that validates the X-API-Key header against a
// bcrypt hash. The hash is read through the provider on every request, so a
// config reload rotates the key without a restart. An empty hash disables
// authentication entirely, which is the expected mode for local development.
//
// Browser WebSocket clients cannot set request headers, so /ws also
// accepts the key via the "key" query parameter.
//
// bcrypt comparison is deliberately slow, and a recalculation storm fans
// out one request per cell. The last accepted key is therefore remembered
// and re-checked with a constant-time compare for as long as the hash it
// matched stays current.
func APIKey(hash func() string) func(http.Handler) http.Handler {
	var (
		mu          sync.RWMutex
		accepted    string
		acceptedFor string
	)

	valid := func(key, currentHash string) bool {
		mu.RLock()
		known, knownFor := accepted, acceptedFor
		mu.RUnlock()
		if known != "" && knownFor == currentHash &&
			subtle.ConstantTimeCompare([]byte(known), []byte(key)) == 1 {
			return true
		}
		if bcrypt.CompareHashAndPassword([]byte(currentHash), []byte(key)) != nil {
			return false
		}
		mu.Lock()
		accepted, acceptedFor = key, currentHash
		mu.Unlock()
		return true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			currentHash := hash()
			if currentHash == "" || publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" && r.URL.Path == "/ws" {
				key = r.URL.Query().Get("key")
			}
			if key == "" {
				http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
				return
			}
			if !valid(key, currentHash) {
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
