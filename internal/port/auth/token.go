// Package auth defines the port interface for remote-API credentials.
package auth

import "context"

// TokenSource yields a bearer token valid for the Google Cloud APIs the
// service calls (Vertex AI, Sheets). Token returns a cached value when one
// is still fresh; Refresh forces a new fetch and is called once at the
// start of every scheduling window.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}
