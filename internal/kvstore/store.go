// Package kvstore holds the durable string storage the client keeps its
// session in. Absence of a key is a normal state, never an error.
package kvstore

import "context"

// Keys used by the client. Values are opaque strings.
const (
	KeyAuthToken   = "auth_token"
	KeyDisplayName = "user_display_name"
	KeyBaseURL     = "api_base_url_override"
	KeyPushToken   = "push_token"
)

type Store interface {
	// Get reports ok=false when the key is unset.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	// Delete of an unset key is a no-op.
	Delete(ctx context.Context, key string) error
}
