package interfaces

import "context"

// TokenVerifier verifies a bearer token with the external identity provider
// and returns the stable user identifier it asserts. The orchestrator never
// creates users; it only reads the identifier for ownership checks.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}
