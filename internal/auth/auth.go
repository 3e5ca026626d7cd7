// Package auth decides whether an HTTP request may use the node API.
package auth

import (
	"context"
	"net/http"
)

// Authenticator accepts or rejects a request by its credentials. A rejected
// request returns false with a nil error; an error means the decision could
// not be made.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (bool, error)
}
