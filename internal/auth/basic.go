package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
)

// BasicAuthEngine accepts requests carrying one fixed username and password.
type BasicAuthEngine struct {
	Username string
	Password string
}

// NewBasicAuthEngine creates a new BasicAuthEngine for the given credentials.
func NewBasicAuthEngine(username, password string) (*BasicAuthEngine, error) {
	if username == "" || password == "" {
		return nil, errors.New("basic auth requires a username and password")
	}
	return &BasicAuthEngine{
		Username: username,
		Password: password,
	}, nil
}

var _ Authenticator = (*BasicAuthEngine)(nil)

// Authenticate reports whether the request's Basic credentials match.
func (e *BasicAuthEngine) Authenticate(_ context.Context, r *http.Request) (bool, error) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false, nil
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(e.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(e.Password)) == 1
	return userOK && passOK, nil
}
