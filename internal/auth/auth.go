package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
)

type Claims struct {
	Subject string
	Token   string
}

type Authenticator interface {
	Authenticate(r *http.Request) (Claims, error)
}

// TokenAuthenticator accepts a single shared bearer token. With no token
// configured every request is accepted as the anonymous "dev" subject.
type TokenAuthenticator struct {
	DevToken string
}

func NewTokenAuthenticator(token string) *TokenAuthenticator {
	return &TokenAuthenticator{DevToken: token}
}

func (a *TokenAuthenticator) Enabled() bool {
	return a != nil && a.DevToken != ""
}

func (a *TokenAuthenticator) Authenticate(r *http.Request) (Claims, error) {
	if !a.Enabled() {
		return Claims{Subject: "dev"}, nil
	}
	bearer, err := extractBearer(r)
	if err != nil {
		return Claims{}, err
	}
	if subtle.ConstantTimeCompare([]byte(bearer), []byte(a.DevToken)) != 1 {
		return Claims{}, ErrInvalidToken
	}
	return Claims{Subject: "operator", Token: bearer}, nil
}

func extractBearer(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", ErrMissingBearer
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}
