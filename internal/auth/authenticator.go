package auth

import (
	"errors"
	"strings"
)

var (
	ErrMissingToken  = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrNotConfigured = errors.New("authentication not configured")
)

// Identity is who a request acts as
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// Headers carrying an Identity between the gateway and this service.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
)

// Authenticator tries the OIDC verifier first and falls back to session
// tokens when a secret is configured.
type Authenticator struct {
	verifier TokenVerifier
	secret   string
}

func NewAuthenticator(verifier TokenVerifier, sessionSecret string) *Authenticator {
	return &Authenticator{verifier: verifier, secret: sessionSecret}
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", ErrMissingToken
	}
	return parts[1], nil
}

func (a *Authenticator) Authenticate(token string) (Identity, error) {
	if a.verifier == nil && a.secret == "" {
		return Identity{}, ErrNotConfigured
	}

	if a.verifier != nil {
		if claims, err := a.verifier.Validate(token); err == nil {
			name := claims.Name
			if name == "" {
				name = claims.PreferredUsername
			}
			return Identity{UserID: claims.UserID, Email: claims.Email, Name: name}, nil
		}
	}

	if a.secret != "" {
		if claims, err := ValidateSessionToken(token, a.secret); err == nil {
			return Identity{UserID: claims.UserID, Email: claims.Email}, nil
		}
	}

	return Identity{}, ErrInvalidToken
}
