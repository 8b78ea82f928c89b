// Package auth verifies bearer tokens. OIDC tokens are checked against the
// issuer's JWKS; HMAC session tokens signed with the shared secret are
// accepted as a fallback.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/makeasinger/mediagen/internal/config"
)

const discoveryTimeout = 30 * time.Second

var ErrInvalidAudience = errors.New("invalid audience")

type TokenVerifier interface {
	Validate(tokenString string) (*Claims, error)
	Close() error
}

// Claims is the subset of ID/access token claims the service reads.
type Claims struct {
	UserID            string `json:"sub"`
	Email             string `json:"email,omitempty"`
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	jwt.RegisteredClaims
}

// JWKSVerifier checks RS/ES-signed tokens against keys published by the issuer.
// Keys are refreshed in the background until Close.
type JWKSVerifier struct {
	keys     keyfunc.Keyfunc
	issuer   string
	audience string
	stop     context.CancelFunc
}

func NewJWKSVerifier(ctx context.Context, cfg config.OIDCConfig) (*JWKSVerifier, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("oidc issuer is required")
	}

	doc, err := discover(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}

	refreshCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	keys, err := keyfunc.NewDefaultCtx(refreshCtx, []string{doc.JWKSURI})
	if err != nil {
		stop()
		return nil, fmt.Errorf("load jwks from %s: %w", doc.JWKSURI, err)
	}

	return &JWKSVerifier{
		keys:     keys,
		issuer:   cfg.Issuer,
		audience: cfg.ClientID,
		stop:     stop,
	}, nil
}

type discoveryDocument struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// discover reads the issuer's openid-configuration document.
func discover(ctx context.Context, issuer string) (*discoveryDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	url := strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}

	var doc discoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	switch {
	case doc.JWKSURI == "":
		return nil, errors.New("document has no jwks_uri")
	case doc.Issuer != "" && strings.TrimRight(doc.Issuer, "/") != strings.TrimRight(issuer, "/"):
		return nil, fmt.Errorf("document issuer %q does not match %q", doc.Issuer, issuer)
	}
	return &doc, nil
}

func (v *JWKSVerifier) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keys.Keyfunc,
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}

	// aud may be absent on access tokens from some issuers
	if v.audience != "" && !slices.Contains(claims.Audience, v.audience) {
		return nil, ErrInvalidAudience
	}
	return claims, nil
}

func (v *JWKSVerifier) Close() error {
	v.stop()
	return nil
}
