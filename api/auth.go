package api

import (
	"errors"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

// Auth validates incoming bearer tokens issued by the identity service. The
// core trusts the subject claim as the caller identifier. In local mode
// tokens are verified against a shared HS256 secret instead of the JWKS.
type Auth struct {
	jwks        *keyfunc.JWKS
	audience    string
	issuer      string
	localSecret []byte
	parser      *jwt.Parser
}

// NewAuth creates an Auth verifying RS256 tokens against the given JWKS.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	return &Auth{
		jwks:     jwks,
		audience: audience,
		issuer:   issuer,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
	}
}

// NewLocalAuth creates an Auth verifying HS256 tokens with a shared secret.
// Intended for local runs and tests.
func NewLocalAuth(secret []byte) *Auth {
	if len(secret) == 0 {
		panic("local auth requires a shared secret")
	}
	return &Auth{
		localSecret: secret,
		parser:      jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

// UserIDFromAuthHeader extracts the caller identifier from an Authorization
// header value.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	token, err := bearerToken(h)
	if err != nil {
		return "", err
	}

	keyFn := a.keyFunc
	if a.localSecret != nil {
		keyFn = func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.localSecret, nil
		}
	}
	parsed, err := a.parser.Parse(token, keyFn)
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	now := time.Now().Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return "", errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return "", errors.New("token not valid yet")
	}
	if a.audience != "" && !claims.VerifyAudience(a.audience, false) {
		return "", errors.New("invalid audience")
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, false) {
		return "", errors.New("invalid issuer")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func (a *Auth) keyFunc(token *jwt.Token) (any, error) {
	if a.jwks == nil {
		return nil, errors.New("jwks not configured")
	}
	return a.jwks.Keyfunc(token)
}

func bearerToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errMissingAuthorization
	}
	const prefix = "Bearer "
	if len(raw) <= len(prefix) || !strings.EqualFold(raw[:len(prefix)], prefix) {
		return "", errBadAuthorization
	}
	token := raw[len(prefix):]
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}
