// Package auth resolves HTTP credentials to a Principal. Three modes are
// supported: static API keys, HS256 bearer tokens, and a hybrid mode that
// prefers a bearer token when one is present.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated means no usable credential was presented.
var ErrUnauthenticated = errors.New("missing or invalid credential")

// ErrForbidden means a credential was presented but maps to no principal.
var ErrForbidden = errors.New("credential not recognized")

// Principal is the resolved caller identity. RateKey feeds the rate
// limiter so API keys and tokens are throttled symmetrically.
type Principal struct {
	UserID  string
	IsAdmin bool
	RateKey string
}

// Authenticator resolves a request to a Principal.
type Authenticator interface {
	Authenticate(r *http.Request) (Principal, error)
}

// APIKeyAuthenticator maps static X-API-Key values to user ids.
type APIKeyAuthenticator struct {
	keys   map[string]string
	admins map[string]bool
}

// NewAPIKeyAuthenticator parses "key1:user1,key2:user2" mappings and a
// comma-separated admin user id list.
func NewAPIKeyAuthenticator(mappings, adminUserIDs string) (*APIKeyAuthenticator, error) {
	keys := make(map[string]string)
	for _, pair := range strings.Split(mappings, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, user, ok := strings.Cut(pair, ":")
		if !ok || key == "" || user == "" {
			return nil, fmt.Errorf("malformed api key mapping %q", pair)
		}
		keys[strings.TrimSpace(key)] = strings.TrimSpace(user)
	}
	return &APIKeyAuthenticator{keys: keys, admins: parseAdmins(adminUserIDs)}, nil
}

func (a *APIKeyAuthenticator) Authenticate(r *http.Request) (Principal, error) {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		return Principal{}, ErrUnauthenticated
	}
	user, ok := a.keys[key]
	if !ok {
		return Principal{}, ErrForbidden
	}
	return Principal{UserID: user, IsAdmin: a.admins[user], RateKey: "key:" + key}, nil
}

// JWTAuthenticator validates HS256 bearer tokens. The subject claim is the
// user id.
type JWTAuthenticator struct {
	secret    []byte
	algorithm string
	audience  string
	issuer    string
	admins    map[string]bool
}

// NewJWTAuthenticator builds a bearer-token authenticator. Audience and
// issuer are enforced only when non-empty.
func NewJWTAuthenticator(secret, algorithm, audience, issuer, adminUserIDs string) *JWTAuthenticator {
	if algorithm == "" {
		algorithm = "HS256"
	}
	return &JWTAuthenticator{
		secret:    []byte(secret),
		algorithm: algorithm,
		audience:  audience,
		issuer:    issuer,
		admins:    parseAdmins(adminUserIDs),
	}
}

func (a *JWTAuthenticator) Authenticate(r *http.Request) (Principal, error) {
	tokenString := extractBearerToken(r)
	if tokenString == "" {
		return Principal{}, ErrUnauthenticated
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{a.algorithm})}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Principal{}, ErrUnauthenticated
	}
	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return Principal{}, ErrUnauthenticated
	}
	return Principal{UserID: subject, IsAdmin: a.admins[subject], RateKey: "user:" + subject}, nil
}

// HybridAuthenticator tries the bearer token when an Authorization header
// is present and falls back to the API key otherwise.
type HybridAuthenticator struct {
	jwt    *JWTAuthenticator
	apiKey *APIKeyAuthenticator
}

// NewHybridAuthenticator combines the two credential paths.
func NewHybridAuthenticator(jwtAuth *JWTAuthenticator, apiKeyAuth *APIKeyAuthenticator) *HybridAuthenticator {
	return &HybridAuthenticator{jwt: jwtAuth, apiKey: apiKeyAuth}
}

func (a *HybridAuthenticator) Authenticate(r *http.Request) (Principal, error) {
	if extractBearerToken(r) != "" {
		return a.jwt.Authenticate(r)
	}
	return a.apiKey.Authenticate(r)
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

func parseAdmins(adminUserIDs string) map[string]bool {
	admins := make(map[string]bool)
	for _, id := range strings.Split(adminUserIDs, ",") {
		if id = strings.TrimSpace(id); id != "" {
			admins[id] = true
		}
	}
	return admins
}
