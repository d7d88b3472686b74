package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

// DefaultJWKSCacheTTL bounds how long a resolved signing key is reused.
const DefaultJWKSCacheTTL = 15 * time.Minute

// clockSkew is tolerated on nbf and iat.
const clockSkew = time.Minute

var (
	errTokenExpired    = errors.New("token expired or without exp")
	errTokenNotYet     = errors.New("token not valid yet")
	errInvalidAudience = errors.New("invalid audience")
	errInvalidIssuer   = errors.New("invalid issuer")
	errMissingSubject  = errors.New("missing sub")
	errNoJWKS          = errors.New("jwks not configured")
)

// userClaims are the claims a board user's token must carry.
type userClaims struct {
	jwt.RegisteredClaims
}

func (c *userClaims) Valid() error {
	now := time.Now()
	if !c.VerifyExpiresAt(now, true) {
		return errTokenExpired
	}
	if !c.VerifyNotBefore(now.Add(clockSkew), false) || !c.VerifyIssuedAt(now.Add(clockSkew), false) {
		return errTokenNotYet
	}
	if c.Subject == "" {
		return errMissingSubject
	}
	return nil
}

// Auth validates bearer tokens: RS256 against a JWKS, or HS256 with a shared
// secret in test mode.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte

	parser *jwt.Parser
	keys   *signingKeys
}

// NewAuth validates RS256 tokens against a JWKS.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string, keyCacheTTL time.Duration) *Auth {
	return &Auth{
		JWKS:     jwks,
		Audience: audience,
		Issuer:   issuer,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
		keys:     newSigningKeys(keyCacheTTL),
	}
}

// NewTestAuth validates HS256 tokens signed with a shared secret.
func NewTestAuth(secret []byte) *Auth {
	return &Auth{
		TestMode:   true,
		TestSecret: secret,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

// UserIDFromAuthHeader extracts the user identifier from the Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	token, err := bearerTokenFromString(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromBearer(token)
}

// UserIDFromBearer validates a raw token and returns its subject.
func (a *Auth) UserIDFromBearer(token string) (string, error) {
	if token == "" {
		return "", errBadAuthorization
	}
	claims := &userClaims{}
	if _, err := a.parser.ParseWithClaims(token, claims, a.keyFunc); err != nil {
		return "", err
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, true) {
		return "", errInvalidAudience
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, true) {
		return "", errInvalidIssuer
	}
	return claims.Subject, nil
}

func (a *Auth) keyFunc(token *jwt.Token) (any, error) {
	if a.TestMode {
		return a.TestSecret, nil
	}
	if a.JWKS == nil {
		return nil, errNoJWKS
	}
	kid, _ := token.Header["kid"].(string)
	if key, ok := a.keys.get(kid); ok {
		return key, nil
	}
	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	a.keys.put(kid, key)
	return key, nil
}

// signingKeys caches JWKS lookups by key id.
type signingKeys struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]signingKey
}

type signingKey struct {
	key       any
	expiresAt time.Time
}

func newSigningKeys(ttl time.Duration) *signingKeys {
	return &signingKeys{ttl: ttl, entries: make(map[string]signingKey)}
}

func (s *signingKeys) get(kid string) (any, bool) {
	if s == nil || kid == "" || s.ttl <= 0 {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[kid]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(s.entries, kid)
		return nil, false
	}
	return e.key, true
}

func (s *signingKeys) put(kid string, key any) {
	if s == nil || kid == "" || s.ttl <= 0 {
		return
	}
	s.mu.Lock()
	s.entries[kid] = signingKey{key: key, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()
}

// SignTestToken issues an HS256 token accepted by NewTestAuth(secret).
func SignTestToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("empty signing secret")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(secret)
}
