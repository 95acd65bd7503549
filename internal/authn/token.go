package authn

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the registry-scoped bearer token payload. sub is the
// decimal user id per §4.D; access mirrors the docker/distribution token
// spec's resource-scope list. The distribution handlers do not read access:
// every request is authorized through internal/authz.
type Claims struct {
	jwt.RegisteredClaims
	Access []ResourceActions `json:"access,omitempty"`
}

type ResourceActions struct {
	Type    string   `json:"type"`
	Name    string   `json:"name"`
	Actions []string `json:"actions"`
}

type TokenIssuer struct {
	secret     []byte
	expiration time.Duration
	issuer     string
}

func NewTokenIssuer(secret string, expiration time.Duration, issuer string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), expiration: expiration, issuer: issuer}
}

// Issue mints an HS256 token carrying sub=userID and the granted scopes.
func (t *TokenIssuer) Issue(userID int64, access []ResourceActions) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expiration)),
			Issuer:    t.issuer,
		},
		Access: access,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify parses and validates a bearer token, returning the decimal user id
// from sub. Per §4.D, tokens are verified as HS256.
func (t *TokenIssuer) Verify(tokenString string) (userID int64, claims *Claims, err error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("authn: unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return 0, nil, fmt.Errorf("authn: verify token: %w", err)
	}
	c, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return 0, nil, fmt.Errorf("authn: invalid token")
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("authn: subject is not a user id: %w", err)
	}
	return id, c, nil
}
