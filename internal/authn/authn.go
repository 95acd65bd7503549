package authn

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/registryx/regserver/internal/cache"
	"github.com/registryx/regserver/internal/store"
)

// Identity is the authenticated principal for a request.
type Identity struct {
	UserID   int64
	Username string
}

var (
	// ErrNoCredentials means the request carried no Authorization/X-API-Key
	// header at all.
	ErrNoCredentials = errors.New("authn: no credentials presented")
	// ErrInvalidCredentials means credentials were presented but did not
	// verify — malformed header, bad signature, unknown key, wrong password.
	ErrInvalidCredentials = errors.New("authn: invalid credentials")
)

type cachedToken struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

type cachedAPIKey struct {
	UserID    int64      `json:"user_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Authenticator implements §4.D: bearer/API-key/basic credential
// extraction, each path converging on the same Identity.
type Authenticator struct {
	store  *store.Store
	cache  *cache.Cache
	tokens *TokenIssuer
}

func NewAuthenticator(st *store.Store, c *cache.Cache, tokens *TokenIssuer) *Authenticator {
	return &Authenticator{store: st, cache: c, tokens: tokens}
}

// Authenticate resolves the request's credentials to an Identity, trying
// X-API-Key first, then an Authorization header of Bearer or Basic.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		return a.verifyAPIKey(ctx, apiKey)
	}

	if auth := r.Header.Get("Authorization"); auth != "" {
		switch {
		case strings.HasPrefix(auth, "Bearer "):
			return a.verifyBearer(ctx, strings.TrimPrefix(auth, "Bearer "))
		case strings.HasPrefix(auth, "Basic "):
			return a.verifyBasic(ctx, strings.TrimPrefix(auth, "Basic "))
		default:
			return nil, ErrInvalidCredentials
		}
	}

	return nil, ErrNoCredentials
}

// verifyBearer routes to API-key verification if the token carries the
// ak_ prefix (per §4.D), otherwise verifies it as a signed token, caching
// the verified result under the token string itself.
func (a *Authenticator) verifyBearer(ctx context.Context, token string) (*Identity, error) {
	if IsAPIKey(token) {
		return a.verifyAPIKey(ctx, token)
	}

	var cached cachedToken
	if hit, _ := a.cache.Get(ctx, cache.NamespaceAuthToken, token, &cached); hit {
		return &Identity{UserID: cached.UserID, Username: cached.Username}, nil
	}

	userID, _, err := a.tokens.Verify(token)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	user, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("authn: look up user: %w", err)
	}

	_ = a.cache.Set(ctx, cache.NamespaceAuthToken, token, cachedToken{UserID: user.ID, Username: user.Username})
	return &Identity{UserID: user.ID, Username: user.Username}, nil
}

// verifyAPIKey hashes the plaintext, looks it up, rejects if missing,
// inactive, or expired, and touches last_used_at asynchronously — a touch
// failure must never fail the request (§4.D, §5).
func (a *Authenticator) verifyAPIKey(ctx context.Context, plaintext string) (*Identity, error) {
	hash := HashAPIKey(plaintext)

	var cached cachedAPIKey
	if hit, _ := a.cache.Get(ctx, cache.NamespaceAPIKey, hash, &cached); hit {
		if cached.ExpiresAt != nil && cached.ExpiresAt.Before(time.Now()) {
			return nil, ErrInvalidCredentials
		}
		user, err := a.store.GetUserByID(ctx, cached.UserID)
		if err != nil {
			return nil, ErrInvalidCredentials
		}
		a.touchAPIKeyAsync(hash)
		return &Identity{UserID: user.ID, Username: user.Username}, nil
	}

	key, err := a.store.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("authn: look up api key: %w", err)
	}
	if !key.IsActive || (key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now())) {
		return nil, ErrInvalidCredentials
	}
	user, err := a.store.GetUserByID(ctx, key.UserID)
	if err != nil {
		return nil, fmt.Errorf("authn: look up user: %w", err)
	}

	_ = a.cache.Set(ctx, cache.NamespaceAPIKey, hash, cachedAPIKey{UserID: key.UserID, ExpiresAt: key.ExpiresAt})
	a.touchAPIKeyAsync(hash)
	return &Identity{UserID: user.ID, Username: user.Username}, nil
}

func (a *Authenticator) touchAPIKeyAsync(hash string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		key, err := a.store.GetAPIKeyByHash(ctx, hash)
		if err != nil {
			return
		}
		if err := a.store.TouchAPIKeyLastUsed(ctx, key.ID); err != nil {
			log.Printf("authn: touch last_used_at failed for key %d: %v", key.ID, err)
		}
	}()
}

// verifyBasic parses base64(user:pass) and resolves either the user's
// password (Argon2id or bcrypt, selected by prefix) or a valid API key
// whose owner equals that user. Both paths return the same identity.
func (a *Authenticator) verifyBasic(ctx context.Context, encoded string) (*Identity, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return nil, ErrInvalidCredentials
	}
	username, password := parts[0], parts[1]

	user, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("authn: look up user: %w", err)
	}

	if IsAPIKey(password) {
		id, err := a.verifyAPIKey(ctx, password)
		if err != nil {
			return nil, err
		}
		if id.UserID != user.ID {
			return nil, ErrInvalidCredentials
		}
		return id, nil
	}

	if !CheckPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return &Identity{UserID: user.ID, Username: user.Username}, nil
}
