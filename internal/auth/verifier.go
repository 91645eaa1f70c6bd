// Package auth reconciles the external identity provider's credentials into
// a single authoritative Identity per request. Provider-issued JWTs are
// verified locally; anything else falls back to a provider-side check. A
// read-through TTL cache avoids re-verifying the same credential on every
// request and is invalidated explicitly on logout.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/loveaihub/loveaihub/internal/config"
	"github.com/loveaihub/loveaihub/internal/models"
)

// Identity is what the rest of the system knows about a caller.
type Identity struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

type cacheEntry struct {
	identity Identity
	expires  time.Time
}

type Verifier struct {
	secret     []byte
	verifyURL  string
	ttl        time.Duration
	httpClient *http.Client
	log        *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func NewVerifier(cfg config.Config, log *slog.Logger) *Verifier {
	ttl := cfg.SessionCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Verifier{
		secret:    []byte(cfg.AuthJWTSecret),
		verifyURL: cfg.AuthVerifyURL,
		ttl:       ttl,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log:   log,
		cache: make(map[string]cacheEntry),
	}
}

// Verify resolves a bearer credential to an Identity. Invalid, expired or
// forged credentials come back as ErrUnauthenticated.
func (v *Verifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, models.ErrUnauthenticated
	}

	key := cacheKey(token)
	if identity, ok := v.cached(key); ok {
		return identity, nil
	}

	identity, err := v.verifyJWT(token)
	if err != nil && v.verifyURL != "" {
		identity, err = v.verifyRemote(ctx, token)
	}
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.cache[key] = cacheEntry{identity: *identity, expires: time.Now().Add(v.ttl)}
	v.mu.Unlock()

	return identity, nil
}

// Invalidate drops a credential from the cache, e.g. on logout.
func (v *Verifier) Invalidate(token string) {
	v.mu.Lock()
	delete(v.cache, cacheKey(token))
	v.mu.Unlock()
}

func (v *Verifier) cached(key string) (*Identity, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	entry, ok := v.cache[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(v.cache, key)
		return nil, false
	}
	identity := entry.identity
	return &identity, true
}

func (v *Verifier) verifyJWT(token string) (*Identity, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthenticated, err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: token has no subject", models.ErrUnauthenticated)
	}
	identity := &Identity{ID: sub}
	if email, ok := claims["email"].(string); ok {
		identity.Email = email
	}
	if admin, ok := claims["is_admin"].(bool); ok {
		identity.IsAdmin = admin
	}
	return identity, nil
}

// verifyRemote asks the identity provider to validate an opaque credential.
func (v *Verifier) verifyRemote(ctx context.Context, token string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.verifyURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify credential: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, models.ErrUnauthenticated
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("identity provider status %d: %s", resp.StatusCode, body)
	}

	var identity Identity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	if identity.ID == "" {
		return nil, fmt.Errorf("%w: identity provider returned no id", models.ErrUnauthenticated)
	}
	return &identity, nil
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
