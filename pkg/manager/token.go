package manager

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/warden/pkg/errdefs"
)

// DefaultJoinTokenTTL is how long a join token stays valid
const DefaultJoinTokenTTL = time.Hour

// JoinToken admits one additional manager into the Raft cluster
type JoinToken struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenManager keeps the join tokens issued by this process. Tokens live
// in memory on the issuing leader only; a leader change invalidates them.
type TokenManager struct {
	mu     sync.Mutex
	tokens map[string]*JoinToken
	now    func() time.Time
}

// NewTokenManager creates a new token manager
func NewTokenManager() *TokenManager {
	return &TokenManager{
		tokens: make(map[string]*JoinToken),
		now:    time.Now,
	}
}

// GenerateToken issues a random 256-bit token valid for ttl
func (tm *TokenManager) GenerateToken(ttl time.Duration) (*JoinToken, error) {
	if ttl <= 0 {
		ttl = DefaultJoinTokenTTL
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random token: %w", err)
	}

	now := tm.now()
	jt := &JoinToken{
		Token:     hex.EncodeToString(b),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.pruneLocked(now)
	tm.tokens[jt.Token] = jt
	return jt, nil
}

// Consume validates a token and revokes it, so each token admits at most
// one manager
func (tm *TokenManager) Consume(token string) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := tm.now()
	tm.pruneLocked(now)

	for key := range tm.tokens {
		if subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1 {
			delete(tm.tokens, key)
			return nil
		}
	}
	return fmt.Errorf("invalid or expired join token: %w", errdefs.ErrUnauthorized)
}

// Active returns the number of unexpired tokens
func (tm *TokenManager) Active() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.pruneLocked(tm.now())
	return len(tm.tokens)
}

func (tm *TokenManager) pruneLocked(now time.Time) {
	for key, jt := range tm.tokens {
		if now.After(jt.ExpiresAt) {
			delete(tm.tokens, key)
		}
	}
}
