package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/evetabi/yesno/internal/config"
	"github.com/evetabi/yesno/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles carried in the token.
const (
	RoleTrader = "trader"
	RoleAdmin  = "admin"
)

// ──────────────────────────────────────────────────────────────────────────────
// Request / Response types
// ──────────────────────────────────────────────────────────────────────────────

// ChallengeResponse is the message the wallet must personal_sign.
type ChallengeResponse struct {
	Address   common.Address `json:"address"`
	Message   string         `json:"message"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// TokenResponse is returned after a successful sign-in.
type TokenResponse struct {
	AccessToken string         `json:"access_token"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Address     common.Address `json:"address"`
	Role        string         `json:"role"`
}

// ──────────────────────────────────────────────────────────────────────────────
// JWT claims
// ──────────────────────────────────────────────────────────────────────────────

// AppClaims extends jwt.RegisteredClaims with the caller's role. Subject is
// the checksummed wallet address.
type AppClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Challenge storage
// ──────────────────────────────────────────────────────────────────────────────

// ChallengeStore keeps one pending sign-in message per address.
// Implemented in memory here and by cache/redis.ChallengeStore.
type ChallengeStore interface {
	Put(ctx context.Context, addr common.Address, message string, ttl time.Duration) error
	// Take returns and removes the pending message, or domain.ErrChallengeExpired.
	Take(ctx context.Context, addr common.Address) (string, error)
}

type memoryChallenge struct {
	message   string
	expiresAt time.Time
}

// MemoryChallengeStore is a process-local ChallengeStore.
type MemoryChallengeStore struct {
	mu      sync.Mutex
	pending map[common.Address]memoryChallenge
	now     func() time.Time
}

// NewMemoryChallengeStore returns an empty store.
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{
		pending: make(map[common.Address]memoryChallenge),
		now:     time.Now,
	}
}

// Put implements ChallengeStore and drops expired entries.
func (m *MemoryChallengeStore) Put(_ context.Context, addr common.Address, message string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for a, c := range m.pending {
		if now.After(c.expiresAt) {
			delete(m.pending, a)
		}
	}
	m.pending[addr] = memoryChallenge{message: message, expiresAt: now.Add(ttl)}
	return nil
}

// Take implements ChallengeStore.
func (m *MemoryChallengeStore) Take(_ context.Context, addr common.Address) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.pending[addr]
	delete(m.pending, addr)
	if !ok || m.now().After(c.expiresAt) {
		return "", domain.ErrChallengeExpired
	}
	return c.message, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// AuthService
// ──────────────────────────────────────────────────────────────────────────────

// AuthService handles wallet sign-in (EIP-191 personal_sign) and JWT issuance.
type AuthService struct {
	challenges ChallengeStore
	cfg        *config.Config
	now        func() time.Time
}

// NewAuthService creates an AuthService.
func NewAuthService(challenges ChallengeStore, cfg *config.Config) *AuthService {
	return &AuthService{
		challenges: challenges,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Challenge issues a fresh sign-in message for addr, replacing any pending one.
func (s *AuthService) Challenge(ctx context.Context, addr common.Address) (*ChallengeResponse, error) {
	now := s.now()
	ttl := s.cfg.JWT.ChallengeTTL.Duration
	msg := fmt.Sprintf(
		"Sign in to YesNo Markets\n\nAddress: %s\nNonce: %s\nIssued At: %s",
		addr.Hex(), uuid.NewString(), now.Format(time.RFC3339),
	)
	if err := s.challenges.Put(ctx, addr, msg, ttl); err != nil {
		return nil, fmt.Errorf("auth_service.Challenge: %w", err)
	}
	return &ChallengeResponse{Address: addr, Message: msg, ExpiresAt: now.Add(ttl)}, nil
}

// Verify checks that signature is addr's personal_sign of the pending
// challenge and returns an access token. The challenge is consumed either way.
func (s *AuthService) Verify(ctx context.Context, addr common.Address, signature string) (*TokenResponse, error) {
	msg, err := s.challenges.Take(ctx, addr)
	if err != nil {
		return nil, err
	}

	signer, err := RecoverSigner(msg, signature)
	if err != nil || signer != addr {
		return nil, domain.ErrSignatureInvalid
	}

	role := RoleTrader
	if s.cfg.IsAdmin(addr) {
		role = RoleAdmin
	}
	return s.IssueToken(addr, role)
}

// IssueToken signs an access token for addr.
func (s *AuthService) IssueToken(addr common.Address, role string) (*TokenResponse, error) {
	now := s.now()
	expires := now.Add(s.cfg.JWT.AccessTTL.Duration)
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   addr.Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
		Role: role,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWT.AccessSecret))
	if err != nil {
		return nil, fmt.Errorf("auth_service.IssueToken: %w", err)
	}
	return &TokenResponse{AccessToken: tok, ExpiresAt: expires, Address: addr, Role: role}, nil
}

// ParseAccessToken validates the token signature, algorithm, and expiry.
// Exported for use by the JWT middleware.
func (s *AuthService) ParseAccessToken(tokenString string) (*AppClaims, error) {
	secret := []byte(s.cfg.JWT.AccessSecret)
	tok, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, domain.ErrTokenInvalid
	}
	claims, ok := tok.Claims.(*AppClaims)
	if !ok || !common.IsHexAddress(claims.Subject) {
		return nil, domain.ErrTokenInvalid
	}
	return claims, nil
}

// RecoverSigner returns the address that produced an EIP-191 personal_sign
// signature over message. Both 27/28 and 0/1 recovery ids are accepted.
func RecoverSigner(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
