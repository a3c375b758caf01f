package service_test

import (
	"context"
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/evetabi/yesno/internal/config"
	"github.com/evetabi/yesno/internal/domain"
	"github.com/evetabi/yesno/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.JWT.AccessSecret = "test-secret"
	return &cfg
}

// personalSign produces a wallet-style signature with a 27/28 recovery id.
func personalSign(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func TestAuth_SignInFlow(t *testing.T) {
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	auth := service.NewAuthService(service.NewMemoryChallengeStore(), testConfig())

	ch, err := auth.Challenge(ctx, addr)
	require.NoError(t, err)
	assert.Contains(t, ch.Message, addr.Hex())

	tok, err := auth.Verify(ctx, addr, personalSign(t, key, ch.Message))
	require.NoError(t, err)
	assert.Equal(t, service.RoleTrader, tok.Role)
	assert.Equal(t, addr, tok.Address)

	claims, err := auth.ParseAccessToken(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, addr.Hex(), claims.Subject)
	assert.Equal(t, service.RoleTrader, claims.Role)

	// The challenge is single use.
	_, err = auth.Verify(ctx, addr, personalSign(t, key, ch.Message))
	assert.ErrorIs(t, err, domain.ErrChallengeExpired)
}

func TestAuth_AdminRole(t *testing.T) {
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	cfg := testConfig()
	cfg.JWT.AdminAddresses = []string{addr.Hex()}
	auth := service.NewAuthService(service.NewMemoryChallengeStore(), cfg)

	ch, err := auth.Challenge(ctx, addr)
	require.NoError(t, err)
	tok, err := auth.Verify(ctx, addr, personalSign(t, key, ch.Message))
	require.NoError(t, err)
	assert.Equal(t, service.RoleAdmin, tok.Role)
}

func TestAuth_WrongSigner(t *testing.T) {
	ctx := context.Background()
	key, _ := crypto.GenerateKey()
	other, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)

	auth := service.NewAuthService(service.NewMemoryChallengeStore(), testConfig())
	ch, err := auth.Challenge(ctx, addr)
	require.NoError(t, err)

	_, err = auth.Verify(ctx, addr, personalSign(t, other, ch.Message))
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)

	_, err = auth.Verify(ctx, addr, "0x1234")
	assert.ErrorIs(t, err, domain.ErrChallengeExpired, "the failed attempt consumed the challenge")
}

func TestAuth_ParseAccessToken_Rejects(t *testing.T) {
	cfg := testConfig()
	auth := service.NewAuthService(service.NewMemoryChallengeStore(), cfg)

	_, err := auth.ParseAccessToken("not-a-jwt")
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	otherCfg := testConfig()
	otherCfg.JWT.AccessSecret = "another-secret"
	foreign, err := service.NewAuthService(service.NewMemoryChallengeStore(), otherCfg).
		IssueToken(common.HexToAddress("0xb1"), service.RoleTrader)
	require.NoError(t, err)
	_, err = auth.ParseAccessToken(foreign.AccessToken)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	cfg.JWT.AccessTTL = config.Duration{Duration: -time.Minute}
	expired, err := auth.IssueToken(common.HexToAddress("0xb1"), service.RoleTrader)
	require.NoError(t, err)
	_, err = auth.ParseAccessToken(expired.AccessToken)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestRecoverSigner_AcceptsBothRecoveryIDs(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)
	msg := "hello"

	raw, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
	require.NoError(t, err)

	got, err := service.RecoverSigner(msg, hexutil.Encode(raw))
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	got, err = service.RecoverSigner(msg, personalSign(t, key, msg))
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	_, err = service.RecoverSigner(msg, "0xabcd")
	assert.Error(t, err)
}

func TestMemoryChallengeStore_Replaces(t *testing.T) {
	ctx := context.Background()
	s := service.NewMemoryChallengeStore()
	addr := common.HexToAddress("0xb1")

	require.NoError(t, s.Put(ctx, addr, "first", time.Minute))
	require.NoError(t, s.Put(ctx, addr, "second", time.Minute))
	msg, err := s.Take(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, "second", msg)

	require.NoError(t, s.Put(ctx, addr, "stale", -time.Second))
	_, err = s.Take(ctx, addr)
	assert.ErrorIs(t, err, domain.ErrChallengeExpired)
}
