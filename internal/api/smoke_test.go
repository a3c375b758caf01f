// Package api_test runs HTTP-level smoke tests using net/http/httptest.
// These tests run against the in-memory store and verify:
//   - Gin router routing and middleware wiring
//   - Request validation error responses (400)
//   - JWT auth middleware (401 without token, 401 with bad token)
//   - Response format consistency (success/error envelope)
//   - CORS preflight handling
//   - A full create, buy, resolve and claim round trip
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/yesno/internal/api"
	"github.com/evetabi/yesno/internal/config"
	"github.com/evetabi/yesno/internal/domain"
	"github.com/evetabi/yesno/internal/ledger"
	"github.com/evetabi/yesno/internal/service"
	"github.com/evetabi/yesno/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

var (
	creator = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

type testEnv struct {
	handler http.Handler
	auth    *service.AuthService
	markets *service.MarketService
	ledger  *ledger.Memory
	cfg     *config.Config
	now     time.Time
}

func testCfg() *config.Config {
	cfg := config.Defaults()
	cfg.JWT.AccessSecret = "test-access-secret-abcdefghijklmnop"
	cfg.Server.RateLimitPerMinute = 6000
	return &cfg
}

// buildTestRouter wires the real services over the in-memory store.
func buildTestRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testCfg()
	policy := domain.DefaultFactoryPolicy()
	policy.MinLiquidity = decimal.NewFromInt(1)

	l := ledger.NewMemory()
	env := &testEnv{ledger: l, cfg: cfg, now: time.Now().UTC()}
	env.auth = service.NewAuthService(service.NewMemoryChallengeStore(), cfg)
	env.markets = service.NewMarketService(store.NewMemory(l), policy, cfg.FactoryAddress(), nil)
	env.markets.SetClock(func() time.Time { return env.now })

	env.handler = api.SetupRouter(api.RouterDeps{
		AuthSvc:   env.auth,
		MarketSvc: env.markets,
		TokenSvc:  service.NewTokenService(l, nil),
		Cfg:       cfg,
	})
	return env
}

func (e *testEnv) token(t *testing.T, addr common.Address) map[string]string {
	t.Helper()
	tok, err := e.auth.IssueToken(addr, service.RoleTrader)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok.AccessToken}
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &m), "body: %s", rr.Body.String())
	return m
}

func data(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	body := decodeBody(t, rr)
	d, ok := body["data"].(map[string]interface{})
	require.True(t, ok, "no data object in %v", body)
	return d
}

// ── /health ───────────────────────────────────────────────────────────────────

func TestHealthEndpoint(t *testing.T) {
	env := buildTestRouter(t)
	rr := do(t, env.handler, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

// ── Auth endpoints ────────────────────────────────────────────────────────────

func TestChallenge_Validation(t *testing.T) {
	env := buildTestRouter(t)

	rr := do(t, env.handler, http.MethodPost, "/api/auth/challenge", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, env.handler, http.MethodPost, "/api/auth/challenge", `{"address":"nope"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, env.handler, http.MethodPost, "/api/auth/challenge", `{"address":"`+alice.Hex()+`"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, data(t, rr)["message"], alice.Hex())
}

func TestVerify_WithoutChallenge_Returns401(t *testing.T) {
	env := buildTestRouter(t)
	body := `{"address":"` + alice.Hex() + `","signature":"0x00"}`
	rr := do(t, env.handler, http.MethodPost, "/api/auth/verify", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "ERR_CHALLENGE_EXPIRED", decodeBody(t, rr)["code"])
}

// ── JWT auth middleware ───────────────────────────────────────────────────────

func TestProtectedRoutes_NoToken_Return401(t *testing.T) {
	env := buildTestRouter(t)
	for _, r := range []struct{ method, path string }{
		{http.MethodGet, "/api/me"},
		{http.MethodPost, "/api/markets"},
		{http.MethodPost, "/api/markets/" + alice.Hex() + "/buy"},
		{http.MethodPost, "/api/markets/" + alice.Hex() + "/claim"},
		{http.MethodPost, "/api/token/approve"},
		{http.MethodGet, "/api/token/transactions"},
	} {
		rr := do(t, env.handler, r.method, r.path, `{}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "%s %s", r.method, r.path)
	}
}

func TestMe_InvalidToken_Returns401(t *testing.T) {
	env := buildTestRouter(t)
	rr := do(t, env.handler, http.MethodGet, "/api/me", "", map[string]string{
		"Authorization": "Bearer not.a.valid.jwt",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "ERR_TOKEN_INVALID", decodeBody(t, rr)["code"])
}

func TestMe_ReturnsAddressAndBalance(t *testing.T) {
	env := buildTestRouter(t)
	require.NoError(t, env.ledger.Mint(context.Background(), alice, decimal.NewFromInt(42)))

	rr := do(t, env.handler, http.MethodGet, "/api/me", "", env.token(t, alice))
	require.Equal(t, http.StatusOK, rr.Code)
	d := data(t, rr)
	assert.Equal(t, "42", d["balance"])
	assert.Equal(t, service.RoleTrader, d["role"])
}

// ── Public market reads ───────────────────────────────────────────────────────

func TestMarkets_PublicReads(t *testing.T) {
	env := buildTestRouter(t)

	rr := do(t, env.handler, http.MethodGet, "/api/markets", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	meta := body["meta"].(map[string]interface{})
	assert.Equal(t, float64(0), meta["total"])
	assert.Equal(t, float64(100), meta["limit"], "default limit applies when none is given")

	rr = do(t, env.handler, http.MethodGet, "/api/markets/not-an-address", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, env.handler, http.MethodGet, "/api/markets/"+alice.Hex(), "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "ERR_MARKET_NOT_FOUND", decodeBody(t, rr)["code"])
}

// ── Error envelope format ─────────────────────────────────────────────────────

func TestErrorEnvelope_HasRequiredFields(t *testing.T) {
	env := buildTestRouter(t)
	rr := do(t, env.handler, http.MethodPost, "/api/auth/challenge", `{}`, nil)
	body := decodeBody(t, rr)

	for _, field := range []string{"success", "error", "code"} {
		assert.Contains(t, body, field)
	}
	assert.Equal(t, false, body["success"])
}

// ── CORS headers ──────────────────────────────────────────────────────────────

func TestCORSOptionsRequest(t *testing.T) {
	env := buildTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/markets", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.True(t, strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), "POST"))
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_RestrictedOrigins(t *testing.T) {
	cfg := testCfg()
	cfg.Server.AllowedOrigins = []string{"https://app.example"}
	h := api.SetupRouter(api.RouterDeps{
		AuthSvc: service.NewAuthService(service.NewMemoryChallengeStore(), cfg),
		Cfg:     cfg,
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "https://app.example", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

// ── Full flow ─────────────────────────────────────────────────────────────────

func TestMarketLifecycle(t *testing.T) {
	ctx := context.Background()
	env := buildTestRouter(t)
	h := env.handler
	creatorAuth := env.token(t, creator)
	aliceAuth := env.token(t, alice)
	factory := env.cfg.FactoryAddress()

	require.NoError(t, env.ledger.Mint(ctx, creator, decimal.NewFromInt(100)))
	require.NoError(t, env.ledger.Mint(ctx, alice, decimal.NewFromInt(50)))

	// Create without an allowance fails with 402 and leaves no market.
	create := `{"question":"Will the tram line open in June?","duration_days":7,"initial_liquidity":"100"}`
	rr := do(t, h, http.MethodPost, "/api/markets", create, creatorAuth)
	require.Equal(t, http.StatusPaymentRequired, rr.Code, rr.Body.String())

	rr = do(t, h, http.MethodPost, "/api/token/approve", `{"spender":"`+factory.Hex()+`","amount":"100"}`, creatorAuth)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, h, http.MethodPost, "/api/markets", `{"question":"short","duration_days":7,"initial_liquidity":"100"}`, creatorAuth)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "ERR_QUESTION_TOO_SHORT", decodeBody(t, rr)["code"])

	rr = do(t, h, http.MethodPost, "/api/markets", create, creatorAuth)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	id := data(t, rr)["id"].(string)
	assert.Equal(t, float64(5000), data(t, rr)["yes_price"])

	rr = do(t, h, http.MethodGet, "/api/markets?ids=true&limit=500", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, []interface{}{id}, body["data"])
	assert.Equal(t, float64(500), body["meta"].(map[string]interface{})["limit"], "explicit limit is not clamped")

	// Buy 50 YES.
	rr = do(t, h, http.MethodPost, "/api/token/approve", `{"spender":"`+id+`","amount":"50"}`, aliceAuth)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = do(t, h, http.MethodPost, "/api/markets/"+id+"/buy", `{"outcome":"maybe","amount":"50"}`, aliceAuth)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, h, http.MethodPost, "/api/markets/"+id+"/buy", `{"outcome":"yes","amount":"50"}`, aliceAuth)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, h, http.MethodGet, "/api/markets/"+id+"/positions/"+alice.Hex(), "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "50", data(t, rr)["yes_shares"])
	assert.Equal(t, "0", data(t, rr)["no_shares"])

	rr = do(t, h, http.MethodGet, "/api/markets/"+id+"/price?outcome=no", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(6667), data(t, rr)["price"])

	// Resolution is early and then unauthorized.
	rr = do(t, h, http.MethodPost, "/api/markets/"+id+"/resolve", `{"outcome":"yes"}`, creatorAuth)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "ERR_MARKET_NOT_ENDED", decodeBody(t, rr)["code"])

	env.now = env.now.Add(8 * 24 * time.Hour)
	rr = do(t, h, http.MethodPost, "/api/markets/"+id+"/resolve", `{"outcome":"yes"}`, aliceAuth)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = do(t, h, http.MethodPost, "/api/markets/"+id+"/resolve", `{"outcome":"yes"}`, creatorAuth)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// Claim: 50 × 150 / 100 = 75.
	rr = do(t, h, http.MethodGet, "/api/markets/"+id+"/winnings/"+alice.Hex(), "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = do(t, h, http.MethodPost, "/api/markets/"+id+"/claim", "", aliceAuth)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "75", data(t, rr)["amount"])

	rr = do(t, h, http.MethodPost, "/api/markets/"+id+"/claim", "", aliceAuth)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "ERR_ALREADY_CLAIMED", decodeBody(t, rr)["code"])

	rr = do(t, h, http.MethodGet, "/api/markets/"+id+"/claimed/"+alice.Hex(), "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	bal, err := env.ledger.BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(75)))

	rr = do(t, h, http.MethodGet, "/api/token/transactions", "", aliceAuth)
	require.Equal(t, http.StatusOK, rr.Code)
	entries, ok := decodeBody(t, rr)["data"].([]interface{})
	require.True(t, ok)
	assert.Len(t, entries, 3, "mint, buy and payout")
}
