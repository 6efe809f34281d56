package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fixedlend/config"
	"fixedlend/core/events"
	"fixedlend/native/lending/fixed"
	"fixedlend/sim"
)

const (
	userToken  = "user-token"
	adminToken = "admin-token"
)

type fixture struct {
	env *sim.Environment
	srv *Server
	now time.Time
}

func newFixture(t *testing.T, limit RateLimit) *fixture {
	t.Helper()
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	ring := events.NewRing(16)
	env, err := sim.NewEnvironment(context.Background(), cfg, sim.WithEmitter(ring))
	require.NoError(t, err)
	f := &fixture{env: env, now: time.Unix(1_700_000_000, 0)}
	srv, err := New(env, Config{
		APITokens:   []string{userToken},
		AdminTokens: []string{adminToken},
		Events:      ring,
		RateLimit:   limit,
		Now:         func() time.Time { return f.now },
	}, nil)
	require.NoError(t, err)
	f.srv = srv
	return f
}

func (f *fixture) do(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(res, req)
	out := map[string]any{}
	if strings.HasPrefix(res.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out), res.Body.String())
	}
	return res, out
}

var (
	alice = sim.AccountAddress("alice").Hex()
	bob   = sim.AccountAddress("bob").Hex()
)

func (f *fixture) mint(t *testing.T, account, token, amount string) {
	t.Helper()
	res, _ := f.do(t, http.MethodPost, "/admin/fund", adminToken,
		`{"account":"`+account+`","token":"`+token+`","amount":"`+amount+`"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
}

func (f *fixture) act(t *testing.T, symbol, action, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	return f.do(t, http.MethodPost, "/markets/"+symbol+"/"+action, userToken, body)
}

func TestHealthAndMetricsAreOpen(t *testing.T) {
	f := newFixture(t, RateLimit{})

	res, body := f.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "ok", body["status"])
	require.NotEmpty(t, res.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthentication(t *testing.T) {
	f := newFixture(t, RateLimit{})

	res, _ := f.do(t, http.MethodGet, "/markets", "", "")
	require.Equal(t, http.StatusUnauthorized, res.Code)

	res, _ = f.do(t, http.MethodGet, "/markets", "wrong", "")
	require.Equal(t, http.StatusUnauthorized, res.Code)

	req := httptest.NewRequest(http.MethodGet, "/markets", nil)
	req.Header.Set(tokenHeader, userToken)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	res, _ = f.do(t, http.MethodPost, "/admin/clock", userToken, `{"advance":60}`)
	require.Equal(t, http.StatusForbidden, res.Code)

	res, _ = f.do(t, http.MethodPost, "/admin/clock", adminToken, `{"advance":60}`)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, config.DefaultStart+60, f.env.Clock.Now())
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newFixture(t, RateLimit{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "trace-123")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, "trace-123", rec.Header().Get(requestIDHeader))
}

func TestRateLimiterThrottlesPerClient(t *testing.T) {
	f := newFixture(t, RateLimit{RequestsPerMinute: 60, Burst: 2})

	for i := 0; i < 2; i++ {
		res, _ := f.do(t, http.MethodGet, "/markets", userToken, "")
		require.Equal(t, http.StatusOK, res.Code)
	}
	res, _ := f.do(t, http.MethodGet, "/markets", userToken, "")
	require.Equal(t, http.StatusTooManyRequests, res.Code)
	require.Equal(t, "60", res.Header().Get("Retry-After"))

	// another client has its own budget
	res, _ = f.do(t, http.MethodGet, "/markets", adminToken, "")
	require.Equal(t, http.StatusOK, res.Code)

	f.now = f.now.Add(time.Second)
	res, _ = f.do(t, http.MethodGet, "/markets", userToken, "")
	require.Equal(t, http.StatusOK, res.Code)
}

func TestRateLimiterKeysUnknownTokensByAddress(t *testing.T) {
	f := newFixture(t, RateLimit{RequestsPerMinute: 60, Burst: 2})

	for _, token := range []string{"guess-1", "guess-2"} {
		res, _ := f.do(t, http.MethodGet, "/markets", token, "")
		require.Equal(t, http.StatusUnauthorized, res.Code)
	}
	// a fresh token from the same address draws on the same budget
	res, _ := f.do(t, http.MethodGet, "/markets", "guess-3", "")
	require.Equal(t, http.StatusTooManyRequests, res.Code)

	res, _ = f.do(t, http.MethodGet, "/markets", userToken, "")
	require.Equal(t, http.StatusOK, res.Code)

	limiter := newRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1}, nil, f.srv.auth.known)
	req := httptest.NewRequest(http.MethodGet, "/markets", nil)
	req.RemoteAddr = "198.51.100.7:4242"
	req.Header.Set(tokenHeader, "guess-4")
	require.Equal(t, "ip:198.51.100.7", limiter.clientID(req))
	req.Header.Set(tokenHeader, userToken)
	require.NotEqual(t, "ip:198.51.100.7", limiter.clientID(req))
}

func TestReadEndpoints(t *testing.T) {
	f := newFixture(t, RateLimit{})

	res, body := f.do(t, http.MethodGet, "/markets", userToken, "")
	require.Equal(t, http.StatusOK, res.Code)
	require.Len(t, body["markets"], 2)

	res, body = f.do(t, http.MethodGet, "/markets/dai", userToken, "")
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "DAI", body["symbol"])
	require.Equal(t, "1", body["price"])
	pools, ok := body["pools"].([]any)
	require.True(t, ok)
	require.Len(t, pools, int(f.env.Markets[0].Params().MaxFuturePools))

	res, _ = f.do(t, http.MethodGet, "/markets/usdc", userToken, "")
	require.Equal(t, http.StatusNotFound, res.Code)

	maturity := fixed.OpenMaturities(f.env.Clock.Now(), 1)[0]
	res, body = f.do(t, http.MethodGet, "/markets/DAI/pools/"+jsonNumber(maturity), userToken, "")
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "valid", body["state"])

	res, _ = f.do(t, http.MethodGet, "/markets/DAI/pools/soon", userToken, "")
	require.Equal(t, http.StatusBadRequest, res.Code)

	res, _ = f.do(t, http.MethodGet, "/accounts/not-an-address", userToken, "")
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func jsonNumber(v uint64) string {
	data, _ := json.Marshal(v)
	return string(data)
}

func TestFloatingLifecycle(t *testing.T) {
	f := newFixture(t, RateLimit{})
	f.mint(t, alice, "DAI", "1000")
	f.mint(t, bob, "WETH", "1")

	res, body := f.act(t, "DAI", "deposit", `{"account":"`+alice+`","amount":"1000"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, "1000", body["shares"])

	res, _ = f.act(t, "WETH", "deposit", `{"account":"`+bob+`","amount":"1"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	// borrowing before entering the collateral market fails the solvency check
	res, body = f.act(t, "DAI", "borrow", `{"account":"`+bob+`","amount":"100"}`)
	require.Equal(t, http.StatusUnprocessableEntity, res.Code, res.Body.String())
	require.Equal(t, "insufficient_collateral", body["kind"])

	res, _ = f.act(t, "WETH", "enter", `{"account":"`+bob+`"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	res, _ = f.act(t, "DAI", "borrow", `{"account":"`+bob+`","amount":"100"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res, body = f.do(t, http.MethodGet, "/accounts/"+bob, userToken, "")
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "100", body["balances"].(map[string]any)["DAI"])
	require.NotEmpty(t, body["healthFactor"])

	res, body = f.act(t, "DAI", "repay", `{"account":"`+bob+`","amount":"50"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, "50", body["assets"])

	res, body = f.act(t, "DAI", "withdraw", `{"account":"`+alice+`","amount":"10000"}`)
	require.Equal(t, http.StatusUnprocessableEntity, res.Code, res.Body.String())
	require.NotEmpty(t, body["kind"])

	res, body = f.do(t, http.MethodGet, "/events?limit=2", userToken, "")
	require.Equal(t, http.StatusOK, res.Code)
	recent := body["events"].([]any)
	require.Len(t, recent, 2)
	last := recent[1].(map[string]any)
	require.Equal(t, "DAI", last["attributes"].(map[string]any)["market"])

	res, _ = f.do(t, http.MethodGet, "/events?limit=zero", userToken, "")
	require.Equal(t, http.StatusBadRequest, res.Code)

	res, _ = f.act(t, "DAI", "teleport", `{"account":"`+alice+`"}`)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res, _ = f.act(t, "DAI", "deposit", `{"account":"`+alice+`","amount":"1","extra":true}`)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestFixedLifecycle(t *testing.T) {
	f := newFixture(t, RateLimit{})
	f.mint(t, alice, "DAI", "1000")
	maturity := jsonNumber(fixed.OpenMaturities(f.env.Clock.Now(), 1)[0])

	res, _ := f.act(t, "DAI", "deposit_at_maturity", `{"account":"`+alice+`","amount":"1000"}`)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res, body := f.act(t, "DAI", "deposit_at_maturity", `{"account":"`+alice+`","amount":"1000","maturity":`+maturity+`,"limit":"1000"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, "1000", body["assets"])

	res, body = f.act(t, "DAI", "deposit_at_maturity", `{"account":"`+alice+`","amount":"1","maturity":`+maturity+`,"limit":"5"}`)
	require.Equal(t, http.StatusUnprocessableEntity, res.Code, res.Body.String())

	_, body = f.do(t, http.MethodGet, "/accounts/"+alice, userToken, "")
	holdings := body["markets"].([]any)
	dai := holdings[0].(map[string]any)
	require.Equal(t, "DAI", dai["market"])
	require.Len(t, dai["fixedDeposits"], 1)
}

func TestAdminPenaltyRateAndPrice(t *testing.T) {
	f := newFixture(t, RateLimit{})

	res, body := f.do(t, http.MethodPost, "/admin/markets/DAI/penalty-rate", adminToken, `{"rate":"0.000000005"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, "0.000000005", body["penaltyRate"])

	res, body = f.do(t, http.MethodGet, "/markets/DAI", userToken, "")
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "0.000000005", body["penaltyRate"])

	res, _ = f.do(t, http.MethodPost, "/admin/markets/DAI/penalty-rate", adminToken, `{"rate":"abc"}`)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res, _ = f.do(t, http.MethodPost, "/admin/markets/WETH/price", adminToken, `{"price":"1500.5"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	_, body = f.do(t, http.MethodGet, "/markets/WETH", userToken, "")
	require.Equal(t, "1500.5", body["price"])

	res, _ = f.do(t, http.MethodPost, "/admin/clock", adminToken, `{"timestamp":1}`)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res, _ = f.do(t, http.MethodPost, "/admin/fund", adminToken, `{"account":"`+alice+`","token":"XYZ","amount":"1"}`)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestStatusMapping(t *testing.T) {
	f := newFixture(t, RateLimit{})
	_, err := f.srv.market("nope")
	require.Equal(t, http.StatusNotFound, statusOf(err))
	require.Equal(t, http.StatusBadRequest, statusOf(errBadRequest))
	require.Equal(t, http.StatusInternalServerError, statusOf(io.EOF))
}
