package agent

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsafe/elements-duel/pkg/auth"
	"github.com/chainsafe/elements-duel/pkg/config"
	"github.com/chainsafe/elements-duel/pkg/connection"
	"github.com/chainsafe/elements-duel/pkg/engine"
	"github.com/chainsafe/elements-duel/pkg/ethereum/ethtest"
	"github.com/chainsafe/elements-duel/pkg/vault"
	"github.com/chainsafe/elements-duel/pkg/wallet/wallettest"
)

const testConfig = `
network:
  chain_id: 1337
  chain_name: Elements Dev
  rpc_urls: ["http://127.0.0.1:8545"]
ledger:
  contract_address: "0x00000000000000000000000000000000000d0e11"
vault:
  backend: memory
api:
  auth_secret: s3cret
  auth_issuer: elementsd
`

func newTestRouter(t *testing.T) (http.Handler, *connection.Manager) {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)
	s := NewServer(cfg)

	operator := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	l := ethtest.NewLedger(operator)
	w := wallettest.New(cfg.Network.ChainID, []common.Address{operator})
	factory := func(*rpc.Client) (connection.Ledger, error) { return l, nil }
	m := connection.NewManager(&cfg.Connection, &cfg.Network, &cfg.Ledger, w, factory, zap.NewNop())
	t.Cleanup(m.Disconnect)

	v := vault.New(vault.NewMemoryStore(), zap.NewNop())
	eng, err := engine.New(&cfg.Engine, &cfg.Ledger, cfg.Network.Currency.Decimals, m, v, zap.NewNop())
	require.NoError(t, err)

	return s.setupRouter(m, eng, zap.NewNop()), m
}

func get(h http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Probes(t *testing.T) {
	h, m := newTestRouter(t)

	assert.Equal(t, http.StatusOK, get(h, "/health", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(h, "/ready", "").Code)
	assert.Equal(t, http.StatusOK, get(h, "/metrics", "").Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/connect", nil)
	token, err := auth.NewHMACValidator("s3cret", "elementsd").IssueToken("operator", time.Minute)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.True(t, m.State().Usable())
	assert.Equal(t, http.StatusOK, get(h, "/ready", "").Code)
}

func TestRouter_RequiresToken(t *testing.T) {
	h, _ := newTestRouter(t)

	assert.Equal(t, http.StatusUnauthorized, get(h, "/api/v1/session", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(h, "/api/v1/games", "wrong").Code)

	token, err := auth.NewHMACValidator("s3cret", "elementsd").IssueToken("operator", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, get(h, "/api/v1/session", token).Code)
	assert.Equal(t, http.StatusOK, get(h, "/api/v1/games", token).Code)
}
