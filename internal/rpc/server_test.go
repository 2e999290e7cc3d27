package rpc

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/meridianswap/swapd/internal/core/amm"
	"github.com/meridianswap/swapd/internal/core/ledgers"
	"github.com/meridianswap/swapd/internal/core/request"
	"github.com/meridianswap/swapd/internal/core/service"
	"github.com/meridianswap/swapd/internal/core/settle"
	"github.com/meridianswap/swapd/internal/core/token"
	"github.com/meridianswap/swapd/internal/crypto/signer"
	"github.com/meridianswap/swapd/internal/crypto/verifier"
	"github.com/meridianswap/swapd/internal/storage/keyValueDb/memdb"
	"github.com/meridianswap/swapd/internal/storage/relationalDb"
)

const adminPrincipal = "admin-principal"

type testStack struct {
	server *httptest.Server
	hub    *EventHub
	ledger *ledgers.Ledger
	svc    *service.Service
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	db := memdb.New()
	log := zerolog.Nop()

	tokens, err := token.NewRegistry(db, log)
	require.NoError(t, err)
	ledger := ledgers.New(db, log)
	requests := request.NewLedger(db, log)

	history, err := relationalDb.Open(filepath.Join(t.TempDir(), "history.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 7)
	}
	engineSigner, err := signer.NewLocal(ed25519.NewKeyFromSeed(seed))
	require.NoError(t, err)

	coord := settle.NewCoordinator(db, tokens, ledger, requests, engineSigner, history, settle.Config{EngineAccount: "engine-principal"}, log)
	engine := amm.NewEngine(amm.NewPoolStore(db), tokens, ledger, log)

	hub := NewEventHub(log)
	svc := service.New(engine, coord, requests, tokens, ledger, verifier.New(0), hub, log)

	mux := http.NewServeMux()
	mux.Handle("/", NewServer(svc, history, adminPrincipal, 30*time.Second, log))
	mux.Handle("/ws", hub)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &testStack{server: server, hub: hub, ledger: ledger, svc: svc}
}

// call posts one JSON-RPC request and returns the result object.
func (s *testStack) call(t *testing.T, method string, params any) map[string]any {
	t.Helper()
	body := map[string]any{"method": method}
	if params != nil {
		body["params"] = []any{params}
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(s.server.URL, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded struct {
		Result map[string]any `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return decoded.Result
}

func (s *testStack) mustSucceed(t *testing.T, method string, params any) map[string]any {
	t.Helper()
	result := s.call(t, method, params)
	require.Equal(t, "success", result["status"], "method %s: %v", method, result)
	return result
}

func (s *testStack) addToken(t *testing.T, symbol string) uint64 {
	t.Helper()
	result := s.mustSucceed(t, "add_token", map[string]any{
		"caller":             adminPrincipal,
		"kind":               "primary_fungible",
		"symbol":             symbol,
		"name":               symbol,
		"decimals":           8,
		"fee":                "0",
		"primary_ledger":     "ledger-" + symbol,
		"supports_allowance": true,
	})
	data := result["data"].(map[string]any)
	return uint64(data["id"].(float64))
}

func (s *testStack) fund(t *testing.T, tokenID uint64, principal string, amount int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.ledger.Mint(ctx, tokenID, principal, math.NewInt(amount)))
	require.NoError(t, s.ledger.Approve(ctx, tokenID, principal, "engine-principal", math.NewInt(amount)))
}

// lastStatus reads the final status entry out of a decoded request.
func lastStatus(t *testing.T, reqData map[string]any) string {
	t.Helper()
	hist, ok := reqData["status_history"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, hist)
	return hist[len(hist)-1].(map[string]any)["status"].(string)
}

func TestUnknownMethod(t *testing.T) {
	s := newTestStack(t)
	result := s.call(t, "does_not_exist", nil)
	require.Equal(t, "error", result["status"])
	require.Equal(t, "unknownCmd", result["error"])
}

func TestAdminGate(t *testing.T) {
	s := newTestStack(t)

	result := s.call(t, "add_token", map[string]any{
		"caller": "mallory",
		"kind":   "primary_fungible",
		"symbol": "EVIL",
		"fee":    "0",
	})
	require.Equal(t, "error", result["status"])
	require.Equal(t, "noPermission", result["error"])

	// The same call from the admin principal passes the gate.
	s.addToken(t, "GLD")
}

func TestAddPoolAndSwapOverHTTP(t *testing.T) {
	s := newTestStack(t)
	gld := s.addToken(t, "GLD")
	slv := s.addToken(t, "SLV")
	s.fund(t, gld, "alice", 2_000_000_000)
	s.fund(t, slv, "alice", 300_000_000)

	result := s.mustSucceed(t, "add_pool", map[string]any{
		"caller":   "alice",
		"token_0":  gld,
		"amount_0": "1000000000",
		"token_1":  slv,
		"amount_1": "150000000",
		"fee_bps":  30,
	})
	reqData := result["data"].(map[string]any)["request"].(map[string]any)
	require.Equal(t, "success", lastStatus(t, reqData))

	s.fund(t, gld, "bob", 1_000_000)
	result = s.mustSucceed(t, "swap", map[string]any{
		"caller":           "bob",
		"pay_token":        gld,
		"pay_amount":       "1000000",
		"receive_token":    slv,
		"max_slippage_bps": 100,
	})
	reqData = result["data"].(map[string]any)["request"].(map[string]any)
	reply := reqData["reply"].(map[string]any)["swap"].(map[string]any)
	require.Equal(t, "149356", reply["receive_amount"])

	// The history index saw the transfers.
	result = s.mustSucceed(t, "transactions", map[string]any{"principal": "bob"})
	rows := result["data"].([]any)
	require.NotEmpty(t, rows)
}

func TestFailedOperationReturnsRequestAndError(t *testing.T) {
	s := newTestStack(t)
	gld := s.addToken(t, "GLD")
	slv := s.addToken(t, "SLV")

	// No pool exists: the swap fails but the request trace comes back.
	result := s.mustSucceed(t, "swap", map[string]any{
		"caller":           "bob",
		"pay_token":        gld,
		"pay_amount":       "1000",
		"receive_token":    slv,
		"max_slippage_bps": 100,
	})
	data := result["data"].(map[string]any)
	require.Equal(t, "failed", lastStatus(t, data["request"].(map[string]any)))
	rpcErr := data["error"].(map[string]any)
	require.Equal(t, "amm", rpcErr["error_codespace"])
}

func TestRelaySurface(t *testing.T) {
	s := newTestStack(t)

	s.mustSucceed(t, "update_anchor", map[string]any{
		"caller": adminPrincipal,
		"value":  "anchor-123",
		"slot":   42,
	})

	result := s.mustSucceed(t, "add_token", map[string]any{
		"caller":      adminPrincipal,
		"kind":        "remote_fungible",
		"symbol":      "RSOL",
		"fee":         "0",
		"remote_mint": "Mint11111111111111111111111111111111111111",
	})
	rtok := uint64(result["data"].(map[string]any)["id"].(float64))

	s.mustSucceed(t, "notify_deposit", map[string]any{
		"caller":       adminPrincipal,
		"token_id":     rtok,
		"amount":       "5000",
		"sender":       "SenderAddr111111111111111111111111111111111",
		"tx_reference": "sig-1",
	})

	result = s.mustSucceed(t, "pending_deposits", map[string]any{"caller": adminPrincipal})
	notes := result["data"].([]any)
	require.Len(t, notes, 1)

	result = s.mustSucceed(t, "poll_jobs", map[string]any{"caller": adminPrincipal, "limit": 5})
	require.Nil(t, result["data"])

	// Relay methods are refused without the admin principal.
	refused := s.call(t, "poll_jobs", map[string]any{"limit": 5})
	require.Equal(t, "noPermission", refused["error"])
}

func TestGetRemoteAddress(t *testing.T) {
	s := newTestStack(t)
	result := s.mustSucceed(t, "get_remote_address", nil)
	addr := result["data"].(map[string]any)["address"].(string)
	require.NotEmpty(t, addr)
}

func TestEventStreamDeliversStatusTransitions(t *testing.T) {
	s := newTestStack(t)
	gld := s.addToken(t, "GLD")
	slv := s.addToken(t, "SLV")
	s.fund(t, gld, "alice", 2_000_000)
	s.fund(t, slv, "alice", 2_000_000)

	wsURL := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	s.mustSucceed(t, "add_pool", map[string]any{
		"caller":   "alice",
		"token_0":  gld,
		"amount_0": "1000000",
		"token_1":  slv,
		"amount_1": "1000000",
		"fee_bps":  30,
	})

	var statuses []string
	deadline := time.Now().Add(5 * time.Second)
	for len(statuses) < 5 && time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var event RequestEvent
		require.NoError(t, json.Unmarshal(raw, &event))
		statuses = append(statuses, string(event.Status))
	}

	require.Contains(t, statuses, "pending")
	require.Contains(t, statuses, "success")
	require.Contains(t, fmt.Sprint(statuses), "transferring")
}
