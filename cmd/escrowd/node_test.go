package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"poolescrow/config"
	"poolescrow/core/events"
	"poolescrow/core/promise"
	"poolescrow/crypto"
	"poolescrow/native/escrow"
	"poolescrow/rpc"
	"poolescrow/storage/journal"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	alice := crypto.AccountAddress(crypto.DeriveAccount("alice")).String()
	return &config.Config{
		Service:    config.ServiceConfig{Name: "escrowd"},
		DataDir:    filepath.Join(dir, "state"),
		JournalDSN: filepath.Join(dir, "journal.db"),
		RPC:        config.RPCConfig{ListenAddress: "127.0.0.1:0"},
		Escrow: config.EscrowConfig{
			FundingLimit: config.DefaultFundingLimit,
			ExpiresAt:    time.Now().Add(time.Hour),
		},
		Genesis: []config.GenesisAlloc{{Account: alice, Amount: "20000000000000000000000000"}},
	}
}

func TestNodeBootstrapsAndServes(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	n, err := newNode(ctx, cfg, slog.Default(), nil)
	require.NoError(t, err)

	params, err := cfg.EscrowParams()
	require.NoError(t, err)
	alice := crypto.DeriveAccount("alice")
	amount := uint256.MustFromDecimal("3000000000000000000000000")
	_, err = n.runtime.Call(ctx, alice, promise.NewCall(params.Self, escrow.MethodDeposit, nil, amount, promise.TGas))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	n.rpc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/escrow", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var view rpc.EscrowView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, amount.Dec(), view.TotalFunds)
	require.Equal(t, 1, view.Depositors)

	entries, err := n.journal.List(ctx, journal.Query{Type: escrow.EventTypeEscrowDeposited})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NoError(t, n.Close())

	// A restart finds the stored escrow and keeps the deposit.
	again, err := newNode(ctx, cfg, slog.Default(), nil)
	require.NoError(t, err)
	defer again.Close()
	total, err := again.engine.TotalFunds(ctx)
	require.NoError(t, err)
	require.Equal(t, amount, total)
	balance, err := again.bank.BalanceOf(alice)
	require.NoError(t, err)
	require.Equal(t, "17000000000000000000000000", balance.Dec())
}

func TestNodeAcceptsAuthenticatedCalls(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.RPC.JWTSecret = "node-secret"
	n, err := newNode(ctx, cfg, slog.Default(), nil)
	require.NoError(t, err)
	defer n.Close()

	alice := crypto.DeriveAccount("alice")
	token, err := rpc.NewAuthenticator(cfg.RPC.JWTSecret, "").Issue(alice, time.Minute)
	require.NoError(t, err)

	body, err := json.Marshal(rpc.CallRequest{Method: escrow.MethodDeposit, Attached: "2000000000000000000000000"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/escrow/calls", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	n.rpc.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	total, err := n.engine.TotalFunds(ctx)
	require.NoError(t, err)
	require.Equal(t, "2000000000000000000000000", total.Dec())

	transfers, err := n.journal.List(ctx, journal.Query{Type: events.TypeTransfer})
	require.NoError(t, err)

	// Depositing more than alice holds fails before the handler runs.
	body, err = json.Marshal(rpc.CallRequest{Method: escrow.MethodDeposit, Attached: "90000000000000000000000000"})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/escrow/calls", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	n.rpc.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	// A deposit above the remaining headroom moves value first and is then
	// rolled back; nothing of it reaches the journal.
	body, err = json.Marshal(rpc.CallRequest{Method: escrow.MethodDeposit, Attached: "14000000000000000000000000"})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/escrow/calls", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	n.rpc.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	after, err := n.journal.List(ctx, journal.Query{Type: events.TypeTransfer})
	require.NoError(t, err)
	require.Len(t, after, len(transfers))
}
