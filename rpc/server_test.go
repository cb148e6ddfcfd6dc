package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"poolescrow/crypto"
	"poolescrow/native/escrow"
	"poolescrow/storage/journal"
)

type stubEscrow struct {
	state *escrow.State
	now   int64
}

func (s *stubEscrow) Snapshot(context.Context) (*escrow.Snapshot, error) {
	if s.state == nil {
		return nil, escrow.ErrNotInitialized
	}
	return &escrow.Snapshot{State: s.state.Clone(), Eligibility: escrow.Evaluate(s.state, s.now), Now: s.now}, nil
}

func (s *stubEscrow) DepositsOf(_ context.Context, payee [20]byte) (*uint256.Int, error) {
	for _, d := range s.state.Deposits {
		if d.Account == payee {
			return new(uint256.Int).Set(d.Amount), nil
		}
	}
	return new(uint256.Int), nil
}

func (s *stubEscrow) SharesOf(ctx context.Context, payee [20]byte) (*uint256.Int, error) {
	amount, _ := s.DepositsOf(ctx, payee)
	return new(uint256.Int).Div(new(uint256.Int).Mul(amount, uint256.NewInt(1000)), s.state.FundingLimit), nil
}

type stubJournal struct {
	entries []journal.Entry
	last    journal.Query
}

func (s *stubJournal) List(_ context.Context, q journal.Query) ([]journal.Entry, error) {
	s.last = q
	return s.entries, nil
}

var (
	alice = crypto.DeriveAccount("alice")
	bob   = crypto.DeriveAccount("bob")
)

func newStubEscrow() *stubEscrow {
	return &stubEscrow{
		now: 100,
		state: &escrow.State{
			Deposits: []escrow.Deposit{
				{Account: alice, Amount: uint256.NewInt(750)},
				{Account: bob, Amount: uint256.NewInt(250)},
			},
			TotalFunds:     uint256.NewInt(1000),
			FundingLimit:   uint256.NewInt(1500),
			UnpaidHeadroom: uint256.NewInt(500),
			ExpiresAt:      200,
			Self:           crypto.DeriveAccount("escrow"),
			DAOFactory:     crypto.DeriveAccount("dao-factory"),
			TokenFactory:   crypto.DeriveAccount("ft-factory"),
		},
	}
}

func get(t *testing.T, h http.Handler, path string, out interface{}) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestGetEscrow(t *testing.T) {
	srv := New(Config{Escrow: newStubEscrow(), Gatherer: prometheus.NewRegistry()})
	var view EscrowView
	require.Equal(t, http.StatusOK, get(t, srv.Handler(), "/escrow", &view))
	require.Equal(t, "1000", view.TotalFunds)
	require.Equal(t, "500", view.UnpaidFunds)
	require.Equal(t, "open", view.Phase)
	require.True(t, view.DepositAllowed)
	require.Equal(t, 2, view.Depositors)
	require.Equal(t, crypto.AccountAddress(crypto.DeriveAccount("escrow")).String(), view.Account)
	require.Nil(t, view.Pending)
}

func TestGetEscrowNotInitialized(t *testing.T) {
	srv := New(Config{Escrow: &stubEscrow{}, Gatherer: prometheus.NewRegistry()})
	require.Equal(t, http.StatusNotFound, get(t, srv.Handler(), "/escrow", nil))
}

func TestDeposits(t *testing.T) {
	srv := New(Config{Escrow: newStubEscrow(), Gatherer: prometheus.NewRegistry()})

	var list []DepositView
	require.Equal(t, http.StatusOK, get(t, srv.Handler(), "/escrow/deposits", &list))
	require.Len(t, list, 2)
	require.Equal(t, crypto.AccountAddress(alice).String(), list[0].Account)

	var one DepositView
	path := "/escrow/deposits/" + crypto.AccountAddress(alice).String()
	require.Equal(t, http.StatusOK, get(t, srv.Handler(), path, &one))
	require.Equal(t, "750", one.Amount)
	require.Equal(t, "500", one.Shares)

	require.Equal(t, http.StatusBadRequest, get(t, srv.Handler(), "/escrow/deposits/garbage", nil))
}

func TestEvents(t *testing.T) {
	j := &stubJournal{entries: []journal.Entry{{
		ID:         uuid.New(),
		Type:       escrow.EventTypeEscrowDeposited,
		Attributes: map[string]string{"amount": "5"},
		RecordedAt: time.Unix(100, 0).UTC(),
	}}}
	srv := New(Config{Escrow: newStubEscrow(), Journal: j, Gatherer: prometheus.NewRegistry()})

	var events []EventView
	require.Equal(t, http.StatusOK, get(t, srv.Handler(), "/escrow/events?type=escrow.deposited&limit=9000", &events))
	require.Len(t, events, 1)
	require.Equal(t, "5", events[0].Attributes["amount"])
	require.Equal(t, "escrow.deposited", j.last.Type)
	require.Equal(t, maxEventPage, j.last.Limit)

	require.Equal(t, http.StatusBadRequest, get(t, srv.Handler(), "/escrow/events?limit=-1", nil))

	noJournal := New(Config{Escrow: newStubEscrow(), Gatherer: prometheus.NewRegistry()})
	require.Equal(t, http.StatusNotFound, get(t, noJournal.Handler(), "/escrow/events", nil))
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "escrow_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()
	srv := New(Config{Escrow: newStubEscrow(), Gatherer: reg})

	require.Equal(t, http.StatusOK, get(t, srv.Handler(), "/healthz", nil))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "escrow_test_total 1")
}

func TestRateLimit(t *testing.T) {
	srv := New(Config{Escrow: newStubEscrow(), Gatherer: prometheus.NewRegistry(), RateLimit: 0.001, Burst: 2})
	h := srv.Handler()
	require.Equal(t, http.StatusOK, get(t, h, "/escrow", nil))
	require.Equal(t, http.StatusOK, get(t, h, "/escrow", nil))
	require.Equal(t, http.StatusTooManyRequests, get(t, h, "/escrow", nil))
	require.Equal(t, http.StatusOK, get(t, h, "/healthz", nil))
}
