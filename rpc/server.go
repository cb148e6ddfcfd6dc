// Package rpc serves the HTTP surface of an escrow: its snapshot, the
// depositor roster, the event journal and live stream, authenticated call
// submission, health and Prometheus metrics.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"poolescrow/crypto"
	"poolescrow/native/escrow"
	"poolescrow/storage/journal"
)

const maxEventPage = 500

// EscrowReader is the query side of an escrow engine.
type EscrowReader interface {
	Snapshot(ctx context.Context) (*escrow.Snapshot, error)
	DepositsOf(ctx context.Context, payee [20]byte) (*uint256.Int, error)
	SharesOf(ctx context.Context, payee [20]byte) (*uint256.Int, error)
}

// EventLister exposes recorded events.
type EventLister interface {
	List(ctx context.Context, q journal.Query) ([]journal.Entry, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Escrow EscrowReader
	// Journal is optional; without it /escrow/events answers 404.
	Journal EventLister
	// Stream is optional; without it /escrow/stream answers 404.
	Stream EventSource
	// Invoker and Auth enable POST /escrow/calls. Calls are addressed to
	// EscrowAccount.
	Invoker        Invoker
	Auth           *Authenticator
	EscrowAccount  [20]byte
	OriginPatterns []string
	Gatherer       prometheus.Gatherer
	Logger   *slog.Logger
	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64
	Burst     int
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	escrow         EscrowReader
	journal        EventLister
	stream         EventSource
	invoker        Invoker
	auth           *Authenticator
	escrowAccount  [20]byte
	originPatterns []string
	gatherer       prometheus.Gatherer
	logger         *slog.Logger
	limiter        *RateLimiter
	router         http.Handler
}

// New constructs the router.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	srv := &Server{
		escrow:         cfg.Escrow,
		journal:        cfg.Journal,
		stream:         cfg.Stream,
		invoker:        cfg.Invoker,
		auth:           cfg.Auth,
		escrowAccount:  cfg.EscrowAccount,
		originPatterns: cfg.OriginPatterns,
		gatherer:       cfg.Gatherer,
		logger:         cfg.Logger,
	}
	if cfg.RateLimit > 0 {
		srv.limiter = NewRateLimiter(cfg.RateLimit, cfg.Burst)
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/escrow", func(api chi.Router) {
		if s.limiter != nil {
			api.Use(s.limiter.Middleware)
		}
		api.Get("/", s.GetEscrow)
		api.Get("/deposits", s.ListDeposits)
		api.Get("/deposits/{account}", s.GetDeposit)
		api.Get("/events", s.ListEvents)
		api.Get("/stream", s.StreamEvents)
		if s.auth != nil && s.invoker != nil {
			api.With(s.auth.Middleware).Post("/calls", s.SubmitCall)
		}
	})
	return otelhttp.NewHandler(r, "escrow.rpc")
}

// PendingView renders an in-flight delegation.
type PendingView struct {
	ID          string `json:"id"`
	DAOName     string `json:"dao_name"`
	DAOAmount   string `json:"dao_amount"`
	Reserve     string `json:"reserve"`
	Attempt     uint64 `json:"attempt"`
	RequestedAt int64  `json:"requested_at"`
}

// EscrowView is the JSON body of GET /escrow.
type EscrowView struct {
	Account           string       `json:"account"`
	DAOFactory        string       `json:"dao_factory"`
	TokenFactory      string       `json:"ft_factory"`
	MetadataURL       string       `json:"metadata_url,omitempty"`
	FundingLimit      string       `json:"funding_limit"`
	TotalFunds        string       `json:"total_funds"`
	UnpaidFunds       string       `json:"unpaid_funds"`
	ExpiresAt         int64        `json:"expires_at"`
	Now               int64        `json:"now"`
	Phase             string       `json:"phase"`
	DepositAllowed    bool         `json:"deposit_allowed"`
	WithdrawalAllowed bool         `json:"withdrawal_allowed"`
	DelegationAllowed bool         `json:"delegation_allowed"`
	DelegationStatus  string       `json:"delegation_status"`
	DAOName           string       `json:"dao_name,omitempty"`
	Depositors        int          `json:"depositors"`
	Pending           *PendingView `json:"pending,omitempty"`
}

// DepositView is one roster entry.
type DepositView struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
	Shares  string `json:"shares,omitempty"`
}

// EventView is one journal entry.
type EventView struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recorded_at"`
}

func (s *Server) GetEscrow(w http.ResponseWriter, r *http.Request) {
	snap, err := s.escrow.Snapshot(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	st := snap.State
	view := EscrowView{
		Account:           formatAccount(st.Self),
		DAOFactory:        formatAccount(st.DAOFactory),
		TokenFactory:      formatAccount(st.TokenFactory),
		MetadataURL:       st.MetadataURL,
		FundingLimit:      formatAmount(st.FundingLimit),
		TotalFunds:        formatAmount(st.TotalFunds),
		UnpaidFunds:       formatAmount(st.UnpaidHeadroom),
		ExpiresAt:         st.ExpiresAt,
		Now:               snap.Now,
		Phase:             snap.Eligibility.Phase.String(),
		DepositAllowed:    snap.Eligibility.DepositAllowed,
		WithdrawalAllowed: snap.Eligibility.WithdrawalAllowed,
		DelegationAllowed: snap.Eligibility.DelegationAllowed,
		DelegationStatus:  st.DelegationStatus.String(),
		DAOName:           st.DAOName,
		Depositors:        len(st.Deposits),
	}
	if p := st.Pending; p != nil {
		view.Pending = &PendingView{
			ID:          p.ID.String(),
			DAOName:     p.Name,
			DAOAmount:   formatAmount(p.DAOAmount),
			Reserve:     formatAmount(p.Reserve),
			Attempt:     p.Attempt,
			RequestedAt: p.RequestedAt,
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) ListDeposits(w http.ResponseWriter, r *http.Request) {
	snap, err := s.escrow.Snapshot(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	out := make([]DepositView, 0, len(snap.State.Deposits))
	for _, d := range snap.State.Deposits {
		out = append(out, DepositView{Account: formatAccount(d.Account), Amount: formatAmount(d.Amount)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) GetDeposit(w http.ResponseWriter, r *http.Request) {
	account, err := crypto.ParseAccount(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account")
		return
	}
	amount, err := s.escrow.DepositsOf(r.Context(), account)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	shares, err := s.escrow.SharesOf(r.Context(), account)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DepositView{
		Account: formatAccount(account),
		Amount:  formatAmount(amount),
		Shares:  formatAmount(shares),
	})
}

func (s *Server) ListEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "event journal disabled")
		return
	}
	q := journal.Query{Type: r.URL.Query().Get("type"), Limit: 100}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = min(limit, maxEventPage)
	}
	entries, err := s.journal.List(r.Context(), q)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "journal query failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}
	out := make([]EventView, 0, len(entries))
	for _, e := range entries {
		out = append(out, EventView{ID: e.ID.String(), Type: e.Type, Attributes: e.Attributes, RecordedAt: e.RecordedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, escrow.ErrNotInitialized) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.ErrorContext(r.Context(), "escrow query failed",
		slog.String("path", r.URL.Path),
		slog.String("code", string(escrow.CodeOf(err))),
		slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, "escrow unavailable")
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func formatAccount(addr [20]byte) string { return crypto.AccountAddress(addr).String() }

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
