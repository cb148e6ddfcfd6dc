package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/holiman/uint256"

	"poolescrow/core/events"
	"poolescrow/core/promise"
	"poolescrow/core/types"
	"poolescrow/observability/metrics"
)

type engineState interface {
	EscrowGet() (*State, bool, error)
	EscrowPut(*State) error
}

// Bank moves native currency between accounts. Implementations must leave
// balances untouched when they return an error.
type Bank interface {
	Transfer(ctx context.Context, from, to [20]byte, amount *uint256.Int) error
}

// Scheduler queues promises for execution once the current invocation
// commits. A failed invocation drops everything it scheduled.
type Scheduler interface {
	Schedule(ctx context.Context, p *promise.Promise) error
}

// Engine wires the pooled escrow ledger with its state backend and the host
// capabilities it needs: a clock, payment transfers and asynchronous calls.
// Every exported mutator loads the record, applies the transition to a copy
// and persists it only when every precondition held, so a failed call leaves
// the stored ledger untouched.
type Engine struct {
	state     engineState
	bank      Bank
	scheduler Scheduler
	emitter   events.Emitter
	logger    *slog.Logger
	metrics   *metrics.EscrowMetrics
	nowFn     func() int64
}

// NewEngine creates an escrow engine with a no-op emitter and the wall clock.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetBank configures the payment transfer primitive used for refunds.
func (e *Engine) SetBank(bank Bank) { e.bank = bank }

// SetScheduler configures the asynchronous call primitive used during
// delegation.
func (e *Engine) SetScheduler(s Scheduler) { e.scheduler = s }

// SetMetrics configures the metrics sink. Nil disables metrics.
func (e *Engine) SetMetrics(m *metrics.EscrowMetrics) { e.metrics = m }

// SetLogger configures the structured logger. Nil restores slog.Default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		e.logger = slog.Default()
		return
	}
	e.logger = logger
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) log() *slog.Logger {
	if e == nil || e.logger == nil {
		return slog.Default()
	}
	return e.logger
}

func (e *Engine) load() (*State, error) {
	if e == nil || e.state == nil {
		return nil, fmt.Errorf("%w: state", ErrCapabilityNotConfigured)
	}
	st, ok, err := e.state.EscrowGet()
	if err != nil {
		return nil, fmt.Errorf("escrow: load state: %w", err)
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return st.Clone(), nil
}

func (e *Engine) store(st *State) error {
	if err := e.state.EscrowPut(st); err != nil {
		return fmt.Errorf("escrow: store state: %w", err)
	}
	return nil
}

// Init creates the escrow record. It fails when a record already exists or
// the funding limit cannot cover the token reserve spent during delegation.
func (e *Engine) Init(ctx context.Context, params InitParams) (*State, error) {
	if e == nil || e.state == nil {
		return nil, fmt.Errorf("%w: state", ErrCapabilityNotConfigured)
	}
	_, exists, err := e.state.EscrowGet()
	if err != nil {
		return nil, fmt.Errorf("escrow: load state: %w", err)
	}
	if exists {
		return nil, ErrAlreadyInitialized
	}
	if params.FundingLimit == nil || params.FundingLimit.Lt(TokenReserve()) {
		return nil, ErrInsufficientFundsLimit
	}
	var zero [20]byte
	if params.Self == zero || params.DAOFactory == zero || params.TokenFactory == zero {
		return nil, fmt.Errorf("%w: escrow and factory accounts required", ErrInvalidConfig)
	}
	if params.ExpiresAt < 0 {
		return nil, fmt.Errorf("%w: negative expiration", ErrInvalidConfig)
	}
	st := &State{
		Deposits:         []Deposit{},
		TotalFunds:       new(uint256.Int),
		FundingLimit:     cloneAmount(params.FundingLimit),
		UnpaidHeadroom:   cloneAmount(params.FundingLimit),
		ExpiresAt:        params.ExpiresAt,
		Self:             params.Self,
		DAOFactory:       params.DAOFactory,
		TokenFactory:     params.TokenFactory,
		MetadataURL:      params.MetadataURL,
		DelegationStatus: DelegationNotStarted,
	}
	if err := e.store(st); err != nil {
		return nil, err
	}
	e.log().InfoContext(ctx, "escrow initialized",
		slog.String("escrow", formatAccount(st.Self)),
		slog.String("fundingLimit", formatAmount(st.FundingLimit)),
		slog.Int64("expiresAt", st.ExpiresAt))
	e.emit(NewInitializedEvent(st))
	return st.Clone(), nil
}

// Deposit credits the attached payment to the caller. The whole attachment is
// rejected, not clamped, when it would push total funds past the limit.
func (e *Engine) Deposit(ctx context.Context, call CallContext) (err error) {
	defer func() { e.metrics.ObserveOperation("deposit", outcome(err)) }()
	st, err := e.load()
	if err != nil {
		return err
	}
	if call.Caller == st.Self {
		return ErrOwnerShouldNotDeposit
	}
	amount := call.attached()
	if amount.IsZero() {
		return ErrDepositShouldNotBeZero
	}
	if !Evaluate(st, e.now()).DepositAllowed {
		return ErrDepositNotAllowed
	}
	if amount.Gt(st.UnpaidHeadroom) {
		return ErrDepositExceedsHeadroom
	}
	before := st.balanceOf(call.Caller)
	after, err := checkedAdd(before, amount)
	if err != nil {
		return err
	}
	total, err := checkedAdd(st.TotalFunds, amount)
	if err != nil {
		return err
	}
	unpaid, err := checkedSub(st.UnpaidHeadroom, amount)
	if err != nil {
		return err
	}
	st.setBalance(call.Caller, after)
	st.TotalFunds = total
	st.UnpaidHeadroom = unpaid
	if err := e.store(st); err != nil {
		return err
	}
	e.log().InfoContext(ctx, "escrow deposit",
		slog.String("account", formatAccount(call.Caller)),
		slog.String("amount", amount.Dec()),
		slog.String("balanceBefore", before.Dec()),
		slog.String("balance", after.Dec()),
		slog.String("totalFunds", st.TotalFunds.Dec()),
		slog.String("unpaidFunds", st.UnpaidHeadroom.Dec()))
	e.emit(NewDepositedEvent(st, call.Caller, amount, before, after))
	e.metrics.SetFunds(st.TotalFunds, st.UnpaidHeadroom)
	return nil
}

// Withdraw refunds the caller's full balance while the escrow is in the failed
// phase. Callers without a balance, or calling a second time, receive zero.
// The returned amount is what was paid out.
func (e *Engine) Withdraw(ctx context.Context, call CallContext) (payment *uint256.Int, err error) {
	defer func() { e.metrics.ObserveOperation("withdraw", outcome(err)) }()
	st, err := e.load()
	if err != nil {
		return nil, err
	}
	if e.bank == nil {
		return nil, fmt.Errorf("%w: bank", ErrCapabilityNotConfigured)
	}
	if !Evaluate(st, e.now()).WithdrawalAllowed {
		return nil, ErrWithdrawalNotAllowed
	}
	payment = st.balanceOf(call.Caller)
	total, err := checkedSub(st.TotalFunds, payment)
	if err != nil {
		return nil, err
	}
	unpaid, err := checkedAdd(st.UnpaidHeadroom, payment)
	if err != nil {
		return nil, err
	}
	if err := e.bank.Transfer(ctx, st.Self, call.Caller, payment); err != nil {
		return nil, fmt.Errorf("escrow: refund transfer: %w", err)
	}
	if st.depositIndex(call.Caller) >= 0 {
		st.setBalance(call.Caller, new(uint256.Int))
	}
	st.TotalFunds = total
	st.UnpaidHeadroom = unpaid
	if err := e.store(st); err != nil {
		return nil, err
	}
	e.log().InfoContext(ctx, "escrow withdrawal",
		slog.String("account", formatAccount(call.Caller)),
		slog.String("amount", payment.Dec()),
		slog.String("totalFunds", st.TotalFunds.Dec()),
		slog.String("unpaidFunds", st.UnpaidHeadroom.Dec()))
	e.emit(NewWithdrawnEvent(st, call.Caller, payment, payment, new(uint256.Int)))
	e.metrics.SetFunds(st.TotalFunds, st.UnpaidHeadroom)
	return cloneAmount(payment), nil
}
