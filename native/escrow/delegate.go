package escrow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"poolescrow/core/promise"
	"poolescrow/core/runtime"
)

const (
	MethodCreateDAO          = "create_dao"
	MethodCreateFT           = "create_ft"
	MethodOnDelegateCallback = "on_delegate_callback"

	GasForCreateDAO = 150 * promise.TGas
	GasForCreateFT  = 50 * promise.TGas
	GasForCallback  = 2 * promise.TGas
)

// tokenReserve is attached to the create_ft call: 5 units of 10^24 base
// units. It is also the smallest funding limit an escrow accepts.
var tokenReserve = uint256.MustFromDecimal("5000000000000000000000000")

// TokenReserve returns a copy of the amount earmarked for token creation.
func TokenReserve() *uint256.Int { return new(uint256.Int).Set(tokenReserve) }

// CreateDAOArgs is the payload sent to the DAO factory.
type CreateDAOArgs struct {
	DAOName  string   `json:"dao_name"`
	Deposits []string `json:"deposits"`
}

// CreateFTArgs is the payload sent to the token factory.
type CreateFTArgs struct {
	Name string `json:"name"`
}

// DelegateCallbackArgs is the payload of the self-addressed continuation.
type DelegateCallbackArgs struct {
	DAOName string `json:"dao_name"`
}

// DelegateFunds hands a succeeded escrow to the factories: it schedules
// create_dao (carrying total funds minus the reserve and the depositor roster)
// joined with create_ft (carrying the reserve), followed by
// on_delegate_callback on this escrow. Balances are not touched here; only the
// callback reconciles accounting. At most one delegation is in flight: a new
// request is refused until the previous callback settled or was aborted.
func (e *Engine) DelegateFunds(ctx context.Context, call CallContext, name string) (pending *PendingDelegation, err error) {
	defer func() { e.metrics.ObserveOperation("delegate_funds", outcome(err)) }()
	st, err := e.load()
	if err != nil {
		return nil, err
	}
	if e.scheduler == nil {
		return nil, fmt.Errorf("%w: scheduler", ErrCapabilityNotConfigured)
	}
	if !Evaluate(st, e.now()).DelegationAllowed {
		return nil, ErrDelegateNotAllowed
	}
	if st.Pending != nil {
		return nil, ErrDelegationPending
	}
	reserve := TokenReserve()
	daoAmount, err := checkedSub(st.TotalFunds, reserve)
	if err != nil {
		return nil, ErrTotalFundsOverflow
	}
	name = NormalizeName(name)
	if name == "" {
		return nil, ErrInvalidName
	}

	p, err := buildDelegation(st, name, daoAmount, reserve)
	if err != nil {
		return nil, err
	}
	if err := e.scheduler.Schedule(ctx, p); err != nil {
		return nil, fmt.Errorf("escrow: schedule delegation: %w", err)
	}

	st.Attempts++
	pending = &PendingDelegation{
		ID:          uuid.New(),
		Name:        name,
		Reserve:     reserve,
		DAOAmount:   daoAmount,
		Attempt:     st.Attempts,
		RequestedAt: e.now(),
	}
	st.Pending = pending
	if err := e.store(st); err != nil {
		return nil, err
	}
	e.log().InfoContext(ctx, "escrow delegation requested",
		slog.String("caller", formatAccount(call.Caller)),
		slog.String("daoName", name),
		slog.String("delegationId", pending.ID.String()),
		slog.Uint64("attempt", pending.Attempt),
		slog.String("daoAmount", daoAmount.Dec()),
		slog.String("reserve", reserve.Dec()))
	e.emit(NewDelegationRequestedEvent(st, pending))
	return pending.Clone(), nil
}

func buildDelegation(st *State, name string, daoAmount, reserve *uint256.Int) (*promise.Promise, error) {
	daoArgs, err := json.Marshal(CreateDAOArgs{DAOName: name, Deposits: depositAccounts(st)})
	if err != nil {
		return nil, fmt.Errorf("escrow: encode create_dao args: %w", err)
	}
	ftArgs, err := json.Marshal(CreateFTArgs{Name: name})
	if err != nil {
		return nil, fmt.Errorf("escrow: encode create_ft args: %w", err)
	}
	cbArgs, err := json.Marshal(DelegateCallbackArgs{DAOName: name})
	if err != nil {
		return nil, fmt.Errorf("escrow: encode callback args: %w", err)
	}
	createDAO := promise.New(promise.NewCall(st.DAOFactory, MethodCreateDAO, daoArgs, daoAmount, GasForCreateDAO))
	createFT := promise.New(promise.NewCall(st.TokenFactory, MethodCreateFT, ftArgs, reserve, GasForCreateFT))
	callback := promise.NewCall(st.Self, MethodOnDelegateCallback, cbArgs, nil, GasForCallback)
	return promise.All(createDAO, createFT).Then(callback), nil
}

// OnDelegateCallback reconciles the joined create_dao and create_ft results.
// Only the escrow account itself may call it. A transport-level failure of
// either call aborts without touching state. Otherwise a successful DAO
// creation drains total funds and marks the delegation created; the token
// flag only contributes to the returned value, which tells callers whether a
// retry is needed.
func (e *Engine) OnDelegateCallback(ctx context.Context, call CallContext, name string, results []promise.Result) (ok bool, err error) {
	defer func() { e.metrics.ObserveDelegation(outcome(err), ok) }()
	st, err := e.load()
	if err != nil {
		return false, err
	}
	if call.Caller != st.Self {
		return false, ErrCallbackUnauthorized
	}
	if len(results) != 2 {
		return false, ErrCallbackMethod
	}
	if !results[0].Succeeded() {
		return false, ErrCreateDAOUnsuccessful
	}
	if !results[1].Succeeded() {
		return false, ErrCreateFTUnsuccessful
	}
	daoCreated, err := decodeFlag(results[0])
	if err != nil {
		return false, err
	}
	tokenCreated, err := decodeFlag(results[1])
	if err != nil {
		return false, err
	}
	if st.DelegationStatus == DelegationCreated {
		return false, ErrAlreadyDelegated
	}

	name = NormalizeName(name)
	if daoCreated {
		st.TotalFunds = new(uint256.Int)
		st.UnpaidHeadroom = cloneAmount(st.FundingLimit)
		st.DelegationStatus = DelegationCreated
		st.DAOName = name
	}
	st.Pending = nil
	if err := e.store(st); err != nil {
		return false, err
	}
	e.log().InfoContext(ctx, "escrow delegation settled",
		slog.String("daoName", name),
		slog.Bool("daoCreated", daoCreated),
		slog.Bool("ftCreated", tokenCreated),
		slog.String("status", st.DelegationStatus.String()))
	e.emit(NewDelegationSettledEvent(st, name, daoCreated, tokenCreated))
	e.metrics.SetFunds(st.TotalFunds, st.UnpaidHeadroom)
	return daoCreated && tokenCreated, nil
}

// Recover is invoked by the runtime after a continuation scheduled by this
// escrow failed and was rolled back. A failed on_delegate_callback leaves the
// pending delegation behind; it is cleared here so that a new attempt can be
// requested. Funds, deposits and the delegation status are left untouched.
func (e *Engine) Recover(ctx context.Context, inv runtime.Invocation, cause error) error {
	if inv.Method != MethodOnDelegateCallback {
		return nil
	}
	st, err := e.load()
	if err != nil {
		return err
	}
	if st.Pending == nil {
		return nil
	}
	pending := st.Pending
	st.Pending = nil
	if err := e.store(st); err != nil {
		return err
	}
	reason := string(CodeOf(cause))
	e.log().WarnContext(ctx, "escrow delegation aborted",
		slog.String("delegationId", pending.ID.String()),
		slog.String("daoName", pending.Name),
		slog.Uint64("attempt", pending.Attempt),
		slog.String("cause", reason),
		slog.Any("error", cause))
	e.emit(NewDelegationAbortedEvent(st, pending, reason))
	e.metrics.ObserveOperation("delegation_abort", reason)
	return nil
}

func decodeFlag(r promise.Result) (bool, error) {
	flag, err := promise.DecodeBool(r)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	return flag, nil
}

func depositAccounts(st *State) []string {
	accounts := make([]string, 0, len(st.Deposits))
	for _, d := range st.Deposits {
		accounts = append(accounts, formatAccount(d.Account))
	}
	return accounts
}
