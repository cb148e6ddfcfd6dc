package escrow

import (
	"context"

	"github.com/holiman/uint256"
)

// Snapshot is a read model of the escrow combined with its eligibility at
// the time it was taken.
type Snapshot struct {
	State       *State
	Eligibility Eligibility
	Now         int64
}

// Snapshot returns a copy of the stored record with the current eligibility.
func (e *Engine) Snapshot(ctx context.Context) (*Snapshot, error) {
	st, err := e.load()
	if err != nil {
		return nil, err
	}
	now := e.now()
	return &Snapshot{State: st, Eligibility: Evaluate(st, now), Now: now}, nil
}

// DepositsOf returns the running balance of payee, zero when absent.
func (e *Engine) DepositsOf(ctx context.Context, payee [20]byte) (*uint256.Int, error) {
	st, err := e.load()
	if err != nil {
		return nil, err
	}
	return st.balanceOf(payee), nil
}

// SharesOf returns payee's balance expressed in thousandths of the funding
// limit, truncated. Accounts without a deposit hold zero shares.
func (e *Engine) SharesOf(ctx context.Context, payee [20]byte) (*uint256.Int, error) {
	st, err := e.load()
	if err != nil {
		return nil, err
	}
	if st.depositIndex(payee) < 0 {
		return new(uint256.Int), nil
	}
	return computeShares(st.balanceOf(payee), st.FundingLimit), nil
}

// AllDeposits returns every depositor with its balance in insertion order.
// Entries survive withdrawal (at zero) and delegation.
func (e *Engine) AllDeposits(ctx context.Context) ([]Deposit, error) {
	st, err := e.load()
	if err != nil {
		return nil, err
	}
	return st.Deposits, nil
}

// DepositAccounts returns the roster sent to the DAO factory.
func (e *Engine) DepositAccounts(ctx context.Context) ([]string, error) {
	st, err := e.load()
	if err != nil {
		return nil, err
	}
	return depositAccounts(st), nil
}

func (e *Engine) TotalFunds(ctx context.Context) (*uint256.Int, error) {
	st, err := e.load()
	if err != nil {
		return nil, err
	}
	return st.TotalFunds, nil
}

func (e *Engine) FundingLimit(ctx context.Context) (*uint256.Int, error) {
	st, err := e.load()
	if err != nil {
		return nil, err
	}
	return st.FundingLimit, nil
}

// UnpaidHeadroom returns the amount still accepted before the limit is hit.
func (e *Engine) UnpaidHeadroom(ctx context.Context) (*uint256.Int, error) {
	st, err := e.load()
	if err != nil {
		return nil, err
	}
	return st.UnpaidHeadroom, nil
}

func (e *Engine) ExpirationDate(ctx context.Context) (int64, error) {
	st, err := e.load()
	if err != nil {
		return 0, err
	}
	return st.ExpiresAt, nil
}

func (e *Engine) MetadataURL(ctx context.Context) (string, error) {
	st, err := e.load()
	if err != nil {
		return "", err
	}
	return st.MetadataURL, nil
}

func (e *Engine) DAOFactory(ctx context.Context) ([20]byte, error) {
	st, err := e.load()
	if err != nil {
		return [20]byte{}, err
	}
	return st.DAOFactory, nil
}

func (e *Engine) TokenFactory(ctx context.Context) ([20]byte, error) {
	st, err := e.load()
	if err != nil {
		return [20]byte{}, err
	}
	return st.TokenFactory, nil
}

// DAOName returns the name assigned by a successful delegation, empty before.
func (e *Engine) DAOName(ctx context.Context) (string, error) {
	st, err := e.load()
	if err != nil {
		return "", err
	}
	return st.DAOName, nil
}

func (e *Engine) DelegationStatus(ctx context.Context) (DelegationStatus, error) {
	st, err := e.load()
	if err != nil {
		return DelegationNotStarted, err
	}
	return st.DelegationStatus, nil
}

// PendingDelegation returns the in-flight delegation attempt, if any.
func (e *Engine) PendingDelegation(ctx context.Context) (*PendingDelegation, bool, error) {
	st, err := e.load()
	if err != nil {
		return nil, false, err
	}
	return st.Pending, st.Pending != nil, nil
}

// Eligibility evaluates the predicates against the engine clock.
func (e *Engine) Eligibility(ctx context.Context) (Eligibility, error) {
	st, err := e.load()
	if err != nil {
		return Eligibility{}, err
	}
	return Evaluate(st, e.now()), nil
}

func (e *Engine) IsDepositAllowed(ctx context.Context) (bool, error) {
	el, err := e.Eligibility(ctx)
	return el.DepositAllowed, err
}

func (e *Engine) IsWithdrawalAllowed(ctx context.Context) (bool, error) {
	el, err := e.Eligibility(ctx)
	return el.WithdrawalAllowed, err
}

func (e *Engine) IsDelegationAllowed(ctx context.Context) (bool, error) {
	el, err := e.Eligibility(ctx)
	return el.DelegationAllowed, err
}
