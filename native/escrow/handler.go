package escrow

import (
	"context"
	"encoding/json"
	"fmt"

	"poolescrow/core/runtime"
	"poolescrow/crypto"
)

// Contract method names accepted by Handle.
const (
	MethodDeposit             = "deposit"
	MethodWithdraw            = "withdraw"
	MethodDelegateFunds       = "delegate_funds"
	MethodDepositsOf          = "deposits_of"
	MethodSharesOf            = "get_shares_of"
	MethodGetDeposits         = "get_deposits"
	MethodGetDepositAccounts  = "get_deposit_accounts"
	MethodGetTotalFunds       = "get_total_funds"
	MethodGetExpirationDate   = "get_expiration_date"
	MethodGetFundingLimit     = "get_funding_amount_limit"
	MethodGetUnpaidFunding    = "get_unpaid_funding_amount"
	MethodGetDAOFactory       = "get_dao_factory_account_id"
	MethodGetFTFactory        = "get_ft_factory_account_id"
	MethodGetMetadataURL      = "get_metadata_url"
	MethodGetDAOName          = "get_dao_name"
	MethodIsDepositAllowed    = "is_deposit_allowed"
	MethodIsWithdrawalAllowed = "is_withdrawal_allowed"
	MethodIsDelegationAllowed = "is_delegation_allowed"
)

// DelegateFundsArgs is the payload of delegate_funds.
type DelegateFundsArgs struct {
	DAOName string `json:"dao_name"`
}

// PayeeArgs selects one depositor for deposits_of and get_shares_of.
type PayeeArgs struct {
	Payee string `json:"payee"`
}

// DepositView is the JSON rendering of one roster entry.
type DepositView struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// DelegationView is returned by delegate_funds.
type DelegationView struct {
	ID        string `json:"id"`
	DAOName   string `json:"dao_name"`
	DAOAmount string `json:"dao_amount"`
	Reserve   string `json:"reserve"`
	Attempt   uint64 `json:"attempt"`
}

// Handle exposes the engine as a runtime contract. Amounts cross the boundary
// as decimal strings and accounts as bech32 identities.
func (e *Engine) Handle(ctx context.Context, inv runtime.Invocation) ([]byte, error) {
	call := CallContext{Caller: inv.Caller, Attached: inv.Attached}
	switch inv.Method {
	case MethodDeposit:
		if err := e.Deposit(ctx, call); err != nil {
			return nil, err
		}
		return json.Marshal(nil)
	case MethodWithdraw:
		if err := rejectAttached(call); err != nil {
			return nil, err
		}
		paid, err := e.Withdraw(ctx, call)
		if err != nil {
			return nil, err
		}
		return json.Marshal(paid.Dec())
	case MethodDelegateFunds:
		if err := rejectAttached(call); err != nil {
			return nil, err
		}
		var args DelegateFundsArgs
		if err := decodeArgs(inv.Args, &args); err != nil {
			return nil, err
		}
		pending, err := e.DelegateFunds(ctx, call, args.DAOName)
		if err != nil {
			return nil, err
		}
		return json.Marshal(DelegationView{
			ID:        pending.ID.String(),
			DAOName:   pending.Name,
			DAOAmount: pending.DAOAmount.Dec(),
			Reserve:   pending.Reserve.Dec(),
			Attempt:   pending.Attempt,
		})
	case MethodOnDelegateCallback:
		if err := rejectAttached(call); err != nil {
			return nil, err
		}
		var args DelegateCallbackArgs
		if err := decodeArgs(inv.Args, &args); err != nil {
			return nil, err
		}
		ok, err := e.OnDelegateCallback(ctx, call, args.DAOName, inv.Results)
		if err != nil {
			return nil, err
		}
		return json.Marshal(ok)
	}
	if err := rejectAttached(call); err != nil {
		return nil, err
	}
	return e.view(ctx, inv.Method, inv.Args)
}

func (e *Engine) view(ctx context.Context, method string, raw []byte) ([]byte, error) {
	switch method {
	case MethodDepositsOf, MethodSharesOf:
		var args PayeeArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		payee, err := crypto.ParseAccount(args.Payee)
		if err != nil {
			return nil, fmt.Errorf("%w: payee: %v", ErrInvalidArguments, err)
		}
		fetch := e.DepositsOf
		if method == MethodSharesOf {
			fetch = e.SharesOf
		}
		amount, err := fetch(ctx, payee)
		if err != nil {
			return nil, err
		}
		return json.Marshal(amount.Dec())
	case MethodGetDeposits:
		deposits, err := e.AllDeposits(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]DepositView, 0, len(deposits))
		for _, d := range deposits {
			out = append(out, DepositView{Account: formatAccount(d.Account), Amount: formatAmount(d.Amount)})
		}
		return json.Marshal(out)
	case MethodGetDepositAccounts:
		return marshalView(e.DepositAccounts(ctx))
	case MethodGetTotalFunds:
		amount, err := e.TotalFunds(ctx)
		return marshalView(formatAmount(amount), err)
	case MethodGetFundingLimit:
		amount, err := e.FundingLimit(ctx)
		return marshalView(formatAmount(amount), err)
	case MethodGetUnpaidFunding:
		amount, err := e.UnpaidHeadroom(ctx)
		return marshalView(formatAmount(amount), err)
	case MethodGetExpirationDate:
		return marshalView(e.ExpirationDate(ctx))
	case MethodGetDAOFactory:
		account, err := e.DAOFactory(ctx)
		return marshalView(formatAccount(account), err)
	case MethodGetFTFactory:
		account, err := e.TokenFactory(ctx)
		return marshalView(formatAccount(account), err)
	case MethodGetMetadataURL:
		return marshalView(e.MetadataURL(ctx))
	case MethodGetDAOName:
		return marshalView(e.DAOName(ctx))
	case MethodIsDepositAllowed:
		return marshalView(e.IsDepositAllowed(ctx))
	case MethodIsWithdrawalAllowed:
		return marshalView(e.IsWithdrawalAllowed(ctx))
	case MethodIsDelegationAllowed:
		return marshalView(e.IsDelegationAllowed(ctx))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

func marshalView[T any](v T, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func decodeArgs(raw []byte, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func rejectAttached(call CallContext) error {
	if !call.attached().IsZero() {
		return fmt.Errorf("%w: method does not accept attached value", ErrInvalidArguments)
	}
	return nil
}
