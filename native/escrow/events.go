package escrow

import (
	"strconv"

	"github.com/holiman/uint256"

	"poolescrow/core/types"
	"poolescrow/crypto"
)

const (
	EventTypeEscrowInitialized = "escrow.initialized"
	EventTypeEscrowDeposited   = "escrow.deposited"
	EventTypeEscrowWithdrawn   = "escrow.withdrawn"
	EventTypeDelegationRequest = "escrow.delegation.requested"
	EventTypeDelegationSettled = "escrow.delegation.settled"
	EventTypeDelegationAborted = "escrow.delegation.aborted"
)

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// NewInitializedEvent returns the payload emitted once an escrow is created.
func NewInitializedEvent(s *State) *types.Event {
	attrs := stateAttributes(s)
	attrs["expiresAt"] = strconv.FormatInt(s.ExpiresAt, 10)
	attrs["daoFactory"] = formatAccount(s.DAOFactory)
	attrs["ftFactory"] = formatAccount(s.TokenFactory)
	if s.MetadataURL != "" {
		attrs["metadataUrl"] = s.MetadataURL
	}
	return &types.Event{Type: EventTypeEscrowInitialized, Attributes: attrs}
}

// NewDepositedEvent records a deposit with the depositor's balance before and
// after the call.
func NewDepositedEvent(s *State, account [20]byte, amount, before, after *uint256.Int) *types.Event {
	return newBalanceEvent(EventTypeEscrowDeposited, s, account, amount, before, after)
}

// NewWithdrawnEvent records a refund paid back to a depositor.
func NewWithdrawnEvent(s *State, account [20]byte, amount, before, after *uint256.Int) *types.Event {
	return newBalanceEvent(EventTypeEscrowWithdrawn, s, account, amount, before, after)
}

// NewDelegationRequestedEvent records the scheduling of the create_dao and
// create_ft calls.
func NewDelegationRequestedEvent(s *State, pending *PendingDelegation) *types.Event {
	attrs := stateAttributes(s)
	if pending != nil {
		attrs["delegationId"] = pending.ID.String()
		attrs["daoName"] = pending.Name
		attrs["attempt"] = strconv.FormatUint(pending.Attempt, 10)
		attrs["daoAmount"] = formatAmount(pending.DAOAmount)
		attrs["reserve"] = formatAmount(pending.Reserve)
	}
	return &types.Event{Type: EventTypeDelegationRequest, Attributes: attrs}
}

// NewDelegationSettledEvent records the reconciled outcome of a delegation.
func NewDelegationSettledEvent(s *State, name string, daoCreated, tokenCreated bool) *types.Event {
	attrs := stateAttributes(s)
	attrs["daoName"] = name
	attrs["daoCreated"] = strconv.FormatBool(daoCreated)
	attrs["ftCreated"] = strconv.FormatBool(tokenCreated)
	attrs["status"] = s.DelegationStatus.String()
	return &types.Event{Type: EventTypeDelegationSettled, Attributes: attrs}
}

// NewDelegationAbortedEvent records a delegation whose callback failed and was
// rolled back.
func NewDelegationAbortedEvent(s *State, pending *PendingDelegation, cause string) *types.Event {
	attrs := stateAttributes(s)
	if pending != nil {
		attrs["delegationId"] = pending.ID.String()
		attrs["daoName"] = pending.Name
		attrs["attempt"] = strconv.FormatUint(pending.Attempt, 10)
	}
	attrs["cause"] = cause
	return &types.Event{Type: EventTypeDelegationAborted, Attributes: attrs}
}

func newBalanceEvent(eventType string, s *State, account [20]byte, amount, before, after *uint256.Int) *types.Event {
	attrs := stateAttributes(s)
	attrs["account"] = formatAccount(account)
	attrs["amount"] = formatAmount(amount)
	attrs["balanceBefore"] = formatAmount(before)
	attrs["balance"] = formatAmount(after)
	return &types.Event{Type: eventType, Attributes: attrs}
}

func stateAttributes(s *State) map[string]string {
	attrs := make(map[string]string)
	if s == nil {
		return attrs
	}
	attrs["escrow"] = formatAccount(s.Self)
	attrs["totalFunds"] = formatAmount(s.TotalFunds)
	attrs["unpaidFunds"] = formatAmount(s.UnpaidHeadroom)
	attrs["fundingLimit"] = formatAmount(s.FundingLimit)
	return attrs
}

func formatAccount(addr [20]byte) string { return crypto.AccountAddress(addr).String() }

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
