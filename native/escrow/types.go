package escrow

import (
	"strings"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// DelegationStatus tracks whether escrowed funds were handed to the created
// DAO. The only transition is NotStarted -> Created.
type DelegationStatus uint8

const (
	DelegationNotStarted DelegationStatus = iota
	DelegationCreated
)

func (s DelegationStatus) String() string {
	switch s {
	case DelegationNotStarted:
		return "not_started"
	case DelegationCreated:
		return "created"
	default:
		return "unknown"
	}
}

// Valid reports whether the status value is within the supported range.
func (s DelegationStatus) Valid() bool {
	return s == DelegationNotStarted || s == DelegationCreated
}

// Phase is the lifecycle window derived from the clock and aggregate state.
type Phase uint8

const (
	// PhaseOpen accepts deposits.
	PhaseOpen Phase = iota
	// PhaseFailed expired below the goal; depositors withdraw.
	PhaseFailed
	// PhaseSucceeded reached the goal, before or after the deadline; funds
	// may be delegated.
	PhaseSucceeded
	// PhaseDelegated is terminal: the DAO was created and funds released.
	PhaseDelegated
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseFailed:
		return "failed"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseDelegated:
		return "delegated"
	default:
		return "unknown"
	}
}

// Deposit is one depositor's running balance.
type Deposit struct {
	Account [20]byte
	Amount  *uint256.Int
}

// PendingDelegation records the latest delegation attempt until its joined
// callback reconciles it.
type PendingDelegation struct {
	ID          uuid.UUID
	Name        string
	Reserve     *uint256.Int
	DAOAmount   *uint256.Int
	Attempt     uint64
	RequestedAt int64
}

// Clone returns a deep copy of the pending record.
func (p *PendingDelegation) Clone() *PendingDelegation {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Reserve = cloneAmount(p.Reserve)
	clone.DAOAmount = cloneAmount(p.DAOAmount)
	return &clone
}

// State is the persisted escrow record. Deposits keep insertion order; the
// order is the DAO membership roster handed to the factory.
type State struct {
	Deposits         []Deposit
	TotalFunds       *uint256.Int
	FundingLimit     *uint256.Int
	UnpaidHeadroom   *uint256.Int
	ExpiresAt        int64
	Self             [20]byte
	DAOFactory       [20]byte
	TokenFactory     [20]byte
	MetadataURL      string
	DelegationStatus DelegationStatus
	DAOName          string
	Pending          *PendingDelegation
	// Attempts counts delegation requests over the escrow lifetime.
	Attempts uint64
}

// Clone returns a deep copy of the state so callers can mutate it without
// touching the stored instance.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Deposits = make([]Deposit, len(s.Deposits))
	for i, d := range s.Deposits {
		clone.Deposits[i] = Deposit{Account: d.Account, Amount: cloneAmount(d.Amount)}
	}
	clone.TotalFunds = cloneAmount(s.TotalFunds)
	clone.FundingLimit = cloneAmount(s.FundingLimit)
	clone.UnpaidHeadroom = cloneAmount(s.UnpaidHeadroom)
	clone.Pending = s.Pending.Clone()
	return &clone
}

func (s *State) depositIndex(account [20]byte) int {
	for i := range s.Deposits {
		if s.Deposits[i].Account == account {
			return i
		}
	}
	return -1
}

// balanceOf returns the caller's balance, zero when absent.
func (s *State) balanceOf(account [20]byte) *uint256.Int {
	if idx := s.depositIndex(account); idx >= 0 {
		return cloneAmount(s.Deposits[idx].Amount)
	}
	return new(uint256.Int)
}

func (s *State) setBalance(account [20]byte, amount *uint256.Int) {
	if idx := s.depositIndex(account); idx >= 0 {
		s.Deposits[idx].Amount = cloneAmount(amount)
		return
	}
	s.Deposits = append(s.Deposits, Deposit{Account: account, Amount: cloneAmount(amount)})
}

// InitParams is the immutable configuration supplied when an escrow is
// created.
type InitParams struct {
	ExpiresAt    int64
	FundingLimit *uint256.Int
	Self         [20]byte
	DAOFactory   [20]byte
	TokenFactory [20]byte
	MetadataURL  string
}

// CallContext describes a single invocation. Attached is the payment that
// travelled with the call; for deposits it is the deposited amount.
type CallContext struct {
	Caller   [20]byte
	Attached *uint256.Int
}

// attached returns a non-nil copy of the attached amount.
func (c CallContext) attached() *uint256.Int { return cloneAmount(c.Attached) }

// NormalizeName trims surrounding whitespace from a DAO name.
func NormalizeName(name string) string { return strings.TrimSpace(name) }
