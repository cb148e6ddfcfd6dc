package state

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"poolescrow/native/escrow"
)

var escrowStateKey = []byte("escrow/state")

type storedDeposit struct {
	Account [20]byte
	Amount  *uint256.Int
}

type storedPending struct {
	ID          [16]byte
	Name        string
	Reserve     *uint256.Int
	DAOAmount   *uint256.Int
	Attempt     uint64
	RequestedAt uint64
}

type storedEscrow struct {
	Deposits         []storedDeposit
	TotalFunds       *uint256.Int
	FundingLimit     *uint256.Int
	UnpaidHeadroom   *uint256.Int
	ExpiresAt        uint64
	Self             [20]byte
	DAOFactory       [20]byte
	TokenFactory     [20]byte
	MetadataURL      string
	DelegationStatus uint8
	DAOName          string
	Attempts         uint64
	Pending          *storedPending `rlp:"nil"`
}

// EscrowGet loads the escrow record. The boolean is false before the escrow
// has been initialised.
func (m *Manager) EscrowGet() (*escrow.State, bool, error) {
	var stored storedEscrow
	ok, err := m.KVGet(escrowStateKey, &stored)
	if err != nil {
		return nil, false, fmt.Errorf("state: decode escrow: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	status := escrow.DelegationStatus(stored.DelegationStatus)
	if !status.Valid() {
		return nil, false, fmt.Errorf("state: invalid delegation status %d", stored.DelegationStatus)
	}
	st := &escrow.State{
		Deposits:         make([]escrow.Deposit, 0, len(stored.Deposits)),
		TotalFunds:       orZero(stored.TotalFunds),
		FundingLimit:     orZero(stored.FundingLimit),
		UnpaidHeadroom:   orZero(stored.UnpaidHeadroom),
		ExpiresAt:        int64(stored.ExpiresAt),
		Self:             stored.Self,
		DAOFactory:       stored.DAOFactory,
		TokenFactory:     stored.TokenFactory,
		MetadataURL:      stored.MetadataURL,
		DelegationStatus: status,
		DAOName:          stored.DAOName,
		Attempts:         stored.Attempts,
	}
	for _, d := range stored.Deposits {
		st.Deposits = append(st.Deposits, escrow.Deposit{Account: d.Account, Amount: orZero(d.Amount)})
	}
	if p := stored.Pending; p != nil {
		st.Pending = &escrow.PendingDelegation{
			ID:          uuid.UUID(p.ID),
			Name:        p.Name,
			Reserve:     orZero(p.Reserve),
			DAOAmount:   orZero(p.DAOAmount),
			Attempt:     p.Attempt,
			RequestedAt: int64(p.RequestedAt),
		}
	}
	return st, true, nil
}

// EscrowPut persists the escrow record.
func (m *Manager) EscrowPut(st *escrow.State) error {
	if st == nil {
		return fmt.Errorf("state: nil escrow")
	}
	if st.ExpiresAt < 0 {
		return fmt.Errorf("state: negative expiration %d", st.ExpiresAt)
	}
	stored := storedEscrow{
		Deposits:         make([]storedDeposit, 0, len(st.Deposits)),
		TotalFunds:       orZero(st.TotalFunds),
		FundingLimit:     orZero(st.FundingLimit),
		UnpaidHeadroom:   orZero(st.UnpaidHeadroom),
		ExpiresAt:        uint64(st.ExpiresAt),
		Self:             st.Self,
		DAOFactory:       st.DAOFactory,
		TokenFactory:     st.TokenFactory,
		MetadataURL:      st.MetadataURL,
		DelegationStatus: uint8(st.DelegationStatus),
		DAOName:          st.DAOName,
		Attempts:         st.Attempts,
	}
	for _, d := range st.Deposits {
		stored.Deposits = append(stored.Deposits, storedDeposit{Account: d.Account, Amount: orZero(d.Amount)})
	}
	if p := st.Pending; p != nil {
		stored.Pending = &storedPending{
			ID:          [16]byte(p.ID),
			Name:        p.Name,
			Reserve:     orZero(p.Reserve),
			DAOAmount:   orZero(p.DAOAmount),
			Attempt:     p.Attempt,
			RequestedAt: uint64(p.RequestedAt),
		}
	}
	return m.KVPut(escrowStateKey, &stored)
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
