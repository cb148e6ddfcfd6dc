package state

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var balancePrefix = []byte("balance:")

func balanceKey(addr [20]byte) []byte {
	buf := make([]byte, len(balancePrefix)+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}

// Balance returns the native balance held by addr, zero for unknown accounts.
func (m *Manager) Balance(addr [20]byte) (*uint256.Int, error) {
	amount := new(uint256.Int)
	ok, err := m.KVGet(balanceKey(addr), amount)
	if err != nil {
		return nil, fmt.Errorf("state: load balance: %w", err)
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return amount, nil
}

// SetBalance overwrites the native balance of addr.
func (m *Manager) SetBalance(addr [20]byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		m.KVDelete(balanceKey(addr))
		return nil
	}
	return m.KVPut(balanceKey(addr), amount)
}
