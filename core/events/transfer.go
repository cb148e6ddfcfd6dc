package events

import (
	"github.com/holiman/uint256"

	"poolescrow/core/types"
	"poolescrow/crypto"
)

const (
	// TypeTransfer is emitted for native balance movements.
	TypeTransfer = "transfer.native"
)

// Transfer describes a native currency movement between two accounts.
type Transfer struct {
	From   [20]byte
	To     [20]byte
	Amount *uint256.Int
	// Memo names the operation that caused the transfer, e.g. "attached".
	Memo string
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{}
	attrs["from"] = crypto.AccountAddress(e.From).String()
	attrs["to"] = crypto.AccountAddress(e.To).String()
	attrs["amount"] = formatAmount(e.Amount)
	if e.Memo != "" {
		attrs["memo"] = e.Memo
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
