package bank

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"poolescrow/core/events"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrInvalidDestination  = errors.New("bank: invalid destination")
	ErrBalanceOverflow     = errors.New("bank: balance overflow")
)

type balanceStore interface {
	Balance(addr [20]byte) (*uint256.Int, error)
	SetBalance(addr [20]byte, amount *uint256.Int) error
}

// Bank moves native currency between accounts held in a balance store. It
// validates the whole movement before writing either side, so a failed
// transfer leaves both balances unchanged.
type Bank struct {
	store   balanceStore
	emitter events.Emitter
}

// New constructs a bank over store with a no-op emitter.
func New(store balanceStore) *Bank {
	return &Bank{store: store, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (b *Bank) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		b.emitter = events.NoopEmitter{}
		return
	}
	b.emitter = emitter
}

// BalanceOf returns the native balance of addr.
func (b *Bank) BalanceOf(addr [20]byte) (*uint256.Int, error) {
	if b == nil || b.store == nil {
		return nil, fmt.Errorf("bank: store not configured")
	}
	return b.store.Balance(addr)
}

// Transfer moves amount from one account to another. Zero amounts are a no-op.
func (b *Bank) Transfer(ctx context.Context, from, to [20]byte, amount *uint256.Int) error {
	return b.transfer(from, to, amount, "transfer")
}

// TransferWithMemo behaves like Transfer and tags the emitted event.
func (b *Bank) TransferWithMemo(ctx context.Context, from, to [20]byte, amount *uint256.Int, memo string) error {
	return b.transfer(from, to, amount, memo)
}

func (b *Bank) transfer(from, to [20]byte, amount *uint256.Int, memo string) error {
	if b == nil || b.store == nil {
		return fmt.Errorf("bank: store not configured")
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	if to == ([20]byte{}) {
		return ErrInvalidDestination
	}
	if from == to {
		return nil
	}
	fromBal, err := b.store.Balance(from)
	if err != nil {
		return err
	}
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal.Dec(), amount.Dec())
	}
	toBal, err := b.store.Balance(to)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(toBal, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	debited := new(uint256.Int).Sub(fromBal, amount)
	if err := b.store.SetBalance(from, debited); err != nil {
		return err
	}
	if err := b.store.SetBalance(to, credited); err != nil {
		return err
	}
	b.emitter.Emit(events.Transfer{From: from, To: to, Amount: new(uint256.Int).Set(amount), Memo: memo})
	return nil
}

// Credit mints amount into addr. It is used to fund accounts at genesis and in
// local deployments.
func (b *Bank) Credit(ctx context.Context, addr [20]byte, amount *uint256.Int) error {
	if b == nil || b.store == nil {
		return fmt.Errorf("bank: store not configured")
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	bal, err := b.store.Balance(addr)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	return b.store.SetBalance(addr, next)
}
