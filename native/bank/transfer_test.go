package bank

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"poolescrow/core/events"
	"poolescrow/core/state"
	"poolescrow/storage"
)

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func newTestBank(t *testing.T) (*Bank, *events.Recorder) {
	t.Helper()
	b := New(state.NewManager(storage.NewMemDB()))
	rec := &events.Recorder{}
	b.SetEmitter(rec)
	return b, rec
}

func balance(t *testing.T, b *Bank, addr [20]byte) uint64 {
	t.Helper()
	bal, err := b.BalanceOf(addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal.Uint64()
}

func TestTransferMovesFunds(t *testing.T) {
	ctx := context.Background()
	b, rec := newTestBank(t)
	alice, bob := newTestAddress(0x01), newTestAddress(0x02)
	if err := b.Credit(ctx, alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := b.Transfer(ctx, alice, bob, uint256.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := balance(t, b, alice); got != 60 {
		t.Fatalf("alice balance = %d, want 60", got)
	}
	if got := balance(t, b, bob); got != 40 {
		t.Fatalf("bob balance = %d, want 40", got)
	}
	if len(rec.Events) != 1 || rec.Events[0].EventType() != events.TypeTransfer {
		t.Fatalf("expected one transfer event, got %v", rec.Types())
	}
}

func TestTransferInsufficientBalanceLeavesState(t *testing.T) {
	ctx := context.Background()
	b, rec := newTestBank(t)
	alice, bob := newTestAddress(0x01), newTestAddress(0x02)
	if err := b.Credit(ctx, alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	err := b.Transfer(ctx, alice, bob, uint256.NewInt(11))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := balance(t, b, alice); got != 10 {
		t.Fatalf("alice balance changed to %d", got)
	}
	if got := balance(t, b, bob); got != 0 {
		t.Fatalf("bob balance changed to %d", got)
	}
	if len(rec.Events) != 0 {
		t.Fatalf("unexpected events %v", rec.Types())
	}
}

func TestTransferZeroIsNoop(t *testing.T) {
	b, rec := newTestBank(t)
	if err := b.Transfer(context.Background(), newTestAddress(0x01), newTestAddress(0x02), new(uint256.Int)); err != nil {
		t.Fatalf("zero transfer: %v", err)
	}
	if len(rec.Events) != 0 {
		t.Fatalf("zero transfer emitted %v", rec.Types())
	}
}

func TestTransferRejectsEmptyDestination(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBank(t)
	alice := newTestAddress(0x01)
	if err := b.Credit(ctx, alice, uint256.NewInt(5)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := b.Transfer(ctx, alice, [20]byte{}, uint256.NewInt(1)); !errors.Is(err, ErrInvalidDestination) {
		t.Fatalf("expected ErrInvalidDestination, got %v", err)
	}
}
