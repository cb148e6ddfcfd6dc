package rpc

import (
	"context"

	"github.com/holiman/uint256"

	"poolescrow/core/runtime"
	"poolescrow/native/escrow"
)

// LockedReader serves engine queries under the runtime's writer lock so
// readers never observe a half-applied invocation.
type LockedReader struct {
	rt     *runtime.Runtime
	engine *escrow.Engine
}

func NewLockedReader(rt *runtime.Runtime, engine *escrow.Engine) *LockedReader {
	return &LockedReader{rt: rt, engine: engine}
}

func (l *LockedReader) Snapshot(ctx context.Context) (snap *escrow.Snapshot, err error) {
	err = l.rt.Read(ctx, func(ctx context.Context) error {
		snap, err = l.engine.Snapshot(ctx)
		return err
	})
	return snap, err
}

func (l *LockedReader) DepositsOf(ctx context.Context, payee [20]byte) (amount *uint256.Int, err error) {
	err = l.rt.Read(ctx, func(ctx context.Context) error {
		amount, err = l.engine.DepositsOf(ctx, payee)
		return err
	})
	return amount, err
}

func (l *LockedReader) SharesOf(ctx context.Context, payee [20]byte) (shares *uint256.Int, err error) {
	err = l.rt.Read(ctx, func(ctx context.Context) error {
		shares, err = l.engine.SharesOf(ctx, payee)
		return err
	})
	return shares, err
}
