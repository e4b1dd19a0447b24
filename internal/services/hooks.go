package services

import (
	"context"
)

// PoolHooks is the host pool's post-operation callback surface. A pool engine
// that embeds the escrow ledger may dispatch these after a swap or after a
// liquidity addition. Wiring them must go through the public escrow
// operations; nothing here may touch lock records directly.
type PoolHooks interface {
	AfterSwap(ctx context.Context, pool string) error
	AfterAddLiquidity(ctx context.Context, pool string) error
}

// AfterSwap is a pass-through stub. No escrow behavior is attached to the
// host pool's swap lifecycle.
func (s *EscrowService) AfterSwap(ctx context.Context, pool string) error {
	return nil
}

// AfterAddLiquidity is a pass-through stub, same as AfterSwap.
func (s *EscrowService) AfterAddLiquidity(ctx context.Context, pool string) error {
	return nil
}

var _ PoolHooks = (*EscrowService)(nil)
