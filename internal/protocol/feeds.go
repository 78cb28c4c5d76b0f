package protocol

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// StaticFeed is a manually pushed price feed.
type StaticFeed struct {
	address   common.Address
	decimals  uint32
	answer    sdkmath.Int
	updatedAt time.Time
}

func NewStaticFeed(address common.Address, decimals uint32, answer sdkmath.Int, updatedAt time.Time) *StaticFeed {
	return &StaticFeed{address: address, decimals: decimals, answer: answer, updatedAt: updatedAt}
}

func (f *StaticFeed) Address() common.Address { return f.address }
func (f *StaticFeed) Decimals() uint32        { return f.decimals }

func (f *StaticFeed) LatestRoundData() (sdkmath.Int, time.Time, error) {
	if f.answer.IsNil() {
		return sdkmath.ZeroInt(), time.Time{}, fmt.Errorf("feed %s has no answer", f.address.Hex())
	}
	return f.answer, f.updatedAt, nil
}

// Push records a new round.
func (f *StaticFeed) Push(answer sdkmath.Int, at time.Time) {
	f.answer, f.updatedAt = answer, at
}

type feedSnapshot struct {
	answer    sdkmath.Int
	updatedAt time.Time
}

func (f *StaticFeed) Snapshot() any { return feedSnapshot{answer: f.answer, updatedAt: f.updatedAt} }

func (f *StaticFeed) Restore(snapshot any) {
	s := snapshot.(feedSnapshot)
	f.answer, f.updatedAt = s.answer, s.updatedAt
}

// WrappedRate reports the redemption rate of a wrapped token.
type WrappedRate struct {
	address common.Address
	rate    sdkmath.LegacyDec
}

func NewWrappedRate(address common.Address, rate sdkmath.LegacyDec) *WrappedRate {
	return &WrappedRate{address: address, rate: rate}
}

func (w *WrappedRate) Address() common.Address          { return w.address }
func (w *WrappedRate) Rate() (sdkmath.LegacyDec, error) { return w.rate, nil }
func (w *WrappedRate) SetRate(rate sdkmath.LegacyDec)   { w.rate = rate }
func (w *WrappedRate) Snapshot() any                    { return w.rate }
func (w *WrappedRate) Restore(snapshot any)             { w.rate = snapshot.(sdkmath.LegacyDec) }

// AMMPool exposes a stableswap style virtual price and the pool's own reentrancy lock.
type AMMPool struct {
	address      common.Address
	virtualPrice sdkmath.LegacyDec
	locked       bool
}

func NewAMMPool(address common.Address, virtualPrice sdkmath.LegacyDec) *AMMPool {
	return &AMMPool{address: address, virtualPrice: virtualPrice}
}

func (p *AMMPool) Address() common.Address { return p.address }

func (p *AMMPool) VirtualPrice() (sdkmath.LegacyDec, error) { return p.virtualPrice, nil }

func (p *AMMPool) SetVirtualPrice(vp sdkmath.LegacyDec) { p.virtualPrice = vp }

func (p *AMMPool) ReentrancyLocked() bool { return p.locked }

// WithLock runs fn while the pool reports itself mid call, as during a liquidity callback.
func (p *AMMPool) WithLock(fn func()) {
	p.locked = true
	defer func() { p.locked = false }()
	fn()
}

type poolSnapshot struct {
	virtualPrice sdkmath.LegacyDec
	locked       bool
}

func (p *AMMPool) Snapshot() any { return poolSnapshot{virtualPrice: p.virtualPrice, locked: p.locked} }

func (p *AMMPool) Restore(snapshot any) {
	s := snapshot.(poolSnapshot)
	p.virtualPrice, p.locked = s.virtualPrice, s.locked
}
