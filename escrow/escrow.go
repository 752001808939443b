// Package escrow holds auction prizes and pays them out on settlement.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrAlreadyReleased = errors.New("round already released")
	ErrZeroWinner      = errors.New("winner address is zero")
	ErrNotReleased     = errors.New("round not released")
)

// Release is the record of one round's payout.
type Release struct {
	Round      uint64          `json:"round"`
	Winner     common.Address  `json:"winner"`
	Prize      decimal.Decimal `json:"prize"`
	WinningBid decimal.Decimal `json:"winning_bid"`
}

// Escrow keeps the prize pool, winner balances and what each winner owes for
// their winning bids. Unreleased funds stay in the pool and roll into the
// next round's prize.
type Escrow struct {
	mu          sync.Mutex
	pool        decimal.Decimal
	balances    map[common.Address]decimal.Decimal
	obligations map[common.Address]decimal.Decimal
	released    map[uint64]Release
	log         zerolog.Logger
}

// New returns an escrow funded with prize. A zero prize is allowed.
func New(prize decimal.Decimal, log zerolog.Logger) (*Escrow, error) {
	if prize.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, prize)
	}
	return &Escrow{
		pool:        prize,
		balances:    make(map[common.Address]decimal.Decimal),
		obligations: make(map[common.Address]decimal.Decimal),
		released:    make(map[uint64]Release),
		log:         log.With().Str("component", "escrow").Logger(),
	}, nil
}

// Fund adds amount to the prize pool.
func (e *Escrow) Fund(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.pool = e.pool.Add(amount)
	e.log.Info().Str("amount", amount.String()).Str("pool", e.pool.String()).Msg("prize pool funded")
	return nil
}

// Release moves the whole pool to winner and books winningBid as the winner's
// obligation. A round can be released once.
func (e *Escrow) Release(ctx context.Context, round uint64, winner common.Address, winningBid decimal.Decimal) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	if winner == (common.Address{}) {
		return decimal.Zero, ErrZeroWinner
	}
	if winningBid.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: winning bid %s", ErrInvalidAmount, winningBid)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.released[round]; ok {
		return decimal.Zero, fmt.Errorf("%w: %d", ErrAlreadyReleased, round)
	}

	prize := e.pool
	e.pool = decimal.Zero
	e.balances[winner] = e.balances[winner].Add(prize)
	e.obligations[winner] = e.obligations[winner].Add(winningBid)
	e.released[round] = Release{Round: round, Winner: winner, Prize: prize, WinningBid: winningBid}

	e.log.Info().
		Uint64("round", round).
		Str("winner", winner.Hex()).
		Str("prize", prize.String()).
		Str("winning_bid", winningBid.String()).
		Msg("prize released")
	return prize, nil
}

// Pool returns the prize the next release would pay.
func (e *Escrow) Pool() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool
}

// Balance returns the prizes paid to addr.
func (e *Escrow) Balance(addr common.Address) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances[addr]
}

// Obligation returns the sum of addr's winning bids.
func (e *Escrow) Obligation(addr common.Address) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.obligations[addr]
}

// Released returns the payout for round, if any.
func (e *Escrow) Released(round uint64) (Release, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.released[round]
	return r, ok
}

// Lookup returns the payout for round, or ErrNotReleased.
func (e *Escrow) Lookup(round uint64) (Release, error) {
	r, ok := e.Released(round)
	if !ok {
		return Release{}, fmt.Errorf("%w: %d", ErrNotReleased, round)
	}
	return r, nil
}
