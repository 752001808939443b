package auction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/cipherbid/core"
)

// pendingClaim is an outstanding decryption of the round's highest bid.
type pendingClaim struct {
	RequestID   string         `json:"request_id"`
	RequestedAt time.Time      `json:"requested_at"`
	RequestedBy common.Address `json:"requested_by"`
}

// claimState is the round's claim progress. claimed is true exactly when
// settlement is set.
type claimState struct {
	pending    *pendingClaim
	settlement *core.Settlement
}

func (c *claimState) claimed() bool {
	return c.settlement != nil
}

func (c *claimState) reset() {
	c.pending = nil
	c.settlement = nil
}

// ClaimResult reports the outcome of a claim attempt.
type ClaimResult struct {
	Settlement *core.Settlement `json:"settlement,omitempty"`
	RequestID  string           `json:"request_id,omitempty"`
}

// Claim settles the ended round. The first call requests decryption of the highest
// bid; if the co-processor has not answered yet the returned error wraps
// core.ErrDecryptionPending and a later Claim or DeliverDecryption completes it.
func (a *Auction) Claim(ctx context.Context, caller common.Address) (*ClaimResult, error) {
	var events []Event
	a.mu.Lock()
	defer func() {
		a.mu.Unlock()
		a.publish(events)
	}()

	now := a.clock.Now()
	if !a.state.isEnded(now) {
		return nil, core.ErrAuctionStillActive
	}
	if a.claim.claimed() {
		return nil, core.ErrAlreadyClaimed
	}

	if a.ledger.totalBids == 0 {
		events = append(events, a.endedEventLocked())
		settlement, settled, err := a.settleLocked(ctx, caller, common.Address{}, 0, now)
		if err != nil {
			return nil, err
		}
		events = append(events, settled)
		return &ClaimResult{Settlement: settlement}, nil
	}

	if a.claim.pending == nil {
		requestID, err := a.gateway.RequestDecryption(ctx, a.ledger.highest)
		if err != nil {
			return nil, fmt.Errorf("decryption request failed: %w", err)
		}
		a.claim.pending = &pendingClaim{RequestID: requestID, RequestedAt: now, RequestedBy: caller}
		a.recorder.ClaimRequested()
		a.log.Info().Uint64("round", a.round).Str("request_id", requestID).Str("caller", caller.Hex()).Msg("claim requested decryption")
		events = append(events,
			a.endedEventLocked(),
			ClaimRequested{Round: a.round, RequestID: requestID, RequestedBy: caller},
		)
	}

	requestID := a.claim.pending.RequestID
	result, err := a.gateway.DecryptionResult(ctx, requestID)
	if err != nil {
		if errors.Is(err, core.ErrDecryptionPending) {
			return &ClaimResult{RequestID: requestID}, fmt.Errorf("%w: request %s", core.ErrDecryptionPending, requestID)
		}
		return nil, fmt.Errorf("decryption result failed: %w", err)
	}

	settlement, settled, err := a.settleLocked(ctx, caller, result.Winner, result.Amount, now)
	if err != nil {
		return nil, err
	}
	events = append(events, settled)
	return &ClaimResult{Settlement: settlement, RequestID: requestID}, nil
}

// DeliverDecryption completes a pending claim when the co-processor calls back with
// a result. Only the request the current round is waiting on is accepted, and the
// result is read from the gateway rather than taken from the caller.
func (a *Auction) DeliverDecryption(ctx context.Context, requestID string) (*core.Settlement, error) {
	var events []Event
	a.mu.Lock()
	defer func() {
		a.mu.Unlock()
		a.publish(events)
	}()

	if a.claim.claimed() {
		return nil, core.ErrAlreadyClaimed
	}
	if a.claim.pending == nil || a.claim.pending.RequestID != requestID {
		return nil, fmt.Errorf("%w: %s is not pending for round %d", core.ErrUnknownDecryption, requestID, a.round)
	}

	result, err := a.gateway.DecryptionResult(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("decryption result failed: %w", err)
	}

	settlement, settled, err := a.settleLocked(ctx, a.claim.pending.RequestedBy, result.Winner, result.Amount, a.clock.Now())
	if err != nil {
		return nil, err
	}
	events = append(events, settled)
	return settlement, nil
}

// settleLocked releases the prize and marks the round claimed. A treasury failure
// leaves the round unclaimed so the claim can be retried.
func (a *Auction) settleLocked(ctx context.Context, caller, winner common.Address, amount uint32, now time.Time) (*core.Settlement, Event, error) {
	settlement := &core.Settlement{
		Round:      a.round,
		Winner:     winner,
		WinningBid: core.UnscaleAmount(amount),
		Prize:      decimal.Zero,
		ClaimedBy:  caller,
		SettledAt:  now,
	}
	if a.claim.pending != nil {
		settlement.RequestID = a.claim.pending.RequestID
	}

	if winner == (common.Address{}) {
		settlement.NoWinner = true
	} else if a.treasury != nil {
		prize, err := a.treasury.Release(ctx, a.round, winner, settlement.WinningBid)
		if err != nil {
			return nil, nil, fmt.Errorf("prize release failed: %w", err)
		}
		settlement.Prize = prize
	}

	a.claim.settlement = settlement
	a.recorder.ClaimSettled(settlement.NoWinner)
	a.log.Info().
		Uint64("round", a.round).
		Str("winner", winner.Hex()).
		Str("winning_bid", settlement.WinningBid.String()).
		Str("prize", settlement.Prize.String()).
		Bool("no_winner", settlement.NoWinner).
		Msg("round settled")

	out := *settlement
	return &out, ClaimSettled{
		Round:      settlement.Round,
		Winner:     settlement.Winner,
		WinningBid: settlement.WinningBid,
		Prize:      settlement.Prize,
		NoWinner:   settlement.NoWinner,
	}, nil
}

func (a *Auction) endedEventLocked() Event {
	return AuctionEnded{Round: a.round, EndTime: a.state.endTime, TotalBids: a.ledger.totalBids}
}
