package auction

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cloudx-io/cipherbid/core"
)

// StartNewRound archives the current round and opens a fresh one lasting
// durationMinutes. Only the owner may call it. It is allowed whether or not the
// previous round ended or was claimed; every round-scoped field is reset, the
// claimed flag included.
func (a *Auction) StartNewRound(ctx context.Context, caller common.Address, durationMinutes int64) (uint64, error) {
	var events []Event
	a.mu.Lock()
	defer func() {
		a.mu.Unlock()
		a.publish(events)
	}()

	if err := a.guard.requireOwner(caller); err != nil {
		return 0, err
	}
	duration, err := durationOf(durationMinutes, time.Minute)
	if err != nil {
		return 0, err
	}

	zero, err := a.gateway.TrivialEncryptZero(ctx, a.zone)
	if err != nil {
		return 0, fmt.Errorf("initial encryption failed: %w", err)
	}

	now := a.clock.Now()
	if a.archive != nil {
		if err := a.archive.ArchiveRound(ctx, a.recordLocked(now)); err != nil {
			return 0, fmt.Errorf("round %d archive failed: %w", a.round, err)
		}
	}

	if a.state.isEnded(now) && a.claim.pending == nil && !a.claim.claimed() {
		events = append(events, a.endedEventLocked())
	}

	previous := a.round
	a.round++
	a.state.start(now, duration)
	a.ledger.reset(zero)
	a.claim.reset()
	a.recorder.RoundStarted(a.round)
	a.log.Info().
		Uint64("previous_round", previous).
		Uint64("round", a.round).
		Time("end_time", a.state.endTime).
		Msg("round started")

	events = append(events, a.roundStartedLocked())
	return a.round, nil
}

func (a *Auction) recordLocked(now time.Time) core.RoundRecord {
	record := core.RoundRecord{
		Round:      a.round,
		StartTime:  a.state.startTime,
		EndTime:    a.state.endTime,
		TotalBids:  a.ledger.totalBids,
		Bids:       a.ledger.snapshot(),
		HighestBid: a.ledger.highest,
		Claimed:    a.claim.claimed(),
		ArchivedAt: now,
	}
	if a.claim.settlement != nil {
		settlement := *a.claim.settlement
		record.Settlement = &settlement
	}
	return record
}

func (a *Auction) roundStartedLocked() Event {
	return RoundStarted{Round: a.round, StartTime: a.state.startTime, EndTime: a.state.endTime}
}
