package auction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/cipherbid/core"
	"github.com/cloudx-io/cipherbid/gateway"
)

type eventLog struct {
	topics  []string
	bids    []BidAccepted
	ended   []AuctionEnded
	settled []ClaimSettled
	rounds  []RoundStarted
}

func subscribeAll(t *testing.T, a *Auction) *eventLog {
	t.Helper()
	log := &eventLog{}
	assert.NoError(t, a.Subscribe(TopicBidAccepted, func(e BidAccepted) {
		log.topics = append(log.topics, e.Topic())
		log.bids = append(log.bids, e)
	}))
	assert.NoError(t, a.Subscribe(TopicAuctionEnded, func(e AuctionEnded) {
		log.topics = append(log.topics, e.Topic())
		log.ended = append(log.ended, e)
	}))
	assert.NoError(t, a.Subscribe(TopicClaimRequested, func(e ClaimRequested) {
		log.topics = append(log.topics, e.Topic())
	}))
	assert.NoError(t, a.Subscribe(TopicClaimSettled, func(e ClaimSettled) {
		log.topics = append(log.topics, e.Topic())
		log.settled = append(log.settled, e)
	}))
	assert.NoError(t, a.Subscribe(TopicRoundStarted, func(e RoundStarted) {
		log.topics = append(log.topics, e.Topic())
		log.rounds = append(log.rounds, e)
	}))
	return log
}

func TestEvents_RoundLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, []gateway.MemoryOption{gateway.WithAutoResolve()})
	log := subscribeAll(t, f.auction)

	_, err := f.bid(t, alice, 100)
	assert.NoError(t, err)
	_, err = f.bid(t, bob, 250)
	assert.NoError(t, err)
	f.clock.Advance(time.Hour)
	_, err = f.auction.Claim(ctx, bob)
	assert.NoError(t, err)
	_, err = f.auction.StartNewRound(ctx, owner, 5)
	assert.NoError(t, err)

	check.Equal(t, []string{
		TopicBidAccepted,
		TopicBidAccepted,
		TopicAuctionEnded,
		TopicClaimRequested,
		TopicClaimSettled,
		TopicRoundStarted,
	}, log.topics)

	assert.Equal(t, 2, len(log.bids))
	check.Equal(t, alice, log.bids[0].Bidder)
	check.Equal(t, uint64(2), log.bids[1].Sequence)
	check.Equal(t, uint64(2), log.ended[0].TotalBids)
	check.Equal(t, bob, log.settled[0].Winner)
	check.Equal(t, uint64(2), log.rounds[0].Round)
}

func TestEvents_EndedOnRestartWithoutClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, nil)
	log := subscribeAll(t, f.auction)

	f.clock.Advance(2 * time.Hour)
	_, err := f.auction.StartNewRound(ctx, owner, 5)
	assert.NoError(t, err)

	check.Equal(t, []string{TopicAuctionEnded, TopicRoundStarted}, log.topics)
	check.Equal(t, uint64(1), log.ended[0].Round)
}

func TestEvents_NotPublishedOnRejection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, nil)
	log := subscribeAll(t, f.auction)

	in, err := f.memory.Encrypt(ctx, 100, 0, alice)
	assert.NoError(t, err)
	_, err = f.auction.Bid(ctx, bob, in)
	check.True(t, errors.Is(err, core.ErrInvalidCiphertext))

	_, err = f.auction.StartNewRound(ctx, alice, 5)
	check.True(t, errors.Is(err, core.ErrNotOwner))
	check.Equal(t, 0, len(log.topics))
}

func TestEvents_HandlerMayReadAuction(t *testing.T) {
	f := newFixture(t, 1, nil)

	var seen uint64
	assert.NoError(t, f.auction.Subscribe(TopicBidAccepted, func(BidAccepted) {
		seen = f.auction.TotalBids()
	}))
	_, err := f.bid(t, alice, 100)
	assert.NoError(t, err)
	check.Equal(t, uint64(1), seen)
}

func TestEvents_AsyncHandlerCanDeliver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, nil)

	assert.NoError(t, f.auction.SubscribeAsync(TopicClaimRequested, func(e ClaimRequested) {
		if _, err := f.memory.Resolve(e.RequestID); err != nil {
			return
		}
		_, _ = f.auction.DeliverDecryption(ctx, e.RequestID)
	}))

	_, err := f.bid(t, carol, 40)
	assert.NoError(t, err)
	f.clock.Advance(time.Hour)

	_, err = f.auction.Claim(ctx, carol)
	check.True(t, errors.Is(err, core.ErrDecryptionPending))

	f.auction.WaitAsync()
	check.True(t, f.auction.Claimed())
	check.Equal(t, carol, f.auction.Settlement().Winner)
}
