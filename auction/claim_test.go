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

func TestClaim_BeforeEnd(t *testing.T) {
	f := newFixture(t, 1, []gateway.MemoryOption{gateway.WithAutoResolve()})
	_, err := f.bid(t, alice, 100)
	assert.NoError(t, err)

	_, err = f.auction.Claim(context.Background(), alice)
	check.True(t, errors.Is(err, core.ErrAuctionStillActive))
	check.False(t, f.auction.Claimed())
	check.Equal(t, 0, f.recorder.requests)
}

func TestClaim_Twice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, []gateway.MemoryOption{gateway.WithAutoResolve()})
	_, err := f.bid(t, alice, 100)
	assert.NoError(t, err)
	f.clock.Advance(time.Hour)

	_, err = f.auction.Claim(ctx, alice)
	assert.NoError(t, err)

	_, err = f.auction.Claim(ctx, bob)
	check.True(t, errors.Is(err, core.ErrAlreadyClaimed))
	check.Equal(t, 1, len(f.treasury.released))
	check.Equal(t, 1, f.recorder.settled)
}

func TestClaim_NoBids(t *testing.T) {
	f := newFixture(t, 1, nil)
	f.clock.Advance(time.Hour)

	result, err := f.auction.Claim(context.Background(), alice)
	assert.NoError(t, err)
	check.True(t, result.Settlement.NoWinner)
	check.True(t, result.Settlement.WinningBid.IsZero())
	check.True(t, f.auction.Claimed())
	check.Equal(t, 0, len(f.treasury.released))
	check.Equal(t, 0, f.recorder.requests)
}

func TestClaim_AllZeroBids(t *testing.T) {
	f := newFixture(t, 1, []gateway.MemoryOption{gateway.WithAutoResolve()})
	_, err := f.bid(t, alice, 0)
	assert.NoError(t, err)
	f.clock.Advance(time.Hour)

	result, err := f.auction.Claim(context.Background(), alice)
	assert.NoError(t, err)
	check.True(t, result.Settlement.NoWinner)
	check.Equal(t, 0, len(f.treasury.released))
}

func TestClaim_PendingThenDelivered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, nil)
	_, err := f.bid(t, alice, 100)
	assert.NoError(t, err)
	_, err = f.bid(t, bob, 250)
	assert.NoError(t, err)
	f.clock.Advance(time.Hour)

	result, err := f.auction.Claim(ctx, carol)
	check.True(t, errors.Is(err, core.ErrDecryptionPending))
	assert.NotNil(t, result)
	check.False(t, f.auction.Claimed())

	id, ok := f.auction.PendingDecryption()
	check.True(t, ok)
	check.Equal(t, result.RequestID, id)

	// A second attempt reuses the outstanding request.
	_, err = f.auction.Claim(ctx, carol)
	check.True(t, errors.Is(err, core.ErrDecryptionPending))
	check.Equal(t, []string{id}, f.memory.Pending())
	check.Equal(t, 1, f.recorder.requests)

	_, err = f.memory.Resolve(id)
	assert.NoError(t, err)

	settlement, err := f.auction.DeliverDecryption(ctx, id)
	assert.NoError(t, err)
	check.Equal(t, bob, settlement.Winner)
	check.Equal(t, carol, settlement.ClaimedBy)
	check.True(t, f.auction.Claimed())

	_, err = f.auction.DeliverDecryption(ctx, id)
	check.True(t, errors.Is(err, core.ErrAlreadyClaimed))
}

func TestClaim_PendingThenClaimAgain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, nil)
	_, err := f.bid(t, alice, 300)
	assert.NoError(t, err)
	f.clock.Advance(time.Hour)

	result, err := f.auction.Claim(ctx, alice)
	check.True(t, errors.Is(err, core.ErrDecryptionPending))
	_, err = f.memory.Resolve(result.RequestID)
	assert.NoError(t, err)

	result, err = f.auction.Claim(ctx, alice)
	assert.NoError(t, err)
	check.Equal(t, alice, result.Settlement.Winner)
	check.Equal(t, result.RequestID, result.Settlement.RequestID)
}

func TestDeliverDecryption_Unknown(t *testing.T) {
	f := newFixture(t, 1, nil)

	_, err := f.auction.DeliverDecryption(context.Background(), "not-a-request")
	check.True(t, errors.Is(err, core.ErrUnknownDecryption))
}

func TestDeliverDecryption_StaleAfterNewRound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, nil)
	_, err := f.bid(t, alice, 100)
	assert.NoError(t, err)
	f.clock.Advance(time.Hour)

	result, err := f.auction.Claim(ctx, alice)
	check.True(t, errors.Is(err, core.ErrDecryptionPending))

	_, err = f.auction.StartNewRound(ctx, owner, 10)
	assert.NoError(t, err)
	_, err = f.memory.Resolve(result.RequestID)
	assert.NoError(t, err)

	_, err = f.auction.DeliverDecryption(ctx, result.RequestID)
	check.True(t, errors.Is(err, core.ErrUnknownDecryption))
	check.False(t, f.auction.Claimed())
	check.Equal(t, 0, len(f.treasury.released))
}

func TestClaim_TreasuryFailureAllowsRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, []gateway.MemoryOption{gateway.WithAutoResolve()})
	_, err := f.bid(t, alice, 100)
	assert.NoError(t, err)
	f.clock.Advance(time.Hour)

	f.treasury.fail = errors.New("escrow empty")
	_, err = f.auction.Claim(ctx, alice)
	check.Error(t, err)
	check.False(t, f.auction.Claimed())

	f.treasury.fail = nil
	result, err := f.auction.Claim(ctx, alice)
	assert.NoError(t, err)
	check.Equal(t, alice, result.Settlement.Winner)
}

func TestClaim_RequestFailure(t *testing.T) {
	ctx := context.Background()
	key, err := gateway.GenerateSigningKey()
	assert.NoError(t, err)
	mem, err := gateway.NewMemory(key, 1)
	assert.NoError(t, err)
	flaky := &flakyGateway{Gateway: mem, failRequest: true}
	clock := newFakeClock()

	a, err := New(ctx, owner, 1, flaky, WithClock(clock))
	assert.NoError(t, err)
	in, err := mem.Encrypt(ctx, 100, 0, alice)
	assert.NoError(t, err)
	_, err = a.Bid(ctx, alice, in)
	assert.NoError(t, err)
	clock.Advance(time.Hour)

	_, err = a.Claim(ctx, alice)
	check.True(t, errors.Is(err, errGatewayDown))
	_, ok := a.PendingDecryption()
	check.False(t, ok)
}
