package auction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/peterldowns/testy/assert"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/cipherbid/core"
	"github.com/cloudx-io/cipherbid/gateway"
)

var (
	owner = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyGateway wraps a real co-processor and fails selected calls.
type flakyGateway struct {
	Gateway
	failSelect  bool
	failRequest bool
	failZero    bool
}

var errGatewayDown = errors.New("gateway down")

func (g *flakyGateway) SelectMax(ctx context.Context, current core.EncryptedMax, bid core.Handle, bidder common.Address) (core.EncryptedMax, error) {
	if g.failSelect {
		return core.EncryptedMax{}, errGatewayDown
	}
	return g.Gateway.SelectMax(ctx, current, bid, bidder)
}

func (g *flakyGateway) RequestDecryption(ctx context.Context, max core.EncryptedMax) (string, error) {
	if g.failRequest {
		return "", errGatewayDown
	}
	return g.Gateway.RequestDecryption(ctx, max)
}

func (g *flakyGateway) TrivialEncryptZero(ctx context.Context, zone core.SecurityZone) (core.EncryptedMax, error) {
	if g.failZero {
		return core.EncryptedMax{}, errGatewayDown
	}
	return g.Gateway.TrivialEncryptZero(ctx, zone)
}

type release struct {
	round  uint64
	winner common.Address
	bid    decimal.Decimal
}

type fakeTreasury struct {
	prize    decimal.Decimal
	fail     error
	released []release
}

func (t *fakeTreasury) Release(_ context.Context, round uint64, winner common.Address, winningBid decimal.Decimal) (decimal.Decimal, error) {
	if t.fail != nil {
		return decimal.Zero, t.fail
	}
	for _, r := range t.released {
		if r.round == round {
			return decimal.Zero, errors.New("already released")
		}
	}
	t.released = append(t.released, release{round: round, winner: winner, bid: winningBid})
	return t.prize, nil
}

type fakeArchive struct {
	fail    error
	records []core.RoundRecord
}

func (a *fakeArchive) ArchiveRound(_ context.Context, record core.RoundRecord) error {
	if a.fail != nil {
		return a.fail
	}
	a.records = append(a.records, record)
	return nil
}

type fakeRecorder struct {
	accepted int
	rejected map[string]int
	requests int
	settled  int
	rounds   []uint64
}

func (r *fakeRecorder) BidAccepted() { r.accepted++ }
func (r *fakeRecorder) BidRejected(reason string) {
	if r.rejected == nil {
		r.rejected = make(map[string]int)
	}
	r.rejected[reason]++
}
func (r *fakeRecorder) ClaimRequested()           { r.requests++ }
func (r *fakeRecorder) ClaimSettled(bool)         { r.settled++ }
func (r *fakeRecorder) RoundStarted(round uint64) { r.rounds = append(r.rounds, round) }

type fixture struct {
	auction  *Auction
	memory   *gateway.Memory
	clock    *fakeClock
	treasury *fakeTreasury
	archive  *fakeArchive
	recorder *fakeRecorder
}

func newFixture(t *testing.T, hours int64, memOpts []gateway.MemoryOption, opts ...Option) *fixture {
	t.Helper()
	key, err := gateway.GenerateSigningKey()
	assert.NoError(t, err)
	mem, err := gateway.NewMemory(key, 11155111, memOpts...)
	assert.NoError(t, err)

	f := &fixture{
		memory:   mem,
		clock:    newFakeClock(),
		treasury: &fakeTreasury{prize: decimal.NewFromInt(10)},
		archive:  &fakeArchive{},
		recorder: &fakeRecorder{},
	}
	base := []Option{
		WithClock(f.clock),
		WithTreasury(f.treasury),
		WithArchive(f.archive),
		WithRecorder(f.recorder),
	}
	f.auction, err = New(context.Background(), owner, hours, mem, append(base, opts...)...)
	assert.NoError(t, err)
	return f
}

func (f *fixture) bid(t *testing.T, bidder common.Address, value uint32) (*BidReceipt, error) {
	t.Helper()
	ctx := context.Background()
	in, err := f.memory.Encrypt(ctx, value, 0, bidder)
	assert.NoError(t, err)
	return f.auction.Bid(ctx, bidder, in)
}
