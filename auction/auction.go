// Package auction implements a sealed-bid auction over encrypted amounts. Bids are
// ciphertext handles; the running maximum and its bidder are maintained by an
// encryption co-processor, so the auction learns only the winning bid, and only
// after the round has ended and someone claims it.
package auction

import (
	"context"
	"fmt"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cloudx-io/cipherbid/core"
)

// Auction is a repeating sealed-bid auction. It is safe for concurrent use; every
// operation is applied atomically.
type Auction struct {
	mu sync.RWMutex

	guard    accessGuard
	zone     core.SecurityZone
	gateway  Gateway
	treasury Treasury
	archive  Archive
	recorder Recorder
	bus      evbus.Bus
	clock    Clock
	log      zerolog.Logger

	round  uint64
	state  auctionState
	ledger bidLedger
	claim  claimState
}

// Option configures an Auction.
type Option func(*Auction)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(a *Auction) { a.clock = c }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(a *Auction) { a.log = log.With().Str("component", "auction").Logger() }
}

// WithEventBus publishes events on bus instead of a private one.
func WithEventBus(bus evbus.Bus) Option {
	return func(a *Auction) { a.bus = bus }
}

// WithTreasury sets where prizes are paid from. Without one, settlement records the
// winner and pays nothing.
func WithTreasury(t Treasury) Option {
	return func(a *Auction) { a.treasury = t }
}

// WithArchive stores each round before StartNewRound resets it.
func WithArchive(ar Archive) Option {
	return func(a *Auction) { a.archive = ar }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(a *Auction) { a.recorder = r }
}

// WithFirstRound numbers the first round n instead of 1, so a service restarted
// over an existing archive continues its numbering. Values below 1 are ignored.
func WithFirstRound(n uint64) Option {
	return func(a *Auction) {
		if n >= 1 {
			a.round = n
		}
	}
}

// WithSecurityZone sets the zone every bid must be encrypted under. Default 0.
func WithSecurityZone(zone core.SecurityZone) Option {
	return func(a *Auction) { a.zone = zone }
}

// New starts the first round (1 unless WithFirstRound says otherwise), lasting durationHours from now, owned by owner.
func New(ctx context.Context, owner common.Address, durationHours int64, gw Gateway, opts ...Option) (*Auction, error) {
	duration, err := durationOf(durationHours, time.Hour)
	if err != nil {
		return nil, err
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway is required")
	}

	a := &Auction{
		round:    1,
		guard:    accessGuard{owner: owner},
		gateway:  gw,
		recorder: nopRecorder{},
		clock:    systemClock{},
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.bus == nil {
		a.bus = evbus.New()
	}

	zero, err := gw.TrivialEncryptZero(ctx, a.zone)
	if err != nil {
		return nil, fmt.Errorf("initial encryption failed: %w", err)
	}

	a.state.start(a.clock.Now(), duration)
	a.ledger.reset(zero)
	a.recorder.RoundStarted(a.round)
	a.log.Info().
		Str("owner", owner.Hex()).
		Uint64("round", a.round).
		Time("end_time", a.state.endTime).
		Msg("auction created")

	// No one can have subscribed yet, but the event is part of the round's history.
	a.publish([]Event{a.roundStartedLocked()})
	return a, nil
}

// BidReceipt identifies an accepted bid.
type BidReceipt struct {
	ID       uuid.UUID `json:"id"`
	Round    uint64    `json:"round"`
	Sequence uint64    `json:"sequence"`
}

// Bid submits an encrypted amount on behalf of sender. The input's proof, zone and
// the round's window are checked before anything changes; a rejected bid leaves
// the auction untouched.
func (a *Auction) Bid(ctx context.Context, sender common.Address, in core.EncryptedInput) (*BidReceipt, error) {
	var events []Event
	a.mu.Lock()
	defer func() {
		a.mu.Unlock()
		a.publish(events)
	}()

	if in.UType != core.UTypeUint32 {
		a.recorder.BidRejected("invalid_ciphertext")
		return nil, fmt.Errorf("%w: expected utype %d, got %d", core.ErrInvalidCiphertext, core.UTypeUint32, in.UType)
	}
	if err := a.gateway.VerifyInput(ctx, sender, in); err != nil {
		a.recorder.BidRejected("invalid_ciphertext")
		return nil, fmt.Errorf("input verification failed: %w", err)
	}
	if in.SecurityZone != a.zone {
		a.recorder.BidRejected("zone_mismatch")
		return nil, fmt.Errorf("%w: expected %d, got %d", core.ErrZoneMismatch, a.zone, in.SecurityZone)
	}

	now := a.clock.Now()
	if a.state.isEnded(now) {
		a.recorder.BidRejected("auction_not_active")
		return nil, core.ErrAuctionNotActive
	}

	// Computed for every bid so the result reveals nothing about the comparison.
	next, err := a.gateway.SelectMax(ctx, a.ledger.highest, in.Handle, sender)
	if err != nil {
		a.recorder.BidRejected("gateway_error")
		return nil, fmt.Errorf("select max failed: %w", err)
	}

	bid := a.ledger.record(sender, in, next, now)
	a.recorder.BidAccepted()
	a.log.Debug().
		Uint64("round", a.round).
		Uint64("sequence", bid.Sequence).
		Str("bidder", sender.Hex()).
		Str("ct_hash", in.Handle.Hex()).
		Msg("bid accepted")

	events = append(events, BidAccepted{
		Round:    a.round,
		Sequence: bid.Sequence,
		BidID:    bid.ID,
		Bidder:   sender,
		Handle:   bid.Handle,
		At:       now,
	})
	return &BidReceipt{ID: bid.ID, Round: a.round, Sequence: bid.Sequence}, nil
}

// Owner returns the address allowed to start new rounds.
func (a *Auction) Owner() common.Address {
	return a.guard.owner
}

// TotalBids returns the number of bids accepted this round.
func (a *Auction) TotalBids() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ledger.totalBids
}

// Claimed reports whether the current round has been settled.
func (a *Auction) Claimed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.claim.claimed()
}

// Ended reports whether the current round's bidding window has closed.
func (a *Auction) Ended() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.isEnded(a.clock.Now())
}

// TimeRemaining returns the seconds left in the bidding window, 0 once ended.
func (a *Auction) TimeRemaining() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.timeRemaining(a.clock.Now())
}

// EncryptedHighestBid returns the handle of the round's encrypted maximum. It
// reveals nothing about the amount. Before the first bid of a round it is the
// empty handle.
func (a *Auction) EncryptedHighestBid() core.Handle {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ledger.published()
}

// Round returns the current round number, starting at 1.
func (a *Auction) Round() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.round
}

// Bids returns a copy of the current round's bids in submission order.
func (a *Auction) Bids() []core.EncryptedBid {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ledger.snapshot()
}

// Settlement returns the current round's settlement, or nil if unclaimed.
func (a *Auction) Settlement() *core.Settlement {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.claim.settlement == nil {
		return nil
	}
	out := *a.claim.settlement
	return &out
}

// PendingDecryption returns the request id a claim is waiting on, if any.
func (a *Auction) PendingDecryption() (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.claim.pending == nil || a.claim.claimed() {
		return "", false
	}
	return a.claim.pending.RequestID, true
}

// Status is a consistent snapshot of the auction's public state.
type Status struct {
	Owner               common.Address    `json:"owner"`
	Round               uint64            `json:"round"`
	StartTime           time.Time         `json:"start_time"`
	EndTime             time.Time         `json:"end_time"`
	TimeRemaining       uint64            `json:"time_remaining"`
	Ended               bool              `json:"ended"`
	Claimed             bool              `json:"claimed"`
	TotalBids           uint64            `json:"total_bids"`
	EncryptedHighestBid core.Handle       `json:"encrypted_highest_bid"`
	SecurityZone        core.SecurityZone `json:"security_zone"`
	PendingDecryption   string            `json:"pending_decryption,omitempty"`
	Settlement          *core.Settlement  `json:"settlement,omitempty"`
}

// Status returns every public field read under one lock.
func (a *Auction) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.clock.Now()
	s := Status{
		Owner:               a.guard.owner,
		Round:               a.round,
		StartTime:           a.state.startTime,
		EndTime:             a.state.endTime,
		TimeRemaining:       a.state.timeRemaining(now),
		Ended:               a.state.isEnded(now),
		Claimed:             a.claim.claimed(),
		TotalBids:           a.ledger.totalBids,
		EncryptedHighestBid: a.ledger.published(),
		SecurityZone:        a.zone,
	}
	if a.claim.pending != nil && !a.claim.claimed() {
		s.PendingDecryption = a.claim.pending.RequestID
	}
	if a.claim.settlement != nil {
		settlement := *a.claim.settlement
		s.Settlement = &settlement
	}
	return s
}
