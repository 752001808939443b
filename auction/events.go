package auction

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/cipherbid/core"
)

// Event topics published on the auction's bus.
const (
	TopicBidAccepted    = "auction:bid_accepted"
	TopicAuctionEnded   = "auction:ended"
	TopicClaimRequested = "auction:claim_requested"
	TopicClaimSettled   = "auction:claim_settled"
	TopicRoundStarted   = "auction:round_started"
)

// Event is a notification for external observers.
type Event interface {
	Topic() string
}

// BidAccepted is published for every accepted bid. It carries no amount information.
type BidAccepted struct {
	Round    uint64         `json:"round"`
	Sequence uint64         `json:"sequence"`
	BidID    uuid.UUID      `json:"bid_id"`
	Bidder   common.Address `json:"bidder"`
	Handle   core.Handle    `json:"ct_hash"`
	At       time.Time      `json:"at"`
}

// AuctionEnded is published once per round, when a mutating operation first
// observes that the round has closed.
type AuctionEnded struct {
	Round     uint64    `json:"round"`
	EndTime   time.Time `json:"end_time"`
	TotalBids uint64    `json:"total_bids"`
}

// ClaimRequested is published when a claim starts decryption of the highest bid.
type ClaimRequested struct {
	Round       uint64         `json:"round"`
	RequestID   string         `json:"request_id"`
	RequestedBy common.Address `json:"requested_by"`
}

// ClaimSettled is published when a round's prize has been released.
type ClaimSettled struct {
	Round      uint64          `json:"round"`
	Winner     common.Address  `json:"winner"`
	WinningBid decimal.Decimal `json:"winning_bid"`
	Prize      decimal.Decimal `json:"prize"`
	NoWinner   bool            `json:"no_winner"`
}

// RoundStarted is published for the first round and every restart.
type RoundStarted struct {
	Round     uint64    `json:"round"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

func (BidAccepted) Topic() string    { return TopicBidAccepted }
func (AuctionEnded) Topic() string   { return TopicAuctionEnded }
func (ClaimRequested) Topic() string { return TopicClaimRequested }
func (ClaimSettled) Topic() string   { return TopicClaimSettled }
func (RoundStarted) Topic() string   { return TopicRoundStarted }

// Subscribe registers fn for topic. fn takes the topic's event struct, e.g.
// func(auction.BidAccepted). Handlers run synchronously after the operation that
// produced the event has committed, while the bus is locked: they may read the
// auction but must not call its mutating operations.
func (a *Auction) Subscribe(topic string, fn any) error {
	return a.bus.Subscribe(topic, fn)
}

// SubscribeAsync registers fn to run on its own goroutine, one event at a time.
// Async handlers may call mutating operations.
func (a *Auction) SubscribeAsync(topic string, fn any) error {
	return a.bus.SubscribeAsync(topic, fn, true)
}

// WaitAsync blocks until every async handler has returned.
func (a *Auction) WaitAsync() {
	a.bus.WaitAsync()
}

// Unsubscribe removes a handler registered with Subscribe.
func (a *Auction) Unsubscribe(topic string, fn any) error {
	return a.bus.Unsubscribe(topic, fn)
}

func (a *Auction) publish(events []Event) {
	for _, e := range events {
		a.bus.Publish(e.Topic(), e)
	}
}
