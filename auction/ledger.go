package auction

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/cloudx-io/cipherbid/core"
)

// bidLedger tracks the current round's encrypted bids and running maximum.
// totalBids always equals len(bids).
type bidLedger struct {
	bids      []core.EncryptedBid
	highest   core.EncryptedMax
	totalBids uint64
}

func (l *bidLedger) reset(zero core.EncryptedMax) {
	l.bids = nil
	l.highest = zero
	l.totalBids = 0
}

// record appends an accepted bid and installs the new maximum. Callers must have
// finished every fallible step before calling it.
func (l *bidLedger) record(bidder common.Address, in core.EncryptedInput, next core.EncryptedMax, at time.Time) core.EncryptedBid {
	l.totalBids++
	bid := core.EncryptedBid{
		ID:           uuid.New(),
		Bidder:       bidder,
		Handle:       in.Handle,
		SecurityZone: in.SecurityZone,
		Sequence:     l.totalBids,
		SubmittedAt:  at,
	}
	l.bids = append(l.bids, bid)
	l.highest = next
	return bid
}

// published is the highest-bid handle shown to callers. The zero ciphertext that
// seeds select-max is internal, so an empty round shows the empty handle.
func (l *bidLedger) published() core.Handle {
	if l.totalBids == 0 {
		return core.Handle{}
	}
	return l.highest.Amount
}

func (l *bidLedger) snapshot() []core.EncryptedBid {
	out := make([]core.EncryptedBid, len(l.bids))
	copy(out, l.bids)
	return out
}
