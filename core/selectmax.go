package core

import "github.com/ethereum/go-ethereum/common"

// PlainBid is a bid amount and its bidder as seen in plaintext inside the co-processor.
type PlainBid struct {
	Amount uint32         `json:"amount"`
	Bidder common.Address `json:"bidder"`
}

// SelectMax is the plaintext law the homomorphic select-max evaluates:
// the candidate replaces the current maximum only when strictly greater,
// so on equal amounts the earlier bidder keeps the lead.
//
// On amounts it is commutative and associative:
//
//	SelectMax(a, b).Amount == SelectMax(b, a).Amount
//	SelectMax(SelectMax(a, b), c).Amount == SelectMax(a, SelectMax(b, c)).Amount
func SelectMax(current, candidate PlainBid) PlainBid {
	if candidate.Amount > current.Amount {
		return candidate
	}
	return current
}

// HighestBid folds SelectMax over bids in submission order, starting from the zero bid
// every round begins with. Returns the zero PlainBid for an empty slice.
func HighestBid(bids []PlainBid) PlainBid {
	var highest PlainBid
	for _, bid := range bids {
		highest = SelectMax(highest, bid)
	}
	return highest
}
