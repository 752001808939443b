package core

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Handle is an opaque reference to a ciphertext held by the encryption co-processor.
type Handle = common.Hash

// SecurityZone partitions ciphertexts so only coordinated parties can decrypt them.
type SecurityZone int32

// UType identifies the encrypted value type carried by a ciphertext handle.
type UType uint8

const (
	UTypeBool    UType = 0
	UTypeUint8   UType = 2
	UTypeUint16  UType = 3
	UTypeUint32  UType = 4
	UTypeAddress UType = 7
)

// EncryptedInput is what a bidder submits: a ciphertext handle plus proof that it
// was well formed under the shared public key.
type EncryptedInput struct {
	Handle       Handle       `json:"ct_hash"`
	SecurityZone SecurityZone `json:"security_zone"`
	UType        UType        `json:"utype"`
	Signature    []byte       `json:"signature"`
}

// EncryptedBid is a single accepted bid in the current round's ledger.
type EncryptedBid struct {
	ID           uuid.UUID      `json:"id" cbor:"id"`
	Bidder       common.Address `json:"bidder" cbor:"bidder"`
	Handle       Handle         `json:"ct_hash" cbor:"ct_hash"`
	SecurityZone SecurityZone   `json:"security_zone" cbor:"security_zone"`
	Sequence     uint64         `json:"sequence" cbor:"sequence"`
	SubmittedAt  time.Time      `json:"submitted_at" cbor:"submitted_at"`
}

// EncryptedMax is the homomorphic maximum of a round's bids together with the
// encrypted identity of whoever placed it.
type EncryptedMax struct {
	Amount Handle `json:"amount" cbor:"amount"`
	Bidder Handle `json:"bidder" cbor:"bidder"`
}

// Decryption is the co-processor's answer to a decryption request for an EncryptedMax.
type Decryption struct {
	RequestID   string         `json:"request_id"`
	Amount      uint32         `json:"amount"`
	Winner      common.Address `json:"winner"`
	Attestation []byte         `json:"attestation,omitempty"`
}

// Settlement records how a round was claimed.
type Settlement struct {
	Round      uint64          `json:"round" cbor:"round"`
	Winner     common.Address  `json:"winner" cbor:"winner"`
	WinningBid decimal.Decimal `json:"winning_bid" cbor:"winning_bid"`
	Prize      decimal.Decimal `json:"prize" cbor:"prize"`
	NoWinner   bool            `json:"no_winner,omitempty" cbor:"no_winner"`
	ClaimedBy  common.Address  `json:"claimed_by" cbor:"claimed_by"`
	SettledAt  time.Time       `json:"settled_at" cbor:"settled_at"`
	RequestID  string          `json:"request_id,omitempty" cbor:"request_id"`
}

// RoundRecord is the archived view of a finished (or abandoned) round.
type RoundRecord struct {
	Round      uint64         `json:"round" cbor:"round"`
	StartTime  time.Time      `json:"start_time" cbor:"start_time"`
	EndTime    time.Time      `json:"end_time" cbor:"end_time"`
	TotalBids  uint64         `json:"total_bids" cbor:"total_bids"`
	Bids       []EncryptedBid `json:"bids" cbor:"bids"`
	HighestBid EncryptedMax   `json:"highest_bid" cbor:"highest_bid"`
	Claimed    bool           `json:"claimed" cbor:"claimed"`
	Settlement *Settlement    `json:"settlement,omitempty" cbor:"settlement"`
	ArchivedAt time.Time      `json:"archived_at" cbor:"archived_at"`
}

// IsZeroHandle reports whether h is the empty handle.
func IsZeroHandle(h Handle) bool {
	return h == (Handle{})
}
