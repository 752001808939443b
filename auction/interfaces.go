package auction

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/cipherbid/core"
)

// Gateway is the encryption co-processor capability the auction relies on. The
// auction never sees plaintext amounts; every comparison happens behind this interface.
type Gateway interface {
	// VerifyInput checks that in carries a valid proof for sender. Rejections wrap
	// core.ErrInvalidCiphertext.
	VerifyInput(ctx context.Context, sender common.Address, in core.EncryptedInput) error

	// TrivialEncryptZero returns the encrypted zero amount and zero bidder a round
	// starts from.
	TrivialEncryptZero(ctx context.Context, zone core.SecurityZone) (core.EncryptedMax, error)

	// SelectMax returns select_max(current, (bid, bidder)) as fresh handles.
	SelectMax(ctx context.Context, current core.EncryptedMax, bid core.Handle, bidder common.Address) (core.EncryptedMax, error)

	// RequestDecryption asks the co-processor to decrypt max and returns a request id.
	RequestDecryption(ctx context.Context, max core.EncryptedMax) (string, error)

	// DecryptionResult returns the result for requestID, or core.ErrDecryptionPending.
	DecryptionResult(ctx context.Context, requestID string) (*core.Decryption, error)
}

// Treasury holds the prize and pays it out on settlement.
type Treasury interface {
	// Release pays the round's prize to winner and returns the amount paid. It must
	// fail if the round was already released.
	Release(ctx context.Context, round uint64, winner common.Address, winningBid decimal.Decimal) (decimal.Decimal, error)
}

// Archive stores the record of a round before it is reset.
type Archive interface {
	ArchiveRound(ctx context.Context, record core.RoundRecord) error
}

// Recorder receives operation outcomes, typically to export metrics.
type Recorder interface {
	BidAccepted()
	BidRejected(reason string)
	ClaimRequested()
	ClaimSettled(noWinner bool)
	RoundStarted(round uint64)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type nopRecorder struct{}

func (nopRecorder) BidAccepted()        {}
func (nopRecorder) BidRejected(string)  {}
func (nopRecorder) ClaimRequested()     {}
func (nopRecorder) ClaimSettled(bool)   {}
func (nopRecorder) RoundStarted(uint64) {}
