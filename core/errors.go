package core

import "errors"

var (
	// ErrAuctionNotActive is returned when a bid arrives after the round closed.
	ErrAuctionNotActive = errors.New("auction not active")
	// ErrAuctionStillActive is returned when a claim arrives before the round closed.
	ErrAuctionStillActive = errors.New("auction still active")
	// ErrAlreadyClaimed is returned on any claim after the round was settled.
	ErrAlreadyClaimed = errors.New("already claimed")
	// ErrNotOwner is returned when a non-owner tries an owner-only operation.
	ErrNotOwner = errors.New("not owner")
	// ErrInvalidDuration is returned for non-positive or overflowing durations.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrZoneMismatch is returned when an input is tagged with a foreign security zone.
	ErrZoneMismatch = errors.New("security zone mismatch")
	// ErrInvalidCiphertext is returned when an input's proof or type is rejected.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrDecryptionPending is returned while the co-processor has not resolved a
	// decryption request. Callers retry.
	ErrDecryptionPending = errors.New("decryption pending")
	// ErrUnknownDecryption is returned for decryption results that do not belong to
	// the round's pending request.
	ErrUnknownDecryption = errors.New("unknown decryption request")
)
