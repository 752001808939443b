package core

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Handle domains keep handles produced by different operations from colliding.
const (
	domainInput   = "cipherbid/input"
	domainTrivial = "cipherbid/trivial"
	domainSelect  = "cipherbid/select-max"
)

// ComputeInputHandle derives the handle for a freshly encrypted client input.
//
// Formula: keccak256(domain | utype | zone | sender | nonce)
//
// The nonce makes every encryption of the same plaintext produce a distinct handle.
func ComputeInputHandle(utype UType, zone SecurityZone, sender common.Address, nonce []byte) Handle {
	var zoneBytes [4]byte
	binary.BigEndian.PutUint32(zoneBytes[:], uint32(zone))
	return crypto.Keccak256Hash([]byte(domainInput), []byte{byte(utype)}, zoneBytes[:], sender.Bytes(), nonce)
}

// ComputeTrivialHandle derives the handle of a public value encrypted without randomness.
// Every co-processor agrees on these handles, so the zero ciphertext is recognisable.
func ComputeTrivialHandle(utype UType, zone SecurityZone, value []byte) Handle {
	var zoneBytes [4]byte
	binary.BigEndian.PutUint32(zoneBytes[:], uint32(zone))
	return crypto.Keccak256Hash([]byte(domainTrivial), []byte{byte(utype)}, zoneBytes[:], value)
}

// ComputeSelectHandle derives the handle of select_max(current, candidate) for one of
// its outputs. The label distinguishes the amount output from the bidder output.
func ComputeSelectHandle(label string, current, candidate EncryptedMax) Handle {
	return crypto.Keccak256Hash(
		[]byte(domainSelect),
		[]byte(label),
		current.Amount.Bytes(), current.Bidder.Bytes(),
		candidate.Amount.Bytes(), candidate.Bidder.Bytes(),
	)
}
