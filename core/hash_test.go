package core

import (
	"encoding/binary"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestComputeInputHandle(t *testing.T) {
	sender := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	nonce := []byte("nonce-1")

	handle := ComputeInputHandle(UTypeUint32, 0, sender, nonce)

	if IsZeroHandle(handle) {
		t.Errorf("ComputeInputHandle() returned the zero handle")
	}

	// Same inputs should produce same handle (deterministic)
	if handle != ComputeInputHandle(UTypeUint32, 0, sender, nonce) {
		t.Errorf("ComputeInputHandle() not deterministic")
	}

	// A different nonce must give a different handle
	if handle == ComputeInputHandle(UTypeUint32, 0, sender, []byte("nonce-2")) {
		t.Errorf("Different nonces should produce different handles")
	}

	// Zone and type are part of the preimage
	if handle == ComputeInputHandle(UTypeUint32, 1, sender, nonce) {
		t.Errorf("Different zones should produce different handles")
	}
	if handle == ComputeInputHandle(UTypeUint16, 0, sender, nonce) {
		t.Errorf("Different value types should produce different handles")
	}

	// Verify exact hash calculation
	var zone [4]byte
	binary.BigEndian.PutUint32(zone[:], 0)
	expected := crypto.Keccak256Hash([]byte("cipherbid/input"), []byte{byte(UTypeUint32)}, zone[:], sender.Bytes(), nonce)
	if handle != expected {
		t.Errorf("ComputeInputHandle() = %v, want %v", handle, expected)
	}
}

func TestComputeTrivialHandle_StableAcrossCalls(t *testing.T) {
	zero := make([]byte, 4)

	h1 := ComputeTrivialHandle(UTypeUint32, 0, zero)
	h2 := ComputeTrivialHandle(UTypeUint32, 0, zero)
	if h1 != h2 {
		t.Errorf("trivial handles must be stable")
	}

	if h1 == ComputeTrivialHandle(UTypeAddress, 0, zero) {
		t.Errorf("trivial handles must depend on the value type")
	}
}

func TestComputeSelectHandle_DistinguishesOutputs(t *testing.T) {
	current := EncryptedMax{Amount: common.HexToHash("0x01"), Bidder: common.HexToHash("0x02")}
	candidate := EncryptedMax{Amount: common.HexToHash("0x03"), Bidder: common.HexToHash("0x04")}

	amount := ComputeSelectHandle("amount", current, candidate)
	bidder := ComputeSelectHandle("bidder", current, candidate)

	if amount == bidder {
		t.Errorf("amount and bidder outputs must have distinct handles")
	}

	// Operand order matters for the handle even though it does not for the value
	if amount == ComputeSelectHandle("amount", candidate, current) {
		t.Errorf("swapped operands should produce a different handle")
	}
}
