package gateway

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/cipherbid/core"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func newProofPair(t *testing.T, chainID uint64) (*ProofSigner, *ProofVerifier) {
	t.Helper()
	key, err := GenerateSigningKey()
	assert.NoError(t, err)

	signer, err := NewProofSigner(key, chainID)
	assert.NoError(t, err)
	verifier, err := NewProofVerifier(&key.PublicKey, chainID)
	assert.NoError(t, err)
	return signer, verifier
}

func signedInput(t *testing.T, signer *ProofSigner, sender common.Address) core.EncryptedInput {
	t.Helper()
	handle := core.ComputeInputHandle(core.UTypeUint32, 0, sender, []byte("n"))
	proof, err := signer.Sign(handle, core.UTypeUint32, 0, sender)
	assert.NoError(t, err)
	return core.EncryptedInput{Handle: handle, SecurityZone: 0, UType: core.UTypeUint32, Signature: proof}
}

func TestProof_SignVerifyRoundTrip(t *testing.T) {
	signer, verifier := newProofPair(t, 11155111)
	in := signedInput(t, signer, alice)

	check.NoError(t, verifier.Verify(alice, in))
}

func TestProof_Rejections(t *testing.T) {
	signer, verifier := newProofPair(t, 11155111)

	tests := []struct {
		name   string
		sender common.Address
		mutate func(in *core.EncryptedInput)
	}{
		{"wrong sender", bob, func(*core.EncryptedInput) {}},
		{"swapped handle", alice, func(in *core.EncryptedInput) { in.Handle = common.HexToHash("0xdead") }},
		{"wrong zone", alice, func(in *core.EncryptedInput) { in.SecurityZone = 7 }},
		{"wrong type", alice, func(in *core.EncryptedInput) { in.UType = core.UTypeUint8 }},
		{"missing proof", alice, func(in *core.EncryptedInput) { in.Signature = nil }},
		{"garbage proof", alice, func(in *core.EncryptedInput) { in.Signature = []byte{0x01, 0x02} }},
		{"tampered signature", alice, func(in *core.EncryptedInput) {
			in.Signature = append([]byte(nil), in.Signature...)
			in.Signature[len(in.Signature)-1] ^= 0xff
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := signedInput(t, signer, alice)
			tt.mutate(&in)

			err := verifier.Verify(tt.sender, in)
			check.Error(t, err)
			check.True(t, errors.Is(err, core.ErrInvalidCiphertext))
		})
	}
}

func TestProof_RejectsOtherChain(t *testing.T) {
	key, err := GenerateSigningKey()
	assert.NoError(t, err)

	signer, err := NewProofSigner(key, 1)
	assert.NoError(t, err)
	verifier, err := NewProofVerifier(&key.PublicKey, 2)
	assert.NoError(t, err)

	err = verifier.Verify(alice, signedInput(t, signer, alice))
	check.True(t, errors.Is(err, core.ErrInvalidCiphertext))
}

func TestProof_RejectsOtherKey(t *testing.T) {
	signer, _ := newProofPair(t, 1)
	_, otherVerifier := newProofPair(t, 1)

	err := otherVerifier.Verify(alice, signedInput(t, signer, alice))
	check.True(t, errors.Is(err, core.ErrInvalidCiphertext))
}
