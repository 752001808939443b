package gateway

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/cipherbid/core"
)

// inputClaim is the CBOR payload of an input proof. It binds a ciphertext handle to
// its type, zone, the account allowed to submit it and the auction instance.
type inputClaim struct {
	Handle  []byte `cbor:"1,keyasint"`
	UType   uint8  `cbor:"2,keyasint"`
	Zone    int32  `cbor:"3,keyasint"`
	Sender  []byte `cbor:"4,keyasint"`
	ChainID uint64 `cbor:"5,keyasint"`
}

// ProofSigner produces COSE_Sign1 input proofs.
type ProofSigner struct {
	signer  cose.Signer
	chainID uint64
}

// NewProofSigner creates an ES256 proof signer bound to chainID.
func NewProofSigner(key *ecdsa.PrivateKey, chainID uint64) (*ProofSigner, error) {
	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	return &ProofSigner{signer: signer, chainID: chainID}, nil
}

// Sign returns the COSE_Sign1 proof for an input submitted by sender.
func (s *ProofSigner) Sign(handle core.Handle, utype core.UType, zone core.SecurityZone, sender common.Address) ([]byte, error) {
	payload, err := cbor.Marshal(inputClaim{
		Handle:  handle.Bytes(),
		UType:   uint8(utype),
		Zone:    int32(zone),
		Sender:  sender.Bytes(),
		ChainID: s.chainID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal input claim: %w", err)
	}

	msg := &cose.Sign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{
				cose.HeaderLabelAlgorithm: cose.AlgorithmES256,
			},
		},
		Payload: payload,
	}
	if err := msg.Sign(rand.Reader, nil, s.signer); err != nil {
		return nil, fmt.Errorf("sign input claim: %w", err)
	}

	return msg.MarshalCBOR()
}

// ProofVerifier checks input proofs produced by a ProofSigner.
type ProofVerifier struct {
	verifier cose.Verifier
	chainID  uint64
}

// NewProofVerifier creates a verifier for proofs signed by publicKey for chainID.
func NewProofVerifier(publicKey *ecdsa.PublicKey, chainID uint64) (*ProofVerifier, error) {
	verifier, err := cose.NewVerifier(cose.AlgorithmES256, publicKey)
	if err != nil {
		return nil, fmt.Errorf("create verifier: %w", err)
	}
	return &ProofVerifier{verifier: verifier, chainID: chainID}, nil
}

// Verify checks the signature on in.Signature and that the signed claim matches the
// input and its sender. Every failure wraps core.ErrInvalidCiphertext.
func (v *ProofVerifier) Verify(sender common.Address, in core.EncryptedInput) error {
	if len(in.Signature) == 0 {
		return fmt.Errorf("%w: missing proof", core.ErrInvalidCiphertext)
	}

	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(in.Signature); err != nil {
		return fmt.Errorf("%w: parse proof: %v", core.ErrInvalidCiphertext, err)
	}
	if err := msg.Verify(nil, v.verifier); err != nil {
		return fmt.Errorf("%w: proof signature: %v", core.ErrInvalidCiphertext, err)
	}

	var claim inputClaim
	if err := cbor.Unmarshal(msg.Payload, &claim); err != nil {
		return fmt.Errorf("%w: parse proof payload: %v", core.ErrInvalidCiphertext, err)
	}

	switch {
	case common.BytesToHash(claim.Handle) != in.Handle:
		return fmt.Errorf("%w: proof is for a different handle", core.ErrInvalidCiphertext)
	case core.UType(claim.UType) != in.UType:
		return fmt.Errorf("%w: proof is for a different value type", core.ErrInvalidCiphertext)
	case core.SecurityZone(claim.Zone) != in.SecurityZone:
		return fmt.Errorf("%w: proof is for a different security zone", core.ErrInvalidCiphertext)
	case common.BytesToAddress(claim.Sender) != sender:
		return fmt.Errorf("%w: proof was issued to %s", core.ErrInvalidCiphertext, common.BytesToAddress(claim.Sender))
	case claim.ChainID != v.chainID:
		return fmt.Errorf("%w: proof is for chain %d", core.ErrInvalidCiphertext, claim.ChainID)
	}

	return nil
}
