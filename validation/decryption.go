package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cloudx-io/cipherbid/core"
	"github.com/cloudx-io/cipherbid/enclaveapi"
)

// DecryptionExpectation is what a decryption attestation must attest to.
type DecryptionExpectation struct {
	RequestID string
	Max       core.EncryptedMax
	Amount    uint32
	Winner    common.Address
}

// ValidateDecryptionAttestation checks that attestation comes from a known enclave
// and attests expected: the same request, the same handles, the same plaintext.
func ValidateDecryptionAttestation(attestation enclaveapi.AttestationCOSEBase64, expected DecryptionExpectation, knownPCRs []PCRSet) (*DecryptionValidationResult, error) {
	base, _, raw, err := validateCommonAttestation(attestation, knownPCRs)
	if err != nil {
		return nil, err
	}
	result := &DecryptionValidationResult{BaseValidationResult: *base}

	var userData enclaveapi.DecryptionAttestationUserData
	if err := decodeUserData(raw, &userData); err != nil {
		result.detail("%v", err)
		return result, nil
	}

	result.RequestMatch = userData.RequestID == expected.RequestID
	if result.RequestMatch {
		result.detail("Request id matches: %s", userData.RequestID)
	} else {
		result.detail("Request id mismatch: expected %s, attestation has %s", expected.RequestID, userData.RequestID)
	}

	result.HandlesMatch = strings.EqualFold(userData.AmountHandle, expected.Max.Amount.Hex()) &&
		strings.EqualFold(userData.BidderHandle, expected.Max.Bidder.Hex())
	if result.HandlesMatch {
		result.detail("Decrypted handles match the request")
	} else {
		result.detail("Handle mismatch: attestation covers %s/%s", userData.AmountHandle, userData.BidderHandle)
	}

	winnerMatch := common.IsHexAddress(userData.Winner) && common.HexToAddress(userData.Winner) == expected.Winner
	result.ResultMatch = userData.Amount == expected.Amount && winnerMatch
	if result.ResultMatch {
		result.detail("Decrypted result matches: amount %d, winner %s", userData.Amount, userData.Winner)
	} else {
		result.detail("Result mismatch: expected amount %d winner %s, attestation has amount %d winner %s",
			expected.Amount, expected.Winner.Hex(), userData.Amount, userData.Winner)
	}
	return result, nil
}

// Verifier checks co-processor attestations against a set of known measurements.
type Verifier struct {
	KnownPCRs []PCRSet
}

// NewVerifier creates a Verifier trusting knownPCRs.
func NewVerifier(knownPCRs []PCRSet) *Verifier {
	return &Verifier{KnownPCRs: knownPCRs}
}

// VerifyDecryption returns an error unless the decryption attestation fully validates.
func (v *Verifier) VerifyDecryption(attestation enclaveapi.AttestationCOSEBase64, expected DecryptionExpectation) error {
	if attestation == "" {
		return errors.New("decryption result carries no attestation")
	}
	result, err := ValidateDecryptionAttestation(attestation, expected, v.KnownPCRs)
	if err != nil {
		return err
	}
	if !result.IsValid() {
		return fmt.Errorf("invalid decryption attestation: %s", strings.Join(result.ValidationDetails, "; "))
	}
	return nil
}

// VerifyKeys returns an error unless the key attestation fully validates.
func (v *Verifier) VerifyKeys(attestation enclaveapi.AttestationCOSEBase64, publicKeyPEM, proofKeyPEM string) error {
	if attestation == "" {
		return errors.New("keys carry no attestation")
	}
	result, err := ValidateKeyAttestation(attestation, publicKeyPEM, proofKeyPEM, v.KnownPCRs)
	if err != nil {
		return err
	}
	if !result.IsValid() {
		return fmt.Errorf("invalid key attestation: %s", strings.Join(result.ValidationDetails, "; "))
	}
	return nil
}
