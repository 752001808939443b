package validation

import (
	"strings"

	"github.com/cloudx-io/cipherbid/enclaveapi"
)

// ValidateKeyAttestation checks a key attestation and that it covers the given
// RSA envelope key and input proof key (both PEM).
func ValidateKeyAttestation(attestation enclaveapi.AttestationCOSEBase64, publicKeyPEM, proofKeyPEM string, knownPCRs []PCRSet) (*KeyValidationResult, error) {
	base, _, raw, err := validateCommonAttestation(attestation, knownPCRs)
	if err != nil {
		return nil, err
	}
	result := &KeyValidationResult{BaseValidationResult: *base}

	var userData enclaveapi.KeyAttestationUserData
	if err := decodeUserData(raw, &userData); err != nil {
		result.detail("%v", err)
		return result, nil
	}

	result.PublicKeyMatch = pemEqual(publicKeyPEM, userData.PublicKey)
	if result.PublicKeyMatch {
		result.detail("Public key matches attestation")
	} else {
		result.detail("Public key mismatch: provided key does not match attested key")
	}

	result.ProofKeyMatch = pemEqual(proofKeyPEM, userData.ProofKey)
	if result.ProofKeyMatch {
		result.detail("Proof key matches attestation")
	} else {
		result.detail("Proof key mismatch: provided key does not match attested key")
	}
	return result, nil
}

func pemEqual(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && a == b
}
