package enclave

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	nitro "github.com/edgebitio/nitro-enclaves-sdk-go"

	"github.com/cloudx-io/cipherbid/core"
	"github.com/cloudx-io/cipherbid/enclaveapi"
)

// EnclaveAttester produces NSM attestation documents.
type EnclaveAttester interface {
	Attest(options nitro.AttestationOptions) ([]byte, error)
}

// NSMAttester returns the Nitro Security Module handle, or an error outside an enclave.
func NSMAttester() (EnclaveAttester, error) {
	handle, err := nitro.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

func generateNonce() (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("entropy generation failed: %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}

// GenerateDecryptionAttestation attests that result is the decryption of max.
func GenerateDecryptionAttestation(attester EnclaveAttester, result *core.Decryption, max core.EncryptedMax) (enclaveapi.AttestationCOSE, error) {
	userData := &enclaveapi.DecryptionAttestationUserData{
		RequestID:    result.RequestID,
		AmountHandle: max.Amount.Hex(),
		BidderHandle: max.Bidder.Hex(),
		Amount:       result.Amount,
		Winner:       result.Winner.Hex(),
		Timestamp:    time.Now().UTC(),
	}
	return attest(attester, userData)
}

// GenerateKeyAttestation attests the co-processor's public keys.
func GenerateKeyAttestation(attester EnclaveAttester, publicKeyPEM, proofKeyPEM string) (enclaveapi.AttestationCOSE, error) {
	userData := &enclaveapi.KeyAttestationUserData{
		KeyAlgorithm:   "RSA-2048",
		PublicKey:      publicKeyPEM,
		ProofAlgorithm: "ES256",
		ProofKey:       proofKeyPEM,
	}
	return attest(attester, userData)
}

func attest(attester EnclaveAttester, userData any) (enclaveapi.AttestationCOSE, error) {
	if attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}

	userDataBytes, err := json.Marshal(userData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user data: %w", err)
	}
	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	attestationCBOR, err := attester.Attest(nitro.AttestationOptions{
		UserData: userDataBytes,
		Nonce:    []byte(nonce),
	})
	if err != nil {
		return nil, fmt.Errorf("NSM attestation failed: %w", err)
	}
	return enclaveapi.AttestationCOSE(attestationCBOR), nil
}
