package validation

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/cipherbid/enclaveapi"
	"github.com/cloudx-io/cipherbid/enclaveapi/parsing"
)

// VerifyCOSESignature verifies the NSM's ES384 signature over an attestation using
// the public key of its signing certificate.
func VerifyCOSESignature(attestation enclaveapi.AttestationCOSE, certB64 string) error {
	cert, err := parseCertificate(certB64)
	if err != nil {
		return fmt.Errorf("certificate: %w", err)
	}
	ecdsaKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate public key is not ECDSA")
	}

	// The NSM emits untagged COSE_Sign1; rebuild the Sig_structure by hand.
	parts, err := parsing.SplitCOSESign1(attestation)
	if err != nil {
		return err
	}
	sigStructure, err := cbor.Marshal([]any{"Signature1", parts.Protected, []byte{}, parts.Payload})
	if err != nil {
		return fmt.Errorf("marshal Sig_structure: %w", err)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES384, ecdsaKey)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}
	if err := verifier.Verify(sigStructure, parts.Signature); err != nil {
		return fmt.Errorf("COSE signature verification failed: %w", err)
	}
	return nil
}
