package validation

import (
	"encoding/json"
	"fmt"

	"github.com/cloudx-io/cipherbid/enclaveapi"
)

// validateCommonAttestation checks the measurements, certificate chain and
// signature of an attestation and returns its parsed document and user data.
func validateCommonAttestation(attestationB64 enclaveapi.AttestationCOSEBase64, knownPCRs []PCRSet) (*BaseValidationResult, enclaveapi.AttestationDoc, []byte, error) {
	attestation, err := attestationB64.Decode()
	if err != nil {
		return nil, enclaveapi.AttestationDoc{}, nil, err
	}
	doc, userData, err := attestation.ParseAttestationDoc()
	if err != nil {
		return nil, enclaveapi.AttestationDoc{}, nil, fmt.Errorf("parse attestation document: %w", err)
	}

	result := &BaseValidationResult{ValidationDetails: []string{}}

	pcrMatch, matched := ValidatePCRs(doc.PCRs, knownPCRs)
	result.PCRsValid = pcrMatch
	if pcrMatch {
		result.detail("PCR measurements valid (set #%d, commit %s)", matched, knownPCRs[matched].CommitHash)
	} else {
		result.detail("PCR0: %s (no match)", doc.PCRs.ImageFileHash)
		result.detail("PCR1: %s (no match)", doc.PCRs.KernelHash)
		result.detail("PCR2: %s (no match)", doc.PCRs.ApplicationHash)
	}

	switch {
	case doc.Certificate == "":
		result.detail("Missing certificate")
	case len(doc.CABundle) == 0:
		result.detail("Missing CA bundle")
	default:
		if err := ValidateCertificateChain(doc.Certificate, doc.CABundle, doc.Timestamp); err != nil {
			result.detail("Certificate chain validation failed: %v", err)
		} else {
			result.CertificateValid = true
			result.detail("Certificate chain verified")
		}
	}

	if err := VerifyCOSESignature(attestation, doc.Certificate); err != nil {
		result.detail("COSE signature verification failed: %v", err)
	} else {
		result.SignatureValid = true
		result.detail("COSE signature verified")
	}

	return result, doc, userData, nil
}

func decodeUserData(raw []byte, into any) error {
	if len(raw) == 0 {
		return fmt.Errorf("attestation user data missing")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("parse user data: %w", err)
	}
	return nil
}
