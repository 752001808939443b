package validation

import "fmt"

// BaseValidationResult holds the checks shared by every attestation kind.
type BaseValidationResult struct {
	PCRsValid         bool     `json:"pcrs_valid"`
	CertificateValid  bool     `json:"certificate_valid"`
	SignatureValid    bool     `json:"signature_valid"`
	ValidationDetails []string `json:"validation_details"`
}

func (r *BaseValidationResult) platformValid() bool {
	return r.PCRsValid && r.CertificateValid && r.SignatureValid
}

func (r *BaseValidationResult) detail(format string, args ...any) {
	r.ValidationDetails = append(r.ValidationDetails, fmt.Sprintf(format, args...))
}

// KeyValidationResult adds the key binding checks.
type KeyValidationResult struct {
	BaseValidationResult
	PublicKeyMatch bool `json:"public_key_match"`
	ProofKeyMatch  bool `json:"proof_key_match"`
}

// IsValid reports whether every check passed.
func (r *KeyValidationResult) IsValid() bool {
	return r.platformValid() && r.PublicKeyMatch && r.ProofKeyMatch
}

// DecryptionValidationResult adds the checks binding a decryption to its request.
type DecryptionValidationResult struct {
	BaseValidationResult
	RequestMatch bool `json:"request_match"`
	HandlesMatch bool `json:"handles_match"`
	ResultMatch  bool `json:"result_match"`
}

// IsValid reports whether every check passed.
func (r *DecryptionValidationResult) IsValid() bool {
	return r.platformValid() && r.RequestMatch && r.HandlesMatch && r.ResultMatch
}

// PCRSet is a known-good set of enclave measurements.
type PCRSet struct {
	PCR0       string `json:"pcr0" yaml:"pcr0"`
	PCR1       string `json:"pcr1" yaml:"pcr1"`
	PCR2       string `json:"pcr2" yaml:"pcr2"`
	CommitHash string `json:"commit_hash" yaml:"commit_hash"` // source commit the enclave image was built from
}

// PCRConfig is the layout of a PCR configuration file.
type PCRConfig struct {
	PCRSets []PCRSet `json:"pcr_sets" yaml:"pcr_sets"`
}
