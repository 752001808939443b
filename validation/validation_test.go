package validation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/cipherbid/core"
	"github.com/cloudx-io/cipherbid/enclaveapi"
)

var (
	pcr0 = []byte{0x3b, 0x4c, 0xef}
	pcr1 = []byte{0x4b, 0x4d, 0x5b}
	pcr2 = []byte{0x2b, 0xdd, 0x28}

	knownPCRs = []PCRSet{
		{PCR0: "ffff", PCR1: "ffff", PCR2: "ffff", CommitHash: "old"},
		{PCR0: "3b4cef", PCR1: "4b4d5b", PCR2: "2bdd28", CommitHash: "abc123"},
	}

	winner  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	handles = core.EncryptedMax{Amount: common.HexToHash("0xaa"), Bidder: common.HexToHash("0xbb")}
)

// signedAttestation builds a Nitro-shaped attestation signed with a throwaway
// P-384 certificate. The signature verifies; the chain to the AWS root does not.
func signedAttestation(t *testing.T, userData any) enclaveapi.AttestationCOSEBase64 {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	assert.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-enclave"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	assert.NoError(t, err)

	userDataBytes, err := json.Marshal(userData)
	assert.NoError(t, err)

	payload, err := cbor.Marshal(map[string]any{
		"module_id":   "test-enclave-12345",
		"digest":      "SHA384",
		"timestamp":   uint64(time.Now().UnixMilli()),
		"pcrs":        map[uint64][]byte{0: pcr0, 1: pcr1, 2: pcr2},
		"certificate": certDER,
		"cabundle":    [][]byte{certDER},
		"public_key":  []byte{},
		"user_data":   userDataBytes,
		"nonce":       []byte("nonce"),
	})
	assert.NoError(t, err)

	protected, err := cbor.Marshal(map[int]int{1: -35})
	assert.NoError(t, err)
	toSign, err := cbor.Marshal([]any{"Signature1", protected, []byte{}, payload})
	assert.NoError(t, err)

	signer, err := cose.NewSigner(cose.AlgorithmES384, key)
	assert.NoError(t, err)
	signature, err := signer.Sign(rand.Reader, toSign)
	assert.NoError(t, err)

	out, err := cbor.Marshal([]any{protected, map[any]any{}, payload, signature})
	assert.NoError(t, err)
	return enclaveapi.AttestationCOSE(out).EncodeBase64()
}

func decryptionUserData() enclaveapi.DecryptionAttestationUserData {
	return enclaveapi.DecryptionAttestationUserData{
		RequestID:    "req-1",
		AmountHandle: handles.Amount.Hex(),
		BidderHandle: handles.Bidder.Hex(),
		Amount:       250,
		Winner:       winner.Hex(),
		Timestamp:    time.Now().UTC(),
	}
}

func TestValidateDecryptionAttestation_Bindings(t *testing.T) {
	attestation := signedAttestation(t, decryptionUserData())
	expected := DecryptionExpectation{RequestID: "req-1", Max: handles, Amount: 250, Winner: winner}

	result, err := ValidateDecryptionAttestation(attestation, expected, knownPCRs)
	assert.NoError(t, err)

	check.True(t, result.PCRsValid)
	check.True(t, result.SignatureValid)
	check.False(t, result.CertificateValid)
	check.True(t, result.RequestMatch)
	check.True(t, result.HandlesMatch)
	check.True(t, result.ResultMatch)
	check.False(t, result.IsValid())
}

func TestValidateDecryptionAttestation_Mismatches(t *testing.T) {
	attestation := signedAttestation(t, decryptionUserData())

	tests := []struct {
		name   string
		mutate func(*DecryptionExpectation)
		check  func(*DecryptionValidationResult) bool
	}{
		{"request", func(e *DecryptionExpectation) { e.RequestID = "req-2" }, func(r *DecryptionValidationResult) bool { return !r.RequestMatch }},
		{"handles", func(e *DecryptionExpectation) { e.Max.Bidder = common.HexToHash("0xcc") }, func(r *DecryptionValidationResult) bool { return !r.HandlesMatch }},
		{"amount", func(e *DecryptionExpectation) { e.Amount = 251 }, func(r *DecryptionValidationResult) bool { return !r.ResultMatch }},
		{"winner", func(e *DecryptionExpectation) { e.Winner = common.Address{} }, func(r *DecryptionValidationResult) bool { return !r.ResultMatch }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expected := DecryptionExpectation{RequestID: "req-1", Max: handles, Amount: 250, Winner: winner}
			tt.mutate(&expected)
			result, err := ValidateDecryptionAttestation(attestation, expected, knownPCRs)
			assert.NoError(t, err)
			check.True(t, tt.check(result))
		})
	}
}

func TestValidateDecryptionAttestation_UnknownPCRs(t *testing.T) {
	attestation := signedAttestation(t, decryptionUserData())

	result, err := ValidateDecryptionAttestation(attestation, DecryptionExpectation{}, knownPCRs[:1])
	assert.NoError(t, err)
	check.False(t, result.PCRsValid)
}

func TestValidateKeyAttestation(t *testing.T) {
	attestation := signedAttestation(t, enclaveapi.KeyAttestationUserData{
		KeyAlgorithm:   "RSA-2048",
		PublicKey:      "-----BEGIN PUBLIC KEY-----\nrsa\n-----END PUBLIC KEY-----\n",
		ProofAlgorithm: "ES256",
		ProofKey:       "-----BEGIN PUBLIC KEY-----\nec\n-----END PUBLIC KEY-----\n",
	})

	result, err := ValidateKeyAttestation(attestation,
		"-----BEGIN PUBLIC KEY-----\nrsa\n-----END PUBLIC KEY-----",
		"-----BEGIN PUBLIC KEY-----\nother\n-----END PUBLIC KEY-----",
		knownPCRs)
	assert.NoError(t, err)
	check.True(t, result.PublicKeyMatch)
	check.False(t, result.ProofKeyMatch)
	check.True(t, result.SignatureValid)
}

func TestVerifyCOSESignature_Tampered(t *testing.T) {
	attestation := signedAttestation(t, decryptionUserData())
	raw, err := attestation.Decode()
	assert.NoError(t, err)
	doc, _, err := raw.ParseAttestationDoc()
	assert.NoError(t, err)

	check.NoError(t, VerifyCOSESignature(raw, doc.Certificate))

	other := signedAttestation(t, decryptionUserData())
	otherRaw, err := other.Decode()
	assert.NoError(t, err)
	otherDoc, _, err := otherRaw.ParseAttestationDoc()
	assert.NoError(t, err)
	check.Error(t, VerifyCOSESignature(raw, otherDoc.Certificate))
}

func TestVerifier_RejectsMissingAttestation(t *testing.T) {
	v := NewVerifier(knownPCRs)
	check.Error(t, v.VerifyDecryption("", DecryptionExpectation{}))
	check.Error(t, v.VerifyKeys("", "a", "b"))
}

func TestVerifier_RejectsUntrustedChain(t *testing.T) {
	v := NewVerifier(knownPCRs)
	attestation := signedAttestation(t, decryptionUserData())

	err := v.VerifyDecryption(attestation, DecryptionExpectation{RequestID: "req-1", Max: handles, Amount: 250, Winner: winner})
	check.Error(t, err)
}

func TestLoadPCRsFromFile(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "pcrs.json")
	assert.NoError(t, os.WriteFile(jsonPath, []byte(`{"pcr_sets":[{"pcr0":"aa","pcr1":"bb","pcr2":"cc","commit_hash":"abc"}]}`), 0o600))
	sets, err := LoadPCRsFromFile(jsonPath)
	assert.NoError(t, err)
	check.Equal(t, []PCRSet{{PCR0: "aa", PCR1: "bb", PCR2: "cc", CommitHash: "abc"}}, sets)

	yamlPath := filepath.Join(dir, "pcrs.yaml")
	assert.NoError(t, os.WriteFile(yamlPath, []byte("pcr_sets:\n  - pcr0: aa\n    pcr1: bb\n    pcr2: cc\n"), 0o600))
	sets, err = LoadPCRsFromFile(yamlPath)
	assert.NoError(t, err)
	check.Equal(t, "cc", sets[0].PCR2)

	emptyPath := filepath.Join(dir, "empty.yaml")
	assert.NoError(t, os.WriteFile(emptyPath, []byte("pcr_sets: []\n"), 0o600))
	_, err = LoadPCRsFromFile(emptyPath)
	check.Error(t, err)

	_, err = LoadPCRsFromFile(filepath.Join(dir, "missing.json"))
	check.Error(t, err)
}

func TestValidatePCRs(t *testing.T) {
	ok, idx := ValidatePCRs(enclaveapi.PCRs{ImageFileHash: "3b4cef", KernelHash: "4b4d5b", ApplicationHash: "2bdd28"}, knownPCRs)
	check.True(t, ok)
	check.Equal(t, 1, idx)

	ok, idx = ValidatePCRs(enclaveapi.PCRs{ImageFileHash: "3b4cef"}, knownPCRs)
	check.False(t, ok)
	check.Equal(t, -1, idx)
}
