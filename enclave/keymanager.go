package enclave

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/cloudx-io/cipherbid/enclaveapi"
	"github.com/cloudx-io/cipherbid/gateway"
)

// KeyManager holds the co-processor's key material: the RSA key bidders seal
// amounts to and the ECDSA key that signs input proofs.
type KeyManager struct {
	privateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
	proofKey   *ecdsa.PrivateKey
}

// NewKeyManager generates fresh keys. proofKey may be nil, in which case a proof
// key is generated too.
func NewKeyManager(proofKey *ecdsa.PrivateKey) (*KeyManager, error) {
	privateKey, err := GenerateRSAKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	if proofKey == nil {
		proofKey, err = gateway.GenerateSigningKey()
		if err != nil {
			return nil, err
		}
	}

	return &KeyManager{
		privateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		proofKey:   proofKey,
	}, nil
}

// ProofKey returns the input proof signing key.
func (km *KeyManager) ProofKey() *ecdsa.PrivateKey {
	return km.proofKey
}

// PublicKeyPEM returns the RSA public key in PEM format.
func (km *KeyManager) PublicKeyPEM() (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(km.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: derBytes})), nil
}

// ProofKeyPEM returns the proof verification key in PEM format.
func (km *KeyManager) ProofKeyPEM() (string, error) {
	return gateway.PublicKeyPEM(&km.proofKey.PublicKey)
}

// HandleKeyRequest returns both public keys with an attestation over them. With a
// nil attester the keys are returned unattested.
func HandleKeyRequest(attester EnclaveAttester, km *KeyManager) (*enclaveapi.KeyResponse, error) {
	publicKeyPEM, err := km.PublicKeyPEM()
	if err != nil {
		return nil, fmt.Errorf("failed to export public key: %w", err)
	}
	proofKeyPEM, err := km.ProofKeyPEM()
	if err != nil {
		return nil, fmt.Errorf("failed to export proof key: %w", err)
	}

	resp := &enclaveapi.KeyResponse{
		PublicKey: publicKeyPEM,
		ProofKey:  proofKeyPEM,
	}
	if attester == nil {
		return resp, nil
	}

	attestation, err := GenerateKeyAttestation(attester, publicKeyPEM, proofKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key attestation: %w", err)
	}
	resp.AttestationCOSEBase64 = attestation.EncodeBase64()
	return resp, nil
}
