package enclave

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/cipherbid/enclaveapi"
)

// HashAlgorithm selects the RSA-OAEP hash for sealed amounts.
type HashAlgorithm string

const (
	HashAlgorithmSHA256 HashAlgorithm = "SHA-256"
	// HashAlgorithmSHA1 is accepted for browser clients that only offer SHA-1 OAEP.
	HashAlgorithmSHA1 HashAlgorithm = "SHA-1"
)

type amountPayload struct {
	Amount decimal.Decimal `json:"amount"`
}

// GenerateRSAKeyPair generates the RSA-2048 key bidders seal amounts to.
func GenerateRSAKeyPair() (*rsa.PrivateKey, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key pair: %w", err)
	}
	return privateKey, nil
}

func newHash(hashAlg HashAlgorithm) (hash.Hash, error) {
	switch hashAlg {
	case HashAlgorithmSHA256, "":
		return sha256.New(), nil
	case HashAlgorithmSHA1:
		return sha1.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", hashAlg)
	}
}

// SealAmount encrypts amount to the co-processor's public key with RSA-OAEP and
// AES-256-GCM, the way a bidder's client does before submitting it.
func SealAmount(amount decimal.Decimal, publicKey *rsa.PublicKey) (*enclaveapi.EncryptedAmount, error) {
	plaintext, err := json.Marshal(amountPayload{Amount: amount})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal amount: %w", err)
	}

	hasher, err := newHash(HashAlgorithmSHA256)
	if err != nil {
		return nil, err
	}

	aesKey := make([]byte, 32)
	if _, err := rand.Read(aesKey); err != nil {
		return nil, fmt.Errorf("failed to generate AES key: %w", err)
	}

	aesgcm, err := newGCM(aesKey)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	encryptedKey, err := rsa.EncryptOAEP(hasher, rand.Reader, publicKey, aesKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt AES key: %w", err)
	}

	return &enclaveapi.EncryptedAmount{
		AESKeyEncrypted:  base64.StdEncoding.EncodeToString(encryptedKey),
		EncryptedPayload: base64.StdEncoding.EncodeToString(aesgcm.Seal(nil, nonce, plaintext, nil)),
		Nonce:            base64.StdEncoding.EncodeToString(nonce),
		HashAlgorithm:    string(HashAlgorithmSHA256),
	}, nil
}

// OpenAmount decrypts a sealed amount.
func OpenAmount(sealed *enclaveapi.EncryptedAmount, privateKey *rsa.PrivateKey) (decimal.Decimal, error) {
	if sealed == nil {
		return decimal.Zero, fmt.Errorf("sealed amount is missing")
	}

	plaintext, err := decryptHybrid(sealed, privateKey)
	if err != nil {
		return decimal.Zero, err
	}

	var payload amountPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse amount payload: %w", err)
	}
	return payload.Amount, nil
}

func decryptHybrid(sealed *enclaveapi.EncryptedAmount, privateKey *rsa.PrivateKey) ([]byte, error) {
	encryptedKey, err := base64.StdEncoding.DecodeString(sealed.AESKeyEncrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted AES key: %w", err)
	}
	payload, err := base64.StdEncoding.DecodeString(sealed.EncryptedPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted payload: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(sealed.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to decode nonce: %w", err)
	}

	hasher, err := newHash(HashAlgorithm(sealed.HashAlgorithm))
	if err != nil {
		return nil, err
	}

	aesKey, err := rsa.DecryptOAEP(hasher, rand.Reader, privateKey, encryptedKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt AES key: %w", err)
	}
	if len(aesKey) != 32 {
		return nil, fmt.Errorf("invalid AES key length: expected 32 bytes, got %d", len(aesKey))
	}

	aesgcm, err := newGCM(aesKey)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aesgcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce length: expected %d bytes, got %d", aesgcm.NonceSize(), len(nonce))
	}

	plaintext, err := aesgcm.Open(nil, nonce, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt payload: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesgcm, nil
}
