// Package enclaveapi defines the messages exchanged with the encryption
// co-processor over vsock and the attestation documents it produces.
package enclaveapi

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cloudx-io/cipherbid/core"
)

// Request types understood by the co-processor.
const (
	RequestPing              = "ping"
	RequestKey               = "key_request"
	RequestEncryptInput      = "encrypt_input"
	RequestVerifyInput       = "verify_input"
	RequestTrivialEncrypt    = "trivial_encrypt"
	RequestSelectMax         = "select_max"
	RequestDecryption        = "request_decryption"
	RequestDecryptionResult  = "decryption_result"
	RequestResolveDecryption = "resolve_decryption"
	RequestPendingDecryption = "pending_decryptions"
)

// Response types.
const (
	ResponsePong       = "pong"
	ResponseKey        = "key_response"
	ResponseInput      = "input"
	ResponseOK         = "ok"
	ResponseMax        = "encrypted_max"
	ResponseRequest    = "decryption_requested"
	ResponseDecryption = "decryption"
	ResponsePending    = "pending"
	ResponseError      = "error"
)

// Error codes carried by error responses so clients can map them back to
// sentinel errors.
const (
	CodeInvalidCiphertext = "invalid_ciphertext"
	CodeDecryptionPending = "decryption_pending"
	CodeUnknownDecryption = "unknown_decryption"
	CodeBadRequest        = "bad_request"
	CodeInternal          = "internal"
)

// EncryptedAmount is a bid amount sealed to the co-processor's RSA key with
// RSA-OAEP/AES-256-GCM. The payload decrypts to {"amount": "<decimal>"}. Only the
// co-processor can open it, so plaintext amounts never cross the host.
type EncryptedAmount struct {
	AESKeyEncrypted  string `json:"aes_key_encrypted"`        // base64 RSA-OAEP encrypted AES key
	EncryptedPayload string `json:"encrypted_payload"`        // base64 AES-GCM ciphertext
	Nonce            string `json:"nonce"`                    // base64 GCM nonce (12 bytes)
	HashAlgorithm    string `json:"hash_algorithm,omitempty"` // "SHA-256" (default) or "SHA-1"
}

// Request is a single co-processor call. Which fields are read depends on Type.
type Request struct {
	Type      string               `json:"type"`
	Sender    common.Address       `json:"sender,omitempty"`
	Zone      core.SecurityZone    `json:"security_zone,omitempty"`
	Amount    *EncryptedAmount     `json:"amount,omitempty"`
	Input     *core.EncryptedInput `json:"input,omitempty"`
	Current   *core.EncryptedMax   `json:"current,omitempty"`
	Bid       core.Handle          `json:"bid,omitempty"`
	Max       *core.EncryptedMax   `json:"max,omitempty"`
	RequestID string               `json:"request_id,omitempty"`
}

// Response answers a Request.
type Response struct {
	Type       string               `json:"type"`
	Code       string               `json:"code,omitempty"`
	Message    string               `json:"message,omitempty"`
	Timestamp  int64                `json:"timestamp,omitempty"`
	Input      *core.EncryptedInput `json:"input,omitempty"`
	Max        *core.EncryptedMax   `json:"max,omitempty"`
	RequestID  string               `json:"request_id,omitempty"`
	RequestIDs []string             `json:"request_ids,omitempty"`
	Decryption *DecryptionResponse  `json:"decryption,omitempty"`
	Key        *KeyResponse         `json:"key,omitempty"`
}

// DecryptionResponse is a resolved decryption together with the attestation that
// binds it to the enclave that produced it.
type DecryptionResponse struct {
	RequestID             string                `json:"request_id"`
	Amount                uint32                `json:"amount"`
	Winner                common.Address        `json:"winner"`
	AttestationCOSEBase64 AttestationCOSEBase64 `json:"attestation_cose_base64,omitempty"`
}

// KeyResponse carries the co-processor's public keys and an attestation over them.
type KeyResponse struct {
	PublicKey             string                `json:"public_key"` // RSA envelope key, PEM
	ProofKey              string                `json:"proof_key"`  // ECDSA input proof key, PEM
	AttestationCOSEBase64 AttestationCOSEBase64 `json:"attestation_cose_base64,omitempty"`
}

// PCRs are the Platform Configuration Registers from an AWS Nitro attestation.
type PCRs struct {
	// PCR0: hash of the enclave image file
	ImageFileHash string `json:"0"`

	// PCR1: hash of the kernel and initramfs
	KernelHash string `json:"1"`

	// PCR2: hash of user applications
	ApplicationHash string `json:"2"`

	// PCR3: hash of the parent instance's IAM role
	IAMRoleHash string `json:"3"`

	// PCR4: hash of the parent instance's ID
	InstanceIDHash string `json:"4"`

	// PCR8: hash of the enclave image signing certificate
	SigningCertHash string `json:"8,omitempty"`
}

// AttestationDoc holds the fields common to every Nitro attestation.
type AttestationDoc struct {
	ModuleID        string    `json:"module_id"`
	Timestamp       time.Time `json:"timestamp"`
	DigestAlgorithm string    `json:"digest"`
	PCRs            PCRs      `json:"pcrs"`
	Certificate     string    `json:"certificate"`
	CABundle        []string  `json:"cabundle"`
	PublicKey       string    `json:"public_key"`
	Nonce           string    `json:"nonce"`
}

// DecryptionAttestationUserData is embedded in the attestation of a decryption
// result. It ties the plaintext to the handles that were decrypted.
type DecryptionAttestationUserData struct {
	RequestID    string    `json:"request_id"`
	AmountHandle string    `json:"amount_handle"`
	BidderHandle string    `json:"bidder_handle"`
	Amount       uint32    `json:"amount"`
	Winner       string    `json:"winner"`
	Timestamp    time.Time `json:"timestamp"`
}

// DecryptionAttestationDoc is a parsed decryption attestation.
type DecryptionAttestationDoc struct {
	AttestationDoc
	UserData *DecryptionAttestationUserData `json:"user_data"`
}

// KeyAttestationUserData is embedded in the attestation of the co-processor's keys.
type KeyAttestationUserData struct {
	KeyAlgorithm   string `json:"key_algorithm"`   // e.g. "RSA-2048"
	PublicKey      string `json:"public_key"`      // PEM
	ProofAlgorithm string `json:"proof_algorithm"` // e.g. "ES256"
	ProofKey       string `json:"proof_key"`       // PEM
}

// KeyAttestationDoc is a parsed key attestation.
type KeyAttestationDoc struct {
	AttestationDoc
	UserData *KeyAttestationUserData `json:"user_data"`
}
