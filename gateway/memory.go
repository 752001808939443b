package gateway

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/cipherbid/core"
)

// DefaultResolvedRetention is how many resolved decryption requests a Memory
// co-processor keeps for later lookups.
const DefaultResolvedRetention = 1024

// ciphertext is the plaintext a handle stands for. Only the co-processor sees it.
// Select-max outputs are derived and remember the maximum they were computed from.
type ciphertext struct {
	utype   core.UType
	zone    core.SecurityZone
	amount  uint32
	address common.Address
	derived bool
	parent  core.EncryptedMax
}

// decryptionRequest holds the plaintext captured when the request was made.
type decryptionRequest struct {
	max    core.EncryptedMax
	amount uint32
	winner common.Address
	result *core.Decryption
}

// Memory is an in-process reference co-processor. It issues encrypted inputs with
// COSE proofs, evaluates select-max over the plaintexts it keeps behind handles, and
// answers decryption requests either immediately or when Resolve is called.
type Memory struct {
	mu          sync.Mutex
	signer      *ProofSigner
	verifier    *ProofVerifier
	publicKey   *ecdsa.PublicKey
	ciphertexts map[core.Handle]ciphertext
	pending     map[string]*decryptionRequest
	resolved    *lru.Cache[string, *decryptionRequest]
	retention   int
	autoResolve bool
	log         zerolog.Logger
}

// MemoryOption configures a Memory co-processor.
type MemoryOption func(*Memory)

// WithAutoResolve makes decryption requests resolve as soon as they are made.
func WithAutoResolve() MemoryOption {
	return func(m *Memory) { m.autoResolve = true }
}

// WithResolvedRetention bounds how many resolved requests are kept. The least
// recently read are forgotten first. Pending requests are never dropped.
func WithResolvedRetention(n int) MemoryOption {
	return func(m *Memory) { m.retention = n }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) MemoryOption {
	return func(m *Memory) { m.log = log.With().Str("component", "coprocessor").Logger() }
}

// NewMemory creates a reference co-processor whose proofs are signed with key and
// bound to chainID.
func NewMemory(key *ecdsa.PrivateKey, chainID uint64, opts ...MemoryOption) (*Memory, error) {
	signer, err := NewProofSigner(key, chainID)
	if err != nil {
		return nil, err
	}
	verifier, err := NewProofVerifier(&key.PublicKey, chainID)
	if err != nil {
		return nil, err
	}

	m := &Memory{
		signer:      signer,
		verifier:    verifier,
		publicKey:   &key.PublicKey,
		ciphertexts: make(map[core.Handle]ciphertext),
		pending:     make(map[string]*decryptionRequest),
		retention:   DefaultResolvedRetention,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	resolved, err := lru.New[string, *decryptionRequest](m.retention)
	if err != nil {
		return nil, fmt.Errorf("invalid resolved retention %d: %w", m.retention, err)
	}
	m.resolved = resolved
	return m, nil
}

// PublicKeyPEM returns the proof verification key in PEM format.
func (m *Memory) PublicKeyPEM() (string, error) {
	return PublicKeyPEM(m.publicKey)
}

// Encrypt registers value as a euint32 ciphertext that sender may submit and returns
// the input with its proof.
func (m *Memory) Encrypt(_ context.Context, value uint32, zone core.SecurityZone, sender common.Address) (core.EncryptedInput, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return core.EncryptedInput{}, fmt.Errorf("entropy generation failed: %w", err)
	}

	handle := core.ComputeInputHandle(core.UTypeUint32, zone, sender, nonce)
	proof, err := m.signer.Sign(handle, core.UTypeUint32, zone, sender)
	if err != nil {
		return core.EncryptedInput{}, err
	}

	m.mu.Lock()
	m.ciphertexts[handle] = ciphertext{utype: core.UTypeUint32, zone: zone, amount: value}
	m.mu.Unlock()

	return core.EncryptedInput{
		Handle:       handle,
		SecurityZone: zone,
		UType:        core.UTypeUint32,
		Signature:    proof,
	}, nil
}

// EncryptAmount scales a display amount and encrypts it, as the bidder client does.
func (m *Memory) EncryptAmount(ctx context.Context, amount decimal.Decimal, zone core.SecurityZone, sender common.Address) (core.EncryptedInput, error) {
	scaled, err := core.ScaleAmount(amount)
	if err != nil {
		return core.EncryptedInput{}, err
	}
	return m.Encrypt(ctx, scaled, zone, sender)
}

// VerifyInput checks the input's proof and that the co-processor holds the ciphertext.
func (m *Memory) VerifyInput(_ context.Context, sender common.Address, in core.EncryptedInput) error {
	if err := m.verifier.Verify(sender, in); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	ct, ok := m.ciphertexts[in.Handle]
	if !ok {
		return fmt.Errorf("%w: unknown handle %s", core.ErrInvalidCiphertext, in.Handle.Hex())
	}
	if ct.utype != in.UType || ct.zone != in.SecurityZone {
		return fmt.Errorf("%w: handle %s does not match its proof", core.ErrInvalidCiphertext, in.Handle.Hex())
	}
	return nil
}

// TrivialEncryptZero returns the encrypted zero amount and zero address every round
// starts from.
func (m *Memory) TrivialEncryptZero(_ context.Context, zone core.SecurityZone) (core.EncryptedMax, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return core.EncryptedMax{
		Amount: m.trivialLocked(core.UTypeUint32, zone, 0, common.Address{}),
		Bidder: m.trivialLocked(core.UTypeAddress, zone, 0, common.Address{}),
	}, nil
}

func (m *Memory) trivialLocked(utype core.UType, zone core.SecurityZone, amount uint32, address common.Address) core.Handle {
	var value []byte
	if utype == core.UTypeAddress {
		value = address.Bytes()
	} else {
		value = binary.BigEndian.AppendUint32(nil, amount)
	}

	handle := core.ComputeTrivialHandle(utype, zone, value)
	m.ciphertexts[handle] = ciphertext{utype: utype, zone: zone, amount: amount, address: address}
	return handle
}

// SelectMax evaluates select_max(current, (bid, bidder)) and returns handles to the
// resulting amount and bidder. Both outputs get fresh handles whichever operand wins.
//
// The maximum current was derived from is superseded once current is extended, so
// its handles are dropped. current itself stays valid, which lets a caller retry
// from it.
func (m *Memory) SelectMax(_ context.Context, current core.EncryptedMax, bid core.Handle, bidder common.Address) (core.EncryptedMax, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	curAmount, ok := m.ciphertexts[current.Amount]
	if !ok {
		return core.EncryptedMax{}, fmt.Errorf("%w: unknown handle %s", core.ErrInvalidCiphertext, current.Amount.Hex())
	}
	curBidder, ok := m.ciphertexts[current.Bidder]
	if !ok {
		return core.EncryptedMax{}, fmt.Errorf("%w: unknown handle %s", core.ErrInvalidCiphertext, current.Bidder.Hex())
	}
	bidAmount, ok := m.ciphertexts[bid]
	if !ok {
		return core.EncryptedMax{}, fmt.Errorf("%w: unknown handle %s", core.ErrInvalidCiphertext, bid.Hex())
	}

	candidate := core.EncryptedMax{
		Amount: bid,
		Bidder: m.trivialLocked(core.UTypeAddress, bidAmount.zone, 0, bidder),
	}

	selected := core.SelectMax(
		core.PlainBid{Amount: curAmount.amount, Bidder: curBidder.address},
		core.PlainBid{Amount: bidAmount.amount, Bidder: bidder},
	)

	result := core.EncryptedMax{
		Amount: core.ComputeSelectHandle("amount", current, candidate),
		Bidder: core.ComputeSelectHandle("bidder", current, candidate),
	}
	m.ciphertexts[result.Amount] = ciphertext{utype: core.UTypeUint32, zone: bidAmount.zone, amount: selected.Amount, derived: true, parent: current}
	m.ciphertexts[result.Bidder] = ciphertext{utype: core.UTypeAddress, zone: bidAmount.zone, address: selected.Bidder, derived: true, parent: current}

	if curAmount.derived {
		m.dropDerivedLocked(curAmount.parent)
	}
	return result, nil
}

func (m *Memory) dropDerivedLocked(max core.EncryptedMax) {
	for _, h := range []core.Handle{max.Amount, max.Bidder} {
		if ct, ok := m.ciphertexts[h]; ok && ct.derived {
			delete(m.ciphertexts, h)
		}
	}
}

// RequestDecryption queues decryption of max and returns the request id.
func (m *Memory) RequestDecryption(_ context.Context, max core.EncryptedMax) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	amount, ok := m.ciphertexts[max.Amount]
	if !ok {
		return "", fmt.Errorf("%w: unknown handle %s", core.ErrInvalidCiphertext, max.Amount.Hex())
	}
	bidder, ok := m.ciphertexts[max.Bidder]
	if !ok {
		return "", fmt.Errorf("%w: unknown handle %s", core.ErrInvalidCiphertext, max.Bidder.Hex())
	}

	requestID := uuid.NewString()
	m.pending[requestID] = &decryptionRequest{max: max, amount: amount.amount, winner: bidder.address}
	m.log.Info().Str("request_id", requestID).Str("amount_handle", max.Amount.Hex()).Msg("decryption requested")

	if m.autoResolve {
		m.resolveLocked(requestID)
	}
	return requestID, nil
}

// DecryptionResult returns the resolved decryption, or core.ErrDecryptionPending.
func (m *Memory) DecryptionResult(_ context.Context, requestID string) (*core.Decryption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[requestID]; ok {
		return nil, core.ErrDecryptionPending
	}
	req, ok := m.resolved.Get(requestID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownDecryption, requestID)
	}
	result := *req.result
	return &result, nil
}

// Resolve completes a pending decryption request, the way the threshold network
// eventually answers, and returns the result for delivery to the auction.
func (m *Memory) Resolve(requestID string) (*core.Decryption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if req, ok := m.resolved.Get(requestID); ok {
		result := *req.result
		return &result, nil
	}
	if _, ok := m.pending[requestID]; !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownDecryption, requestID)
	}
	result := *m.resolveLocked(requestID)
	return &result, nil
}

// resolveLocked moves a pending request to the resolved cache.
func (m *Memory) resolveLocked(requestID string) *core.Decryption {
	req := m.pending[requestID]
	delete(m.pending, requestID)

	req.result = &core.Decryption{
		RequestID: requestID,
		Amount:    req.amount,
		Winner:    req.winner,
	}
	m.resolved.Add(requestID, req)
	m.log.Info().Str("request_id", requestID).Msg("decryption resolved")
	return req.result
}

// Pending returns the ids of unresolved decryption requests in sorted order.
func (m *Memory) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DecryptionInput returns the handles a decryption request was made for.
func (m *Memory) DecryptionInput(requestID string) (core.EncryptedMax, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if req, ok := m.pending[requestID]; ok {
		return req.max, nil
	}
	if req, ok := m.resolved.Peek(requestID); ok {
		return req.max, nil
	}
	return core.EncryptedMax{}, fmt.Errorf("%w: %s", core.ErrUnknownDecryption, requestID)
}
