package enclave

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mdlayher/vsock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/cipherbid/core"
	"github.com/cloudx-io/cipherbid/enclaveapi"
	"github.com/cloudx-io/cipherbid/validation"
)

// Dialer opens a connection to the co-processor.
type Dialer func(ctx context.Context) (net.Conn, error)

// VsockDialer dials the co-processor enclave at cid:port.
func VsockDialer(cid, port uint32) Dialer {
	return func(context.Context) (net.Conn, error) {
		return vsock.Dial(cid, port, nil)
	}
}

// AttestationVerifier checks the attestations the co-processor returns.
type AttestationVerifier interface {
	VerifyDecryption(attestation enclaveapi.AttestationCOSEBase64, expected validation.DecryptionExpectation) error
	VerifyKeys(attestation enclaveapi.AttestationCOSEBase64, publicKeyPEM, proofKeyPEM string) error
}

// Client reaches the co-processor over a Dialer. It satisfies the auction's
// Gateway interface.
type Client struct {
	dial     Dialer
	timeout  time.Duration
	verifier AttestationVerifier
	log      zerolog.Logger

	requested *lru.Cache[string, core.EncryptedMax]
	retention int

	mu        sync.Mutex
	publicKey *rsa.PublicKey
}

// DefaultRequestRetention is how many decryption requests a Client remembers for
// attestation checks.
const DefaultRequestRetention = 1024

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithAttestationVerifier rejects decryption results and keys whose attestation
// does not verify. Results without an attestation are rejected too.
func WithAttestationVerifier(v AttestationVerifier) ClientOption {
	return func(c *Client) { c.verifier = v }
}

// WithRequestRetention bounds how many decryption requests are remembered. Results
// of forgotten requests fail attestation checks. Values below 1 keep the default.
func WithRequestRetention(n int) ClientOption {
	return func(c *Client) {
		if n >= 1 {
			c.retention = n
		}
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log.With().Str("component", "enclave_client").Logger() }
}

// NewClient creates a co-processor client.
func NewClient(dial Dialer, opts ...ClientOption) *Client {
	c := &Client{
		dial:      dial,
		timeout:   10 * time.Second,
		log:       zerolog.Nop(),
		retention: DefaultRequestRetention,
	}
	for _, opt := range opts {
		opt(c)
	}
	// retention is at least 1, so lru.New cannot fail.
	c.requested, _ = lru.New[string, core.EncryptedMax](c.retention)
	return c
}

// Ping checks that the co-processor is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.roundTrip(ctx, enclaveapi.Request{Type: enclaveapi.RequestPing}, enclaveapi.ResponsePong)
	return err
}

// Keys fetches the co-processor's public keys.
func (c *Client) Keys(ctx context.Context) (*enclaveapi.KeyResponse, error) {
	resp, err := c.roundTrip(ctx, enclaveapi.Request{Type: enclaveapi.RequestKey}, enclaveapi.ResponseKey)
	if err != nil {
		return nil, err
	}
	if resp.Key == nil {
		return nil, fmt.Errorf("key response is empty")
	}
	if c.verifier != nil {
		if err := c.verifier.VerifyKeys(resp.Key.AttestationCOSEBase64, resp.Key.PublicKey, resp.Key.ProofKey); err != nil {
			return nil, fmt.Errorf("key attestation rejected: %w", err)
		}
	}
	return resp.Key, nil
}

// EncryptAmount seals amount to the co-processor's key and has it issue an
// encrypted input for sender.
func (c *Client) EncryptAmount(ctx context.Context, amount decimal.Decimal, zone core.SecurityZone, sender common.Address) (core.EncryptedInput, error) {
	pub, err := c.sealingKey(ctx)
	if err != nil {
		return core.EncryptedInput{}, err
	}
	sealed, err := SealAmount(amount, pub)
	if err != nil {
		return core.EncryptedInput{}, err
	}

	resp, err := c.roundTrip(ctx, enclaveapi.Request{
		Type:   enclaveapi.RequestEncryptInput,
		Sender: sender,
		Zone:   zone,
		Amount: sealed,
	}, enclaveapi.ResponseInput)
	if err != nil {
		return core.EncryptedInput{}, err
	}
	if resp.Input == nil {
		return core.EncryptedInput{}, fmt.Errorf("input response is empty")
	}
	return *resp.Input, nil
}

func (c *Client) sealingKey(ctx context.Context) (*rsa.PublicKey, error) {
	c.mu.Lock()
	pub := c.publicKey
	c.mu.Unlock()
	if pub != nil {
		return pub, nil
	}

	keys, err := c.Keys(ctx)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode([]byte(keys.PublicKey))
	if block == nil {
		return nil, fmt.Errorf("co-processor public key is not PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse co-processor public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("co-processor public key is not RSA")
	}

	c.mu.Lock()
	c.publicKey = pub
	c.mu.Unlock()
	return pub, nil
}

// VerifyInput checks an encrypted input's proof.
func (c *Client) VerifyInput(ctx context.Context, sender common.Address, in core.EncryptedInput) error {
	_, err := c.roundTrip(ctx, enclaveapi.Request{
		Type:   enclaveapi.RequestVerifyInput,
		Sender: sender,
		Input:  &in,
	}, enclaveapi.ResponseOK)
	return err
}

// TrivialEncryptZero returns the encrypted zero maximum.
func (c *Client) TrivialEncryptZero(ctx context.Context, zone core.SecurityZone) (core.EncryptedMax, error) {
	resp, err := c.roundTrip(ctx, enclaveapi.Request{Type: enclaveapi.RequestTrivialEncrypt, Zone: zone}, enclaveapi.ResponseMax)
	if err != nil {
		return core.EncryptedMax{}, err
	}
	return maxFrom(resp)
}

// SelectMax evaluates select_max on the co-processor.
func (c *Client) SelectMax(ctx context.Context, current core.EncryptedMax, bid core.Handle, bidder common.Address) (core.EncryptedMax, error) {
	resp, err := c.roundTrip(ctx, enclaveapi.Request{
		Type:    enclaveapi.RequestSelectMax,
		Sender:  bidder,
		Current: &current,
		Bid:     bid,
	}, enclaveapi.ResponseMax)
	if err != nil {
		return core.EncryptedMax{}, err
	}
	return maxFrom(resp)
}

// RequestDecryption asks for max to be decrypted.
func (c *Client) RequestDecryption(ctx context.Context, max core.EncryptedMax) (string, error) {
	resp, err := c.roundTrip(ctx, enclaveapi.Request{Type: enclaveapi.RequestDecryption, Max: &max}, enclaveapi.ResponseRequest)
	if err != nil {
		return "", err
	}

	c.requested.Add(resp.RequestID, max)
	return resp.RequestID, nil
}

// DecryptionResult fetches a decryption result, verifying its attestation when a
// verifier is configured.
func (c *Client) DecryptionResult(ctx context.Context, requestID string) (*core.Decryption, error) {
	resp, err := c.roundTrip(ctx, enclaveapi.Request{Type: enclaveapi.RequestDecryptionResult, RequestID: requestID}, enclaveapi.ResponseDecryption)
	if err != nil {
		return nil, err
	}
	return c.decryptionFrom(resp, requestID)
}

// Resolve completes a pending decryption on a co-processor that does not resolve
// requests on its own.
func (c *Client) Resolve(ctx context.Context, requestID string) (*core.Decryption, error) {
	resp, err := c.roundTrip(ctx, enclaveapi.Request{Type: enclaveapi.RequestResolveDecryption, RequestID: requestID}, enclaveapi.ResponseDecryption)
	if err != nil {
		return nil, err
	}
	return c.decryptionFrom(resp, requestID)
}

// Pending lists unresolved decryption requests.
func (c *Client) Pending(ctx context.Context) ([]string, error) {
	resp, err := c.roundTrip(ctx, enclaveapi.Request{Type: enclaveapi.RequestPendingDecryption}, enclaveapi.ResponsePending)
	if err != nil {
		return nil, err
	}
	return resp.RequestIDs, nil
}

func (c *Client) decryptionFrom(resp *enclaveapi.Response, requestID string) (*core.Decryption, error) {
	d := resp.Decryption
	if d == nil || d.RequestID != requestID {
		return nil, fmt.Errorf("decryption response does not match request %s", requestID)
	}

	if c.verifier != nil {
		max, ok := c.requested.Get(requestID)
		if !ok {
			return nil, fmt.Errorf("%w: %s was not requested by this client", core.ErrUnknownDecryption, requestID)
		}
		expected := validation.DecryptionExpectation{
			RequestID: requestID,
			Max:       max,
			Amount:    d.Amount,
			Winner:    d.Winner,
		}
		if err := c.verifier.VerifyDecryption(d.AttestationCOSEBase64, expected); err != nil {
			return nil, fmt.Errorf("decryption attestation rejected: %w", err)
		}
	}

	result := &core.Decryption{
		RequestID: d.RequestID,
		Amount:    d.Amount,
		Winner:    d.Winner,
	}
	if d.AttestationCOSEBase64 != "" {
		raw, err := d.AttestationCOSEBase64.Decode()
		if err != nil {
			return nil, err
		}
		result.Attestation = raw
	}
	return result, nil
}

func maxFrom(resp *enclaveapi.Response) (core.EncryptedMax, error) {
	if resp.Max == nil {
		return core.EncryptedMax{}, fmt.Errorf("encrypted max response is empty")
	}
	return *resp.Max, nil
}

func (c *Client) roundTrip(ctx context.Context, req enclaveapi.Request, want string) (*enclaveapi.Response, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to co-processor: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", req.Type, err)
	}

	var resp enclaveapi.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", req.Type, err)
	}

	if resp.Type == enclaveapi.ResponseError {
		err := errorFromCode(resp.Code, resp.Message)
		c.log.Debug().Err(err).Str("type", req.Type).Msg("co-processor rejected request")
		return nil, err
	}
	if resp.Type != want {
		return nil, fmt.Errorf("unexpected response to %s: %s", req.Type, resp.Type)
	}
	return &resp, nil
}

func errorFromCode(code, message string) error {
	switch code {
	case enclaveapi.CodeInvalidCiphertext:
		return fmt.Errorf("%w: %s", core.ErrInvalidCiphertext, message)
	case enclaveapi.CodeDecryptionPending:
		return fmt.Errorf("%w: %s", core.ErrDecryptionPending, message)
	case enclaveapi.CodeUnknownDecryption:
		return fmt.Errorf("%w: %s", core.ErrUnknownDecryption, message)
	default:
		return errors.New("co-processor error: " + message)
	}
}
