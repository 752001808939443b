package enclave

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"testing"

	nitro "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"

	"github.com/cloudx-io/cipherbid/gateway"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

// MockEnclaveHandle stands in for the NSM.
type MockEnclaveHandle struct {
	AttestFunc func(options nitro.AttestationOptions) ([]byte, error)
}

func (m *MockEnclaveHandle) Attest(options nitro.AttestationOptions) ([]byte, error) {
	if m.AttestFunc != nil {
		return m.AttestFunc(options)
	}
	return nil, fmt.Errorf("mock not configured")
}

func mustDecodeHex(t *testing.T, hexStr string) []byte {
	t.Helper()
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		t.Fatalf("invalid hex string: %s", hexStr)
	}
	return b
}

// CreateMockEnclave returns an attester producing Nitro-shaped documents with
// unsigned placeholder certificates.
func CreateMockEnclave(t *testing.T) *MockEnclaveHandle {
	t.Helper()
	pcrs := map[uint64][]byte{
		0: mustDecodeHex(t, "3b4cef27e672fdbcc808960a88ddfe7329dd2e367b6850c9a8d910315f0b47e4224d6db361b75e010c87691d86ca9c57"),
		1: mustDecodeHex(t, "4b4d5b3661b3efc12920900c80e126e4ce783c522de6c02a2a5bf7af3a2b9327b86776f188e4be1c1c404a129dbda493"),
		2: mustDecodeHex(t, "2bdd28c1d85bb3872da3617a29a6bfeb50c65750c995f92e7dac6b5f2c4c72e0f9976bdee62a0b25864d10dffb535e11"),
	}
	return &MockEnclaveHandle{
		AttestFunc: func(options nitro.AttestationOptions) ([]byte, error) {
			doc, err := cbor.Marshal(map[string]any{
				"module_id":   "test-enclave-12345",
				"digest":      "SHA384",
				"timestamp":   uint64(1740830400000),
				"pcrs":        pcrs,
				"certificate": []byte("test-certificate-data"),
				"cabundle":    [][]byte{[]byte("test-ca-cert")},
				"public_key":  []byte("test-public-key-data"),
				"user_data":   options.UserData,
				"nonce":       options.Nonce,
			})
			if err != nil {
				return nil, err
			}
			return cbor.Marshal([]any{[]byte{0x01, 0x02, 0x03}, map[string]any{}, doc, []byte{0x04, 0x05, 0x06}})
		},
	}
}

type testCoprocessor struct {
	memory *gateway.Memory
	keys   *KeyManager
	server *Server
}

func newTestCoprocessor(t *testing.T, memOpts []gateway.MemoryOption, opts ...ServerOption) *testCoprocessor {
	t.Helper()
	keys, err := NewKeyManager(nil)
	assert.NoError(t, err)
	mem, err := gateway.NewMemory(keys.ProofKey(), 11155111, memOpts...)
	assert.NoError(t, err)
	return &testCoprocessor{memory: mem, keys: keys, server: NewServer(mem, keys, opts...)}
}

// pipeDialer serves each dial over an in-memory pipe.
func (c *testCoprocessor) pipeDialer() Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		client, server := net.Pipe()
		go c.server.handleConnection(ctx, server)
		return client, nil
	}
}
