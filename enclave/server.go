// Package enclave runs the encryption co-processor inside an AWS Nitro Enclave and
// provides the client the auction host uses to reach it over vsock.
package enclave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mdlayher/vsock"
	"github.com/rs/zerolog"

	"github.com/cloudx-io/cipherbid/core"
	"github.com/cloudx-io/cipherbid/enclaveapi"
	"github.com/cloudx-io/cipherbid/gateway"
)

// Server answers co-processor requests, one request per connection.
type Server struct {
	gw          *gateway.Memory
	keys        *KeyManager
	attester    EnclaveAttester
	maxWorkers  int
	readTimeout time.Duration
	log         zerolog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAttester attests decryption results and keys. Without one, responses carry
// no attestation.
func WithAttester(a EnclaveAttester) ServerOption {
	return func(s *Server) { s.attester = a }
}

// WithMaxWorkers bounds concurrent connections. Connections beyond it are closed
// immediately.
func WithMaxWorkers(n int) ServerOption {
	return func(s *Server) { s.maxWorkers = n }
}

// WithReadTimeout bounds how long a connection may take to send its request.
func WithReadTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.readTimeout = d }
}

// WithServerLogger sets the logger.
func WithServerLogger(log zerolog.Logger) ServerOption {
	return func(s *Server) { s.log = log.With().Str("component", "enclave_server").Logger() }
}

// NewServer creates a server backed by gw. keys must hold the proof key gw signs with.
func NewServer(gw *gateway.Memory, keys *KeyManager, opts ...ServerOption) *Server {
	s := &Server{
		gw:          gw,
		keys:        keys,
		maxWorkers:  16,
		readTimeout: 30 * time.Second,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe serves on a vsock port until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, port uint32) error {
	listener, err := vsock.Listen(port, nil)
	if err != nil {
		return fmt.Errorf("failed to create vsock listener: %w", err)
	}
	s.log.Info().Uint32("port", port).Msg("co-processor listening on vsock")
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is done or the listener fails.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	semaphore := make(chan struct{}, s.maxWorkers)
	s.log.Info().Int("max_workers", s.maxWorkers).Msg("worker pool initialized")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.Error().Err(err).Msg("failed to accept connection")
			continue
		}

		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }()
				s.handleConnection(ctx, c)
			}(conn)
		default:
			s.log.Warn().Msg("no workers available, rejecting connection")
			if err := conn.Close(); err != nil {
				s.log.Error().Err(err).Msg("failed to close rejected connection")
			}
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("panic recovered in connection handler")
		}
		if err := conn.Close(); err != nil {
			s.log.Debug().Err(err).Msg("failed to close connection")
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))

	var req enclaveapi.Request
	var resp enclaveapi.Response
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.log.Error().Err(err).Msg("failed to decode request")
		resp = errorResponse(enclaveapi.CodeBadRequest, fmt.Errorf("failed to decode request: %w", err))
	} else {
		resp = s.Handle(ctx, req)
	}

	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.Error().Err(err).Str("type", req.Type).Msg("failed to encode response")
		return
	}
	s.log.Debug().Str("type", req.Type).Str("response", resp.Type).Msg("request served")
}

// Handle answers a single request.
func (s *Server) Handle(ctx context.Context, req enclaveapi.Request) enclaveapi.Response {
	switch req.Type {
	case enclaveapi.RequestPing:
		return enclaveapi.Response{
			Type:      enclaveapi.ResponsePong,
			Message:   "co-processor is healthy",
			Timestamp: time.Now().Unix(),
		}

	case enclaveapi.RequestKey:
		key, err := HandleKeyRequest(s.attester, s.keys)
		if err != nil {
			return s.fail("key request", err)
		}
		return enclaveapi.Response{Type: enclaveapi.ResponseKey, Key: key}

	case enclaveapi.RequestEncryptInput:
		amount, err := OpenAmount(req.Amount, s.keys.privateKey)
		if err != nil {
			return errorResponse(enclaveapi.CodeBadRequest, fmt.Errorf("failed to open sealed amount: %w", err))
		}
		in, err := s.gw.EncryptAmount(ctx, amount, req.Zone, req.Sender)
		if err != nil {
			return errorResponse(enclaveapi.CodeBadRequest, err)
		}
		return enclaveapi.Response{Type: enclaveapi.ResponseInput, Input: &in}

	case enclaveapi.RequestVerifyInput:
		if req.Input == nil {
			return errorResponse(enclaveapi.CodeBadRequest, errors.New("input is required"))
		}
		if err := s.gw.VerifyInput(ctx, req.Sender, *req.Input); err != nil {
			return s.fail("verify input", err)
		}
		return enclaveapi.Response{Type: enclaveapi.ResponseOK}

	case enclaveapi.RequestTrivialEncrypt:
		zero, err := s.gw.TrivialEncryptZero(ctx, req.Zone)
		if err != nil {
			return s.fail("trivial encrypt", err)
		}
		return enclaveapi.Response{Type: enclaveapi.ResponseMax, Max: &zero}

	case enclaveapi.RequestSelectMax:
		if req.Current == nil {
			return errorResponse(enclaveapi.CodeBadRequest, errors.New("current is required"))
		}
		next, err := s.gw.SelectMax(ctx, *req.Current, req.Bid, req.Sender)
		if err != nil {
			return s.fail("select max", err)
		}
		return enclaveapi.Response{Type: enclaveapi.ResponseMax, Max: &next}

	case enclaveapi.RequestDecryption:
		if req.Max == nil {
			return errorResponse(enclaveapi.CodeBadRequest, errors.New("max is required"))
		}
		id, err := s.gw.RequestDecryption(ctx, *req.Max)
		if err != nil {
			return s.fail("request decryption", err)
		}
		return enclaveapi.Response{Type: enclaveapi.ResponseRequest, RequestID: id}

	case enclaveapi.RequestDecryptionResult:
		result, err := s.gw.DecryptionResult(ctx, req.RequestID)
		if err != nil {
			return s.fail("decryption result", err)
		}
		return s.decryptionResponse(result)

	case enclaveapi.RequestResolveDecryption:
		result, err := s.gw.Resolve(req.RequestID)
		if err != nil {
			return s.fail("resolve decryption", err)
		}
		return s.decryptionResponse(result)

	case enclaveapi.RequestPendingDecryption:
		return enclaveapi.Response{Type: enclaveapi.ResponsePending, RequestIDs: s.gw.Pending()}

	default:
		return errorResponse(enclaveapi.CodeBadRequest, fmt.Errorf("unknown request type: %s", req.Type))
	}
}

func (s *Server) decryptionResponse(result *core.Decryption) enclaveapi.Response {
	resp := &enclaveapi.DecryptionResponse{
		RequestID: result.RequestID,
		Amount:    result.Amount,
		Winner:    result.Winner,
	}

	if s.attester != nil {
		max, err := s.gw.DecryptionInput(result.RequestID)
		if err != nil {
			return s.fail("decryption attestation", err)
		}
		attestation, err := GenerateDecryptionAttestation(s.attester, result, max)
		if err != nil {
			return s.fail("decryption attestation", err)
		}
		resp.AttestationCOSEBase64 = attestation.EncodeBase64()
	}
	return enclaveapi.Response{Type: enclaveapi.ResponseDecryption, Decryption: resp}
}

func (s *Server) fail(op string, err error) enclaveapi.Response {
	code := codeFor(err)
	if code == enclaveapi.CodeInternal {
		s.log.Error().Err(err).Str("op", op).Msg("request failed")
	} else {
		s.log.Debug().Err(err).Str("op", op).Str("code", code).Msg("request rejected")
	}
	return errorResponse(code, fmt.Errorf("%s: %w", op, err))
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, core.ErrInvalidCiphertext):
		return enclaveapi.CodeInvalidCiphertext
	case errors.Is(err, core.ErrDecryptionPending):
		return enclaveapi.CodeDecryptionPending
	case errors.Is(err, core.ErrUnknownDecryption):
		return enclaveapi.CodeUnknownDecryption
	default:
		return enclaveapi.CodeInternal
	}
}

func errorResponse(code string, err error) enclaveapi.Response {
	return enclaveapi.Response{Type: enclaveapi.ResponseError, Code: code, Message: err.Error()}
}
