// Command coprocessord runs the encryption co-processor inside a Nitro Enclave,
// serving the auction host over vsock.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cloudx-io/cipherbid/config"
	"github.com/cloudx-io/cipherbid/enclave"
	"github.com/cloudx-io/cipherbid/gateway"
)

type options struct {
	port           uint32
	maxWorkers     int
	chainID        uint64
	signingKeyPath string
	logLevel       string
	logFormat      string
	insecure       bool
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:          "coprocessord",
		Short:        "Encryption co-processor for cipherbid auctions",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Flag defaults come from CIPHERBID_* variables.
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			applyFlags(cmd, cfg, opts)
			if err := cfg.Coprocessor.Validate(); err != nil {
				return err
			}
			log := cfg.Logger(os.Stderr).With().Str("service", "coprocessord").Logger()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server, err := buildServer(cfg, opts.insecure, log)
			if err != nil {
				return err
			}
			return server.ListenAndServe(ctx, cfg.Coprocessor.Port)
		},
	}

	defaults := config.Default()
	cmd.Flags().Uint32Var(&opts.port, "port", defaults.Coprocessor.Port, "vsock port to listen on")
	cmd.Flags().IntVar(&opts.maxWorkers, "max-workers", defaults.Coprocessor.MaxWorkers, "maximum concurrent connections")
	cmd.Flags().Uint64Var(&opts.chainID, "chain-id", defaults.ChainID, "chain id bound into input proofs")
	cmd.Flags().StringVar(&opts.signingKeyPath, "signing-key", "", "PEM file with the P-256 proof signing key (generated when empty)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", defaults.LogLevel, "log level")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", defaults.LogFormat, "log format: json or console")
	cmd.Flags().BoolVar(&opts.insecure, "insecure-no-attestation", false, "serve without NSM attestation (outside an enclave)")
	return cmd
}

// applyFlags overrides cfg with the flags that were set explicitly.
func applyFlags(cmd *cobra.Command, cfg *config.Config, opts options) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Coprocessor.Port = opts.port
	}
	if flags.Changed("max-workers") {
		cfg.Coprocessor.MaxWorkers = opts.maxWorkers
	}
	if flags.Changed("chain-id") {
		cfg.ChainID = opts.chainID
	}
	if flags.Changed("signing-key") {
		cfg.Coprocessor.SigningKeyPath = opts.signingKeyPath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = opts.logFormat
	}
}

func buildServer(cfg *config.Config, insecure bool, log zerolog.Logger) (*enclave.Server, error) {
	key, err := gateway.LoadSigningKey(cfg.Coprocessor.SigningKeyPath)
	if err != nil {
		return nil, err
	}
	mem, err := gateway.NewMemory(key, cfg.ChainID, gateway.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("failed to create co-processor: %w", err)
	}
	keys, err := enclave.NewKeyManager(key)
	if err != nil {
		return nil, err
	}

	opts := []enclave.ServerOption{
		enclave.WithMaxWorkers(cfg.Coprocessor.MaxWorkers),
		enclave.WithServerLogger(log),
	}
	if insecure {
		log.Warn().Msg("attestation disabled; results cannot be verified by bidders")
	} else {
		attester, err := enclave.NSMAttester()
		if err != nil {
			return nil, err
		}
		opts = append(opts, enclave.WithAttester(attester))
	}
	return enclave.NewServer(mem, keys, opts...), nil
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
