package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cloudx-io/cipherbid/api"
	"github.com/cloudx-io/cipherbid/auction"
	"github.com/cloudx-io/cipherbid/config"
	"github.com/cloudx-io/cipherbid/core"
	"github.com/cloudx-io/cipherbid/enclave"
	"github.com/cloudx-io/cipherbid/escrow"
	"github.com/cloudx-io/cipherbid/gateway"
	"github.com/cloudx-io/cipherbid/history"
	"github.com/cloudx-io/cipherbid/metrics"
	"github.com/cloudx-io/cipherbid/validation"
)

var version = "dev"

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the auction HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log := cfg.Logger(os.Stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := buildService(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer svc.Close()

			return svc.api.ListenAndServe(ctx, cfg.ListenAddr)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	return cmd
}

// service is the wired auction stack.
type service struct {
	gateway auction.Gateway
	auction *auction.Auction
	api     *api.Server
	escrow  *escrow.Escrow
	history *history.Store
	log     zerolog.Logger
}

func (s *service) Close() {
	if err := s.history.Close(); err != nil {
		s.log.Error().Err(err).Msg("failed to close history store")
	}
}

func buildService(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*service, error) {
	health := api.NewHealthChecker(version)

	gw, err := buildGateway(cfg, log, health)
	if err != nil {
		return nil, err
	}

	pot, err := escrow.New(cfg.PrizeAmount(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to create escrow: %w", err)
	}

	store, err := history.Open(cfg.HistoryPath, log)
	if err != nil {
		return nil, err
	}
	health.Register("history", func(context.Context) error {
		_, err := store.LastRound()
		return err
	})

	last, err := store.LastRound()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to read last archived round: %w", err)
	}

	rec := metrics.New()
	a, err := auction.New(ctx, cfg.OwnerAddress(), cfg.DurationHours, gw,
		auction.WithFirstRound(last+1),
		auction.WithLogger(log),
		auction.WithSecurityZone(core.SecurityZone(cfg.SecurityZone)),
		auction.WithTreasury(pot),
		auction.WithArchive(store),
		auction.WithRecorder(rec),
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}

	svc := &service{gateway: gw, auction: a, escrow: pot, history: store, log: log}
	if err := svc.subscribe(ctx, gw, cfg); err != nil {
		_ = store.Close()
		return nil, err
	}

	svc.api = api.New(a,
		api.WithHistory(store),
		api.WithDecryptions(gw),
		api.WithEscrow(pot),
		api.WithMetrics(rec),
		api.WithHealthChecker(health),
		api.WithLogger(log),
	)
	return svc, nil
}

func buildGateway(cfg *config.Config, log zerolog.Logger, health *api.HealthChecker) (auction.Gateway, error) {
	cp := cfg.Coprocessor
	switch cp.Mode {
	case config.ModeVsock:
		opts := []enclave.ClientOption{
			enclave.WithTimeout(cp.Timeout()),
			enclave.WithClientLogger(log),
		}
		if len(cp.PCRSets) > 0 {
			opts = append(opts, enclave.WithAttestationVerifier(validation.NewVerifier(cp.PCRSets)))
		}
		client := enclave.NewClient(enclave.VsockDialer(cp.CID, cp.Port), opts...)
		health.Register("coprocessor", client.Ping)
		log.Info().Uint32("cid", cp.CID).Uint32("port", cp.Port).Int("pcr_sets", len(cp.PCRSets)).Msg("using vsock co-processor")
		return client, nil

	case config.ModeMemory:
		key, err := gateway.LoadSigningKey(cp.SigningKeyPath)
		if err != nil {
			return nil, err
		}
		opts := []gateway.MemoryOption{gateway.WithLogger(log)}
		if cp.AutoResolve {
			opts = append(opts, gateway.WithAutoResolve())
		}
		mem, err := gateway.NewMemory(key, cfg.ChainID, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process co-processor: %w", err)
		}
		log.Warn().Msg("using in-process co-processor; bid amounts are held in this process")
		return mem, nil
	}
	return nil, fmt.Errorf("unknown coprocessor mode %q", cp.Mode)
}

// subscribe attaches the service's event handlers. With the in-process
// co-processor a claim's decryption is resolved and delivered as soon as it is
// requested, standing in for the oracle callback.
func (s *service) subscribe(ctx context.Context, gw auction.Gateway, cfg *config.Config) error {
	err := s.auction.Subscribe(auction.TopicClaimSettled, func(e auction.ClaimSettled) {
		s.log.Info().
			Uint64("round", e.Round).
			Str("winner", e.Winner.Hex()).
			Str("prize", e.Prize.String()).
			Str("pool", s.escrow.Pool().String()).
			Msg("prize pool after settlement")
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	mem, ok := gw.(*gateway.Memory)
	if !ok || cfg.Coprocessor.AutoResolve {
		return nil
	}
	err = s.auction.SubscribeAsync(auction.TopicClaimRequested, func(e auction.ClaimRequested) {
		if _, err := mem.Resolve(e.RequestID); err != nil {
			s.log.Error().Err(err).Str("request_id", e.RequestID).Msg("failed to resolve decryption")
			return
		}
		_, err := s.auction.DeliverDecryption(ctx, e.RequestID)
		if err != nil && !errors.Is(err, core.ErrAlreadyClaimed) {
			s.log.Error().Err(err).Str("request_id", e.RequestID).Msg("failed to deliver decryption")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}
