package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"sdhcpd/internal/config"
	"sdhcpd/internal/lease"
	"sdhcpd/internal/ops"
	sdhcpotel "sdhcpd/internal/otel"
	"sdhcpd/internal/pool"
	"sdhcpd/internal/server"
	"sdhcpd/internal/store"
	"sdhcpd/pkg/bus"
)

const serviceName = "sdhcpd"

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           serviceName,
		Short:         "SDHCP address-assignment server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newCheckConfigCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sdhcpd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func newCheckConfigCommand() *cobra.Command {
	var subnetsFile string

	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the subnet declaration file and print the resolved pools",
		RunE: func(cmd *cobra.Command, args []string) error {
			subnets, defaultIdx, err := config.LoadSubnets(subnetsFile)
			if err != nil {
				return err
			}
			for i, sub := range subnets {
				marker := " "
				if i == defaultIdx {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s) pool [%d, %d]\n",
					marker, sub, sub.Base.ColonHex(), sub.PoolStart, sub.PoolEnd)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&subnetsFile, "subnets-file", "subnets.yaml", "Path to the subnet declaration file")
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the SDHCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdownTracing, err := sdhcpotel.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	subnets, defaultIdx, err := config.LoadSubnets(cfg.SubnetsFile)
	if err != nil {
		return fmt.Errorf("load subnets: %w", err)
	}

	table := lease.NewTable(subnets)
	p, err := pool.New(subnets, defaultIdx, table)
	if err != nil {
		return fmt.Errorf("build pool: %w", err)
	}

	var engineStore server.Store
	if cfg.DBDSN != "" {
		st, err := store.Open(ctx, cfg.DBDSN)
		if err != nil {
			return fmt.Errorf("open lease store: %w", err)
		}
		defer func() {
			if err := st.Close(); err != nil {
				log.Error().Err(err).Msg("close lease store")
			}
		}()
		persisted, err := st.LoadActive(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("load persisted leases: %w", err)
		}
		restored := table.Prime(persisted)
		log.Info().Int("restored", restored).Msg("restored committed leases from store")
		engineStore = st
	}

	registry := prometheus.NewRegistry()
	metrics := server.NewMetrics(registry)

	serverCfg := server.Config{
		ServerID:            cfg.ServerID,
		SubjectPrefix:       cfg.SubjectPrefix,
		LeaseTime:           cfg.LeaseTime,
		MaxLeaseTime:        cfg.MaxLeaseTime,
		ReservationTTL:      cfg.ReservationTTL,
		SweepInterval:       cfg.SweepInterval,
		DefaultPrefixLength: cfg.DefaultPrefixLength,
	}

	engine, err := server.NewEngine(serverCfg, p, table, engineStore, metrics, log.Logger)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	b, err := bus.New(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer b.Close()

	srv, err := server.New(serverCfg, engine, b, metrics, log.Logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			log.Error().Err(err).Msg("close server")
		}
	}()

	errCh := make(chan error, 2)
	go func() {
		if err := engine.Run(ctx); err != nil {
			errCh <- fmt.Errorf("sweeper: %w", err)
		}
	}()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	var ready atomic.Bool
	ready.Store(true)

	opsServer := &http.Server{
		Addr:    cfg.OpsAddr,
		Handler: ops.Router(table, subnets, registry, &ready),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("ops shutdown")
		}
	}()
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ops: %w", err)
		}
	}()

	log.Info().
		Str("server_id", cfg.ServerID).
		Int("subnets", len(subnets)).
		Int("port", cfg.Port).
		Str("ops_addr", cfg.OpsAddr).
		Msg("sdhcpd running")
	for _, sub := range subnets {
		log.Info().Stringer("subnet", sub).Uint64("pool_start", sub.PoolStart).Uint64("pool_end", sub.PoolEnd).Msg("serving subnet")
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}
