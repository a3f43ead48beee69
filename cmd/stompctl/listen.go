package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/stompctl/internal/admin"
	"github.com/danmuck/stompctl/internal/client"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func listenCmd(flags *rootFlags) *cobra.Command {
	var destination string
	var adminAddr string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect, subscribe and log every message until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if destination != "" {
				cfg.Destination = destination
			}
			if adminAddr != "" {
				cfg.Admin.Addr = adminAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m := client.NewManager(cfg.ClientConfig())
			m.RegisterListener(client.NewLogListener(log.Logger))

			if cfg.Admin.Addr != "" {
				srv := admin.New(admin.Config{
					Addr:        cfg.Admin.Addr,
					CorsOrigins: cfg.Admin.CorsOrigins,
					Version:     version,
					Token:       cfg.Admin.Token,
				}, m)
				go func() {
					if err := srv.Serve(ctx); err != nil {
						log.Error().Err(err).Msg("admin server stopped")
					}
				}()
			}

			h, err := m.Connect(ctx)
			if err != nil {
				return fmt.Errorf("connect %s: %w", cfg.Endpoint, err)
			}
			if cfg.Destination != "" {
				id, err := m.Subscribe(cfg.Destination)
				if err != nil {
					_ = m.Disconnect(context.Background(), h)
					return fmt.Errorf("subscribe %s: %w", cfg.Destination, err)
				}
				log.Info().Str("destination", cfg.Destination).Str("subscription", id).Msg("listening")
			}

			select {
			case <-ctx.Done():
			case <-h.Done():
				return fmt.Errorf("connection lost: %w", h.Err())
			}

			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.Disconnect(closeCtx, h); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				log.Warn().Err(err).Msg("disconnect")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&destination, "destination", "d", "", "destination to subscribe to (overrides config)")
	cmd.Flags().StringVar(&adminAddr, "admin-addr", "", "admin HTTP listen address (overrides config)")
	return cmd
}
