package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/stompctl/internal/client"
	"github.com/danmuck/stompctl/internal/stomp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func sendCmd(flags *rootFlags) *cobra.Command {
	var (
		destination string
		body        string
		contentType string
		receipt     bool
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Connect, publish one message and disconnect",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if destination == "" {
				destination = cfg.Destination
			}
			if destination == "" {
				return errors.New("send: --destination is required")
			}
			payload := []byte(body)
			if body == "-" {
				payload, err = io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			m := client.NewManager(cfg.ClientConfig())
			h, err := m.Connect(ctx)
			if err != nil {
				return fmt.Errorf("connect %s: %w", cfg.Endpoint, err)
			}
			sendErr := m.Send(ctx, destination, contentType, payload, receipt)
			if err := m.Disconnect(ctx, h); err != nil && !errors.Is(err, stomp.ErrUngracefulClose) {
				log.Warn().Err(err).Msg("disconnect")
			}
			if sendErr != nil {
				return fmt.Errorf("send %s: %w", destination, sendErr)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d bytes to %s\n", len(payload), destination)
			return nil
		},
	}

	cmd.Flags().StringVarP(&destination, "destination", "d", "", "destination to send to")
	cmd.Flags().StringVarP(&body, "body", "b", "", `message body ("-" reads stdin)`)
	cmd.Flags().StringVar(&contentType, "content-type", "text/plain", "content-type header")
	cmd.Flags().BoolVar(&receipt, "receipt", true, "wait for the broker's receipt")
	return cmd
}
