package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ghalamif/SenseFlow/pkg/senseflow"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the streaming runtime",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			flow, err := senseflow.ConfFromConfig(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := flow.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().String(keyListen, "", "Override transport.udp.listen")
	cmd.Flags().String(keyMetrics, "", "Override metrics.addr")
	_ = v.BindPFlag(keyListen, cmd.Flags().Lookup(keyListen))
	_ = v.BindPFlag(keyMetrics, cmd.Flags().Lookup(keyMetrics))
	return cmd
}
