package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newValidateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file without starting the runtime",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			name := v.GetString(keyConfig)
			if name == "" {
				name = "defaults"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config %s looks good: source=%s transport=%s sensors=%d\n",
				name, cfg.Source.Kind, cfg.Transport.Kind, len(cfg.Streaming.Sensors))
			return nil
		},
	}
}
