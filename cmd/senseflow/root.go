package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ghalamif/SenseFlow/pkg/senseflow"
)

const envPrefix = "SENSEFLOW"

// Keys shared by flags and SENSEFLOW_* environment variables.
const (
	keyConfig  = "config"
	keyLogLvl  = "log-level"
	keyListen  = "listen"
	keyMetrics = "metrics-addr"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "senseflow",
		Short:         "SenseFlow streams sensor readings to observing subscribers",
		Long:          "senseflow runs the sensor streaming runtime, validates its configuration, watches its metrics and observes streams over UDP.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.String(keyConfig, "", "Path to the YAML configuration file (defaults apply when empty)")
	flags.String(keyLogLvl, "", "Override log.level (debug, info, warn, error)")
	_ = v.BindPFlag(keyConfig, flags.Lookup(keyConfig))
	_ = v.BindPFlag(keyLogLvl, flags.Lookup(keyLogLvl))

	rootCmd.AddCommand(
		newRunCmd(v),
		newValidateCmd(v),
		newStatsCmd(),
		newObserveCmd(),
	)
	return rootCmd
}

// loadConfig reads the file named by the config key and layers flag and
// environment overrides on top of it.
func loadConfig(v *viper.Viper) (*senseflow.Config, error) {
	var (
		cfg *senseflow.Config
		err error
	)
	if path := v.GetString(keyConfig); path != "" {
		if cfg, err = senseflow.LoadConfig(path); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = senseflow.DefaultConfig()
	}

	if lvl := v.GetString(keyLogLvl); lvl != "" {
		cfg.Log.Level = lvl
	}
	if addr := v.GetString(keyListen); addr != "" {
		cfg.Transport.UDP.Listen = addr
	}
	if addr := v.GetString(keyMetrics); addr != "" {
		cfg.Metrics.Addr = addr
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}
