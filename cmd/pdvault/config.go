package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bitfsorg/libpdv-go/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the vault configuration",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file to the data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ConfigPath(a.dataDir)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			cfg := config.DefaultConfig()
			cfg.DataDir = a.dataDir
			if err := config.ValidateConfig(cfg); err != nil {
				return err
			}
			if err := config.SaveConfig(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.cfg
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "datadir    = %s\n", c.DataDir)
			fmt.Fprintf(out, "listen     = %s\n", c.ListenAddr)
			fmt.Fprintf(out, "loglevel   = %s\n", c.LogLevel)
			fmt.Fprintf(out, "logfile    = %s\n", c.LogFile)
			fmt.Fprintf(out, "sessionttl = %s\n", c.SessionTTL)
			fmt.Fprintf(out, "keyringttl = %s\n", c.KeyRingTTL)
			fmt.Fprintf(out, "encryption = %s\n", c.EncryptionAlg)
			fmt.Fprintf(out, "signledger = %t\n", c.SignLedger)
			return nil
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
