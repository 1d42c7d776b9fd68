package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bitfsorg/libpdv-go/config"
	"github.com/bitfsorg/libpdv-go/logging"
	"github.com/bitfsorg/libpdv-go/vault"
)

// passwordEnv supplies the account password non-interactively.
const passwordEnv = "PDVAULT_PASSWORD"

// app carries the state shared by every subcommand.
type app struct {
	dataDir  string
	logLevel string

	cfg    config.Config
	logger *slog.Logger
	close  func() error
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "pdvault",
		Short: "pdvault - administer a personal data vault",
		Long: `pdvault manages a local personal data vault.

Examples:
  # Write a default config file
  pdvault config init

  # Create an account (the password is read from PDVAULT_PASSWORD or stdin)
  pdvault account create alice

  # Verify every ledger chain
  pdvault ledger verify`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.close != nil {
				return a.close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.dataDir, "datadir", config.DefaultDataDir(), "vault data directory")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(newConfigCmd(a), newAccountCmd(a), newRoleCmd(a), newLedgerCmd(a))
	return root
}

// load reads the config file in the data directory, falling back to
// defaults when none exists, and builds the logger.
func (a *app) load() error {
	cfg, err := config.LoadConfig(config.ConfigPath(a.dataDir))
	switch {
	case errors.Is(err, config.ErrConfigNotFound):
		cfg = config.DefaultConfig()
	case err != nil:
		return err
	}
	cfg.DataDir = a.dataDir
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	a.cfg = cfg

	logger, closeLog, err := logging.Open(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	a.logger = logger
	a.close = closeLog
	return nil
}

// openVault opens the vault database. The caller closes it.
func (a *app) openVault() (*vault.Vault, error) {
	return vault.Open(a.cfg, a.logger)
}

// readPassword returns the password from the environment, or reads one line
// from in.
func readPassword(in io.Reader, out io.Writer) (string, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}
	fmt.Fprint(out, "Password: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
