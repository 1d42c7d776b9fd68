package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAccountCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage vault accounts",
	}

	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an account and print its recovery mnemonic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			v, err := a.openVault()
			if err != nil {
				return err
			}
			defer v.Close()

			res, err := v.CreateAccount(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Account:     %s\n", res.Account.ID)
			fmt.Fprintf(out, "Master role: %s\n", res.MasterRole.ID)
			fmt.Fprintf(out, "Mnemonic:    %s\n", res.Mnemonic)
			fmt.Fprintln(out, "Write the mnemonic down. It is the only way to recover the account without the password.")
			return nil
		},
	}

	cmd.AddCommand(create)
	return cmd
}
