package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRoleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Inspect roles",
	}

	list := &cobra.Command{
		Use:   "list <account>",
		Short: "List the roles an account can reach",
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

			ctx := cmd.Context()
			s, _, err := v.Login(ctx, args[0], password)
			if err != nil {
				return err
			}
			defer v.Logout(ctx, s)

			roles, err := v.ListRoles(ctx, s)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tACCESS\tNICK")
			for _, r := range roles {
				access := "read"
				if r.CanWrite {
					access = "write"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Role.ID, r.Role.RoleType, access, r.Nick)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(list)
	return cmd
}
