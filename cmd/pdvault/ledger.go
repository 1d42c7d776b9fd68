package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bitfsorg/libpdv-go/ledger"
)

func newLedgerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Audit the ledger chains",
	}

	var (
		roleFlag string
		asJSON   bool
	)
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chain and signatures of every chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			roleID := uuid.Nil
			if roleFlag != "" {
				id, err := uuid.Parse(roleFlag)
				if err != nil {
					return fmt.Errorf("invalid --role: %w", err)
				}
				roleID = id
			}
			v, err := a.openVault()
			if err != nil {
				return err
			}
			defer v.Close()

			reports, err := v.VerifyLedgers(cmd.Context(), roleID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				ordered := make([]*ledger.Report, 0, len(reports))
				for _, cat := range ledger.Categories {
					ordered = append(ordered, reports[cat])
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(ordered)
			}

			failed := false
			for _, cat := range ledger.Categories {
				r := reports[cat]
				status := "OK"
				if !r.OK() {
					status = "BROKEN"
					failed = true
				}
				fmt.Fprintf(out, "%-9s %-6s entries=%d hash=%d previous=%d unsigned=%d badsig=%d signed-by-role=%d\n",
					cat, status, r.Entries, r.HashMismatches, r.PreviousHashMismatches,
					r.SignaturesMissing, r.SignaturesInvalid, r.RoleSignedEntries)
				for _, viol := range r.Violations {
					fmt.Fprintf(out, "  #%d %s %s\n", viol.Index, viol.EntryID, viol.Kind)
				}
			}
			if failed {
				return fmt.Errorf("ledger verification failed")
			}
			return nil
		},
	}
	verify.Flags().StringVar(&roleFlag, "role", "", "count entries signed by this role")
	verify.Flags().BoolVar(&asJSON, "json", false, "print the reports as JSON")

	list := &cobra.Command{
		Use:   "list <auth|key|business>",
		Short: "List the entries of one chain in chain order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := ledger.ParseCategory(args[0])
			if err != nil {
				return err
			}
			v, err := a.openVault()
			if err != nil {
				return err
			}
			defer v.Close()

			entries, err := v.LedgerEntries(cmd.Context(), cat)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tEVENT\tACTOR\tSIGNED\tPAYLOAD")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n",
					e.Timestamp.Format(time.RFC3339), e.EventType, e.Actor, e.Signed(), e.Payload)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(verify, list)
	return cmd
}
