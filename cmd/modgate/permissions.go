package main

import (
	"github.com/spf13/cobra"

	"github.com/katbot/modgate/core/permission"
)

func newPermissionsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Inspect the operation permission gate",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List permission entries and their dispositions",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := permission.NewGate().List()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}

	check := &cobra.Command{
		Use:   "check <operation>",
		Short: "Check whether an operation would be permitted",
		Long: `Check resolves one operation against the gate. Unknown operations are
denied; the exit code is 2 when the operation is not permitted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decision := permission.NewGate().Check(args[0])
			if err := printJSON(cmd.OutOrStdout(), decision); err != nil {
				return err
			}
			if !decision.Allowed {
				return &exitError{code: exitBlocked, msg: "operation denied"}
			}
			return nil
		},
	}

	cmd.AddCommand(list, check)
	return cmd
}
