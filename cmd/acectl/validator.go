package main

import (
	"github.com/spf13/cobra"
)

func newValidatorCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "validator",
		Aliases: []string{"validators"},
		Short:   "证明类型与校验器绑定",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "列出全部绑定",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			list, err := c.Validators(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}, &cobra.Command{
		Use:   "get <proof-type>",
		Short: "查看某个证明类型的校验器",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pt, err := parseProofType(args[0])
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			v, err := c.Validator(ctx, pt)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), v)
		},
	}, &cobra.Command{
		Use:   "set <proof-type> <name>",
		Short: "把目录中的校验器绑定到证明类型 (仅所有者)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pt, err := parseProofType(args[0])
			if err != nil {
				return err
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			v, err := c.SetValidator(ctx, pt, args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), v)
		},
	})
	return cmd
}
